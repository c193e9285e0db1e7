package jobs

import "github.com/meggy-ai/bruno-core-sub000/pkg/storage"

// ExtractFactsPayload carries a user/assistant message pair for fact
// extraction.
type ExtractFactsPayload struct {
	ConversationID int64
	Messages       []*storage.Message
}

// CompressPayload asks for a full compression pass over a conversation.
type CompressPayload struct {
	ConversationID int64
	Mode           string
}

// PromotePayload carries short-term entries to promote into long-term
// memory.
type PromotePayload struct {
	Entries     []*storage.ShortTermMemory
	Consolidate bool
}
