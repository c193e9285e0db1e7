// Package compress turns raw conversation history into compact memory via
// the generation collaborator: summaries, extracted facts, consolidated
// long-term entries and profile data. Generation failures always degrade to
// a safe fallback instead of propagating.
package compress

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meggy-ai/bruno-core-sub000/pkg/llm"
	"github.com/meggy-ai/bruno-core-sub000/pkg/logger"
	"github.com/meggy-ai/bruno-core-sub000/pkg/storage"
)

// SummaryMode selects the summary length.
type SummaryMode string

const (
	ModeQuick    SummaryMode = "quick"
	ModeDetailed SummaryMode = "detailed"
)

// Fact is one extracted user fact.
type Fact struct {
	Fact       string  `json:"fact"`
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
}

// Consolidated is the merge of several short-term entries.
type Consolidated struct {
	Fact       string  `json:"fact"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Profile is user profile data extracted from a conversation.
type Profile struct {
	Name          string            `json:"name"`
	Preferences   map[string]string `json:"preferences"`
	Habits        []string          `json:"habits"`
	Schedule      map[string]string `json:"schedule"`
	PersonalNotes []string          `json:"personal_notes"`
}

// Config configures a Compressor.
type Config struct {
	Store *storage.Store
	// Generator produces summaries and extractions.
	Generator llm.Generator
	// Threshold is the lifetime message count that makes ShouldCompress
	// true. Defaults to 50.
	Threshold int
	Logger    *slog.Logger
}

// Compressor performs LLM-backed conversation compression.
type Compressor struct {
	store     *storage.Store
	gen       llm.Generator
	threshold int
	log       *slog.Logger
}

// New builds a Compressor.
func New(cfg Config) *Compressor {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 50
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Compressor{
		store:     cfg.Store,
		gen:       cfg.Generator,
		threshold: threshold,
		log:       log,
	}
}

func formatConversation(messages []*storage.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		lines = append(lines, role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// Summarize produces a summary of the messages. On generation failure it
// returns a placeholder noting the message count so callers always get
// usable text.
func (c *Compressor) Summarize(ctx context.Context, messages []*storage.Message, mode SummaryMode) string {
	if len(messages) == 0 {
		return "No conversation to summarize."
	}

	prompt := detailedSummaryPrompt
	fallback := fmt.Sprintf("Detailed summary of %d messages (compression failed)", len(messages))
	if mode == ModeQuick {
		prompt = quickSummaryPrompt
		fallback = fmt.Sprintf("Summary of %d messages (compression failed)", len(messages))
	}

	reply, err := c.gen.Generate(ctx, fmt.Sprintf(prompt, formatConversation(messages)), false)
	if err != nil {
		c.log.Error("summary generation failed", "mode", mode, "error", err)
		return fallback
	}
	return strings.TrimSpace(reply)
}

// ExtractFacts pulls durable user facts out of the messages. Failures and
// unparsable replies yield an empty list.
func (c *Compressor) ExtractFacts(ctx context.Context, messages []*storage.Message) []Fact {
	if len(messages) == 0 {
		return nil
	}

	reply, err := c.gen.Generate(ctx, fmt.Sprintf(factExtractionPrompt, formatConversation(messages)), false)
	if err != nil {
		c.log.Error("fact extraction failed", "error", err)
		return nil
	}

	var facts []Fact
	if err := decodeJSON(reply, &facts); err != nil {
		c.log.Warn("no valid facts in extraction reply", "error", err)
		return nil
	}

	c.log.Debug("extracted facts", "count", len(facts))
	return facts
}

// ConsolidateMemories merges two or more short-term entries into a single
// fact. Returns nil when there are fewer than two entries or the model's
// reply is unusable.
func (c *Compressor) ConsolidateMemories(ctx context.Context, entries []*storage.ShortTermMemory) *Consolidated {
	if len(entries) < 2 {
		return nil
	}

	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s (category: %s)\n", i+1, e.Fact, e.Category)
	}

	reply, err := c.gen.Generate(ctx, fmt.Sprintf(consolidationPrompt, b.String()), false)
	if err != nil {
		c.log.Error("consolidation failed", "error", err)
		return nil
	}

	var out Consolidated
	if err := decodeJSON(reply, &out); err != nil || out.Fact == "" {
		c.log.Warn("no valid consolidation in reply")
		return nil
	}
	return &out
}

// CompressConversation summarizes a conversation, stores the summary on the
// conversation row, and files extracted facts into short-term memory.
func (c *Compressor) CompressConversation(ctx context.Context, conversationID int64, mode SummaryMode) error {
	conv, err := c.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}

	messages, err := c.store.Messages(ctx, conversationID, 0, 0)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}
	if len(messages) == 0 {
		c.log.Warn("no messages to compress", "conversation", conversationID)
		return nil
	}

	c.log.Info("compressing conversation",
		"conversation", conversationID, "messages", len(messages), "mode", mode)

	summary := c.Summarize(ctx, messages, mode)
	facts := c.ExtractFacts(ctx, messages)

	if err := c.store.UpdateConversation(ctx, conv.SessionID, storage.ConversationUpdate{
		CompressedSummary: &summary,
	}); err != nil {
		return fmt.Errorf("storing summary: %w", err)
	}

	for _, f := range facts {
		if f.Fact == "" {
			continue
		}
		category := f.Category
		if category == "" {
			category = "general"
		}
		confidence := f.Importance
		if confidence <= 0 {
			confidence = 0.5
		}
		if _, err := c.store.AddShortTermMemory(ctx, f.Fact, category, confidence, nil); err != nil {
			c.log.Warn("storing extracted fact failed", "error", err)
		}
	}

	c.log.Info("compression complete",
		"conversation", conversationID, "summary_len", len(summary), "facts", len(facts))
	return nil
}

// PromoteToLTM moves short-term entries into long-term memory. With
// consolidate true the entries are first merged into a single fact; when
// that fails each entry is promoted individually, carrying its relevance as
// importance. Promoted entries are removed from short-term memory. Returns
// the number of long-term entries written.
func (c *Compressor) PromoteToLTM(ctx context.Context, entries []*storage.ShortTermMemory, consolidate bool) int {
	if len(entries) == 0 {
		return 0
	}

	c.log.Info("promoting short-term entries", "count", len(entries), "consolidate", consolidate)

	if consolidate && len(entries) > 1 {
		if merged := c.ConsolidateMemories(ctx, entries); merged != nil {
			_, err := c.store.AddLongTermMemory(ctx, &storage.LongTermMemory{
				Fact:       merged.Fact,
				Category:   merged.Category,
				Importance: merged.Confidence,
				Confidence: merged.Confidence,
			})
			if err != nil {
				c.log.Error("storing consolidated memory failed", "error", err)
				return 0
			}
			for _, e := range entries {
				if err := c.store.DeleteShortTermMemory(ctx, e.ID); err != nil {
					c.log.Warn("removing promoted entry failed", "id", e.ID, "error", err)
				}
			}
			return 1
		}
		// Fall through to individual promotion.
	}

	promoted := 0
	for _, e := range entries {
		importance := e.RelevanceScore
		if importance <= 0 {
			importance = 0.7
		}
		confidence := e.Confidence
		if confidence <= 0 {
			confidence = 0.8
		}
		category := e.Category
		if category == "" {
			category = "general"
		}

		_, err := c.store.AddLongTermMemory(ctx, &storage.LongTermMemory{
			Fact:       e.Fact,
			Category:   category,
			Importance: importance,
			Confidence: confidence,
		})
		if err != nil {
			c.log.Warn("promoting entry failed", "id", e.ID, "error", err)
			continue
		}
		promoted++
		if err := c.store.DeleteShortTermMemory(ctx, e.ID); err != nil {
			c.log.Warn("removing promoted entry failed", "id", e.ID, "error", err)
		}
	}

	c.log.Info("promotion complete", "promoted", promoted)
	return promoted
}

// CompressionOutcome reports what a CompressAndPromote pass did.
type CompressionOutcome struct {
	Compressed    bool
	SummaryLength int
	Promoted      int
}

// CompressAndPromote runs the full maintenance pass for one conversation:
// when the threshold is crossed it compresses with a detailed summary, then
// promotes the given short-term entries into long-term memory. Below the
// threshold nothing happens, including promotion.
func (c *Compressor) CompressAndPromote(ctx context.Context, conversationID int64, entries []*storage.ShortTermMemory, consolidate bool) CompressionOutcome {
	var out CompressionOutcome

	if !c.ShouldCompress(ctx, conversationID) {
		c.log.Debug("compression not needed", "conversation", conversationID)
		return out
	}

	if err := c.CompressConversation(ctx, conversationID, ModeDetailed); err != nil {
		c.log.Warn("compression failed", "conversation", conversationID, "error", err)
	} else {
		out.Compressed = true
		if conv, err := c.store.GetConversationByID(ctx, conversationID); err == nil {
			out.SummaryLength = len(conv.CompressedSummary)
		}
	}

	if len(entries) > 0 {
		out.Promoted = c.PromoteToLTM(ctx, entries, consolidate)
	}

	c.log.Info("compress and promote complete",
		"conversation", conversationID,
		"compressed", out.Compressed, "promoted", out.Promoted)
	return out
}

// ShouldCompress reports whether the conversation's lifetime message count
// has reached the compression threshold.
func (c *Compressor) ShouldCompress(ctx context.Context, conversationID int64) bool {
	count, err := c.store.MessageCount(ctx, conversationID)
	if err != nil {
		c.log.Error("message count failed", "conversation", conversationID, "error", err)
		return false
	}
	return count >= c.threshold
}

// Threshold returns the configured compression threshold.
func (c *Compressor) Threshold() int {
	return c.threshold
}

// ExtractProfile pulls explicitly-stated profile information out of the
// messages. Failures yield an empty profile.
func (c *Compressor) ExtractProfile(ctx context.Context, messages []*storage.Message) *Profile {
	empty := &Profile{
		Preferences: map[string]string{},
		Schedule:    map[string]string{},
	}
	if len(messages) == 0 {
		return empty
	}

	reply, err := c.gen.Generate(ctx, fmt.Sprintf(profileExtractionPrompt, formatConversation(messages)), false)
	if err != nil {
		c.log.Error("profile extraction failed", "error", err)
		return empty
	}

	var p Profile
	if err := decodeJSON(reply, &p); err != nil {
		c.log.Warn("no valid profile in reply", "error", err)
		return empty
	}
	if p.Preferences == nil {
		p.Preferences = map[string]string{}
	}
	if p.Schedule == nil {
		p.Schedule = map[string]string{}
	}
	return &p
}
