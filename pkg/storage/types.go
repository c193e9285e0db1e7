package storage

import "time"

// Tier selects which memory table an operation targets.
type Tier string

const (
	TierShortTerm Tier = "short_term_memory"
	TierLongTerm  Tier = "long_term_memory"
)

// Conversation is one session's row in the conversations table.
type Conversation struct {
	ID                int64
	SessionID         string
	StartedAt         time.Time
	EndedAt           *time.Time
	Title             string
	MessageCount      int
	CompressedSummary string
	IsActive          bool
	Tags              []string
}

// Message is one turn in a conversation.
type Message struct {
	ID             int64
	ConversationID int64
	Role           string
	Content        string
	Timestamp      time.Time
	SequenceNumber int
	Intent         string
	Entities       map[string]any
}

// ShortTermMemory is a candidate fact with decaying relevance.
type ShortTermMemory struct {
	ID              int64
	Fact            string
	SourceMessageID *int64
	Confidence      float64
	Category        string
	CreatedAt       time.Time
	LastAccessed    time.Time
	AccessCount     int
	RelevanceScore  float64
}

// LongTermMemory is a durable fact, unique by fact text.
type LongTermMemory struct {
	ID                   int64
	Fact                 string
	Category             string
	Confidence           float64
	Importance           float64
	FirstLearned         time.Time
	LastUpdated          time.Time
	LastAccessed         time.Time
	AccessCount          int
	SourceConversationID *int64
	Metadata             map[string]any
}

// UserProfile is the singleton profile row.
type UserProfile struct {
	Name              string
	PreferredName     string
	Preferences       map[string]any
	MusicPreferences  map[string]any
	ScheduleInfo      map[string]any
	PersonalityNotes  map[string]any
	LastNamePrompt    *time.Time
	ConversationCount int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ConversationUpdate holds optional conversation field updates. Nil fields
// are left untouched.
type ConversationUpdate struct {
	Title             *string
	CompressedSummary *string
	MessageCount      *int
}

// ProfileUpdate holds optional profile field updates. Nil fields are left
// untouched.
type ProfileUpdate struct {
	Name             *string
	PreferredName    *string
	Preferences      map[string]any
	MusicPreferences map[string]any
	ScheduleInfo     map[string]any
	PersonalityNotes map[string]any
}

// SearchFilter narrows a conversation search. Zero values mean no filter.
type SearchFilter struct {
	Query    string
	Tags     []string
	DateFrom time.Time
	DateTo   time.Time
	Limit    int
}

// Statistics is a snapshot of store row counts.
type Statistics struct {
	TotalConversations  int
	ActiveConversations int
	TotalMessages       int
	ShortTermMemories   int
	LongTermMemories    int
}
