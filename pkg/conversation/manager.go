// Package conversation owns the session lifecycle: a rolling message
// buffer, durable message persistence, and the triggering logic that hands
// enrichment work (fact extraction, compression) to the background job
// pool.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meggy-ai/bruno-core-sub000/pkg/compress"
	"github.com/meggy-ai/bruno-core-sub000/pkg/jobs"
	"github.com/meggy-ai/bruno-core-sub000/pkg/logger"
	"github.com/meggy-ai/bruno-core-sub000/pkg/retrieval"
	"github.com/meggy-ai/bruno-core-sub000/pkg/storage"
)

const (
	defaultBufferSize           = 20
	defaultCompressionThreshold = 50
	defaultSTMRelevance         = 0.7
	defaultDeferWindow          = 30 * time.Second

	contextMaxShortTerm = 5
	contextMaxLongTerm  = 3
)

// Config configures a Manager. Store is required; Compressor and Pool are
// optional, without them the manager only persists and buffers.
type Config struct {
	Store      *storage.Store
	Compressor *compress.Compressor
	Pool       *jobs.Pool
	// Cache, when set, is invalidated after background fact writes.
	Cache *retrieval.Cache

	// BufferSize is the rolling window length (default 20).
	BufferSize int
	// CompressionThreshold is the message count that triggers a
	// compression job (default 50).
	CompressionThreshold int
	// DeferWindow postpones compression while the user was active within
	// it (default 30s).
	DeferWindow time.Duration
	// DisableAutoSave keeps messages in the rolling buffer only, skipping
	// per-message persistence. Session lifecycle is still recorded.
	DisableAutoSave bool

	Logger *slog.Logger
}

// ConversationContext is the assembled context for one generation turn.
type ConversationContext struct {
	ConversationID int64
	SessionID      string
	MessageCount   int
	Messages       []*storage.Message
	ShortTerm      []*storage.ShortTermMemory
	LongTerm       []*storage.LongTermMemory
	Profile        *storage.UserProfile
}

// Statistics combines store-wide counts with current session state.
type Statistics struct {
	Store             storage.Statistics
	ConversationID    int64
	SessionID         string
	BufferSize        int
	TotalMessages     int
	CompressionNeeded bool
}

// Manager drives one conversation session at a time.
type Manager struct {
	store      *storage.Store
	compressor *compress.Compressor
	pool       *jobs.Pool
	cache      *retrieval.Cache
	log        *slog.Logger

	bufferSize  int
	threshold   int
	deferWindow time.Duration
	autoSave    bool

	mu             sync.Mutex
	conversationID int64
	sessionID      string
	buffer         []*storage.Message
	messageCount   int
	lastUserTurn   time.Time
	// lastCompressed is the message count at the last compression submit.
	// The next compression needs a full threshold of messages past it.
	lastCompressed int
	// compressionArmed re-arms after each submitted compression job so one
	// threshold crossing produces one job.
	compressionArmed bool
}

// NewManager builds a Manager and registers its job handlers on the pool.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("conversation manager requires a store")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = defaultCompressionThreshold
	}
	if cfg.DeferWindow <= 0 {
		cfg.DeferWindow = defaultDeferWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	m := &Manager{
		store:            cfg.Store,
		compressor:       cfg.Compressor,
		pool:             cfg.Pool,
		cache:            cfg.Cache,
		log:              cfg.Logger,
		bufferSize:       cfg.BufferSize,
		threshold:        cfg.CompressionThreshold,
		deferWindow:      cfg.DeferWindow,
		autoSave:         !cfg.DisableAutoSave,
		compressionArmed: true,
	}

	if m.pool != nil && m.compressor != nil {
		m.pool.Register(jobs.KindExtractFacts, m.handleExtractFacts)
		m.pool.Register(jobs.KindCompressConversation, m.handleCompression)
	}

	m.log.Debug("conversation manager initialized",
		"buffer_size", m.bufferSize, "compression_threshold", m.threshold)
	return m, nil
}

// StartConversation ends any active session and opens a new one. The
// profile's lifetime conversation count is bumped.
func (m *Manager) StartConversation(ctx context.Context, title string) (*storage.Conversation, error) {
	m.mu.Lock()
	active := m.conversationID
	m.mu.Unlock()
	if active != 0 {
		if err := m.EndConversation(ctx, ""); err != nil {
			m.log.Warn("ending previous conversation failed", "error", err)
		}
	}

	conv, err := m.store.CreateConversation(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("starting conversation: %w", err)
	}

	if title != "" {
		if err := m.store.UpdateConversation(ctx, conv.SessionID, storage.ConversationUpdate{Title: &title}); err != nil {
			m.log.Warn("setting conversation title failed", "error", err)
		}
		conv.Title = title
	}

	if err := m.store.IncrementConversationCount(ctx); err != nil {
		m.log.Warn("bumping conversation count failed", "error", err)
	}

	m.mu.Lock()
	m.conversationID = conv.ID
	m.sessionID = conv.SessionID
	m.buffer = nil
	m.messageCount = 0
	m.lastCompressed = 0
	m.compressionArmed = true
	m.mu.Unlock()

	m.log.Info("started conversation", "id", conv.ID, "session", conv.SessionID)
	return conv, nil
}

// ResumeConversation makes an existing conversation the active session and
// reloads its tail into the rolling buffer.
func (m *Manager) ResumeConversation(ctx context.Context, conversationID int64) error {
	conv, err := m.store.GetConversationByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("resuming conversation: %w", err)
	}

	m.mu.Lock()
	active := m.conversationID
	m.mu.Unlock()
	if active != 0 && active != conversationID {
		if err := m.EndConversation(ctx, ""); err != nil {
			m.log.Warn("ending previous conversation failed", "error", err)
		}
	}

	buffer, err := m.store.RecentMessages(ctx, conversationID, m.bufferSize)
	if err != nil {
		return fmt.Errorf("reloading message buffer: %w", err)
	}
	count, err := m.store.MessageCount(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("reloading message count: %w", err)
	}

	m.mu.Lock()
	m.conversationID = conv.ID
	m.sessionID = conv.SessionID
	m.buffer = buffer
	m.messageCount = count
	// A freshly resumed conversation earns a new threshold of messages
	// before compressing again.
	m.lastCompressed = count
	m.compressionArmed = true
	m.mu.Unlock()

	m.log.Info("resumed conversation",
		"id", conv.ID, "buffered", len(buffer), "total", count)
	return nil
}

// EndConversation closes the active session, optionally writing a summary.
func (m *Manager) EndConversation(ctx context.Context, summary string) error {
	m.mu.Lock()
	id := m.conversationID
	session := m.sessionID
	count := m.messageCount
	m.mu.Unlock()

	if id == 0 {
		return fmt.Errorf("no active conversation")
	}

	if summary != "" {
		if err := m.store.UpdateConversation(ctx, session, storage.ConversationUpdate{CompressedSummary: &summary}); err != nil {
			m.log.Warn("writing final summary failed", "error", err)
		}
	}
	if err := m.store.EndConversation(ctx, session); err != nil {
		return fmt.Errorf("ending conversation: %w", err)
	}

	m.mu.Lock()
	m.conversationID = 0
	m.sessionID = ""
	m.buffer = nil
	m.messageCount = 0
	m.lastCompressed = 0
	m.mu.Unlock()

	m.log.Info("ended conversation", "id", id, "messages", count)
	return nil
}

// AddMessage appends a message to the active conversation, starting one
// when none is active. An assistant turn completing a user/assistant pair
// queues a fact-extraction job; crossing the compression threshold queues a
// compression job unless the user was active within the defer window.
func (m *Manager) AddMessage(ctx context.Context, role, content, intent string, entities map[string]any) (int64, error) {
	m.mu.Lock()
	active := m.conversationID
	m.mu.Unlock()
	if active == 0 {
		if _, err := m.StartConversation(ctx, ""); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	conversationID := m.conversationID
	m.mu.Unlock()

	var id int64
	if m.autoSave {
		var err error
		id, err = m.store.AddMessage(ctx, conversationID, role, content, intent, entities)
		if err != nil {
			return 0, fmt.Errorf("adding message: %w", err)
		}
	}

	msg := &storage.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Intent:         intent,
		Entities:       entities,
		Timestamp:      time.Now(),
	}

	m.mu.Lock()
	m.buffer = append(m.buffer, msg)
	if len(m.buffer) > m.bufferSize {
		m.buffer = m.buffer[1:]
	}
	m.messageCount++
	if role == "user" {
		m.lastUserTurn = time.Now()
	}
	pair := m.trailingPair(role)
	shouldCompress, sinceUser := m.compressionDue()
	total := m.messageCount
	m.mu.Unlock()

	if pair != nil {
		m.submitExtraction(conversationID, pair)
	}
	if shouldCompress {
		m.submitCompression(conversationID, sinceUser)
	}

	m.log.Debug("added message", "role", role, "total", total)
	return id, nil
}

// trailingPair returns the last two buffered messages when they form a
// user/assistant pair ended by this assistant turn. Caller holds mu.
func (m *Manager) trailingPair(role string) []*storage.Message {
	if role != "assistant" || len(m.buffer) < 2 {
		return nil
	}
	last := m.buffer[len(m.buffer)-2:]
	if last[0].Role != "user" || last[1].Role != "assistant" {
		return nil
	}
	return []*storage.Message{last[0], last[1]}
}

// compressionDue reports whether a full threshold of messages has landed
// since the last compression and the trigger is armed. Caller holds mu.
func (m *Manager) compressionDue() (bool, time.Duration) {
	if !m.compressionArmed || m.messageCount-m.lastCompressed < m.threshold {
		return false, 0
	}
	return true, time.Since(m.lastUserTurn)
}

func (m *Manager) submitExtraction(conversationID int64, pair []*storage.Message) {
	if m.pool == nil || m.compressor == nil {
		return
	}

	err := m.pool.Submit(jobs.Job{
		Kind:     jobs.KindExtractFacts,
		Priority: jobs.PriorityHigh,
		Payload: jobs.ExtractFactsPayload{
			ConversationID: conversationID,
			Messages:       pair,
		},
	})
	if err != nil {
		m.log.Warn("fact extraction not queued", "error", err)
		return
	}
	m.log.Debug("fact extraction queued", "conversation", conversationID)
}

func (m *Manager) submitCompression(conversationID int64, sinceUser time.Duration) {
	if m.pool == nil || m.compressor == nil {
		return
	}

	if sinceUser < m.deferWindow {
		m.log.Info("compression deferred, user active",
			"since_user", sinceUser, "defer_window", m.deferWindow)
		return
	}

	err := m.pool.Submit(jobs.Job{
		Kind:     jobs.KindCompressConversation,
		Priority: jobs.PriorityNormal,
		Payload: jobs.CompressPayload{
			ConversationID: conversationID,
			Mode:           string(compress.ModeQuick),
		},
	})
	if err != nil {
		m.log.Warn("compression not queued", "error", err)
		return
	}

	m.mu.Lock()
	m.compressionArmed = false
	m.lastCompressed = m.messageCount
	count := m.messageCount
	m.mu.Unlock()
	m.log.Info("compression queued", "conversation", conversationID, "messages", count)
}

func (m *Manager) handleExtractFacts(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(jobs.ExtractFactsPayload)
	if !ok {
		return fmt.Errorf("extraction job carries %T, want jobs.ExtractFactsPayload", job.Payload)
	}

	facts := m.compressor.ExtractFacts(ctx, payload.Messages)
	if len(facts) == 0 {
		return nil
	}

	var source *int64
	for _, msg := range payload.Messages {
		// Unsaved messages carry no row ID to point at.
		if msg.Role == "user" && msg.ID != 0 {
			id := msg.ID
			source = &id
			break
		}
	}

	stored := 0
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
		if _, err := m.store.AddShortTermMemory(ctx, f.Fact, category, confidence, source); err != nil {
			m.log.Warn("storing extracted fact failed", "error", err)
			continue
		}
		stored++
	}

	if stored > 0 && m.cache != nil {
		m.cache.InvalidateShortTerm()
	}
	m.log.Debug("extraction job complete",
		"conversation", payload.ConversationID, "facts", stored)
	return nil
}

func (m *Manager) handleCompression(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(jobs.CompressPayload)
	if !ok {
		return fmt.Errorf("compression job carries %T, want jobs.CompressPayload", job.Payload)
	}

	mode := compress.SummaryMode(payload.Mode)
	if mode == "" {
		mode = compress.ModeQuick
	}
	if err := m.compressor.CompressConversation(ctx, payload.ConversationID, mode); err != nil {
		return err
	}

	if m.cache != nil {
		m.cache.InvalidateShortTerm()
	}

	m.mu.Lock()
	if m.conversationID == payload.ConversationID {
		m.compressionArmed = true
	}
	m.mu.Unlock()
	return nil
}

// ConversationContext assembles the active session's buffer, the most
// relevant memories from both tiers and the user profile.
func (m *Manager) ConversationContext(ctx context.Context) (*ConversationContext, error) {
	m.mu.Lock()
	out := &ConversationContext{
		ConversationID: m.conversationID,
		SessionID:      m.sessionID,
		MessageCount:   m.messageCount,
		Messages:       append([]*storage.Message(nil), m.buffer...),
	}
	m.mu.Unlock()

	if out.ConversationID == 0 {
		return out, nil
	}

	stm, err := m.store.ShortTermMemories(ctx, "", defaultSTMRelevance, contextMaxShortTerm)
	if err != nil {
		m.log.Warn("loading short-term context failed", "error", err)
	}
	out.ShortTerm = stm

	ltm, err := m.store.LongTermMemories(ctx, "", 0, contextMaxLongTerm)
	if err != nil {
		m.log.Warn("loading long-term context failed", "error", err)
	}
	out.LongTerm = ltm

	profile, err := m.store.UserProfile(ctx)
	if err != nil {
		m.log.Warn("loading profile failed", "error", err)
	}
	out.Profile = profile

	m.log.Debug("built context",
		"messages", len(out.Messages), "stm", len(out.ShortTerm), "ltm", len(out.LongTerm))
	return out, nil
}

// Messages returns up to limit buffered messages, newest last. limit <= 0
// returns the whole buffer.
func (m *Manager) Messages(limit int) []*storage.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.buffer
	if limit > 0 && len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	return append([]*storage.Message(nil), buf...)
}

// ClearBuffer empties the rolling window without touching stored messages.
func (m *Manager) ClearBuffer() {
	m.mu.Lock()
	m.buffer = nil
	m.mu.Unlock()
	m.log.Debug("cleared message buffer")
}

// ActiveConversation returns the active conversation row, or ErrNotFound
// when no session is active.
func (m *Manager) ActiveConversation(ctx context.Context) (*storage.Conversation, error) {
	m.mu.Lock()
	id := m.conversationID
	m.mu.Unlock()

	if id == 0 {
		return nil, storage.ErrNotFound{Entity: "active conversation"}
	}
	return m.store.GetConversationByID(ctx, id)
}

// UpdateTitle renames the active conversation.
func (m *Manager) UpdateTitle(ctx context.Context, title string) error {
	m.mu.Lock()
	session := m.sessionID
	m.mu.Unlock()

	if session == "" {
		return fmt.Errorf("no active conversation")
	}
	return m.store.UpdateConversation(ctx, session, storage.ConversationUpdate{Title: &title})
}

// Statistics returns store-wide counts plus the current session state.
func (m *Manager) Statistics(ctx context.Context) (Statistics, error) {
	storeStats, err := m.store.Statistics(ctx)
	if err != nil {
		return Statistics{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return Statistics{
		Store:             storeStats,
		ConversationID:    m.conversationID,
		SessionID:         m.sessionID,
		BufferSize:        len(m.buffer),
		TotalMessages:     m.messageCount,
		CompressionNeeded: m.messageCount >= m.threshold,
	}, nil
}
