// Package storage is the SQLite persistence layer for conversations,
// messages and the two memory tiers.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meggy-ai/bruno-core-sub000/pkg/logger"
)

// timeLayout matches SQLite's datetime('now') output. All timestamps are
// stored as UTC text in this format.
const timeLayout = "2006-01-02 15:04:05"

// Store wraps a single SQLite database. Writes that span multiple
// statements are serialized through mu.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	log *slog.Logger
}

// New opens (or creates) the database at dbPath and runs migrations.
// dbPath can be ":memory:" for tests.
func New(dbPath string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps multi-statement sequences on one SQLite
	// handle; WAL still allows concurrent readers at the file level.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	log.Debug("store opened", "path", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT UNIQUE NOT NULL,
		started_at TEXT NOT NULL DEFAULT (datetime('now')),
		ended_at TEXT,
		title TEXT,
		message_count INTEGER DEFAULT 0,
		compressed_summary TEXT,
		is_active INTEGER DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_active ON conversations(is_active);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL DEFAULT (datetime('now')),
		sequence_number INTEGER NOT NULL,
		intent TEXT,
		entities TEXT,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

	CREATE TABLE IF NOT EXISTS short_term_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fact TEXT NOT NULL,
		source_message_id INTEGER,
		confidence REAL DEFAULT 1.0,
		category TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		last_accessed TEXT NOT NULL DEFAULT (datetime('now')),
		access_count INTEGER DEFAULT 0,
		relevance_score REAL DEFAULT 1.0,
		FOREIGN KEY (source_message_id) REFERENCES messages(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stm_category ON short_term_memory(category);
	CREATE INDEX IF NOT EXISTS idx_stm_relevance ON short_term_memory(relevance_score);

	CREATE TABLE IF NOT EXISTS long_term_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fact TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL,
		confidence REAL DEFAULT 1.0,
		importance REAL DEFAULT 1.0,
		first_learned TEXT NOT NULL DEFAULT (datetime('now')),
		last_updated TEXT NOT NULL DEFAULT (datetime('now')),
		last_accessed TEXT NOT NULL DEFAULT (datetime('now')),
		access_count INTEGER DEFAULT 0,
		source_conversation_id INTEGER,
		metadata TEXT,
		FOREIGN KEY (source_conversation_id) REFERENCES conversations(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ltm_category ON long_term_memory(category);
	CREATE INDEX IF NOT EXISTS idx_ltm_importance ON long_term_memory(importance);

	CREATE TABLE IF NOT EXISTS user_profile (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		name TEXT,
		preferred_name TEXT,
		preferences TEXT,
		music_preferences TEXT,
		schedule_info TEXT,
		personality_notes TEXT,
		last_name_prompt TEXT,
		conversation_count INTEGER DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	INSERT OR IGNORE INTO user_profile (id, preferences) VALUES (1, '{}');

	CREATE TABLE IF NOT EXISTS conversation_tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL,
		tag TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_tags_conversation ON conversation_tags(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_conversation_tags_tag ON conversation_tags(tag);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Statistics returns a snapshot of row counts across the store.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	var stats Statistics
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM conversations", &stats.TotalConversations},
		{"SELECT COUNT(*) FROM conversations WHERE is_active = 1", &stats.ActiveConversations},
		{"SELECT COUNT(*) FROM messages", &stats.TotalMessages},
		{"SELECT COUNT(*) FROM short_term_memory", &stats.ShortTermMemories},
		{"SELECT COUNT(*) FROM long_term_memory", &stats.LongTermMemories},
	}

	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return Statistics{}, fmt.Errorf("counting rows: %w", err)
		}
	}
	return stats, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
