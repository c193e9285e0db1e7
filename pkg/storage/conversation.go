package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateConversation inserts a new active conversation. A session ID is
// generated when sessionID is empty.
func (s *Store) CreateConversation(ctx context.Context, sessionID string) (*Conversation, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (session_id, started_at, is_active) VALUES (?, ?, 1)`,
		sessionID, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading conversation id: %w", err)
	}

	s.log.Info("created conversation", "id", id, "session", sessionID)
	return &Conversation{
		ID:        id,
		SessionID: sessionID,
		StartedAt: now.UTC().Truncate(time.Second),
		IsActive:  true,
	}, nil
}

// GetConversation retrieves a conversation by session ID.
func (s *Store) GetConversation(ctx context.Context, sessionID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, started_at, ended_at, title, message_count, compressed_summary, is_active
		FROM conversations WHERE session_id = ?`, sessionID)
	return s.scanConversation(row, sessionID)
}

// GetConversationByID retrieves a conversation by database ID.
func (s *Store) GetConversationByID(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, started_at, ended_at, title, message_count, compressed_summary, is_active
		FROM conversations WHERE id = ?`, id)
	return s.scanConversation(row, fmt.Sprintf("%d", id))
}

// ActiveConversation returns the most recently started active conversation.
func (s *Store) ActiveConversation(ctx context.Context) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, started_at, ended_at, title, message_count, compressed_summary, is_active
		FROM conversations WHERE is_active = 1 ORDER BY started_at DESC LIMIT 1`)
	return s.scanConversation(row, "")
}

func (s *Store) scanConversation(row *sql.Row, key string) (*Conversation, error) {
	var c Conversation
	var startedAt string
	var endedAt, title, summary sql.NullString

	err := row.Scan(&c.ID, &c.SessionID, &startedAt, &endedAt, &title, &c.MessageCount, &summary, &c.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound{Entity: "conversation", Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	c.StartedAt = parseTime(startedAt)
	c.EndedAt = parseNullTime(endedAt)
	c.Title = title.String
	c.CompressedSummary = summary.String
	return &c, nil
}

// UpdateConversation applies the non-nil fields of upd.
func (s *Store) UpdateConversation(ctx context.Context, sessionID string, upd ConversationUpdate) error {
	var sets []string
	var args []any

	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.CompressedSummary != nil {
		sets = append(sets, "compressed_summary = ?")
		args = append(args, *upd.CompressedSummary)
	}
	if upd.MessageCount != nil {
		sets = append(sets, "message_count = ?")
		args = append(args, *upd.MessageCount)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, sessionID)
	_, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET "+strings.Join(sets, ", ")+" WHERE session_id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	return nil
}

// EndConversation marks the conversation as ended.
func (s *Store) EndConversation(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET ended_at = ?, is_active = 0 WHERE session_id = ?`,
		formatTime(time.Now()), sessionID)
	if err != nil {
		return fmt.Errorf("ending conversation: %w", err)
	}
	s.log.Info("ended conversation", "session", sessionID)
	return nil
}

// DeleteConversation removes a conversation; messages and tags cascade.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	s.log.Info("deleted conversation", "id", id)
	return nil
}

// RecentConversations lists conversations newest first. A zero dateFrom
// means no lower bound.
func (s *Store) RecentConversations(ctx context.Context, limit int, dateFrom time.Time) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, session_id, started_at, ended_at, title, message_count, compressed_summary, is_active
		FROM conversations`
	var args []any
	if !dateFrom.IsZero() {
		query += " WHERE started_at >= ?"
		args = append(args, formatTime(dateFrom))
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	return scanConversations(rows)
}

// SearchConversations finds conversations matching the filter. Text queries
// match the title, compressed summary, or any message content.
func (s *Store) SearchConversations(ctx context.Context, f SearchFilter) ([]*Conversation, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT DISTINCT c.id, c.session_id, c.started_at, c.ended_at, c.title,
		       c.message_count, c.compressed_summary, c.is_active,
		       GROUP_CONCAT(DISTINCT ct.tag) AS tags
		FROM conversations c
		LEFT JOIN conversation_tags ct ON c.id = ct.conversation_id`

	var conditions []string
	var args []any

	if f.Query != "" {
		query += " LEFT JOIN messages m ON c.id = m.conversation_id"
		conditions = append(conditions, "(c.title LIKE ? OR c.compressed_summary LIKE ? OR m.content LIKE ?)")
		term := "%" + f.Query + "%"
		args = append(args, term, term, term)
	}
	if len(f.Tags) > 0 {
		tagConds := make([]string, len(f.Tags))
		for i, tag := range f.Tags {
			tagConds[i] = "ct.tag = ?"
			args = append(args, strings.ToLower(strings.TrimSpace(tag)))
		}
		conditions = append(conditions, "("+strings.Join(tagConds, " OR ")+")")
	}
	if !f.DateFrom.IsZero() {
		conditions = append(conditions, "c.started_at >= ?")
		args = append(args, formatTime(f.DateFrom))
	}
	if !f.DateTo.IsZero() {
		conditions = append(conditions, "c.started_at <= ?")
		args = append(args, formatTime(f.DateTo))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " GROUP BY c.id ORDER BY c.started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching conversations: %w", err)
	}
	defer rows.Close()

	var results []*Conversation
	for rows.Next() {
		var c Conversation
		var startedAt string
		var endedAt, title, summary, tags sql.NullString

		if err := rows.Scan(&c.ID, &c.SessionID, &startedAt, &endedAt, &title,
			&c.MessageCount, &summary, &c.IsActive, &tags); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}

		c.StartedAt = parseTime(startedAt)
		c.EndedAt = parseNullTime(endedAt)
		c.Title = title.String
		c.CompressedSummary = summary.String
		if tags.Valid && tags.String != "" {
			c.Tags = strings.Split(tags.String, ",")
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func scanConversations(rows *sql.Rows) ([]*Conversation, error) {
	var out []*Conversation
	for rows.Next() {
		var c Conversation
		var startedAt string
		var endedAt, title, summary sql.NullString

		if err := rows.Scan(&c.ID, &c.SessionID, &startedAt, &endedAt, &title,
			&c.MessageCount, &summary, &c.IsActive); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}

		c.StartedAt = parseTime(startedAt)
		c.EndedAt = parseNullTime(endedAt)
		c.Title = title.String
		c.CompressedSummary = summary.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

// AddConversationTags attaches lowercased tags to a conversation.
func (s *Store) AddConversationTags(ctx context.Context, conversationID int64, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_tags (conversation_id, tag) VALUES (?, ?)`,
			conversationID, strings.ToLower(strings.TrimSpace(tag))); err != nil {
			return fmt.Errorf("inserting tag: %w", err)
		}
	}
	return tx.Commit()
}

// ConversationTags returns tags for a conversation, newest first.
func (s *Store) ConversationTags(ctx context.Context, conversationID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag FROM conversation_tags WHERE conversation_id = ? ORDER BY created_at DESC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// AddMessage appends a message to a conversation, assigning the next
// sequence number and bumping the conversation's message count in one
// transaction. Safe for concurrent callers.
func (s *Store) AddMessage(ctx context.Context, conversationID int64, role, content, intent string, entities map[string]any) (int64, error) {
	var entitiesJSON sql.NullString
	if len(entities) > 0 {
		b, err := json.Marshal(entities)
		if err != nil {
			return 0, fmt.Errorf("marshaling entities: %w", err)
		}
		entitiesJSON = sql.NullString{String: string(b), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `
		SELECT MAX(sequence_number) FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("reading sequence number: %w", err)
	}
	seq := maxSeq.Int64 + 1

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, timestamp, sequence_number, intent, entities)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, role, content, formatTime(time.Now()), seq, nullString(intent), entitiesJSON)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET message_count = message_count + 1 WHERE id = ?`,
		conversationID); err != nil {
		return 0, fmt.Errorf("updating message count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading message id: %w", err)
	}

	s.log.Debug("added message", "id", id, "conversation", conversationID, "role", role, "seq", seq)
	return id, nil
}

// Messages lists messages in sequence order. limit <= 0 returns all.
func (s *Store) Messages(ctx context.Context, conversationID int64, limit, offset int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, role, content, timestamp, sequence_number, intent, entities
		FROM messages WHERE conversation_id = ? ORDER BY sequence_number ASC`
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// RecentMessages returns the last count messages in chronological order.
func (s *Store) RecentMessages(ctx context.Context, conversationID int64, count int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, timestamp, sequence_number, intent, entities
		FROM messages WHERE conversation_id = ? ORDER BY sequence_number DESC LIMIT ?`,
		conversationID, count)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessageCount returns how many messages the conversation currently holds.
func (s *Store) MessageCount(ctx context.Context, conversationID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// RecentMessagesAcrossConversations returns messages from all conversations
// within the last N days, oldest first.
func (s *Store) RecentMessagesAcrossConversations(ctx context.Context, days, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.role, m.content, m.timestamp, m.sequence_number, m.intent, m.entities
		FROM messages m
		JOIN conversations c ON m.conversation_id = c.id
		WHERE m.timestamp >= datetime('now', '-' || ? || ' days')
		ORDER BY m.timestamp ASC LIMIT ?`, days, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var out []*Message
	for rows.Next() {
		var m Message
		var ts string
		var intent, entities sql.NullString

		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &ts,
			&m.SequenceNumber, &intent, &entities); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		m.Timestamp = parseTime(ts)
		m.Intent = intent.String
		if entities.Valid && entities.String != "" {
			// Malformed entities are dropped rather than failing the read.
			_ = json.Unmarshal([]byte(entities.String), &m.Entities)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
