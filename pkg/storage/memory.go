package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AddShortTermMemory inserts a candidate fact with full relevance.
func (s *Store) AddShortTermMemory(ctx context.Context, fact, category string, confidence float64, sourceMessageID *int64) (int64, error) {
	var src sql.NullInt64
	if sourceMessageID != nil {
		src = sql.NullInt64{Int64: *sourceMessageID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO short_term_memory (fact, category, confidence, source_message_id)
		VALUES (?, ?, ?, ?)`, fact, category, confidence, src)
	if err != nil {
		return 0, fmt.Errorf("inserting short-term memory: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading memory id: %w", err)
	}

	s.log.Debug("added short-term memory", "id", id, "category", category)
	return id, nil
}

// ShortTermMemories lists short-term entries filtered by category (empty for
// all) and a relevance floor, ordered by relevance then recency.
func (s *Store) ShortTermMemories(ctx context.Context, category string, minRelevance float64, limit int) ([]*ShortTermMemory, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, fact, source_message_id, confidence, category, created_at,
		       last_accessed, access_count, relevance_score
		FROM short_term_memory WHERE relevance_score >= ?`
	args := []any{minRelevance}

	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY relevance_score DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying short-term memory: %w", err)
	}
	defer rows.Close()

	var out []*ShortTermMemory
	for rows.Next() {
		var m ShortTermMemory
		var src sql.NullInt64
		var category sql.NullString
		var createdAt, lastAccessed string

		if err := rows.Scan(&m.ID, &m.Fact, &src, &m.Confidence, &category,
			&createdAt, &lastAccessed, &m.AccessCount, &m.RelevanceScore); err != nil {
			return nil, fmt.Errorf("scanning short-term memory: %w", err)
		}

		if src.Valid {
			m.SourceMessageID = &src.Int64
		}
		m.Category = category.String
		m.CreatedAt = parseTime(createdAt)
		m.LastAccessed = parseTime(lastAccessed)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteShortTermMemory removes one entry by ID.
func (s *Store) DeleteShortTermMemory(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM short_term_memory WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting short-term memory: %w", err)
	}
	return nil
}

// DecayShortTermMemories multiplies every positive relevance score by
// (1 - decayRate). Returns the number of affected rows.
func (s *Store) DecayShortTermMemories(ctx context.Context, decayRate float64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE short_term_memory SET relevance_score = relevance_score * (1 - ?)
		WHERE relevance_score > 0`, decayRate)
	if err != nil {
		return 0, fmt.Errorf("decaying short-term memory: %w", err)
	}

	affected, _ := res.RowsAffected()
	s.log.Debug("decayed short-term memories", "count", affected)
	return affected, nil
}

// PruneShortTermMemories deletes entries older than maxAgeDays or with
// relevance below minRelevance. Returns the number deleted.
func (s *Store) PruneShortTermMemories(ctx context.Context, maxAgeDays int, minRelevance float64) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM short_term_memory WHERE created_at < ? OR relevance_score < ?`,
		formatTime(cutoff), minRelevance)
	if err != nil {
		return 0, fmt.Errorf("pruning short-term memory: %w", err)
	}

	deleted, _ := res.RowsAffected()
	s.log.Info("pruned short-term memories", "count", deleted)
	return deleted, nil
}

// AddLongTermMemory inserts a durable fact. When the fact already exists the
// existing row's importance and confidence are refreshed instead; either way
// the row's id is returned.
func (s *Store) AddLongTermMemory(ctx context.Context, m *LongTermMemory) (int64, error) {
	var metadataJSON sql.NullString
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshaling metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	var src sql.NullInt64
	if m.SourceConversationID != nil {
		src = sql.NullInt64{Int64: *m.SourceConversationID, Valid: true}
	}

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO long_term_memory (fact, category, importance, confidence, source_conversation_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fact) DO UPDATE SET
			importance = excluded.importance,
			confidence = excluded.confidence,
			last_updated = datetime('now')
		RETURNING id`,
		m.Fact, m.Category, m.Importance, m.Confidence, src, metadataJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting long-term memory: %w", err)
	}

	s.log.Debug("added long-term memory", "id", id, "category", m.Category)
	return id, nil
}

// LongTermMemories lists durable facts filtered by category (empty for all)
// and an importance floor, ordered by importance then access count.
func (s *Store) LongTermMemories(ctx context.Context, category string, minImportance float64, limit int) ([]*LongTermMemory, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, fact, category, confidence, importance, first_learned,
		       last_updated, last_accessed, access_count, source_conversation_id, metadata
		FROM long_term_memory WHERE importance >= ?`
	args := []any{minImportance}

	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY importance DESC, access_count DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying long-term memory: %w", err)
	}
	defer rows.Close()

	var out []*LongTermMemory
	for rows.Next() {
		var m LongTermMemory
		var firstLearned, lastUpdated, lastAccessed string
		var src sql.NullInt64
		var metadata sql.NullString

		if err := rows.Scan(&m.ID, &m.Fact, &m.Category, &m.Confidence, &m.Importance,
			&firstLearned, &lastUpdated, &lastAccessed, &m.AccessCount, &src, &metadata); err != nil {
			return nil, fmt.Errorf("scanning long-term memory: %w", err)
		}

		m.FirstLearned = parseTime(firstLearned)
		m.LastUpdated = parseTime(lastUpdated)
		m.LastAccessed = parseTime(lastAccessed)
		if src.Valid {
			m.SourceConversationID = &src.Int64
		}
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &m.Metadata)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// UpdateLongTermMemory refreshes importance and confidence for a fact.
func (s *Store) UpdateLongTermMemory(ctx context.Context, fact string, importance, confidence float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE long_term_memory
		SET importance = ?, confidence = ?, last_updated = datetime('now')
		WHERE fact = ?`, importance, confidence, fact)
	if err != nil {
		return fmt.Errorf("updating long-term memory: %w", err)
	}
	return nil
}

// DeleteLongTermMemory removes a durable fact by its text.
func (s *Store) DeleteLongTermMemory(ctx context.Context, fact string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM long_term_memory WHERE fact = ?`, fact)
	if err != nil {
		return fmt.Errorf("deleting long-term memory: %w", err)
	}
	return nil
}

// BatchUpdateAccess bumps access counts and timestamps for all ids in one
// transaction.
func (s *Store) BatchUpdateAccess(ctx context.Context, tier Tier, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(time.Now()))
	for _, id := range ids {
		args = append(args, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET last_accessed = ?, access_count = access_count + 1
		WHERE id IN (%s)`, tier, placeholders), args...); err != nil {
		return fmt.Errorf("updating access counts: %w", err)
	}
	return tx.Commit()
}
