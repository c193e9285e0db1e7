package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var profileJSONFields = []string{"preferences", "music_preferences", "schedule_info", "personality_notes"}

// UserProfile returns the singleton profile row.
func (s *Store) UserProfile(ctx context.Context) (*UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, preferred_name, preferences, music_preferences, schedule_info,
		       personality_notes, last_name_prompt, conversation_count, created_at, updated_at
		FROM user_profile WHERE id = 1`)

	var p UserProfile
	var name, preferred, prefs, music, schedule, notes, lastPrompt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&name, &preferred, &prefs, &music, &schedule, &notes,
		&lastPrompt, &p.ConversationCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound{Entity: "user profile"}
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user profile: %w", err)
	}

	p.Name = name.String
	p.PreferredName = preferred.String
	p.Preferences = parseJSONField(prefs)
	p.MusicPreferences = parseJSONField(music)
	p.ScheduleInfo = parseJSONField(schedule)
	p.PersonalityNotes = parseJSONField(notes)
	p.LastNamePrompt = parseNullTime(lastPrompt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func parseJSONField(s sql.NullString) map[string]any {
	out := map[string]any{}
	if s.Valid && s.String != "" {
		_ = json.Unmarshal([]byte(s.String), &out)
	}
	return out
}

// UpdateUserProfile applies the non-nil fields of upd and bumps updated_at.
func (s *Store) UpdateUserProfile(ctx context.Context, upd ProfileUpdate) error {
	var sets []string
	var args []any

	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.PreferredName != nil {
		sets = append(sets, "preferred_name = ?")
		args = append(args, *upd.PreferredName)
	}
	for i, field := range []map[string]any{upd.Preferences, upd.MusicPreferences, upd.ScheduleInfo, upd.PersonalityNotes} {
		if field == nil {
			continue
		}
		b, err := json.Marshal(field)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", profileJSONFields[i], err)
		}
		sets = append(sets, profileJSONFields[i]+" = ?")
		args = append(args, string(b))
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()))

	_, err := s.db.ExecContext(ctx,
		"UPDATE user_profile SET "+strings.Join(sets, ", ")+" WHERE id = 1", args...)
	if err != nil {
		return fmt.Errorf("updating user profile: %w", err)
	}

	s.log.Debug("updated user profile")
	return nil
}

// TrackNamePrompt records that the user was just asked for their name.
func (s *Store) TrackNamePrompt(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_profile SET last_name_prompt = ?, updated_at = ? WHERE id = 1`,
		formatTime(time.Now()), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("tracking name prompt: %w", err)
	}
	return nil
}

// ShouldAskForName reports whether the user's name is still unknown and the
// cooldown since the last prompt has elapsed.
func (s *Store) ShouldAskForName(ctx context.Context, cooldown time.Duration) (bool, error) {
	p, err := s.UserProfile(ctx)
	if err != nil {
		return false, err
	}

	if p.Name != "" {
		return false, nil
	}
	if p.LastNamePrompt != nil && time.Since(*p.LastNamePrompt) < cooldown {
		return false, nil
	}
	return true, nil
}

// IncrementConversationCount bumps the profile's lifetime conversation count.
func (s *Store) IncrementConversationCount(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_profile
		SET conversation_count = conversation_count + 1, updated_at = ?
		WHERE id = 1`, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("incrementing conversation count: %w", err)
	}
	return nil
}
