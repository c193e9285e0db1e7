package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/meggy-ai/bruno-core-sub000/pkg/storage"
)

var namePrompts = []string{
	"By the way, I'd love to know your name if you're comfortable sharing!",
	"I don't think I caught your name - what should I call you?",
	"What's your name, if you don't mind me asking?",
	"I'd like to know what to call you - what's your name?",
}

// ShouldAskForName reports whether the session has enough back-and-forth to
// politely ask for the user's name, and the profile-level checks (name
// unknown, cooldown elapsed) pass.
func (m *Manager) ShouldAskForName(ctx context.Context, cooldown time.Duration, minExchanges int) (bool, error) {
	m.mu.Lock()
	buffered := len(m.buffer)
	m.mu.Unlock()

	if buffered < minExchanges*2 {
		return false, nil
	}
	return m.store.ShouldAskForName(ctx, cooldown)
}

// NamePrompt returns a rotating name question and records that it was
// asked.
func (m *Manager) NamePrompt(ctx context.Context) (string, error) {
	profile, err := m.store.UserProfile(ctx)
	if err != nil {
		return "", fmt.Errorf("loading profile: %w", err)
	}

	prompt := namePrompts[profile.ConversationCount%len(namePrompts)]
	if err := m.store.TrackNamePrompt(ctx); err != nil {
		return "", fmt.Errorf("tracking name prompt: %w", err)
	}
	return prompt, nil
}

// UpdateProfileFromConversation extracts profile data from the current
// buffer and merges it into the stored profile. The name is only filled
// when missing; preferences and schedule merge key by key; habits and
// notes accumulate without duplicates. Returns the names of the updated
// fields.
func (m *Manager) UpdateProfileFromConversation(ctx context.Context) ([]string, error) {
	if m.compressor == nil {
		return nil, fmt.Errorf("no compressor configured")
	}

	messages := m.Messages(0)
	if len(messages) == 0 {
		return nil, nil
	}

	extracted := m.compressor.ExtractProfile(ctx, messages)
	current, err := m.store.UserProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	var upd storage.ProfileUpdate
	var updated []string

	if extracted.Name != "" && current.Name == "" {
		upd.Name = &extracted.Name
		updated = append(updated, "name")
	}

	if len(extracted.Preferences) > 0 {
		prefs := current.Preferences
		for k, v := range extracted.Preferences {
			prefs[k] = v
		}
		upd.Preferences = prefs
		updated = append(updated, "preferences")
	}

	if len(extracted.Schedule) > 0 {
		schedule := current.ScheduleInfo
		for k, v := range extracted.Schedule {
			schedule[k] = v
		}
		upd.ScheduleInfo = schedule
		updated = append(updated, "schedule")
	}

	if len(extracted.Habits) > 0 || len(extracted.PersonalNotes) > 0 {
		notes := current.PersonalityNotes
		existing, _ := notes["notes"].([]any)
		for _, note := range append(extracted.Habits, extracted.PersonalNotes...) {
			if !containsNote(existing, note) {
				existing = append(existing, note)
			}
		}
		notes["notes"] = existing
		upd.PersonalityNotes = notes
		updated = append(updated, "notes")
	}

	if len(updated) == 0 {
		return nil, nil
	}
	if err := m.store.UpdateUserProfile(ctx, upd); err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}

	m.log.Info("profile updated from conversation", "fields", updated)
	return updated, nil
}

func containsNote(notes []any, note string) bool {
	for _, n := range notes {
		if s, ok := n.(string); ok && s == note {
			return true
		}
	}
	return false
}
