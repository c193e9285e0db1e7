package storage_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meggy-ai/bruno-core-sub000/pkg/storage"
)

func newTestStore() *storage.Store {
	path := filepath.Join(GinkgoT().TempDir(), "test.db")
	s, err := storage.New(path, nil)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(s.Close)
	return s
}

var _ = Describe("Store", func() {
	var (
		s   *storage.Store
		ctx context.Context
	)

	BeforeEach(func() {
		s = newTestStore()
		ctx = context.Background()
	})

	Describe("conversations", func() {
		It("creates a conversation with a generated session id", func() {
			conv, err := s.CreateConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.ID).To(BeNumerically(">", 0))
			Expect(conv.SessionID).NotTo(BeEmpty())
			Expect(conv.IsActive).To(BeTrue())
		})

		It("retrieves by session id and by database id", func() {
			conv, err := s.CreateConversation(ctx, "session-1")
			Expect(err).NotTo(HaveOccurred())

			bySession, err := s.GetConversation(ctx, "session-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(bySession.ID).To(Equal(conv.ID))

			byID, err := s.GetConversationByID(ctx, conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.SessionID).To(Equal("session-1"))
		})

		It("returns ErrNotFound for unknown sessions", func() {
			_, err := s.GetConversation(ctx, "missing")
			Expect(err).To(BeAssignableToTypeOf(storage.ErrNotFound{}))
		})

		It("ends a conversation", func() {
			_, err := s.CreateConversation(ctx, "ending")
			Expect(err).NotTo(HaveOccurred())

			Expect(s.EndConversation(ctx, "ending")).To(Succeed())

			conv, err := s.GetConversation(ctx, "ending")
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.IsActive).To(BeFalse())
			Expect(conv.EndedAt).NotTo(BeNil())
		})

		It("finds the active conversation", func() {
			_, err := s.CreateConversation(ctx, "first")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.EndConversation(ctx, "first")).To(Succeed())
			_, err = s.CreateConversation(ctx, "second")
			Expect(err).NotTo(HaveOccurred())

			active, err := s.ActiveConversation(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active.SessionID).To(Equal("second"))
		})

		It("updates selected fields only", func() {
			_, err := s.CreateConversation(ctx, "upd")
			Expect(err).NotTo(HaveOccurred())

			title := "a chat about plants"
			summary := "talked about ferns"
			Expect(s.UpdateConversation(ctx, "upd", storage.ConversationUpdate{
				Title:             &title,
				CompressedSummary: &summary,
			})).To(Succeed())

			conv, err := s.GetConversation(ctx, "upd")
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.Title).To(Equal(title))
			Expect(conv.CompressedSummary).To(Equal(summary))
		})

		It("cascades message deletion", func() {
			conv, err := s.CreateConversation(ctx, "doomed")
			Expect(err).NotTo(HaveOccurred())
			_, err = s.AddMessage(ctx, conv.ID, "user", "hello", "", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.DeleteConversation(ctx, conv.ID)).To(Succeed())

			count, err := s.MessageCount(ctx, conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})
	})

	Describe("messages", func() {
		var conv *storage.Conversation

		BeforeEach(func() {
			var err error
			conv, err = s.CreateConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
		})

		It("assigns monotonically increasing sequence numbers", func() {
			for i := 0; i < 3; i++ {
				_, err := s.AddMessage(ctx, conv.ID, "user", fmt.Sprintf("msg %d", i), "", nil)
				Expect(err).NotTo(HaveOccurred())
			}

			msgs, err := s.Messages(ctx, conv.ID, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(3))
			for i, m := range msgs {
				Expect(m.SequenceNumber).To(Equal(i + 1))
			}
		})

		It("assigns unique sequence numbers under concurrent writes", func() {
			const n = 20
			var wg sync.WaitGroup
			wg.Add(n)
			for i := 0; i < n; i++ {
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := s.AddMessage(ctx, conv.ID, "user", fmt.Sprintf("concurrent %d", i), "", nil)
					Expect(err).NotTo(HaveOccurred())
				}(i)
			}
			wg.Wait()

			msgs, err := s.Messages(ctx, conv.ID, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(n))

			seen := map[int]bool{}
			for _, m := range msgs {
				Expect(seen[m.SequenceNumber]).To(BeFalse(), "duplicate sequence %d", m.SequenceNumber)
				seen[m.SequenceNumber] = true
			}

			updated, err := s.GetConversationByID(ctx, conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.MessageCount).To(Equal(n))
		})

		It("round-trips intent and entities", func() {
			_, err := s.AddMessage(ctx, conv.ID, "user", "play jazz", "music_play",
				map[string]any{"genre": "jazz"})
			Expect(err).NotTo(HaveOccurred())

			msgs, err := s.Messages(ctx, conv.ID, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs[0].Intent).To(Equal("music_play"))
			Expect(msgs[0].Entities).To(HaveKeyWithValue("genre", "jazz"))
		})

		It("returns recent messages in chronological order", func() {
			for i := 0; i < 5; i++ {
				_, err := s.AddMessage(ctx, conv.ID, "user", fmt.Sprintf("msg %d", i), "", nil)
				Expect(err).NotTo(HaveOccurred())
			}

			recent, err := s.RecentMessages(ctx, conv.ID, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(recent).To(HaveLen(2))
			Expect(recent[0].Content).To(Equal("msg 3"))
			Expect(recent[1].Content).To(Equal("msg 4"))
		})

		It("collects recent messages across conversations", func() {
			other, err := s.CreateConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = s.AddMessage(ctx, conv.ID, "user", "one", "", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = s.AddMessage(ctx, other.ID, "user", "two", "", nil)
			Expect(err).NotTo(HaveOccurred())

			msgs, err := s.RecentMessagesAcrossConversations(ctx, 7, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2))
		})
	})

	Describe("short-term memory", func() {
		It("stores and filters by category and relevance", func() {
			_, err := s.AddShortTermMemory(ctx, "likes jazz", "music_preference", 0.9, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = s.AddShortTermMemory(ctx, "meeting at noon", "schedule", 1.0, nil)
			Expect(err).NotTo(HaveOccurred())

			all, err := s.ShortTermMemories(ctx, "", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))

			music, err := s.ShortTermMemories(ctx, "music_preference", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(music).To(HaveLen(1))
			Expect(music[0].Fact).To(Equal("likes jazz"))
		})

		It("decays relevance multiplicatively", func() {
			_, err := s.AddShortTermMemory(ctx, "fact", "misc", 1.0, nil)
			Expect(err).NotTo(HaveOccurred())

			affected, err := s.DecayShortTermMemories(ctx, 0.1)
			Expect(err).NotTo(HaveOccurred())
			Expect(affected).To(Equal(int64(1)))

			mems, err := s.ShortTermMemories(ctx, "", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(mems[0].RelevanceScore).To(BeNumerically("~", 0.9, 1e-9))
		})

		It("prunes entries below the relevance floor", func() {
			_, err := s.AddShortTermMemory(ctx, "first", "misc", 1.0, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = s.AddShortTermMemory(ctx, "second", "misc", 1.0, nil)
			Expect(err).NotTo(HaveOccurred())

			// Decay far enough that both fall under 0.3, then prune.
			for i := 0; i < 15; i++ {
				_, err := s.DecayShortTermMemories(ctx, 0.1)
				Expect(err).NotTo(HaveOccurred())
			}
			deleted, err := s.PruneShortTermMemories(ctx, 7, 0.3)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(Equal(int64(2)))
		})

		It("deletes by id", func() {
			id, err := s.AddShortTermMemory(ctx, "temp", "misc", 1.0, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(s.DeleteShortTermMemory(ctx, id)).To(Succeed())

			mems, err := s.ShortTermMemories(ctx, "", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(mems).To(BeEmpty())
		})
	})

	Describe("long-term memory", func() {
		It("enforces fact uniqueness via upsert", func() {
			id1, err := s.AddLongTermMemory(ctx, &storage.LongTermMemory{
				Fact: "user's name is Sam", Category: "profile", Importance: 0.5, Confidence: 0.8,
			})
			Expect(err).NotTo(HaveOccurred())

			id2, err := s.AddLongTermMemory(ctx, &storage.LongTermMemory{
				Fact: "user's name is Sam", Category: "profile", Importance: 0.9, Confidence: 0.95,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(id2).To(Equal(id1))

			mems, err := s.LongTermMemories(ctx, "", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(mems).To(HaveLen(1))
			Expect(mems[0].Importance).To(Equal(0.9))
			Expect(mems[0].Confidence).To(Equal(0.95))
		})

		It("filters by importance floor and orders by importance", func() {
			for i, fact := range []string{"low", "mid", "high"} {
				_, err := s.AddLongTermMemory(ctx, &storage.LongTermMemory{
					Fact: fact, Category: "knowledge", Importance: float64(i+1) * 0.3, Confidence: 1,
				})
				Expect(err).NotTo(HaveOccurred())
			}

			mems, err := s.LongTermMemories(ctx, "", 0.5, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(mems).To(HaveLen(2))
			Expect(mems[0].Fact).To(Equal("high"))
		})

		It("round-trips metadata", func() {
			_, err := s.AddLongTermMemory(ctx, &storage.LongTermMemory{
				Fact: "consolidated", Category: "preference", Importance: 0.7, Confidence: 0.8,
				Metadata: map[string]any{"promoted_from_stm": true},
			})
			Expect(err).NotTo(HaveOccurred())

			mems, err := s.LongTermMemories(ctx, "", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(mems[0].Metadata).To(HaveKeyWithValue("promoted_from_stm", true))
		})

		It("deletes by fact text", func() {
			_, err := s.AddLongTermMemory(ctx, &storage.LongTermMemory{
				Fact: "obsolete", Category: "misc", Importance: 0.5, Confidence: 1,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(s.DeleteLongTermMemory(ctx, "obsolete")).To(Succeed())

			mems, err := s.LongTermMemories(ctx, "", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(mems).To(BeEmpty())
		})
	})

	Describe("BatchUpdateAccess", func() {
		It("bumps access counts for all ids in one call", func() {
			var ids []int64
			for i := 0; i < 3; i++ {
				id, err := s.AddShortTermMemory(ctx, fmt.Sprintf("fact %d", i), "misc", 1.0, nil)
				Expect(err).NotTo(HaveOccurred())
				ids = append(ids, id)
			}

			Expect(s.BatchUpdateAccess(ctx, storage.TierShortTerm, ids[:2])).To(Succeed())

			mems, err := s.ShortTermMemories(ctx, "", 0, 0)
			Expect(err).NotTo(HaveOccurred())

			counts := map[int64]int{}
			for _, m := range mems {
				counts[m.ID] = m.AccessCount
			}
			Expect(counts[ids[0]]).To(Equal(1))
			Expect(counts[ids[1]]).To(Equal(1))
			Expect(counts[ids[2]]).To(BeZero())
		})

		It("is a no-op for an empty id list", func() {
			Expect(s.BatchUpdateAccess(ctx, storage.TierLongTerm, nil)).To(Succeed())
		})
	})

	Describe("user profile", func() {
		It("seeds a singleton row", func() {
			p, err := s.UserProfile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Name).To(BeEmpty())
			Expect(p.ConversationCount).To(BeZero())
		})

		It("updates fields and serializes JSON sections", func() {
			name := "Sam"
			Expect(s.UpdateUserProfile(ctx, storage.ProfileUpdate{
				Name:             &name,
				MusicPreferences: map[string]any{"genre": "jazz"},
			})).To(Succeed())

			p, err := s.UserProfile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Name).To(Equal("Sam"))
			Expect(p.MusicPreferences).To(HaveKeyWithValue("genre", "jazz"))
		})

		It("tracks name prompts with a cooldown", func() {
			ask, err := s.ShouldAskForName(ctx, 30*24*time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(ask).To(BeTrue())

			Expect(s.TrackNamePrompt(ctx)).To(Succeed())

			ask, err = s.ShouldAskForName(ctx, 30*24*time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(ask).To(BeFalse())
		})

		It("never asks once a name is known", func() {
			name := "Sam"
			Expect(s.UpdateUserProfile(ctx, storage.ProfileUpdate{Name: &name})).To(Succeed())

			ask, err := s.ShouldAskForName(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ask).To(BeFalse())
		})

		It("increments the conversation count", func() {
			Expect(s.IncrementConversationCount(ctx)).To(Succeed())
			Expect(s.IncrementConversationCount(ctx)).To(Succeed())

			p, err := s.UserProfile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ConversationCount).To(Equal(2))
		})
	})

	Describe("tags and search", func() {
		It("stores normalized tags", func() {
			conv, err := s.CreateConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			Expect(s.AddConversationTags(ctx, conv.ID, []string{" Music ", "JAZZ"})).To(Succeed())

			tags, err := s.ConversationTags(ctx, conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(ConsistOf("music", "jazz"))
		})

		It("searches by message content", func() {
			conv, err := s.CreateConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = s.AddMessage(ctx, conv.ID, "user", "tell me about ferns", "", nil)
			Expect(err).NotTo(HaveOccurred())

			results, err := s.SearchConversations(ctx, storage.SearchFilter{Query: "ferns"})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal(conv.ID))
		})

		It("searches by tag", func() {
			tagged, err := s.CreateConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = s.CreateConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.AddConversationTags(ctx, tagged.ID, []string{"plants"})).To(Succeed())

			results, err := s.SearchConversations(ctx, storage.SearchFilter{Tags: []string{"plants"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Tags).To(ContainElement("plants"))
		})
	})

	Describe("Statistics", func() {
		It("counts rows across tables", func() {
			conv, err := s.CreateConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = s.AddMessage(ctx, conv.ID, "user", "hi", "", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = s.AddShortTermMemory(ctx, "fact", "misc", 1, nil)
			Expect(err).NotTo(HaveOccurred())

			stats, err := s.Statistics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalConversations).To(Equal(1))
			Expect(stats.ActiveConversations).To(Equal(1))
			Expect(stats.TotalMessages).To(Equal(1))
			Expect(stats.ShortTermMemories).To(Equal(1))
			Expect(stats.LongTermMemories).To(BeZero())
		})
	})
})
