package conversation_test

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meggy-ai/bruno-core-sub000/pkg/compress"
	"github.com/meggy-ai/bruno-core-sub000/pkg/conversation"
	"github.com/meggy-ai/bruno-core-sub000/pkg/jobs"
	"github.com/meggy-ai/bruno-core-sub000/pkg/storage"
	testutils "github.com/meggy-ai/bruno-core-sub000/pkg/utils/test"
)

var _ = Describe("Manager", func() {
	var (
		ctx   context.Context
		store *storage.Store
		gen   *testutils.ScriptedGenerator
		pool  *jobs.Pool
	)

	BeforeEach(func() {
		ctx = context.Background()
		gen = &testutils.ScriptedGenerator{}

		var err error
		store, err = storage.New(filepath.Join(GinkgoT().TempDir(), "test.db"), nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(store.Close)
	})

	// newManager wires a manager over a fresh pool. Call pool.Start
	// separately when a test needs jobs to actually run.
	newManager := func(cfg conversation.Config) *conversation.Manager {
		cfg.Store = store
		cfg.Compressor = compress.New(compress.Config{Store: store, Generator: gen})
		pool = jobs.NewPool(jobs.Config{Workers: 1})
		cfg.Pool = pool
		m, err := conversation.NewManager(cfg)
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	Describe("lifecycle", func() {
		It("starts a conversation with a title and bumps the profile count", func() {
			m := newManager(conversation.Config{})

			conv, err := m.StartConversation(ctx, "Morning chat")
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.ID).NotTo(BeZero())
			Expect(conv.SessionID).NotTo(BeEmpty())
			Expect(conv.Title).To(Equal("Morning chat"))

			profile, err := store.UserProfile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(profile.ConversationCount).To(Equal(1))
		})

		It("ends the active conversation when a new one starts", func() {
			m := newManager(conversation.Config{})

			first, err := m.StartConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = m.StartConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())

			old, err := store.GetConversationByID(ctx, first.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(old.IsActive).To(BeFalse())
			Expect(old.EndedAt).NotTo(BeNil())
		})

		It("ends a conversation with a final summary", func() {
			m := newManager(conversation.Config{})

			conv, err := m.StartConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(m.EndConversation(ctx, "wrapped up")).To(Succeed())

			ended, err := store.GetConversationByID(ctx, conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ended.IsActive).To(BeFalse())
			Expect(ended.CompressedSummary).To(Equal("wrapped up"))

			Expect(m.EndConversation(ctx, "")).To(HaveOccurred())
		})

		It("resumes a conversation and reloads the buffer tail", func() {
			m := newManager(conversation.Config{BufferSize: 3})

			conv, err := m.StartConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 5; i++ {
				_, err := m.AddMessage(ctx, "user", fmt.Sprintf("message %d", i), "", nil)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(m.EndConversation(ctx, "")).To(Succeed())

			Expect(m.ResumeConversation(ctx, conv.ID)).To(Succeed())

			buffered := m.Messages(0)
			Expect(buffered).To(HaveLen(3))
			Expect(buffered[2].Content).To(Equal("message 4"))

			stats, err := m.Statistics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalMessages).To(Equal(5))
		})

		It("fails to resume an unknown conversation", func() {
			m := newManager(conversation.Config{})
			Expect(m.ResumeConversation(ctx, 9999)).To(HaveOccurred())
		})
	})

	Describe("AddMessage", func() {
		It("starts a conversation implicitly", func() {
			m := newManager(conversation.Config{})

			_, err := m.AddMessage(ctx, "user", "hello", "", nil)
			Expect(err).NotTo(HaveOccurred())

			active, err := m.ActiveConversation(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(active.MessageCount).To(Equal(1))
		})

		It("only buffers messages when auto-save is disabled", func() {
			m := newManager(conversation.Config{DisableAutoSave: true})

			conv, err := m.StartConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AddMessage(ctx, "user", "ephemeral", "", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Messages(0)).To(HaveLen(1))

			count, err := store.MessageCount(ctx, conv.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})

		It("keeps the rolling buffer at its configured size", func() {
			m := newManager(conversation.Config{BufferSize: 2})

			for i := 0; i < 4; i++ {
				_, err := m.AddMessage(ctx, "user", fmt.Sprintf("message %d", i), "", nil)
				Expect(err).NotTo(HaveOccurred())
			}

			buffered := m.Messages(0)
			Expect(buffered).To(HaveLen(2))
			Expect(buffered[0].Content).To(Equal("message 2"))
			Expect(buffered[1].Content).To(Equal("message 3"))
		})

		It("queues exactly one fact-extraction job per completed pair", func() {
			m := newManager(conversation.Config{})

			_, err := m.AddMessage(ctx, "user", "I wake at 6am", "", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(pool.Statistics().Submitted).To(BeZero())

			_, err = m.AddMessage(ctx, "assistant", "Noted", "", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(pool.Statistics().Submitted).To(Equal(uint64(1)))

			// Two assistant turns in a row do not form a pair.
			_, err = m.AddMessage(ctx, "assistant", "Anything else?", "", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(pool.Statistics().Submitted).To(Equal(uint64(1)))
		})

		It("stores extracted facts from a pair once the job runs", func() {
			m := newManager(conversation.Config{})
			pool.Start()
			DeferCleanup(func() { pool.Stop(time.Second) })

			gen.Queue(`[{"fact": "wakes at 6am", "category": "habits", "importance": 0.8}]`)

			_, err := m.AddMessage(ctx, "user", "I wake at 6am", "", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AddMessage(ctx, "assistant", "Noted", "", nil)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int {
				stm, err := store.ShortTermMemories(ctx, "", 0, 0)
				Expect(err).NotTo(HaveOccurred())
				return len(stm)
			}).Should(Equal(1))

			stm, err := store.ShortTermMemories(ctx, "", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(stm[0].Fact).To(Equal("wakes at 6am"))
			Expect(stm[0].SourceMessageID).NotTo(BeNil())
		})
	})

	Describe("compression triggering", func() {
		It("queues one compression job when the threshold is crossed", func() {
			m := newManager(conversation.Config{
				CompressionThreshold: 3,
				DeferWindow:          time.Nanosecond,
			})

			for i := 0; i < 5; i++ {
				_, err := m.AddMessage(ctx, "user", fmt.Sprintf("message %d", i), "", nil)
				Expect(err).NotTo(HaveOccurred())
			}

			// One compression job at the crossing; the trigger stays
			// disarmed until the job runs.
			Expect(pool.Statistics().Submitted).To(Equal(uint64(1)))
		})

		It("defers compression while the user is active", func() {
			m := newManager(conversation.Config{
				CompressionThreshold: 2,
				DeferWindow:          time.Hour,
			})

			_, err := m.AddMessage(ctx, "user", "first", "", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AddMessage(ctx, "user", "second", "", nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(pool.Statistics().Submitted).To(BeZero())
		})

		It("compresses the conversation and re-arms once the job runs", func() {
			m := newManager(conversation.Config{
				CompressionThreshold: 2,
				DeferWindow:          time.Nanosecond,
			})
			pool.Start()
			DeferCleanup(func() { pool.Stop(time.Second) })

			// The pair also triggers a fact extraction job, which runs
			// first and consumes one reply. Compression then makes two
			// generation calls: summary, then facts.
			gen.Queue(
				`[]`,
				"User talked about mornings.",
				`[{"fact": "early riser", "category": "habits", "importance": 0.7}]`,
			)

			conv, err := m.StartConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AddMessage(ctx, "user", "I wake at 6am", "", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AddMessage(ctx, "assistant", "Noted", "", nil)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() string {
				updated, err := store.GetConversationByID(ctx, conv.ID)
				Expect(err).NotTo(HaveOccurred())
				return updated.CompressedSummary
			}).Should(Equal("User talked about mornings."))

			stm, err := store.ShortTermMemories(ctx, "", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(stm).NotTo(BeEmpty())
		})
	})

	Describe("ConversationContext", func() {
		It("returns an empty context with no active conversation", func() {
			m := newManager(conversation.Config{})

			built, err := m.ConversationContext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(built.ConversationID).To(BeZero())
			Expect(built.Messages).To(BeEmpty())
		})

		It("assembles buffer, memories and profile", func() {
			m := newManager(conversation.Config{})

			_, err := store.AddShortTermMemory(ctx, "likes green tea", "preferences", 0.9, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.AddShortTermMemory(ctx, "barely relevant", "general", 0.2, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.AddLongTermMemory(ctx, &storage.LongTermMemory{
				Fact: "name is Sam", Category: "profile", Importance: 0.9, Confidence: 0.9,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = m.StartConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AddMessage(ctx, "user", "hello", "", nil)
			Expect(err).NotTo(HaveOccurred())

			built, err := m.ConversationContext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(built.Messages).To(HaveLen(1))
			// Only entries above the relevance floor appear.
			Expect(built.ShortTerm).To(HaveLen(1))
			Expect(built.ShortTerm[0].Fact).To(Equal("likes green tea"))
			Expect(built.LongTerm).To(HaveLen(1))
			Expect(built.Profile).NotTo(BeNil())
		})
	})

	Describe("Statistics", func() {
		It("reports session and store counts", func() {
			m := newManager(conversation.Config{CompressionThreshold: 2, DeferWindow: time.Hour})

			_, err := m.StartConversation(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AddMessage(ctx, "user", "one", "", nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.AddMessage(ctx, "user", "two", "", nil)
			Expect(err).NotTo(HaveOccurred())

			stats, err := m.Statistics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalMessages).To(Equal(2))
			Expect(stats.BufferSize).To(Equal(2))
			Expect(stats.CompressionNeeded).To(BeTrue())
			Expect(stats.Store.TotalMessages).To(Equal(2))
		})
	})
})
