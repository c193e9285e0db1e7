// Package promotion runs the periodic sweep that moves qualifying
// short-term memories into long-term storage. Each sweep decays and prunes
// the short-term tier, then batches promotion candidates into background
// jobs.
package promotion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/meggy-ai/bruno-core-sub000/pkg/compress"
	"github.com/meggy-ai/bruno-core-sub000/pkg/jobs"
	"github.com/meggy-ai/bruno-core-sub000/pkg/logger"
	"github.com/meggy-ai/bruno-core-sub000/pkg/retrieval"
	"github.com/meggy-ai/bruno-core-sub000/pkg/storage"
)

// Config configures the promotion scheduler. Zero values fall back to the
// listed defaults.
type Config struct {
	// Enabled is the master switch. A disabled scheduler starts but never
	// sweeps.
	Enabled bool
	// Interval between sweeps (default 5m).
	Interval time.Duration
	// MinAccessCount an entry needs before promotion (default 3).
	MinAccessCount int
	// MinRelevance an entry needs before promotion (default 0.8).
	MinRelevance float64
	// MinAge an entry needs before promotion (default 72h).
	MinAge time.Duration
	// BatchSize caps entries per promotion job (default 10).
	BatchSize int
	// Consolidate merges each batch into one fact before promotion.
	Consolidate bool

	// MaintenanceInterval between decay and prune passes (default 24h).
	MaintenanceInterval time.Duration
	// DecayRate is the multiplicative relevance reduction applied per
	// maintenance pass (default 0.1).
	DecayRate float64
	// PruneMaxAgeDays removes entries older than this (default 7).
	PruneMaxAgeDays int
	// PruneMinRelevance removes entries below this score (default 0.3).
	PruneMinRelevance float64

	Store     *storage.Store
	Retriever *retrieval.Retriever
	Pool      *jobs.Pool
	// Compressor, when set, is registered as the pool's promotion job
	// handler.
	Compressor *compress.Compressor
	// Cache, when set, is invalidated after successful promotions.
	Cache  *retrieval.Cache
	Logger *slog.Logger
}

// Stats is a snapshot of scheduler activity.
type Stats struct {
	SweepsPerformed uint64
	CandidatesFound uint64
	JobsSubmitted   uint64
	EntriesDecayed  uint64
	EntriesPruned   uint64
	LastSweep       time.Time
}

// Scheduler periodically promotes short-term memories.
type Scheduler struct {
	cfg   Config
	store *storage.Store
	ret   *retrieval.Retriever
	pool  *jobs.Pool
	log   *slog.Logger

	cron   *rcron.Cron
	paused atomic.Bool

	mu      sync.Mutex
	running bool
	stats   Stats
}

// NewScheduler builds a Scheduler. Store, Retriever and Pool are required.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("promotion scheduler requires a store")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("promotion scheduler requires a retriever")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("promotion scheduler requires a job pool")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MinAccessCount <= 0 {
		cfg.MinAccessCount = 3
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = 0.8
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 72 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = 24 * time.Hour
	}
	if cfg.DecayRate <= 0 {
		cfg.DecayRate = 0.1
	}
	if cfg.PruneMaxAgeDays <= 0 {
		cfg.PruneMaxAgeDays = 7
	}
	if cfg.PruneMinRelevance <= 0 {
		cfg.PruneMinRelevance = 0.3
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	s := &Scheduler{
		cfg:   cfg,
		store: cfg.Store,
		ret:   cfg.Retriever,
		pool:  cfg.Pool,
		log:   cfg.Logger,
	}
	if cfg.Compressor != nil {
		cfg.Pool.Register(jobs.KindPromoteMemories, s.handlePromotion(cfg.Compressor, cfg.Cache))
	}
	return s, nil
}

func (s *Scheduler) handlePromotion(comp *compress.Compressor, cache *retrieval.Cache) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(jobs.PromotePayload)
		if !ok {
			return fmt.Errorf("promotion job carries %T, want jobs.PromotePayload", job.Payload)
		}
		if len(payload.Entries) == 0 {
			return nil
		}

		promoted := comp.PromoteToLTM(ctx, payload.Entries, payload.Consolidate)
		if promoted > 0 && cache != nil {
			cache.InvalidateShortTerm()
			cache.InvalidateLongTerm()
		}
		s.log.Info("promotion job complete",
			"entries", len(payload.Entries), "promoted", promoted)
		return nil
	}
}

// Start schedules the periodic sweep.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.cron = rcron.New()
	sweepSpec := fmt.Sprintf("@every %s", s.cfg.Interval)
	if _, err := s.cron.AddFunc(sweepSpec, func() {
		if s.paused.Load() || !s.cfg.Enabled {
			return
		}
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling promotion sweep: %w", err)
	}
	maintSpec := fmt.Sprintf("@every %s", s.cfg.MaintenanceInterval)
	if _, err := s.cron.AddFunc(maintSpec, func() {
		if s.paused.Load() {
			return
		}
		s.Maintain(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling maintenance pass: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.log.Info("promotion scheduler started",
		"interval", s.cfg.Interval,
		"min_access_count", s.cfg.MinAccessCount,
		"min_relevance", s.cfg.MinRelevance,
		"min_age", s.cfg.MinAge,
		"enabled", s.cfg.Enabled)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cron := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if cron != nil {
		<-cron.Stop().Done()
	}
	s.log.Info("promotion scheduler stopped")
}

// Pause suspends sweeps without stopping the schedule.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume re-enables sweeps after a Pause.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Maintain runs one decay and prune pass over short-term memory. Exported
// so callers can trigger a pass outside the schedule.
func (s *Scheduler) Maintain(ctx context.Context) {
	decayed, err := s.store.DecayShortTermMemories(ctx, s.cfg.DecayRate)
	if err != nil {
		s.log.Error("decay pass failed", "error", err)
	}

	pruned, err := s.store.PruneShortTermMemories(ctx, s.cfg.PruneMaxAgeDays, s.cfg.PruneMinRelevance)
	if err != nil {
		s.log.Error("prune pass failed", "error", err)
	}

	s.mu.Lock()
	s.stats.EntriesDecayed += uint64(decayed)
	s.stats.EntriesPruned += uint64(pruned)
	s.mu.Unlock()

	s.log.Debug("maintenance complete", "decayed", decayed, "pruned", pruned)
}

// Sweep performs one promotion pass: candidate selection and job
// submission. Returns the number of promotion jobs submitted. Exported so
// callers can trigger a pass outside the schedule.
func (s *Scheduler) Sweep(ctx context.Context) int {
	candidates := s.ret.SuggestPromotionCandidates(ctx, retrieval.Criteria{
		MinAccessCount: s.cfg.MinAccessCount,
		MinRelevance:   s.cfg.MinRelevance,
		MinAge:         s.cfg.MinAge,
	})

	submitted := 0
	for start := 0; start < len(candidates); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		err := s.pool.Submit(jobs.Job{
			Kind:     jobs.KindPromoteMemories,
			Priority: jobs.PriorityNormal,
			Payload: jobs.PromotePayload{
				Entries:     batch,
				Consolidate: s.cfg.Consolidate,
			},
		})
		if err != nil {
			s.log.Warn("promotion job not submitted", "entries", len(batch), "error", err)
			continue
		}
		submitted++
		s.log.Info("promotion job submitted", "entries", len(batch))
	}

	s.mu.Lock()
	s.stats.SweepsPerformed++
	s.stats.CandidatesFound += uint64(len(candidates))
	s.stats.JobsSubmitted += uint64(submitted)
	s.stats.LastSweep = time.Now()
	s.mu.Unlock()

	s.log.Debug("sweep complete", "candidates", len(candidates), "jobs", submitted)
	return submitted
}

// Statistics returns a snapshot of sweep counters.
func (s *Scheduler) Statistics() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
