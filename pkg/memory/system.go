// Package memory assembles the tiered memory subsystem: persistent store,
// ranking cache, retriever, compression engine, background job pool,
// promotion scheduler and conversation manager, wired from configuration.
package memory

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/meggy-ai/bruno-core-sub000/pkg/compress"
	"github.com/meggy-ai/bruno-core-sub000/pkg/config"
	"github.com/meggy-ai/bruno-core-sub000/pkg/conversation"
	"github.com/meggy-ai/bruno-core-sub000/pkg/jobs"
	"github.com/meggy-ai/bruno-core-sub000/pkg/llm"
	"github.com/meggy-ai/bruno-core-sub000/pkg/logger"
	"github.com/meggy-ai/bruno-core-sub000/pkg/promotion"
	"github.com/meggy-ai/bruno-core-sub000/pkg/retrieval"
	"github.com/meggy-ai/bruno-core-sub000/pkg/storage"
)

// System is the fully wired memory subsystem.
type System struct {
	Store      *storage.Store
	Cache      *retrieval.Cache
	Retriever  *retrieval.Retriever
	Generator  llm.Generator
	Compressor *compress.Compressor
	Pool       *jobs.Pool
	Scheduler  *promotion.Scheduler
	Manager    *conversation.Manager

	log *slog.Logger
}

// NewSystem wires every component from cfg. Nothing runs until Start.
func NewSystem(cfg *config.Config, log *slog.Logger) (*System, error) {
	if log == nil {
		log = logger.Nop()
	}

	store, err := storage.New(cfg.Storage.SQLitePath, log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	cache, err := retrieval.NewCache(
		cfg.Retrieval.CacheMaxEntries,
		time.Duration(cfg.Retrieval.CacheTTLSeconds)*time.Second,
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building ranking cache: %w", err)
	}

	retriever := retrieval.New(retrieval.Config{
		Store:  store,
		Cache:  cache,
		Logger: log,
	})

	client, err := llm.NewClient(llm.ClientConfig{
		Target:  cfg.LLM.Target,
		Model:   cfg.LLM.Model,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Logger:  log,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building generation client: %w", err)
	}

	compressor := compress.New(compress.Config{
		Store:     store,
		Generator: client,
		Threshold: cfg.Compression.MessageThreshold,
		Logger:    log,
	})

	pool := jobs.NewPool(jobs.Config{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Logger:    log,
	})

	scheduler, err := promotion.NewScheduler(promotion.Config{
		Enabled:        cfg.Promotion.Enabled,
		Interval:       time.Duration(cfg.Promotion.IntervalSeconds) * time.Second,
		MinAccessCount: cfg.Promotion.MinAccessCount,
		MinRelevance:   cfg.Promotion.MinRelevance,
		MinAge:         time.Duration(cfg.Promotion.MinAgeDays * 24 * float64(time.Hour)),
		BatchSize:      cfg.Promotion.BatchSize,
		Consolidate:    cfg.Promotion.Consolidate,
		Store:          store,
		Retriever:      retriever,
		Pool:           pool,
		Compressor:     compressor,
		Cache:          cache,
		Logger:         log,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building promotion scheduler: %w", err)
	}

	manager, err := conversation.NewManager(conversation.Config{
		Store:                store,
		Compressor:           compressor,
		Pool:                 pool,
		Cache:                cache,
		BufferSize:           cfg.Conversation.BufferSize,
		CompressionThreshold: cfg.Compression.MessageThreshold,
		DeferWindow:          time.Duration(cfg.Compression.DeferSeconds) * time.Second,
		Logger:               log,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building conversation manager: %w", err)
	}

	return &System{
		Store:      store,
		Cache:      cache,
		Retriever:  retriever,
		Generator:  client,
		Compressor: compressor,
		Pool:       pool,
		Scheduler:  scheduler,
		Manager:    manager,
		log:        log,
	}, nil
}

// Start launches the background workers and the promotion schedule.
func (s *System) Start() error {
	s.Pool.Start()
	if err := s.Scheduler.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	s.log.Info("memory subsystem started")
	return nil
}

// Close drains background work and releases resources. Queued jobs get up
// to timeout to finish.
func (s *System) Close(timeout time.Duration) error {
	s.Scheduler.Stop()

	var firstErr error
	if err := s.Pool.Stop(timeout); err != nil {
		firstErr = err
	}
	s.Cache.Close()
	if err := s.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.log.Info("memory subsystem stopped")
	return firstErr
}
