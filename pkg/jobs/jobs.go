// Package jobs provides a bounded priority job queue with a fixed worker
// pool. Memory maintenance work (fact extraction, conversation compression,
// memory promotion) runs here so it never blocks the conversational hot
// path.
package jobs

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meggy-ai/bruno-core-sub000/pkg/logger"
)

// Kind identifies the type of work a job carries.
type Kind string

const (
	KindExtractFacts         Kind = "extract-facts"
	KindCompressConversation Kind = "compress-conversation"
	KindPromoteMemories      Kind = "promote-memories"
)

// Priorities. Lower numbers run first.
const (
	PriorityHigh   = 1
	PriorityNormal = 2
	PriorityLow    = 3
)

var (
	defaultWorkers   = 2
	defaultQueueSize = 100
)

// ErrQueueFull is returned by Submit when the queue is at capacity.
var ErrQueueFull = errors.New("job queue full")

// Job is one unit of queued work.
type Job struct {
	Kind     Kind
	Priority int
	// Payload is handed to the kind's handler untouched.
	Payload any

	seq        uint64
	enqueuedAt time.Time
}

// Handler executes a dequeued job.
type Handler func(ctx context.Context, job Job) error

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted uint64
	Rejected  uint64
	Completed uint64
	Failed    uint64
	Pending   int
}

// Config configures a Pool.
type Config struct {
	// Workers is the number of worker goroutines (defaults to 2).
	Workers int
	// QueueSize is the maximum number of queued jobs (defaults to 100).
	QueueSize int
	Logger    *slog.Logger
}

// Pool is a fixed-size worker pool over a bounded priority queue. Equal
// priorities run in submission order.
type Pool struct {
	workers  int
	capacity int
	log      *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   jobHeap
	nextSeq uint64
	started bool
	closed  bool

	handlers map[Kind]Handler
	wg       sync.WaitGroup

	submitted atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewPool creates a pool. Register handlers, then call Start.
func NewPool(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	capacity := cfg.QueueSize
	if capacity <= 0 {
		capacity = defaultQueueSize
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	p := &Pool{
		workers:  workers,
		capacity: capacity,
		log:      log,
		handlers: make(map[Kind]Handler),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Register sets the handler for a job kind. Must be called before Start;
// registering a kind twice replaces the handler.
func (p *Pool) Register(kind Kind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker(i)
	}
	p.log.Debug("job pool started", "workers", p.workers, "queue_size", p.capacity)
}

// Submit enqueues a job without blocking. A full queue rejects the job with
// ErrQueueFull; the caller decides whether the loss matters.
func (p *Pool) Submit(job Job) error {
	if job.Priority <= 0 {
		job.Priority = PriorityNormal
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.rejected.Add(1)
		return fmt.Errorf("submitting %s job: pool stopped", job.Kind)
	}
	if p.queue.Len() >= p.capacity {
		p.mu.Unlock()
		p.rejected.Add(1)
		p.log.Error("job rejected, queue full", "kind", job.Kind, "capacity", p.capacity)
		return fmt.Errorf("submitting %s job: %w", job.Kind, ErrQueueFull)
	}

	p.nextSeq++
	job.seq = p.nextSeq
	job.enqueuedAt = time.Now()
	heap.Push(&p.queue, job)
	p.mu.Unlock()

	p.submitted.Add(1)
	p.cond.Signal()
	p.log.Debug("job queued", "kind", job.Kind, "priority", job.Priority)
	return nil
}

// Stop prevents new submissions and waits up to timeout for queued jobs to
// drain. On timeout the remaining jobs are abandoned and an error returned.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Debug("job pool stopped")
		return nil
	case <-time.After(timeout):
		p.mu.Lock()
		pending := p.queue.Len()
		p.mu.Unlock()
		p.log.Warn("job pool stop timed out", "pending", pending)
		return fmt.Errorf("stopping job pool: %d jobs still pending after %s", pending, timeout)
	}
}

// Statistics returns a snapshot of the pool's counters.
func (p *Pool) Statistics() Stats {
	p.mu.Lock()
	pending := p.queue.Len()
	p.mu.Unlock()

	return Stats{
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Pending:   pending,
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.log.Debug("worker started", "worker_id", id)

	for {
		p.mu.Lock()
		for p.queue.Len() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.queue.Len() == 0 && p.closed {
			p.mu.Unlock()
			p.log.Debug("worker stopped", "worker_id", id)
			return
		}
		job := heap.Pop(&p.queue).(Job)
		p.mu.Unlock()

		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	handler, ok := p.handlers[job.Kind]
	if !ok {
		p.failed.Add(1)
		p.log.Error("no handler for job kind", "kind", job.Kind)
		return
	}

	start := time.Now()
	if err := handler(context.Background(), job); err != nil {
		p.failed.Add(1)
		p.log.Error("job failed", "kind", job.Kind, "error", err,
			"queued_for", start.Sub(job.enqueuedAt))
		return
	}

	p.completed.Add(1)
	p.log.Debug("job completed", "kind", job.Kind,
		"duration", time.Since(start), "queued_for", start.Sub(job.enqueuedAt))
}

// jobHeap orders jobs by priority (lowest number first), then submission
// order.
type jobHeap []Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	*h = old[:n-1]
	return job
}
