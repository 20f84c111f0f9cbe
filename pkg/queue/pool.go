package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerPool manages a pool of queue workers draining the configured
// queues, plus a background reaper that requeues jobs whose visibility
// timeout expired (spec.md §4.2). Grounded on the teacher's
// pkg/queue/pool.go.
type WorkerPool struct {
	podID   string
	store   Store
	cfg     Config
	handler Handler
	workers []*Worker
	stopCh  chan struct{}
	stopOnce sync.Once
	wg      sync.WaitGroup

	// Job cancel registry: job_id → cancel function, mirrors the
	// teacher's per-session registry so an external cancellation
	// request (e.g. scan abort) can stop in-flight collector work.
	activeJobs map[string]context.CancelFunc
	mu         sync.RWMutex
	started    bool

	reap reapState
}

type reapState struct {
	mu           sync.Mutex
	lastScan     time.Time
	jobsRequeued int
}

// NewWorkerPool creates a worker pool over store, dispatching claimed
// jobs to handler.
func NewWorkerPool(podID string, store Store, cfg Config, handler Handler) *WorkerPool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 2 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = time.Minute
	}
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{"default"}
	}
	return &WorkerPool{
		podID:      podID,
		store:      store,
		cfg:        cfg,
		handler:    handler,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the visibility-timeout reaper. Safe
// to call more than once; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.cfg.WorkerCount)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		w := NewWorker(workerID, p.store, p.cfg, p.handler, p)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runReaper(ctx)
	}()
}

// Stop signals all workers and the reaper to stop, and waits for current
// jobs to finish (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool gracefully")

	active := p.activeJobIDs()
	if len(active) > 0 {
		slog.Info("waiting for active jobs to complete", "count", len(active))
	}

	for _, w := range p.workers {
		w.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped gracefully")
}

// RegisterJob stores a cancel function so CancelJob can abort in-flight
// collector work.
func (p *WorkerPool) RegisterJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// UnregisterJob removes the cancel function once processing ends.
func (p *WorkerPool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

// CancelJob triggers context cancellation for a job on this pod. Returns
// true if found here (spec.md §8: scan cancellation must stop in-flight
// collector work, not just new dispatch).
func (p *WorkerPool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

func (p *WorkerPool) activeJobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		out = append(out, id)
	}
	return out
}

// Health reports aggregate pool status for the readiness endpoint.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	activeJobs, err := p.store.ActiveCount(ctx)
	if err != nil {
		slog.Error("failed to query active job count for health check", "pod_id", p.podID, "error", err)
	}

	depths := make(map[string]int, len(p.cfg.Queues))
	for _, q := range p.cfg.Queues {
		d, derr := p.store.QueueDepth(ctx, q)
		if derr != nil {
			slog.Error("failed to query queue depth", "queue", q, "error", derr)
			continue
		}
		depths[q] = d
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, w := range p.workers {
		stats := w.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	p.reap.mu.Lock()
	lastScan := p.reap.lastScan
	requeued := p.reap.jobsRequeued
	p.reap.mu.Unlock()

	return &PoolHealth{
		IsHealthy:     err == nil && len(p.workers) > 0,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		ActiveJobs:    activeJobs,
		MaxConcurrent: p.cfg.MaxConcurrentJobs,
		QueueDepths:   depths,
		WorkerStats:   workerStats,
		LastReapScan:  lastScan,
		JobsRequeued:  requeued,
	}
}

// runReaper periodically requeues jobs whose visibility deadline expired
// without the claiming worker completing or failing them — the worker's
// pod likely crashed mid-job (spec.md §4.2). All pods run this
// independently; requeue is idempotent under SKIP LOCKED claims.
func (p *WorkerPool) runReaper(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.store.RequeueExpired(ctx)
			if err != nil {
				slog.Error("visibility reaper failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Warn("requeued jobs with expired visibility deadline", "count", n)
			}
			p.reap.mu.Lock()
			p.reap.lastScan = time.Now()
			p.reap.jobsRequeued += n
			p.reap.mu.Unlock()
		}
	}
}
