package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// WorkerStatus reports whether a Worker is idle or processing a job.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// JobRegistry is the subset of WorkerPool a Worker uses to register jobs
// for external cancellation.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// Worker polls its pool's queues round-robin, claims jobs, and dispatches
// them to a Handler, heartbeating the visibility deadline while the
// handler runs. Grounded on the teacher's pkg/queue/worker.go.
type Worker struct {
	id      string
	store   Store
	cfg     Config
	handler Handler
	pool    JobRegistry
	stopCh  chan struct{}
	stopOnce sync.Once
	wg      sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a queue worker.
func NewWorker(id string, store Store, cfg Config, handler Handler, pool JobRegistry) *Worker {
	return &Worker{
		id:           id,
		store:        store,
		cfg:          cfg,
		handler:      handler,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for its current job to
// finish. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health reports the worker's current status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	queueIdx := 0
	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			queue := w.cfg.Queues[queueIdx%len(w.cfg.Queues)]
			queueIdx++
			if err := w.pollAndProcess(ctx, queue); err != nil {
				if errors.Is(err, ErrNoJobAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing job", "queue", queue, "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) pollAndProcess(ctx context.Context, queueName string) error {
	if w.cfg.MaxConcurrentJobs > 0 {
		active, err := w.store.ActiveCount(ctx)
		if err != nil {
			return err
		}
		if active >= w.cfg.MaxConcurrentJobs {
			return ErrAtCapacity
		}
	}

	job, err := w.store.ClaimNextJob(ctx, queueName, w.cfg.VisibilityTimeout)
	if err != nil {
		return err
	}

	log := slog.With("job_id", job.ID, "collector", job.Collector, "worker_id", w.id)
	log.Info("job claimed")

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.pool.RegisterJob(job.ID, cancel)
	defer w.pool.UnregisterJob(job.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	go w.runHeartbeat(heartbeatCtx, job.ID)

	handleErr := w.handler.Handle(jobCtx, *job)
	cancelHeartbeat()

	if handleErr != nil {
		log.Warn("job handler failed", "error", handleErr)
		if failErr := w.store.FailJob(context.Background(), job.ID, handleErr.Error()); failErr != nil {
			log.Error("failed to record job failure", "error", failErr)
			return failErr
		}
	} else {
		if completeErr := w.store.CompleteJob(context.Background(), job.ID); completeErr != nil {
			log.Error("failed to mark job complete", "error", completeErr)
			return completeErr
		}
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("job processing complete", "failed", handleErr != nil)
	return nil
}

// runHeartbeat periodically extends the job's visibility deadline so the
// reaper doesn't requeue work that's still in progress.
func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.ExtendVisibility(ctx, jobID, w.cfg.VisibilityTimeout); err != nil {
				slog.Warn("heartbeat extend failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
