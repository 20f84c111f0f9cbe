// Package queue provides durable, named, priority-ordered job queues for
// collector work, plus the worker pool that drains them (spec.md §4.2).
//
// Grounded on the teacher's pkg/queue package: WorkerPool/Worker own
// claim → execute → terminal-status lifecycle, a session cancel registry
// for external cancellation, and ticker-driven background reconciliation
// (orphan.go's runOrphanDetection). Generalized from a single
// alert-session table to named queues of CollectorJob, and from ent
// queries to a Store interface implemented over pgx (spec.md drops ent
// since it requires code generation this exercise cannot run).
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/diligence-platform/core/pkg/models"
)

// ErrNoJobAvailable indicates no ready job exists in the polled queue.
var ErrNoJobAvailable = errors.New("no job available")

// ErrAtCapacity indicates the global concurrent job limit has been reached.
var ErrAtCapacity = errors.New("at capacity")

// Store is the persistence contract the queue subsystem depends on.
// Implemented by pkg/database over Postgres with SELECT ... FOR UPDATE
// SKIP LOCKED claim semantics, mirroring the teacher's
// worker.claimNextSession (spec.md §4.2).
type Store interface {
	// EnqueueJob inserts a new job in Pending status.
	EnqueueJob(ctx context.Context, job models.CollectorJob) error

	// ClaimNextJob atomically claims the highest-priority ready job on
	// queueName (Ready() == true: Pending, or Running with an expired
	// VisibilityDeadline), sets it Running with a fresh
	// VisibilityDeadline, and returns it. Returns ErrNoJobAvailable if
	// none are ready.
	ClaimNextJob(ctx context.Context, queueName string, visibilityTimeout time.Duration) (*models.CollectorJob, error)

	// ExtendVisibility pushes a claimed job's VisibilityDeadline forward
	// (the heartbeat), proving the worker holding it is still alive.
	ExtendVisibility(ctx context.Context, jobID string, visibilityTimeout time.Duration) error

	// CompleteJob marks a job Succeeded.
	CompleteJob(ctx context.Context, jobID string) error

	// FailJob records a failed attempt. If attempt < maxAttempts it is
	// returned to Pending for a future claim; otherwise it is moved to
	// the dead-letter queue (spec.md §4.2).
	FailJob(ctx context.Context, jobID string, errMsg string) error

	// ActiveCount returns the number of jobs currently Running across
	// all queues, for capacity checks.
	ActiveCount(ctx context.Context) (int, error)

	// QueueDepth returns the number of Pending jobs on queueName.
	QueueDepth(ctx context.Context, queueName string) (int, error)

	// GetJob fetches a single job by ID, for callers (the Orchestrator)
	// polling toward stage completion.
	GetJob(ctx context.Context, jobID string) (*models.CollectorJob, error)

	// RequeueExpired finds Running jobs whose VisibilityDeadline has
	// passed (the worker holding them died without completing or
	// failing them) and returns them to Pending, incrementing Attempt.
	// Returns the count requeued.
	RequeueExpired(ctx context.Context) (int, error)
}

// Handler processes one claimed job. Returning an error causes FailJob
// semantics (retry-then-dead-letter); returning nil marks it complete.
type Handler interface {
	Handle(ctx context.Context, job models.CollectorJob) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job models.CollectorJob) error

func (f HandlerFunc) Handle(ctx context.Context, job models.CollectorJob) error { return f(ctx, job) }

// Config tunes polling, capacity, and timing for the worker pool
// (spec.md §9).
type Config struct {
	WorkerCount             int
	Queues                  []string // queue names polled round-robin
	MaxConcurrentJobs       int
	VisibilityTimeout       time.Duration
	HeartbeatInterval       time.Duration
	PollInterval            time.Duration
	PollIntervalJitter      time.Duration
	ReaperInterval          time.Duration
	MaxAttemptsDefault      int
}

// PoolHealth reports aggregate worker pool status (spec.md §7 readiness).
type PoolHealth struct {
	IsHealthy      bool
	ActiveWorkers  int
	TotalWorkers   int
	ActiveJobs     int
	MaxConcurrent  int
	QueueDepths    map[string]int
	WorkerStats    []WorkerHealth
	LastReapScan   time.Time
	JobsRequeued   int
}

// WorkerHealth reports a single worker's status.
type WorkerHealth struct {
	ID                string
	Status            string // "idle" or "working"
	CurrentJobID      string
	JobsProcessed     int
	LastActivity      time.Time
}
