package models

import "time"

// JobStatus is the lifecycle status of a CollectorJob as it moves through
// the Queue Subsystem.
type JobStatus string

const (
	JobPending      JobStatus = "pending"
	JobRunning      JobStatus = "running"
	JobSucceeded    JobStatus = "succeeded"
	JobFailed       JobStatus = "failed"
	JobDeadLettered JobStatus = "dead_lettered"
)

// CollectorJob is a unit of work enqueued for a named collector. Created
// by the Orchestrator; mutated by the Queue Subsystem and workers;
// removed after terminal state plus a retention window (spec.md §3).
type CollectorJob struct {
	ID                string         `json:"id"`
	ScanID            string         `json:"scan_id"`
	QueueName         string         `json:"queue_name"` // job kind: search, web-scrape, tech-detect, ...
	Collector         string         `json:"collector"`
	Payload           map[string]any `json:"payload"`
	Priority          int            `json:"priority"` // 0-9, higher first
	Attempt           int            `json:"attempt"`
	MaxAttempts       int            `json:"max_attempts"`
	Status            JobStatus      `json:"status"`
	EnqueuedAt        time.Time      `json:"enqueued_at"`
	ScheduledAt       time.Time      `json:"scheduled_at"` // earliest claim time (backoff delay)
	VisibilityDeadline time.Time     `json:"visibility_deadline,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
}

// Ready reports whether the job may be claimed now: pending and past its
// scheduled time.
func (j CollectorJob) Ready(now time.Time) bool {
	return j.Status == JobPending && !j.ScheduledAt.After(now)
}
