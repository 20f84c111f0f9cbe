package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/diligence-platform/core/pkg/models"
)

// memStore is an in-memory Store fake for unit-testing the worker pool
// without a database, mirroring the claim/complete/fail/requeue contract
// a pgx-backed Store implements.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.CollectorJob
	seq  int
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*models.CollectorJob)}
}

func (s *memStore) EnqueueJob(_ context.Context, job models.CollectorJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.Status = models.JobPending
	cp := job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) ClaimNextJob(_ context.Context, queueName string, visibilityTimeout time.Duration) (*models.CollectorJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*models.CollectorJob
	now := time.Now()
	for _, j := range s.jobs {
		if j.QueueName != queueName {
			continue
		}
		if j.Ready(now) || (j.Status == models.JobRunning && j.VisibilityDeadline.Before(now)) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoJobAvailable
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].EnqueuedAt.Before(candidates[j].EnqueuedAt)
	})
	claimed := candidates[0]
	claimed.Status = models.JobRunning
	claimed.VisibilityDeadline = now.Add(visibilityTimeout)
	cp := *claimed
	return &cp, nil
}

func (s *memStore) ExtendVisibility(_ context.Context, jobID string, visibilityTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	j.VisibilityDeadline = time.Now().Add(visibilityTimeout)
	return nil
}

func (s *memStore) CompleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok {
		j.Status = models.JobSucceeded
	}
	return nil
}

func (s *memStore) FailJob(_ context.Context, jobID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	j.Attempt++
	j.LastError = errMsg
	if j.Attempt >= j.MaxAttempts {
		j.Status = models.JobDeadLettered
		return nil
	}
	j.Status = models.JobPending
	return nil
}

func (s *memStore) ActiveCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobRunning {
			n++
		}
	}
	return n, nil
}

func (s *memStore) QueueDepth(_ context.Context, queueName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.QueueName == queueName && j.Status == models.JobPending {
			n++
		}
	}
	return n, nil
}

func (s *memStore) RequeueExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobRunning && j.VisibilityDeadline.Before(now) {
			j.Status = models.JobPending
			j.Attempt++
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetJob(_ context.Context, jobID string) (*models.CollectorJob, error) {
	return s.get(jobID), nil
}

func (s *memStore) get(jobID string) *models.CollectorJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	cp := *j
	return &cp
}
