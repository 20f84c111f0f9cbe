package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligence-platform/core/pkg/models"
)

func TestPoolRegisterAndCancelJob(t *testing.T) {
	pool := &WorkerPool{activeJobs: make(map[string]context.CancelFunc)}

	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterJob("job-1", cancel)

	assert.True(t, pool.CancelJob("job-1"))
	assert.Error(t, ctx.Err())
	assert.False(t, pool.CancelJob("unknown"))
}

func TestPoolUnregisterJob(t *testing.T) {
	pool := &WorkerPool{activeJobs: make(map[string]context.CancelFunc)}
	_, cancel := context.WithCancel(context.Background())
	pool.RegisterJob("job-1", cancel)
	assert.True(t, pool.CancelJob("job-1"))

	pool.UnregisterJob("job-1")
	assert.False(t, pool.CancelJob("job-1"))
}

func TestWorkerPool_ProcessesEnqueuedJobThroughHandler(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.EnqueueJob(context.Background(), models.CollectorJob{
		ID:          "job-1",
		QueueName:   "web-scrape",
		Collector:   "web-scraper",
		MaxAttempts: 3,
		EnqueuedAt:  time.Now(),
	}))

	var handled sync.WaitGroup
	handled.Add(1)
	var seenJobID string
	var mu sync.Mutex
	handler := HandlerFunc(func(_ context.Context, job models.CollectorJob) error {
		mu.Lock()
		seenJobID = job.ID
		mu.Unlock()
		handled.Done()
		return nil
	})

	pool := NewWorkerPool("pod-1", store, Config{
		WorkerCount:  1,
		Queues:       []string{"web-scrape"},
		PollInterval: time.Millisecond,
	}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	waitOrTimeout(t, &handled, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "job-1", seenJobID)
	assert.Equal(t, models.JobSucceeded, store.get("job-1").Status)
}

func TestWorkerPool_FailedJobRetriesThenDeadLetters(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.EnqueueJob(context.Background(), models.CollectorJob{
		ID:          "job-2",
		QueueName:   "web-scrape",
		Collector:   "web-scraper",
		MaxAttempts: 2,
		EnqueuedAt:  time.Now(),
	}))

	var attempts int
	var mu sync.Mutex
	done := make(chan struct{})
	handler := HandlerFunc(func(_ context.Context, job models.CollectorJob) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n >= 2 {
			close(done)
		}
		return errors.New("collector unavailable")
	})

	pool := NewWorkerPool("pod-1", store, Config{
		WorkerCount:  1,
		Queues:       []string{"web-scrape"},
		PollInterval: time.Millisecond,
	}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both attempts")
	}
	// Give the second FailJob call a moment to land.
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, models.JobDeadLettered, store.get("job-2").Status)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for handler")
	}
}
