package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligence-platform/core/pkg/clock"
	"github.com/diligence-platform/core/pkg/perrors"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 5, InitialInterval: time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return perrors.Wrap(perrors.TransientNetwork, "web", errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsImmediatelyOnNonRetriableKind(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 5, InitialInterval: time.Millisecond}, func() error {
		attempts++
		return perrors.Wrap(perrors.AuthFailure, "web", errors.New("bad credentials"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond}, func() error {
		attempts++
		return perrors.Wrap(perrors.TransientNetwork, "web", errors.New("still down"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_UsesInjectedClockInsteadOfWallTime(t *testing.T) {
	mock := clock.NewMock(time.Unix(0, 0))
	attempts := 0
	done := make(chan error, 1)

	go func() {
		done <- Retry(context.Background(), RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Hour,
			MaxInterval:     time.Hour,
			Clock:           mock,
		}, func() error {
			attempts++
			if attempts < 3 {
				return perrors.Wrap(perrors.TransientNetwork, "web", errors.New("connection reset"))
			}
			return nil
		})
	}()

	// InitialInterval is an hour: a wall-clock-driven Retry would never
	// finish inside this test's timeout. Driving the mock clock forward
	// from another goroutine proves Retry's waits go through Clock rather
	// than the real timer package.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mock.Advance(time.Hour)
			}
		}
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after the mock clock was advanced; it may be blocked on the real wall clock")
	}
	assert.Equal(t, 3, attempts)
}

func TestChain_FirstSuccessStopsFurtherSteps(t *testing.T) {
	var ran []string
	steps := []Step{
		{Name: "primary", Run: func(context.Context) error {
			ran = append(ran, "primary")
			return errors.New("primary down")
		}},
		{Name: "fallback", Run: func(context.Context) error {
			ran = append(ran, "fallback")
			return nil
		}},
		{Name: "heuristic", Run: func(context.Context) error {
			ran = append(ran, "heuristic")
			return nil
		}},
	}
	attempts, err := Chain(context.Background(), steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "fallback"}, ran)
	assert.Len(t, attempts, 2)
}

func TestChain_AllFailuresReturnsLastError(t *testing.T) {
	steps := []Step{
		{Name: "primary", Run: func(context.Context) error { return errors.New("down") }},
		{Name: "fallback", Run: func(context.Context) error { return errors.New("also down") }},
	}
	attempts, err := Chain(context.Background(), steps)
	require.Error(t, err)
	assert.Equal(t, "also down", err.Error())
	assert.Len(t, attempts, 2)
}

func TestBreakerRegistry_OpensAfterConsecutiveFailures(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})
	key := Key("web-scraper", "")

	fail := func() error { return errors.New("boom") }
	_ = reg.Execute(context.Background(), key, fail)
	_ = reg.Execute(context.Background(), key, fail)

	assert.Equal(t, StateOpen, reg.State(key))

	err := reg.Execute(context.Background(), key, func() error {
		t.Fatal("fn should not run while breaker is open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerRegistry_DoublesCooldownOnHalfOpenFailure(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond, HalfOpenMax: 1})
	key := Key("web-scraper", "")

	require.Error(t, reg.Execute(context.Background(), key, func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, reg.State(key))
	assert.Equal(t, 10*time.Millisecond, reg.entries[key].cooldown)

	time.Sleep(15 * time.Millisecond) // let the breaker become eligible for half-open

	require.Error(t, reg.Execute(context.Background(), key, func() error { return errors.New("still down") }))
	assert.Equal(t, StateOpen, reg.State(key))
	assert.Equal(t, 20*time.Millisecond, reg.entries[key].cooldown)
}

func TestBreakerRegistry_CooldownEscalationCaps(t *testing.T) {
	reg := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: defaultMaxCooldown})
	key := Key("web-scraper", "")
	require.Error(t, reg.Execute(context.Background(), key, func() error { return errors.New("boom") }))
	reg.escalate(key)
	assert.Equal(t, defaultMaxCooldown, reg.entries[key].cooldown)
}
