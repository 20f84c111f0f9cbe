package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/diligence-platform/core/pkg/clock"
	"github.com/diligence-platform/core/pkg/perrors"
)

// RetryConfig configures exponential backoff with jitter for one retry
// loop (spec.md §4.3). Zero values fall back to sane defaults. Clock
// drives every wait Retry performs (spec.md §9 "Clock dependence"),
// defaulting to the real wall clock so production callers don't need to
// wire it; tests inject a clock.Mock for deterministic, sleep-free runs.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Clock           clock.Clock
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 250 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.Clock == nil {
		c.Clock = clock.Default
	}
	return c
}

// clockTimer adapts clock.Clock to backoff.Timer so RetryNotifyWithTimer's
// between-attempt waits are driven by the injected clock instead of
// hitting the real timer package directly.
type clockTimer struct {
	clock clock.Clock
	ch    <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) { t.ch = t.clock.After(d) }
func (t *clockTimer) Stop()                 {}
func (t *clockTimer) C() <-chan time.Time   { return t.ch }

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff,
// honoring perrors.Kind.Retriable() — a non-retriable error (spec.md §4.3,
// e.g. auth failure or invalid input) returns immediately without
// consuming further attempts. If the error carries a RetryAfter hint
// (rate limiting), that hint overrides the computed backoff interval.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.Multiplier = cfg.Multiplier
	bo.MaxElapsedTime = 0 // bounded by attempt count, not elapsed wall time

	withCtx := backoff.WithContext(bo, ctx)

	attempt := 0
	var lastErr error
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		kind := perrors.KindOf(err)
		if !kind.Retriable() {
			return backoff.Permanent(err)
		}
		// Internal errors are unexpected by definition (spec.md §7): give
		// them exactly one retry, then treat as fatal regardless of
		// cfg.MaxAttempts.
		if kind == perrors.Internal && attempt >= 2 {
			return backoff.Permanent(err)
		}
		if attempt >= cfg.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if ra := retryAfterOf(err); ra > 0 {
			<-cfg.Clock.After(ra)
		}
	}

	timer := &clockTimer{clock: cfg.Clock}
	if err := backoff.RetryNotifyWithTimer(op, withCtx, notify, timer); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func retryAfterOf(err error) time.Duration {
	var ce *perrors.CollectorError
	for e := err; e != nil; {
		if asCE, ok := e.(*perrors.CollectorError); ok {
			ce = asCE
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ce == nil || ce.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(ce.RetryAfter) * time.Second
}
