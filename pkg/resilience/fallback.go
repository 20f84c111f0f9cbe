package resilience

import (
	"context"

	"github.com/diligence-platform/core/pkg/perrors"
)

// Step is one link in a fallback chain: a named action plus the function
// that performs it. Grounded on r3e-network-service_layer's
// infrastructure/fallback.Handler, generalized from a single
// primary-plus-fallbacks pair to an ordered chain so the Heuristic
// collector can always sit last (spec.md §4.3).
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Attempt records the outcome of one Step for observability/logging.
type Attempt struct {
	Name string
	Err  error
}

// Chain runs steps in order, stopping at the first success. It returns
// the attempts made (for logging/progress events) and the final error if
// every step failed. A step whose error Kind is not CountsTowardBreaker
// (e.g. context canceled) aborts the chain immediately rather than
// falling through to the next step, since falling through on
// cancellation would do pointless work.
func Chain(ctx context.Context, steps []Step) ([]Attempt, error) {
	var attempts []Attempt
	var lastErr error
	for _, step := range steps {
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
		err := step.Run(ctx)
		attempts = append(attempts, Attempt{Name: step.Name, Err: err})
		if err == nil {
			return attempts, nil
		}
		lastErr = err
		if !perrors.KindOf(err).CountsTowardBreaker() {
			return attempts, err
		}
	}
	return attempts, lastErr
}
