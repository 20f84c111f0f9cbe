// Package perrors defines the error taxonomy shared by collectors, the
// Resilience Layer, and the Pipeline Orchestrator. Errors are classified
// by Kind so retry, circuit-breaker, and stage-failure policy can be
// decided generically instead of switching on concrete error types.
package perrors

import "fmt"

// Kind classifies a collector/analyzer error for resilience and
// orchestration decisions.
type Kind string

const (
	TransientNetwork Kind = "transient_network"
	RateLimited      Kind = "rate_limited"
	Timeout          Kind = "timeout"
	AuthFailure      Kind = "auth_failure"
	InvalidInput     Kind = "invalid_input"
	UpstreamMalformed Kind = "upstream_malformed"
	Canceled         Kind = "canceled"
	Internal         Kind = "internal"
)

// Retriable reports whether an error of this kind should be reattempted by
// the Resilience Layer's retry policy.
func (k Kind) Retriable() bool {
	switch k {
	case TransientNetwork, RateLimited, Timeout:
		return true
	case Internal:
		// Retriable so the first retry happens; resilience.Retry caps
		// Internal specifically to one retry regardless of
		// RetryConfig.MaxAttempts (spec.md §7).
		return true
	default:
		return false
	}
}

// CountsTowardBreaker reports whether a failure of this kind should count
// as a circuit-breaker failure. Canceled errors are excluded per spec:
// cancellation is not a sign of an unhealthy dependency.
func (k Kind) CountsTowardBreaker() bool {
	return k != Canceled
}

// CollectorError is the structured error returned by collectors and
// analyzers. Wrap underlying errors with Wrap so %w unwrapping still works.
type CollectorError struct {
	Kind       Kind
	Collector  string
	RetryAfter int // seconds; only meaningful for RateLimited
	Err        error
}

func (e *CollectorError) Error() string {
	if e.Collector != "" {
		return fmt.Sprintf("%s: %s: %v", e.Collector, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CollectorError) Unwrap() error { return e.Err }

// Wrap builds a CollectorError of the given kind.
func Wrap(kind Kind, collector string, err error) *CollectorError {
	return &CollectorError{Kind: kind, Collector: collector, Err: err}
}

// WrapRateLimited builds a RateLimited CollectorError carrying a retryAfter hint.
func WrapRateLimited(collector string, retryAfter int, err error) *CollectorError {
	return &CollectorError{Kind: RateLimited, Collector: collector, RetryAfter: retryAfter, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *CollectorError; otherwise defaults to Internal.
func KindOf(err error) Kind {
	var ce *CollectorError
	if asCollectorError(err, &ce) {
		return ce.Kind
	}
	return Internal
}

func asCollectorError(err error, target **CollectorError) bool {
	for err != nil {
		if ce, ok := err.(*CollectorError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ValidationError reports a scan-intake input problem (InvalidInput kind,
// surfaced directly to the caller). Grounded on the teacher's
// config.ValidationError shape, generalized beyond config loading.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a ValidationError.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}
