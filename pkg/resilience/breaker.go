// Package resilience wraps every collector invocation with, outer to
// inner: timeout → circuit breaker → retry with backoff → fallback chain
// (spec.md §4.3). Circuit breaking is backed by sony/gobreaker and retry
// by cenkalti/backoff/v4, the same pairing the corpus's
// r3e-network-service_layer/infrastructure/resilience package wires for
// identical fault-tolerance purposes.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when a breaker fast-fails a call while open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures one (collector, scan-family) circuit breaker
// (spec.md §4.3).
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	Cooldown         time.Duration // time in open state before half-open
	HalfOpenMax      uint32        // requests allowed in half-open before deciding
	OnStateChange    func(collector string, from, to State)
}

// State mirrors gobreaker's three states under the spec's vocabulary.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// defaultMaxCooldown caps the doubling cooldown escalation (spec.md
// §4.3: "failure in half-open → open with doubled cooldown (capped)").
const defaultMaxCooldown = 16 * time.Minute

// breakerEntry pairs a live gobreaker instance with the escalating
// cooldown it was last built with. gobreaker's Timeout is fixed at
// construction, so doubling it means rebuilding the breaker; rebuildFor
// handles re-tripping the replacement straight to Open so the escalation
// takes effect immediately rather than resetting the circuit to closed.
type breakerEntry struct {
	cb       *gobreaker.CircuitBreaker
	cooldown time.Duration
}

// BreakerRegistry holds one CircuitBreaker per (collector, scan-family)
// key, created lazily on first use (spec.md §4.3). ScanFamily groups
// scans that should share breaker state — by default the collector name
// alone, since most deployments run one scan family.
type BreakerRegistry struct {
	mu      sync.Mutex
	entries map[string]*breakerEntry
	cfg     BreakerConfig
}

// NewBreakerRegistry creates a registry using cfg for every breaker it
// lazily constructs.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenMax == 0 {
		cfg.HalfOpenMax = 1
	}
	return &BreakerRegistry{entries: make(map[string]*breakerEntry), cfg: cfg}
}

// newBreaker builds a gobreaker instance for key with the given cooldown
// as its Timeout, wiring OnStateChange to escalate the next cooldown
// whenever a half-open probe fails back to Open.
func (r *BreakerRegistry) newBreaker(key string, cooldown time.Duration) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        key,
		MaxRequests: r.cfg.HalfOpenMax,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(r.cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if r.cfg.OnStateChange != nil {
				r.cfg.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
			}
			if from == gobreaker.StateHalfOpen && to == gobreaker.StateOpen {
				r.escalate(key)
			}
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// escalate doubles key's cooldown (capped) and rebuilds its breaker,
// re-tripping the replacement to Open so the escalated cooldown starts
// counting down immediately in place of the one that just expired.
func (r *BreakerRegistry) escalate(key string) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	next := entry.cooldown * 2
	if next > defaultMaxCooldown {
		next = defaultMaxCooldown
	}
	cb := r.newBreaker(key, next)
	r.entries[key] = &breakerEntry{cb: cb, cooldown: next}
	r.mu.Unlock()

	for i := 0; i < r.cfg.FailureThreshold; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errTrip })
	}
}

var errTrip = errors.New("resilience: internal re-trip")

func (r *BreakerRegistry) breakerFor(key string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e.cb
	}
	cb := r.newBreaker(key, r.cfg.Cooldown)
	r.entries[key] = &breakerEntry{cb: cb, cooldown: r.cfg.Cooldown}
	return cb
}

// Execute runs fn guarded by the breaker for key. Returns ErrCircuitOpen
// without invoking fn if the breaker is open (spec.md §8 property 7:
// "A collector stuck open never executes").
func (r *BreakerRegistry) Execute(_ context.Context, key string, fn func() error) error {
	cb := r.breakerFor(key)
	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the current state of the breaker for key, without
// creating one if it doesn't exist yet.
func (r *BreakerRegistry) State(key string) State {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return fromGobreaker(e.cb.State())
}

// Key builds the (collector, scan-family) breaker key.
func Key(collector, scanFamily string) string {
	if scanFamily == "" {
		return collector
	}
	return collector + "::" + scanFamily
}
