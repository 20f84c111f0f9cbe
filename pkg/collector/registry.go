package collector

import (
	"fmt"
	"sync"
)

// Registry maps collector names to instances and exposes ordered lookup
// by capability. Populated at startup and read-only afterward — the only
// piece of global mutable state this is permitted to be is the
// construction step itself (spec.md §5, §9).
type Registry struct {
	mu        sync.RWMutex
	collectors map[string]Collector
	disabled   map[string]bool

	// byCapability records registration order per capability; priority is
	// the configured registration order (spec.md §4.1 "Selection by
	// capability uses the configured priority order").
	byCapability map[Capability][]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		collectors:   make(map[string]Collector),
		disabled:     make(map[string]bool),
		byCapability: make(map[Capability][]string),
	}
}

// Register adds a collector to the registry in priority order (later
// registrations for the same capability rank lower in capability lookup).
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[c.Name()] = c
	for _, cap := range c.Capabilities() {
		r.byCapability[cap] = append(r.byCapability[cap], c.Name())
	}
}

// Disable marks a collector invisible to capability lookup without
// removing it from the registry (so it can still be re-enabled or looked
// up by name for diagnostics).
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[name] = true
}

// Enable clears a previous Disable.
func (r *Registry) Enable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, name)
}

// Get looks up a collector by name. A disabled collector is still
// returned by name (Disable only hides it from capability lookup).
func (r *Registry) Get(name string) (Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[name]
	if !ok {
		return nil, fmt.Errorf("collector %q not registered", name)
	}
	return c, nil
}

// ByCapability returns collectors advertising cap, in configured priority
// order, excluding disabled collectors.
func (r *Registry) ByCapability(cap Capability) []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.byCapability[cap]
	out := make([]Collector, 0, len(names))
	for _, name := range names {
		if r.disabled[name] {
			continue
		}
		if c, ok := r.collectors[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Names returns all registered collector names, including disabled ones.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		out = append(out, name)
	}
	return out
}
