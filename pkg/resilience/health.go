package resilience

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Pinger is implemented by anything a HealthMonitor can probe. Collectors
// that support cheap liveness checks (e.g. a HEAD request) implement this
// optionally; collectors that don't are reported healthy by default.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Level is the three-way health classification spec.md §4.3 requires the
// Health Monitor to emit per collector.
type Level int

const (
	LevelHealthy Level = iota
	LevelDegraded
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	default:
		return "healthy"
	}
}

// outcomeWindow caps how many recent invocation outcomes feed the
// success-rate and latency-percentile computation (spec.md §4.3: "tracks
// per-collector success rate, latency percentiles, and open-circuit
// count").
const outcomeWindow = 128

// Status captures the last health probe outcome for one collector plus
// its rolling success-rate/latency classification.
type Status struct {
	Collector   string
	Healthy     bool
	LastCheck   time.Time
	Error       string
	Breaker     State
	Level       Level
	SuccessRate float64
	P95Latency  time.Duration
}

// collectorStats is the rolling window of real invocation outcomes
// (distinct from the periodic Pinger-based liveness probe): every
// RecordOutcome call from the Resilience Layer appends here, so
// SuccessRate and latency percentiles reflect actual collection traffic
// rather than synthetic pings.
type collectorStats struct {
	outcomes []outcome // ring buffer, oldest overwritten first
	next     int
	filled   int
}

type outcome struct {
	success bool
	latency time.Duration
}

func (s *collectorStats) record(success bool, latency time.Duration) {
	if len(s.outcomes) < outcomeWindow {
		s.outcomes = append(s.outcomes, outcome{success, latency})
	} else {
		s.outcomes[s.next] = outcome{success, latency}
		s.next = (s.next + 1) % outcomeWindow
	}
	if s.filled < outcomeWindow {
		s.filled++
	}
}

func (s *collectorStats) successRate() float64 {
	if len(s.outcomes) == 0 {
		return 1
	}
	ok := 0
	for _, o := range s.outcomes {
		if o.success {
			ok++
		}
	}
	return float64(ok) / float64(len(s.outcomes))
}

func (s *collectorStats) p95() time.Duration {
	if len(s.outcomes) == 0 {
		return 0
	}
	lat := make([]time.Duration, len(s.outcomes))
	for i, o := range s.outcomes {
		lat[i] = o.latency
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	idx := int(float64(len(lat)) * 0.95)
	if idx >= len(lat) {
		idx = len(lat) - 1
	}
	return lat[idx]
}

// classify implements spec.md §4.3's three thresholds from success rate
// and breaker state: an open breaker always means critical regardless of
// the historical rate, since it means the collector is currently being
// fast-failed.
func classify(successRate float64, breaker State) Level {
	if breaker == StateOpen {
		return LevelCritical
	}
	switch {
	case successRate >= 0.8:
		return LevelHealthy
	case successRate >= 0.5:
		return LevelDegraded
	default:
		return LevelCritical
	}
}

// HealthMonitor periodically probes registered collectors in the
// background and tracks circuit breaker state, surfaced through the
// readiness endpoint (spec.md §7). Grounded on the teacher's
// pkg/mcp/health.go Start/Stop/loop shape, generalized from MCP servers
// to arbitrary collectors and simplified since collectors have no
// persistent session to reinitialize.
type HealthMonitor struct {
	pingers  map[string]Pinger
	breakers *BreakerRegistry
	interval time.Duration
	timeout  time.Duration

	mu       sync.RWMutex
	statuses map[string]*Status
	stats    map[string]*collectorStats

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthMonitor creates a monitor over the given pingers (keyed by
// collector name). breakers may be nil if breaker state shouldn't be
// reported.
func NewHealthMonitor(pingers map[string]Pinger, breakers *BreakerRegistry, interval, timeout time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		pingers:  pingers,
		breakers: breakers,
		interval: interval,
		timeout:  timeout,
		statuses: make(map[string]*Status),
		stats:    make(map[string]*collectorStats),
		logger:   slog.Default().With("component", "health_monitor"),
	}
}

// RecordOutcome feeds one real collector invocation's result into the
// rolling success-rate/latency window (spec.md §4.3). Called by the
// Resilience Layer after every attempt, independent of the periodic
// Pinger-based probe loop.
func (m *HealthMonitor) RecordOutcome(collector string, success bool, latency time.Duration) {
	m.mu.Lock()
	st, ok := m.stats[collector]
	if !ok {
		st = &collectorStats{}
		m.stats[collector] = st
	}
	st.record(success, latency)
	rate, p95 := st.successRate(), st.p95()
	breaker := StateClosed
	if m.breakers != nil {
		breaker = m.breakers.State(collector)
	}
	existing, had := m.statuses[collector]
	level := classify(rate, breaker)
	status := &Status{
		Collector:   collector,
		Healthy:     level != LevelCritical,
		SuccessRate: rate,
		P95Latency:  p95,
		Breaker:     breaker,
		Level:       level,
	}
	if had {
		status.LastCheck = existing.LastCheck
		status.Error = existing.Error
	}
	m.statuses[collector] = status
	m.mu.Unlock()
}

// Level reports collector's current three-way health classification,
// defaulting to healthy when nothing has been recorded yet (spec.md
// §4.4: "the Orchestrator reads health before starting optional stages").
func (m *HealthMonitor) Level(collector string) Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.statuses[collector]; ok {
		return st.Level
	}
	return LevelHealthy
}

// Start launches the background probe loop. A no-op if already running.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop halts the background loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	m.cancel = nil
	m.done = nil
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)
	m.checkAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *HealthMonitor) checkAll(ctx context.Context) {
	for name, pinger := range m.pingers {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := pinger.Ping(checkCtx)
		cancel()
		m.setStatus(name, err)
	}
}

func (m *HealthMonitor) setStatus(name string, err error) {
	if err != nil {
		m.logger.Warn("collector health check failed", "collector", name, "error", err)
	}
	// A ping failure/success is itself one outcome sample, folded into
	// the same rolling window real invocations feed, so Level stays a
	// single consistent classification regardless of which mechanism
	// last observed the collector.
	m.RecordOutcome(name, err == nil, 0)
	if err != nil {
		m.mu.Lock()
		if st, ok := m.statuses[name]; ok {
			st.Error = err.Error()
		}
		m.mu.Unlock()
	}
	m.mu.Lock()
	if st, ok := m.statuses[name]; ok {
		st.LastCheck = time.Now()
	}
	m.mu.Unlock()
}

// Statuses returns a snapshot of all known collector health statuses.
func (m *HealthMonitor) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for k, v := range m.statuses {
		out[k] = *v
	}
	return out
}

// Ready reports whether the system as a whole should be considered ready
// to accept new scans: at least one probed collector is healthy, or no
// collectors are probed at all (nothing to report unhealthy).
func (m *HealthMonitor) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.statuses) == 0 {
		return true
	}
	for _, s := range m.statuses {
		if s.Healthy {
			return true
		}
	}
	return false
}
