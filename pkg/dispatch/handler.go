// Package dispatch implements the glue between the Queue Subsystem and
// the Collector Registry: it resolves a claimed CollectorJob's named
// collector, runs it through the Resilience Layer, and ingests whatever
// evidence comes back into the Evidence Pool (spec.md §4.1 "processed
// through the Resilience Layer before evidence reaches the pool").
//
// Grounded on the teacher's pkg/mcp/client.go CallTool path: resolve a
// named remote by string, wrap the call in the resilience stack, hand
// the result to the next layer. Generalized from a single MCP tool
// invocation feeding an LLM turn to a collector invocation feeding the
// Evidence Pool, and from a single retry wrapper to the full
// timeout → breaker → retry → fallback-chain stack spec.md §4.3 names.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/diligence-platform/core/pkg/collector"
	"github.com/diligence-platform/core/pkg/models"
	"github.com/diligence-platform/core/pkg/redact"
	"github.com/diligence-platform/core/pkg/resilience"
)

// defaultCollectTimeout bounds a collector invocation when it doesn't
// advertise its own SuggestedTimeout.
const defaultCollectTimeout = 30 * time.Second

// EvidenceSink is the subset of evidencepool.Pool the dispatcher needs.
type EvidenceSink interface {
	Add(ctx context.Context, ev models.Evidence) (bool, error)
}

// HealthRecorder is the subset of resilience.HealthMonitor the
// dispatcher feeds after every real invocation.
type HealthRecorder interface {
	RecordOutcome(collector string, success bool, latency time.Duration)
}

// Handler implements queue.Handler. One Handler is shared by every
// worker in the pool; all of its collaborators are safe for concurrent
// use.
type Handler struct {
	registry  *collector.Registry
	fallbacks map[collector.Capability]collector.Collector
	breakers  *resilience.BreakerRegistry
	retryCfg  resilience.RetryConfig
	pool      EvidenceSink
	redactor  *redact.Redactor
	health    HealthRecorder

	// inflight coalesces concurrent jobs that would invoke the identical
	// (collector, scan, stage) triple, since collectors are required to
	// be idempotent in outcome (spec.md §4.1) — a redundant concurrent
	// attempt wastes a retry budget and circuit-breaker sample for no
	// benefit.
	inflight singleflight.Group
}

// New builds a dispatch Handler. fallbacks maps a capability to the
// collector invoked when the job's primary collector exhausts its
// breaker/retry budget — normally a collector.Heuristic per capability,
// the terminus of spec.md §4.3's fallback chain.
func New(
	registry *collector.Registry,
	fallbacks map[collector.Capability]collector.Collector,
	breakers *resilience.BreakerRegistry,
	retryCfg resilience.RetryConfig,
	pool EvidenceSink,
	redactor *redact.Redactor,
	health HealthRecorder,
) *Handler {
	return &Handler{
		registry:  registry,
		fallbacks: fallbacks,
		breakers:  breakers,
		retryCfg:  retryCfg,
		pool:      pool,
		redactor:  redactor,
		health:    health,
	}
}

// Handle implements queue.Handler: it looks job.Collector up in the
// registry, drives it (and, on failure, its capability's fallback)
// through the resilience stack, and returns the terminal error, if any,
// for the Queue Subsystem's retry/dead-letter accounting.
func (h *Handler) Handle(ctx context.Context, job models.CollectorJob) error {
	c, err := h.registry.Get(job.Collector)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	in := collector.Input{
		ScanID:  job.ScanID,
		Company: companyFromPayload(job.Payload),
		Pillar:  stringField(job.Payload, "stage"),
		Options: job.Payload,
	}

	key := fmt.Sprintf("%s:%s:%s", c.Name(), job.ScanID, in.Pillar)
	_, err, _ = h.inflight.Do(key, func() (any, error) {
		return nil, h.run(ctx, c, in)
	})
	return err
}

// run drives the fallback chain: the job's primary collector first,
// then — only if the primary's breaker/retry budget is exhausted — the
// capability's configured fallback.
func (h *Handler) run(ctx context.Context, c collector.Collector, in collector.Input) error {
	steps := []resilience.Step{{
		Name: c.Name(),
		Run:  func(stepCtx context.Context) error { return h.invoke(stepCtx, c, in) },
	}}
	if fb, ok := h.fallbackFor(c); ok {
		steps = append(steps, resilience.Step{
			Name: fb.Name(),
			Run:  func(stepCtx context.Context) error { return h.invoke(stepCtx, fb, in) },
		})
	}

	_, err := resilience.Chain(ctx, steps)
	return err
}

// fallbackFor returns the configured fallback for one of c's
// capabilities, excluding c itself so a collector is never chained to
// itself as its own fallback.
func (h *Handler) fallbackFor(c collector.Collector) (collector.Collector, bool) {
	for _, cap := range c.Capabilities() {
		if fb, ok := h.fallbacks[cap]; ok && fb.Name() != c.Name() {
			return fb, true
		}
	}
	return nil, false
}

// invoke runs one collector attempt under its own timeout, circuit
// breaker, and retry with backoff — spec.md §4.3's inner three layers;
// Chain in run supplies the outermost fallback layer. Evidence returned
// alongside a retriable error (partialOk) is still redacted and ingested
// (spec.md §4.1: "the Pool still consumes returned evidence even when
// err != nil and partialOk is true").
func (h *Handler) invoke(ctx context.Context, c collector.Collector, in collector.Input) error {
	timeout := c.SuggestedTimeout()
	if timeout <= 0 {
		timeout = defaultCollectTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	breakerKey := resilience.Key(c.Name(), "")
	start := time.Now()
	var evidence []models.Evidence
	var partialOk bool

	breakerErr := h.breakers.Execute(attemptCtx, breakerKey, func() error {
		return resilience.Retry(attemptCtx, h.retryCfg, func() error {
			ev, ok, err := c.Collect(attemptCtx, in)
			if len(ev) > 0 {
				evidence = ev
			}
			partialOk = ok
			return err
		})
	})

	if h.health != nil {
		h.health.RecordOutcome(c.Name(), breakerErr == nil, time.Since(start))
	}

	if len(evidence) > 0 && (breakerErr == nil || partialOk) {
		h.ingest(in.ScanID, evidence)
	}

	return breakerErr
}

// ingest redacts and persists evidence. It runs against a background
// context deliberately: evidence that already made it back from the
// collector should still land even if the attempt's own timeout has
// since expired.
func (h *Handler) ingest(scanID string, evidence []models.Evidence) {
	for _, ev := range evidence {
		ev.Raw = h.redactor.RedactEvidenceText(scanID, "raw", ev.Raw)
		ev.Summary = h.redactor.RedactEvidenceText(scanID, "summary", ev.Summary)
		if _, err := h.pool.Add(context.Background(), ev); err != nil {
			slog.Error("failed to add evidence to pool", "scan_id", scanID, "error", err)
		}
	}
}

func companyFromPayload(payload map[string]any) models.Company {
	return models.Company{
		Name:    stringField(payload, "company"),
		Website: stringField(payload, "website"),
	}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
