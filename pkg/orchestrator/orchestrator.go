// Package orchestrator drives a scan through the ten canonical stages
// (spec.md §4.4): it dispatches each stage's collector work onto the
// Queue Subsystem, waits for the stage's jobs to reach a terminal state,
// records a StageResult, and decides whether to continue. Stage 9
// (evidence processing) flushes the Evidence Pool; stage 10 (report
// generation) invokes the Synthesizer.
//
// Grounded on the teacher's pkg/queue/executor.go sequential chain loop
// (RealSessionExecutor.Execute): per-stage execute/record/publish
// sequence, fail-fast-becomes-continue-on-error generalization, and
// result mapping to a terminal status. Cancellation is plain ctx
// propagation: pkg/intake cancels the context it passes to Run, and the
// per-stage ctx.Err() check below together with terminalStatus's
// context.Canceled case fold that into the scan's terminal status, the
// same deadline/cancel wiring pkg/queue/worker.go uses for job timeouts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/diligence-platform/core/pkg/clock"
	"github.com/diligence-platform/core/pkg/collector"
	"github.com/diligence-platform/core/pkg/models"
	"github.com/diligence-platform/core/pkg/resilience"
)

// HealthChecker is the subset of resilience.HealthMonitor the
// Orchestrator consults before starting an optional stage (spec.md
// §4.4: "the Orchestrator reads health before starting optional stages
// and may skip them when critical"). Nil-safe: an Orchestrator with no
// HealthChecker set never skips on health grounds.
type HealthChecker interface {
	Level(collector string) resilience.Level
}

// JobQueue is the subset of queue.Store the Orchestrator depends on to
// dispatch collector work and observe its outcome. Satisfied
// structurally by *queue.Store implementations.
type JobQueue interface {
	EnqueueJob(ctx context.Context, job models.CollectorJob) error
	GetJob(ctx context.Context, jobID string) (*models.CollectorJob, error)
}

// EvidenceSink is the subset of the Evidence Pool the Orchestrator needs:
// progress accounting (stage thresholds) and the final scored set handed
// to the Synthesizer.
type EvidenceSink interface {
	CountForScan(scanID string) int
	QualitySummaries(scanID string) []models.QualitySummary
	EvidenceForScan(scanID string) []models.Evidence
	Flush(ctx context.Context, scanID string) error
}

// ScanStore persists scan-level lifecycle changes.
type ScanStore interface {
	UpdateScanStatus(ctx context.Context, scanID string, status models.ScanStatus, message string) error
	SaveStageResult(ctx context.Context, result models.StageResult) error
	SetReportID(ctx context.Context, scanID, reportID string) error
}

// Publisher emits ProgressEvents (spec.md §4.7). Implemented by
// pkg/events.
type Publisher interface {
	Publish(ctx context.Context, ev models.ProgressEvent) error
}

// Synthesizer produces the final Report from scored evidence (spec.md §4.6).
type Synthesizer interface {
	Synthesize(ctx context.Context, scan models.ScanRequest, thesis *models.Thesis, evidence []models.Evidence) (*models.Report, error)
}

// Config tunes orchestration thresholds (spec.md §9).
type Config struct {
	DeepCrawlThreshold int           // stage 1 evidence count required to run stage 2
	ContinueOnError    bool          // default true
	StagePollInterval  time.Duration
	StageTimeout       time.Duration // per-stage ceiling within the overall scan deadline
	MaxAttemptsDefault int
}

func (c Config) withDefaults() Config {
	if c.DeepCrawlThreshold <= 0 {
		c.DeepCrawlThreshold = 10
	}
	if c.StagePollInterval <= 0 {
		c.StagePollInterval = 500 * time.Millisecond
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 10 * time.Minute
	}
	if c.MaxAttemptsDefault <= 0 {
		c.MaxAttemptsDefault = 3
	}
	return c
}

// Orchestrator drives scans through the canonical stage sequence.
type Orchestrator struct {
	cfg         Config
	queue       JobQueue
	registry    *collector.Registry
	evidence    EvidenceSink
	scans       ScanStore
	publisher   Publisher
	synthesizer Synthesizer
	health      HealthChecker
	clock       clock.Clock
}

// New builds an Orchestrator.
func New(cfg Config, queue JobQueue, registry *collector.Registry, evidence EvidenceSink, scans ScanStore, publisher Publisher, synthesizer Synthesizer) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		queue:       queue,
		registry:    registry,
		evidence:    evidence,
		scans:       scans,
		publisher:   publisher,
		synthesizer: synthesizer,
		clock:       clock.Default,
	}
}

// WithHealth wires a HealthChecker the Orchestrator consults before
// running an optional stage.
func (o *Orchestrator) WithHealth(h HealthChecker) *Orchestrator {
	o.health = h
	return o
}

// WithClock overrides the injected clock (tests).
func (o *Orchestrator) WithClock(c clock.Clock) *Orchestrator {
	o.clock = c
	return o
}

// Run drives scan through all ten canonical stages and returns once a
// terminal status has been recorded. It never returns an error for
// ordinary stage failures — those are recorded as StageResults and
// folded into the terminal ScanStatus per spec.md §4.4's mapping. It
// returns an error only for failures in recording state itself (e.g. the
// ScanStore is unreachable), which the caller should treat as a
// scheduling failure to retry.
func (o *Orchestrator) Run(ctx context.Context, scan models.ScanRequest, thesis *models.Thesis) error {
	log := slog.With("scan_id", scan.ID)

	if !scan.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, scan.Deadline)
		defer cancel()
	}

	if err := o.scans.UpdateScanStatus(ctx, scan.ID, models.ScanRunning, ""); err != nil {
		return fmt.Errorf("marking scan running: %w", err)
	}
	o.publish(ctx, scan.ID, models.EventStart, "", "")

	results := make(map[models.StageName]models.StageResult)
	anyFailed := false

	for idx, spec := range canonicalSpecs {
		if ctx.Err() != nil {
			log.Warn("scan deadline/cancellation reached before stage", "stage", spec.Name)
			break
		}
		if spec.Condition != nil && !spec.Condition(results, scan, thesis, o.cfg) {
			results[spec.Name] = models.StageResult{
				ScanID: scan.ID, Stage: spec.Name, Index: idx,
				Status: models.StageSkipped, StartedAt: o.clock.Now(), CompletedAt: o.clock.Now(),
			}
			_ = o.scans.SaveStageResult(ctx, results[spec.Name])
			continue
		}

		o.publish(ctx, scan.ID, models.EventPhaseStart, string(spec.Name), "")
		sr := o.runStage(ctx, scan, spec, idx)
		results[spec.Name] = sr
		if err := o.scans.SaveStageResult(ctx, sr); err != nil {
			log.Error("failed to persist stage result", "stage", spec.Name, "error", err)
		}
		o.publish(ctx, scan.ID, models.EventPhaseComplete, string(spec.Name), "")

		if sr.Status == models.StageFailed {
			anyFailed = true
			if !o.cfg.ContinueOnError {
				break
			}
		}
	}

	reportProduced, forcedStatus, forcedMessage := o.runFinalStages(ctx, scan, thesis, results, &anyFailed)

	status, message := forcedStatus, forcedMessage
	if status == "" {
		status, message = terminalStatus(anyFailed, reportProduced, ctx.Err())
	}
	if err := o.scans.UpdateScanStatus(context.Background(), scan.ID, status, message); err != nil {
		return fmt.Errorf("recording terminal status: %w", err)
	}
	kind := models.EventComplete
	if status == models.ScanFailed {
		kind = models.EventError
	}
	o.publish(context.Background(), scan.ID, kind, "", message)
	return nil
}

// runFinalStages runs stage 9 (evidence processing) and stage 10 (report
// generation). Stage 10's failure is fatal per spec.md §4.4: it does not
// continue to further stages (there are none), but its outcome still
// folds into the terminal status mapping via reportProduced.
func (o *Orchestrator) runFinalStages(ctx context.Context, scan models.ScanRequest, thesis *models.Thesis, results map[models.StageName]models.StageResult, anyFailed *bool) (reportProduced bool, forcedStatus models.ScanStatus, forcedMessage string) {
	started := o.clock.Now()

	flushErr := o.evidence.Flush(ctx, scan.ID)
	procStatus := models.StageSuccess
	if flushErr != nil {
		procStatus = models.StagePartial
	}
	procResult := models.StageResult{
		ScanID: scan.ID, Stage: models.StageEvidenceProcessing, Index: 8,
		Status: procStatus, EvidenceCount: o.evidence.CountForScan(scan.ID),
		StartedAt: started, CompletedAt: o.clock.Now(),
	}
	if flushErr != nil {
		procResult.ErrorText = flushErr.Error()
		*anyFailed = true
	}
	results[models.StageEvidenceProcessing] = procResult
	_ = o.scans.SaveStageResult(ctx, procResult)

	o.publish(ctx, scan.ID, models.EventSynthesisStart, string(models.StageReportGeneration), "")
	synthStarted := o.clock.Now()
	evidence := o.evidence.EvidenceForScan(scan.ID)
	report, err := o.synthesizer.Synthesize(ctx, scan, thesis, evidence)
	synthResult := models.StageResult{
		ScanID: scan.ID, Stage: models.StageReportGeneration, Index: 9,
		StartedAt: synthStarted, CompletedAt: o.clock.Now(), EvidenceCount: len(evidence),
	}
	if err != nil || report == nil {
		synthResult.Status = models.StageFailed
		if err != nil {
			synthResult.ErrorText = err.Error()
		}
		*anyFailed = true
		results[models.StageReportGeneration] = synthResult
		_ = o.scans.SaveStageResult(ctx, synthResult)

		// Synthesizer failure semantics (spec.md §4.6) degrade sections
		// rather than return nil, so a hard failure here means synthesis
		// could not even attempt a report. Per spec.md §4.4's stage-10
		// carve-out, classify by whether any evidence exists: evidence
		// without a report still reflects real collection work and is
		// recoverable on a retried synthesis pass, so it is not a bare
		// failure the way an empty collection is.
		if len(evidence) > 0 {
			return false, models.ScanCompletedWithErrors, "report generation failed but evidence was collected and remains available"
		}
		return false, models.ScanFailed, "report generation failed and no evidence was collected"
	}

	synthResult.Status = models.StageSuccess
	results[models.StageReportGeneration] = synthResult
	_ = o.scans.SaveStageResult(ctx, synthResult)
	if err := o.scans.SetReportID(ctx, scan.ID, report.ID); err != nil {
		slog.Error("failed to record report id on scan", "scan_id", scan.ID, "error", err)
	}
	o.publish(ctx, scan.ID, models.EventReportPersisted, "", report.ID)
	return true, "", ""
}

// terminalStatus implements spec.md §4.4's terminal mapping: any stage
// failed ∧ report produced → completed_with_errors; all succeeded ∧
// report produced → awaiting_review; report absent → failed.
func terminalStatus(anyFailed, reportProduced bool, ctxErr error) (models.ScanStatus, string) {
	if !reportProduced {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return models.ScanFailed, "scan deadline exceeded before a report could be produced"
		}
		if errors.Is(ctxErr, context.Canceled) {
			return models.ScanFailed, "scan canceled before a report could be produced"
		}
		return models.ScanFailed, "report generation did not produce a report"
	}
	if anyFailed {
		return models.ScanCompletedWithErrors, "one or more stages failed; report reflects available evidence"
	}
	return models.ScanAwaitingReview, ""
}

func (o *Orchestrator) publish(ctx context.Context, scanID string, kind models.EventKind, stage, payload string) {
	if o.publisher == nil {
		return
	}
	ev := models.ProgressEvent{
		ScanID:    scanID,
		Kind:      kind,
		Stage:     models.StageName(stage),
		Timestamp: o.clock.Now(),
	}
	if payload != "" {
		ev.Payload = map[string]any{"detail": payload}
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish progress event", "scan_id", scanID, "kind", kind, "error", err)
	}
}
