package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/diligence-platform/core/pkg/collector"
	"github.com/diligence-platform/core/pkg/models"
	"github.com/diligence-platform/core/pkg/resilience"
)

// stageSpec binds one canonical stage to the queue it dispatches work on
// and the capabilities it requests from the Collector Registry
// (spec.md §4.4).
type stageSpec struct {
	Name         models.StageName
	Index        int
	Queue        string
	Capabilities []collector.Capability
	// Condition gates whether the stage runs at all; nil means always run.
	Condition func(results map[models.StageName]models.StageResult, scan models.ScanRequest, thesis *models.Thesis, cfg Config) bool
}

var canonicalSpecs = []stageSpec{
	{
		Name: models.StageInitialEvidence, Index: 0, Queue: "web-scrape",
		Capabilities: []collector.Capability{collector.CapWeb, collector.CapTech},
	},
	{
		Name: models.StageDeepWebCrawl, Index: 1, Queue: "web-scrape",
		Capabilities: []collector.Capability{collector.CapDeepResearch},
		Condition:    conditionDeepCrawl,
	},
	{
		Name: models.StageTechAnalysis, Index: 2, Queue: "tech-detect",
		Capabilities: []collector.Capability{collector.CapTech},
	},
	{
		Name: models.StageBusinessIntel, Index: 3, Queue: "search",
		Capabilities: []collector.Capability{collector.CapMarket, collector.CapFinancial},
	},
	{
		Name: models.StageSecurityAssessment, Index: 4, Queue: "security-scan",
		Capabilities: []collector.Capability{collector.CapSecurity, collector.CapTLS, collector.CapVulnerability},
	},
	{
		Name: models.StageCompetitive, Index: 5, Queue: "search",
		Capabilities: []collector.Capability{collector.CapMarket},
	},
	{
		Name: models.StageFinancial, Index: 6, Queue: "search",
		Capabilities: []collector.Capability{collector.CapFinancial},
	},
	{
		Name: models.StageThesisSpecific, Index: 7, Queue: "deep-research",
		Capabilities: []collector.Capability{collector.CapDeepResearch},
		Condition:    conditionHasThesis,
	},
}

// conditionDeepCrawl implements spec.md §4.4's stage-2 gate: only pursue
// a deep crawl when the initial pass already surfaced enough evidence to
// be worth the extra cost. Per SPEC_FULL.md's resolution of the open
// question in spec.md §9, analysisDepth=exhaustive overrides the gate
// entirely — exhaustive mode's purpose is to bypass the cost-saving
// threshold.
func conditionDeepCrawl(results map[models.StageName]models.StageResult, scan models.ScanRequest, _ *models.Thesis, cfg Config) bool {
	if scan.AnalysisDepth == models.DepthExhaustive {
		return true
	}
	initial, ok := results[models.StageInitialEvidence]
	if !ok {
		return false
	}
	return initial.EvidenceCount >= cfg.DeepCrawlThreshold
}

func conditionHasThesis(_ map[models.StageName]models.StageResult, scan models.ScanRequest, thesis *models.Thesis, _ Config) bool {
	return scan.ThesisID != "" && thesis != nil
}

// runStage dispatches spec's collectors as CollectorJobs, waits for them
// to reach a terminal state, and folds the outcome into a StageResult.
func (o *Orchestrator) runStage(ctx context.Context, scan models.ScanRequest, spec stageSpec, index int) models.StageResult {
	started := o.clock.Now()
	before := o.evidence.CountForScan(scan.ID)

	candidates := o.candidateCollectors(spec.Capabilities)
	if len(candidates) == 0 {
		return models.StageResult{
			ScanID: scan.ID, Stage: spec.Name, Index: index,
			Status: models.StageSkipped, StartedAt: started, CompletedAt: o.clock.Now(),
		}
	}

	// Optional stages (those gated by a Condition) are also skipped when
	// every candidate collector is currently critical (spec.md §4.4):
	// there is no point paying the stage timeout to watch every job
	// dead-letter against an open breaker. Mandatory stages still run —
	// a critical collector there surfaces as a partial/failed stage
	// result instead, which is the signal operators expect to see.
	if spec.Condition != nil && o.allCritical(candidates) {
		return models.StageResult{
			ScanID: scan.ID, Stage: spec.Name, Index: index,
			Status: models.StageSkipped, ErrorText: "skipped: all candidate collectors critical",
			StartedAt: started, CompletedAt: o.clock.Now(),
		}
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	jobIDs := make([]string, 0, len(candidates))
	for i, c := range candidates {
		jobID := fmt.Sprintf("%s-%s-%d", scan.ID, spec.Name, i)
		job := models.CollectorJob{
			ID:          jobID,
			ScanID:      scan.ID,
			QueueName:   spec.Queue,
			Collector:   c.Name(),
			Payload:     map[string]any{"stage": string(spec.Name), "company": scan.Company.Name, "website": scan.Company.Website},
			Priority:    stagePriority(spec.Index),
			MaxAttempts: o.cfg.MaxAttemptsDefault,
			Status:      models.JobPending,
			EnqueuedAt:  o.clock.Now(),
		}
		if err := o.queue.EnqueueJob(stageCtx, job); err != nil {
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}

	retries, failedJobs := o.awaitJobs(stageCtx, jobIDs)
	after := o.evidence.CountForScan(scan.ID)

	status := models.StageSuccess
	var errText string
	switch {
	case failedJobs == len(jobIDs) && len(jobIDs) > 0:
		status = models.StageFailed
		errText = fmt.Sprintf("all %d collector jobs failed", len(jobIDs))
	case failedJobs > 0:
		status = models.StagePartial
		errText = fmt.Sprintf("%d of %d collector jobs failed", failedJobs, len(jobIDs))
	}

	return models.StageResult{
		ScanID: scan.ID, Stage: spec.Name, Index: index,
		Status: status, Retries: retries, EvidenceCount: after - before,
		ErrorText: errText, StartedAt: started, CompletedAt: o.clock.Now(),
		Duration: o.clock.Now().Sub(started),
	}
}

// candidateCollectors unions ByCapability results across the stage's
// requested capabilities, deduplicating by name.
func (o *Orchestrator) candidateCollectors(caps []collector.Capability) []collector.Collector {
	seen := make(map[string]bool)
	var out []collector.Collector
	for _, cap := range caps {
		for _, c := range o.registry.ByCapability(cap) {
			if seen[c.Name()] {
				continue
			}
			seen[c.Name()] = true
			out = append(out, c)
		}
	}
	return out
}

// allCritical reports whether every candidate is at LevelCritical,
// consulting the Orchestrator's HealthChecker if one is set. With no
// HealthChecker wired, it always reports false (never skip on health
// grounds).
func (o *Orchestrator) allCritical(candidates []collector.Collector) bool {
	if o.health == nil {
		return false
	}
	for _, c := range candidates {
		if o.health.Level(c.Name()) != resilience.LevelCritical {
			return false
		}
	}
	return true
}

// awaitJobs polls the Queue Subsystem until every job in jobIDs reaches
// a terminal state (succeeded, failed, or dead-lettered) or the stage
// context expires. Returns the total retry count observed and the
// number of jobs that ended non-succeeded.
func (o *Orchestrator) awaitJobs(ctx context.Context, jobIDs []string) (retries int, failed int) {
	pending := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		pending[id] = true
	}

	ticker := time.NewTicker(o.cfg.StagePollInterval)
	defer ticker.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			// Whatever never finished counts as failed for this stage;
			// the underlying jobs remain in the queue and the reaper
			// will still eventually dead-letter or complete them.
			failed += len(pending)
			return retries, failed
		case <-ticker.C:
			for id := range pending {
				job, err := o.queue.GetJob(ctx, id)
				if err != nil || job == nil {
					continue
				}
				switch job.Status {
				case models.JobSucceeded:
					retries += job.Attempt
					delete(pending, id)
				case models.JobFailed, models.JobDeadLettered:
					retries += job.Attempt
					failed++
					delete(pending, id)
				}
			}
		}
	}
	return retries, failed
}

// stagePriority gives earlier canonical stages higher queue priority so
// that, under load, the Orchestrator's own progress is favored over
// jobs from other scans sharing a queue.
func stagePriority(stageIndex int) int {
	p := 9 - stageIndex
	if p < 0 {
		return 0
	}
	return p
}
