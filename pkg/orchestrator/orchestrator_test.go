package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligence-platform/core/pkg/collector"
	"github.com/diligence-platform/core/pkg/models"
	"github.com/diligence-platform/core/pkg/resilience"
)

type fakeQueue struct {
	mu      sync.Mutex
	jobs    map[string]*models.CollectorJob
	outcome func(job models.CollectorJob) models.JobStatus // decides terminal status immediately
}

func newFakeQueue(outcome func(models.CollectorJob) models.JobStatus) *fakeQueue {
	return &fakeQueue{jobs: make(map[string]*models.CollectorJob), outcome: outcome}
}

func (q *fakeQueue) EnqueueJob(_ context.Context, job models.CollectorJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Status = q.outcome(job)
	q.jobs[job.ID] = &job
	return nil
}

func (q *fakeQueue) GetJob(_ context.Context, jobID string) (*models.CollectorJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *j
	return &cp, nil
}

type fakeEvidence struct {
	mu     sync.Mutex
	counts map[string]int
	items  []models.Evidence
}

func newFakeEvidence() *fakeEvidence { return &fakeEvidence{counts: make(map[string]int)} }

func (f *fakeEvidence) CountForScan(scanID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[scanID]
}
func (f *fakeEvidence) add(scanID string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[scanID] += n
}
func (f *fakeEvidence) QualitySummaries(string) []models.QualitySummary { return nil }
func (f *fakeEvidence) EvidenceForScan(string) []models.Evidence        { return f.items }
func (f *fakeEvidence) Flush(context.Context, string) error            { return nil }

type fakeScanStore struct {
	mu       sync.Mutex
	statuses []models.ScanStatus
	messages []string
	reportID string
}

func (s *fakeScanStore) UpdateScanStatus(_ context.Context, _ string, status models.ScanStatus, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	s.messages = append(s.messages, msg)
	return nil
}
func (s *fakeScanStore) SaveStageResult(context.Context, models.StageResult) error { return nil }
func (s *fakeScanStore) SetReportID(_ context.Context, _, reportID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportID = reportID
	return nil
}
func (s *fakeScanStore) lastStatus() models.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[len(s.statuses)-1]
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, models.ProgressEvent) error { return nil }

type fakeSynthesizer struct {
	report *models.Report
	err    error
}

func (f fakeSynthesizer) Synthesize(context.Context, models.ScanRequest, *models.Thesis, []models.Evidence) (*models.Report, error) {
	return f.report, f.err
}

type stubCollector struct {
	name string
	caps []collector.Capability
}

func (s *stubCollector) Name() string                   { return s.name }
func (s *stubCollector) Capabilities() []collector.Capability { return s.caps }
func (s *stubCollector) Cost() int                       { return 1 }
func (s *stubCollector) SuggestedTimeout() time.Duration { return time.Second }
func (s *stubCollector) MaxConcurrency() int             { return 1 }
func (s *stubCollector) Collect(context.Context, collector.Input) ([]models.Evidence, bool, error) {
	return nil, true, nil
}

func newTestRegistry() *collector.Registry {
	r := collector.NewRegistry()
	r.Register(&stubCollector{name: "web", caps: []collector.Capability{collector.CapWeb, collector.CapTech}})
	r.Register(&stubCollector{name: "search", caps: []collector.Capability{collector.CapMarket, collector.CapFinancial}})
	r.Register(&stubCollector{name: "security", caps: []collector.Capability{collector.CapSecurity, collector.CapTLS, collector.CapVulnerability}})
	return r
}

func baseConfig() Config {
	return Config{StagePollInterval: time.Millisecond, StageTimeout: time.Second, MaxAttemptsDefault: 3}
}

func TestOrchestrator_AllStagesSucceed_EndsAwaitingReview(t *testing.T) {
	q := newFakeQueue(func(models.CollectorJob) models.JobStatus { return models.JobSucceeded })
	ev := newFakeEvidence()
	ev.items = []models.Evidence{{ID: "e1"}}
	scans := &fakeScanStore{}

	orch := New(baseConfig(), q, newTestRegistry(), ev, scans, noopPublisher{},
		fakeSynthesizer{report: &models.Report{ID: "report-1"}})

	scan := models.ScanRequest{ID: "scan-1", Company: models.Company{Name: "Acme"}}
	require.NoError(t, orch.Run(context.Background(), scan, nil))

	assert.Equal(t, models.ScanAwaitingReview, scans.lastStatus())
	assert.Equal(t, "report-1", scans.reportID)
}

func TestOrchestrator_StageFailure_EndsCompletedWithErrors(t *testing.T) {
	q := newFakeQueue(func(job models.CollectorJob) models.JobStatus {
		if job.QueueName == "security-scan" {
			return models.JobDeadLettered
		}
		return models.JobSucceeded
	})
	ev := newFakeEvidence()
	ev.items = []models.Evidence{{ID: "e1"}}
	scans := &fakeScanStore{}

	orch := New(baseConfig(), q, newTestRegistry(), ev, scans, noopPublisher{},
		fakeSynthesizer{report: &models.Report{ID: "report-1"}})

	scan := models.ScanRequest{ID: "scan-2", Company: models.Company{Name: "Acme"}}
	require.NoError(t, orch.Run(context.Background(), scan, nil))

	assert.Equal(t, models.ScanCompletedWithErrors, scans.lastStatus())
}

func TestOrchestrator_SynthesisFailsWithEvidence_EndsCompletedWithErrors(t *testing.T) {
	q := newFakeQueue(func(models.CollectorJob) models.JobStatus { return models.JobSucceeded })
	ev := newFakeEvidence()
	ev.items = []models.Evidence{{ID: "e1"}}
	ev.add("scan-3", 5)
	scans := &fakeScanStore{}

	orch := New(baseConfig(), q, newTestRegistry(), ev, scans, noopPublisher{},
		fakeSynthesizer{err: errors.New("analyzer unavailable")})

	scan := models.ScanRequest{ID: "scan-3", Company: models.Company{Name: "Acme"}}
	require.NoError(t, orch.Run(context.Background(), scan, nil))

	assert.Equal(t, models.ScanCompletedWithErrors, scans.lastStatus())
}

func TestOrchestrator_SynthesisFailsWithNoEvidence_EndsFailed(t *testing.T) {
	q := newFakeQueue(func(models.CollectorJob) models.JobStatus { return models.JobSucceeded })
	ev := newFakeEvidence()
	scans := &fakeScanStore{}

	orch := New(baseConfig(), q, newTestRegistry(), ev, scans, noopPublisher{},
		fakeSynthesizer{err: errors.New("analyzer unavailable")})

	scan := models.ScanRequest{ID: "scan-4", Company: models.Company{Name: "Acme"}}
	require.NoError(t, orch.Run(context.Background(), scan, nil))

	assert.Equal(t, models.ScanFailed, scans.lastStatus())
}

func TestOrchestrator_DeepCrawlSkippedBelowThreshold(t *testing.T) {
	q := newFakeQueue(func(models.CollectorJob) models.JobStatus { return models.JobSucceeded })
	ev := newFakeEvidence() // CountForScan always 0 → below DeepCrawlThreshold
	scans := &fakeScanStore{}

	orch := New(baseConfig(), q, newTestRegistry(), ev, scans, noopPublisher{},
		fakeSynthesizer{report: &models.Report{ID: "report-1"}})

	scan := models.ScanRequest{ID: "scan-5", Company: models.Company{Name: "Acme"}}
	require.NoError(t, orch.Run(context.Background(), scan, nil))

	assert.True(t, conditionDeepCrawl(map[models.StageName]models.StageResult{
		models.StageInitialEvidence: {EvidenceCount: 2},
	}, scan, nil, baseConfig()) == false)
}

func TestConditionDeepCrawl_ExhaustiveDepthOverridesThreshold(t *testing.T) {
	scan := models.ScanRequest{ID: "scan-6", AnalysisDepth: models.DepthExhaustive}
	assert.True(t, conditionDeepCrawl(map[models.StageName]models.StageResult{
		models.StageInitialEvidence: {EvidenceCount: 0},
	}, scan, nil, baseConfig().withDefaults()))
}

type fakeHealth map[string]resilience.Level

func (f fakeHealth) Level(collector string) resilience.Level { return f[collector] }

func TestOrchestrator_OptionalStageSkippedWhenAllCandidatesCritical(t *testing.T) {
	q := newFakeQueue(func(models.CollectorJob) models.JobStatus { return models.JobSucceeded })
	ev := newFakeEvidence()
	ev.add("scan-7", 100) // well above DeepCrawlThreshold
	scans := &fakeScanStore{}

	reg := newTestRegistry()
	reg.Register(&stubCollector{name: "deep-research", caps: []collector.Capability{collector.CapDeepResearch}})

	orch := New(baseConfig(), q, reg, ev, scans, noopPublisher{},
		fakeSynthesizer{report: &models.Report{ID: "report-1"}}).
		WithHealth(fakeHealth{"deep-research": resilience.LevelCritical})

	scan := models.ScanRequest{ID: "scan-7", Company: models.Company{Name: "Acme"}}
	sr := orch.runStage(context.Background(), scan, canonicalSpecs[1], 1) // StageDeepWebCrawl
	assert.Equal(t, models.StageSkipped, sr.Status)
}

func TestOrchestrator_OptionalStageRunsWhenNotAllCandidatesCritical(t *testing.T) {
	q := newFakeQueue(func(models.CollectorJob) models.JobStatus { return models.JobSucceeded })
	ev := newFakeEvidence()
	ev.add("scan-8", 100)
	scans := &fakeScanStore{}

	reg := newTestRegistry()
	reg.Register(&stubCollector{name: "deep-research", caps: []collector.Capability{collector.CapDeepResearch}})

	orch := New(baseConfig(), q, reg, ev, scans, noopPublisher{},
		fakeSynthesizer{report: &models.Report{ID: "report-1"}}).
		WithHealth(fakeHealth{"deep-research": resilience.LevelHealthy})

	scan := models.ScanRequest{ID: "scan-8", Company: models.Company{Name: "Acme"}}
	sr := orch.runStage(context.Background(), scan, canonicalSpecs[1], 1)
	assert.NotEqual(t, models.StageSkipped, sr.Status)
}
