package database

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diligence-platform/core/pkg/evidencepool"
	"github.com/diligence-platform/core/pkg/models"
	"github.com/diligence-platform/core/pkg/orchestrator"
	"github.com/diligence-platform/core/pkg/queue"
)

// Store implements queue.Store, evidencepool.Store, and
// orchestrator.ScanStore over a single Postgres pool, grounded on
// other_examples/OpenClause's pkg/evidence-store.go hand-written-SQL
// pattern (no ORM/codegen), with the claim-next-job SELECT ... FOR
// UPDATE SKIP LOCKED semantics the teacher's worker.claimNextSession
// implements via ent, translated to raw SQL.
type Store struct {
	pool    *pgxpool.Pool
	backoff BackoffConfig
}

// BackoffConfig parameterizes FailJob's requeue delay (spec.md §4.2):
// delay = min(initial * factor^(attempt-1), max).
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	if b.Initial <= 0 {
		b.Initial = 5 * time.Second
	}
	if b.Max <= 0 {
		b.Max = 2 * time.Minute
	}
	if b.Factor <= 1 {
		b.Factor = 2.0
	}
	return b
}

// NewStore wraps an existing pool. backoff tunes the collector retry
// requeue delay; its zero value falls back to sane defaults.
func NewStore(pool *pgxpool.Pool, backoff BackoffConfig) *Store {
	return &Store{pool: pool, backoff: backoff.withDefaults()}
}

// ---- queue.Store ----

var (
	_ queue.Store             = (*Store)(nil)
	_ evidencepool.Store       = (*Store)(nil)
	_ orchestrator.ScanStore  = (*Store)(nil)
)

func (s *Store) EnqueueJob(ctx context.Context, job models.CollectorJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("database: marshal job payload: %w", err)
	}
	scheduledAt := job.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = job.EnqueuedAt
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO collector_jobs (
			id, scan_id, queue_name, collector, payload, priority,
			attempt, max_attempts, status, enqueued_at, scheduled_at, last_error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		job.ID, job.ScanID, job.QueueName, job.Collector, payload, job.Priority,
		job.Attempt, job.MaxAttempts, models.JobPending, job.EnqueuedAt, scheduledAt, job.LastError,
	)
	if err != nil {
		return fmt.Errorf("database: enqueue job: %w", err)
	}
	return nil
}

func (s *Store) ClaimNextJob(ctx context.Context, queueName string, visibilityTimeout time.Duration) (*models.CollectorJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("database: claim begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	deadline := now.Add(visibilityTimeout)

	row := tx.QueryRow(ctx, `
		SELECT id FROM collector_jobs
		WHERE queue_name = $1
		  AND (
		      (status = $2 AND scheduled_at <= $3)
		      OR (status = $4 AND visibility_deadline <= $3)
		  )
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		queueName, models.JobPending, now, models.JobRunning,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return nil, queue.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("database: claim select: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE collector_jobs SET status = $1, visibility_deadline = $2 WHERE id = $3`,
		models.JobRunning, deadline, id,
	)
	if err != nil {
		return nil, fmt.Errorf("database: claim update: %w", err)
	}

	job, err := scanJob(tx.QueryRow(ctx, jobSelectByID, id))
	if err != nil {
		return nil, fmt.Errorf("database: claim reselect: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("database: claim commit: %w", err)
	}
	return job, nil
}

func (s *Store) ExtendVisibility(ctx context.Context, jobID string, visibilityTimeout time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE collector_jobs SET visibility_deadline = $1 WHERE id = $2 AND status = $3`,
		time.Now().Add(visibilityTimeout), jobID, models.JobRunning,
	)
	if err != nil {
		return fmt.Errorf("database: extend visibility: %w", err)
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE collector_jobs SET status = $1 WHERE id = $2`, models.JobSucceeded, jobID)
	if err != nil {
		return fmt.Errorf("database: complete job: %w", err)
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, jobID string, errMsg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("database: fail job begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var attempt, maxAttempts int
	err = tx.QueryRow(ctx, `SELECT attempt, max_attempts FROM collector_jobs WHERE id = $1`, jobID).Scan(&attempt, &maxAttempts)
	if err != nil {
		return fmt.Errorf("database: fail job select: %w", err)
	}

	attempt++
	status := models.JobPending
	if attempt >= maxAttempts {
		status = models.JobDeadLettered
	}

	_, err = tx.Exec(ctx, `
		UPDATE collector_jobs
		SET status = $1, attempt = $2, last_error = $3, scheduled_at = $4
		WHERE id = $5`,
		status, attempt, errMsg, time.Now().Add(s.backoff.delay(attempt)), jobID,
	)
	if err != nil {
		return fmt.Errorf("database: fail job update: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM collector_jobs WHERE status = $1`, models.JobRunning).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("database: active count: %w", err)
	}
	return n, nil
}

func (s *Store) QueueDepth(ctx context.Context, queueName string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM collector_jobs WHERE queue_name = $1 AND status = $2`,
		queueName, models.JobPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("database: queue depth: %w", err)
	}
	return n, nil
}

const jobSelectByID = `
	SELECT id, scan_id, queue_name, collector, payload, priority, attempt,
	       max_attempts, status, enqueued_at, scheduled_at, visibility_deadline, last_error
	FROM collector_jobs WHERE id = $1`

func (s *Store) GetJob(ctx context.Context, jobID string) (*models.CollectorJob, error) {
	return scanJob(s.pool.QueryRow(ctx, jobSelectByID, jobID))
}

func (s *Store) RequeueExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE collector_jobs
		SET status = $1, attempt = attempt + 1
		WHERE status = $2 AND visibility_deadline < $3`,
		models.JobPending, models.JobRunning, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("database: requeue expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*models.CollectorJob, error) {
	var j models.CollectorJob
	var payload []byte
	var visDeadline *time.Time
	err := row.Scan(&j.ID, &j.ScanID, &j.QueueName, &j.Collector, &payload, &j.Priority,
		&j.Attempt, &j.MaxAttempts, &j.Status, &j.EnqueuedAt, &j.ScheduledAt, &visDeadline, &j.LastError)
	if err == pgx.ErrNoRows {
		return nil, queue.ErrNoJobAvailable
	}
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, fmt.Errorf("database: unmarshal job payload: %w", err)
		}
	}
	if visDeadline != nil {
		j.VisibilityDeadline = *visDeadline
	}
	return &j, nil
}

// delay gives FailJob's requeue an escalating backoff so a thrashing
// collector doesn't spin-claim immediately: min(initial * factor^(attempt-1), max)
// (spec.md §4.2).
func (b BackoffConfig) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return b.Initial
	}
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt-1))
	if d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// ---- evidencepool.Store ----

func (s *Store) UpsertEvidenceBatch(ctx context.Context, scanID string, evidence []models.Evidence) error {
	if len(evidence) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("database: upsert evidence begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range evidence {
		sources, err := json.Marshal(ev.Sources)
		if err != nil {
			return fmt.Errorf("database: marshal sources: %w", err)
		}
		metadata, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("database: marshal metadata: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO evidence (
				id, scan_id, pillar_id, type, sources, title, raw, summary,
				metadata, fingerprint, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (scan_id, fingerprint) DO UPDATE SET
				sources = EXCLUDED.sources,
				metadata = EXCLUDED.metadata,
				summary = EXCLUDED.summary`,
			ev.ID, ev.ScanID, ev.PillarID, ev.Type, sources, ev.Title, ev.Raw, ev.Summary,
			metadata, ev.Fingerprint, ev.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("database: upsert evidence: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO evidence_collections (id, scan_id, status, count)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (scan_id) DO UPDATE SET count = evidence_collections.count + $4`,
		"collection-"+scanID, scanID, models.CollectionOpen, len(evidence),
	)
	if err != nil {
		return fmt.Errorf("database: upsert evidence collection: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Store) MarkCollectionPartial(ctx context.Context, scanID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE evidence_collections SET status = $1 WHERE scan_id = $2`,
		models.CollectionPartial, scanID,
	)
	if err != nil {
		return fmt.Errorf("database: mark collection partial: %w", err)
	}
	return nil
}

// EvidenceForScan returns every persisted Evidence item for scanID, used
// to rehydrate the Evidence Pool or serve a completed report's source
// listing.
func (s *Store) EvidenceForScan(ctx context.Context, scanID string) ([]models.Evidence, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, scan_id, pillar_id, type, sources, title, raw, summary, metadata, fingerprint, created_at
		FROM evidence WHERE scan_id = $1 ORDER BY created_at ASC`, scanID)
	if err != nil {
		return nil, fmt.Errorf("database: evidence for scan: %w", err)
	}
	defer rows.Close()

	var out []models.Evidence
	for rows.Next() {
		var ev models.Evidence
		var sources, metadata []byte
		if err := rows.Scan(&ev.ID, &ev.ScanID, &ev.PillarID, &ev.Type, &sources, &ev.Title, &ev.Raw,
			&ev.Summary, &metadata, &ev.Fingerprint, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("database: scan evidence: %w", err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &ev.Sources); err != nil {
				return nil, fmt.Errorf("database: unmarshal sources: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("database: unmarshal metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ---- orchestrator.ScanStore ----

func (s *Store) UpdateScanStatus(ctx context.Context, scanID string, status models.ScanStatus, message string) error {
	var startedAt, completedAt any
	if status == models.ScanRunning {
		startedAt = time.Now()
	}
	if status.Terminal() {
		completedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE scans SET
			status = $1,
			status_message = $2,
			started_at = COALESCE(started_at, $3),
			completed_at = COALESCE($4, completed_at)
		WHERE id = $5`,
		status, message, startedAt, completedAt, scanID,
	)
	if err != nil {
		return fmt.Errorf("database: update scan status: %w", err)
	}
	return nil
}

func (s *Store) SaveStageResult(ctx context.Context, result models.StageResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stage_results (
			scan_id, stage, stage_index, status, retries, duration_ms,
			evidence_count, error_text, started_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (scan_id, stage) DO UPDATE SET
			status = EXCLUDED.status,
			retries = EXCLUDED.retries,
			duration_ms = EXCLUDED.duration_ms,
			evidence_count = EXCLUDED.evidence_count,
			error_text = EXCLUDED.error_text,
			completed_at = EXCLUDED.completed_at`,
		result.ScanID, result.Stage, result.Index, result.Status, result.Retries,
		result.Duration.Milliseconds(), result.EvidenceCount, result.ErrorText,
		result.StartedAt, result.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("database: save stage result: %w", err)
	}
	return nil
}

func (s *Store) SetReportID(ctx context.Context, scanID, reportID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE scans SET report_id = $1 WHERE id = $2`, reportID, scanID)
	if err != nil {
		return fmt.Errorf("database: set report id: %w", err)
	}
	return nil
}

// ---- scan / report / thesis persistence (consumed by pkg/api) ----

func (s *Store) CreateScan(ctx context.Context, scan models.ScanRequest) error {
	var profile []byte
	if scan.InvestorProfile != nil {
		var err error
		profile, err = json.Marshal(scan.InvestorProfile)
		if err != nil {
			return fmt.Errorf("database: marshal investor profile: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scans (
			id, company_name, company_website, investor_profile, analysis_depth,
			thesis_id, status, status_message, report_id, created_at, deadline
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		scan.ID, scan.Company.Name, scan.Company.Website, profile, scan.AnalysisDepth,
		scan.ThesisID, scan.Status, scan.StatusMessage, scan.ReportID, scan.CreatedAt, scan.Deadline,
	)
	if err != nil {
		return fmt.Errorf("database: create scan: %w", err)
	}
	return nil
}

func (s *Store) GetScan(ctx context.Context, scanID string) (*models.ScanRequest, error) {
	var scan models.ScanRequest
	var profile []byte
	var startedAt, completedAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_name, company_website, investor_profile, analysis_depth,
		       thesis_id, status, status_message, report_id, created_at, started_at, completed_at, deadline
		FROM scans WHERE id = $1`, scanID,
	).Scan(&scan.ID, &scan.Company.Name, &scan.Company.Website, &profile, &scan.AnalysisDepth,
		&scan.ThesisID, &scan.Status, &scan.StatusMessage, &scan.ReportID, &scan.CreatedAt,
		&startedAt, &completedAt, &scan.Deadline)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: get scan: %w", err)
	}
	if len(profile) > 0 {
		scan.InvestorProfile = &models.InvestorProfile{}
		if err := json.Unmarshal(profile, scan.InvestorProfile); err != nil {
			return nil, fmt.Errorf("database: unmarshal investor profile: %w", err)
		}
	}
	scan.StartedAt = startedAt
	scan.CompletedAt = completedAt
	return &scan, nil
}

func (s *Store) SaveThesis(ctx context.Context, thesis models.Thesis) error {
	pillars, err := json.Marshal(thesis.Pillars)
	if err != nil {
		return fmt.Errorf("database: marshal pillars: %w", err)
	}
	criteria, err := json.Marshal(thesis.SuccessCriteria)
	if err != nil {
		return fmt.Errorf("database: marshal success criteria: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO theses (id, statement, pillars, success_criteria, target_market)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			statement = EXCLUDED.statement,
			pillars = EXCLUDED.pillars,
			success_criteria = EXCLUDED.success_criteria,
			target_market = EXCLUDED.target_market`,
		thesis.ID, thesis.Statement, pillars, criteria, thesis.TargetMarket,
	)
	if err != nil {
		return fmt.Errorf("database: save thesis: %w", err)
	}
	return nil
}

func (s *Store) GetThesis(ctx context.Context, thesisID string) (*models.Thesis, error) {
	var t models.Thesis
	var pillars, criteria []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, statement, pillars, success_criteria, target_market FROM theses WHERE id = $1`, thesisID,
	).Scan(&t.ID, &t.Statement, &pillars, &criteria, &t.TargetMarket)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: get thesis: %w", err)
	}
	if len(pillars) > 0 {
		if err := json.Unmarshal(pillars, &t.Pillars); err != nil {
			return nil, fmt.Errorf("database: unmarshal pillars: %w", err)
		}
	}
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &t.SuccessCriteria); err != nil {
			return nil, fmt.Errorf("database: unmarshal success criteria: %w", err)
		}
	}
	return &t, nil
}

func (s *Store) SaveReport(ctx context.Context, report models.Report) error {
	sections, err := json.Marshal(report.Sections)
	if err != nil {
		return fmt.Errorf("database: marshal sections: %w", err)
	}
	citations, err := json.Marshal(report.Citations)
	if err != nil {
		return fmt.Errorf("database: marshal citations: %w", err)
	}
	quality, err := json.Marshal(report.QualitySummaries)
	if err != nil {
		return fmt.Errorf("database: marshal quality summaries: %w", err)
	}
	metadata, err := json.Marshal(report.GeneratorMetadata)
	if err != nil {
		return fmt.Errorf("database: marshal generator metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reports (
			id, scan_id, executive_summary, investment_score, investment_rationale,
			sections, citations, quality_summaries, aggregate_quality, evidence_count,
			generator_metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (scan_id) DO UPDATE SET
			executive_summary = EXCLUDED.executive_summary,
			investment_score = EXCLUDED.investment_score,
			investment_rationale = EXCLUDED.investment_rationale,
			sections = EXCLUDED.sections,
			citations = EXCLUDED.citations,
			quality_summaries = EXCLUDED.quality_summaries,
			aggregate_quality = EXCLUDED.aggregate_quality,
			evidence_count = EXCLUDED.evidence_count,
			generator_metadata = EXCLUDED.generator_metadata`,
		report.ID, report.ScanID, report.ExecutiveSummary, report.InvestmentScore, report.InvestmentRationale,
		sections, citations, quality, report.AggregateQuality, report.EvidenceCount,
		metadata, report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("database: save report: %w", err)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, reportID string) (*models.Report, error) {
	var r models.Report
	var sections, citations, quality, metadata []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, scan_id, executive_summary, investment_score, investment_rationale,
		       sections, citations, quality_summaries, aggregate_quality, evidence_count,
		       generator_metadata, created_at
		FROM reports WHERE id = $1`, reportID,
	).Scan(&r.ID, &r.ScanID, &r.ExecutiveSummary, &r.InvestmentScore, &r.InvestmentRationale,
		&sections, &citations, &quality, &r.AggregateQuality, &r.EvidenceCount, &metadata, &r.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: get report: %w", err)
	}
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &r.Sections); err != nil {
			return nil, fmt.Errorf("database: unmarshal sections: %w", err)
		}
	}
	if len(citations) > 0 {
		if err := json.Unmarshal(citations, &r.Citations); err != nil {
			return nil, fmt.Errorf("database: unmarshal citations: %w", err)
		}
	}
	if len(quality) > 0 {
		if err := json.Unmarshal(quality, &r.QualitySummaries); err != nil {
			return nil, fmt.Errorf("database: unmarshal quality summaries: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.GeneratorMetadata); err != nil {
			return nil, fmt.Errorf("database: unmarshal generator metadata: %w", err)
		}
	}
	return &r, nil
}

// DeleteScansOlderThan removes scans (and, via ON DELETE CASCADE, their
// jobs/evidence/stage results) whose CreatedAt predates cutoff. Used by
// pkg/cleanup's retention sweep.
func (s *Store) DeleteScansOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scans WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("database: delete old scans: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
