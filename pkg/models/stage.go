package models

import "time"

// StageName enumerates the ten canonical Orchestrator stages in order
// (spec.md §4.4). Stage order is fixed; StageResults for a scan must form
// a prefix of this order (spec.md §3 invariant).
type StageName string

const (
	StageInitialEvidence   StageName = "initial_evidence"
	StageDeepWebCrawl      StageName = "deep_web_crawl"
	StageTechAnalysis      StageName = "tech_analysis"
	StageBusinessIntel     StageName = "business_intelligence"
	StageSecurityAssessment StageName = "security_assessment"
	StageCompetitive       StageName = "competitive_analysis"
	StageFinancial         StageName = "financial_indicators"
	StageThesisSpecific    StageName = "thesis_specific_analysis"
	StageEvidenceProcessing StageName = "evidence_processing"
	StageReportGeneration  StageName = "report_generation"
)

// CanonicalStageOrder is the fixed sequence of stages the Orchestrator
// drives a scan through.
var CanonicalStageOrder = []StageName{
	StageInitialEvidence,
	StageDeepWebCrawl,
	StageTechAnalysis,
	StageBusinessIntel,
	StageSecurityAssessment,
	StageCompetitive,
	StageFinancial,
	StageThesisSpecific,
	StageEvidenceProcessing,
	StageReportGeneration,
}

// StageStatus is the terminal outcome recorded for a stage.
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StagePartial StageStatus = "partial"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// StageResult is the append-only per-stage outcome log entry (spec.md §3).
type StageResult struct {
	ScanID        string      `json:"scan_id"`
	Stage         StageName   `json:"stage"`
	Index         int         `json:"index"` // position in CanonicalStageOrder
	Status        StageStatus `json:"status"`
	Retries       int         `json:"retries"`
	Duration      time.Duration `json:"duration"`
	EvidenceCount int         `json:"evidence_count"`
	ErrorText     string      `json:"error_text,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   time.Time   `json:"completed_at"`
}
