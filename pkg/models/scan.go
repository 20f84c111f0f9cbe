package models

import "time"

// AnalysisDepth controls how aggressively the Orchestrator pursues
// optional stages (deep crawl, exhaustive research).
type AnalysisDepth string

const (
	DepthShallow   AnalysisDepth = "shallow"
	DepthDeep      AnalysisDepth = "deep"
	DepthExhaustive AnalysisDepth = "exhaustive"
)

// ScanStatus is the lifecycle status of a ScanRequest. Exactly one of the
// terminal values (AwaitingReview, CompletedWithErrors, Failed) is reached
// exactly once per scan (spec.md §3 invariant).
type ScanStatus string

const (
	ScanPending              ScanStatus = "pending"
	ScanRunning              ScanStatus = "running"
	ScanAwaitingReview       ScanStatus = "awaiting_review"
	ScanCompletedWithErrors  ScanStatus = "completed_with_errors"
	ScanFailed               ScanStatus = "failed"
)

// Terminal reports whether s is one of the three terminal statuses.
func (s ScanStatus) Terminal() bool {
	switch s {
	case ScanAwaitingReview, ScanCompletedWithErrors, ScanFailed:
		return true
	default:
		return false
	}
}

// Company identifies the due-diligence target.
type Company struct {
	Name    string `json:"name"`
	Website string `json:"website"`
}

// InvestorProfile carries optional investor context that biases collection
// and synthesis (e.g. sector focus, check size). Free-form by design —
// the core never interprets its fields, only forwards them to collectors
// and analyzers.
type InvestorProfile struct {
	Fields map[string]any `json:"fields,omitempty"`
}

// ScanRequest is the root entity: one per scan, created on intake and
// mutated only by the Orchestrator to update status (spec.md §3).
type ScanRequest struct {
	ID              string          `json:"id"`
	Company         Company         `json:"company"`
	InvestorProfile *InvestorProfile `json:"investor_profile,omitempty"`
	AnalysisDepth   AnalysisDepth   `json:"analysis_depth"`
	ThesisID        string          `json:"thesis_id,omitempty"`
	Status          ScanStatus      `json:"status"`
	StatusMessage   string          `json:"status_message,omitempty"`
	ReportID        string          `json:"report_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Deadline        time.Time       `json:"deadline"`
}
