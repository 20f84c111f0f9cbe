package models

import "time"

// EventKind enumerates the ProgressEvent kinds delivered over the
// Progress Channel (spec.md §4.7).
type EventKind string

const (
	EventStart             EventKind = "start"
	EventPhaseStart        EventKind = "phase_start"
	EventPhaseComplete     EventKind = "phase_complete"
	EventCollectorStart    EventKind = "collector_start"
	EventCollectorSuccess  EventKind = "collector_success"
	EventCollectorError    EventKind = "collector_error"
	EventEvidenceCollected EventKind = "evidence_collected"
	EventAnalysisStart     EventKind = "analysis_start"
	EventCategoryAnalyzed  EventKind = "category_analyzed"
	EventSynthesisStart    EventKind = "synthesis_start"
	EventReportPersisted   EventKind = "report_persisted"
	EventComplete          EventKind = "complete"
	EventError             EventKind = "error"
)

// ProgressEvent is one append-only record in a scan's event stream.
// Sequence is monotonically increasing per scan (spec.md §3, §5).
type ProgressEvent struct {
	ScanID    string         `json:"scan_id"`
	Sequence  int64          `json:"sequence"`
	Kind      EventKind      `json:"kind"`
	Stage     StageName      `json:"stage,omitempty"`
	Collector string         `json:"collector,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
