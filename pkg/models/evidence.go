package models

import "time"

// SourceKind classifies where an Evidence item came from.
type SourceKind string

const (
	SourceWebPage     SourceKind = "web_page"
	SourceWebSearch   SourceKind = "web_search"
	SourceTechProbe   SourceKind = "tech_probe"
	SourceTLSScan     SourceKind = "tls_scan"
	SourceVulnScan    SourceKind = "vuln_scan"
	SourceDeepResearch SourceKind = "deep_research"
	SourceHeuristic   SourceKind = "heuristic"
)

// EvidenceType is the content classification used for the Pool's
// type_boost scoring (spec.md §4.5). High-value types get a 1.5x boost.
type EvidenceType string

const (
	TypeTechStack      EvidenceType = "tech-stack"
	TypeFinancialMetric EvidenceType = "financial-metric"
	TypeTeamInfo        EvidenceType = "team-info"
	TypeSecurity        EvidenceType = "security"
	TypeAPIEndpoint     EvidenceType = "api-endpoint"
	TypeCustomer        EvidenceType = "customer"
	TypeGeneral         EvidenceType = "general"
)

// HighValue reports whether t receives the Pool's 1.5x type_boost.
func (t EvidenceType) HighValue() bool {
	switch t {
	case TypeTechStack, TypeFinancialMetric, TypeTeamInfo, TypeSecurity, TypeAPIEndpoint, TypeCustomer:
		return true
	default:
		return false
	}
}

// SourceDescriptor records where and how an Evidence item was obtained.
// Evidence.Sources may hold more than one descriptor after deduplication
// merges two collectors that independently found the same fact.
type SourceDescriptor struct {
	Kind      SourceKind `json:"kind"`
	Collector string     `json:"collector"`
	URL       string     `json:"url,omitempty"`
	Query     string     `json:"query,omitempty"`
	Tool      string     `json:"tool,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// EvidenceMetadata carries the Pool's scoring outputs plus collector
// provenance. Confidence and Relevance are always in [0,1].
type EvidenceMetadata struct {
	Confidence     float64  `json:"confidence"`
	Relevance      float64  `json:"relevance"`
	Score          float64  `json:"score"`
	Tokens         int      `json:"tokens,omitempty"`
	ExtractionTrail []string `json:"extraction_trail,omitempty"`
	Fallback       bool     `json:"fallback,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Evidence is a single piece of collected due-diligence information.
// Immutable once persisted; duplicates (same Fingerprint) are coalesced by
// the Evidence Pool before persistence (spec.md §3 invariant).
type Evidence struct {
	ID          string           `json:"id"`
	ScanID      string           `json:"scan_id"`
	PillarID    string           `json:"pillar_id,omitempty"`
	Type        EvidenceType     `json:"type"`
	Sources     []SourceDescriptor `json:"sources"`
	Title       string           `json:"title,omitempty"`
	Raw         string           `json:"raw,omitempty"`
	Summary     string           `json:"summary"`
	Metadata    EvidenceMetadata `json:"metadata"`
	Embedding   []float32        `json:"embedding,omitempty"`
	Fingerprint string           `json:"fingerprint"`
	CreatedAt   time.Time        `json:"created_at"`
}

// CollectionStatus tracks the lifecycle of an EvidenceCollection.
type CollectionStatus string

const (
	CollectionOpen    CollectionStatus = "open"
	CollectionPartial CollectionStatus = "partial"
	CollectionClosed  CollectionStatus = "closed"
)

// EvidenceCollection is the per-scan container for Evidence, created when
// the first item lands and closed when the pipeline terminates.
type EvidenceCollection struct {
	ID       string           `json:"id"`
	ScanID   string           `json:"scan_id"`
	Status   CollectionStatus `json:"status"`
	Count    int              `json:"count"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// QualitySummary is a per-pillar aggregate reported alongside a Report
// (spec.md §4.5 "Quality summary").
type QualitySummary struct {
	PillarID     string  `json:"pillar_id"`
	Count        int     `json:"count"`
	AverageScore float64 `json:"average_score"`
	AboveThreshold int   `json:"above_threshold"`
}
