package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/diligence-platform/core/pkg/models"
)

// Heuristic is the final link in a capability's fallback chain
// (spec.md §4.3): when every real collector for a capability has
// exhausted retries or is circuit-open, Heuristic supplies minimal,
// low-confidence evidence so the stage still produces something rather
// than nothing.
type Heuristic struct {
	capability Capability
	summary    func(models.Company) string
}

// NewHeuristic builds a Heuristic collector for the given capability. The
// summary function must derive a best-effort summary from only the
// company name/website — no network calls.
func NewHeuristic(cap Capability, summary func(models.Company) string) *Heuristic {
	return &Heuristic{capability: cap, summary: summary}
}

func (h *Heuristic) Name() string                    { return fmt.Sprintf("heuristic-%s", h.capability) }
func (h *Heuristic) Capabilities() []Capability       { return []Capability{h.capability} }
func (h *Heuristic) Cost() int                        { return 0 }
func (h *Heuristic) SuggestedTimeout() time.Duration  { return time.Second }
func (h *Heuristic) MaxConcurrency() int              { return 100 }

func (h *Heuristic) Collect(_ context.Context, in Input) ([]models.Evidence, bool, error) {
	summary := h.summary(in.Company)
	if summary == "" {
		return nil, true, nil
	}
	ev := models.Evidence{
		ScanID:   in.ScanID,
		PillarID: in.Pillar,
		Type:     models.TypeGeneral,
		Sources: []models.SourceDescriptor{{
			Kind:      models.SourceHeuristic,
			Collector: h.Name(),
			Timestamp: time.Now(),
		}},
		Summary: summary,
		Metadata: models.EvidenceMetadata{
			Confidence: 0.4,
			Relevance:  0.5,
			Fallback:   true,
		},
	}
	return []models.Evidence{ev}, true, nil
}
