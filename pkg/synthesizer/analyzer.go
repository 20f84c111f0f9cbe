package synthesizer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/diligence-platform/core/pkg/models"
)

// SectionInput is what an Analyzer receives for one pillar (spec.md §4.6
// step 2): the pillar being written up and its top-K scored evidence.
type SectionInput struct {
	Pillar   models.Pillar
	Thesis   *models.Thesis
	Evidence []models.Evidence
}

// SectionOutput is what an Analyzer must produce for one pillar.
type SectionOutput struct {
	Summary         string
	Findings        []models.Finding
	Risks           []string
	Opportunities   []string
	Recommendations []string
	Score           float64 // [0,100]
}

// Analyzer is the model-agnostic adapter the Synthesizer calls per
// section (spec.md §4.6: "pass to an analyzer adapter (model-agnostic)
// that returns..."). The teacher's own analyzer was an LLM client wired
// over a grpc sidecar whose generated proto package is absent from this
// retrieval pack (see DESIGN.md); a real deployment supplies an Analyzer
// backed by whatever model API it has credentials for. This package
// ships ExtractiveAnalyzer, a deterministic implementation grounded on
// the teacher's prompt/extraction conventions, usable standalone or as
// the last link in an Analyzer fallback chain.
type Analyzer interface {
	Analyze(ctx context.Context, in SectionInput) (SectionOutput, error)
}

// ExtractiveAnalyzer produces a section write-up directly from scored
// evidence without calling an external model: it ranks evidence,
// restates the highest-scoring items as findings, and derives a section
// score from the evidence's own scores. Grounded on the teacher's
// pkg/agent/prompt.PromptBuilder evidence-formatting conventions
// (structuring raw tool output into claims) and on the Heuristic
// collector's principle of always producing a usable, if shallow,
// result rather than nothing.
type ExtractiveAnalyzer struct {
	MaxFindings int
}

// NewExtractiveAnalyzer builds an ExtractiveAnalyzer with the given
// findings cap (0 uses a sane default).
func NewExtractiveAnalyzer(maxFindings int) *ExtractiveAnalyzer {
	if maxFindings <= 0 {
		maxFindings = 8
	}
	return &ExtractiveAnalyzer{MaxFindings: maxFindings}
}

func (a *ExtractiveAnalyzer) Analyze(_ context.Context, in SectionInput) (SectionOutput, error) {
	if len(in.Evidence) == 0 {
		return SectionOutput{
			Summary: fmt.Sprintf("No evidence was collected for %s.", in.Pillar.Name),
		}, nil
	}

	ranked := append([]models.Evidence{}, in.Evidence...)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Metadata.Score > ranked[j].Metadata.Score })

	findings := make([]models.Finding, 0, a.MaxFindings)
	var riskTerms, oppTerms []string
	var summaryParts []string
	var scoreSum float64

	for i, ev := range ranked {
		scoreSum += ev.Metadata.Score
		if i >= a.MaxFindings {
			continue
		}
		claim := claimFromEvidence(ev)
		findings = append(findings, models.Finding{
			Claim:       claim,
			EvidenceIDs: []string{ev.ID},
			Confidence:  ev.Metadata.Confidence,
		})
		if len(summaryParts) < 3 {
			summaryParts = append(summaryParts, claim)
		}
		if ev.Type == models.TypeSecurity {
			riskTerms = append(riskTerms, claim)
		}
		if ev.Type == models.TypeCustomer || ev.Type == models.TypeFinancialMetric {
			oppTerms = append(oppTerms, claim)
		}
	}

	avgScore := scoreSum / float64(len(ranked))
	return SectionOutput{
		Summary:         strings.Join(summaryParts, " "),
		Findings:        findings,
		Risks:           riskTerms,
		Opportunities:   oppTerms,
		Recommendations: nil,
		Score:           avgScore * 100,
	}, nil
}

func claimFromEvidence(ev models.Evidence) string {
	if ev.Summary != "" {
		return ev.Summary
	}
	if ev.Title != "" {
		return ev.Title
	}
	return fmt.Sprintf("%s evidence collected", ev.Type)
}
