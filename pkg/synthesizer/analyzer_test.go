package synthesizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligence-platform/core/pkg/models"
)

func TestExtractiveAnalyzer_NoEvidenceReturnsEmptySummary(t *testing.T) {
	a := NewExtractiveAnalyzer(0)
	out, err := a.Analyze(context.Background(), SectionInput{Pillar: models.Pillar{Name: "Technology"}})
	require.NoError(t, err)
	assert.Contains(t, out.Summary, "No evidence")
	assert.Zero(t, out.Score)
}

func TestExtractiveAnalyzer_RanksAndCapsFindings(t *testing.T) {
	a := NewExtractiveAnalyzer(1)
	evidence := []models.Evidence{
		{ID: "low", Summary: "low value finding", Metadata: models.EvidenceMetadata{Score: 0.2}},
		{ID: "high", Summary: "high value finding", Metadata: models.EvidenceMetadata{Score: 0.9}},
	}
	out, err := a.Analyze(context.Background(), SectionInput{Pillar: models.Pillar{Name: "Technology"}, Evidence: evidence})
	require.NoError(t, err)
	require.Len(t, out.Findings, 1)
	assert.Equal(t, "high value finding", out.Findings[0].Claim)
	assert.InDelta(t, 55.0, out.Score, 0.01) // avg(0.2,0.9)*100
}

func TestExtractiveAnalyzer_SecurityTypeSurfacesAsRisk(t *testing.T) {
	a := NewExtractiveAnalyzer(5)
	evidence := []models.Evidence{
		{ID: "sec1", Type: models.TypeSecurity, Summary: "expired TLS certificate", Metadata: models.EvidenceMetadata{Score: 0.7}},
	}
	out, err := a.Analyze(context.Background(), SectionInput{Pillar: models.Pillar{Name: "Security"}, Evidence: evidence})
	require.NoError(t, err)
	assert.Contains(t, out.Risks, "expired TLS certificate")
}
