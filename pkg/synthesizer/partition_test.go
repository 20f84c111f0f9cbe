package synthesizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/diligence-platform/core/pkg/models"
)

func TestPartition_TagsTakePrecedenceOverTypeMapping(t *testing.T) {
	pillars := []models.Pillar{{ID: "technology", Name: "Technology", Weight: 1}}
	evidence := []models.Evidence{
		{ID: "e1", PillarID: "technology", Type: models.TypeSecurity, Metadata: models.EvidenceMetadata{Score: 0.5}},
	}
	groups := partition(evidence, pillars, 30)
	assert.Len(t, groups["technology"], 1)
}

func TestPartition_FallsBackToTypeMappingWhenTagMissing(t *testing.T) {
	pillars := []models.Pillar{{ID: "security", Name: "Security", Weight: 1}}
	evidence := []models.Evidence{
		{ID: "e1", Type: models.TypeSecurity, Metadata: models.EvidenceMetadata{Score: 0.5}},
	}
	groups := partition(evidence, pillars, 30)
	assert.Len(t, groups["security"], 1)
}

func TestPartition_CapsAtTopKOrderedByScore(t *testing.T) {
	pillars := []models.Pillar{{ID: "technology", Name: "Technology", Weight: 1}}
	evidence := make([]models.Evidence, 0, 5)
	for i := 0; i < 5; i++ {
		evidence = append(evidence, models.Evidence{
			ID: string(rune('a' + i)), PillarID: "technology",
			Metadata: models.EvidenceMetadata{Score: float64(i)},
		})
	}
	groups := partition(evidence, pillars, 2)
	assert.Len(t, groups["technology"], 2)
	assert.Equal(t, 4.0, groups["technology"][0].Metadata.Score)
	assert.Equal(t, 3.0, groups["technology"][1].Metadata.Score)
}

func TestPartition_DropsEvidenceForUnknownPillar(t *testing.T) {
	pillars := []models.Pillar{{ID: "technology", Name: "Technology", Weight: 1}}
	evidence := []models.Evidence{
		{ID: "e1", PillarID: "nonexistent", Type: models.TypeGeneral, Metadata: models.EvidenceMetadata{Score: 0.5}},
	}
	groups := partition(evidence, pillars, 30)
	assert.Empty(t, groups["technology"])
}
