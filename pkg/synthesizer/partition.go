package synthesizer

import (
	"sort"

	"github.com/diligence-platform/core/pkg/models"
)

// defaultPillars backs scans with no thesis attached (spec.md §4.4's
// thesis-specific stage is conditional, but every scan still needs a
// section structure to synthesize against). Weights sum to 1.
var defaultPillars = []models.Pillar{
	{ID: "technology", Name: "Technology", Weight: 0.25},
	{ID: "market", Name: "Market", Weight: 0.2},
	{ID: "financial", Name: "Financial", Weight: 0.2},
	{ID: "security", Name: "Security", Weight: 0.2},
	{ID: "team", Name: "Team", Weight: 0.15},
}

// typeToPillar maps an EvidenceType to a default pillar id, used when an
// item's PillarID tag is empty and it must be placed by keyword instead
// (spec.md §4.6 step 1: "using the pillar tag or source-descriptor
// keywords").
var typeToPillar = map[models.EvidenceType]string{
	models.TypeTechStack:       "technology",
	models.TypeAPIEndpoint:     "technology",
	models.TypeFinancialMetric: "financial",
	models.TypeTeamInfo:        "team",
	models.TypeSecurity:        "security",
	models.TypeCustomer:        "market",
	models.TypeGeneral:         "market",
}

// pillarsFor returns the thesis's pillars, or defaultPillars if the scan
// has none.
func pillarsFor(thesis *models.Thesis) []models.Pillar {
	if thesis == nil || len(thesis.Pillars) == 0 {
		return defaultPillars
	}
	return thesis.Pillars
}

// partition groups evidence by pillar id, falling back to a keyword
// mapping from EvidenceType when an item carries no PillarID tag, then
// ranks each group by score and caps it at K (spec.md §4.6 steps 1-2).
func partition(evidence []models.Evidence, pillars []models.Pillar, topK int) map[string][]models.Evidence {
	known := make(map[string]bool, len(pillars))
	for _, p := range pillars {
		known[p.ID] = true
	}

	groups := make(map[string][]models.Evidence)
	for _, ev := range evidence {
		pillarID := ev.PillarID
		if pillarID == "" || !known[pillarID] {
			if mapped, ok := typeToPillar[ev.Type]; ok && known[mapped] {
				pillarID = mapped
			}
		}
		if !known[pillarID] {
			continue
		}
		groups[pillarID] = append(groups[pillarID], ev)
	}

	for id, items := range groups {
		sort.Slice(items, func(i, j int) bool { return items[i].Metadata.Score > items[j].Metadata.Score })
		if topK > 0 && len(items) > topK {
			items = items[:topK]
		}
		groups[id] = items
	}
	return groups
}
