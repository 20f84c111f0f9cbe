package evidencepool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligence-platform/core/pkg/models"
	"github.com/diligence-platform/core/pkg/resilience"
)

type fakeStore struct {
	mu       sync.Mutex
	batches  [][]models.Evidence
	failN    int // fail the first N UpsertEvidenceBatch calls
	calls    int
	markedPartial bool
}

func (s *fakeStore) UpsertEvidenceBatch(_ context.Context, _ string, evidence []models.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return assert.AnError
	}
	cp := append([]models.Evidence{}, evidence...)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *fakeStore) MarkCollectionPartial(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedPartial = true
	return nil
}

func webEvidence(scanID, pillar string, confidence float64, url, summary string) models.Evidence {
	return models.Evidence{
		ScanID:   scanID,
		PillarID: pillar,
		Type:     models.TypeTechStack,
		Sources:  []models.SourceDescriptor{{Kind: models.SourceWebPage, Collector: "web", URL: url}},
		Summary:  summary,
		Metadata: models.EvidenceMetadata{Confidence: confidence, Relevance: 0.8},
	}
}

func TestAdd_DuplicateFingerprintMergesKeepingHighestConfidence(t *testing.T) {
	p := New(Config{}, &fakeStore{})

	isNew1, err := p.Add(context.Background(), webEvidence("scan-1", "tech", 0.5, "https://acme.test/about", "Acme uses Go and Postgres"))
	require.NoError(t, err)
	assert.True(t, isNew1)

	isNew2, err := p.Add(context.Background(), webEvidence("scan-1", "tech", 0.9, "https://acme.test/about", "Acme uses Go and Postgres"))
	require.NoError(t, err)
	assert.False(t, isNew2)

	all := p.EvidenceForScan("scan-1")
	require.Len(t, all, 1)
	assert.InDelta(t, 0.9, all[0].Metadata.Confidence, 0.0001)
	assert.Len(t, all[0].Sources, 1) // same collector/url — sources union collapses identical descriptors
}

func TestAdd_DistinctEvidenceStaysSeparate(t *testing.T) {
	p := New(Config{}, &fakeStore{})
	_, _ = p.Add(context.Background(), webEvidence("scan-1", "tech", 0.6, "https://acme.test/about", "uses Go"))
	_, _ = p.Add(context.Background(), webEvidence("scan-1", "tech", 0.6, "https://acme.test/careers", "hiring engineers"))
	assert.Equal(t, 2, p.CountForScan("scan-1"))
}

func TestScore_HighValueTypeAndWebSearchBoosts(t *testing.T) {
	techEv := models.Evidence{
		Type:     models.TypeTechStack,
		Metadata: models.EvidenceMetadata{Confidence: 0.5},
	}
	assert.InDelta(t, 0.75, Score(techEv), 0.0001)

	searchEv := models.Evidence{
		Type:     models.TypeGeneral,
		Sources:  []models.SourceDescriptor{{Kind: models.SourceWebSearch}},
		Metadata: models.EvidenceMetadata{Confidence: 0.5},
	}
	assert.InDelta(t, 0.4, Score(searchEv), 0.0001)

	clamped := models.Evidence{
		Type:     models.TypeTechStack,
		Metadata: models.EvidenceMetadata{Confidence: 0.9},
	}
	assert.LessOrEqual(t, Score(clamped), 1.0)
}

func TestQualitySummaries_PerPillarAggregation(t *testing.T) {
	p := New(Config{QualityThreshold: 0.5}, &fakeStore{})
	_, _ = p.Add(context.Background(), webEvidence("scan-1", "tech", 0.9, "https://acme.test/a", "a"))
	_, _ = p.Add(context.Background(), webEvidence("scan-1", "tech", 0.3, "https://acme.test/b", "b"))
	_, _ = p.Add(context.Background(), webEvidence("scan-1", "security", 0.8, "https://acme.test/c", "c"))

	summaries := p.QualitySummaries("scan-1")
	byPillar := make(map[string]models.QualitySummary)
	for _, s := range summaries {
		byPillar[s.PillarID] = s
	}
	assert.Equal(t, 2, byPillar["tech"].Count)
	assert.Equal(t, 1, byPillar["tech"].AboveThreshold)
	assert.Equal(t, 1, byPillar["security"].Count)
}

func TestFlush_RetriesThenMarksPartialOnRepeatedFailure(t *testing.T) {
	store := &fakeStore{failN: 100} // always fails
	p := New(Config{BatchSize: 10, FlushRetry: resilience.RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond}}, store)
	_, _ = p.Add(context.Background(), webEvidence("scan-1", "tech", 0.9, "https://acme.test/a", "a"))

	err := p.Flush(context.Background(), "scan-1")
	require.Error(t, err)
	assert.True(t, store.markedPartial)
}

func TestFlush_SucceedsAndClearsUnflushed(t *testing.T) {
	store := &fakeStore{}
	p := New(Config{BatchSize: 10}, store)
	_, _ = p.Add(context.Background(), webEvidence("scan-1", "tech", 0.9, "https://acme.test/a", "a"))

	require.NoError(t, p.Flush(context.Background(), "scan-1"))
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 1)

	// Second flush with nothing new pending is a no-op.
	require.NoError(t, p.Flush(context.Background(), "scan-1"))
	assert.Len(t, store.batches, 1)
}

func TestFingerprint_NormalizesCaseAndWhitespace(t *testing.T) {
	a := webEvidence("scan-1", "tech", 0.5, "https://acme.test/About", "  Uses   GO  ")
	b := webEvidence("scan-1", "tech", 0.5, "https://acme.test/About", "uses go")
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}
