// Package evidencepool implements the Evidence Pool (spec.md §4.5):
// fingerprint-based deduplication, confidence/type/source scoring, per-
// pillar quality summaries, and batched persistence to the Store.
//
// Grounded on the teacher's pkg/services/interaction_service.go
// transactional-write-with-validation shape, generalized from a single
// append to a dedup-aware upsert keyed on fingerprint, and on
// other_examples/OpenClause's pkg/evidence-store.go for the batch-flush-
// to-Postgres pattern this pool feeds into.
package evidencepool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/diligence-platform/core/pkg/clock"
	"github.com/diligence-platform/core/pkg/models"
	"github.com/diligence-platform/core/pkg/resilience"
)

const summaryNormalizeLen = 256

// Store is the persistence contract the Pool flushes batches into.
// Implemented by pkg/database.
type Store interface {
	UpsertEvidenceBatch(ctx context.Context, scanID string, evidence []models.Evidence) error
	MarkCollectionPartial(ctx context.Context, scanID string) error
}

// Config tunes pool behavior (spec.md §9).
type Config struct {
	QualityThreshold float64
	BatchSize        int
	FlushRetry       resilience.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = 0.7
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

// scanState holds one scan's in-flight evidence, guarded by its own
// mutex so concurrent scans never contend on a shared lock (spec.md §5:
// "guarded by a fine-grained mutex over the fingerprint index").
type scanState struct {
	mu        sync.Mutex
	byFP      map[string]*models.Evidence // fingerprint → canonical item
	unflushed []string                    // fingerprints pending persistence
	partial   bool
}

// Pool is the Evidence Pool. One Pool instance is shared across all
// scans; per-scan state is isolated internally.
type Pool struct {
	cfg   Config
	store Store
	clock clock.Clock

	mu     sync.RWMutex
	scans  map[string]*scanState
}

// New builds a Pool.
func New(cfg Config, store Store) *Pool {
	return &Pool{cfg: cfg.withDefaults(), store: store, clock: clock.Default, scans: make(map[string]*scanState)}
}

// WithClock overrides the injected clock (tests).
func (p *Pool) WithClock(c clock.Clock) *Pool {
	p.clock = c
	return p
}

func (p *Pool) stateFor(scanID string) *scanState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.scans[scanID]
	if !ok {
		s = &scanState{byFP: make(map[string]*models.Evidence)}
		p.scans[scanID] = s
	}
	return s
}

// Add ingests one Evidence item: computes its fingerprint and score, and
// either inserts it or merges it into an existing duplicate (spec.md
// §4.5). Returns true if the item was new (not a merge).
func (p *Pool) Add(_ context.Context, ev models.Evidence) (bool, error) {
	if ev.ScanID == "" {
		return false, fmt.Errorf("evidence missing scan id")
	}
	ev.Fingerprint = Fingerprint(ev)
	ev.Metadata.Score = Score(ev)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = p.clock.Now()
	}
	if ev.ID == "" {
		ev.ID = ev.Fingerprint
	}

	state := p.stateFor(ev.ScanID)
	state.mu.Lock()
	defer state.mu.Unlock()

	existing, dup := state.byFP[ev.Fingerprint]
	if !dup {
		cp := ev
		state.byFP[ev.Fingerprint] = &cp
		state.unflushed = append(state.unflushed, ev.Fingerprint)
		return true, nil
	}

	merged := mergeDuplicate(*existing, ev)
	state.byFP[ev.Fingerprint] = &merged
	return false, nil
}

// mergeDuplicate implements spec.md §4.5's dedup rule: keep the
// highest-confidence item's content, union source descriptors, union
// extraction trails.
func mergeDuplicate(existing, incoming models.Evidence) models.Evidence {
	winner := existing
	if incoming.Metadata.Confidence > existing.Metadata.Confidence {
		winner = incoming
	}
	winner.Sources = unionSources(existing.Sources, incoming.Sources)
	winner.Metadata.ExtractionTrail = unionStrings(existing.Metadata.ExtractionTrail, incoming.Metadata.ExtractionTrail)
	if winner.Metadata.Score < existing.Metadata.Score {
		winner.Metadata.Score = existing.Metadata.Score
	}
	if winner.Metadata.Score < incoming.Metadata.Score {
		winner.Metadata.Score = incoming.Metadata.Score
	}
	return winner
}

func unionSources(a, b []models.SourceDescriptor) []models.SourceDescriptor {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]models.SourceDescriptor, 0, len(a)+len(b))
	for _, s := range append(append([]models.SourceDescriptor{}, a...), b...) {
		key := string(s.Kind) + "|" + s.Collector + "|" + s.URL + "|" + s.Query
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// CountForScan returns the number of distinct (post-dedup) evidence
// items collected for scanID so far.
func (p *Pool) CountForScan(scanID string) int {
	state := p.stateFor(scanID)
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.byFP)
}

// EvidenceForScan returns a snapshot of all deduplicated evidence for a
// scan, for handoff to the Synthesizer.
func (p *Pool) EvidenceForScan(scanID string) []models.Evidence {
	state := p.stateFor(scanID)
	state.mu.Lock()
	defer state.mu.Unlock()
	out := make([]models.Evidence, 0, len(state.byFP))
	for _, ev := range state.byFP {
		out = append(out, *ev)
	}
	return out
}

// QualitySummaries computes per-pillar count/average-score/above-
// threshold statistics (spec.md §4.5).
func (p *Pool) QualitySummaries(scanID string) []models.QualitySummary {
	state := p.stateFor(scanID)
	state.mu.Lock()
	defer state.mu.Unlock()

	byPillar := make(map[string][]*models.Evidence)
	for _, ev := range state.byFP {
		byPillar[ev.PillarID] = append(byPillar[ev.PillarID], ev)
	}

	out := make([]models.QualitySummary, 0, len(byPillar))
	for pillar, items := range byPillar {
		var sum float64
		above := 0
		for _, ev := range items {
			sum += ev.Metadata.Score
			if ev.Metadata.Score > p.cfg.QualityThreshold {
				above++
			}
		}
		out = append(out, models.QualitySummary{
			PillarID:       pillar,
			Count:          len(items),
			AverageScore:   sum / float64(len(items)),
			AboveThreshold: above,
		})
	}
	return out
}

// Flush persists unflushed evidence for scanID in batches, retrying a
// failed batch with backoff; a batch that still fails after retries
// marks the collection partial but does not abort the scan (spec.md
// §4.5).
func (p *Pool) Flush(ctx context.Context, scanID string) error {
	state := p.stateFor(scanID)
	state.mu.Lock()
	pending := state.unflushed
	state.unflushed = nil
	batch := make([]models.Evidence, 0, len(pending))
	for _, fp := range pending {
		if ev, ok := state.byFP[fp]; ok {
			batch = append(batch, *ev)
		}
	}
	state.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var flushErr error
	for start := 0; start < len(batch); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(batch) {
			end = len(batch)
		}
		chunk := batch[start:end]
		err := resilience.Retry(ctx, p.cfg.FlushRetry, func() error {
			return p.store.UpsertEvidenceBatch(ctx, scanID, chunk)
		})
		if err != nil {
			slog.Error("evidence batch flush failed after retries", "scan_id", scanID, "size", len(chunk), "error", err)
			flushErr = err
			state.mu.Lock()
			state.partial = true
			state.mu.Unlock()
			if markErr := p.store.MarkCollectionPartial(ctx, scanID); markErr != nil {
				slog.Error("failed to mark evidence collection partial", "scan_id", scanID, "error", markErr)
			}
		}
	}
	return flushErr
}

// Fingerprint computes the deduplication key for an Evidence item
// (spec.md §4.5): hash(normalize(type) ‖ normalize(url|query) ‖
// normalize(summary[0..N])).
func Fingerprint(ev models.Evidence) string {
	var locator string
	if len(ev.Sources) > 0 {
		s := ev.Sources[0]
		if s.URL != "" {
			locator = s.URL
		} else {
			locator = s.Query
		}
	}
	h := sha256.New()
	h.Write([]byte(normalize(string(ev.Type))))
	h.Write([]byte{'|'})
	h.Write([]byte(normalize(locator)))
	h.Write([]byte{'|'})
	h.Write([]byte(normalize(truncate(ev.Summary, summaryNormalizeLen))))
	return hex.EncodeToString(h.Sum(nil))
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRe.ReplaceAllString(s, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Score computes spec.md §4.5's scoring formula: base_confidence *
// type_boost * source_boost, clamped to [0,1].
func Score(ev models.Evidence) float64 {
	score := ev.Metadata.Confidence
	if ev.Type.HighValue() {
		score *= 1.5
	}
	if isGenericWebSearch(ev) {
		score *= 0.8
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func isGenericWebSearch(ev models.Evidence) bool {
	for _, s := range ev.Sources {
		if s.Kind == models.SourceWebSearch {
			return true
		}
	}
	return false
}

