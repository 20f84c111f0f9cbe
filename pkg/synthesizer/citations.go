package synthesizer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/diligence-platform/core/pkg/models"
)

const citationNearProximity = 50

var (
	termSplitRe     = regexp.MustCompile(`[A-Za-z0-9']+`)
	sentenceSplitRe = regexp.MustCompile(`(?s)[^.!?]*[.!?]`)
	stopWords       = map[string]bool{
		"the": true, "a": true, "an": true, "of": true, "to": true, "and": true,
		"in": true, "on": true, "for": true, "is": true, "are": true, "with": true,
		"that": true, "this": true, "it": true, "as": true, "by": true, "at": true,
	}
)

// keyTerms extracts the significant (non-stopword) lowercase terms from a
// claim, used by all three anchoring strategies.
func keyTerms(claim string) []string {
	var out []string
	for _, t := range termSplitRe.FindAllString(strings.ToLower(claim), -1) {
		if len(t) < 3 || stopWords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// anchor is a located span in section content where a citation marker
// should be inserted.
type anchor struct {
	pos int
	end int
}

// findAnchor implements the three-strategy fallback matcher (spec.md
// §4.6 step 5 / §9 "Citation anchoring robustness"): sentence containing
// ≥70% of the claim's key terms, else paragraph containing ≥50%
// anchored at its best sentence, else a five-term fuzzy regex. Returns
// ok=false when none found, signaling a weak-anchor footer attachment.
func findAnchor(content, claim string) (anchor, bool) {
	terms := keyTerms(claim)
	if len(terms) == 0 {
		return anchor{}, false
	}

	if a, ok := bestSentenceMatch(content, terms, 0.70); ok {
		return a, true
	}
	if a, ok := bestParagraphMatch(content, terms, 0.50); ok {
		return a, true
	}
	return fuzzyRegexMatch(content, terms)
}

func termCoverage(text string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

func bestSentenceMatch(content string, terms []string, threshold float64) (anchor, bool) {
	best := anchor{}
	bestScore := 0.0
	found := false
	for _, loc := range sentenceSplitRe.FindAllStringIndex(content, -1) {
		sentence := content[loc[0]:loc[1]]
		score := termCoverage(sentence, terms)
		if score >= threshold && score > bestScore {
			bestScore = score
			best = anchor{pos: loc[0], end: loc[1]}
			found = true
		}
	}
	return best, found
}

func bestParagraphMatch(content string, terms []string, threshold float64) (anchor, bool) {
	start := 0
	best := anchor{}
	bestScore := 0.0
	found := false
	for _, para := range strings.SplitAfter(content, "\n\n") {
		score := termCoverage(para, terms)
		if score >= threshold && score > bestScore {
			bestScore = score
			found = true
			// anchor at the best sentence within the paragraph, falling
			// back to the paragraph's own end.
			if sa, ok := bestSentenceMatch(para, terms, 0); ok {
				best = anchor{pos: start + sa.pos, end: start + sa.end}
			} else {
				best = anchor{pos: start, end: start + len(para)}
			}
		}
		start += len(para)
	}
	return best, found
}

// fuzzyRegexMatch builds a regex over the first five significant claim
// terms allowing small gaps between them (spec.md §4.6 step 5 (iii)).
func fuzzyRegexMatch(content string, terms []string) (anchor, bool) {
	n := len(terms)
	if n > 5 {
		n = 5
	}
	if n == 0 {
		return anchor{}, false
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = regexp.QuoteMeta(terms[i])
	}
	pattern := "(?i)" + strings.Join(parts, `.{0,40}`)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return anchor{}, false
	}
	loc := re.FindStringIndex(content)
	if loc == nil {
		return anchor{}, false
	}
	return anchor{pos: loc[0], end: loc[1]}, true
}

// citationMarker renders the markdown link injected at an anchor.
func citationMarker(number int) string {
	return fmt.Sprintf("[[%d]](#citation-%d)", number, number)
}

// nearExistingCitation reports whether pos already has a citation marker
// within citationNearProximity characters, guarding against duplicate
// injection when re-synthesizing already-cited content.
func nearExistingCitation(content string, pos int) bool {
	lo := pos - citationNearProximity
	if lo < 0 {
		lo = 0
	}
	hi := pos + citationNearProximity
	if hi > len(content) {
		hi = len(content)
	}
	return strings.Contains(content[lo:hi], "](#citation-")
}

// injectCitations walks findings in order, locates an anchor for each
// claim, and inserts a citation marker immediately after the anchor's
// end. Findings whose claim cannot be anchored get a weak-anchor
// citation appended to the section footer instead. Numbering is
// monotonic, continuing from nextNumber.
func injectCitations(content string, sectionID string, findings []models.Finding, nextNumber int) (string, []models.Citation) {
	var citations []models.Citation
	footer := []string{}
	num := nextNumber

	// Process anchors back-to-front per insertion so earlier offsets stay
	// valid as later markers are spliced in.
	type pending struct {
		a        anchor
		finding  models.Finding
		number   int
	}
	var placed []pending

	for _, f := range findings {
		if len(f.EvidenceIDs) == 0 {
			continue
		}
		a, ok := findAnchor(content, f.Claim)
		if !ok || nearExistingCitation(content, a.end) {
			if !ok {
				citations = append(citations, models.Citation{
					Number:     num,
					SectionID:  sectionID,
					ClaimText:  f.Claim,
					EvidenceID: f.EvidenceIDs[0],
					Confidence: f.Confidence,
					WeakAnchor: true,
				})
				footer = append(footer, fmt.Sprintf("%s %s", citationMarker(num), f.Claim))
				num++
			}
			continue
		}
		placed = append(placed, pending{a: a, finding: f, number: num})
		citations = append(citations, models.Citation{
			Number:     num,
			SectionID:  sectionID,
			ClaimText:  f.Claim,
			EvidenceID: f.EvidenceIDs[0],
			Confidence: f.Confidence,
		})
		num++
	}

	for i := len(placed) - 1; i >= 0; i-- {
		p := placed[i]
		marker := " " + citationMarker(p.number)
		content = content[:p.a.end] + marker + content[p.a.end:]
	}

	if len(footer) > 0 {
		content += "\n\n---\n" + strings.Join(footer, "\n")
	}

	return content, citations
}
