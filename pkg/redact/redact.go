package redact

import "log/slog"

// Redactor applies compiled patterns and structural maskers to evidence
// content. Created once at startup; stateless and safe for concurrent use.
type Redactor struct {
	patterns []Pattern
	maskers  []Masker
}

// New builds a Redactor with the built-in pattern set and maskers.
func New() *Redactor {
	r := &Redactor{patterns: builtinPatterns()}
	r.register(URLCredentialsMasker{})
	return r
}

func (r *Redactor) register(m Masker) {
	r.maskers = append(r.maskers, m)
}

// Redact applies structural maskers then regex patterns to text, the
// same two-phase order as the teacher's applyMasking (structural first,
// since it is more specific; regex sweep second, as a general net).
// Redact never fails: a pattern match failure is structurally
// impossible once compiled, so unlike MaskToolResult's fail-closed path,
// there is no error branch to report here.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}
	out := text
	for _, m := range r.maskers {
		if m.AppliesTo(out) {
			out = m.Mask(out)
		}
	}
	for _, p := range r.patterns {
		out = p.Regex.ReplaceAllString(out, p.Replacement)
	}
	return out
}

// RedactedCount reports how many built-in patterns would fire against
// text, without modifying it — used for structured logging of how much
// an evidence item needed scrubbing (spec.md §4.5's audit trail).
func (r *Redactor) RedactedCount(text string) int {
	n := 0
	for _, p := range r.patterns {
		n += len(p.Regex.FindAllStringIndex(text, -1))
	}
	return n
}

// RedactEvidenceText redacts the free-text fields of an evidence item
// (raw content and summary) in place semantics — callers pass the
// strings, get back redacted copies — and logs when redaction fired, so
// a security review can audit what kinds of secrets collectors are
// encountering without logging the secrets themselves.
func (r *Redactor) RedactEvidenceText(scanID, field, text string) string {
	if text == "" {
		return text
	}
	n := r.RedactedCount(text)
	redacted := r.Redact(text)
	if n > 0 {
		slog.Info("redacted evidence content", "scan_id", scanID, "field", field, "matches", n)
	}
	return redacted
}
