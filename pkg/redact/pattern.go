// Package redact strips secrets and PII from collected evidence before
// it is persisted (spec.md §4.5: "evidence content is redacted of
// credentials and personal data prior to storage").
//
// Grounded on the teacher's pkg/masking package: the pre-compiled
// regex-pattern-plus-code-masker two-phase pipeline is kept
// (compile-once-at-startup, regex sweep then structural maskers);
// generalized from MCP-server-scoped pattern groups to a single global
// pattern set (this domain has one evidence pipeline, not per-server
// configs), and the Kubernetes Secret structural masker is dropped in
// favor of a URL-credential masker relevant to crawled web evidence.
package redact

import "regexp"

// Pattern is a precompiled regex-based rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns mirrors the teacher's config.GetBuiltinConfig().MaskingPatterns
// table, adapted to the secret/PII shapes web-crawled and API-probed
// evidence actually contains.
func builtinPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "aws_access_key",
			Regex:       regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Replacement: "[REDACTED:aws-access-key]",
		},
		{
			Name:        "private_key_block",
			Regex:       regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`),
			Replacement: "[REDACTED:private-key]",
		},
		{
			Name:        "bearer_token",
			Regex:       regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._\-]{10,}\b`),
			Replacement: "[REDACTED:bearer-token]",
		},
		{
			Name:        "jwt",
			Regex:       regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
			Replacement: "[REDACTED:jwt]",
		},
		{
			Name:        "generic_api_key_assignment",
			Regex:       regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password)\b\s*[:=]\s*["']?[A-Za-z0-9_\-]{8,}["']?`),
			Replacement: "$1=[REDACTED]",
		},
		{
			Name:        "email",
			Regex:       regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			Replacement: "[REDACTED:email]",
		},
		{
			Name:        "credit_card",
			Regex:       regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
			Replacement: "[REDACTED:card-number]",
		},
	}
}
