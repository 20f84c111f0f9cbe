// Package collector defines the uniform contract any evidence source
// implements, and a read-only-after-init Registry for looking collectors
// up by name or capability (spec.md §4.1).
//
// Grounded on the teacher's MCP client/registry shape (pkg/mcp/client.go's
// per-server map, pkg/config/mcp.go's MCPServerRegistry) generalized from
// stateful MCP sessions to stateless, idempotent evidence collection.
package collector

import (
	"context"
	"time"

	"github.com/diligence-platform/core/pkg/models"
)

// Capability tags what kind of evidence a Collector can produce.
type Capability string

const (
	CapWeb          Capability = "web"
	CapTech         Capability = "tech"
	CapSecurity     Capability = "security"
	CapMarket       Capability = "market"
	CapFinancial    Capability = "financial"
	CapTeam         Capability = "team"
	CapVulnerability Capability = "vulnerability"
	CapTLS          Capability = "tls"
	CapPerformance  Capability = "performance"
	CapDeepResearch Capability = "deep-research"
)

// Input is passed to Collect. ScanID and Company are always populated;
// Options carries stage-specific parameters (search queries, crawl depth,
// ...) the caller and collector agree on out of band.
type Input struct {
	ScanID  string
	Company models.Company
	Pillar  string
	Options map[string]any
}

// Collector is a named unit that contacts a single external source and
// produces Evidence. Implementations MUST be idempotent in outcome: a
// re-run on identical Input must yield Evidence with identical
// fingerprints, so the Evidence Pool's deduplication collapses retries
// (spec.md §4.1).
type Collector interface {
	Name() string
	Capabilities() []Capability
	Cost() int
	SuggestedTimeout() time.Duration
	MaxConcurrency() int

	// Collect may return both evidence and an error: the Pool still
	// consumes returned evidence even when err != nil and partialOk is
	// true (spec.md §4.1).
	Collect(ctx context.Context, in Input) (evidence []models.Evidence, partialOk bool, err error)
}

// HasCapability reports whether a Collector advertises cap.
func HasCapability(c Collector, cap Capability) bool {
	for _, have := range c.Capabilities() {
		if have == cap {
			return true
		}
	}
	return false
}
