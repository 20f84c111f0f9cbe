package config

import "fmt"

// Validate checks required fields and sane ranges, grounded on the
// teacher's pkg/config/validator.go required-field/range-check pattern.
func (c *Config) Validate() error {
	if c.Resilience.MaxRetries < 0 {
		return &ValidationError{Field: "resilience.max_retries", Reason: "must be >= 0"}
	}
	if c.Resilience.RetryMaxDelay < c.Resilience.RetryInitialDelay {
		return &ValidationError{Field: "resilience.retry_max_delay", Reason: "must be >= retry_initial_delay"}
	}
	if c.Queue.WorkerCount <= 0 {
		return &ValidationError{Field: "queue.worker_count", Reason: "must be > 0"}
	}
	if len(c.Queue.Names) == 0 {
		return &ValidationError{Field: "queue.names", Reason: "must declare at least one queue"}
	}
	if c.Queue.RequeueBackoffFactor <= 1 {
		return &ValidationError{Field: "queue.requeue_backoff_factor", Reason: "must be > 1"}
	}
	if c.Queue.RequeueBackoffMax < c.Queue.RequeueBackoffInitial {
		return &ValidationError{Field: "queue.requeue_backoff_max", Reason: "must be >= requeue_backoff_initial"}
	}
	if c.EvidencePool.QualityThreshold < 0 || c.EvidencePool.QualityThreshold > 1 {
		return &ValidationError{Field: "evidence_pool.quality_threshold", Reason: "must be in [0, 1]"}
	}
	if c.Synthesizer.TopK <= 0 {
		return &ValidationError{Field: "synthesizer.top_k", Reason: "must be > 0"}
	}
	if c.Orchestrator.DeepCrawlThreshold < 0 || c.Orchestrator.DeepCrawlThreshold > 100 {
		return &ValidationError{Field: "orchestrator.deep_crawl_threshold", Reason: "must be in [0, 100]"}
	}
	if c.Server.Addr == "" {
		return &ValidationError{Field: "server.addr", Reason: "must not be empty"}
	}
	seen := make(map[string]bool, len(c.Queue.Names))
	for _, n := range c.Queue.Names {
		seen[n] = true
	}
	for i, col := range c.Collectors {
		if col.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("collectors[%d].name", i), Reason: "must not be empty"}
		}
		if col.Queue == "" {
			return &ValidationError{Field: fmt.Sprintf("collectors[%d].queue", i), Reason: "must not be empty"}
		}
		if !seen[col.Queue] {
			return &ValidationError{Field: fmt.Sprintf("collectors[%d].queue", i), Reason: fmt.Sprintf("queue %q is not declared in queue.names", col.Queue)}
		}
	}
	return nil
}
