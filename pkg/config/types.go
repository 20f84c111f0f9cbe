// Package config implements the single configuration surface named in
// spec.md §6 ("a single configuration surface with the options listed
// in §9 under 'Tunables'; values may be overridden by environment at
// startup").
//
// Grounded on the teacher's pkg/config package: the YAML-file-plus-
// environment-expansion loading shape (loader.go), the error taxonomy
// (errors.go), and the built-in-defaults-merged-with-user-YAML pattern
// (merge.go / defaults.go) are kept; the agent/chain/MCP-server-specific
// registries are replaced with the collector/queue/thesis registries
// this domain needs.
package config

import "time"

// ResilienceConfig holds the Resilience Layer's tunables (spec.md §9).
type ResilienceConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	BreakerThreshold  int           `yaml:"breaker_threshold"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// QueueConfig holds the Queue Subsystem's tunables.
type QueueConfig struct {
	Names              []string      `yaml:"names"`
	WorkerCount        int           `yaml:"worker_count"`
	MaxConcurrentJobs  int           `yaml:"max_concurrent_jobs"`
	VisibilityTimeout  time.Duration `yaml:"visibility_timeout"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	ReaperInterval     time.Duration `yaml:"reaper_interval"`
	MaxAttemptsDefault int           `yaml:"max_attempts_default"`

	// Requeue backoff (spec.md §4.2): delay = min(initial * factor^(attempt-1), max).
	RequeueBackoffInitial time.Duration `yaml:"requeue_backoff_initial"`
	RequeueBackoffMax     time.Duration `yaml:"requeue_backoff_max"`
	RequeueBackoffFactor  float64       `yaml:"requeue_backoff_factor"`
}

// EvidencePoolConfig holds the Evidence Pool's tunables.
type EvidencePoolConfig struct {
	QualityThreshold float64 `yaml:"quality_threshold"`
	EvidenceBatchSize int    `yaml:"evidence_batch_size"`
}

// SynthesizerConfig holds the Report Synthesizer's tunables.
type SynthesizerConfig struct {
	TopK int `yaml:"top_k"`
	TopN int `yaml:"top_n"`
	CitationNearProximity int `yaml:"citation_near_proximity"`
}

// OrchestratorConfig holds the Orchestrator's tunables.
type OrchestratorConfig struct {
	DeepCrawlThreshold int           `yaml:"deep_crawl_threshold"`
	ScanDeadline       time.Duration `yaml:"scan_deadline"`
	StageTimeout       time.Duration `yaml:"stage_timeout"`
	ContinueOnError    bool          `yaml:"continue_on_error"`
}

// RetentionConfig holds the cleanup service's tunables, grounded on the
// teacher's pkg/config/retention.go.
type RetentionConfig struct {
	ScanRetentionDays int           `yaml:"scan_retention_days"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// ServerConfig holds the HTTP/SSE surface's tunables.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds the Store's connection tunables.
type DatabaseConfig struct {
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int32         `yaml:"max_conns"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// CollectorConfig declares one registered collector instance (spec.md
// §6 "Collector contract"): name, the queue it drains, and any
// collector-specific options forwarded verbatim.
type CollectorConfig struct {
	Name        string         `yaml:"name"`
	Queue       string         `yaml:"queue"`
	Capabilities []string      `yaml:"capabilities"`
	Cost        int            `yaml:"cost"`
	Timeout     time.Duration  `yaml:"timeout"`
	Concurrency int            `yaml:"concurrency"`
	Options     map[string]any `yaml:"options"`
}

// FileConfig mirrors the on-disk YAML file structure (diligence.yaml).
type FileConfig struct {
	Resilience  *ResilienceConfig    `yaml:"resilience"`
	Queue       *QueueConfig         `yaml:"queue"`
	EvidencePool *EvidencePoolConfig `yaml:"evidence_pool"`
	Synthesizer *SynthesizerConfig   `yaml:"synthesizer"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`
	Retention   *RetentionConfig     `yaml:"retention"`
	Server      *ServerConfig        `yaml:"server"`
	Database    *DatabaseConfig      `yaml:"database"`
	Collectors  []CollectorConfig    `yaml:"collectors"`
}

// Config is the fully resolved, validated configuration surface handed
// to cmd/diligence's wiring.
type Config struct {
	Resilience   ResilienceConfig
	Queue        QueueConfig
	EvidencePool EvidencePoolConfig
	Synthesizer  SynthesizerConfig
	Orchestrator OrchestratorConfig
	Retention    RetentionConfig
	Server       ServerConfig
	Database     DatabaseConfig
	Collectors   []CollectorConfig
}
