package config

import "time"

// builtin holds the system's built-in defaults, merged underneath
// whatever the user's YAML file supplies (pkg/config/merge.go), the
// same two-layer precedence the teacher's configLoader uses for its
// system and user YAML.
func builtin() FileConfig {
	return FileConfig{
		Resilience: &ResilienceConfig{
			MaxRetries:          3,
			RetryInitialDelay:   500 * time.Millisecond,
			RetryMaxDelay:       30 * time.Second,
			BreakerThreshold:    5,
			BreakerCooldown:     60 * time.Second,
			HealthCheckInterval: 30 * time.Second,
		},
		Queue: &QueueConfig{
			Names:              []string{"collectors"},
			WorkerCount:        8,
			MaxConcurrentJobs:  16,
			VisibilityTimeout:  2 * time.Minute,
			HeartbeatInterval:  30 * time.Second,
			PollInterval:       time.Second,
			ReaperInterval:     time.Minute,
			MaxAttemptsDefault: 3,

			RequeueBackoffInitial: 5 * time.Second,
			RequeueBackoffMax:     2 * time.Minute,
			RequeueBackoffFactor:  2.0,
		},
		EvidencePool: &EvidencePoolConfig{
			QualityThreshold:  0.4,
			EvidenceBatchSize: 100,
		},
		Synthesizer: &SynthesizerConfig{
			TopK:                  30,
			TopN:                  50,
			CitationNearProximity: 50,
		},
		Orchestrator: &OrchestratorConfig{
			DeepCrawlThreshold: 60,
			ScanDeadline:       2 * time.Hour,
			StageTimeout:       10 * time.Minute,
			ContinueOnError:    true,
		},
		Retention: &RetentionConfig{
			ScanRetentionDays: 90,
			CleanupInterval:   24 * time.Hour,
		},
		Server: &ServerConfig{
			Addr: ":8080",
		},
		Database: &DatabaseConfig{
			DSNEnv:         "DATABASE_URL",
			MaxConns:       10,
			ConnectTimeout: 10 * time.Second,
			MigrationsPath: "migrations",
		},
	}
}
