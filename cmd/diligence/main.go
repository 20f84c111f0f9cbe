// diligence orchestrates automated technical due-diligence scans: HTTP
// intake, a collector worker pool, and progress streaming.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/diligence-platform/core/pkg/api"
	"github.com/diligence-platform/core/pkg/cleanup"
	"github.com/diligence-platform/core/pkg/collector"
	"github.com/diligence-platform/core/pkg/config"
	"github.com/diligence-platform/core/pkg/database"
	"github.com/diligence-platform/core/pkg/dispatch"
	"github.com/diligence-platform/core/pkg/evidencepool"
	"github.com/diligence-platform/core/pkg/events"
	"github.com/diligence-platform/core/pkg/intake"
	"github.com/diligence-platform/core/pkg/models"
	"github.com/diligence-platform/core/pkg/orchestrator"
	"github.com/diligence-platform/core/pkg/queue"
	"github.com/diligence-platform/core/pkg/redact"
	"github.com/diligence-platform/core/pkg/resilience"
	"github.com/diligence-platform/core/pkg/synthesizer"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	log.Printf("Starting diligence")
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(filepath.Join(*configDir, "diligence.yaml"))
	if errors.Is(err, config.ErrConfigNotFound) {
		log.Printf("No diligence.yaml under %s, using built-in defaults", *configDir)
		cfg, err = config.Load("")
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dbCfg, err := database.LoadConfigFromEnv(cfg.Database.DSNEnv, cfg.Database.MaxConns, cfg.Database.ConnectTimeout, cfg.Database.MigrationsPath)
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	backoffCfg := database.BackoffConfig{
		Initial: cfg.Queue.RequeueBackoffInitial,
		Max:     cfg.Queue.RequeueBackoffMax,
		Factor:  cfg.Queue.RequeueBackoffFactor,
	}
	dbClient, err := database.NewClient(ctx, dbCfg, backoffCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("connected to PostgreSQL, migrations applied")

	registry, fallbacks := buildCollectors(cfg.Collectors)

	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.BreakerThreshold,
		Cooldown:         cfg.Resilience.BreakerCooldown,
	})
	healthMonitor := resilience.NewHealthMonitor(nil, breakers, cfg.Resilience.HealthCheckInterval, 5*time.Second)
	healthMonitor.Start(ctx)
	defer healthMonitor.Stop()

	retryCfg := resilience.RetryConfig{
		MaxAttempts:     cfg.Resilience.MaxRetries,
		InitialInterval: cfg.Resilience.RetryInitialDelay,
		MaxInterval:     cfg.Resilience.RetryMaxDelay,
	}

	pool := evidencepool.New(evidencepool.Config{
		QualityThreshold: cfg.EvidencePool.QualityThreshold,
		BatchSize:        cfg.EvidencePool.EvidenceBatchSize,
		FlushRetry:       retryCfg,
	}, dbClient.Store)

	dispatchHandler := dispatch.New(registry, fallbacks, breakers, retryCfg, pool, redact.New(), healthMonitor)

	queueCfg := queue.Config{
		Queues:             cfg.Queue.Names,
		WorkerCount:        cfg.Queue.WorkerCount,
		MaxConcurrentJobs:  cfg.Queue.MaxConcurrentJobs,
		VisibilityTimeout:  cfg.Queue.VisibilityTimeout,
		HeartbeatInterval:  cfg.Queue.HeartbeatInterval,
		PollInterval:       cfg.Queue.PollInterval,
		ReaperInterval:     cfg.Queue.ReaperInterval,
		MaxAttemptsDefault: cfg.Queue.MaxAttemptsDefault,
	}
	podID := getEnv("POD_ID", "diligence-0")
	workerPool := queue.NewWorkerPool(podID, dbClient.Store, queueCfg, dispatchHandler)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	broker := events.NewBroker()

	analyzer := synthesizer.NewExtractiveAnalyzer(0)
	synth := synthesizer.New(synthesizer.Config{
		TopK:         cfg.Synthesizer.TopK,
		TopN:         cfg.Synthesizer.TopN,
		AnalyzeRetry: retryCfg,
	}, analyzer)

	orch := orchestrator.New(orchestrator.Config{
		DeepCrawlThreshold: cfg.Orchestrator.DeepCrawlThreshold,
		ContinueOnError:    cfg.Orchestrator.ContinueOnError,
		StageTimeout:       cfg.Orchestrator.StageTimeout,
		MaxAttemptsDefault: cfg.Queue.MaxAttemptsDefault,
	}, dbClient.Store, registry, pool, dbClient.Store, broker, synth).WithHealth(healthMonitor)

	intakeSvc := intake.New(dbClient.Store, orch, cfg.Orchestrator.ScanDeadline)

	apiServer := api.NewServer(dbClient.Store, broker, workerPool, intakeSvc)

	cleanupSvc := cleanup.NewService(cleanup.Config{
		ScanRetentionDays: cfg.Retention.ScanRetentionDays,
		CleanupInterval:   cfg.Retention.CleanupInterval,
	}, dbClient.Store, broker)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	// Safety-net requeue distinct from the WorkerPool's own reaper ticker:
	// runs cluster-wide on a fixed wall-clock schedule so a scan doesn't
	// stall for a full ReaperInterval if every pod restarts at once.
	cronSched := cron.New()
	if _, err := cronSched.AddFunc("@every 5m", func() {
		reqCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := dbClient.Store.RequeueExpired(reqCtx)
		if err != nil {
			log.Printf("cron requeue sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("cron requeue sweep requeued %d expired job(s)", n)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule requeue sweep: %v", err)
	}
	cronSched.Start()
	defer cronSched.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", cfg.Server.Addr)
		if err := apiServer.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down HTTP server: %v", err)
	}
}

// buildCollectors registers one Heuristic collector per capability the
// canonical stages request. No network-calling collector implementation
// ships in this build (see DESIGN.md); every capability is still served
// so every stage produces at least a low-confidence summary rather than
// nothing, and the same instances double as each capability's resilience
// fallback.
func buildCollectors(_ []config.CollectorConfig) (*collector.Registry, map[collector.Capability]collector.Collector) {
	registry := collector.NewRegistry()
	fallbacks := make(map[collector.Capability]collector.Collector)

	caps := []collector.Capability{
		collector.CapWeb, collector.CapTech, collector.CapSecurity,
		collector.CapMarket, collector.CapFinancial, collector.CapTeam,
		collector.CapVulnerability, collector.CapTLS, collector.CapPerformance,
		collector.CapDeepResearch,
	}
	for _, cap := range caps {
		cap := cap
		h := collector.NewHeuristic(cap, func(c models.Company) string {
			if c.Name == "" {
				return ""
			}
			return c.Name + ": no automated collector configured for this capability; heuristic placeholder only."
		})
		registry.Register(h)
		fallbacks[cap] = h
	}
	return registry, fallbacks
}
