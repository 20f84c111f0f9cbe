// Package database provides the Postgres-backed Store implementing the
// Queue Subsystem, Evidence Pool, and Orchestrator persistence contracts
// (spec.md §3), plus connection pooling and migrations.
//
// Grounded on the teacher's pkg/database/client.go connect-then-migrate
// shape and health.go's pool-stats health check; generalized from an Ent
// client over database/sql to a pgxpool.Pool, since the spec drops ent
// (it requires code generation this exercise cannot run) in favor of the
// hand-written SQL other_examples/OpenClause's pkg/evidence-store.go
// uses directly against pgx.
package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver for database/sql, used only by the migrator
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps a pgxpool.Pool and exposes the Store built over it.
type Client struct {
	*Store
	pool *pgxpool.Pool
}

// Pool returns the underlying pool, for health checks.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// Close releases the pool.
func (c *Client) Close() { c.pool.Close() }

// NewClient connects to cfg.DSN, applies pending migrations, and returns
// a Client ready to serve the Store interfaces. backoff tunes the
// Store's job-retry requeue delay (spec.md §4.2).
func NewClient(ctx context.Context, cfg Config, backoff BackoffConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("database: parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: migrate: %w", err)
	}

	return &Client{Store: NewStore(pool, backoff), pool: pool}, nil
}

// runMigrations applies every embedded migration in migrations/ using
// golang-migrate, mirroring the teacher's runMigrations but against a
// plain database/sql handle opened solely for the migration step (the
// pgxpool.Pool used for queries is kept separate).
func runMigrations(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "diligence", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer sourceDriver.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
