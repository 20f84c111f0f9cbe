package database

import (
	"fmt"
	"os"
	"time"
)

// Config holds the Store's Postgres connection settings, grounded on the
// teacher's pkg/database/config.go env-driven loader.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	MigrationsPath  string
}

// LoadConfigFromEnv loads connection settings from the environment,
// reading the DSN from dsnEnv (configured via pkg/config so it is never
// hardcoded), with production-ready defaults for the pool knobs.
func LoadConfigFromEnv(dsnEnv string, maxConns int32, connectTimeout time.Duration, migrationsPath string) (Config, error) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		return Config{}, fmt.Errorf("database: environment variable %s is not set", dsnEnv)
	}

	cfg := Config{
		DSN:             dsn,
		MaxConns:        maxConns,
		MinConns:        minConnsFor(maxConns),
		MaxConnLifetime: parseDurationOrDefault(os.Getenv("DB_CONN_MAX_LIFETIME"), time.Hour),
		MaxConnIdleTime: parseDurationOrDefault(os.Getenv("DB_CONN_MAX_IDLE_TIME"), 15*time.Minute),
		ConnectTimeout:  connectTimeout,
		MigrationsPath:  migrationsPath,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("database: DSN is required")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("database: max conns must be at least 1")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("database: min conns (%d) cannot exceed max conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

func minConnsFor(maxConns int32) int32 {
	q := maxConns / 4
	if q < 1 {
		return 1
	}
	return q
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
