package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoPathReturnsValidatedBuiltinDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Resilience.MaxRetries)
	assert.Equal(t, []string{"collectors"}, cfg.Queue.Names)
	assert.Equal(t, 30, cfg.Synthesizer.TopK)
}

func TestLoad_MissingFileReturnsLoadError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoad_UserYAMLOverridesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("SCAN_DB_DSN", "postgres://test")
	path := filepath.Join(t.TempDir(), "diligence.yaml")
	content := []byte(`
resilience:
  max_retries: 5
queue:
  names: ["collectors", "deep-crawl"]
  worker_count: 20
database:
  dsn_env: "${SCAN_DB_DSN}"
collectors:
  - name: github
    queue: collectors
    capabilities: ["tech_stack"]
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Resilience.MaxRetries)
	assert.Equal(t, []string{"collectors", "deep-crawl"}, cfg.Queue.Names)
	assert.Equal(t, 20, cfg.Queue.WorkerCount)
	assert.Equal(t, "postgres://test", cfg.Database.DSNEnv)
	require.Len(t, cfg.Collectors, 1)
	assert.Equal(t, "github", cfg.Collectors[0].Name)
	// Unspecified fields keep the built-in default.
	assert.Equal(t, 60, cfg.Orchestrator.DeepCrawlThreshold)
}

func TestLoad_InvalidYAMLReturnsLoadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue: [this is not a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestLoad_CollectorQueueNotDeclaredFailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diligence.yaml")
	content := []byte(`
collectors:
  - name: github
    queue: nonexistent-queue
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	_, err := Load(path)
	require.Error(t, err)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "collectors[0].queue", valErr.Field)
}
