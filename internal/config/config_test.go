package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "mcpjobs-copilot", cfg.QueueName)
	assert.Equal(t, time.Hour, cfg.JobTTL)
	assert.Equal(t, 5, cfg.MaxDeliveries)
	assert.Equal(t, 2*time.Second, cfg.ResultMinDelay)
	assert.Equal(t, 5*time.Second, cfg.ResultMaxDelay)
	assert.Equal(t, "claude-haiku-4-5", cfg.Models.Trivial)
	assert.Equal(t, "low", cfg.DefaultEffort)
	assert.Equal(t, 8, cfg.Search.MaxResults)
	assert.Equal(t, 6000, cfg.Search.MaxChars)
	assert.Equal(t, 6*time.Second, cfg.Search.Timeout)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen_addr: ":9090"
queue_name: custom-jobs
models:
  trivial: tiny-model
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "custom-jobs", cfg.QueueName)
	assert.Equal(t, "tiny-model", cfg.Models.Trivial)
	// Untouched values keep their defaults.
	assert.Equal(t, "claude-sonnet-4-5", cfg.Models.Standard)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MCP_JOBS_QUEUE", "env-jobs")
	t.Setenv("MCP_JOBS_TTL_SECONDS", "120")
	t.Setenv("ORCHESTRATOR_MODEL_REASONING", "big-model")
	t.Setenv("REASONING_MODELS", "big-model, other-model")
	t.Setenv("ALLOWED_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-jobs", cfg.QueueName)
	assert.Equal(t, 2*time.Minute, cfg.JobTTL)
	assert.Equal(t, "big-model", cfg.Models.Deep)
	assert.Equal(t, []string{"big-model", "other-model"}, cfg.ReasoningModels)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestDelayBoundsSwapped(t *testing.T) {
	t.Setenv("MCP_RESULT_MIN_DELAY_SECONDS", "10")
	t.Setenv("MCP_RESULT_MAX_DELAY_SECONDS", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.ResultMinDelay)
	assert.Equal(t, 10*time.Second, cfg.ResultMaxDelay)
}

func TestRecommendedPollInterval(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2*time.Second, cfg.RecommendedPollInterval())

	cfg.ResultMinDelay = 100 * time.Millisecond
	assert.Equal(t, time.Second, cfg.RecommendedPollInterval())
}

func TestModelFor(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cfg.Models.Trivial, cfg.ModelFor("trivial"))
	assert.Equal(t, cfg.Models.Tools, cfg.ModelFor("tools"))
	assert.Equal(t, cfg.Models.Deep, cfg.ModelFor("deep"))
	assert.Equal(t, cfg.Models.Standard, cfg.ModelFor("standard"))
	assert.Equal(t, cfg.Models.Standard, cfg.ModelFor("bogus"))
}
