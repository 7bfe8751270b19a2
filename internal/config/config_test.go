package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, int64(500), cfg.Mastery.IntermediateAt)
	assert.Equal(t, int64(2000), cfg.Mastery.ExpertAt)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
db_path: /tmp/test.db
port: 9090
worker:
  concurrency: 8
  lease_duration: 5m
  poll_interval: 250ms
  reviewer_timeout: 45s
retry:
  base_delay: 1s
  factor: 3
  max_delay: 10s
  max_attempts: 5
breaker:
  threshold: 2
  cool_down: 1m
mastery:
  intermediate_at: 100
  expert_at: 400
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Worker.LeaseDuration)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, 2, cfg.Breaker.Threshold)
	assert.Equal(t, 3.0, cfg.Retry.Policy().Factor)
	assert.Equal(t, 5, cfg.Retry.Policy().MaxAttempts)
	assert.Equal(t, int64(400), cfg.Mastery.ExpertAt)
	// untouched sections keep their defaults
	assert.Equal(t, "gemini-2.5-flash", cfg.Reviewer.Model)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "port: 9090\n")
	t.Setenv("PIPELINE_PORT", "7070")
	t.Setenv("WORKER_CONCURRENCY", "2")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("OTEL_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
	assert.Equal(t, "secret", cfg.Reviewer.APIKey)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "colour: red\n"},
		{"bad port", "port: 0\n"},
		{"zero concurrency", "worker:\n  concurrency: 0\n"},
		{"lease shorter than reviewer timeout", "worker:\n  lease_duration: 10s\n  reviewer_timeout: 30s\n"},
		{"max delay below base", "retry:\n  base_delay: 5s\n  max_delay: 1s\n"},
		{"bad mastery bands", "mastery:\n  intermediate_at: 900\n  expert_at: 100\n"},
		{"bad exporter", "tracing:\n  exporter: jaeger\n"},
		{"base xp too large", "base_submission_xp: 1000001\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("PIPELINE_PORT", "eighty")

	_, err := Load("")
	assert.ErrorContains(t, err, "PIPELINE_PORT")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
