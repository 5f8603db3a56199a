package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethelgard/qualitycheck/internal/config"
	"github.com/aethelgard/qualitycheck/internal/domain"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_ServerNeedsAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Error(t, cfg.ValidateServer(), "no api keys configured")

	cfg.Auth.APIKeys = []string{"secret-key"}
	require.NoError(t, cfg.ValidateServer())

	cfg.Auth.APIKeys = nil
	cfg.Auth.Disabled = true
	require.NoError(t, cfg.ValidateServer())

	assert.Equal(t, 10, cfg.Validation.MaxConcurrency)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, domain.DefaultThresholds(), cfg.Validation.GateThresholds())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeFile(t, "qualitycheck.yaml", `
server:
  addr: ":9090"
logging:
  level: debug
  format: text
validation:
  max_concurrency: 4
  item_timeout: 3s
idempotency:
  backend: redis
  redis_addr: localhost:6379
  ttl: 1h
auth:
  api_keys: [file-key]
assessor:
  model: gpt-4o
  breaker:
    open_timeout: 5s
`)
	t.Setenv("QC_ASSESSOR_API_KEY", "sk-test")
	t.Setenv("QC_VALIDATION_MAX_CONCURRENCY", "6")
	t.Setenv("QC_RATE_LIMIT_BURST", "3")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 6, cfg.Validation.MaxConcurrency, "environment wins over the file")
	assert.Equal(t, 3*time.Second, cfg.Validation.ItemTimeout)
	assert.Equal(t, config.BackendRedis, cfg.Idempotency.Backend)
	assert.Equal(t, time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, []string{"file-key"}, cfg.Auth.APIKeys)
	assert.Equal(t, "sk-test", cfg.Assessor.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Assessor.Model)
	assert.Equal(t, 5*time.Second, cfg.Assessor.Breaker.OpenTimeout)
	assert.Equal(t, 5, cfg.Assessor.Breaker.FailureThreshold, "unset nested keys keep defaults")
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, config.DefaultTaskQueue, cfg.Temporal.TaskQueue)
}

func TestLoad_WithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("QC_AUTH_API_KEYS", "k1,k2")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.APIKeys)
	assert.Equal(t, config.DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, config.BackendMemory, cfg.Idempotency.Backend)
}

func TestLoad_WorkerConfigNeedsNoKeys(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "qualitycheck.yaml", "temporal: {task_queue: batch}\n"))
	require.NoError(t, err)
	assert.Equal(t, "batch", cfg.Temporal.TaskQueue)
	assert.Error(t, cfg.ValidateServer())
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown backend", "auth: {disabled: true}\nidempotency: {backend: disk}\n"},
		{"redis without address", "auth: {disabled: true}\nidempotency: {backend: redis}\n"},
		{"zero workers", "auth: {disabled: true}\nvalidation: {max_concurrency: 0}\n"},
		{"too many workers", "auth: {disabled: true}\nvalidation: {max_concurrency: 101}\n"},
		{"bad log level", "auth: {disabled: true}\nlogging: {level: verbose}\n"},
		{"coverage above one", "auth: {disabled: true}\nvalidation: {min_coverage: 1.5}\n"},
		{"unknown citation source", "auth: {disabled: true}\nvalidation: {allowed_citation_sources: [forum]}\n"},
		{"empty api key", "auth: {api_keys: ['']}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, "qualitycheck.yaml", tt.body))
			require.Error(t, err)
		})
	}
}
