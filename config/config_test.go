package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFileYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `environment: staging
instance:
  id: kms-staging-1
store:
  driver: postgres
  dsn: "postgres://localhost/kms"
kdf:
  calibration_target_ms: 250
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "kms-staging-1", cfg.Instance.ID)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/kms", cfg.Store.DSN)
	assert.Equal(t, 250, cfg.KDF.CalibrationTargetMs)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)

	// Defaults should still be filled in for sections left unset.
	assert.Equal(t, 100, cfg.Quota.TokensPerHour)
	assert.Equal(t, 720, cfg.Lease.MaxTTLHours)
}

func TestLoadFromFileJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.json")

	require.NoError(t, os.WriteFile(configPath, []byte(`{"environment":"production","store":{"driver":"memory"}}`), 0644))

	cfg, err := LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path.yaml")
	assert.Error(t, err)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "roundtrip.yaml")

	cfg := &Config{Environment: "test"}
	setDefaults(cfg)
	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Environment, loaded.Environment)
	assert.Equal(t, cfg.Quota.TokensPerHour, loaded.Quota.TokensPerHour)
}

func TestSetDefaultsFillsEverySection(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	assert.Equal(t, "development", cfg.Environment)
	assert.NotEmpty(t, cfg.Instance.ID)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Positive(t, cfg.KDF.MinIterations)
	assert.Positive(t, cfg.Quota.TokensPerHour)
	assert.Positive(t, cfg.Lease.MaxTTLHours)
	assert.Positive(t, cfg.Unlock.DefaultTTL)
	assert.Positive(t, cfg.Audit.RotationWindow)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "/healthz", cfg.Health.Path)
}

func TestSetDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	cfg := &Config{Quota: QuotaConfig{TokensPerHour: 5}}
	setDefaults(cfg)
	assert.Equal(t, 5, cfg.Quota.TokensPerHour)
}
