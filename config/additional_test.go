package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigTypes(t *testing.T) {
	t.Run("StoreConfig", func(t *testing.T) {
		sc := StoreConfig{Driver: "postgres", DSN: "postgres://x", MaxConns: 20, ConnMaxLifetime: time.Hour}
		assert.Equal(t, "postgres", sc.Driver)
		assert.Equal(t, int32(20), sc.MaxConns)
	})

	t.Run("KDFConfig", func(t *testing.T) {
		kc := KDFConfig{CalibrationTargetMs: 300, MinIterations: 210000, MaxIterations: 5000000}
		assert.Equal(t, 300, kc.CalibrationTargetMs)
		assert.Less(t, kc.MinIterations, kc.MaxIterations)
	})

	t.Run("QuotaConfig", func(t *testing.T) {
		qc := QuotaConfig{TokensPerHour: 100, SendsPerMinute: 10, BurstSends: 20, SendsPerMinutePerEid: 5}
		assert.Equal(t, 100, qc.TokensPerHour)
		assert.Equal(t, 20, qc.BurstSends)
	})

	t.Run("LeaseConfig", func(t *testing.T) {
		lc := LeaseConfig{DefaultTTLHours: 24, MaxTTLHours: 720, ReplayWindow: 5 * time.Minute}
		assert.LessOrEqual(t, lc.DefaultTTLHours, lc.MaxTTLHours)
	})

	t.Run("UnlockConfig", func(t *testing.T) {
		uc := UnlockConfig{DefaultTTL: 15 * time.Minute, HardCap: 4 * time.Hour}
		assert.True(t, uc.HardCap >= uc.DefaultTTL)
	})
}

func TestValidateConfigurationEdgeCases(t *testing.T) {
	t.Run("valid config has no error-level issues", func(t *testing.T) {
		cfg := &Config{}
		setDefaults(cfg)
		for _, issue := range ValidateConfiguration(cfg) {
			assert.NotEqual(t, "error", issue.Level, issue.Field)
		}
	})

	t.Run("bad store driver", func(t *testing.T) {
		cfg := &Config{}
		setDefaults(cfg)
		cfg.Store.Driver = "sqlite"
		issues := ValidateConfiguration(cfg)
		assert.Contains(t, fieldNames(issues), "store.driver")
	})

	t.Run("kdf max below min", func(t *testing.T) {
		cfg := &Config{}
		setDefaults(cfg)
		cfg.KDF.MinIterations = 1000
		cfg.KDF.MaxIterations = 500
		issues := ValidateConfiguration(cfg)
		assert.Contains(t, fieldNames(issues), "kdf.max_iterations")
	})

	t.Run("unlock hard cap below default ttl", func(t *testing.T) {
		cfg := &Config{}
		setDefaults(cfg)
		cfg.Unlock.DefaultTTL = time.Hour
		cfg.Unlock.HardCap = time.Minute
		issues := ValidateConfiguration(cfg)
		assert.Contains(t, fieldNames(issues), "unlock.hard_cap")
	})

	t.Run("default ttl above max ttl is a warning, not an error", func(t *testing.T) {
		cfg := &Config{}
		setDefaults(cfg)
		cfg.Lease.DefaultTTLHours = 1000
		cfg.Lease.MaxTTLHours = 720
		for _, issue := range ValidateConfiguration(cfg) {
			if issue.Field == "lease.default_ttl_hours" {
				assert.Equal(t, "warn", issue.Level)
			}
		}
	})
}

func fieldNames(issues []ValidationIssue) []string {
	names := make([]string, len(issues))
	for i, issue := range issues {
		names[i] = issue.Field
	}
	return names
}
