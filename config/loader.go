// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LoaderOptions configures the configuration loader.
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// DefaultLoaderOptions returns default loader options.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		ConfigDir:           "config",
		Environment:         "",
		SkipEnvSubstitution: false,
		SkipValidation:      false,
	}
}

// Load loads configuration with automatic environment detection, falling
// back through <env>.yaml, default.yaml, config.yaml, then bare defaults.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	envConfigPath := filepath.Join(options.ConfigDir, fmt.Sprintf("%s.yaml", env))
	cfg, err := loadConfigFile(envConfigPath)
	if err != nil {
		defaultConfigPath := filepath.Join(options.ConfigDir, "default.yaml")
		cfg, err = loadConfigFile(defaultConfigPath)
		if err != nil {
			configPath := filepath.Join(options.ConfigDir, "config.yaml")
			cfg, err = loadConfigFile(configPath)
			if err != nil {
				cfg = &Config{}
			}
		}
	}

	if cfg.Environment == "" {
		cfg.Environment = env
	}

	setDefaults(cfg)

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}

	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		issues := ValidateConfiguration(cfg)
		for _, issue := range issues {
			if issue.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", issue.Field, issue.Message)
			}
		}
	}

	return cfg, nil
}

// loadConfigFile loads a single config file.
func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}
	return LoadFromFile(path)
}

// applyEnvironmentOverrides overrides config with environment variables,
// the highest-priority source.
func applyEnvironmentOverrides(cfg *Config) {
	if dsn := os.Getenv("ATS_KMS_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if driver := os.Getenv("ATS_KMS_STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if instanceID := os.Getenv("ATS_KMS_INSTANCE_ID"); instanceID != "" {
		cfg.Instance.ID = instanceID
	}

	if logLevel := os.Getenv("ATS_KMS_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("ATS_KMS_LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	if v := os.Getenv("ATS_KMS_METRICS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}
}

// LoadForEnvironment loads configuration for a specific environment.
func LoadForEnvironment(environment string) (*Config, error) {
	return Load(LoaderOptions{
		ConfigDir:   "config",
		Environment: environment,
	})
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}

// ValidationIssue is one problem found by ValidateConfiguration. Level is
// either "error" (Load fails) or "warn" (logged by the caller, if it cares).
type ValidationIssue struct {
	Field   string
	Message string
	Level   string
}

// ValidateConfiguration checks a loaded Config for values that would make
// the worker misbehave at runtime rather than fail loudly at startup.
func ValidateConfiguration(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Store.Driver != "memory" && cfg.Store.Driver != "postgres" {
		issues = append(issues, ValidationIssue{
			Field: "store.driver", Message: "must be \"memory\" or \"postgres\"", Level: "error",
		})
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		issues = append(issues, ValidationIssue{
			Field: "store.dsn", Message: "required when store.driver is postgres", Level: "error",
		})
	}

	if cfg.KDF.MinIterations <= 0 {
		issues = append(issues, ValidationIssue{
			Field: "kdf.min_iterations", Message: "must be positive", Level: "error",
		})
	}
	if cfg.KDF.MaxIterations < cfg.KDF.MinIterations {
		issues = append(issues, ValidationIssue{
			Field: "kdf.max_iterations", Message: "must be >= kdf.min_iterations", Level: "error",
		})
	}

	if cfg.Lease.MaxTTLHours <= 0 {
		issues = append(issues, ValidationIssue{
			Field: "lease.max_ttl_hours", Message: "must be positive", Level: "error",
		})
	}
	if cfg.Lease.DefaultTTLHours > cfg.Lease.MaxTTLHours {
		issues = append(issues, ValidationIssue{
			Field: "lease.default_ttl_hours", Message: "exceeds lease.max_ttl_hours", Level: "warn",
		})
	}

	if cfg.Unlock.HardCap < cfg.Unlock.DefaultTTL {
		issues = append(issues, ValidationIssue{
			Field: "unlock.hard_cap", Message: "must be >= unlock.default_ttl", Level: "error",
		})
	}

	return issues
}
