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
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a KMS worker process.
type Config struct {
	Environment string         `yaml:"environment" json:"environment"`
	Instance    InstanceConfig `yaml:"instance" json:"instance"`
	Store       StoreConfig    `yaml:"store" json:"store"`
	KDF         KDFConfig      `yaml:"kdf" json:"kdf"`
	Quota       QuotaConfig    `yaml:"quota" json:"quota"`
	Lease       LeaseConfig    `yaml:"lease" json:"lease"`
	Unlock      UnlockConfig   `yaml:"unlock" json:"unlock"`
	Audit       AuditConfig    `yaml:"audit" json:"audit"`
	Logging     LoggingConfig  `yaml:"logging" json:"logging"`
	Metrics     MetricsConfig  `yaml:"metrics" json:"metrics"`
	Health      HealthConfig   `yaml:"health" json:"health"`
}

// LoadFromFile loads configuration from a file, trying YAML then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file (tried YAML and JSON): %w", err)
		}
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile saves configuration to a file, choosing format by extension.
func SaveToFile(cfg *Config, path string) error {
	var data []byte
	var err error

	if len(path) >= 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setDefaults fills in the values a worker needs to boot even when a
// config file omits whole sections.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.Instance.ID == "" {
		cfg.Instance.ID = "kms-dev"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.MaxConns == 0 {
		cfg.Store.MaxConns = 10
	}
	if cfg.Store.ConnMaxLifetime == 0 {
		cfg.Store.ConnMaxLifetime = 30 * time.Minute
	}

	if cfg.KDF.CalibrationTargetMs == 0 {
		cfg.KDF.CalibrationTargetMs = 220
	}
	if cfg.KDF.MinIterations == 0 {
		cfg.KDF.MinIterations = 50000
	}
	if cfg.KDF.MaxIterations == 0 {
		cfg.KDF.MaxIterations = 2000000
	}

	if cfg.Quota.TokensPerHour == 0 {
		cfg.Quota.TokensPerHour = 100
	}
	if cfg.Quota.SendsPerMinute == 0 {
		cfg.Quota.SendsPerMinute = 10
	}
	if cfg.Quota.BurstSends == 0 {
		cfg.Quota.BurstSends = 20
	}
	if cfg.Quota.SendsPerMinutePerEid == 0 {
		cfg.Quota.SendsPerMinutePerEid = 5
	}

	if cfg.Lease.DefaultTTLHours == 0 {
		cfg.Lease.DefaultTTLHours = 24
	}
	if cfg.Lease.MaxTTLHours == 0 {
		cfg.Lease.MaxTTLHours = 720
	}
	if cfg.Lease.ReplayWindow == 0 {
		cfg.Lease.ReplayWindow = 5 * time.Minute
	}

	if cfg.Unlock.DefaultTTL == 0 {
		cfg.Unlock.DefaultTTL = 15 * time.Minute
	}
	if cfg.Unlock.HardCap == 0 {
		cfg.Unlock.HardCap = 4 * time.Hour
	}

	if cfg.Audit.RotationWindow == 0 {
		cfg.Audit.RotationWindow = 24 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/healthz"
	}
}
