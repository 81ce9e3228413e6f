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

// Package config provides configuration management for the KMS worker.
package config

import "time"

// InstanceConfig identifies this KMS deployment for audit entries and KIAK
// delegation certs.
type InstanceConfig struct {
	ID           string `yaml:"id" json:"id"`
	CodeHash     string `yaml:"code_hash" json:"code_hash"`
	ManifestHash string `yaml:"manifest_hash" json:"manifest_hash"`
}

// StoreConfig selects the persistence backend for enrollments, wrapped
// keys, and the audit log.
type StoreConfig struct {
	Driver          string        `yaml:"driver" json:"driver"` // "memory" or "postgres"
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxConns        int32         `yaml:"max_conns" json:"max_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// KDFConfig governs PBKDF2 calibration for passphrase enrollment.
type KDFConfig struct {
	CalibrationTargetMs int `yaml:"calibration_target_ms" json:"calibration_target_ms"`
	MinIterations       int `yaml:"min_iterations" json:"min_iterations"`
	MaxIterations       int `yaml:"max_iterations" json:"max_iterations"`
}

// QuotaConfig sets the default rate limits applied to newly created leases.
type QuotaConfig struct {
	TokensPerHour        int `yaml:"tokens_per_hour" json:"tokens_per_hour"`
	SendsPerMinute       int `yaml:"sends_per_minute" json:"sends_per_minute"`
	BurstSends           int `yaml:"burst_sends" json:"burst_sends"`
	SendsPerMinutePerEid int `yaml:"sends_per_minute_per_eid" json:"sends_per_minute_per_eid"`
}

// LeaseConfig bounds lease lifetime.
type LeaseConfig struct {
	DefaultTTLHours int           `yaml:"default_ttl_hours" json:"default_ttl_hours"`
	MaxTTLHours     int           `yaml:"max_ttl_hours" json:"max_ttl_hours"`
	ReplayWindow    time.Duration `yaml:"replay_window" json:"replay_window"`
}

// UnlockConfig bounds how long a Master Secret stays resident in memory.
type UnlockConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
	HardCap    time.Duration `yaml:"hard_cap" json:"hard_cap"`
}

// AuditConfig governs the tamper-evident audit chain.
type AuditConfig struct {
	RotationWindow time.Duration `yaml:"rotation_window" json:"rotation_window"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format   string `yaml:"format" json:"format"` // json, text
	Output   string `yaml:"output" json:"output"` // stdout, stderr, file path
	FilePath string `yaml:"file_path" json:"file_path"`
}

// MetricsConfig contains Prometheus metrics exposure configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig contains health check configuration.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}
