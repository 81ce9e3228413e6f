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
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(LoaderOptions{
		ConfigDir:   t.TempDir(),
		Environment: "development",
	})
	if err != nil {
		t.Fatalf("Failed to load development config: %v", err)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "development")
	}
	if cfg.Quota.TokensPerHour == 0 {
		t.Error("Quota.TokensPerHour should have a default value")
	}
}

func TestLoadForEnvironment(t *testing.T) {
	for _, env := range []string{"development", "staging", "production", "local"} {
		t.Run(env, func(t *testing.T) {
			cfg, err := LoadForEnvironment(env)
			if err != nil {
				t.Fatalf("Failed to load %s config: %v", env, err)
			}
			if cfg.Environment != env {
				t.Errorf("Environment = %q, want %q", cfg.Environment, env)
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	os.Setenv("ATS_KMS_STORE_DSN", "postgres://override-host/kms")
	os.Setenv("ATS_KMS_LOG_LEVEL", "debug")
	defer os.Unsetenv("ATS_KMS_STORE_DSN")
	defer os.Unsetenv("ATS_KMS_LOG_LEVEL")

	cfg, err := Load(LoaderOptions{
		ConfigDir:   t.TempDir(),
		Environment: "development",
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Store.DSN != "postgres://override-host/kms" {
		t.Errorf("Store.DSN = %q, want %q", cfg.Store.DSN, "postgres://override-host/kms")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoadWithCustomConfigDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	testConfig := `
environment: test
logging:
  level: info
  format: json
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(LoaderOptions{
		ConfigDir:   tmpDir,
		Environment: "test",
	})
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg == nil {
		t.Fatal("Config should not be nil")
	}
	if cfg.Environment != "test" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "test")
	}
}

func TestDefaultLoaderOptions(t *testing.T) {
	opts := DefaultLoaderOptions()
	if opts.ConfigDir != "config" {
		t.Errorf("ConfigDir = %q, want %q", opts.ConfigDir, "config")
	}
	if opts.SkipEnvSubstitution {
		t.Error("SkipEnvSubstitution should be false by default")
	}
	if opts.SkipValidation {
		t.Error("SkipValidation should be false by default")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	if cfg.Environment != "development" {
		t.Errorf("Default environment = %q, want %q", cfg.Environment, "development")
	}
}

func TestMustLoadPanicsOnValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "development.yaml")
	if err := os.WriteFile(configPath, []byte("store:\n  driver: bogus\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Error("MustLoad should have panicked on an invalid store driver")
		}
	}()
	MustLoad(LoaderOptions{ConfigDir: tmpDir, Environment: "development"})
}

func TestValidateConfigurationCatchesBadPostgresDSN(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Store.Driver = "postgres"
	cfg.Store.DSN = ""

	issues := ValidateConfiguration(cfg)
	found := false
	for _, issue := range issues {
		if issue.Field == "store.dsn" {
			found = true
		}
	}
	if !found {
		t.Error("expected a store.dsn validation issue")
	}
}
