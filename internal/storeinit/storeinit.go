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

// Package storeinit builds a store.Store from config.StoreConfig, shared by
// the kms CLI and the kms-rpcd daemon so both entrypoints pick the backend
// the same way.
package storeinit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sage-x-project/ats-kms/config"
	"github.com/sage-x-project/ats-kms/store"
	"github.com/sage-x-project/ats-kms/store/postgres"
)

// Build returns a store.Store for cfg.Store.Driver ("memory" or "postgres").
func Build(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return store.NewMemoryStore(cfg.Instance.ID), nil
	case "postgres":
		pgCfg, err := parseDSN(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("storeinit: %w", err)
		}
		s, err := postgres.NewStore(ctx, pgCfg, cfg.Instance.ID)
		if err != nil {
			return nil, fmt.Errorf("storeinit: failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("storeinit: unknown store driver %q", cfg.Store.Driver)
	}
}

// parseDSN accepts a postgres:// URL and splits it into postgres.Config's
// discrete fields.
func parseDSN(dsn string) (*postgres.Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	port := 5432
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres dsn port: %w", err)
		}
	}
	password, _ := u.User.Password()
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}
	dbName := u.Path
	if len(dbName) > 0 && dbName[0] == '/' {
		dbName = dbName[1:]
	}
	return &postgres.Config{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		Database: dbName,
		SSLMode:  sslMode,
	}, nil
}
