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

package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sage-x-project/ats-kms/config"
	"github.com/sage-x-project/ats-kms/health"
	"github.com/sage-x-project/ats-kms/store"
)

// pinger is implemented by store backends that front a real connection
// worth probing (store/postgres.Store); the in-memory store has nothing to
// ping and is skipped.
type pinger interface {
	Ping(ctx context.Context) error
}

// newHealthHandler builds the /healthz endpoint from cfg.Health, registering
// a store-connectivity check when the backing store supports Ping.
func newHealthHandler(cfg *config.Config, st store.Store) http.Handler {
	checker := health.NewHealthChecker(0)

	if p, ok := st.(pinger); ok {
		checker.RegisterCheck("store", health.DatabaseHealthCheck(p.Ping))
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sys := checker.GetSystemHealth(r.Context())

		status := http.StatusOK
		if sys.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(sys)
	})
}
