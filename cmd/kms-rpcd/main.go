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

// Command kms-rpcd is the long-running local daemon a browser extension
// talks to over a websocket: one process, one Dispatcher, so an unlocked
// Master Secret and any open leases stay resident in memory across page
// reloads and reconnects without ever touching disk unwrapped.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sage-x-project/ats-kms/config"
	"github.com/sage-x-project/ats-kms/internal/localgate"
	"github.com/sage-x-project/ats-kms/internal/logger"
	"github.com/sage-x-project/ats-kms/internal/metrics"
	"github.com/sage-x-project/ats-kms/internal/storeinit"
	"github.com/sage-x-project/ats-kms/rpc"
)

func main() {
	configDir := flag.String("config-dir", "config", "directory to load <env>.yaml/default.yaml from")
	addr := flag.String("addr", "127.0.0.1:8787", "listen address for the websocket endpoint")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(config.LoaderOptions{ConfigDir: *configDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "kms-rpcd: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(os.Stdout, parseLevel(cfg.Logging.Level))
	log.Info("starting kms-rpcd",
		logger.String("instance", cfg.Instance.ID),
		logger.String("store", cfg.Store.Driver),
		logger.String("addr", *addr),
	)

	ctx := context.Background()
	st, err := storeinit.Build(ctx, cfg)
	if err != nil {
		log.Fatal("failed to build store", logger.Error(err))
	}
	defer st.Close()

	dispatcher, err := rpc.NewDispatcher(rpc.Deps{
		Store:        st,
		GateUnwrap:   localgate.Unsupported{},
		InstanceID:   cfg.Instance.ID,
		CodeHash:     cfg.Instance.CodeHash,
		ManifestHash: cfg.Instance.ManifestHash,
		KmsVersion:   1,
	})
	if err != nil {
		log.Fatal("failed to build dispatcher", logger.Error(err))
	}

	ws := newWSServer(dispatcher, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.Handler())
	if cfg.Health.Enabled {
		path := cfg.Health.Path
		if path == "" {
			path = "/healthz"
		}
		mux.Handle(path, newHealthHandler(cfg, st))
	}
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, metrics.Handler())
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", logger.String("addr", *addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", logger.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	_ = ws.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", logger.Error(err))
	}
}

func parseLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
