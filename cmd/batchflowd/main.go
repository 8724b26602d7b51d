// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/batchflow/internal/batch"
	"github.com/tombee/batchflow/internal/config"
	"github.com/tombee/batchflow/internal/log"
	"github.com/tombee/batchflow/internal/store"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file")
		dbPath      = flag.String("db", "", "Path to SQLite database file")
		metricsAddr = flag.String("metrics-addr", "127.0.0.1:9190", "Prometheus metrics listen address (empty disables)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("batchflowd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load config", log.Error(err))
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	st, err := store.NewSQLite(store.SQLiteConfig{Path: cfg.Database.Path})
	if err != nil {
		logger.Error("Failed to open store", log.Error(err))
		os.Exit(1)
	}
	defer st.Close()

	coord := batch.NewCoordinator(st, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resume batches interrupted by the previous shutdown.
	if err := coord.Recover(ctx); err != nil {
		logger.Error("Recovery failed", log.Error(err))
		os.Exit(1)
	}

	var metricsSrv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			logger.Info("Metrics endpoint listening", slog.String("addr", *metricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", log.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", log.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error stopping metrics server", log.Error(err))
		}
	}
}
