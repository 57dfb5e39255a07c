package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/rpcbench/internal/chains"
	"github.com/gateway-fm/rpcbench/internal/config"
	"github.com/gateway-fm/rpcbench/internal/metrics"
	"github.com/gateway-fm/rpcbench/internal/rpc"
	"github.com/gateway-fm/rpcbench/internal/scheduler"
	"github.com/gateway-fm/rpcbench/internal/storage"
	"github.com/gateway-fm/rpcbench/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	store, err := storage.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("initialized storage", "path", cfg.DatabasePath)

	registry, err := chains.NewRegistry(cfg.ChainsDir, logger)
	if err != nil {
		logger.Error("failed to initialize chain registry", "error", err, "dir", cfg.ChainsDir)
		os.Exit(1)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	client := rpc.NewClient(logger)
	runner := scheduler.NewRunner(store, client, m, logger)

	server := transport.NewServer(store, registry, runner, client, promReg, logger,
		cfg.CORSAllowedOrigins, cfg.MaxConcurrentJobs)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down...")

		// Cancel active runs so they stamp their terminal state before
		// the listener closes.
		for _, id := range runner.Tracker().ActiveIDs() {
			runner.Tracker().Cancel(id)
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	logger.Info("starting HTTP server", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}

	// Give cancelled runs a moment to persist their terminal status.
	drain := time.After(shutdownTimeout)
	for _, id := range runner.Tracker().ActiveIDs() {
		if run, ok := runner.Tracker().Get(id); ok {
			select {
			case <-run.Done():
			case <-drain:
				logger.Warn("shutdown drain timed out", "job_id", id)
				return
			}
		}
	}
}
