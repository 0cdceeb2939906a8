// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strongdm/filemq/internal/config"
	"github.com/strongdm/filemq/internal/digest"
	"github.com/strongdm/filemq/internal/obs"
	"github.com/strongdm/filemq/server"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	registry := obs.NewRegistry()
	actor := server.NewActor(digest.Sum, logger)
	actor.SetMetrics(registry)

	for _, m := range cfg.Mounts {
		if err := actor.Publish(m.Location, m.Alias); err != nil {
			logger.Error("publish mount failed", "location", m.Location, "alias", m.Alias, "error", err)
			os.Exit(1)
		}
		logger.Info("mount published", "location", m.Location, "alias", m.Alias)
	}
	if cfg.Verbose {
		actor.Verbose()
	}

	port, err := actor.Bind(cfg.BindAddr)
	if err != nil {
		logger.Error("bind failed", "addr", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	logger.Info("listening", "addr", cfg.BindAddr, "port", port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	actorErrCh := make(chan error, 1)
	go func() { actorErrCh <- actor.Run(ctx) }()

	httpErrCh := make(chan error, 1)
	go func() { httpErrCh <- runHTTPServer(ctx, cfg, registry, logger) }()

	go sampleDiskUsage(ctx, cfg.Mounts, registry)

	// actorErrCh receives only once the actor's loop has exited; httpErrCh
	// receives once ctx is cancelled or as soon as the metrics server fails.
	// Whichever branch fires first, cancel ctx (stop is a no-op if it
	// already fired) and then wait for the actor's own loop to finish
	// rather than separately commanding it to stop, avoiding a race
	// between that command and the loop's own ctx.Done exit path.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-actorErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("actor exited", "error", err)
		}
		stop()
		logger.Info("server stopped")
		return
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("metrics http server error", "error", err)
		}
		stop()
	}

	<-actorErrCh
	logger.Info("server stopped")
}

func runHTTPServer(ctx context.Context, cfg config.ServerConfig, registry *obs.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	mux.Handle("/metrics", registry.Handler())

	httpServer := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", "addr", cfg.MetricsAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// sampleDiskUsage periodically refreshes the per-mount disk-usage gauge.
// Runs independently of the actor's own refresh ticker since disk usage is
// an observability concern, not a protocol one.
func sampleDiskUsage(ctx context.Context, mounts []config.MountSpec, registry *obs.Registry) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		for _, m := range mounts {
			registry.RefreshMountUsage(m.Alias, m.Location)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
