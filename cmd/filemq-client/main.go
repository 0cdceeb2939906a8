// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/strongdm/filemq/client"
	"github.com/strongdm/filemq/internal/config"
	"github.com/strongdm/filemq/internal/digest"
	"github.com/strongdm/filemq/internal/manifest"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	actor := client.NewActor(digest.Sum, logger)
	actor.SetManifestPath(cfg.ManifestPath)

	if cache, err := manifest.Load(cfg.ManifestPath); err != nil {
		logger.Warn("manifest load failed, starting with an empty cache", "error", err)
	} else {
		actor.LoadDigestCache(cache)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	actorErrCh := make(chan error, 1)
	go func() { actorErrCh <- actor.Run(ctx) }()

	if err := actor.SetInbox(cfg.Inbox); err != nil {
		logger.Error("set inbox failed", "error", err)
		os.Exit(1)
	}

	if err := actor.Connect(cfg.ServerEndpoint, cfg.ConnectTimeout); err != nil {
		logger.Error("connect failed", "endpoint", cfg.ServerEndpoint, "error", err)
		os.Exit(1)
	}
	logger.Info("connected", "endpoint", cfg.ServerEndpoint)

	for _, path := range cfg.Subscriptions {
		actor.Subscribe(path)
		logger.Info("subscribed", "path", path)
	}
	if cfg.Verbose {
		actor.Verbose()
	}

	// The actor's own Run loop owns ctx and exits (saving the manifest as
	// it goes) as soon as ctx is cancelled, so shutdown here is just
	// waiting for that to happen rather than separately commanding it.
	if err := <-actorErrCh; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("actor exited", "error", err)
	}
	logger.Info("client stopped")
}
