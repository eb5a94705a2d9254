package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"clipforge/internal/config"
	"clipforge/internal/daemon"
	"clipforge/internal/logging"
	"clipforge/internal/pipeline"
	"clipforge/internal/queue"
	"clipforge/internal/ratelimit"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := os.Getenv("CLIPFORGE_CONFIG")
	cfg, _, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open pipeline store", logging.Error(err))
		os.Exit(1)
	}

	limiter, err := ratelimit.Open(cfg)
	if err != nil {
		_ = store.Close()
		logger.Error("open rate limiter", logging.Error(err))
		os.Exit(1)
	}

	pipe := pipeline.New(cfg, store, limiter, logger)
	d, err := daemon.New(cfg, store, limiter, pipe, logger)
	if err != nil {
		_ = store.Close()
		_ = limiter.Close()
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("clipforged shutting down")
}
