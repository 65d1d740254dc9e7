package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gryagbot/gryag/pkg/config"
)

// shutdownTimeout bounds how long graceful shutdown waits for the store,
// scheduler, and coordination client to close before giving up.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gryag")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	log.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	container, err := buildContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build service container: %w", err)
	}

	container.Start(ctx)
	logger.Info().Str("backend", cfg.LLM.Backend).Msg("gryag started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown reported an error")
		os.Exit(1)
	}

	logger.Info().Msg("gryag stopped")
	return nil
}
