package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tubesearch/apps/backend/internal/app"
	"tubesearch/apps/backend/internal/config"
	"tubesearch/apps/backend/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("application exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	application, err := app.New(cfg, deps)
	if err != nil {
		return err
	}

	log.Info("starting tubesearch",
		"vector_backend", cfg.VectorBackend,
		"embedding_provider", cfg.EmbeddingProvider,
		"api", cfg.EnableAPI,
		"worker", cfg.EnableWorker,
	)
	return application.Run(ctx)
}
