package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/utafrali/projecthub/pkg/logger"
	"github.com/utafrali/projecthub/services/auth/internal/app"
	"github.com/utafrali/projecthub/services/auth/internal/config"
)

const serviceName = "auth-service"

func main() {
	if err := run(); err != nil {
		slog.Error("auth service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting auth service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("session_store", cfg.SessionStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}
	if err := application.Run(ctx); err != nil {
		return err
	}

	log.Info("auth service stopped")
	return nil
}
