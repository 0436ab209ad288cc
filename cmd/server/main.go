// Package main implements the entry point for the imgbatch server,
// which executes batch image-generation tasks against configured model
// backends and downloads the resulting artifacts.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/imgbatch/imgbatch/internal/config"
	"github.com/imgbatch/imgbatch/internal/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel)
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"storage_driver", cfg.Storage.Driver,
		"auth_enabled", cfg.Auth.JWTSecret != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
