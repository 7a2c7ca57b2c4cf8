// Package main is the entry point for the task service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "github.com/chengjon/taskmaster-pro-sub002/config"
	"github.com/chengjon/taskmaster-pro-sub002/internal/app"
	"github.com/chengjon/taskmaster-pro-sub002/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	manager, err := appconfig.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := manager.Config()

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server error", "error", err)
		// Release storage and cache even when startup fails.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = application.Shutdown(shutdownCtx)
		cancel()
		os.Exit(1)
	}
}
