// Package app wires the application's components together and manages
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	appconfig "github.com/chengjon/taskmaster-pro-sub002/config"
	"github.com/chengjon/taskmaster-pro-sub002/internal/cache"
	"github.com/chengjon/taskmaster-pro-sub002/internal/providers"
	"github.com/chengjon/taskmaster-pro-sub002/internal/providers/anthropic"
	"github.com/chengjon/taskmaster-pro-sub002/internal/providers/ollama"
	"github.com/chengjon/taskmaster-pro-sub002/internal/providers/openai"
	"github.com/chengjon/taskmaster-pro-sub002/internal/server"
	"github.com/chengjon/taskmaster-pro-sub002/internal/storage"
	"github.com/chengjon/taskmaster-pro-sub002/internal/tasks"
	"github.com/chengjon/taskmaster-pro-sub002/internal/usage"
)

// App holds all components and provides centralized lifecycle control.
// The caller must call Shutdown to release resources.
type App struct {
	config    *appconfig.Config
	storage   storage.Storage
	cache     cache.Cache
	providers *providers.Service
	server    *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New builds the application: storage, cache, provider registry and
// factory, task service, and HTTP server.
func New(ctx context.Context, cfg *appconfig.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	app := &App{config: cfg}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.storage = store

	respCache, err := cache.New(cfg.Cache)
	if err != nil {
		closeErr := store.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w (also: storage close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.cache = respCache

	registry := providers.NewRegistry()
	registry.RegisterAll(
		openai.Registration,
		anthropic.Registration,
		ollama.Registration,
	)

	manager := appconfig.NewManager(cfg)
	factory := providers.NewFactory(registry, manager)
	app.providers = providers.NewService(factory)

	recorder := usage.NewRecorder(store, cfg.Usage.Enabled)
	taskSvc := tasks.NewService(store, app.providers)

	handler := server.NewHandler(app.providers, taskSvc, respCache, recorder)
	app.server = server.New(handler, cfg.Server, server.AuthConfig{
		MasterKey: cfg.Auth.MasterKey,
		JWTSecret: cfg.Auth.JWTSecret,
	})

	app.logStartupInfo(ctx, recorder)

	return app, nil
}

func (a *App) logStartupInfo(ctx context.Context, recorder *usage.Recorder) {
	slog.Info("storage initialized", "type", a.storage.Type())
	slog.Info("response cache", "type", a.config.Cache.Type)
	slog.Info("providers registered",
		"names", a.providers.ListAvailableProviders(),
		"primary", a.providers.PrimaryName(ctx),
		"fallback", a.providers.FallbackName(ctx),
	)
	slog.Info("usage tracking", "enabled", recorder.Enabled())

	if a.config.Auth.MasterKey == "" && a.config.Auth.JWTSecret == "" {
		slog.Warn("no master key or JWT secret configured, API is unauthenticated")
	}
}

// Providers returns the provider facade.
func (a *App) Providers() *providers.Service {
	return a.providers
}

// Start starts the HTTP server. Blocks until the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown tears down components in dependency order: HTTP server first,
// then cache, then storage. Idempotent; repeated calls are no-ops. Every
// step is attempted and failures are joined.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	return errors.Join(errs...)
}
