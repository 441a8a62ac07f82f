// Package app owns the application lifecycle: it wires dependencies,
// assembles the services, and runs the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oscarmtz/pricebot/internal/config"
)

// App is the root application object. It owns the configuration, logger,
// and the cleanup stack executed in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, starts the configured mode, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	svcs, err := buildServices(a.cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: build services: %w", err)
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, svcs)
	case "cycle":
		return a.CycleMode(ctx, svcs)
	case "full":
		return a.FullMode(ctx, svcs)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
