// Package app provides the top-level application lifecycle for the trading
// gateway. It wires together the relay client, venue connectors, router,
// position tracker, strategy engine, signal source and status server, and
// runs the goroutines for the selected operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the
// goroutines for the selected mode, and blocks until the context is
// cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context, mode string) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("version", a.cfg.Gateway.Version),
	)

	switch strings.ToLower(mode) {
	case "run":
		return a.runMode(ctx, false)
	case "simulate":
		return a.runMode(ctx, true)
	case "pair":
		return a.pairMode(ctx)
	default:
		return fmt.Errorf("app: unsupported mode %q", mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}
