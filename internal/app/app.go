// Package app provides the top-level application lifecycle for the
// triangular arbitrage scanner. It wires stores, caches, blob storage and
// notifications, then starts the goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/triarb/internal/config"
)

// App is the root application object. It owns the configuration, the logger
// and the cleanup of everything Wire opened.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	cleanup   func()
	closeOnce sync.Once
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies and runs the configured mode until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	modes := map[string]func(context.Context, *Dependencies) error{
		"full":    a.FullMode,
		"detect":  a.DetectMode,
		"server":  a.ServerMode,
		"archive": a.ArchiveMode,
	}
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.Bool("postgres", a.cfg.Postgres.Enabled),
		slog.Bool("redis", a.cfg.Redis.Enabled),
		slog.Bool("s3", a.cfg.S3.Enabled),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup

	return run(ctx, deps)
}

// Close releases everything Run opened. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down application")
		if a.cleanup != nil {
			a.cleanup()
		}
	})
}
