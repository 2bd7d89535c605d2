// Package app provides the top-level application lifecycle for the REC
// ledger service. It wires persistence, the token registry, Redis, blob
// storage and notifications, then runs the ledger in the configured mode
// while holding the sequencer lease.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/recledger/internal/config"
	"github.com/alanyoungcy/recledger/internal/service"
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

// Run wires all dependencies, waits for the sequencer lease and then runs the
// ledger in the configured mode until ctx is cancelled or the lease is lost.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("store", a.cfg.Ledger.Store),
		slog.String("registry", a.cfg.Registry.Kind),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "full", "server", "settle":
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	seq := service.NewSequencer(deps.Locks, a.cfg.Ledger.LeaseKey, a.cfg.Ledger.LeaseTTL.Duration, deps.Metrics, a.logger)
	err = seq.Run(ctx, func(ctx context.Context) error {
		return a.runLedger(ctx, mode, deps)
	})
	if errors.Is(err, service.ErrLeaseLost) {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if nerr := deps.Notifier.NotifyAll(notifyCtx, "Sequencer lease lost", err.Error()); nerr != nil {
			a.logger.Warn("lease loss notification failed", slog.String("error", nerr.Error()))
		}
	}
	return err
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
