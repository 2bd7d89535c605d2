package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/recledger/internal/ledger"
	"github.com/alanyoungcy/recledger/internal/server"
	"github.com/alanyoungcy/recledger/internal/server/handler"
	"github.com/alanyoungcy/recledger/internal/server/ws"
	"github.com/alanyoungcy/recledger/internal/service"
)

// runLedger opens the engine and starts the goroutines of mode. It runs only
// while this process holds the sequencer lease, so the state it loads is the
// latest committed state.
func (a *App) runLedger(ctx context.Context, mode string, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ledger", slog.String("mode", mode))

	publisher := service.NewEventPublisher(deps.SignalBus, deps.Notifier, deps.Metrics, a.cfg.Ledger.EventBuffer, a.logger)
	engine, err := ledger.Open(ctx, ledger.Options{
		Owner:              a.cfg.OwnerPrincipal(),
		MinAuctionDuration: a.cfg.Ledger.MinAuctionDuration,
		Registry:           deps.Registry,
		Heights:            deps.Heights,
		Store:              deps.Store,
		Logger:             a.logger,
		OnCommit:           publisher.Enqueue,
	})
	if err != nil {
		return fmt.Errorf("app: open ledger: %w", err)
	}
	svc := service.NewLedgerService(engine, deps.Metrics, a.logger)
	if err := svc.CheckInvariants(ctx); err != nil {
		return fmt.Errorf("app: loaded state is inconsistent: %w", err)
	}
	if deps.Checks == nil {
		deps.Checks = map[string]handler.HealthCheck{}
	}
	deps.Checks["ledger"] = func(context.Context) error { return engine.Halted() }

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return publisher.Run(ctx)
	})

	switch mode {
	case "full":
		if a.cfg.Server.Enabled {
			a.startHTTPServer(ctx, g, deps, svc)
		}
		a.startSettler(ctx, g, deps, svc)
		a.startArchiver(ctx, g, deps, svc)
	case "server":
		a.startHTTPServer(ctx, g, deps, svc)
	case "settle":
		a.startSettler(ctx, g, deps, svc)
		a.startArchiver(ctx, g, deps, svc)
	}

	err = g.Wait()
	// A request cut off by shutdown may still be waiting on a token
	// transfer; let it reach a definite outcome before the lease goes.
	engine.Drain()
	return err
}

// startSettler runs the auction finalizer as the operator principal.
func (a *App) startSettler(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.LedgerService) {
	if !a.cfg.Settler.Enabled {
		return
	}
	if deps.Operator == nil {
		a.logger.WarnContext(ctx, "settler disabled: no operator key configured")
		return
	}
	settler := service.NewSettler(svc, deps.Operator.Address(), a.cfg.Settler.Interval.Duration, deps.Metrics, a.logger)
	g.Go(func() error {
		return settler.Run(ctx)
	})
}

// startArchiver periodically exports the ledger state to blob storage.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.LedgerService) {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return
	}
	job := service.NewSnapshotJob(svc, deps.Archiver, a.cfg.Archive.Interval.Duration, deps.Metrics, a.logger)
	g.Go(func() error {
		return job.Run(ctx)
	})
}

// startHTTPServer builds the handlers, the WebSocket hub and the server, and
// registers their goroutines on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.LedgerService) {
	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Channel: service.ChannelLedger,
		Status: func(ctx context.Context) map[string]any {
			h, _ := svc.Height(ctx)
			return map[string]any{
				"mode":   a.cfg.Mode,
				"height": h,
				"owner":  svc.Owner(),
			}
		},
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(svc, deps.Checks, a.cfg.Mode, a.logger),
		Listings:      handler.NewListingHandler(svc, a.logger),
		Accounts:      handler.NewAccountHandler(svc, a.logger),
		Verifiers:     handler.NewVerifierHandler(svc, a.logger),
		Verifications: handler.NewVerificationHandler(svc, a.logger),
		Admin:         handler.NewAdminHandler(svc, deps.Journal, deps.Minter, a.logger),
	}
	maxBody := a.cfg.Server.MaxBodyBytes
	if deps.Evidence != nil {
		evidence := service.NewEvidenceService(deps.Evidence, a.cfg.Server.MaxEvidenceBytes, a.logger)
		handlers.Evidence = handler.NewEvidenceHandler(evidence, a.logger)
		// Signed uploads are buffered by the auth middleware.
		maxBody = max(maxBody, evidence.MaxBytes())
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		MaxSkew:      a.cfg.Server.MaxSkew.Duration,
		MaxBodyBytes: maxBody,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
	}, handlers, server.Deps{
		Replay:  deps.Replay,
		Limiter: deps.Limiter,
		Metrics: deps.Metrics.Handler(),
		OnAuthErr: func(reason string) {
			deps.Metrics.AuthFailures.WithLabelValues(reason).Inc()
		},
	}, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
