// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/server/handler"
	"github.com/alanyoungcy/recledger/internal/server/middleware"
	"github.com/alanyoungcy/recledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	MaxSkew      time.Duration
	MaxBodyBytes int64
	RateLimit    int
	RateWindow   time.Duration
}

// Deps are the optional collaborators of the middleware chain.
type Deps struct {
	Replay    domain.ReplayGuard
	Limiter   domain.RateLimiter
	Metrics   http.Handler
	OnAuthErr func(reason string)
}

// Handlers aggregates all HTTP handlers that the server registers. Evidence
// may be nil when blob storage is disabled.
type Handlers struct {
	Health        *handler.HealthHandler
	Listings      *handler.ListingHandler
	Accounts      *handler.AccountHandler
	Verifiers     *handler.VerifierHandler
	Verifications *handler.VerificationHandler
	Evidence      *handler.EvidenceHandler
	Admin         *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain:
// CORS, logging, signature auth, then rate limiting.
func NewServer(cfg Config, h Handlers, deps Deps, hub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /v1/height", h.Health.Height)

	mux.HandleFunc("GET /v1/listings", h.Listings.ListActive)
	mux.HandleFunc("GET /v1/listings/count", h.Listings.Count)
	mux.HandleFunc("GET /v1/listings/{id}", h.Listings.Get)
	mux.HandleFunc("GET /v1/listings/{id}/bid", h.Listings.HighestBid)
	mux.HandleFunc("GET /v1/listings/{id}/ended", h.Listings.Ended)
	mux.HandleFunc("POST /v1/listings/direct", h.Listings.ListDirect)
	mux.HandleFunc("POST /v1/listings/auction", h.Listings.ListAuction)
	mux.HandleFunc("POST /v1/listings/{id}/cancel", h.Listings.Cancel)
	mux.HandleFunc("POST /v1/listings/{id}/buy", h.Listings.Buy)
	mux.HandleFunc("POST /v1/listings/{id}/bids", h.Listings.PlaceBid)
	mux.HandleFunc("POST /v1/listings/{id}/finalize", h.Listings.Finalize)

	mux.HandleFunc("GET /v1/accounts/{principal}", h.Accounts.Get)
	mux.HandleFunc("POST /v1/accounts/{principal}/credit", h.Accounts.Credit)
	mux.HandleFunc("POST /v1/accounts/withdraw", h.Accounts.Withdraw)
	mux.HandleFunc("GET /v1/revenue", h.Accounts.Revenue)
	mux.HandleFunc("POST /v1/revenue/withdraw", h.Accounts.WithdrawRevenue)
	mux.HandleFunc("GET /v1/supply", h.Accounts.Supply)

	mux.HandleFunc("GET /v1/verifiers", h.Verifiers.List)
	mux.HandleFunc("GET /v1/verifiers/{principal}", h.Verifiers.Get)
	mux.HandleFunc("GET /v1/verifiers/{principal}/stats", h.Verifiers.Stats)
	mux.HandleFunc("POST /v1/verifiers", h.Verifiers.Add)
	mux.HandleFunc("POST /v1/verifiers/{principal}/deactivate", h.Verifiers.Deactivate)
	mux.HandleFunc("POST /v1/verifiers/{principal}/reputation", h.Verifiers.Reputation)

	mux.HandleFunc("POST /v1/verifications", h.Verifications.Submit)
	mux.HandleFunc("POST /v1/verifications/bulk", h.Verifications.BulkVerify)
	mux.HandleFunc("GET /v1/verifications/count", h.Verifications.Count)
	mux.HandleFunc("GET /v1/verifications/{id}", h.Verifications.Get)
	mux.HandleFunc("POST /v1/verifications/{id}/status", h.Verifications.UpdateStatus)
	mux.HandleFunc("POST /v1/verifications/{id}/dispute", h.Verifications.Dispute)
	mux.HandleFunc("GET /v1/verifications/{id}/dispute", h.Verifications.GetDispute)
	mux.HandleFunc("POST /v1/verifications/{id}/resolve", h.Verifications.Resolve)
	mux.HandleFunc("GET /v1/disputes", h.Verifications.OpenDisputes)

	mux.HandleFunc("GET /v1/tokens/{id}/verification", h.Verifications.TokenVerification)
	mux.HandleFunc("GET /v1/tokens/{id}/verifications", h.Verifications.TokenHistory)
	mux.HandleFunc("GET /v1/tokens/{id}/verified", h.Verifications.TokenVerified)
	mux.HandleFunc("POST /v1/tokens", h.Admin.Mint)
	mux.HandleFunc("GET /v1/principals/{principal}/tokens", h.Admin.Tokens)

	mux.HandleFunc("GET /v1/admins", h.Admin.List)
	mux.HandleFunc("POST /v1/admins", h.Admin.Grant)
	mux.HandleFunc("DELETE /v1/admins/{principal}", h.Admin.Revoke)
	mux.HandleFunc("GET /v1/journal", h.Admin.Journal)

	if h.Evidence != nil {
		mux.HandleFunc("POST /v1/evidence", h.Evidence.Upload)
		mux.HandleFunc("GET /v1/evidence/{hash}", h.Evidence.Download)
	}
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var chain http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.SignatureAuth(middleware.AuthConfig{
		MaxSkew:      cfg.MaxSkew,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Replay:       deps.Replay,
		OnFailure:    deps.OnAuthErr,
		Logger:       logger,
	})(chain)
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      chain,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler: chain,
		logger:  logger,
	}
}

// Handler returns the full middleware chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
