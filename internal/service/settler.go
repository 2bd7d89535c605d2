package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/metrics"
)

// AuctionFinalizer is the part of the ledger the settler drives.
type AuctionFinalizer interface {
	Height(ctx context.Context) (uint64, error)
	EndedAuctions(ctx context.Context, h uint64) []domain.Listing
	FinalizeAuction(ctx context.Context, caller domain.Principal, listingID uint64) error
}

// Settler finalizes auctions once their end height passes. Finalization is
// open to any caller; the settler acts as the operator principal.
type Settler struct {
	ledger   AuctionFinalizer
	operator domain.Principal
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSettler creates a Settler that scans every interval.
func NewSettler(l AuctionFinalizer, operator domain.Principal, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *Settler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Settler{
		ledger:   l,
		operator: operator,
		interval: interval,
		metrics:  m,
		logger:   logger.With(slog.String("component", "settler")),
	}
}

// Run settles ended auctions until ctx ends.
func (s *Settler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "settler started",
		slog.String("operator", s.operator.Hex()),
		slog.Duration("interval", s.interval),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SettleOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "settle pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SettleOnce finalizes every auction ended at the current height and returns
// how many were finalized. Individual failures are logged and skipped.
func (s *Settler) SettleOnce(ctx context.Context) (int, error) {
	h, err := s.ledger.Height(ctx)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, l := range s.ledger.EndedAuctions(ctx, h) {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		err := s.ledger.FinalizeAuction(ctx, s.operator, l.ID)
		s.metrics.Settled.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			s.logger.WarnContext(ctx, "finalize auction failed",
				slog.Uint64("listing_id", l.ID),
				slog.Uint64("height", h),
				slog.String("error", err.Error()),
			)
			continue
		}
		settled++
		s.logger.InfoContext(ctx, "auction finalized",
			slog.Uint64("listing_id", l.ID),
			slog.Uint64("token_id", l.TokenID),
		)
	}
	return settled, nil
}
