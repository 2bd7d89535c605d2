// Package service holds the application services that sit between the API
// surface and the ledger engine: instrumentation, event fan-out, background
// settlement, snapshot archiving and the sequencer lease.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/ledger"
	"github.com/alanyoungcy/recledger/internal/metrics"
)

// LedgerService wraps the engine so every mutation is timed, counted and
// logged. Queries pass straight through to the embedded engine.
type LedgerService struct {
	*ledger.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewLedgerService creates a LedgerService around e.
func NewLedgerService(e *ledger.Engine, m *metrics.Metrics, logger *slog.Logger) *LedgerService {
	s := &LedgerService{
		Engine:  e,
		metrics: m,
		logger:  logger.With(slog.String("component", "ledger_service")),
	}
	s.refreshGauges(context.Background())
	return s
}

// track runs fn as the named operation and records its outcome.
func (s *LedgerService) track(ctx context.Context, op string, caller domain.Principal, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.ObserveOp(op, err, time.Since(start))

	if err != nil {
		level := slog.LevelInfo
		if metrics.Result(err) == "error" {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "ledger operation failed",
			slog.String("op", op),
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.logger.DebugContext(ctx, "ledger operation committed",
		slog.String("op", op),
		slog.String("caller", caller.Hex()),
		slog.Duration("took", time.Since(start)),
	)
	s.refreshGauges(ctx)
	return nil
}

func (s *LedgerService) refreshGauges(ctx context.Context) {
	if h, err := s.Engine.Height(ctx); err == nil {
		s.metrics.Height.Set(float64(h))
	}
	s.metrics.Revenue.Set(float64(s.Engine.GetPlatformRevenue(ctx)))
	s.metrics.ActiveListings.Set(float64(len(s.Engine.ActiveListings(ctx, "", domain.ListOpts{}))))
	s.metrics.OpenDisputes.Set(float64(len(s.Engine.OpenDisputes(ctx))))
}

// ListDirect creates a fixed-price listing.
func (s *LedgerService) ListDirect(ctx context.Context, caller domain.Principal, tokenID, price uint64) (uint64, error) {
	var id uint64
	err := s.track(ctx, "list_direct", caller, func() (err error) {
		id, err = s.Engine.ListDirect(ctx, caller, tokenID, price)
		return err
	})
	return id, err
}

// ListAuction creates an auction listing.
func (s *LedgerService) ListAuction(ctx context.Context, caller domain.Principal, tokenID, startingPrice, duration uint64) (uint64, error) {
	var id uint64
	err := s.track(ctx, "list_auction", caller, func() (err error) {
		id, err = s.Engine.ListAuction(ctx, caller, tokenID, startingPrice, duration)
		return err
	})
	return id, err
}

func (s *LedgerService) CancelListing(ctx context.Context, caller domain.Principal, listingID uint64) error {
	return s.track(ctx, "cancel_listing", caller, func() error {
		return s.Engine.CancelListing(ctx, caller, listingID)
	})
}

func (s *LedgerService) Buy(ctx context.Context, caller domain.Principal, listingID uint64) error {
	return s.track(ctx, "buy", caller, func() error {
		return s.Engine.Buy(ctx, caller, listingID)
	})
}

func (s *LedgerService) PlaceBid(ctx context.Context, caller domain.Principal, listingID, amount uint64) error {
	return s.track(ctx, "place_bid", caller, func() error {
		return s.Engine.PlaceBid(ctx, caller, listingID, amount)
	})
}

func (s *LedgerService) FinalizeAuction(ctx context.Context, caller domain.Principal, listingID uint64) error {
	return s.track(ctx, "finalize_auction", caller, func() error {
		return s.Engine.FinalizeAuction(ctx, caller, listingID)
	})
}

func (s *LedgerService) CreditAccount(ctx context.Context, caller, p domain.Principal, amount uint64) error {
	return s.track(ctx, "credit_account", caller, func() error {
		return s.Engine.CreditAccount(ctx, caller, p, amount)
	})
}

func (s *LedgerService) WithdrawBalance(ctx context.Context, caller domain.Principal, amount uint64) error {
	return s.track(ctx, "withdraw_balance", caller, func() error {
		return s.Engine.WithdrawBalance(ctx, caller, amount)
	})
}

func (s *LedgerService) WithdrawPlatformRevenue(ctx context.Context, caller domain.Principal, amount uint64) error {
	return s.track(ctx, "withdraw_platform_revenue", caller, func() error {
		return s.Engine.WithdrawPlatformRevenue(ctx, caller, amount)
	})
}

func (s *LedgerService) GrantAdmin(ctx context.Context, caller, p domain.Principal) error {
	return s.track(ctx, "grant_admin", caller, func() error {
		return s.Engine.GrantAdmin(ctx, caller, p)
	})
}

func (s *LedgerService) RevokeAdmin(ctx context.Context, caller, p domain.Principal) error {
	return s.track(ctx, "revoke_admin", caller, func() error {
		return s.Engine.RevokeAdmin(ctx, caller, p)
	})
}

func (s *LedgerService) AddVerifier(ctx context.Context, caller, p domain.Principal, name, certificationBody string) error {
	return s.track(ctx, "add_verifier", caller, func() error {
		return s.Engine.AddVerifier(ctx, caller, p, name, certificationBody)
	})
}

func (s *LedgerService) DeactivateVerifier(ctx context.Context, caller, p domain.Principal) error {
	return s.track(ctx, "deactivate_verifier", caller, func() error {
		return s.Engine.DeactivateVerifier(ctx, caller, p)
	})
}

func (s *LedgerService) UpdateVerifierReputation(ctx context.Context, caller, p domain.Principal, score uint64) error {
	return s.track(ctx, "update_verifier_reputation", caller, func() error {
		return s.Engine.UpdateVerifierReputation(ctx, caller, p, score)
	})
}

// SubmitVerification records an attestation and returns its id.
func (s *LedgerService) SubmitVerification(ctx context.Context, caller domain.Principal, sub ledger.Submission) (uint64, error) {
	var id uint64
	err := s.track(ctx, "submit_verification", caller, func() (err error) {
		id, err = s.Engine.SubmitVerification(ctx, caller, sub)
		return err
	})
	return id, err
}

func (s *LedgerService) UpdateVerificationStatus(ctx context.Context, caller domain.Principal, recordID uint64, status domain.VerificationStatus, notes string) error {
	return s.track(ctx, "update_verification_status", caller, func() error {
		return s.Engine.UpdateVerificationStatus(ctx, caller, recordID, status, notes)
	})
}

// BulkVerifyTokens records a verified attestation for each token.
func (s *LedgerService) BulkVerifyTokens(ctx context.Context, caller domain.Principal, tokenIDs []uint64, verifier domain.Principal) ([]uint64, error) {
	var ids []uint64
	err := s.track(ctx, "bulk_verify_tokens", caller, func() (err error) {
		ids, err = s.Engine.BulkVerifyTokens(ctx, caller, tokenIDs, verifier)
		return err
	})
	return ids, err
}

func (s *LedgerService) DisputeVerification(ctx context.Context, caller domain.Principal, recordID uint64, reason string) error {
	return s.track(ctx, "dispute_verification", caller, func() error {
		return s.Engine.DisputeVerification(ctx, caller, recordID, reason)
	})
}

func (s *LedgerService) ResolveDispute(ctx context.Context, caller domain.Principal, recordID uint64, resolution string, final domain.VerificationStatus) error {
	return s.track(ctx, "resolve_dispute", caller, func() error {
		return s.Engine.ResolveDispute(ctx, caller, recordID, resolution, final)
	})
}

// CheckInvariants verifies fund conservation and logs a violation loudly.
func (s *LedgerService) CheckInvariants(ctx context.Context) error {
	err := s.Engine.CheckConservation(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "ledger invariant violated", slog.String("error", err.Error()))
	}
	return err
}
