package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/metrics"
)

// ErrLeaseLost is returned by Sequencer.Run when the lease could not be
// extended and another process may have taken over.
var ErrLeaseLost = errors.New("service: sequencer lease lost")

// Sequencer guarantees a single writing process per deployment by holding a
// distributed lease for as long as the ledger runs.
type Sequencer struct {
	locks   domain.LockManager
	key     string
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSequencer creates a Sequencer for the given lease key.
func NewSequencer(locks domain.LockManager, key string, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Sequencer {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Sequencer{
		locks:   locks,
		key:     key,
		ttl:     ttl,
		metrics: m,
		logger:  logger.With(slog.String("component", "sequencer")),
	}
}

// Run waits for the lease, then runs fn while keeping the lease alive. fn's
// context is cancelled if the lease is lost, in which case Run returns
// ErrLeaseLost.
func (s *Sequencer) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	lease, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	s.metrics.LeaseHeld.Set(1)
	defer func() {
		lease.Release()
		s.metrics.LeaseHeld.Set(0)
	}()
	s.logger.InfoContext(ctx, "sequencer lease acquired", slog.String("key", s.key))

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return fn(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(s.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := lease.Extend(gctx, s.ttl); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					s.logger.ErrorContext(gctx, "sequencer lease extend failed", slog.String("error", err.Error()))
					return fmt.Errorf("%w: %v", ErrLeaseLost, err)
				}
			}
		}
	})
	return g.Wait()
}

func (s *Sequencer) acquire(ctx context.Context) (domain.Lease, error) {
	retry := time.NewTicker(s.ttl / 3)
	defer retry.Stop()
	waiting := false
	for {
		lease, err := s.locks.Acquire(ctx, s.key, s.ttl)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("service: acquire sequencer lease: %w", err)
		}
		if !waiting {
			s.logger.InfoContext(ctx, "sequencer lease held elsewhere, waiting", slog.String("key", s.key))
			waiting = true
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-retry.C:
		}
	}
}
