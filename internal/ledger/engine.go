// Package ledger implements the certificate marketplace and verification
// ledger. Every mutating operation runs as one all-or-nothing transaction:
// state changes, fund movements, persistence and the registry transfer either
// all commit or none do.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// DefaultMinAuctionDuration is the minimum auction length in ledger heights.
const DefaultMinAuctionDuration uint64 = 144

// Options configures an Engine.
type Options struct {
	Owner              domain.Principal
	MinAuctionDuration uint64
	Registry           domain.TokenRegistry
	Heights            domain.HeightSource
	// Store is optional. Without it the ledger lives only in memory.
	Store  domain.LedgerStore
	Logger *slog.Logger
	// OnCommit receives the events of each committed transaction, in commit
	// order, while the write lock is still held. It must not block.
	OnCommit func(events []domain.LedgerEvent)
	Now      func() time.Time
}

// Engine serializes ledger transactions and serves consistent reads.
type Engine struct {
	// wmu serializes transactions. mu guards st and is write-locked only
	// while a committed transaction is published, so reads do not wait on
	// registry transfers.
	wmu sync.Mutex
	mu  sync.RWMutex
	st  *state

	// halted is set when a transfer outcome could not be determined.
	halted error

	owner       domain.Principal
	minDuration uint64
	registry    domain.TokenRegistry
	heights     domain.HeightSource
	store       domain.LedgerStore
	logger      *slog.Logger
	onCommit    func([]domain.LedgerEvent)
	now         func() time.Time
}

// Open creates an engine and restores state from opts.Store when set.
func Open(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.New("ledger: registry is required")
	}
	if opts.Heights == nil {
		return nil, errors.New("ledger: height source is required")
	}
	if opts.MinAuctionDuration == 0 {
		opts.MinAuctionDuration = DefaultMinAuctionDuration
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	e := &Engine{
		st:          newState(),
		owner:       opts.Owner,
		minDuration: opts.MinAuctionDuration,
		registry:    opts.Registry,
		heights:     opts.Heights,
		store:       opts.Store,
		logger:      opts.Logger,
		onCommit:    opts.OnCommit,
		now:         opts.Now,
	}
	if opts.Store != nil {
		snap, err := opts.Store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("ledger: load state: %w", err)
		}
		e.st = stateFromSnapshot(snap)
		e.logger.Info("ledger state restored",
			slog.Uint64("listings", snap.Counters.LastListingID),
			slog.Uint64("verifications", snap.Counters.LastVerificationID),
			slog.Uint64("height", snap.Counters.Height),
		)
	}
	return e, nil
}

// Owner returns the contract owner principal.
func (e *Engine) Owner() domain.Principal { return e.owner }

// MinAuctionDuration returns the configured minimum auction length.
func (e *Engine) MinAuctionDuration() uint64 { return e.minDuration }

type txKey struct{}

// inTx reports whether ctx was handed out by a running ledger transaction.
func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// apply runs fn as a single transaction. Errors returned by fn discard every
// change it made.
func (e *Engine) apply(ctx context.Context, op string, caller domain.Principal, fn func(tx *Tx) error) error {
	if inTx(ctx) {
		return fmt.Errorf("ledger: %s: %w", op, domain.ErrReentrant)
	}

	e.wmu.Lock()
	defer e.wmu.Unlock()

	if e.halted != nil {
		return fmt.Errorf("ledger: %s: halted: %w", op, e.halted)
	}

	height, err := e.heights.Height(ctx)
	if err != nil {
		return fmt.Errorf("ledger: %s: read height: %w", op, err)
	}
	// Height never moves backwards, even if the source does.
	if height < e.st.counters.Height {
		height = e.st.counters.Height
	}

	txCtx := context.WithValue(ctx, txKey{}, true)
	tx := newTx(txCtx, e, uuid.NewString(), op, caller, height)
	if err := fn(tx); err != nil {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	if err := e.commit(txCtx, tx); err != nil {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	if e.onCommit != nil && len(tx.events) > 0 {
		e.onCommit(tx.events)
	}
	return nil
}

// commit persists the change set, runs queued registry transfers and then
// publishes the overlay. A transfer failure rolls back the batch; a batch
// commit failure after transfers ran reverses those transfers. A transfer
// with an unknown outcome halts the engine instead: neither undoing nor
// keeping the ledger side is safe until an operator reconciles the token.
func (e *Engine) commit(ctx context.Context, tx *Tx) error {
	ctx = context.WithoutCancel(ctx)

	var batch domain.LedgerBatch
	if e.store != nil {
		b, err := e.store.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		if err := b.Apply(ctx, tx.changeSet()); err != nil {
			e.rollback(ctx, b)
			return fmt.Errorf("write batch: %w", err)
		}
		batch = b
	}

	done := make([]tokenTransfer, 0, len(tx.transfers))
	for _, t := range tx.transfers {
		if err := e.registry.Transfer(ctx, t.tokenID, t.from, t.to); err != nil {
			if errors.Is(err, domain.ErrTransferPending) {
				if batch != nil {
					e.rollback(ctx, batch)
				}
				e.mu.Lock()
				e.halted = fmt.Errorf("token %d from %s to %s in %s: %w", t.tokenID, t.from.Hex(), t.to.Hex(), tx.id, err)
				e.mu.Unlock()
				e.logger.Error("ledger halted on unresolved token transfer",
					slog.String("tx_id", tx.id),
					slog.String("op", tx.op),
					slog.Uint64("token_id", t.tokenID),
					slog.Int("completed_transfers", len(done)),
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("token %d: %w", t.tokenID, err)
			}
			e.reverse(ctx, done)
			if batch != nil {
				e.rollback(ctx, batch)
			}
			return fmt.Errorf("token %d: %w: %v", t.tokenID, domain.ErrTransferFailed, err)
		}
		done = append(done, t)
	}

	if batch != nil {
		if err := batch.Commit(ctx); err != nil {
			e.reverse(ctx, done)
			return fmt.Errorf("commit batch: %w", err)
		}
	}

	e.mu.Lock()
	tx.apply(e.st)
	e.mu.Unlock()
	return nil
}

// Drain blocks until the running transaction, if any, has finished.
func (e *Engine) Drain() {
	e.wmu.Lock()
	defer e.wmu.Unlock()
}

// Halted returns the unresolved transfer that stopped the engine, if any.
func (e *Engine) Halted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

func (e *Engine) rollback(ctx context.Context, b domain.LedgerBatch) {
	if err := b.Rollback(ctx); err != nil {
		e.logger.Error("ledger batch rollback failed", slog.String("error", err.Error()))
	}
}

// reverse undoes already-executed transfers, newest first.
func (e *Engine) reverse(ctx context.Context, done []tokenTransfer) {
	for i := len(done) - 1; i >= 0; i-- {
		t := done[i]
		if err := e.registry.Transfer(ctx, t.tokenID, t.to, t.from); err != nil {
			e.logger.Error("compensating transfer failed",
				slog.Uint64("token_id", t.tokenID),
				slog.String("from", t.to.Hex()),
				slog.String("to", t.from.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// read runs fn against committed state. Calls made from inside a running
// transaction (for example by a registry callback) see the pre-transaction
// state.
func (e *Engine) read(_ context.Context, fn func(st *state)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.st)
}

// Height returns the current ledger height, never lower than the last
// committed height.
func (e *Engine) Height(ctx context.Context) (uint64, error) {
	h, err := e.heights.Height(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: read height: %w", err)
	}
	e.read(ctx, func(st *state) {
		if h < st.counters.Height {
			h = st.counters.Height
		}
	})
	return h, nil
}

// Snapshot returns a copy of the full committed state.
func (e *Engine) Snapshot(ctx context.Context) domain.Snapshot {
	var snap domain.Snapshot
	e.read(ctx, func(st *state) { snap = st.snapshot() })
	return snap
}
