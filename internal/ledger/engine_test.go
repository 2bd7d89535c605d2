package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/registry"
	"github.com/alanyoungcy/recledger/internal/store/memory"
)

var (
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	seller   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bidder1  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bidder2  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

type fixture struct {
	ctx    context.Context
	engine *Engine
	reg    *registry.Memory
	clock  *ManualClock
	store  *memory.LedgerStore
	events []domain.LedgerEvent
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		reg:   registry.NewMemory(owner),
		clock: NewManualClock(100),
		store: memory.NewLedgerStore(),
	}
	o := Options{
		Owner:    owner,
		Registry: f.reg,
		Heights:  f.clock,
		Store:    f.store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnCommit: func(evs []domain.LedgerEvent) { f.events = append(f.events, evs...) },
	}
	for _, fn := range opts {
		fn(&o)
	}
	e, err := Open(f.ctx, o)
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) mint(t *testing.T, tokenID uint64, to domain.Principal) {
	t.Helper()
	require.NoError(t, f.reg.Mint(owner, tokenID, to))
}

func (f *fixture) fund(t *testing.T, p domain.Principal, amount uint64) {
	t.Helper()
	require.NoError(t, f.engine.CreditAccount(f.ctx, owner, p, amount))
}

func (f *fixture) tokenOwner(t *testing.T, tokenID uint64) domain.Principal {
	t.Helper()
	p, ok, err := f.reg.OwnerOf(f.ctx, tokenID)
	require.NoError(t, err)
	require.True(t, ok)
	return p
}

func (f *fixture) conserved(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.CheckConservation(f.ctx))
}

// hookRegistry wraps the memory registry with injectable behaviour.
type hookRegistry struct {
	*registry.Memory
	onOwnerOf   func(ctx context.Context) error
	transferErr error
	transfers   int
}

func (h *hookRegistry) OwnerOf(ctx context.Context, tokenID uint64) (domain.Principal, bool, error) {
	if h.onOwnerOf != nil {
		if err := h.onOwnerOf(ctx); err != nil {
			return domain.Principal{}, false, err
		}
	}
	return h.Memory.OwnerOf(ctx, tokenID)
}

func (h *hookRegistry) Transfer(ctx context.Context, tokenID uint64, from, to domain.Principal) error {
	h.transfers++
	if h.transferErr != nil {
		err := h.transferErr
		h.transferErr = nil
		return err
	}
	return h.Memory.Transfer(ctx, tokenID, from, to)
}

type failingStore struct {
	*memory.LedgerStore
	failCommit bool
}

func (s *failingStore) Begin(ctx context.Context) (domain.LedgerBatch, error) {
	b, err := s.LedgerStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &failingBatch{LedgerBatch: b, fail: s.failCommit}, nil
}

type failingBatch struct {
	domain.LedgerBatch
	fail bool
}

func (b *failingBatch) Commit(ctx context.Context) error {
	if b.fail {
		_ = b.LedgerBatch.Rollback(ctx)
		return errors.New("disk full")
	}
	return b.LedgerBatch.Commit(ctx)
}

func TestOpenRequiresRegistryAndHeights(t *testing.T) {
	_, err := Open(context.Background(), Options{Heights: NewManualClock(0)})
	require.Error(t, err)
	_, err = Open(context.Background(), Options{Registry: registry.NewMemory(owner)})
	require.Error(t, err)
}

func TestTransferFailureLeavesStateUntouched(t *testing.T) {
	hook := &hookRegistry{Memory: registry.NewMemory(owner)}
	f := newFixture(t, func(o *Options) { o.Registry = hook })
	require.NoError(t, hook.Mint(owner, 7, seller))
	f.fund(t, bidder1, 2_000_000)

	id, err := f.engine.ListDirect(f.ctx, seller, 7, 1_000_000)
	require.NoError(t, err)
	before := f.engine.Snapshot(f.ctx)
	journal := f.store.JournalLen()

	hook.transferErr = errors.New("rpc unavailable")
	err = f.engine.Buy(f.ctx, bidder1, id)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	require.Equal(t, domain.CodeTransferFailed, domain.Code(err))

	require.Equal(t, before, f.engine.Snapshot(f.ctx))
	require.Equal(t, journal, f.store.JournalLen())
	got, _, _ := hook.OwnerOf(f.ctx, 7)
	require.Equal(t, seller, got)

	// The same purchase succeeds once the registry recovers.
	require.NoError(t, f.engine.Buy(f.ctx, bidder1, id))
	got, _, _ = hook.OwnerOf(f.ctx, 7)
	require.Equal(t, bidder1, got)
	f.conserved(t)
}

func TestPendingTransferHaltsWrites(t *testing.T) {
	hook := &hookRegistry{Memory: registry.NewMemory(owner)}
	f := newFixture(t, func(o *Options) { o.Registry = hook })
	require.NoError(t, hook.Mint(owner, 7, seller))
	require.NoError(t, hook.Mint(owner, 8, seller))
	f.fund(t, bidder1, 5_000)

	id, err := f.engine.ListDirect(f.ctx, seller, 7, 1_000)
	require.NoError(t, err)
	before := f.engine.Snapshot(f.ctx)
	journal := f.store.JournalLen()

	hook.transferErr = fmt.Errorf("receipt 0xabc: %w", domain.ErrTransferPending)
	err = f.engine.Buy(f.ctx, bidder1, id)
	require.ErrorIs(t, err, domain.ErrTransferPending)
	require.NotErrorIs(t, err, domain.ErrTransferFailed)
	require.ErrorIs(t, f.engine.Halted(), domain.ErrTransferPending)

	// No compensating transfer is attempted and nothing is persisted.
	require.Equal(t, 1, hook.transfers)
	require.Equal(t, before, f.engine.Snapshot(f.ctx))
	require.Equal(t, journal, f.store.JournalLen())

	// Every later write is refused, including ones that do not touch the token.
	err = f.engine.Buy(f.ctx, bidder1, id)
	require.ErrorIs(t, err, domain.ErrTransferPending)
	_, err = f.engine.ListDirect(f.ctx, seller, 8, 10)
	require.ErrorIs(t, err, domain.ErrTransferPending)
	require.ErrorIs(t, f.engine.WithdrawBalance(f.ctx, bidder1, 1), domain.ErrTransferPending)
	require.Equal(t, 1, hook.transfers)

	// Reads keep working.
	l, ok := f.engine.GetListing(f.ctx, id)
	require.True(t, ok)
	require.True(t, l.Active)
}

// blockingRegistry holds every transfer until release is closed.
type blockingRegistry struct {
	*registry.Memory
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRegistry) Transfer(ctx context.Context, tokenID uint64, from, to domain.Principal) error {
	close(b.entered)
	<-b.release
	return b.Memory.Transfer(ctx, tokenID, from, to)
}

func TestReadsDoNotWaitForTransfers(t *testing.T) {
	reg := &blockingRegistry{
		Memory:  registry.NewMemory(owner),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, func(o *Options) { o.Registry = reg })
	require.NoError(t, reg.Mint(owner, 4, seller))
	f.fund(t, bidder1, 900)
	id, err := f.engine.ListDirect(f.ctx, seller, 4, 900)
	require.NoError(t, err)

	bought := make(chan error, 1)
	go func() { bought <- f.engine.Buy(f.ctx, bidder1, id) }()
	<-reg.entered

	read := make(chan domain.Listing, 1)
	go func() {
		l, _ := f.engine.GetListing(f.ctx, id)
		read <- l
	}()
	select {
	case l := <-read:
		require.True(t, l.Active)
	case <-time.After(2 * time.Second):
		t.Fatal("read blocked behind a pending transfer")
	}

	close(reg.release)
	require.NoError(t, <-bought)
	l, _ := f.engine.GetListing(f.ctx, id)
	require.False(t, l.Active)
	f.engine.Drain()
}

func TestStoreCommitFailureReversesTransfer(t *testing.T) {
	fs := &failingStore{LedgerStore: memory.NewLedgerStore()}
	f := newFixture(t, func(o *Options) { o.Store = fs })
	f.mint(t, 3, seller)
	f.fund(t, bidder1, 500)

	id, err := f.engine.ListDirect(f.ctx, seller, 3, 400)
	require.NoError(t, err)
	before := f.engine.Snapshot(f.ctx)

	fs.failCommit = true
	err = f.engine.Buy(f.ctx, bidder1, id)
	require.Error(t, err)
	require.Equal(t, before, f.engine.Snapshot(f.ctx))
	require.Equal(t, seller, f.tokenOwner(t, 3))
}

func TestRegistryCannotReenter(t *testing.T) {
	hook := &hookRegistry{Memory: registry.NewMemory(owner)}
	f := newFixture(t, func(o *Options) { o.Registry = hook })
	require.NoError(t, hook.Mint(owner, 1, seller))

	var inner error
	var count uint64
	hook.onOwnerOf = func(ctx context.Context) error {
		// Reads are served from committed state without deadlocking.
		count = f.engine.GetListingCount(ctx)
		_, inner = f.engine.ListDirect(ctx, seller, 1, 10)
		return nil
	}

	id, err := f.engine.ListDirect(f.ctx, seller, 1, 100)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	require.ErrorIs(t, inner, domain.ErrReentrant)
	require.Zero(t, count)
	require.Equal(t, uint64(1), f.engine.GetListingCount(f.ctx))
}

func TestReloadRestoresCommittedState(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)
	f.mint(t, 2, seller)
	f.fund(t, bidder1, 1_000_000)

	direct, err := f.engine.ListDirect(f.ctx, seller, 1, 250_000)
	require.NoError(t, err)
	auction, err := f.engine.ListAuction(f.ctx, seller, 2, 100_000, 144)
	require.NoError(t, err)
	require.NoError(t, f.engine.PlaceBid(f.ctx, bidder1, auction, 150_000))
	require.NoError(t, f.engine.AddVerifier(f.ctx, owner, stranger, "Green Energy Certifiers", "Green-e"))
	vid, err := f.engine.SubmitVerification(f.ctx, stranger, Submission{TokenID: 1, Status: domain.StatusVerified})
	require.NoError(t, err)
	require.NoError(t, f.engine.DisputeVerification(f.ctx, bidder1, vid, "stale meter data"))
	require.NoError(t, f.engine.GrantAdmin(f.ctx, owner, bidder2))

	reopened, err := Open(f.ctx, Options{
		Owner:    owner,
		Registry: f.reg,
		Heights:  f.clock,
		Store:    f.store,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	require.Equal(t, f.engine.Snapshot(f.ctx), reopened.Snapshot(f.ctx))

	// Derived indexes are rebuilt: the listed token cannot be listed again and
	// the token history is intact.
	_, err = reopened.ListDirect(f.ctx, seller, 1, 1)
	require.ErrorIs(t, err, domain.ErrInvalidListing)
	require.Len(t, reopened.GetTokenVerificationHistory(f.ctx, 1), 1)
	require.True(t, reopened.IsAdmin(f.ctx, bidder2))
	l, ok := reopened.GetListing(f.ctx, direct)
	require.True(t, ok)
	require.True(t, l.Active)
	require.NoError(t, reopened.CheckConservation(f.ctx))
}

func TestHeightNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)
	f.mint(t, 2, seller)

	f.clock.Set(500)
	_, err := f.engine.ListDirect(f.ctx, seller, 1, 10)
	require.NoError(t, err)

	f.clock.Set(200)
	id, err := f.engine.ListDirect(f.ctx, seller, 2, 10)
	require.NoError(t, err)
	l, _ := f.engine.GetListing(f.ctx, id)
	require.Equal(t, uint64(500), l.CreatedAt)

	h, err := f.engine.Height(f.ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(500), h)
}

func TestFailedOperationsEmitNothing(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, seller)

	_, err := f.engine.ListDirect(f.ctx, stranger, 1, 10)
	require.Error(t, err)
	require.Empty(t, f.events)

	_, err = f.engine.ListDirect(f.ctx, seller, 1, 10)
	require.NoError(t, err)
	require.Len(t, f.events, 1)
	require.Equal(t, domain.EventListingCreated, f.events[0].Type)
	require.Equal(t, seller, f.events[0].Caller)
	require.Equal(t, "1", f.events[0].Attrs["listing_id"])
}

func TestRolesAreOwnerManaged(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.engine.IsAdmin(f.ctx, owner))
	require.False(t, f.engine.IsAdmin(f.ctx, bidder2))

	require.ErrorIs(t, f.engine.GrantAdmin(f.ctx, stranger, bidder2), domain.ErrUnauthorized)
	require.NoError(t, f.engine.GrantAdmin(f.ctx, owner, bidder2))
	require.ErrorIs(t, f.engine.GrantAdmin(f.ctx, owner, bidder2), domain.ErrAlreadyExists)
	require.True(t, f.engine.IsAdmin(f.ctx, bidder2))
	require.Equal(t, []domain.Principal{owner, bidder2}, f.engine.Admins(f.ctx))

	// A granted admin can run admin operations.
	require.NoError(t, f.engine.CreditAccount(f.ctx, bidder2, seller, 10))

	require.ErrorIs(t, f.engine.RevokeAdmin(f.ctx, owner, owner), domain.ErrUnauthorized)
	require.NoError(t, f.engine.RevokeAdmin(f.ctx, owner, bidder2))
	require.ErrorIs(t, f.engine.RevokeAdmin(f.ctx, owner, bidder2), domain.ErrNotFound)
	require.ErrorIs(t, f.engine.CreditAccount(f.ctx, bidder2, seller, 10), domain.ErrUnauthorized)
}

func TestIntervalClock(t *testing.T) {
	genesis := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := IntervalClock{Genesis: genesis, Interval: 10 * time.Second}

	c.Now = func() time.Time { return genesis.Add(-time.Second) }
	h, err := c.Height(context.Background())
	require.NoError(t, err)
	require.Zero(t, h)

	c.Now = func() time.Time { return genesis.Add(95 * time.Second) }
	h, err = c.Height(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(9), h)
}
