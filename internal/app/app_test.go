package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/recledger/internal/config"
	"github.com/alanyoungcy/recledger/internal/crypto"
	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/ledger"
	"github.com/alanyoungcy/recledger/internal/metrics"
	"github.com/alanyoungcy/recledger/internal/notify"
	"github.com/alanyoungcy/recledger/internal/registry"
	"github.com/alanyoungcy/recledger/internal/server/handler"
	"github.com/alanyoungcy/recledger/internal/store/memory"
)

var (
	owner  = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	seller = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bidder = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSettleModeFinalizesReloadedAuction(t *testing.T) {
	ctx := context.Background()
	logger := testLogger()
	store := memory.NewLedgerStore()
	reg := registry.NewMemory(owner)
	clock := ledger.NewManualClock(100)
	require.NoError(t, reg.Mint(owner, 1, seller))

	// A previous writer opened the auction and took a bid.
	prev, err := ledger.Open(ctx, ledger.Options{Owner: owner, Registry: reg, Heights: clock, Store: store, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, prev.CreditAccount(ctx, owner, bidder, 5_000))
	id, err := prev.ListAuction(ctx, seller, 1, 1_000, ledger.DefaultMinAuctionDuration)
	require.NoError(t, err)
	require.NoError(t, prev.PlaceBid(ctx, bidder, id, 2_000))
	clock.Advance(ledger.DefaultMinAuctionDuration + 1)

	operator, err := crypto.NewSigner(strings.Repeat("4", 64))
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Ledger.Owner = owner.Hex()
	cfg.Mode = "settle"
	cfg.Settler.Interval.Duration = 10 * time.Millisecond

	deps := &Dependencies{
		Store:    store,
		Journal:  store,
		Registry: reg,
		Minter:   reg,
		Heights:  clock,
		Operator: operator,
		Notifier: notify.NewNotifier(nil, nil, logger),
		Metrics:  metrics.New(),
		Checks:   map[string]handler.HealthCheck{},
	}

	a := New(&cfg, logger)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.runLedger(runCtx, "settle", deps) }()

	require.Eventually(t, func() bool {
		snap, err := store.Load(ctx)
		if err != nil {
			return false
		}
		for _, l := range snap.Listings {
			if l.ID == id {
				return !l.Active
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("runLedger did not stop")
	}

	holder, ok, err := reg.OwnerOf(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, bidder, holder)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	for _, l := range snap.Listings {
		if l.ID == id {
			require.Equal(t, domain.OutcomeSold, l.Outcome)
		}
	}
}
