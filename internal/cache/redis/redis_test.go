package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// newTestClient connects to RECLEDGER_TEST_REDIS_ADDR or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("RECLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RECLEDGER_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, KeyPrefix: "test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyPrefix(t *testing.T) {
	c := NewFromClient(nil, "recledger:")
	require.Equal(t, "recledger:lock:sequencer", c.Key("lock:", "sequencer"))
	require.Equal(t, "plain", NewFromClient(nil, "").Key("plain"))
}

func TestLockLease(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	lease, err := lm.Acquire(ctx, "sequencer", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "sequencer", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	require.NoError(t, lease.Extend(ctx, 2*time.Second))
	lease.Release()
	lease.Release()
	require.ErrorIs(t, lease.Extend(ctx, time.Second), domain.ErrLockHeld)

	again, err := lm.Acquire(ctx, "sequencer", time.Second)
	require.NoError(t, err)
	again.Release()
}

func TestReplayGuard(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	g := NewReplayGuard(c)

	seen, err := g.Seen(ctx, "sig-1", time.Minute)
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = g.Seen(ctx, "sig-1", time.Minute)
	require.NoError(t, err)
	require.True(t, seen)
}

func TestRateLimiter(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "caller", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "caller", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = rl.Allow(ctx, "other", 3, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSignalBusStream(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	sb := NewSignalBus(c)

	msgs, err := sb.StreamRead(ctx, "stream:ledger", "0", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.NoError(t, sb.StreamAppend(ctx, "stream:ledger", []byte(`{"type":"listing_created"}`)))
	require.NoError(t, sb.StreamAppend(ctx, "stream:ledger", []byte(`{"type":"bid_placed"}`)))

	msgs, err = sb.StreamRead(ctx, "stream:ledger", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.JSONEq(t, `{"type":"bid_placed"}`, string(msgs[1].Payload))

	sub, err := sb.Subscribe(ctx, "ch:ledger")
	require.NoError(t, err)
	require.NoError(t, sb.Publish(ctx, "ch:ledger", []byte("hello")))
	select {
	case got := <-sub:
		require.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
