package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/ledger"
	"github.com/alanyoungcy/recledger/internal/metrics"
	"github.com/alanyoungcy/recledger/internal/notify"
	"github.com/alanyoungcy/recledger/internal/registry"
	"github.com/alanyoungcy/recledger/internal/store/memory"
)

var (
	owner  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	seller = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	ctx     context.Context
	svc     *LedgerService
	reg     *registry.Memory
	clock   *ledger.ManualClock
	metrics *metrics.Metrics
	events  []domain.LedgerEvent
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ctx:     context.Background(),
		reg:     registry.NewMemory(owner),
		clock:   ledger.NewManualClock(10),
		metrics: metrics.New(),
	}
	e, err := ledger.Open(h.ctx, ledger.Options{
		Owner:    owner,
		Registry: h.reg,
		Heights:  h.clock,
		Store:    memory.NewLedgerStore(),
		Logger:   quietLogger(),
		OnCommit: func(evs []domain.LedgerEvent) { h.events = append(h.events, evs...) },
	})
	require.NoError(t, err)
	h.svc = NewLedgerService(e, h.metrics, quietLogger())
	return h
}

func TestLedgerServiceRecordsOutcomes(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Mint(owner, 1, seller))

	id, err := h.svc.ListDirect(h.ctx, seller, 1, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	_, err = h.svc.ListDirect(h.ctx, buyer, 1, 500)
	require.ErrorIs(t, err, domain.ErrNotOwner)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Ops.WithLabelValues("list_direct", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Ops.WithLabelValues("list_direct", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ActiveListings))

	require.NoError(t, h.svc.CreditAccount(h.ctx, owner, buyer, 1000))
	require.NoError(t, h.svc.Buy(h.ctx, buyer, id))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ActiveListings))
	assert.Equal(t, 5.0, testutil.ToFloat64(h.metrics.Revenue))
	require.NoError(t, h.svc.CheckInvariants(h.ctx))
}

func TestSettlerFinalizesEndedAuctions(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.reg.Mint(owner, 1, seller))
	require.NoError(t, h.reg.Mint(owner, 2, seller))
	require.NoError(t, h.svc.CreditAccount(h.ctx, owner, buyer, 10_000))

	withBid, err := h.svc.ListAuction(h.ctx, seller, 1, 100, 144)
	require.NoError(t, err)
	noBid, err := h.svc.ListAuction(h.ctx, seller, 2, 100, 200)
	require.NoError(t, err)
	require.NoError(t, h.svc.PlaceBid(h.ctx, buyer, withBid, 1000))

	s := NewSettler(h.svc, owner, time.Minute, h.metrics, quietLogger())

	n, err := s.SettleOnce(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(144)
	n, err = s.SettleOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	owner1, _, err := h.reg.OwnerOf(h.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, buyer, owner1)
	l, ok := h.svc.GetListing(h.ctx, noBid)
	require.True(t, ok)
	assert.True(t, l.Active)

	h.clock.Advance(100)
	n, err = s.SettleOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	l, _ = h.svc.GetListing(h.ctx, noBid)
	assert.Equal(t, domain.OutcomeExpired, l.Outcome)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Settled.WithLabelValues("ok")))
}

type memBus struct {
	mu        sync.Mutex
	published [][]byte
	stream    [][]byte
}

func (b *memBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type countingSender struct {
	mu     sync.Mutex
	titles []string
}

func (c *countingSender) Send(_ context.Context, title, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	return nil
}

func (c *countingSender) Name() string { return "counting" }

func TestEventPublisherFansOut(t *testing.T) {
	bus := &memBus{}
	sender := &countingSender{}
	m := metrics.New()
	n := notify.NewNotifier([]notify.Sender{sender}, []string{"listing_sold"}, quietLogger())

	var sunk [][]byte
	p := NewEventPublisher(bus, n, m, 2, quietLogger()).
		WithSink(func(_ context.Context, payload []byte) { sunk = append(sunk, payload) })

	p.Enqueue([]domain.LedgerEvent{
		{Type: domain.EventListingCreated, TxID: "a"},
		{Type: domain.EventListingSold, TxID: "b"},
		{Type: domain.EventBidPlaced, TxID: "c"},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Run(ctx), context.Canceled)

	require.Len(t, bus.published, 2)
	require.Len(t, bus.stream, 2)
	require.Len(t, sunk, 2)
	var ev domain.LedgerEvent
	require.NoError(t, json.Unmarshal(bus.published[1], &ev))
	assert.Equal(t, domain.EventListingSold, ev.Type)
	assert.Equal(t, []string{"Certificate sold"}, sender.titles)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("listing_created")))
}

type memArchiver struct {
	paths []string
}

func (a *memArchiver) ArchiveSnapshot(_ context.Context, snap domain.Snapshot) (string, error) {
	p := fmt.Sprintf("snapshots/%020d-%d.json", snap.Counters.Height, len(a.paths))
	a.paths = append(a.paths, p)
	return p, nil
}

func TestSnapshotJobSkipsUnchangedState(t *testing.T) {
	h := newHarness(t)
	arch := &memArchiver{}
	j := NewSnapshotJob(h.svc, arch, time.Minute, h.metrics, quietLogger())

	p, err := j.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, p)

	p, err = j.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, p)

	require.NoError(t, h.svc.CreditAccount(h.ctx, owner, buyer, 1))
	p, err = j.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, p)
	assert.Len(t, arch.paths, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Snapshots.WithLabelValues("unchanged")))
}

type memEvidence struct {
	docs map[string][]byte
}

func (m *memEvidence) Put(_ context.Context, data []byte, ct string) (domain.Evidence, error) {
	hash := "0x" + strings.Repeat("ab", 32)
	m.docs[hash] = data
	return domain.Evidence{Hash: hash, Size: int64(len(data)), ContentType: ct}, nil
}

func (m *memEvidence) Get(_ context.Context, hash string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.docs[hash])), nil
}

func (m *memEvidence) Exists(_ context.Context, hash string) (bool, error) {
	_, ok := m.docs[hash]
	return ok, nil
}

func TestEvidenceService(t *testing.T) {
	ctx := context.Background()
	s := NewEvidenceService(&memEvidence{docs: map[string][]byte{}}, 8, quietLogger())

	ev, err := s.Upload(ctx, seller, strings.NewReader("report"), "")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", ev.ContentType)

	_, err = s.Upload(ctx, seller, strings.NewReader("far too large"), "text/plain")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	rc, err := s.Open(ctx, ev.Hash)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "report", string(data))

	_, err = s.Open(ctx, "0x"+strings.Repeat("cd", 32))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

type fakeLease struct {
	mu       sync.Mutex
	extends  int
	failAt   int
	released bool
}

func (l *fakeLease) Extend(context.Context, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	if l.failAt > 0 && l.extends >= l.failAt {
		return domain.ErrLockHeld
	}
	return nil
}

func (l *fakeLease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
}

type fakeLocks struct {
	busy  int
	lease *fakeLease
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (domain.Lease, error) {
	if f.busy > 0 {
		f.busy--
		return nil, domain.ErrLockHeld
	}
	return f.lease, nil
}

func TestSequencerRunsWhileLeaseHeld(t *testing.T) {
	m := metrics.New()
	lease := &fakeLease{}
	seq := NewSequencer(&fakeLocks{busy: 1, lease: lease}, "sequencer", 30*time.Millisecond, m, quietLogger())

	ran := false
	err := seq.Run(context.Background(), func(ctx context.Context) error {
		ran = true
		assert.Equal(t, 1.0, testutil.ToFloat64(m.LeaseHeld))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, lease.released)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LeaseHeld))
}

func TestSequencerStopsWhenLeaseLost(t *testing.T) {
	lease := &fakeLease{failAt: 2}
	seq := NewSequencer(&fakeLocks{lease: lease}, "sequencer", 30*time.Millisecond, metrics.New(), quietLogger())

	err := seq.Run(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrLeaseLost)
	assert.True(t, lease.released)
}
