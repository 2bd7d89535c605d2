// Package memory provides an in-process LedgerStore used for development and
// tests. Its contents do not survive a restart.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/alanyoungcy/recledger/internal/domain"
)

var errBatchClosed = errors.New("store/memory: batch already closed")

// LedgerStore keeps the ledger rows in maps.
type LedgerStore struct {
	mu sync.Mutex

	counters  domain.Counters
	revenue   domain.RevenueAccount
	supply    domain.Supply
	listings  map[uint64]domain.Listing
	bids      map[uint64]domain.Bid
	accounts  map[domain.Principal]domain.Account
	verifiers map[domain.Principal]domain.Verifier
	stats     map[domain.Principal]domain.VerifierStats
	records   map[uint64]domain.VerificationRecord
	disputes  map[uint64]domain.Dispute
	admins    map[domain.Principal]struct{}
	journal   []domain.JournalEntry
}

// NewLedgerStore returns an empty store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		listings:  make(map[uint64]domain.Listing),
		bids:      make(map[uint64]domain.Bid),
		accounts:  make(map[domain.Principal]domain.Account),
		verifiers: make(map[domain.Principal]domain.Verifier),
		stats:     make(map[domain.Principal]domain.VerifierStats),
		records:   make(map[uint64]domain.VerificationRecord),
		disputes:  make(map[uint64]domain.Dispute),
		admins:    make(map[domain.Principal]struct{}),
	}
}

// Restore replaces the stored rows with snap. The journal is cleared.
func (s *LedgerStore) Restore(snap domain.Snapshot) {
	fresh := NewLedgerStore()
	fresh.counters = snap.Counters
	fresh.revenue = snap.Revenue
	fresh.supply = snap.Supply
	for _, l := range snap.Listings {
		fresh.listings[l.ID] = l
	}
	for _, b := range snap.Bids {
		fresh.bids[b.ListingID] = b
	}
	for _, a := range snap.Accounts {
		fresh.accounts[a.Principal] = a
	}
	for _, v := range snap.Verifiers {
		fresh.verifiers[v.Principal] = v
	}
	for _, row := range snap.Stats {
		fresh.stats[row.Verifier] = row.Stats
	}
	for _, r := range snap.Records {
		fresh.records[r.ID] = r
	}
	for _, d := range snap.Disputes {
		fresh.disputes[d.RecordID] = d
	}
	for _, p := range snap.Admins {
		fresh.admins[p] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters, s.revenue, s.supply = fresh.counters, fresh.revenue, fresh.supply
	s.listings, s.bids, s.accounts = fresh.listings, fresh.bids, fresh.accounts
	s.verifiers, s.stats, s.records = fresh.verifiers, fresh.stats, fresh.records
	s.disputes, s.admins = fresh.disputes, fresh.admins
	s.journal = nil
}

// Load implements domain.LedgerStore.
func (s *LedgerStore) Load(_ context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.Snapshot{
		Counters: s.counters,
		Revenue:  s.revenue,
		Supply:   s.supply,
	}
	for _, l := range s.listings {
		snap.Listings = append(snap.Listings, l)
	}
	for _, b := range s.bids {
		snap.Bids = append(snap.Bids, b)
	}
	for _, a := range s.accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	for _, v := range s.verifiers {
		snap.Verifiers = append(snap.Verifiers, v)
	}
	for p, st := range s.stats {
		snap.Stats = append(snap.Stats, domain.VerifierStatsRow{Verifier: p, Stats: st})
	}
	for _, r := range s.records {
		snap.Records = append(snap.Records, r)
	}
	for _, d := range s.disputes {
		snap.Disputes = append(snap.Disputes, d)
	}
	for p := range s.admins {
		snap.Admins = append(snap.Admins, p)
	}
	return snap, nil
}

// Begin implements domain.LedgerStore.
func (s *LedgerStore) Begin(_ context.Context) (domain.LedgerBatch, error) {
	return &batch{store: s}, nil
}

// List implements domain.JournalStore, newest first.
func (s *LedgerStore) List(_ context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.JournalEntry
	for i := len(s.journal) - 1; i >= 0; i-- {
		e := s.journal[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// JournalLen returns the number of committed transactions.
func (s *LedgerStore) JournalLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.journal)
}

type batch struct {
	store   *LedgerStore
	pending []domain.ChangeSet
	closed  bool
}

func (b *batch) Apply(_ context.Context, cs domain.ChangeSet) error {
	if b.closed {
		return errBatchClosed
	}
	b.pending = append(b.pending, cs)
	return nil
}

func (b *batch) Commit(_ context.Context) error {
	if b.closed {
		return errBatchClosed
	}
	b.closed = true

	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range b.pending {
		s.apply(cs)
	}
	return nil
}

func (b *batch) Rollback(_ context.Context) error {
	b.closed = true
	b.pending = nil
	return nil
}

func (s *LedgerStore) apply(cs domain.ChangeSet) {
	s.counters = cs.Counters
	if cs.Revenue != nil {
		s.revenue = *cs.Revenue
	}
	if cs.Supply != nil {
		s.supply = *cs.Supply
	}
	for _, l := range cs.Listings {
		s.listings[l.ID] = l
	}
	for _, b := range cs.Bids {
		s.bids[b.ListingID] = b
	}
	for _, id := range cs.DeletedBids {
		delete(s.bids, id)
	}
	for _, a := range cs.Accounts {
		s.accounts[a.Principal] = a
	}
	for _, v := range cs.Verifiers {
		s.verifiers[v.Principal] = v
	}
	for _, row := range cs.Stats {
		s.stats[row.Verifier] = row.Stats
	}
	for _, r := range cs.Records {
		s.records[r.ID] = r
	}
	for _, d := range cs.Disputes {
		s.disputes[d.RecordID] = d
	}
	for _, p := range cs.Admins {
		s.admins[p] = struct{}{}
	}
	for _, p := range cs.RemovedAdmins {
		delete(s.admins, p)
	}
	s.journal = append(s.journal, cs.Journal)
}
