package ledger

import (
	"sort"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// state is the committed in-memory ledger. It is only mutated by Tx.apply
// while the engine write lock is held.
type state struct {
	counters domain.Counters
	revenue  domain.RevenueAccount
	supply   domain.Supply

	listings  map[uint64]domain.Listing
	bids      map[uint64]domain.Bid
	accounts  map[domain.Principal]domain.Account
	verifiers map[domain.Principal]domain.Verifier
	stats     map[domain.Principal]domain.VerifierStats
	records   map[uint64]domain.VerificationRecord
	disputes  map[uint64]domain.Dispute
	admins    map[domain.Principal]bool

	// Derived indexes, rebuilt on load and never persisted.
	activeByToken map[uint64]uint64
	tokenRecords  map[uint64][]uint64
}

func newState() *state {
	return &state{
		listings:      make(map[uint64]domain.Listing),
		bids:          make(map[uint64]domain.Bid),
		accounts:      make(map[domain.Principal]domain.Account),
		verifiers:     make(map[domain.Principal]domain.Verifier),
		stats:         make(map[domain.Principal]domain.VerifierStats),
		records:       make(map[uint64]domain.VerificationRecord),
		disputes:      make(map[uint64]domain.Dispute),
		admins:        make(map[domain.Principal]bool),
		activeByToken: make(map[uint64]uint64),
		tokenRecords:  make(map[uint64][]uint64),
	}
}

// stateFromSnapshot rebuilds the in-memory ledger, including derived indexes.
func stateFromSnapshot(snap domain.Snapshot) *state {
	st := newState()
	st.counters = snap.Counters
	st.revenue = snap.Revenue
	st.supply = snap.Supply

	for _, l := range snap.Listings {
		st.listings[l.ID] = l
		if l.Active {
			st.activeByToken[l.TokenID] = l.ID
		}
	}
	for _, b := range snap.Bids {
		st.bids[b.ListingID] = b
	}
	for _, a := range snap.Accounts {
		st.accounts[a.Principal] = a
	}
	for _, v := range snap.Verifiers {
		st.verifiers[v.Principal] = v
	}
	for _, row := range snap.Stats {
		st.stats[row.Verifier] = row.Stats
	}

	records := append([]domain.VerificationRecord(nil), snap.Records...)
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	for _, r := range records {
		st.records[r.ID] = r
		st.tokenRecords[r.TokenID] = append(st.tokenRecords[r.TokenID], r.ID)
	}
	for _, d := range snap.Disputes {
		st.disputes[d.RecordID] = d
	}
	for _, p := range snap.Admins {
		st.admins[p] = true
	}
	return st
}

// snapshot copies the committed state into a deterministic, id-ordered form.
func (st *state) snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Counters: st.counters,
		Revenue:  st.revenue,
		Supply:   st.supply,
	}
	for _, l := range st.listings {
		snap.Listings = append(snap.Listings, l)
	}
	sort.Slice(snap.Listings, func(i, j int) bool { return snap.Listings[i].ID < snap.Listings[j].ID })

	for _, b := range st.bids {
		snap.Bids = append(snap.Bids, b)
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].ListingID < snap.Bids[j].ListingID })

	for _, a := range st.accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	sort.Slice(snap.Accounts, func(i, j int) bool {
		return snap.Accounts[i].Principal.Cmp(snap.Accounts[j].Principal) < 0
	})

	for _, v := range st.verifiers {
		snap.Verifiers = append(snap.Verifiers, v)
	}
	sort.Slice(snap.Verifiers, func(i, j int) bool {
		return snap.Verifiers[i].Principal.Cmp(snap.Verifiers[j].Principal) < 0
	})

	for p, s := range st.stats {
		snap.Stats = append(snap.Stats, domain.VerifierStatsRow{Verifier: p, Stats: s})
	}
	sort.Slice(snap.Stats, func(i, j int) bool {
		return snap.Stats[i].Verifier.Cmp(snap.Stats[j].Verifier) < 0
	})

	for _, r := range st.records {
		snap.Records = append(snap.Records, r)
	}
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].ID < snap.Records[j].ID })

	for _, d := range st.disputes {
		snap.Disputes = append(snap.Disputes, d)
	}
	sort.Slice(snap.Disputes, func(i, j int) bool { return snap.Disputes[i].RecordID < snap.Disputes[j].RecordID })

	for p := range st.admins {
		snap.Admins = append(snap.Admins, p)
	}
	sort.Slice(snap.Admins, func(i, j int) bool { return snap.Admins[i].Cmp(snap.Admins[j]) < 0 })
	return snap
}
