package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// table is a copy-on-write overlay over one committed map. Reads fall through
// to base; writes land in dirty until commit.
type table[K comparable, V any] struct {
	base    map[K]V
	dirty   map[K]V
	deleted map[K]struct{}
}

func newTable[K comparable, V any](base map[K]V) *table[K, V] {
	return &table[K, V]{base: base}
}

func (t *table[K, V]) get(k K) (V, bool) {
	if _, gone := t.deleted[k]; gone {
		var zero V
		return zero, false
	}
	if v, ok := t.dirty[k]; ok {
		return v, true
	}
	v, ok := t.base[k]
	return v, ok
}

func (t *table[K, V]) put(k K, v V) {
	if t.dirty == nil {
		t.dirty = make(map[K]V)
	}
	delete(t.deleted, k)
	t.dirty[k] = v
}

func (t *table[K, V]) del(k K) {
	if t.deleted == nil {
		t.deleted = make(map[K]struct{})
	}
	delete(t.dirty, k)
	t.deleted[k] = struct{}{}
}

func (t *table[K, V]) commit() {
	for k := range t.deleted {
		delete(t.base, k)
	}
	for k, v := range t.dirty {
		t.base[k] = v
	}
}

type tokenTransfer struct {
	tokenID  uint64
	from, to domain.Principal
}

// Tx is the working set of a single ledger operation. Nothing it does is
// visible to readers until the engine commits it.
type Tx struct {
	ctx    context.Context
	id     string
	op     string
	caller domain.Principal
	height uint64
	now    time.Time
	engine *Engine

	counters domain.Counters
	revenue  *domain.RevenueAccount
	supply   *domain.Supply

	listings      *table[uint64, domain.Listing]
	bids          *table[uint64, domain.Bid]
	accounts      *table[domain.Principal, domain.Account]
	verifiers     *table[domain.Principal, domain.Verifier]
	stats         *table[domain.Principal, domain.VerifierStats]
	records       *table[uint64, domain.VerificationRecord]
	disputes      *table[uint64, domain.Dispute]
	admins        *table[domain.Principal, bool]
	activeByToken *table[uint64, uint64]
	tokenRecords  *table[uint64, []uint64]

	transfers []tokenTransfer
	events    []domain.LedgerEvent
	detail    map[string]any
}

func newTx(ctx context.Context, e *Engine, id, op string, caller domain.Principal, height uint64) *Tx {
	st := e.st
	counters := st.counters
	counters.Height = height
	return &Tx{
		ctx:           ctx,
		id:            id,
		op:            op,
		caller:        caller,
		height:        height,
		now:           e.now(),
		engine:        e,
		counters:      counters,
		listings:      newTable(st.listings),
		bids:          newTable(st.bids),
		accounts:      newTable(st.accounts),
		verifiers:     newTable(st.verifiers),
		stats:         newTable(st.stats),
		records:       newTable(st.records),
		disputes:      newTable(st.disputes),
		admins:        newTable(st.admins),
		activeByToken: newTable(st.activeByToken),
		tokenRecords:  newTable(st.tokenRecords),
		detail:        make(map[string]any),
	}
}

// Height returns the ledger height the transaction executes at.
func (tx *Tx) Height() uint64 { return tx.height }

// Caller returns the principal that issued the operation.
func (tx *Tx) Caller() domain.Principal { return tx.caller }

func (tx *Tx) note(key string, v any) { tx.detail[key] = v }

func (tx *Tx) emit(typ domain.EventType, attrs map[string]string) {
	tx.events = append(tx.events, domain.LedgerEvent{
		Type:      typ,
		TxID:      tx.id,
		Height:    tx.height,
		Caller:    tx.caller,
		Attrs:     attrs,
		CreatedAt: tx.now,
	})
}

func (tx *Tx) currentRevenue() domain.RevenueAccount {
	if tx.revenue != nil {
		return *tx.revenue
	}
	return tx.engine.st.revenue
}

func (tx *Tx) setRevenue(r domain.RevenueAccount) { tx.revenue = &r }

func (tx *Tx) currentSupply() domain.Supply {
	if tx.supply != nil {
		return *tx.supply
	}
	return tx.engine.st.supply
}

func (tx *Tx) setSupply(s domain.Supply) { tx.supply = &s }

func (tx *Tx) isAdmin(p domain.Principal) bool {
	if p == tx.engine.owner {
		return true
	}
	ok, _ := tx.admins.get(p)
	return ok
}

func (tx *Tx) requireAdmin() error {
	if !tx.isAdmin(tx.caller) {
		return fmt.Errorf("caller %s is not an admin: %w", tx.caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// ownerOf queries the registry with a context that forbids re-entry.
func (tx *Tx) ownerOf(tokenID uint64) (domain.Principal, bool, error) {
	owner, ok, err := tx.engine.registry.OwnerOf(tx.ctx, tokenID)
	if err != nil {
		return domain.Principal{}, false, fmt.Errorf("owner of token %d: %w", tokenID, err)
	}
	return owner, ok, nil
}

// transfer queues a registry transfer that runs during commit.
func (tx *Tx) transfer(tokenID uint64, from, to domain.Principal) {
	tx.transfers = append(tx.transfers, tokenTransfer{tokenID: tokenID, from: from, to: to})
}

func (tx *Tx) nextListingID() uint64 {
	tx.counters.LastListingID++
	return tx.counters.LastListingID
}

func (tx *Tx) nextVerificationID() uint64 {
	tx.counters.LastVerificationID++
	return tx.counters.LastVerificationID
}

func (tx *Tx) account(p domain.Principal) domain.Account {
	a, ok := tx.accounts.get(p)
	if !ok {
		a.Principal = p
	}
	return a
}

// credit adds amount to p's available balance.
func (tx *Tx) credit(p domain.Principal, amount uint64) error {
	a := tx.account(p)
	v, err := addU64(a.Available, amount)
	if err != nil {
		return err
	}
	a.Available = v
	tx.accounts.put(p, a)
	return nil
}

// debit removes amount from p's available balance.
func (tx *Tx) debit(p domain.Principal, amount uint64) error {
	a := tx.account(p)
	v, err := subU64(a.Available, amount)
	if err != nil {
		return fmt.Errorf("insufficient balance for %s: %w", p.Hex(), err)
	}
	a.Available = v
	tx.accounts.put(p, a)
	return nil
}

// escrow moves amount from available to escrowed.
func (tx *Tx) escrow(p domain.Principal, amount uint64) error {
	a := tx.account(p)
	avail, err := subU64(a.Available, amount)
	if err != nil {
		return fmt.Errorf("insufficient balance for %s: %w", p.Hex(), err)
	}
	held, err := addU64(a.Escrowed, amount)
	if err != nil {
		return err
	}
	a.Available, a.Escrowed = avail, held
	tx.accounts.put(p, a)
	return nil
}

// release returns escrowed funds to available.
func (tx *Tx) release(p domain.Principal, amount uint64) error {
	a := tx.account(p)
	held, err := subU64(a.Escrowed, amount)
	if err != nil {
		return err
	}
	avail, err := addU64(a.Available, amount)
	if err != nil {
		return err
	}
	a.Available, a.Escrowed = avail, held
	tx.accounts.put(p, a)
	return nil
}

// spendEscrow consumes escrowed funds for a settled purchase.
func (tx *Tx) spendEscrow(p domain.Principal, amount uint64) error {
	a := tx.account(p)
	held, err := subU64(a.Escrowed, amount)
	if err != nil {
		return err
	}
	a.Escrowed = held
	tx.accounts.put(p, a)
	return nil
}

// collectFee adds a platform fee to the revenue account.
func (tx *Tx) collectFee(fee uint64) error {
	r := tx.currentRevenue()
	acc, err := addU64(r.Accumulated, fee)
	if err != nil {
		return err
	}
	total, err := addU64(r.TotalCollected, fee)
	if err != nil {
		return err
	}
	r.Accumulated, r.TotalCollected = acc, total
	tx.setRevenue(r)
	return nil
}

// settleSale splits price between seller and platform, crediting the seller.
func (tx *Tx) settleSale(seller domain.Principal, price uint64) (uint64, error) {
	fee := PlatformFee(price)
	if err := tx.credit(seller, price-fee); err != nil {
		return 0, err
	}
	if err := tx.collectFee(fee); err != nil {
		return 0, err
	}
	return fee, nil
}

// refundBid releases a standing bid back to its bidder and removes it.
func (tx *Tx) refundBid(b domain.Bid) error {
	if err := tx.release(b.Bidder, b.Amount); err != nil {
		return err
	}
	tx.bids.del(b.ListingID)
	tx.emit(domain.EventBidRefunded, map[string]string{
		"listing_id": u64(b.ListingID),
		"bidder":     b.Bidder.Hex(),
		"amount":     u64(b.Amount),
	})
	return nil
}

// closeListing deactivates l with the given outcome and drops the token index.
func (tx *Tx) closeListing(l domain.Listing, outcome domain.ListingOutcome) domain.Listing {
	h := tx.height
	l.Active = false
	l.Outcome = outcome
	l.ClosedAt = &h
	tx.listings.put(l.ID, l)
	if id, ok := tx.activeByToken.get(l.TokenID); ok && id == l.ID {
		tx.activeByToken.del(l.TokenID)
	}
	return l
}

func (tx *Tx) changeSet() domain.ChangeSet {
	cs := domain.ChangeSet{
		Counters: tx.counters,
		Revenue:  tx.revenue,
		Supply:   tx.supply,
		Journal: domain.JournalEntry{
			TxID:      tx.id,
			Op:        tx.op,
			Caller:    tx.caller,
			Height:    tx.height,
			Detail:    tx.detail,
			CreatedAt: tx.now,
		},
	}
	for _, l := range tx.listings.dirty {
		cs.Listings = append(cs.Listings, l)
	}
	for _, b := range tx.bids.dirty {
		cs.Bids = append(cs.Bids, b)
	}
	for id := range tx.bids.deleted {
		cs.DeletedBids = append(cs.DeletedBids, id)
	}
	for _, a := range tx.accounts.dirty {
		cs.Accounts = append(cs.Accounts, a)
	}
	for _, v := range tx.verifiers.dirty {
		cs.Verifiers = append(cs.Verifiers, v)
	}
	for p, s := range tx.stats.dirty {
		cs.Stats = append(cs.Stats, domain.VerifierStatsRow{Verifier: p, Stats: s})
	}
	for _, r := range tx.records.dirty {
		cs.Records = append(cs.Records, r)
	}
	for _, d := range tx.disputes.dirty {
		cs.Disputes = append(cs.Disputes, d)
	}
	for p := range tx.admins.dirty {
		cs.Admins = append(cs.Admins, p)
	}
	for p := range tx.admins.deleted {
		cs.RemovedAdmins = append(cs.RemovedAdmins, p)
	}
	return cs
}

// apply publishes the overlay into committed state.
func (tx *Tx) apply(st *state) {
	st.counters = tx.counters
	if tx.revenue != nil {
		st.revenue = *tx.revenue
	}
	if tx.supply != nil {
		st.supply = *tx.supply
	}
	tx.listings.commit()
	tx.bids.commit()
	tx.accounts.commit()
	tx.verifiers.commit()
	tx.stats.commit()
	tx.records.commit()
	tx.disputes.commit()
	tx.admins.commit()
	tx.activeByToken.commit()
	tx.tokenRecords.commit()
}

func u64(v uint64) string { return strconv.FormatUint(v, 10) }
