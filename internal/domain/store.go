package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Counters holds the monotonic id counters. Each value is the last id issued.
type Counters struct {
	LastListingID      uint64 `json:"last_listing_id"`
	LastVerificationID uint64 `json:"last_verification_id"`
	Height             uint64 `json:"height"` // highest ledger height observed by a commit
}

// Snapshot is the complete persisted ledger state.
type Snapshot struct {
	Counters  Counters             `json:"counters"`
	Listings  []Listing            `json:"listings"`
	Bids      []Bid                `json:"bids"`
	Accounts  []Account            `json:"accounts"`
	Revenue   RevenueAccount       `json:"revenue"`
	Supply    Supply               `json:"supply"`
	Verifiers []Verifier           `json:"verifiers"`
	Stats     []VerifierStatsRow   `json:"verifier_stats"`
	Records   []VerificationRecord `json:"verifications"`
	Disputes  []Dispute            `json:"disputes"`
	Admins    []Principal          `json:"admins"`
}

// VerifierStatsRow pairs stats with their verifier for persistence.
type VerifierStatsRow struct {
	Verifier Principal     `json:"verifier"`
	Stats    VerifierStats `json:"stats"`
}

// JournalEntry describes one committed ledger transaction.
type JournalEntry struct {
	TxID      string         `json:"tx_id"`
	Op        string         `json:"op"`
	Caller    Principal      `json:"caller"`
	Height    uint64         `json:"height"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ChangeSet carries the rows written by one transaction. Only changed rows
// are present.
type ChangeSet struct {
	Counters      Counters
	Listings      []Listing
	Bids          []Bid
	DeletedBids   []uint64
	Accounts      []Account
	Revenue       *RevenueAccount
	Supply        *Supply
	Verifiers     []Verifier
	Stats         []VerifierStatsRow
	Records       []VerificationRecord
	Disputes      []Dispute
	Admins        []Principal
	RemovedAdmins []Principal
	Journal       JournalEntry
}

// LedgerStore persists ledger state. Load is called once at startup; every
// committed transaction is written through a Batch.
type LedgerStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Begin(ctx context.Context) (LedgerBatch, error)
}

// LedgerBatch is a single all-or-nothing write.
type LedgerBatch interface {
	Apply(ctx context.Context, cs ChangeSet) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// JournalStore exposes the append-only transaction journal.
type JournalStore interface {
	List(ctx context.Context, opts ListOpts) ([]JournalEntry, error)
}
