package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore and domain.JournalStore on
// PostgreSQL. Every committed ledger transaction is written in one database
// transaction.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Begin implements domain.LedgerStore.
func (s *LedgerStore) Begin(ctx context.Context) (domain.LedgerBatch, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin ledger tx: %w", err)
	}
	return &ledgerBatch{tx: tx}, nil
}

type ledgerBatch struct {
	tx pgx.Tx
}

const (
	upsertCounters = `
		UPDATE ledger_counters SET
			last_listing_id = $1::numeric, last_verification_id = $2::numeric, height = $3::numeric,
			updated_at = NOW()
		WHERE id = 1`
	upsertRevenue = `
		UPDATE ledger_counters SET
			revenue_accumulated = $1::numeric, revenue_total_collected = $2::numeric,
			revenue_total_withdrawn = $3::numeric
		WHERE id = 1`
	upsertSupply = `
		UPDATE ledger_counters SET supply_deposited = $1::numeric, supply_withdrawn = $2::numeric
		WHERE id = 1`
	upsertListing = `
		INSERT INTO listings (
			id, seller, token_id, price, listing_type, end_time, active,
			created_at, outcome, buyer, sale_price, closed_at
		) VALUES (
			$1::numeric, $2, $3::numeric, $4::numeric, $5, $6::numeric, $7,
			$8::numeric, $9, $10, $11::numeric, $12::numeric
		) ON CONFLICT (id) DO UPDATE SET
			active = EXCLUDED.active,
			outcome = EXCLUDED.outcome,
			buyer = EXCLUDED.buyer,
			sale_price = EXCLUDED.sale_price,
			closed_at = EXCLUDED.closed_at`
	upsertBid = `
		INSERT INTO bids (listing_id, bidder, amount, placed_at)
		VALUES ($1::numeric, $2, $3::numeric, $4::numeric)
		ON CONFLICT (listing_id) DO UPDATE SET
			bidder = EXCLUDED.bidder, amount = EXCLUDED.amount, placed_at = EXCLUDED.placed_at`
	deleteBid     = `DELETE FROM bids WHERE listing_id = $1::numeric`
	upsertAccount = `
		INSERT INTO accounts (principal, available, escrowed)
		VALUES ($1, $2::numeric, $3::numeric)
		ON CONFLICT (principal) DO UPDATE SET
			available = EXCLUDED.available, escrowed = EXCLUDED.escrowed`
	upsertVerifier = `
		INSERT INTO verifiers (principal, name, certification_body, authorized_date, active)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (principal) DO UPDATE SET
			name = EXCLUDED.name,
			certification_body = EXCLUDED.certification_body,
			authorized_date = EXCLUDED.authorized_date,
			active = EXCLUDED.active`
	upsertStats = `
		INSERT INTO verifier_stats (verifier, total_verifications, verified_count, rejected_count, reputation_score)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5::numeric)
		ON CONFLICT (verifier) DO UPDATE SET
			total_verifications = EXCLUDED.total_verifications,
			verified_count = EXCLUDED.verified_count,
			rejected_count = EXCLUDED.rejected_count,
			reputation_score = EXCLUDED.reputation_score`
	upsertRecord = `
		INSERT INTO verifications (
			id, token_id, verifier, verification_date, status, notes, evidence_hash, expiry_date
		) VALUES ($1::numeric, $2::numeric, $3, $4::numeric, $5, $6, $7, $8::numeric)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, notes = EXCLUDED.notes`
	upsertDispute = `
		INSERT INTO disputes (
			record_id, disputer, reason, dispute_date, resolved, resolution, resolved_at, final_status
		) VALUES ($1::numeric, $2, $3, $4::numeric, $5, $6, $7::numeric, $8)
		ON CONFLICT (record_id) DO UPDATE SET
			disputer = EXCLUDED.disputer,
			reason = EXCLUDED.reason,
			dispute_date = EXCLUDED.dispute_date,
			resolved = EXCLUDED.resolved,
			resolution = EXCLUDED.resolution,
			resolved_at = EXCLUDED.resolved_at,
			final_status = EXCLUDED.final_status`
	insertAdmin   = `INSERT INTO admins (principal) VALUES ($1) ON CONFLICT (principal) DO NOTHING`
	deleteAdmin   = `DELETE FROM admins WHERE principal = $1`
	insertJournal = `
		INSERT INTO ledger_journal (tx_id, op, caller, height, detail, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)`
)

// Apply queues every row of cs into a single pgx batch on the open tx.
func (b *ledgerBatch) Apply(ctx context.Context, cs domain.ChangeSet) error {
	batch := &pgx.Batch{}

	c := cs.Counters
	batch.Queue(upsertCounters, num(c.LastListingID), num(c.LastVerificationID), num(c.Height))
	if r := cs.Revenue; r != nil {
		batch.Queue(upsertRevenue, num(r.Accumulated), num(r.TotalCollected), num(r.TotalWithdrawn))
	}
	if s := cs.Supply; s != nil {
		batch.Queue(upsertSupply, num(s.Deposited), num(s.Withdrawn))
	}
	for _, l := range cs.Listings {
		batch.Queue(upsertListing,
			num(l.ID), l.Seller.Hex(), num(l.TokenID), num(l.Price), string(l.Kind),
			numPtr(l.EndTime), l.Active, num(l.CreatedAt), string(l.Outcome),
			addrPtr(l.Buyer), num(l.SalePrice), numPtr(l.ClosedAt),
		)
	}
	for _, bid := range cs.Bids {
		batch.Queue(upsertBid, num(bid.ListingID), bid.Bidder.Hex(), num(bid.Amount), num(bid.PlacedAt))
	}
	for _, id := range cs.DeletedBids {
		batch.Queue(deleteBid, num(id))
	}
	for _, a := range cs.Accounts {
		batch.Queue(upsertAccount, a.Principal.Hex(), num(a.Available), num(a.Escrowed))
	}
	for _, v := range cs.Verifiers {
		batch.Queue(upsertVerifier, v.Principal.Hex(), v.Name, v.CertificationBody, num(v.AuthorizedDate), v.Active)
	}
	for _, row := range cs.Stats {
		s := row.Stats
		batch.Queue(upsertStats, row.Verifier.Hex(),
			num(s.TotalVerifications), num(s.VerifiedCount), num(s.RejectedCount), num(s.ReputationScore))
	}
	for _, r := range cs.Records {
		batch.Queue(upsertRecord,
			num(r.ID), num(r.TokenID), r.Verifier.Hex(), num(r.VerificationDate),
			string(r.Status), r.Notes, r.EvidenceHash, numPtr(r.ExpiryDate),
		)
	}
	for _, d := range cs.Disputes {
		batch.Queue(upsertDispute,
			num(d.RecordID), d.Disputer.Hex(), d.Reason, num(d.DisputeDate),
			d.Resolved, d.Resolution, numPtr(d.ResolvedAt), string(d.FinalStatus),
		)
	}
	for _, p := range cs.Admins {
		batch.Queue(insertAdmin, p.Hex())
	}
	for _, p := range cs.RemovedAdmins {
		batch.Queue(deleteAdmin, p.Hex())
	}

	j := cs.Journal
	detail, err := json.Marshal(j.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal journal detail: %w", err)
	}
	batch.Queue(insertJournal, j.TxID, j.Op, j.Caller.Hex(), num(j.Height), detail, j.CreatedAt)

	br := b.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: apply %s statement %d: %w", j.Op, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close %s batch: %w", j.Op, err)
	}
	return nil
}

func (b *ledgerBatch) Commit(ctx context.Context) error {
	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger tx: %w", err)
	}
	return nil
}

func (b *ledgerBatch) Rollback(ctx context.Context) error {
	if err := b.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback ledger tx: %w", err)
	}
	return nil
}

// Load implements domain.LedgerStore.
func (s *LedgerStore) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	loaders := []struct {
		name string
		fn   func(context.Context, *domain.Snapshot) error
	}{
		{"counters", s.loadCounters},
		{"listings", s.loadListings},
		{"bids", s.loadBids},
		{"accounts", s.loadAccounts},
		{"verifiers", s.loadVerifiers},
		{"verifier_stats", s.loadStats},
		{"verifications", s.loadRecords},
		{"disputes", s.loadDisputes},
		{"admins", s.loadAdmins},
	}
	for _, l := range loaders {
		if err := l.fn(ctx, &snap); err != nil {
			return domain.Snapshot{}, fmt.Errorf("postgres: load %s: %w", l.name, err)
		}
	}
	return snap, nil
}

func (s *LedgerStore) loadCounters(ctx context.Context, snap *domain.Snapshot) error {
	const query = `
		SELECT last_listing_id::text, last_verification_id::text, height::text,
			revenue_accumulated::text, revenue_total_collected::text, revenue_total_withdrawn::text,
			supply_deposited::text, supply_withdrawn::text
		FROM ledger_counters WHERE id = 1`
	var raw [8]string
	err := s.pool.QueryRow(ctx, query).
		Scan(&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5], &raw[6], &raw[7])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	vals, err := parseNums(raw[:]...)
	if err != nil {
		return err
	}
	snap.Counters = domain.Counters{LastListingID: vals[0], LastVerificationID: vals[1], Height: vals[2]}
	snap.Revenue = domain.RevenueAccount{Accumulated: vals[3], TotalCollected: vals[4], TotalWithdrawn: vals[5]}
	snap.Supply = domain.Supply{Deposited: vals[6], Withdrawn: vals[7]}
	return nil
}

func (s *LedgerStore) loadListings(ctx context.Context, snap *domain.Snapshot) error {
	const query = `
		SELECT id::text, seller, token_id::text, price::text, listing_type, end_time::text,
			active, created_at::text, outcome, buyer, sale_price::text, closed_at::text
		FROM listings ORDER BY id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l                            domain.Listing
			id, token, price, created    string
			salePrice, seller, kind, out string
			end, closed, buyer           *string
		)
		if err := rows.Scan(&id, &seller, &token, &price, &kind, &end,
			&l.Active, &created, &out, &buyer, &salePrice, &closed); err != nil {
			return err
		}
		vals, err := parseNums(id, token, price, created, salePrice)
		if err != nil {
			return err
		}
		l.ID, l.TokenID, l.Price, l.CreatedAt, l.SalePrice = vals[0], vals[1], vals[2], vals[3], vals[4]
		l.Seller = common.HexToAddress(seller)
		l.Kind = domain.ListingKind(kind)
		l.Outcome = domain.ListingOutcome(out)
		if l.EndTime, err = parseNumPtr(end); err != nil {
			return err
		}
		if l.ClosedAt, err = parseNumPtr(closed); err != nil {
			return err
		}
		if buyer != nil {
			p := common.HexToAddress(*buyer)
			l.Buyer = &p
		}
		snap.Listings = append(snap.Listings, l)
	}
	return rows.Err()
}

func (s *LedgerStore) loadBids(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := s.pool.Query(ctx,
		`SELECT listing_id::text, bidder, amount::text, placed_at::text FROM bids ORDER BY listing_id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, bidder, amount, placed string
		if err := rows.Scan(&id, &bidder, &amount, &placed); err != nil {
			return err
		}
		vals, err := parseNums(id, amount, placed)
		if err != nil {
			return err
		}
		snap.Bids = append(snap.Bids, domain.Bid{
			ListingID: vals[0],
			Bidder:    common.HexToAddress(bidder),
			Amount:    vals[1],
			PlacedAt:  vals[2],
		})
	}
	return rows.Err()
}

func (s *LedgerStore) loadAccounts(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := s.pool.Query(ctx,
		`SELECT principal, available::text, escrowed::text FROM accounts ORDER BY principal`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p, avail, held string
		if err := rows.Scan(&p, &avail, &held); err != nil {
			return err
		}
		vals, err := parseNums(avail, held)
		if err != nil {
			return err
		}
		snap.Accounts = append(snap.Accounts, domain.Account{
			Principal: common.HexToAddress(p),
			Available: vals[0],
			Escrowed:  vals[1],
		})
	}
	return rows.Err()
}

func (s *LedgerStore) loadVerifiers(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := s.pool.Query(ctx,
		`SELECT principal, name, certification_body, authorized_date::text, active FROM verifiers ORDER BY principal`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v       domain.Verifier
			p, date string
		)
		if err := rows.Scan(&p, &v.Name, &v.CertificationBody, &date, &v.Active); err != nil {
			return err
		}
		if v.AuthorizedDate, err = strconv.ParseUint(date, 10, 64); err != nil {
			return err
		}
		v.Principal = common.HexToAddress(p)
		snap.Verifiers = append(snap.Verifiers, v)
	}
	return rows.Err()
}

func (s *LedgerStore) loadStats(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := s.pool.Query(ctx, `
		SELECT verifier, total_verifications::text, verified_count::text,
			rejected_count::text, reputation_score::text
		FROM verifier_stats ORDER BY verifier`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p, total, verified, rejected, score string
		if err := rows.Scan(&p, &total, &verified, &rejected, &score); err != nil {
			return err
		}
		vals, err := parseNums(total, verified, rejected, score)
		if err != nil {
			return err
		}
		snap.Stats = append(snap.Stats, domain.VerifierStatsRow{
			Verifier: common.HexToAddress(p),
			Stats: domain.VerifierStats{
				TotalVerifications: vals[0],
				VerifiedCount:      vals[1],
				RejectedCount:      vals[2],
				ReputationScore:    vals[3],
			},
		})
	}
	return rows.Err()
}

func (s *LedgerStore) loadRecords(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, token_id::text, verifier, verification_date::text, status,
			notes, evidence_hash, expiry_date::text
		FROM verifications ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                        domain.VerificationRecord
			id, token, ver, date, st string
			expiry                   *string
		)
		if err := rows.Scan(&id, &token, &ver, &date, &st, &r.Notes, &r.EvidenceHash, &expiry); err != nil {
			return err
		}
		vals, err := parseNums(id, token, date)
		if err != nil {
			return err
		}
		r.ID, r.TokenID, r.VerificationDate = vals[0], vals[1], vals[2]
		r.Verifier = common.HexToAddress(ver)
		r.Status = domain.VerificationStatus(st)
		if r.ExpiryDate, err = parseNumPtr(expiry); err != nil {
			return err
		}
		snap.Records = append(snap.Records, r)
	}
	return rows.Err()
}

func (s *LedgerStore) loadDisputes(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := s.pool.Query(ctx, `
		SELECT record_id::text, disputer, reason, dispute_date::text, resolved,
			resolution, resolved_at::text, final_status
		FROM disputes ORDER BY record_id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			d                         domain.Dispute
			id, disputer, date, final string
			resolvedAt                *string
		)
		if err := rows.Scan(&id, &disputer, &d.Reason, &date, &d.Resolved,
			&d.Resolution, &resolvedAt, &final); err != nil {
			return err
		}
		vals, err := parseNums(id, date)
		if err != nil {
			return err
		}
		d.RecordID, d.DisputeDate = vals[0], vals[1]
		d.Disputer = common.HexToAddress(disputer)
		d.FinalStatus = domain.VerificationStatus(final)
		if d.ResolvedAt, err = parseNumPtr(resolvedAt); err != nil {
			return err
		}
		snap.Disputes = append(snap.Disputes, d)
	}
	return rows.Err()
}

func (s *LedgerStore) loadAdmins(ctx context.Context, snap *domain.Snapshot) error {
	rows, err := s.pool.Query(ctx, `SELECT principal FROM admins ORDER BY principal`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return err
		}
		snap.Admins = append(snap.Admins, common.HexToAddress(p))
	}
	return rows.Err()
}

func num(v uint64) string { return strconv.FormatUint(v, 10) }

func numPtr(v *uint64) *string {
	if v == nil {
		return nil
	}
	s := num(*v)
	return &s
}

func addrPtr(p *domain.Principal) *string {
	if p == nil {
		return nil
	}
	s := p.Hex()
	return &s
}

func parseNums(raw ...string) ([]uint64, error) {
	out := make([]uint64, len(raw))
	for i, s := range raw {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse numeric %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseNumPtr(s *string) (*uint64, error) {
	if s == nil {
		return nil, nil
	}
	v, err := strconv.ParseUint(*s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", *s, err)
	}
	return &v, nil
}
