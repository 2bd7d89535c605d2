package ledger

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// DisputeVerification contests a record and marks it disputed. Any principal
// may dispute. A record holds at most one open dispute; once resolved it may
// be disputed again and the new dispute replaces the old one.
func (e *Engine) DisputeVerification(ctx context.Context, caller domain.Principal, recordID uint64, reason string) error {
	return e.apply(ctx, "dispute-verification", caller, func(tx *Tx) error {
		r, ok := tx.records.get(recordID)
		if !ok {
			return fmt.Errorf("verification %d: %w", recordID, domain.ErrNotFound)
		}
		if d, ok := tx.disputes.get(recordID); ok && !d.Resolved {
			return fmt.Errorf("verification %d already disputed: %w", recordID, domain.ErrInvalidStatus)
		}
		tx.disputes.put(recordID, domain.Dispute{
			RecordID:    recordID,
			Disputer:    caller,
			Reason:      reason,
			DisputeDate: tx.height,
		})
		r.Status = domain.StatusDisputed
		tx.records.put(recordID, r)

		tx.note("record_id", recordID)
		tx.emit(domain.EventDisputeOpened, map[string]string{
			"record_id": u64(recordID),
			"token_id":  u64(r.TokenID),
			"disputer":  caller.Hex(),
			"reason":    reason,
		})
		return nil
	})
}

// ResolveDispute closes an open dispute and sets the record's final status.
// Admin only.
func (e *Engine) ResolveDispute(ctx context.Context, caller domain.Principal, recordID uint64, resolution string, final domain.VerificationStatus) error {
	return e.apply(ctx, "resolve-dispute", caller, func(tx *Tx) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		d, ok := tx.disputes.get(recordID)
		if !ok {
			return fmt.Errorf("dispute on verification %d: %w", recordID, domain.ErrNotFound)
		}
		if d.Resolved {
			return fmt.Errorf("dispute on verification %d already resolved: %w", recordID, domain.ErrInvalidStatus)
		}
		if !final.Submittable() {
			return fmt.Errorf("final status %q: %w", final, domain.ErrInvalidStatus)
		}
		r, ok := tx.records.get(recordID)
		if !ok {
			return fmt.Errorf("verification %d: %w", recordID, domain.ErrNotFound)
		}

		h := tx.height
		d.Resolved = true
		d.Resolution = &resolution
		d.ResolvedAt = &h
		d.FinalStatus = final
		tx.disputes.put(recordID, d)
		r.Status = final
		tx.records.put(recordID, r)

		tx.note("record_id", recordID)
		tx.note("final_status", string(final))
		tx.emit(domain.EventDisputeResolved, map[string]string{
			"record_id":    u64(recordID),
			"token_id":     u64(r.TokenID),
			"disputer":     d.Disputer.Hex(),
			"final_status": string(final),
			"resolution":   resolution,
		})
		return nil
	})
}

// GetVerificationDispute returns the dispute filed against a record.
func (e *Engine) GetVerificationDispute(ctx context.Context, recordID uint64) (domain.Dispute, bool) {
	var (
		d  domain.Dispute
		ok bool
	)
	e.read(ctx, func(st *state) { d, ok = st.disputes[recordID] })
	return d, ok
}

// OpenDisputes returns unresolved disputes ordered by record id.
func (e *Engine) OpenDisputes(ctx context.Context) []domain.Dispute {
	var out []domain.Dispute
	e.read(ctx, func(st *state) {
		for id := uint64(1); id <= st.counters.LastVerificationID; id++ {
			if d, ok := st.disputes[id]; ok && !d.Resolved {
				out = append(out, d)
			}
		}
	})
	return out
}
