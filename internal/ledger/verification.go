package ledger

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// MaxBulkVerify caps the number of tokens one bulk verification may cover.
const MaxBulkVerify = 100

// BulkVerificationNotes is recorded on records created by BulkVerifyTokens.
const BulkVerificationNotes = "Bulk verification"

// Submission is the verifier-supplied content of a verification record.
type Submission struct {
	TokenID      uint64
	Status       domain.VerificationStatus
	Notes        string
	EvidenceHash string
	ExpiryDate   *uint64
}

// SubmitVerification records an attestation by the calling verifier and
// returns the new record id.
func (e *Engine) SubmitVerification(ctx context.Context, caller domain.Principal, sub Submission) (uint64, error) {
	var id uint64
	err := e.apply(ctx, "submit-verification", caller, func(tx *Tx) error {
		if err := tx.requireActiveVerifier(caller); err != nil {
			return err
		}
		if !sub.Status.Submittable() {
			return fmt.Errorf("status %q: %w", sub.Status, domain.ErrInvalidStatus)
		}
		id = tx.recordVerification(caller, sub)
		return nil
	})
	return id, err
}

// UpdateVerificationStatus lets the authoring verifier revise a record. It is
// refused while the record has an open dispute.
func (e *Engine) UpdateVerificationStatus(ctx context.Context, caller domain.Principal, recordID uint64, status domain.VerificationStatus, notes string) error {
	return e.apply(ctx, "update-verification-status", caller, func(tx *Tx) error {
		r, ok := tx.records.get(recordID)
		if !ok {
			return fmt.Errorf("verification %d: %w", recordID, domain.ErrNotFound)
		}
		if r.Verifier != caller {
			return fmt.Errorf("verification %d belongs to %s: %w", recordID, r.Verifier.Hex(), domain.ErrUnauthorized)
		}
		if !status.Submittable() {
			return fmt.Errorf("status %q: %w", status, domain.ErrInvalidStatus)
		}
		if d, ok := tx.disputes.get(recordID); ok && !d.Resolved {
			return fmt.Errorf("verification %d has an open dispute: %w", recordID, domain.ErrInvalidStatus)
		}
		r.Status = status
		r.Notes = notes
		tx.records.put(recordID, r)

		tx.note("record_id", recordID)
		tx.note("status", string(status))
		tx.emit(domain.EventVerificationUpdated, map[string]string{
			"record_id": u64(recordID),
			"token_id":  u64(r.TokenID),
			"status":    string(status),
		})
		return nil
	})
}

// BulkVerifyTokens records a verified attestation for each token on behalf of
// an active verifier. Admin only. The returned ids follow the input order.
func (e *Engine) BulkVerifyTokens(ctx context.Context, caller domain.Principal, tokenIDs []uint64, verifier domain.Principal) ([]uint64, error) {
	var ids []uint64
	err := e.apply(ctx, "bulk-verify-tokens", caller, func(tx *Tx) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		if len(tokenIDs) > MaxBulkVerify {
			return fmt.Errorf("%d tokens exceeds bulk limit %d: %w", len(tokenIDs), MaxBulkVerify, domain.ErrInvalidAmount)
		}
		if err := tx.requireActiveVerifier(verifier); err != nil {
			return err
		}
		ids = make([]uint64, 0, len(tokenIDs))
		for _, tokenID := range tokenIDs {
			ids = append(ids, tx.recordVerification(verifier, Submission{
				TokenID: tokenID,
				Status:  domain.StatusVerified,
				Notes:   BulkVerificationNotes,
			}))
		}
		tx.note("count", len(ids))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetVerification returns a record by id.
func (e *Engine) GetVerification(ctx context.Context, recordID uint64) (domain.VerificationRecord, bool) {
	var (
		r  domain.VerificationRecord
		ok bool
	)
	e.read(ctx, func(st *state) { r, ok = st.records[recordID] })
	return r, ok
}

// GetTokenVerification returns the most recent record for a token.
func (e *Engine) GetTokenVerification(ctx context.Context, tokenID uint64) (domain.VerificationRecord, bool) {
	var (
		r  domain.VerificationRecord
		ok bool
	)
	e.read(ctx, func(st *state) {
		ids := st.tokenRecords[tokenID]
		if len(ids) == 0 {
			return
		}
		r, ok = st.records[ids[len(ids)-1]]
	})
	return r, ok
}

// GetTokenVerificationHistory returns every record for a token, oldest first.
func (e *Engine) GetTokenVerificationHistory(ctx context.Context, tokenID uint64) []domain.VerificationRecord {
	var out []domain.VerificationRecord
	e.read(ctx, func(st *state) {
		for _, id := range st.tokenRecords[tokenID] {
			out = append(out, st.records[id])
		}
	})
	return out
}

// IsTokenVerified reports whether the latest record for a token is verified.
func (e *Engine) IsTokenVerified(ctx context.Context, tokenID uint64) bool {
	r, ok := e.GetTokenVerification(ctx, tokenID)
	return ok && r.Status == domain.StatusVerified
}

// GetVerificationCount returns the last issued verification id.
func (e *Engine) GetVerificationCount(ctx context.Context) uint64 {
	var n uint64
	e.read(ctx, func(st *state) { n = st.counters.LastVerificationID })
	return n
}

func (tx *Tx) recordVerification(verifier domain.Principal, sub Submission) uint64 {
	r := domain.VerificationRecord{
		ID:               tx.nextVerificationID(),
		TokenID:          sub.TokenID,
		Verifier:         verifier,
		VerificationDate: tx.height,
		Status:           sub.Status,
		Notes:            sub.Notes,
		EvidenceHash:     sub.EvidenceHash,
		ExpiryDate:       sub.ExpiryDate,
	}
	tx.records.put(r.ID, r)

	history, _ := tx.tokenRecords.get(sub.TokenID)
	next := make([]uint64, len(history), len(history)+1)
	copy(next, history)
	tx.tokenRecords.put(sub.TokenID, append(next, r.ID))

	tx.tally(verifier, sub.Status)
	tx.emit(domain.EventVerificationRecorded, map[string]string{
		"record_id": u64(r.ID),
		"token_id":  u64(r.TokenID),
		"verifier":  verifier.Hex(),
		"status":    string(r.Status),
	})
	return r.ID
}
