package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// AddVerifier authorizes p to submit verifications. Re-adding a known
// verifier reactivates it and keeps its stats.
func (e *Engine) AddVerifier(ctx context.Context, caller, p domain.Principal, name, certificationBody string) error {
	return e.apply(ctx, "add-verifier", caller, func(tx *Tx) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		tx.verifiers.put(p, domain.Verifier{
			Principal:         p,
			Name:              name,
			CertificationBody: certificationBody,
			AuthorizedDate:    tx.height,
			Active:            true,
		})
		if _, ok := tx.stats.get(p); !ok {
			tx.stats.put(p, domain.VerifierStats{ReputationScore: domain.MaxReputation})
		}

		tx.note("verifier", p.Hex())
		tx.emit(domain.EventVerifierAdded, map[string]string{
			"verifier":           p.Hex(),
			"name":               name,
			"certification_body": certificationBody,
		})
		return nil
	})
}

// DeactivateVerifier revokes p's authorization. Its records and stats remain.
func (e *Engine) DeactivateVerifier(ctx context.Context, caller, p domain.Principal) error {
	return e.apply(ctx, "deactivate-verifier", caller, func(tx *Tx) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		v, ok := tx.verifiers.get(p)
		if !ok {
			return fmt.Errorf("verifier %s: %w", p.Hex(), domain.ErrNotFound)
		}
		v.Active = false
		tx.verifiers.put(p, v)

		tx.note("verifier", p.Hex())
		tx.emit(domain.EventVerifierDeactivated, map[string]string{"verifier": p.Hex()})
		return nil
	})
}

// UpdateVerifierReputation sets p's reputation score, at most MaxReputation.
func (e *Engine) UpdateVerifierReputation(ctx context.Context, caller, p domain.Principal, score uint64) error {
	return e.apply(ctx, "update-verifier-reputation", caller, func(tx *Tx) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		if score > domain.MaxReputation {
			return fmt.Errorf("reputation %d exceeds %d: %w", score, domain.MaxReputation, domain.ErrInvalidStatus)
		}
		s, ok := tx.stats.get(p)
		if !ok {
			return fmt.Errorf("verifier %s: %w", p.Hex(), domain.ErrNotFound)
		}
		s.ReputationScore = score
		tx.stats.put(p, s)

		tx.note("verifier", p.Hex())
		tx.note("score", score)
		tx.emit(domain.EventReputationUpdated, map[string]string{
			"verifier": p.Hex(),
			"score":    u64(score),
		})
		return nil
	})
}

// IsAuthorizedVerifier reports whether p is a registered, active verifier.
func (e *Engine) IsAuthorizedVerifier(ctx context.Context, p domain.Principal) bool {
	v, ok := e.GetVerifierInfo(ctx, p)
	return ok && v.Active
}

// GetVerifierInfo returns p's registration.
func (e *Engine) GetVerifierInfo(ctx context.Context, p domain.Principal) (domain.Verifier, bool) {
	var (
		v  domain.Verifier
		ok bool
	)
	e.read(ctx, func(st *state) { v, ok = st.verifiers[p] })
	return v, ok
}

// GetVerifierStats returns p's submission tallies and reputation.
func (e *Engine) GetVerifierStats(ctx context.Context, p domain.Principal) (domain.VerifierStats, bool) {
	var (
		s  domain.VerifierStats
		ok bool
	)
	e.read(ctx, func(st *state) { s, ok = st.stats[p] })
	return s, ok
}

// Verifiers lists every registered verifier ordered by address.
func (e *Engine) Verifiers(ctx context.Context) []domain.Verifier {
	var out []domain.Verifier
	e.read(ctx, func(st *state) {
		for _, v := range st.verifiers {
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Principal.Cmp(out[j].Principal) < 0 })
	return out
}

func (tx *Tx) requireActiveVerifier(p domain.Principal) error {
	v, ok := tx.verifiers.get(p)
	if !ok || !v.Active {
		return fmt.Errorf("%s: %w", p.Hex(), domain.ErrInvalidVerifier)
	}
	return nil
}

// tally counts a new submission against the verifier's stats.
func (tx *Tx) tally(p domain.Principal, status domain.VerificationStatus) {
	s, ok := tx.stats.get(p)
	if !ok {
		s.ReputationScore = domain.MaxReputation
	}
	s.TotalVerifications++
	switch status {
	case domain.StatusVerified:
		s.VerifiedCount++
	case domain.StatusRejected:
		s.RejectedCount++
	}
	tx.stats.put(p, s)
}
