package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// GrantAdmin adds p to the admin set. Owner only.
func (e *Engine) GrantAdmin(ctx context.Context, caller, p domain.Principal) error {
	return e.apply(ctx, "grant-admin", caller, func(tx *Tx) error {
		if caller != e.owner {
			return fmt.Errorf("only the owner grants admin: %w", domain.ErrUnauthorized)
		}
		if p == e.owner || tx.isAdmin(p) {
			return fmt.Errorf("%s is already an admin: %w", p.Hex(), domain.ErrAlreadyExists)
		}
		tx.admins.put(p, true)
		tx.note("admin", p.Hex())
		tx.emit(domain.EventAdminGranted, map[string]string{"admin": p.Hex()})
		return nil
	})
}

// RevokeAdmin removes p from the admin set. The owner cannot be revoked.
func (e *Engine) RevokeAdmin(ctx context.Context, caller, p domain.Principal) error {
	return e.apply(ctx, "revoke-admin", caller, func(tx *Tx) error {
		if caller != e.owner {
			return fmt.Errorf("only the owner revokes admin: %w", domain.ErrUnauthorized)
		}
		if p == e.owner {
			return fmt.Errorf("owner role cannot be revoked: %w", domain.ErrUnauthorized)
		}
		if _, ok := tx.admins.get(p); !ok {
			return fmt.Errorf("admin %s: %w", p.Hex(), domain.ErrNotFound)
		}
		tx.admins.del(p)
		tx.note("admin", p.Hex())
		tx.emit(domain.EventAdminRevoked, map[string]string{"admin": p.Hex()})
		return nil
	})
}

// IsAdmin reports whether p holds the admin role. The owner always does.
func (e *Engine) IsAdmin(ctx context.Context, p domain.Principal) bool {
	if p == e.owner {
		return true
	}
	var ok bool
	e.read(ctx, func(st *state) { ok = st.admins[p] })
	return ok
}

// Admins lists the owner followed by granted admins.
func (e *Engine) Admins(ctx context.Context) []domain.Principal {
	var granted []domain.Principal
	e.read(ctx, func(st *state) {
		for p := range st.admins {
			granted = append(granted, p)
		}
	})
	sort.Slice(granted, func(i, j int) bool { return granted[i].Cmp(granted[j]) < 0 })
	return append([]domain.Principal{e.owner}, granted...)
}
