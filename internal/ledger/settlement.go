package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// CreditAccount deposits amount into p's available funds. Admin only.
func (e *Engine) CreditAccount(ctx context.Context, caller, p domain.Principal, amount uint64) error {
	return e.apply(ctx, "credit-account", caller, func(tx *Tx) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("credit must be positive: %w", domain.ErrInvalidAmount)
		}
		s := tx.currentSupply()
		dep, err := addU64(s.Deposited, amount)
		if err != nil {
			return err
		}
		if err := tx.credit(p, amount); err != nil {
			return err
		}
		s.Deposited = dep
		tx.setSupply(s)

		tx.note("principal", p.Hex())
		tx.note("amount", amount)
		tx.emit(domain.EventAccountCredited, map[string]string{
			"principal": p.Hex(),
			"amount":    u64(amount),
		})
		return nil
	})
}

// WithdrawBalance pays amount out of the caller's available funds.
func (e *Engine) WithdrawBalance(ctx context.Context, caller domain.Principal, amount uint64) error {
	return e.apply(ctx, "withdraw-balance", caller, func(tx *Tx) error {
		if amount == 0 {
			return fmt.Errorf("withdrawal must be positive: %w", domain.ErrInvalidAmount)
		}
		if err := tx.debit(caller, amount); err != nil {
			return err
		}
		s := tx.currentSupply()
		w, err := addU64(s.Withdrawn, amount)
		if err != nil {
			return err
		}
		s.Withdrawn = w
		tx.setSupply(s)

		tx.note("amount", amount)
		tx.emit(domain.EventAccountWithdrawn, map[string]string{
			"principal": caller.Hex(),
			"amount":    u64(amount),
		})
		return nil
	})
}

// WithdrawPlatformRevenue moves accumulated fees into the calling admin's
// available funds.
func (e *Engine) WithdrawPlatformRevenue(ctx context.Context, caller domain.Principal, amount uint64) error {
	return e.apply(ctx, "withdraw-platform-revenue", caller, func(tx *Tx) error {
		if err := tx.requireAdmin(); err != nil {
			return err
		}
		r := tx.currentRevenue()
		if amount == 0 || amount > r.Accumulated {
			return fmt.Errorf("withdraw %d of %d accumulated: %w", amount, r.Accumulated, domain.ErrInvalidAmount)
		}
		total, err := addU64(r.TotalWithdrawn, amount)
		if err != nil {
			return err
		}
		if err := tx.credit(caller, amount); err != nil {
			return err
		}
		r.Accumulated -= amount
		r.TotalWithdrawn = total
		tx.setRevenue(r)

		tx.note("amount", amount)
		tx.emit(domain.EventRevenueWithdrawn, map[string]string{
			"admin":  caller.Hex(),
			"amount": u64(amount),
		})
		return nil
	})
}

// GetPlatformRevenue returns the fees currently held by the platform.
func (e *Engine) GetPlatformRevenue(ctx context.Context) uint64 {
	return e.GetRevenue(ctx).Accumulated
}

// GetRevenue returns the full revenue account.
func (e *Engine) GetRevenue(ctx context.Context) domain.RevenueAccount {
	var r domain.RevenueAccount
	e.read(ctx, func(st *state) { r = st.revenue })
	return r
}

// GetAccount returns p's funds. Unknown principals have a zero account.
func (e *Engine) GetAccount(ctx context.Context, p domain.Principal) domain.Account {
	var a domain.Account
	e.read(ctx, func(st *state) {
		var ok bool
		if a, ok = st.accounts[p]; !ok {
			a = domain.Account{Principal: p}
		}
	})
	return a
}

// GetSupply returns the deposit and withdrawal totals.
func (e *Engine) GetSupply(ctx context.Context) domain.Supply {
	var s domain.Supply
	e.read(ctx, func(st *state) { s = st.supply })
	return s
}

// CheckConservation verifies that every unit of funds that entered the ledger
// is either held by an account, escrowed behind a bid, or held as revenue.
func (e *Engine) CheckConservation(ctx context.Context) error {
	var err error
	e.read(ctx, func(st *state) {
		var held, escrowed, bidTotal uint64
		for _, a := range st.accounts {
			held += a.Available
			escrowed += a.Escrowed
		}
		for _, b := range st.bids {
			bidTotal += b.Amount
		}
		if escrowed != bidTotal {
			err = fmt.Errorf("ledger: escrowed %d != standing bids %d", escrowed, bidTotal)
			return
		}
		in := st.supply.Deposited - st.supply.Withdrawn
		if got := held + escrowed + st.revenue.Accumulated; got != in {
			err = fmt.Errorf("ledger: funds %d != net supply %d", got, in)
		}
	})
	return err
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func sortListings(ls []domain.Listing) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].ID < ls[j].ID })
}
