package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// SettlementService is the part of the ledger the funds endpoints use.
type SettlementService interface {
	CreditAccount(ctx context.Context, caller, p domain.Principal, amount uint64) error
	WithdrawBalance(ctx context.Context, caller domain.Principal, amount uint64) error
	WithdrawPlatformRevenue(ctx context.Context, caller domain.Principal, amount uint64) error
	GetAccount(ctx context.Context, p domain.Principal) domain.Account
	GetRevenue(ctx context.Context) domain.RevenueAccount
	GetSupply(ctx context.Context) domain.Supply
}

// AccountHandler serves balances, deposits, withdrawals and platform revenue.
type AccountHandler struct {
	funds  SettlementService
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(funds SettlementService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{funds: funds, logger: logger}
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

// Get returns a principal's balances.
// GET /v1/accounts/{principal}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := pathPrincipal(w, r, "principal")
	if !ok {
		return
	}
	writeOK(w, h.funds.GetAccount(r.Context(), p))
}

// Credit records a deposit to a principal. Admin only.
// POST /v1/accounts/{principal}/credit
func (h *AccountHandler) Credit(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	p, ok := pathPrincipal(w, r, "principal")
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	if err := h.funds.CreditAccount(r.Context(), c, p, req.Amount); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeOK(w, h.funds.GetAccount(r.Context(), p))
}

// Withdraw debits the caller's available balance.
// POST /v1/accounts/withdraw
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	if err := h.funds.WithdrawBalance(r.Context(), c, req.Amount); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeOK(w, h.funds.GetAccount(r.Context(), c))
}

// Revenue returns the platform revenue account.
// GET /v1/revenue
func (h *AccountHandler) Revenue(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.funds.GetRevenue(r.Context()))
}

// WithdrawRevenue moves platform fees to the calling admin's balance.
// POST /v1/revenue/withdraw
func (h *AccountHandler) WithdrawRevenue(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	if err := h.funds.WithdrawPlatformRevenue(r.Context(), c, req.Amount); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeOK(w, h.funds.GetRevenue(r.Context()))
}

// Supply returns the deposit and withdrawal totals.
// GET /v1/supply
func (h *AccountHandler) Supply(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.funds.GetSupply(r.Context()))
}
