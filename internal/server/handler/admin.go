package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// AdminService is the part of the ledger the role endpoints use.
type AdminService interface {
	GrantAdmin(ctx context.Context, caller, p domain.Principal) error
	RevokeAdmin(ctx context.Context, caller, p domain.Principal) error
	IsAdmin(ctx context.Context, p domain.Principal) bool
	Admins(ctx context.Context) []domain.Principal
	Owner() domain.Principal
}

// Minter mints certificate tokens in a development registry.
type Minter interface {
	Mint(caller domain.Principal, tokenID uint64, owner domain.Principal) error
	TokensOf(owner domain.Principal) []uint64
}

// AdminHandler serves roles, the transaction journal and, with a development
// registry, token minting.
type AdminHandler struct {
	admins  AdminService
	journal domain.JournalStore
	minter  Minter
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler. journal and minter may be nil.
func NewAdminHandler(admins AdminService, journal domain.JournalStore, minter Minter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admins: admins, journal: journal, minter: minter, logger: logger}
}

type grantRequest struct {
	Principal string `json:"principal" validate:"required,eth_addr"`
}

type mintRequest struct {
	TokenID uint64 `json:"token_id"`
	Owner   string `json:"owner" validate:"required,eth_addr"`
}

type adminsResponse struct {
	Owner  domain.Principal   `json:"owner"`
	Admins []domain.Principal `json:"admins"`
}

// List returns the owner and granted admins.
// GET /v1/admins
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	admins := h.admins.Admins(r.Context())
	if admins == nil {
		admins = []domain.Principal{}
	}
	writeOK(w, adminsResponse{Owner: h.admins.Owner(), Admins: admins})
}

// Grant makes a principal an admin. Owner only.
// POST /v1/admins
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	if err := h.admins.GrantAdmin(r.Context(), c, mustPrincipal(req.Principal)); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeCreated(w, true)
}

// Revoke removes an admin. Owner only.
// DELETE /v1/admins/{principal}
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	p, ok := pathPrincipal(w, r, "principal")
	if !ok {
		return
	}
	if err := h.admins.RevokeAdmin(r.Context(), c, p); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeOK(w, true)
}

// Journal lists committed transactions, newest first.
// GET /v1/journal?limit=50&offset=0
func (h *AdminHandler) Journal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "journal not available", domain.CodeNotFound)
		return
	}
	entries, err := h.journal.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}
	writeOK(w, entries)
}

// Mint creates a token in the development registry. Owner only.
// POST /v1/tokens
func (h *AdminHandler) Mint(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	if h.minter == nil {
		writeError(w, http.StatusNotFound, "minting not available", domain.CodeNotFound)
		return
	}
	var req mintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	if err := h.minter.Mint(c, req.TokenID, mustPrincipal(req.Owner)); err != nil {
		writeLedgerError(w, r, h.logger, marketplace, err)
		return
	}
	writeCreated(w, idResponse{ID: req.TokenID})
}

// Tokens lists the tokens a principal holds in the development registry.
// GET /v1/principals/{principal}/tokens
func (h *AdminHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	if h.minter == nil {
		writeError(w, http.StatusNotFound, "token index not available", domain.CodeNotFound)
		return
	}
	p, ok := pathPrincipal(w, r, "principal")
	if !ok {
		return
	}
	ids := h.minter.TokensOf(p)
	if ids == nil {
		ids = []uint64{}
	}
	writeOK(w, ids)
}
