package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// VerifierService is the part of the ledger the verifier endpoints use.
type VerifierService interface {
	AddVerifier(ctx context.Context, caller, p domain.Principal, name, certificationBody string) error
	DeactivateVerifier(ctx context.Context, caller, p domain.Principal) error
	UpdateVerifierReputation(ctx context.Context, caller, p domain.Principal, score uint64) error
	IsAuthorizedVerifier(ctx context.Context, p domain.Principal) bool
	GetVerifierInfo(ctx context.Context, p domain.Principal) (domain.Verifier, bool)
	GetVerifierStats(ctx context.Context, p domain.Principal) (domain.VerifierStats, bool)
	Verifiers(ctx context.Context) []domain.Verifier
}

// VerifierHandler serves the verifier registry.
type VerifierHandler struct {
	verifiers VerifierService
	logger    *slog.Logger
}

// NewVerifierHandler creates a VerifierHandler.
func NewVerifierHandler(verifiers VerifierService, logger *slog.Logger) *VerifierHandler {
	return &VerifierHandler{verifiers: verifiers, logger: logger}
}

type addVerifierRequest struct {
	Principal         string `json:"principal" validate:"required,eth_addr"`
	Name              string `json:"name" validate:"required,max=100"`
	CertificationBody string `json:"certification_body" validate:"required,max=100"`
}

type reputationRequest struct {
	Score uint64 `json:"score"`
}

type verifierView struct {
	domain.Verifier
	Authorized bool `json:"authorized"`
}

// List returns every verifier ever added.
// GET /v1/verifiers
func (h *VerifierHandler) List(w http.ResponseWriter, r *http.Request) {
	vs := h.verifiers.Verifiers(r.Context())
	if vs == nil {
		vs = []domain.Verifier{}
	}
	writeOK(w, vs)
}

// Get returns a verifier's registration.
// GET /v1/verifiers/{principal}
func (h *VerifierHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := pathPrincipal(w, r, "principal")
	if !ok {
		return
	}
	v, found := h.verifiers.GetVerifierInfo(r.Context(), p)
	if !found {
		writeError(w, http.StatusNotFound, "verifier not found", domain.CodeVerificationNotFound)
		return
	}
	writeOK(w, verifierView{Verifier: v, Authorized: h.verifiers.IsAuthorizedVerifier(r.Context(), p)})
}

// Stats returns a verifier's submission tallies.
// GET /v1/verifiers/{principal}/stats
func (h *VerifierHandler) Stats(w http.ResponseWriter, r *http.Request) {
	p, ok := pathPrincipal(w, r, "principal")
	if !ok {
		return
	}
	s, found := h.verifiers.GetVerifierStats(r.Context(), p)
	if !found {
		writeError(w, http.StatusNotFound, "verifier not found", domain.CodeVerificationNotFound)
		return
	}
	writeOK(w, s)
}

// Add authorizes a verifier. Admin only.
// POST /v1/verifiers
func (h *VerifierHandler) Add(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req addVerifierRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	p := mustPrincipal(req.Principal)
	if err := h.verifiers.AddVerifier(r.Context(), c, p, req.Name, req.CertificationBody); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	v, _ := h.verifiers.GetVerifierInfo(r.Context(), p)
	writeCreated(w, v)
}

// Deactivate revokes a verifier's authorization. Admin only.
// POST /v1/verifiers/{principal}/deactivate
func (h *VerifierHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	p, ok := pathPrincipal(w, r, "principal")
	if !ok {
		return
	}
	if err := h.verifiers.DeactivateVerifier(r.Context(), c, p); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	writeOK(w, true)
}

// Reputation sets a verifier's reputation score. Admin only.
// POST /v1/verifiers/{principal}/reputation
func (h *VerifierHandler) Reputation(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	p, ok := pathPrincipal(w, r, "principal")
	if !ok {
		return
	}
	var req reputationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	if err := h.verifiers.UpdateVerifierReputation(r.Context(), c, p, req.Score); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	writeOK(w, true)
}
