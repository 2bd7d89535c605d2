package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/ledger"
)

// VerificationService is the part of the ledger the verification, dispute and
// token endpoints use.
type VerificationService interface {
	SubmitVerification(ctx context.Context, caller domain.Principal, sub ledger.Submission) (uint64, error)
	UpdateVerificationStatus(ctx context.Context, caller domain.Principal, recordID uint64, status domain.VerificationStatus, notes string) error
	BulkVerifyTokens(ctx context.Context, caller domain.Principal, tokenIDs []uint64, verifier domain.Principal) ([]uint64, error)
	GetVerification(ctx context.Context, recordID uint64) (domain.VerificationRecord, bool)
	GetTokenVerification(ctx context.Context, tokenID uint64) (domain.VerificationRecord, bool)
	GetTokenVerificationHistory(ctx context.Context, tokenID uint64) []domain.VerificationRecord
	IsTokenVerified(ctx context.Context, tokenID uint64) bool
	GetVerificationCount(ctx context.Context) uint64
	DisputeVerification(ctx context.Context, caller domain.Principal, recordID uint64, reason string) error
	ResolveDispute(ctx context.Context, caller domain.Principal, recordID uint64, resolution string, final domain.VerificationStatus) error
	GetVerificationDispute(ctx context.Context, recordID uint64) (domain.Dispute, bool)
	OpenDisputes(ctx context.Context) []domain.Dispute
}

// VerificationHandler serves attestations and disputes.
type VerificationHandler struct {
	verifications VerificationService
	logger        *slog.Logger
}

// NewVerificationHandler creates a VerificationHandler.
func NewVerificationHandler(verifications VerificationService, logger *slog.Logger) *VerificationHandler {
	return &VerificationHandler{verifications: verifications, logger: logger}
}

type submitVerificationRequest struct {
	TokenID      uint64  `json:"token_id"`
	Status       string  `json:"status" validate:"required"`
	Notes        string  `json:"notes" validate:"max=500"`
	EvidenceHash string  `json:"evidence_hash" validate:"max=128"`
	ExpiryDate   *uint64 `json:"expiry_date"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Notes  string `json:"notes" validate:"max=500"`
}

type bulkVerifyRequest struct {
	TokenIDs []uint64 `json:"token_ids" validate:"required,min=1"`
	Verifier string   `json:"verifier" validate:"required,eth_addr"`
}

type disputeRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type resolveRequest struct {
	Resolution  string `json:"resolution" validate:"required,max=500"`
	FinalStatus string `json:"final_status" validate:"required"`
}

type idsResponse struct {
	IDs []uint64 `json:"ids"`
}

// Submit records an attestation by the calling verifier.
// POST /v1/verifications
func (h *VerificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req submitVerificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	id, err := h.verifications.SubmitVerification(r.Context(), c, ledger.Submission{
		TokenID:      req.TokenID,
		Status:       domain.VerificationStatus(req.Status),
		Notes:        req.Notes,
		EvidenceHash: req.EvidenceHash,
		ExpiryDate:   req.ExpiryDate,
	})
	if err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	writeCreated(w, idResponse{ID: id})
}

// Count returns the number of records ever created.
// GET /v1/verifications/count
func (h *VerificationHandler) Count(w http.ResponseWriter, r *http.Request) {
	writeOK(w, h.verifications.GetVerificationCount(r.Context()))
}

// Get returns a record by id.
// GET /v1/verifications/{id}
func (h *VerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id", verification)
	if !ok {
		return
	}
	rec, found := h.verifications.GetVerification(r.Context(), id)
	if !found {
		writeError(w, http.StatusNotFound, "verification not found", domain.CodeVerificationNotFound)
		return
	}
	writeOK(w, rec)
}

// UpdateStatus lets the authoring verifier revise a record.
// POST /v1/verifications/{id}/status
func (h *VerificationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUint(w, r, "id", verification)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	err := h.verifications.UpdateVerificationStatus(r.Context(), c, id, domain.VerificationStatus(req.Status), req.Notes)
	if err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	writeOK(w, true)
}

// BulkVerify records verified attestations for many tokens. Admin only.
// POST /v1/verifications/bulk
func (h *VerificationHandler) BulkVerify(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req bulkVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	ids, err := h.verifications.BulkVerifyTokens(r.Context(), c, req.TokenIDs, mustPrincipal(req.Verifier))
	if err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	writeCreated(w, idsResponse{IDs: ids})
}

// Dispute contests a record. Any signed caller may dispute.
// POST /v1/verifications/{id}/dispute
func (h *VerificationHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUint(w, r, "id", verification)
	if !ok {
		return
	}
	var req disputeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	if err := h.verifications.DisputeVerification(r.Context(), c, id, req.Reason); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	writeOK(w, true)
}

// GetDispute returns the dispute filed against a record.
// GET /v1/verifications/{id}/dispute
func (h *VerificationHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id", verification)
	if !ok {
		return
	}
	d, found := h.verifications.GetVerificationDispute(r.Context(), id)
	if !found {
		writeError(w, http.StatusNotFound, "dispute not found", domain.CodeVerificationNotFound)
		return
	}
	writeOK(w, d)
}

// Resolve closes an open dispute and sets the record's final status. Admin
// only.
// POST /v1/verifications/{id}/resolve
func (h *VerificationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathUint(w, r, "id", verification)
	if !ok {
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	err := h.verifications.ResolveDispute(r.Context(), c, id, req.Resolution, domain.VerificationStatus(req.FinalStatus))
	if err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	writeOK(w, true)
}

// OpenDisputes lists unresolved disputes.
// GET /v1/disputes
func (h *VerificationHandler) OpenDisputes(w http.ResponseWriter, r *http.Request) {
	ds := h.verifications.OpenDisputes(r.Context())
	if ds == nil {
		ds = []domain.Dispute{}
	}
	writeOK(w, ds)
}

// TokenVerification returns the latest record for a token, or null.
// GET /v1/tokens/{id}/verification
func (h *VerificationHandler) TokenVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id", verification)
	if !ok {
		return
	}
	if rec, found := h.verifications.GetTokenVerification(r.Context(), id); found {
		writeOK(w, rec)
		return
	}
	writeOK(w, nil)
}

// TokenHistory returns every record for a token, oldest first.
// GET /v1/tokens/{id}/verifications
func (h *VerificationHandler) TokenHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id", verification)
	if !ok {
		return
	}
	recs := h.verifications.GetTokenVerificationHistory(r.Context(), id)
	if recs == nil {
		recs = []domain.VerificationRecord{}
	}
	writeOK(w, recs)
}

// TokenVerified reports whether a token's latest record is verified.
// GET /v1/tokens/{id}/verified
func (h *VerificationHandler) TokenVerified(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id", verification)
	if !ok {
		return
	}
	writeOK(w, h.verifications.IsTokenVerified(r.Context(), id))
}
