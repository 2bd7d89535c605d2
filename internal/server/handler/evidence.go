package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// EvidenceService stores and serves verification evidence documents.
type EvidenceService interface {
	Upload(ctx context.Context, uploader domain.Principal, r io.Reader, contentType string) (domain.Evidence, error)
	Open(ctx context.Context, hash string) (io.ReadCloser, error)
}

// EvidenceHandler serves evidence uploads and downloads.
type EvidenceHandler struct {
	evidence EvidenceService
	logger   *slog.Logger
}

// NewEvidenceHandler creates an EvidenceHandler.
func NewEvidenceHandler(evidence EvidenceService, logger *slog.Logger) *EvidenceHandler {
	return &EvidenceHandler{evidence: evidence, logger: logger}
}

// Upload stores the raw request body and returns its content hash.
// POST /v1/evidence
func (h *EvidenceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	ev, err := h.evidence.Upload(r.Context(), c, r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	writeCreated(w, ev)
}

// Download streams a stored document.
// GET /v1/evidence/{hash}
func (h *EvidenceHandler) Download(w http.ResponseWriter, r *http.Request) {
	rc, err := h.evidence.Open(r.Context(), r.PathValue("hash"))
	if err != nil {
		writeLedgerError(w, r, h.logger, verification, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.WarnContext(r.Context(), "handler: evidence download interrupted", slog.String("error", err.Error()))
	}
}
