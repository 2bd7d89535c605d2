package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// DefaultMaxEvidenceBytes caps a single evidence upload.
const DefaultMaxEvidenceBytes int64 = 32 << 20

// EvidenceService stores verification evidence documents and hands back the
// content hash a verifier cites in a submission.
type EvidenceService struct {
	store    domain.EvidenceStore
	maxBytes int64
	logger   *slog.Logger
}

// NewEvidenceService creates an EvidenceService.
func NewEvidenceService(store domain.EvidenceStore, maxBytes int64, logger *slog.Logger) *EvidenceService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxEvidenceBytes
	}
	return &EvidenceService{
		store:    store,
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("component", "evidence_service")),
	}
}

// MaxBytes returns the upload size limit.
func (s *EvidenceService) MaxBytes() int64 { return s.maxBytes }

// Upload reads a document from r and stores it.
func (s *EvidenceService) Upload(ctx context.Context, uploader domain.Principal, r io.Reader, contentType string) (domain.Evidence, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return domain.Evidence{}, fmt.Errorf("evidence_service: read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return domain.Evidence{}, fmt.Errorf("evidence_service: upload exceeds %d bytes: %w", s.maxBytes, domain.ErrInvalidAmount)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ev, err := s.store.Put(ctx, data, contentType)
	if err != nil {
		return domain.Evidence{}, fmt.Errorf("evidence_service: %w", err)
	}
	s.logger.InfoContext(ctx, "evidence stored",
		slog.String("hash", ev.Hash),
		slog.Int64("size", ev.Size),
		slog.String("uploader", uploader.Hex()),
	)
	return ev, nil
}

// Open returns the document with the given hash.
func (s *EvidenceService) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	ok, err := s.store.Exists(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("evidence_service: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("evidence_service: evidence %s: %w", hash, domain.ErrNotFound)
	}
	return s.store.Get(ctx, hash)
}
