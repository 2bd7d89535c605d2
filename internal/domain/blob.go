package domain

import (
	"context"
	"io"
)

// Evidence is a content-addressed verification document.
type Evidence struct {
	Hash        string `json:"hash"` // 0x-prefixed keccak256 of the content
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// EvidenceStore keeps verification evidence addressed by its keccak256 hash.
type EvidenceStore interface {
	Put(ctx context.Context, data []byte, contentType string) (Evidence, error)
	Get(ctx context.Context, hash string) (io.ReadCloser, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// Archiver exports ledger state to cold storage.
type Archiver interface {
	ArchiveSnapshot(ctx context.Context, snap Snapshot) (string, error)
}
