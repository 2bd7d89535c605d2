package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/recledger/internal/domain"
)

// Snapshot object metadata.
const (
	metaHeight   = "ledger-height"
	metaListings = "ledger-listings"
	metaRecords  = "ledger-verifications"
)

// SnapshotArchiver implements domain.Archiver by serializing the full ledger
// snapshot to JSON and uploading it under snapshots/<height>.json.
//
// Older snapshots are pruned only after a new one has been written.
type SnapshotArchiver struct {
	objects Objects
	prefix  string
	keep    int
	logger  *slog.Logger
}

// NewSnapshotArchiver creates a SnapshotArchiver. keep <= 0 disables pruning.
func NewSnapshotArchiver(objects Objects, prefix string, keep int, logger *slog.Logger) *SnapshotArchiver {
	if prefix == "" {
		prefix = "snapshots"
	}
	return &SnapshotArchiver{
		objects: objects,
		prefix:  strings.TrimSuffix(prefix, "/"),
		keep:    keep,
		logger:  logger.With(slog.String("component", "snapshot_archiver")),
	}
}

// ArchiveSnapshot uploads snap and returns the object path.
func (a *SnapshotArchiver) ArchiveSnapshot(ctx context.Context, snap domain.Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot marshal: %w", err)
	}

	path := a.snapshotPath(snap.Counters.Height)
	meta := map[string]string{
		metaHeight:   strconv.FormatUint(snap.Counters.Height, 10),
		metaListings: strconv.FormatUint(snap.Counters.LastListingID, 10),
		metaRecords:  strconv.FormatUint(snap.Counters.LastVerificationID, 10),
	}
	if err := a.objects.Put(ctx, path, data, "application/json", meta); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}

	if a.keep > 0 {
		if err := a.prune(ctx); err != nil {
			// The snapshot itself is stored.
			a.logger.WarnContext(ctx, "snapshot prune failed", slog.String("error", err.Error()))
		}
	}
	return path, nil
}

// Latest returns the path of the newest archived snapshot.
func (a *SnapshotArchiver) Latest(ctx context.Context) (string, error) {
	paths, err := a.list(ctx)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("s3blob: latest snapshot: %w", domain.ErrNotFound)
	}
	return paths[len(paths)-1], nil
}

// Restore reads the snapshot stored at path. A snapshot whose counters
// disagree with the metadata it was written with is rejected.
func (a *SnapshotArchiver) Restore(ctx context.Context, path string) (domain.Snapshot, error) {
	rc, meta, err := a.objects.Open(ctx, path)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: restore snapshot: %w", err)
	}
	defer rc.Close()

	var snap domain.Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: restore snapshot decode: %w", err)
	}
	for k, got := range map[string]uint64{
		metaHeight:   snap.Counters.Height,
		metaListings: snap.Counters.LastListingID,
		metaRecords:  snap.Counters.LastVerificationID,
	} {
		// Metadata keys may come back with different case.
		want, ok := lookupMeta(meta, k)
		if ok && want != strconv.FormatUint(got, 10) {
			return domain.Snapshot{}, fmt.Errorf("s3blob: restore snapshot %s: %s is %d, metadata says %s", path, k, got, want)
		}
	}
	return snap, nil
}

func lookupMeta(meta map[string]string, key string) (string, bool) {
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func (a *SnapshotArchiver) prune(ctx context.Context) error {
	paths, err := a.list(ctx)
	if err != nil {
		return err
	}
	if len(paths) <= a.keep {
		return nil
	}
	return a.objects.Remove(ctx, paths[:len(paths)-a.keep]...)
}

// list returns snapshot paths ordered oldest first. Heights are zero-padded
// so lexical order matches height order.
func (a *SnapshotArchiver) list(ctx context.Context) ([]string, error) {
	keys, err := a.objects.Keys(ctx, a.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list snapshots: %w", err)
	}
	paths := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, ".json") {
			paths = append(paths, k)
		}
	}
	return paths, nil
}

// snapshotPath builds the object key for a snapshot at height.
//
//	snapshots/00000000000000012345.json
func (a *SnapshotArchiver) snapshotPath(height uint64) string {
	return fmt.Sprintf("%s/%020d.json", a.prefix, height)
}

var _ domain.Archiver = (*SnapshotArchiver)(nil)
