package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/recledger/internal/domain"
	"github.com/alanyoungcy/recledger/internal/metrics"
)

// SnapshotSource yields the committed ledger state.
type SnapshotSource interface {
	Snapshot(ctx context.Context) domain.Snapshot
}

// SnapshotJob periodically archives the ledger state. Passes where the state
// has not changed since the last archive are skipped.
type SnapshotJob struct {
	src      SnapshotSource
	archiver domain.Archiver
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	last common.Hash
}

// NewSnapshotJob creates a SnapshotJob.
func NewSnapshotJob(src SnapshotSource, archiver domain.Archiver, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *SnapshotJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SnapshotJob{
		src:      src,
		archiver: archiver,
		interval: interval,
		metrics:  m,
		logger:   logger.With(slog.String("component", "snapshot_job")),
	}
}

// Run archives on every tick until ctx ends.
func (j *SnapshotJob) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.ErrorContext(ctx, "snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce archives the current state and returns the object path, or "" when
// nothing changed.
func (j *SnapshotJob) RunOnce(ctx context.Context) (string, error) {
	snap := j.src.Snapshot(ctx)
	data, err := json.Marshal(snap)
	if err != nil {
		j.metrics.Snapshots.WithLabelValues("error").Inc()
		return "", fmt.Errorf("snapshot_job: encode: %w", err)
	}
	sum := crypto.Keccak256Hash(data)
	if sum == j.last {
		j.metrics.Snapshots.WithLabelValues("unchanged").Inc()
		return "", nil
	}

	path, err := j.archiver.ArchiveSnapshot(ctx, snap)
	if err != nil {
		j.metrics.Snapshots.WithLabelValues("error").Inc()
		return "", fmt.Errorf("snapshot_job: archive: %w", err)
	}
	j.last = sum
	j.metrics.Snapshots.WithLabelValues("ok").Inc()
	j.logger.InfoContext(ctx, "ledger snapshot archived",
		slog.String("path", path),
		slog.Uint64("height", snap.Counters.Height),
	)
	return path, nil
}
