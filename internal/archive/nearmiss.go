// Package archive exports aged near-miss observations to object storage and
// prunes them from the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddslab/pairarb/internal/domain"
)

// NearMissArchiver batches near-miss rows older than the retention window
// into JSONL objects and deletes them once the upload succeeds.
type NearMissArchiver struct {
	store     domain.NearMissStore
	blob      domain.BlobWriter
	retention time.Duration
	batchSize int
	logger    *slog.Logger
	nowFn     func() time.Time
}

// NewNearMissArchiver creates an archiver. retention is how long rows stay
// queryable before export; batchSize caps the rows per object.
func NewNearMissArchiver(store domain.NearMissStore, blob domain.BlobWriter, retention time.Duration, batchSize int, logger *slog.Logger) *NearMissArchiver {
	if batchSize <= 0 {
		batchSize = 10_000
	}
	return &NearMissArchiver{
		store:     store,
		blob:      blob,
		retention: retention,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "archiver")),
		nowFn:     time.Now,
	}
}

// Run executes a single archive pass. Rows are deleted only after the
// object upload succeeds, so a failed run leaves them queryable for the
// next pass.
func (a *NearMissArchiver) Run(ctx context.Context) error {
	now := a.nowFn().UTC()
	cutoff := now.Add(-a.retention)

	rows, err := a.store.ListBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return fmt.Errorf("archive: list near misses before %v: %w", cutoff, err)
	}
	if len(rows) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, nm := range rows {
		if err := enc.Encode(nm); err != nil {
			return fmt.Errorf("archive: encode near miss %s: %w", nm.ID, err)
		}
	}

	path := fmt.Sprintf("near-misses/%s/%s.jsonl",
		now.Format("2006/01/02"), now.Format("150405"))
	if err := a.blob.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return fmt.Errorf("archive: upload %s: %w", path, err)
	}

	// Delete only what was exported. The batch is ordered oldest-first,
	// so everything before the last exported row's timestamp is covered
	// by the object just written.
	exportCutoff := rows[len(rows)-1].ObservedAt.Add(time.Nanosecond)
	if exportCutoff.After(cutoff) {
		exportCutoff = cutoff
	}
	deleted, err := a.store.DeleteBefore(ctx, exportCutoff)
	if err != nil {
		return fmt.Errorf("archive: prune exported rows: %w", err)
	}

	a.logger.Info("archive pass complete",
		slog.String("object", path),
		slog.Int("exported", len(rows)),
		slog.Int64("deleted", deleted),
	)
	return nil
}

// RunPeriodic runs archive passes on the given interval until the context
// is cancelled.
func (a *NearMissArchiver) RunPeriodic(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("archiver started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
