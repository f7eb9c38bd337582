package sweeper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/driverag/backend/internal/metrics"
	"github.com/driverag/backend/internal/storage/models"
)

const deleteBatchSize = 100

// Store is the gateway surface the sweep reads and deletes through.
type Store interface {
	ListFiles(ctx context.Context) []models.FileRecord
	ScanChunkRefs(ctx context.Context) []models.ChunkRef
	DeleteChunksByIDs(ctx context.Context, chunkIDs []string) int
}

// Report summarises one sweep.
type Report struct {
	ChunksScanned int               `json:"chunks_scanned"`
	Orphans       []models.ChunkRef `json:"orphans"`
	Deleted       int               `json:"deleted"`
	DryRun        bool              `json:"dry_run"`
}

// Sweeper finds chunks whose file id no longer has a file record. Orphans
// appear when a delete path fails halfway; the sweep is the cleanup of last
// resort.
type Sweeper struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, logger: logger}
}

// Sweep scans the whole collection. With dryRun true it only reports; with
// dryRun false it deletes orphans in batches.
func (s *Sweeper) Sweep(ctx context.Context, dryRun bool) (*Report, error) {
	records := s.store.ListFiles(ctx)
	known := make(map[string]struct{}, len(records))
	for _, rec := range records {
		known[rec.ID] = struct{}{}
	}

	refs := s.store.ScanChunkRefs(ctx)
	report := &Report{ChunksScanned: len(refs), DryRun: dryRun}

	for _, ref := range refs {
		if _, ok := known[ref.FileID]; !ok {
			report.Orphans = append(report.Orphans, ref)
		}
	}

	s.logger.Info("Orphan scan finished",
		zap.Int("chunks_scanned", report.ChunksScanned),
		zap.Int("orphans", len(report.Orphans)),
		zap.Bool("dry_run", dryRun),
	)

	if dryRun || len(report.Orphans) == 0 {
		return report, nil
	}

	ids := make([]string, len(report.Orphans))
	for i, ref := range report.Orphans {
		ids[i] = ref.ChunkID
	}

	for start := 0; start < len(ids); start += deleteBatchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := start + deleteBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		n := s.store.DeleteChunksByIDs(ctx, ids[start:end])
		if n == 0 {
			return report, fmt.Errorf("orphan delete batch at %d stored no effect", start)
		}
		report.Deleted += n
		metrics.OrphansDeleted.Add(float64(n))

		s.logger.Info("Orphan batch deleted",
			zap.Int("deleted", report.Deleted),
			zap.Int("remaining", len(ids)-report.Deleted),
		)
	}

	return report, nil
}
