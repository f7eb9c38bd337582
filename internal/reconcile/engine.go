package reconcile

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/driverag/backend/internal/metrics"
	"github.com/driverag/backend/internal/splitter"
	"github.com/driverag/backend/internal/storage/models"
)

// largeChunkCount is the point where a single file starts dominating a pass.
const largeChunkCount = 500

// FileStore lists and fetches remote files.
type FileStore interface {
	List(ctx context.Context) ([]models.RemoteFile, error)
	Download(ctx context.Context, file models.RemoteFile) (string, error)
}

// DocumentSplitter turns a downloaded file into its chunk set.
type DocumentSplitter interface {
	ProcessFile(path string, meta splitter.FileMeta) ([]models.Chunk, error)
}

// EmbeddingBatcher embeds texts, one result slot per input.
type EmbeddingBatcher interface {
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

// Store is the gateway surface the engine writes through.
type Store interface {
	UpsertChunks(ctx context.Context, chunks []models.Chunk, rec *models.FileRecord) int
	DeleteChunksByFile(ctx context.Context, fileID string) int
	DeleteFile(ctx context.Context, fileID string) bool
	ListFiles(ctx context.Context) []models.FileRecord
	GetFile(ctx context.Context, fileID string) *models.FileRecord
	MarkFile(ctx context.Context, rec *models.FileRecord) bool
}

// AnswerCache invalidates cached answers once the corpus changes.
type AnswerCache interface {
	InvalidateAnswers(ctx context.Context) error
}

// Summary aggregates one reconciliation pass.
type Summary struct {
	New       int `json:"new"`
	Modified  int `json:"modified"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Failed    int `json:"failed"`
}

// Engine converges the local store onto the remote folder listing. A pass is
// sequential and idempotent: running it twice against an unchanged folder
// writes nothing the second time.
type Engine struct {
	store    FileStore
	splitter DocumentSplitter
	batcher  EmbeddingBatcher
	gateway  Store
	cache    AnswerCache
	logger   *zap.Logger
}

func NewEngine(store FileStore, sp DocumentSplitter, batcher EmbeddingBatcher, gw Store, cache AnswerCache, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		splitter: sp,
		batcher:  batcher,
		gateway:  gw,
		cache:    cache,
		logger:   logger,
	}
}

// Reconcile runs one full pass. A listing failure aborts the pass before
// anything is touched; per-file failures are counted and skipped.
func (e *Engine) Reconcile(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer func() {
		metrics.ReconcilePassDuration.Observe(time.Since(start).Seconds())
	}()

	var summary Summary

	remote, err := e.store.List(ctx)
	if err != nil {
		return summary, fmt.Errorf("remote listing failed, aborting pass: %w", err)
	}

	records := e.gateway.ListFiles(ctx)
	recordByID := make(map[string]*models.FileRecord, len(records))
	for i := range records {
		recordByID[records[i].ID] = &records[i]
	}
	remoteByID := make(map[string]models.RemoteFile, len(remote))
	for _, f := range remote {
		remoteByID[f.ID] = f
	}

	// Deletions first: chunks of vanished files must be gone before any new
	// content lands.
	for id := range recordByID {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if _, still := remoteByID[id]; still {
			continue
		}
		if e.gateway.DeleteFile(ctx, id) {
			summary.Deleted++
			metrics.ReconcileFiles.WithLabelValues("deleted").Inc()
			e.logger.Info("File removed from index", zap.String("file_id", id))
		} else {
			summary.Failed++
			metrics.ReconcileFiles.WithLabelValues("failed").Inc()
		}
	}

	for _, f := range remote {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		rec := recordByID[f.ID]
		switch {
		case rec == nil:
			if e.processNew(ctx, f) {
				summary.New++
				metrics.ReconcileFiles.WithLabelValues("new").Inc()
			} else {
				summary.Failed++
				metrics.ReconcileFiles.WithLabelValues("failed").Inc()
			}
		case e.changed(rec, f):
			if e.processModified(ctx, f) {
				summary.Modified++
				metrics.ReconcileFiles.WithLabelValues("modified").Inc()
			} else {
				summary.Failed++
				metrics.ReconcileFiles.WithLabelValues("failed").Inc()
			}
		default:
			summary.Unchanged++
			metrics.ReconcileFiles.WithLabelValues("unchanged").Inc()
		}
	}

	if summary.New+summary.Modified+summary.Deleted > 0 && e.cache != nil {
		if err := e.cache.InvalidateAnswers(ctx); err != nil {
			e.logger.Warn("Failed to invalidate answer cache", zap.Error(err))
		}
	}

	e.logger.Info("Reconciliation pass finished",
		zap.Int("new", summary.New),
		zap.Int("modified", summary.Modified),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("deleted", summary.Deleted),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", time.Since(start)),
	)

	return summary, nil
}

// changed reports whether the remote file differs from the local record.
// Checksums are authoritative when both sides carry one; otherwise the
// normalized timestamps decide. Records stuck outside the processed state
// always count as changed so failed files get retried.
func (e *Engine) changed(rec *models.FileRecord, f models.RemoteFile) bool {
	if rec.Status != models.StatusProcessed {
		return true
	}
	if rec.Checksum != "" && f.Checksum != "" {
		return rec.Checksum != f.Checksum
	}
	return normalizeTimestamp(rec.LastModified) != normalizeTimestamp(f.ModifiedTime)
}

func (e *Engine) processNew(ctx context.Context, f models.RemoteFile) bool {
	rec := recordFor(f)
	rec.Status = models.StatusProcessing
	if !e.gateway.MarkFile(ctx, rec) {
		return false
	}

	if err := e.processFile(ctx, f, rec); err != nil {
		e.logger.Error("Failed to process new file", zap.String("file", f.Name), zap.Error(err))
		rec.Status = models.StatusError
		e.gateway.MarkFile(ctx, rec)
		return false
	}

	metrics.DocumentsProcessed.WithLabelValues("new").Inc()
	return true
}

func (e *Engine) processModified(ctx context.Context, f models.RemoteFile) bool {
	// Old chunks go first so a failure can never leave the file half old,
	// half new.
	e.gateway.DeleteChunksByFile(ctx, f.ID)

	rec := recordFor(f)
	rec.Status = models.StatusProcessing
	if !e.gateway.MarkFile(ctx, rec) {
		return false
	}

	if err := e.processFile(ctx, f, rec); err != nil {
		e.logger.Error("Failed to process modified file", zap.String("file", f.Name), zap.Error(err))
		rec.Status = models.StatusError
		e.gateway.MarkFile(ctx, rec)
		return false
	}

	metrics.DocumentsProcessed.WithLabelValues("modified").Inc()
	return true
}

// processFile runs download, split, embed and upsert for one file.
func (e *Engine) processFile(ctx context.Context, f models.RemoteFile, rec *models.FileRecord) error {
	path, err := e.store.Download(ctx, f)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer os.Remove(path)

	chunks, err := e.splitter.ProcessFile(path, splitter.FileMeta{
		FileID:   f.ID,
		Name:     f.Name,
		MimeType: f.MimeType,
	})
	if err != nil {
		return fmt.Errorf("split: %w", err)
	}

	if len(chunks) == 0 {
		e.logger.Warn("File produced no chunks", zap.String("file", f.Name))
		rec.Status = models.StatusProcessed
		rec.TotalChunks = 0
		rec.ProcessedAt = time.Now()
		if !e.gateway.MarkFile(ctx, rec) {
			return fmt.Errorf("could not finalize empty file record")
		}
		return nil
	}

	if len(chunks) > largeChunkCount {
		estimate := time.Duration(len(chunks)/20+1) * 2 * time.Second
		e.logger.Warn("Large document, embedding will take a while",
			zap.String("file", f.Name),
			zap.Int("chunks", len(chunks)),
			zap.Duration("estimated", estimate),
		)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.EnrichedContent
	}

	embeddings := e.batcher.EmbedBatch(ctx, texts)

	embedded := make([]models.Chunk, 0, len(chunks))
	for i, emb := range embeddings {
		if emb == nil {
			continue
		}
		chunks[i].Embedding = emb
		embedded = append(embedded, chunks[i])
	}
	if len(embedded) == 0 {
		return fmt.Errorf("no chunk could be embedded")
	}
	if skipped := len(chunks) - len(embedded); skipped > 0 {
		e.logger.Warn("Some chunks could not be embedded",
			zap.String("file", f.Name),
			zap.Int("skipped", skipped),
		)
	}

	if n := e.gateway.UpsertChunks(ctx, embedded, rec); n == 0 {
		return fmt.Errorf("chunk upsert stored nothing")
	}
	return nil
}

func recordFor(f models.RemoteFile) *models.FileRecord {
	return &models.FileRecord{
		ID:           f.ID,
		Name:         f.Name,
		MimeType:     f.MimeType,
		LastModified: f.ModifiedTime,
		Checksum:     f.Checksum,
	}
}

// OnNewFile lets the engine act as the folder monitor's handler. A file the
// store already knows is routed through the modified path.
func (e *Engine) OnNewFile(ctx context.Context, f models.RemoteFile) error {
	if rec := e.gateway.GetFile(ctx, f.ID); rec != nil {
		return e.OnModifiedFile(ctx, f)
	}
	if !e.processNew(ctx, f) {
		return fmt.Errorf("processing new file %s failed", f.Name)
	}
	e.invalidate(ctx)
	return nil
}

func (e *Engine) OnModifiedFile(ctx context.Context, f models.RemoteFile) error {
	rec := e.gateway.GetFile(ctx, f.ID)
	if rec == nil {
		return e.OnNewFile(ctx, f)
	}
	if !e.changed(rec, f) {
		e.logger.Debug("Content unchanged, skipping", zap.String("file", f.Name))
		return nil
	}
	if !e.processModified(ctx, f) {
		return fmt.Errorf("processing modified file %s failed", f.Name)
	}
	e.invalidate(ctx)
	return nil
}

func (e *Engine) OnDeletedFile(ctx context.Context, fileID string) error {
	if !e.gateway.DeleteFile(ctx, fileID) {
		return fmt.Errorf("deleting file %s failed", fileID)
	}
	e.invalidate(ctx)
	return nil
}

func (e *Engine) invalidate(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.InvalidateAnswers(ctx); err != nil {
		e.logger.Warn("Failed to invalidate answer cache", zap.Error(err))
	}
}
