package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driverag/backend/internal/metrics"
	"github.com/driverag/backend/internal/storage/models"
)

// VectorIndex is the chunk side of the store.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []models.Chunk) error
	DeleteByFile(ctx context.Context, fileID string) error
	DeleteByIDs(ctx context.Context, chunkIDs []string) error
	QueryByFile(ctx context.Context, fileID string) ([]models.Chunk, error)
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]models.SearchHit, error)
	ScanChunkRefs(ctx context.Context) ([]models.ChunkRef, error)
}

// FileTable is the bookkeeping side of the store.
type FileTable interface {
	UpsertFile(rec *models.FileRecord) error
	GetFile(id string) (*models.FileRecord, error)
	ListFiles() ([]models.FileRecord, error)
	DeleteFile(id string) error
	UpdateFileStatus(id string, status models.FileStatus, totalChunks int) error
	InsertQueryLog(entry *models.QueryLogEntry) error
	SetFeedback(id string, feedback int) error
	ListQueryLogs(limit int) ([]models.QueryLogEntry, error)
}

// Gateway is the only component that writes chunks or file records. Backend
// failures are logged and converted to no-op return values; callers see an
// absent effect, never an error, and pick the work up again on the next pass.
type Gateway struct {
	index  VectorIndex
	files  FileTable
	logger *zap.Logger
}

func New(index VectorIndex, files FileTable, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{index: index, files: files, logger: logger}
}

// UpsertChunks writes the chunk set and, when that succeeds, the file record
// marked processed. Returns the number of chunks stored; zero means nothing
// was written.
func (g *Gateway) UpsertChunks(ctx context.Context, chunks []models.Chunk, rec *models.FileRecord) int {
	if len(chunks) == 0 {
		return 0
	}

	if err := g.index.Upsert(ctx, chunks); err != nil {
		g.logger.Error("Failed to upsert chunks",
			zap.String("file_id", rec.ID),
			zap.Int("chunks", len(chunks)),
			zap.Error(err),
		)
		return 0
	}

	rec.Status = models.StatusProcessed
	rec.TotalChunks = len(chunks)
	rec.ProcessedAt = time.Now()
	if err := g.files.UpsertFile(rec); err != nil {
		g.logger.Error("Failed to upsert file record after chunk write",
			zap.String("file_id", rec.ID),
			zap.Error(err),
		)
		return 0
	}

	metrics.ChunksUpserted.Add(float64(len(chunks)))
	return len(chunks)
}

// FetchChunksByFile returns the stored chunks of a file in chunk order.
// Empty on error or when the file is unknown.
func (g *Gateway) FetchChunksByFile(ctx context.Context, fileID string) []models.Chunk {
	chunks, err := g.index.QueryByFile(ctx, fileID)
	if err != nil {
		g.logger.Error("Failed to fetch chunks", zap.String("file_id", fileID), zap.Error(err))
		return nil
	}
	return chunks
}

// DeleteChunksByFile removes every chunk of a file from the vector store and
// returns how many were removed. The file record is left alone.
func (g *Gateway) DeleteChunksByFile(ctx context.Context, fileID string) int {
	chunks, err := g.index.QueryByFile(ctx, fileID)
	if err != nil {
		g.logger.Error("Failed to count chunks before delete", zap.String("file_id", fileID), zap.Error(err))
		return 0
	}
	if len(chunks) == 0 {
		return 0
	}

	if err := g.index.DeleteByFile(ctx, fileID); err != nil {
		g.logger.Error("Failed to delete chunks", zap.String("file_id", fileID), zap.Error(err))
		return 0
	}

	metrics.ChunksDeleted.Add(float64(len(chunks)))
	return len(chunks)
}

// DeleteFile removes a file completely: chunks first, then the record, so a
// failure between the two never leaves chunks without a record.
func (g *Gateway) DeleteFile(ctx context.Context, fileID string) bool {
	g.DeleteChunksByFile(ctx, fileID)

	if err := g.files.DeleteFile(fileID); err != nil {
		g.logger.Error("Failed to delete file record", zap.String("file_id", fileID), zap.Error(err))
		return false
	}
	return true
}

// SimilaritySearch returns up to topK hits scoring at or above threshold.
func (g *Gateway) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, threshold float64) []models.SearchHit {
	hits, err := g.index.Search(ctx, queryEmbedding, topK)
	if err != nil {
		g.logger.Error("Similarity search failed", zap.Error(err))
		return nil
	}

	filtered := make([]models.SearchHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Score >= threshold {
			filtered = append(filtered, hit)
		}
	}
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}

	metrics.VectorResultsCount.Observe(float64(len(filtered)))
	return filtered
}

// LogQuery persists a query/answer pair and returns its id, or an empty
// string when the write failed. Logging is best effort; answers are returned
// to users regardless.
func (g *Gateway) LogQuery(ctx context.Context, query, response string, sources []models.Source) string {
	entry := &models.QueryLogEntry{
		ID:        uuid.NewString(),
		Query:     query,
		Response:  response,
		Sources:   sources,
		CreatedAt: time.Now(),
	}
	if err := g.files.InsertQueryLog(entry); err != nil {
		g.logger.Error("Failed to log query", zap.Error(err))
		return ""
	}
	return entry.ID
}

func (g *Gateway) SetFeedback(ctx context.Context, queryID string, feedback int) bool {
	if err := g.files.SetFeedback(queryID, feedback); err != nil {
		g.logger.Error("Failed to record feedback",
			zap.String("query_id", queryID),
			zap.Int("feedback", feedback),
			zap.Error(err),
		)
		return false
	}

	helpful := "no"
	if feedback > 0 {
		helpful = "yes"
	}
	metrics.UserSatisfaction.WithLabelValues(helpful).Inc()
	return true
}

func (g *Gateway) ListQueryLogs(ctx context.Context, limit int) []models.QueryLogEntry {
	entries, err := g.files.ListQueryLogs(limit)
	if err != nil {
		g.logger.Error("Failed to list query logs", zap.Error(err))
		return nil
	}
	return entries
}

// ListFiles returns every file record. Nil on error.
func (g *Gateway) ListFiles(ctx context.Context) []models.FileRecord {
	records, err := g.files.ListFiles()
	if err != nil {
		g.logger.Error("Failed to list file records", zap.Error(err))
		return nil
	}
	return records
}

// GetFile returns the record for id, nil when absent or on error.
func (g *Gateway) GetFile(ctx context.Context, fileID string) *models.FileRecord {
	rec, err := g.files.GetFile(fileID)
	if err != nil {
		g.logger.Error("Failed to get file record", zap.String("file_id", fileID), zap.Error(err))
		return nil
	}
	return rec
}

// MarkFile upserts a record as-is, used to flag files as processing or
// errored before and after the pipeline runs.
func (g *Gateway) MarkFile(ctx context.Context, rec *models.FileRecord) bool {
	if err := g.files.UpsertFile(rec); err != nil {
		g.logger.Error("Failed to mark file", zap.String("file_id", rec.ID), zap.Error(err))
		return false
	}
	return true
}

// ScanChunkRefs lists (chunk_id, file_id) pairs for the whole collection.
func (g *Gateway) ScanChunkRefs(ctx context.Context) []models.ChunkRef {
	refs, err := g.index.ScanChunkRefs(ctx)
	if err != nil {
		g.logger.Error("Failed to scan chunk refs", zap.Error(err))
		return nil
	}
	return refs
}

// DeleteChunksByIDs removes specific chunks, returning how many deletes were
// issued (0 on failure).
func (g *Gateway) DeleteChunksByIDs(ctx context.Context, chunkIDs []string) int {
	if len(chunkIDs) == 0 {
		return 0
	}
	if err := g.index.DeleteByIDs(ctx, chunkIDs); err != nil {
		g.logger.Error("Failed to delete chunks by id", zap.Int("count", len(chunkIDs)), zap.Error(err))
		return 0
	}
	metrics.ChunksDeleted.Add(float64(len(chunkIDs)))
	return len(chunkIDs)
}
