package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driverag/backend/internal/storage/models"
)

type fakeIndex struct {
	chunks  map[string]models.Chunk
	hits    []models.SearchHit
	failAll bool
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{chunks: make(map[string]models.Chunk)}
}

func (f *fakeIndex) Upsert(_ context.Context, chunks []models.Chunk) error {
	if f.failAll {
		return errors.New("index down")
	}
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	return nil
}

func (f *fakeIndex) DeleteByFile(_ context.Context, fileID string) error {
	if f.failAll {
		return errors.New("index down")
	}
	for id, c := range f.chunks {
		if c.Metadata.FileID == fileID {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *fakeIndex) DeleteByIDs(_ context.Context, chunkIDs []string) error {
	if f.failAll {
		return errors.New("index down")
	}
	for _, id := range chunkIDs {
		delete(f.chunks, id)
	}
	return nil
}

func (f *fakeIndex) QueryByFile(_ context.Context, fileID string) ([]models.Chunk, error) {
	if f.failAll {
		return nil, errors.New("index down")
	}
	var out []models.Chunk
	for _, c := range f.chunks {
		if c.Metadata.FileID == fileID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, topK int) ([]models.SearchHit, error) {
	if f.failAll {
		return nil, errors.New("index down")
	}
	return f.hits, nil
}

func (f *fakeIndex) ScanChunkRefs(_ context.Context) ([]models.ChunkRef, error) {
	if f.failAll {
		return nil, errors.New("index down")
	}
	var refs []models.ChunkRef
	for id, c := range f.chunks {
		refs = append(refs, models.ChunkRef{ChunkID: id, FileID: c.Metadata.FileID})
	}
	return refs, nil
}

type fakeTable struct {
	files   map[string]models.FileRecord
	logs    map[string]models.QueryLogEntry
	failAll bool
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		files: make(map[string]models.FileRecord),
		logs:  make(map[string]models.QueryLogEntry),
	}
}

func (f *fakeTable) UpsertFile(rec *models.FileRecord) error {
	if f.failAll {
		return errors.New("db down")
	}
	f.files[rec.ID] = *rec
	return nil
}

func (f *fakeTable) GetFile(id string) (*models.FileRecord, error) {
	if f.failAll {
		return nil, errors.New("db down")
	}
	rec, ok := f.files[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeTable) ListFiles() ([]models.FileRecord, error) {
	if f.failAll {
		return nil, errors.New("db down")
	}
	var out []models.FileRecord
	for _, rec := range f.files {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeTable) DeleteFile(id string) error {
	if f.failAll {
		return errors.New("db down")
	}
	delete(f.files, id)
	return nil
}

func (f *fakeTable) UpdateFileStatus(id string, status models.FileStatus, totalChunks int) error {
	if f.failAll {
		return errors.New("db down")
	}
	rec := f.files[id]
	rec.Status = status
	rec.TotalChunks = totalChunks
	f.files[id] = rec
	return nil
}

func (f *fakeTable) InsertQueryLog(entry *models.QueryLogEntry) error {
	if f.failAll {
		return errors.New("db down")
	}
	f.logs[entry.ID] = *entry
	return nil
}

func (f *fakeTable) SetFeedback(id string, feedback int) error {
	if f.failAll {
		return errors.New("db down")
	}
	entry, ok := f.logs[id]
	if !ok {
		return errors.New("not found")
	}
	entry.UserFeedback = feedback
	f.logs[id] = entry
	return nil
}

func (f *fakeTable) ListQueryLogs(limit int) ([]models.QueryLogEntry, error) {
	if f.failAll {
		return nil, errors.New("db down")
	}
	var out []models.QueryLogEntry
	for _, e := range f.logs {
		out = append(out, e)
	}
	return out, nil
}

func chunk(id, fileID string, index int) models.Chunk {
	return models.Chunk{
		ID:      id,
		Content: "contenido",
		Metadata: models.ChunkMetadata{
			FileID:     fileID,
			ChunkIndex: index,
		},
	}
}

func TestUpsertChunksWritesChunksAndRecord(t *testing.T) {
	index := newFakeIndex()
	table := newFakeTable()
	g := New(index, table, nil)

	rec := &models.FileRecord{ID: "f1", Name: "doc.pdf", Status: models.StatusProcessing}
	n := g.UpsertChunks(context.Background(), []models.Chunk{chunk("c1", "f1", 0), chunk("c2", "f1", 1)}, rec)

	assert.Equal(t, 2, n)
	assert.Len(t, index.chunks, 2)
	stored := table.files["f1"]
	assert.Equal(t, models.StatusProcessed, stored.Status)
	assert.Equal(t, 2, stored.TotalChunks)
	assert.False(t, stored.ProcessedAt.IsZero())
}

func TestUpsertChunksNoOpOnIndexFailure(t *testing.T) {
	index := newFakeIndex()
	index.failAll = true
	table := newFakeTable()
	g := New(index, table, nil)

	rec := &models.FileRecord{ID: "f1", Name: "doc.pdf"}
	n := g.UpsertChunks(context.Background(), []models.Chunk{chunk("c1", "f1", 0)}, rec)

	assert.Equal(t, 0, n)
	assert.Empty(t, table.files)
}

func TestDeleteChunksByFileReturnsCount(t *testing.T) {
	index := newFakeIndex()
	table := newFakeTable()
	g := New(index, table, nil)

	g.UpsertChunks(context.Background(), []models.Chunk{
		chunk("c1", "f1", 0), chunk("c2", "f1", 1), chunk("c3", "f2", 0),
	}, &models.FileRecord{ID: "f1"})

	n := g.DeleteChunksByFile(context.Background(), "f1")
	assert.Equal(t, 2, n)
	assert.Len(t, index.chunks, 1)

	// Second delete finds nothing.
	assert.Equal(t, 0, g.DeleteChunksByFile(context.Background(), "f1"))
}

func TestDeleteFileRemovesChunksBeforeRecord(t *testing.T) {
	index := newFakeIndex()
	table := newFakeTable()
	g := New(index, table, nil)

	g.UpsertChunks(context.Background(), []models.Chunk{chunk("c1", "f1", 0)},
		&models.FileRecord{ID: "f1", Name: "doc.pdf"})

	ok := g.DeleteFile(context.Background(), "f1")
	assert.True(t, ok)
	assert.Empty(t, index.chunks)
	assert.Empty(t, table.files)
}

func TestSimilaritySearchThresholdAndCap(t *testing.T) {
	index := newFakeIndex()
	index.hits = []models.SearchHit{
		{Chunk: chunk("c1", "f1", 0), Score: 0.9},
		{Chunk: chunk("c2", "f1", 1), Score: 0.5},
		{Chunk: chunk("c3", "f1", 2), Score: 0.05},
	}
	g := New(index, newFakeTable(), nil)

	hits := g.SimilaritySearch(context.Background(), []float32{0.1}, 5, 0.1)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].Chunk.ID)

	// A threshold above every score yields nothing, never an error.
	assert.Empty(t, g.SimilaritySearch(context.Background(), []float32{0.1}, 5, 1.1))

	// topK caps the result even when more pass the threshold.
	hits = g.SimilaritySearch(context.Background(), []float32{0.1}, 1, 0.1)
	assert.Len(t, hits, 1)
}

func TestSimilaritySearchErrorYieldsEmpty(t *testing.T) {
	index := newFakeIndex()
	index.failAll = true
	g := New(index, newFakeTable(), nil)

	assert.Empty(t, g.SimilaritySearch(context.Background(), []float32{0.1}, 5, 0.1))
}

func TestLogQueryReturnsIDAndFeedback(t *testing.T) {
	table := newFakeTable()
	g := New(newFakeIndex(), table, nil)

	id := g.LogQuery(context.Background(), "¿pregunta?", "respuesta", nil)
	require.NotEmpty(t, id)
	assert.Contains(t, table.logs, id)

	assert.True(t, g.SetFeedback(context.Background(), id, 1))
	assert.Equal(t, 1, table.logs[id].UserFeedback)

	assert.False(t, g.SetFeedback(context.Background(), "missing", -1))
}

func TestLogQueryFailureReturnsEmptyID(t *testing.T) {
	table := newFakeTable()
	table.failAll = true
	g := New(newFakeIndex(), table, nil)

	assert.Empty(t, g.LogQuery(context.Background(), "q", "r", nil))
}

func TestScanAndDeleteByIDs(t *testing.T) {
	index := newFakeIndex()
	g := New(index, newFakeTable(), nil)

	g.UpsertChunks(context.Background(), []models.Chunk{
		chunk("c1", "f1", 0), chunk("c2", "f2", 0),
	}, &models.FileRecord{ID: "f1"})

	refs := g.ScanChunkRefs(context.Background())
	assert.Len(t, refs, 2)

	n := g.DeleteChunksByIDs(context.Background(), []string{"c1"})
	assert.Equal(t, 1, n)
	assert.Len(t, index.chunks, 1)
}
