package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driverag/backend/internal/splitter"
	"github.com/driverag/backend/internal/storage/models"
)

type fakeFileStore struct {
	files    map[string]models.RemoteFile
	contents map[string]string
	listErr  error
	dir      string
}

func newFakeFileStore(t *testing.T) *fakeFileStore {
	return &fakeFileStore{
		files:    make(map[string]models.RemoteFile),
		contents: make(map[string]string),
		dir:      t.TempDir(),
	}
}

func (f *fakeFileStore) put(file models.RemoteFile, content string) {
	f.files[file.ID] = file
	f.contents[file.ID] = content
}

func (f *fakeFileStore) List(_ context.Context) ([]models.RemoteFile, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []models.RemoteFile
	for _, file := range f.files {
		out = append(out, file)
	}
	return out, nil
}

func (f *fakeFileStore) Download(_ context.Context, file models.RemoteFile) (string, error) {
	content, ok := f.contents[file.ID]
	if !ok {
		return "", errors.New("remote file vanished")
	}
	path := filepath.Join(f.dir, file.ID+".txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeBatcher struct {
	calls   int
	failAll bool
}

func (f *fakeBatcher) EmbedBatch(_ context.Context, texts []string) [][]float32 {
	f.calls++
	out := make([][]float32, len(texts))
	if f.failAll {
		return out
	}
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out
}

type fakeStore struct {
	chunks  map[string]models.Chunk
	records map[string]models.FileRecord
	ops     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chunks:  make(map[string]models.Chunk),
		records: make(map[string]models.FileRecord),
	}
}

func (f *fakeStore) UpsertChunks(_ context.Context, chunks []models.Chunk, rec *models.FileRecord) int {
	f.ops = append(f.ops, "upsert:"+rec.ID)
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	rec.Status = models.StatusProcessed
	rec.TotalChunks = len(chunks)
	f.records[rec.ID] = *rec
	return len(chunks)
}

func (f *fakeStore) DeleteChunksByFile(_ context.Context, fileID string) int {
	f.ops = append(f.ops, "delete_chunks:"+fileID)
	n := 0
	for id, c := range f.chunks {
		if c.Metadata.FileID == fileID {
			delete(f.chunks, id)
			n++
		}
	}
	return n
}

func (f *fakeStore) DeleteFile(_ context.Context, fileID string) bool {
	f.ops = append(f.ops, "delete_file:"+fileID)
	for id, c := range f.chunks {
		if c.Metadata.FileID == fileID {
			delete(f.chunks, id)
		}
	}
	delete(f.records, fileID)
	return true
}

func (f *fakeStore) ListFiles(_ context.Context) []models.FileRecord {
	var out []models.FileRecord
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out
}

func (f *fakeStore) GetFile(_ context.Context, fileID string) *models.FileRecord {
	rec, ok := f.records[fileID]
	if !ok {
		return nil
	}
	return &rec
}

func (f *fakeStore) MarkFile(_ context.Context, rec *models.FileRecord) bool {
	f.ops = append(f.ops, fmt.Sprintf("mark:%s:%s", rec.ID, rec.Status))
	f.records[rec.ID] = *rec
	return true
}

func (f *fakeStore) chunkCount(fileID string) int {
	n := 0
	for _, c := range f.chunks {
		if c.Metadata.FileID == fileID {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T, store *fakeFileStore, gw *fakeStore) *Engine {
	sp := splitter.NewSplitter(3000, 400, nil)
	return NewEngine(store, sp, &fakeBatcher{}, gw, nil, nil)
}

func remoteTxt(id, modified, checksum string) models.RemoteFile {
	return models.RemoteFile{
		ID:           id,
		Name:         id + ".txt",
		MimeType:     "text/plain",
		ModifiedTime: modified,
		Checksum:     checksum,
	}
}

func TestReconcileNewModifiedDeletedLifecycle(t *testing.T) {
	store := newFakeFileStore(t)
	gw := newFakeStore()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	// First pass: one new file.
	store.put(remoteTxt("a", "2026-08-01T10:00:00.000Z", "sum1"), "Contenido inicial del documento.")
	summary, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{New: 1}, summary)
	assert.Equal(t, models.StatusProcessed, gw.records["a"].Status)
	assert.Equal(t, 1, gw.chunkCount("a"))

	// Second pass: content modified, checksum changes.
	store.put(remoteTxt("a", "2026-08-02T10:00:00.000Z", "sum2"), "Contenido corregido del documento.")
	summary, err = engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Modified: 1}, summary)
	assert.Equal(t, 1, gw.chunkCount("a"))

	// Third pass: file removed remotely.
	delete(store.files, "a")
	delete(store.contents, "a")
	summary, err = engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Deleted: 1}, summary)
	assert.Equal(t, 0, gw.chunkCount("a"))
	assert.Empty(t, gw.records)
}

func TestReconcileIdempotentSecondPass(t *testing.T) {
	store := newFakeFileStore(t)
	gw := newFakeStore()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	store.put(remoteTxt("a", "2026-08-01T10:00:00.000Z", "sum1"), "Texto que no cambia.")
	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)

	opsAfterFirst := len(gw.ops)
	summary, err := engine.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, Summary{Unchanged: 1}, summary)
	assert.Equal(t, opsAfterFirst, len(gw.ops), "second pass must not write")
}

func TestReconcileTimestampNormalizationPreventsReprocess(t *testing.T) {
	store := newFakeFileStore(t)
	gw := newFakeStore()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	// No checksum on either side: timestamps decide.
	store.put(remoteTxt("a", "2026-08-01T10:00:00.000Z", ""), "Documento nativo.")
	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)

	// Same instant, different representation.
	store.put(remoteTxt("a", "2026-08-01T10:00:00Z", ""), "Documento nativo.")
	summary, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Unchanged: 1}, summary)
}

func TestReconcileChecksumAuthoritativeOverTimestamp(t *testing.T) {
	store := newFakeFileStore(t)
	gw := newFakeStore()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	store.put(remoteTxt("a", "2026-08-01T10:00:00Z", "same"), "Texto.")
	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)

	// Timestamp moved but the content did not: no reprocess.
	store.put(remoteTxt("a", "2026-08-05T09:00:00Z", "same"), "Texto.")
	summary, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Unchanged: 1}, summary)
}

func TestReconcileModifiedDeletesChunksBeforeUpsert(t *testing.T) {
	store := newFakeFileStore(t)
	gw := newFakeStore()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	store.put(remoteTxt("a", "2026-08-01T10:00:00Z", "sum1"), "Versión uno.")
	_, err := engine.Reconcile(ctx)
	require.NoError(t, err)

	store.put(remoteTxt("a", "2026-08-02T10:00:00Z", "sum2"), "Versión dos.")
	gw.ops = nil
	_, err = engine.Reconcile(ctx)
	require.NoError(t, err)

	deleteIdx, upsertIdx := -1, -1
	for i, op := range gw.ops {
		if op == "delete_chunks:a" && deleteIdx == -1 {
			deleteIdx = i
		}
		if op == "upsert:a" {
			upsertIdx = i
		}
	}
	require.GreaterOrEqual(t, deleteIdx, 0)
	require.GreaterOrEqual(t, upsertIdx, 0)
	assert.Less(t, deleteIdx, upsertIdx)
}

func TestReconcileListingFailureAbortsPass(t *testing.T) {
	store := newFakeFileStore(t)
	gw := newFakeStore()
	gw.records["orphan"] = models.FileRecord{ID: "orphan", Status: models.StatusProcessed}
	engine := newTestEngine(t, store, gw)

	store.listErr = errors.New("api down")
	_, err := engine.Reconcile(context.Background())
	require.Error(t, err)
	// Nothing was deleted even though the record has no remote counterpart.
	assert.Contains(t, gw.records, "orphan")
}

func TestReconcilePerFileFailureCountsAndContinues(t *testing.T) {
	store := newFakeFileStore(t)
	gw := newFakeStore()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	store.put(remoteTxt("good", "2026-08-01T10:00:00Z", "s1"), "Texto válido.")
	store.put(remoteTxt("bad", "2026-08-01T10:00:00Z", "s2"), "Texto.")
	// Download for "bad" fails.
	delete(store.contents, "bad")

	summary, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.StatusProcessed, gw.records["good"].Status)
	assert.Equal(t, models.StatusError, gw.records["bad"].Status)
}

func TestReconcileEmbeddingFailureMarksError(t *testing.T) {
	store := newFakeFileStore(t)
	gw := newFakeStore()
	sp := splitter.NewSplitter(3000, 400, nil)
	engine := NewEngine(store, sp, &fakeBatcher{failAll: true}, gw, nil, nil)
	ctx := context.Background()

	store.put(remoteTxt("a", "2026-08-01T10:00:00Z", "s1"), "Texto.")
	summary, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, models.StatusError, gw.records["a"].Status)
	assert.Equal(t, 0, gw.chunkCount("a"))
}

func TestReconcileEmptyFileKeptWithZeroChunks(t *testing.T) {
	store := newFakeFileStore(t)
	gw := newFakeStore()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	store.put(remoteTxt("a", "2026-08-01T10:00:00Z", "s1"), "   ")
	summary, err := engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, models.StatusProcessed, gw.records["a"].Status)
	assert.Equal(t, 0, gw.records["a"].TotalChunks)
}

func TestEventHandlerRoutes(t *testing.T) {
	store := newFakeFileStore(t)
	gw := newFakeStore()
	engine := newTestEngine(t, store, gw)
	ctx := context.Background()

	f := remoteTxt("a", "2026-08-01T10:00:00Z", "s1")
	store.put(f, "Texto.")

	require.NoError(t, engine.OnNewFile(ctx, f))
	assert.Equal(t, 1, gw.chunkCount("a"))

	// Modified event with identical checksum is a no-op.
	gw.ops = nil
	require.NoError(t, engine.OnModifiedFile(ctx, f))
	assert.Empty(t, gw.ops)

	// Real modification reprocesses.
	f2 := remoteTxt("a", "2026-08-02T10:00:00Z", "s2")
	store.put(f2, "Texto nuevo.")
	require.NoError(t, engine.OnModifiedFile(ctx, f2))
	assert.Equal(t, "s2", gw.records["a"].Checksum)

	require.NoError(t, engine.OnDeletedFile(ctx, "a"))
	assert.Empty(t, gw.records)
}

func TestNormalizeTimestamp(t *testing.T) {
	tests := []struct {
		a, b string
		same bool
	}{
		{"2026-08-01T10:00:00.000Z", "2026-08-01T10:00:00Z", true},
		{"2026-08-01T10:00:00.123456Z", "2026-08-01T10:00:00Z", true},
		{"2026-08-01T12:00:00+02:00", "2026-08-01T10:00:00Z", true},
		{"2026-08-01T10:00:00", "2026-08-01T10:00:00Z", true},
		{"2026-08-01T10:00:00", "2026-08-01T10:00:00.000Z", true},
		{"2026-08-01T10:00:00Z", "2026-08-01T10:00:01Z", false},
		{"", "", true},
	}
	for _, tt := range tests {
		got := normalizeTimestamp(tt.a) == normalizeTimestamp(tt.b)
		assert.Equal(t, tt.same, got, "%q vs %q", tt.a, tt.b)
	}
}
