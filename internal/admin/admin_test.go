package admin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driverag/backend/internal/storage/models"
	"github.com/driverag/backend/pkg/config"
)

type fakeAdminStore struct {
	records map[string]models.FileRecord
	chunks  map[string][]models.Chunk
	deleted []string
}

func (f *fakeAdminStore) ListFiles(_ context.Context) []models.FileRecord {
	var out []models.FileRecord
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out
}

func (f *fakeAdminStore) GetFile(_ context.Context, fileID string) *models.FileRecord {
	rec, ok := f.records[fileID]
	if !ok {
		return nil
	}
	return &rec
}

func (f *fakeAdminStore) FetchChunksByFile(_ context.Context, fileID string) []models.Chunk {
	return f.chunks[fileID]
}

func (f *fakeAdminStore) DeleteFile(_ context.Context, fileID string) bool {
	delete(f.records, fileID)
	f.deleted = append(f.deleted, fileID)
	return true
}

func TestShowFile(t *testing.T) {
	store := &fakeAdminStore{
		records: map[string]models.FileRecord{
			"f1": {ID: "f1", Name: "doc.txt", TotalChunks: 3},
		},
		chunks: map[string][]models.Chunk{
			"f1": {{ID: "c1"}, {ID: "c2"}},
		},
	}
	a := New(store, nil)

	detail, err := a.ShowFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", detail.Record.Name)
	assert.Equal(t, 3, detail.Record.TotalChunks)
	assert.Equal(t, 2, detail.StoredChunks)
}

func TestShowFileMissing(t *testing.T) {
	a := New(&fakeAdminStore{records: map[string]models.FileRecord{}}, nil)

	_, err := a.ShowFile(context.Background(), "nope")
	require.Error(t, err)
}

func TestDeleteFile(t *testing.T) {
	store := &fakeAdminStore{
		records: map[string]models.FileRecord{"f1": {ID: "f1"}},
	}
	a := New(store, nil)

	require.NoError(t, a.DeleteFile(context.Background(), "f1"))
	assert.Equal(t, []string{"f1"}, store.deleted)

	err := a.DeleteFile(context.Background(), "f1")
	require.Error(t, err, "second delete has no record")
}

func TestExportRecords(t *testing.T) {
	store := &fakeAdminStore{
		records: map[string]models.FileRecord{
			"f1": {ID: "f1", Name: "a.txt"},
			"f2": {ID: "f2", Name: "b.pdf"},
		},
	}
	a := New(store, nil)

	path := filepath.Join(t.TempDir(), "export.json")
	n, err := a.ExportRecords(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []models.FileRecord
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 2)
}

func TestCheckReportsFailures(t *testing.T) {
	a := New(&fakeAdminStore{}, nil)
	cfg := &config.Config{}

	probes := []Probe{
		{Name: "storage: sqlite", Fn: func(context.Context) error { return nil }},
		{Name: "vector: milvus", Fn: func(context.Context) error { return errors.New("unreachable") }},
	}

	results := a.Check(context.Background(), cfg, probes)
	require.Len(t, results, 4)

	byName := make(map[string]CheckResult)
	for _, r := range results {
		byName[r.Name] = r
	}

	assert.False(t, byName["config: sync settings"].OK, "empty config must fail")
	assert.True(t, byName["storage: sqlite"].OK)
	assert.False(t, byName["vector: milvus"].OK)
	assert.Contains(t, byName["vector: milvus"].Detail, "unreachable")
}
