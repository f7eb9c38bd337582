package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driverag/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFileRecordRoundTrip(t *testing.T) {
	c := newTestClient(t)

	rec := &models.FileRecord{
		ID:           "file-1",
		Name:         "informe.pdf",
		MimeType:     "application/pdf",
		LastModified: "2026-08-01T10:00:00.000Z",
		Checksum:     "abc123",
		Status:       models.StatusProcessed,
		TotalChunks:  7,
		ProcessedAt:  time.Now(),
	}
	require.NoError(t, c.UpsertFile(rec))

	got, err := c.GetFile("file-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Name, got.Name)
	assert.Equal(t, rec.Checksum, got.Checksum)
	assert.Equal(t, rec.LastModified, got.LastModified)
	assert.Equal(t, models.StatusProcessed, got.Status)
	assert.Equal(t, 7, got.TotalChunks)
}

func TestGetFileMissingReturnsNil(t *testing.T) {
	c := newTestClient(t)

	got, err := c.GetFile("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertFileReplaces(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.UpsertFile(&models.FileRecord{
		ID: "file-1", Name: "v1.txt", Status: models.StatusProcessing,
	}))
	require.NoError(t, c.UpsertFile(&models.FileRecord{
		ID: "file-1", Name: "v2.txt", Status: models.StatusProcessed, TotalChunks: 3,
	}))

	got, err := c.GetFile("file-1")
	require.NoError(t, err)
	assert.Equal(t, "v2.txt", got.Name)
	assert.Equal(t, models.StatusProcessed, got.Status)

	all, err := c.ListFiles()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteFile(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.UpsertFile(&models.FileRecord{ID: "file-1", Name: "a.txt", Status: models.StatusProcessed}))
	require.NoError(t, c.DeleteFile("file-1"))

	got, err := c.GetFile("file-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateFileStatus(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.UpsertFile(&models.FileRecord{ID: "file-1", Name: "a.txt", Status: models.StatusProcessing}))
	require.NoError(t, c.UpdateFileStatus("file-1", models.StatusProcessed, 12))

	got, err := c.GetFile("file-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, got.Status)
	assert.Equal(t, 12, got.TotalChunks)
	assert.False(t, got.ProcessedAt.IsZero())
}

func TestQueryLogAndFeedback(t *testing.T) {
	c := newTestClient(t)

	entry := &models.QueryLogEntry{
		ID:       "q-1",
		Query:    "¿Qué dice el informe?",
		Response: "El informe dice...",
		Sources: []models.Source{
			{FileName: "informe.pdf", FileID: "file-1", ChunkIndex: 2, TotalChunks: 7, Similarity: 0.83, Rank: 1},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, c.InsertQueryLog(entry))

	logs, err := c.ListQueryLogs(10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "q-1", logs[0].ID)
	assert.Equal(t, 0, logs[0].UserFeedback)
	require.Len(t, logs[0].Sources, 1)
	assert.Equal(t, "informe.pdf", logs[0].Sources[0].FileName)

	require.NoError(t, c.SetFeedback("q-1", 1))
	logs, err = c.ListQueryLogs(10)
	require.NoError(t, err)
	assert.Equal(t, 1, logs[0].UserFeedback)
}

func TestSetFeedbackValidation(t *testing.T) {
	c := newTestClient(t)

	assert.Error(t, c.SetFeedback("q-1", 2))
	assert.Error(t, c.SetFeedback("missing", 1))
}
