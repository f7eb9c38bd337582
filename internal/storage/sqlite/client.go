package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/driverag/backend/internal/storage/models"
	"github.com/driverag/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		mime_type TEXT,
		last_modified TEXT,
		checksum TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		total_chunks INTEGER NOT NULL DEFAULT 0,
		processed_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS queries (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		response TEXT,
		sources TEXT,
		user_feedback INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_status ON files(status);
	CREATE INDEX IF NOT EXISTS idx_queries_created ON queries(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

// UpsertFile inserts or fully replaces the record for a file id.
func (c *Client) UpsertFile(rec *models.FileRecord) error {
	query := `
	INSERT INTO files (id, name, mime_type, last_modified, checksum, status, total_chunks, processed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		mime_type = excluded.mime_type,
		last_modified = excluded.last_modified,
		checksum = excluded.checksum,
		status = excluded.status,
		total_chunks = excluded.total_chunks,
		processed_at = excluded.processed_at
	`

	var processedAt int64
	if !rec.ProcessedAt.IsZero() {
		processedAt = rec.ProcessedAt.Unix()
	}

	_, err := c.db.Exec(query,
		rec.ID, rec.Name, rec.MimeType, rec.LastModified, rec.Checksum,
		string(rec.Status), rec.TotalChunks, processedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert file record: %w", err)
	}
	return nil
}

// GetFile returns the record for id, or (nil, nil) when there is none.
func (c *Client) GetFile(id string) (*models.FileRecord, error) {
	row := c.db.QueryRow(`
		SELECT id, name, mime_type, last_modified, checksum, status, total_chunks, processed_at
		FROM files WHERE id = ?`, id)

	rec, err := scanFileRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return rec, nil
}

func (c *Client) ListFiles() ([]models.FileRecord, error) {
	rows, err := c.db.Query(`
		SELECT id, name, mime_type, last_modified, checksum, status, total_chunks, processed_at
		FROM files ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}
	defer rows.Close()

	var records []models.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (c *Client) DeleteFile(id string) error {
	if _, err := c.db.Exec(`DELETE FROM files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return nil
}

func (c *Client) UpdateFileStatus(id string, status models.FileStatus, totalChunks int) error {
	_, err := c.db.Exec(`
		UPDATE files SET status = ?, total_chunks = ?, processed_at = ? WHERE id = ?`,
		string(status), totalChunks, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update file status: %w", err)
	}
	return nil
}

func (c *Client) InsertQueryLog(entry *models.QueryLogEntry) error {
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT INTO queries (id, query, response, sources, user_feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Query, entry.Response, string(sources),
		entry.UserFeedback, entry.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert query log: %w", err)
	}
	return nil
}

// SetFeedback records +1 or -1 against a logged query.
func (c *Client) SetFeedback(id string, feedback int) error {
	if feedback != 1 && feedback != -1 {
		return fmt.Errorf("feedback must be +1 or -1, got %d", feedback)
	}

	res, err := c.db.Exec(`UPDATE queries SET user_feedback = ? WHERE id = ?`, feedback, id)
	if err != nil {
		return fmt.Errorf("failed to set feedback: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check feedback update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("query %s not found", id)
	}
	return nil
}

func (c *Client) ListQueryLogs(limit int) ([]models.QueryLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.Query(`
		SELECT id, query, response, sources, user_feedback, created_at
		FROM queries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list query logs: %w", err)
	}
	defer rows.Close()

	var entries []models.QueryLogEntry
	for rows.Next() {
		var entry models.QueryLogEntry
		var sources sql.NullString
		var createdAt int64

		if err := rows.Scan(&entry.ID, &entry.Query, &entry.Response, &sources,
			&entry.UserFeedback, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan query log: %w", err)
		}

		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &entry.Sources); err != nil {
				logger.Warn("Failed to decode query sources", zap.String("id", entry.ID), zap.Error(err))
			}
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFileRecord(row rowScanner) (*models.FileRecord, error) {
	var rec models.FileRecord
	var status string
	var checksum, mimeType, lastModified sql.NullString
	var processedAt sql.NullInt64

	err := row.Scan(&rec.ID, &rec.Name, &mimeType, &lastModified, &checksum,
		&status, &rec.TotalChunks, &processedAt)
	if err != nil {
		return nil, err
	}

	rec.MimeType = mimeType.String
	rec.LastModified = lastModified.String
	rec.Checksum = checksum.String
	rec.Status = models.FileStatus(status)
	if processedAt.Valid && processedAt.Int64 > 0 {
		rec.ProcessedAt = time.Unix(processedAt.Int64, 0)
	}
	return &rec, nil
}
