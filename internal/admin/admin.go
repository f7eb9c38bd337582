package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/driverag/backend/internal/storage/models"
	"github.com/driverag/backend/pkg/config"
)

// Store is the gateway surface the admin actions work through.
type Store interface {
	ListFiles(ctx context.Context) []models.FileRecord
	GetFile(ctx context.Context, fileID string) *models.FileRecord
	FetchChunksByFile(ctx context.Context, fileID string) []models.Chunk
	DeleteFile(ctx context.Context, fileID string) bool
}

// FileDetail is one record plus what the vector store actually holds for it.
type FileDetail struct {
	Record       models.FileRecord `json:"record"`
	StoredChunks int               `json:"stored_chunks"`
}

// Probe is one connectivity check the caller wires in.
type Probe struct {
	Name string
	Fn   func(ctx context.Context) error
}

// CheckResult is the outcome of one setup check.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type Admin struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admin{store: store, logger: logger}
}

func (a *Admin) ListFiles(ctx context.Context) []models.FileRecord {
	return a.store.ListFiles(ctx)
}

// ShowFile returns the tracking record together with the chunk count actually
// present in the vector store. A mismatch against TotalChunks points at a
// partial write.
func (a *Admin) ShowFile(ctx context.Context, fileID string) (*FileDetail, error) {
	rec := a.store.GetFile(ctx, fileID)
	if rec == nil {
		return nil, fmt.Errorf("no record for file %s", fileID)
	}

	chunks := a.store.FetchChunksByFile(ctx, fileID)
	return &FileDetail{
		Record:       *rec,
		StoredChunks: len(chunks),
	}, nil
}

func (a *Admin) DeleteFile(ctx context.Context, fileID string) error {
	if a.store.GetFile(ctx, fileID) == nil {
		return fmt.Errorf("no record for file %s", fileID)
	}
	if !a.store.DeleteFile(ctx, fileID) {
		return fmt.Errorf("delete failed for file %s", fileID)
	}
	a.logger.Info("File deleted", zap.String("file_id", fileID))
	return nil
}

// ExportRecords writes every file record to path as indented JSON and returns
// the number of records written.
func (a *Admin) ExportRecords(ctx context.Context, path string) (int, error) {
	records := a.store.ListFiles(ctx)
	if records == nil {
		records = []models.FileRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal records: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}

	a.logger.Info("Records exported",
		zap.String("path", path),
		zap.Int("count", len(records)),
	)
	return len(records), nil
}

// Check runs the setup checks: required configuration first, then whatever
// connectivity probes the caller wired in.
func (a *Admin) Check(ctx context.Context, cfg *config.Config, probes []Probe) []CheckResult {
	var results []CheckResult

	add := func(name string, err error) {
		r := CheckResult{Name: name, OK: err == nil}
		if err != nil {
			r.Detail = err.Error()
		}
		results = append(results, r)
	}

	add("config: sync settings", cfg.ValidateSync())
	add("config: query settings", cfg.ValidateQuery())

	for _, p := range probes {
		if err := ctx.Err(); err != nil {
			add(p.Name, err)
			continue
		}
		add(p.Name, p.Fn(ctx))
	}

	return results
}
