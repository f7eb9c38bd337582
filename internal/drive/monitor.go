package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/driverag/backend/internal/storage/models"
)

// EventHandler receives folder change events. Handler errors are logged and
// do not stop the monitor; the file stays in its previous state and the event
// fires again on the next cycle.
type EventHandler interface {
	OnNewFile(ctx context.Context, file models.RemoteFile) error
	OnModifiedFile(ctx context.Context, file models.RemoteFile) error
	OnDeletedFile(ctx context.Context, fileID string) error
}

// Lister is the slice of the Drive client the monitor needs.
type Lister interface {
	List(ctx context.Context) ([]models.RemoteFile, error)
}

// Monitor polls a Drive folder and dispatches change events. Its snapshot
// file is advisory: losing it only means the next cycle re-reports known
// files as new, and the pipeline is idempotent to that.
type Monitor struct {
	lister    Lister
	handler   EventHandler
	statePath string
	interval  time.Duration
	logger    *zap.Logger

	known     map[string]string
	lastCheck time.Time
}

type monitorState struct {
	KnownFiles    map[string]string `json:"known_files"`
	LastCheckTime string            `json:"last_check_time"`
}

func NewMonitor(lister Lister, handler EventHandler, statePath string, interval time.Duration, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		lister:    lister,
		handler:   handler,
		statePath: statePath,
		interval:  interval,
		logger:    logger,
		known:     make(map[string]string),
	}
}

// Run polls until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.loadState(); err != nil {
		m.logger.Warn("Could not load monitor state, starting fresh", zap.Error(err))
	}

	m.logger.Info("Folder monitor started",
		zap.Duration("interval", m.interval),
		zap.Int("known_files", len(m.known)),
	)

	for {
		if err := m.checkOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("Monitor cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.interval):
		}
	}
}

func (m *Monitor) checkOnce(ctx context.Context) error {
	files, err := m.lister.List(ctx)
	if err != nil {
		return fmt.Errorf("listing failed: %w", err)
	}

	current := make(map[string]string, len(files))
	for _, f := range files {
		current[f.ID] = f.ModifiedTime
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		prev, seen := m.known[f.ID]
		switch {
		case !seen:
			m.logger.Info("New file detected", zap.String("file", f.Name))
			if err := m.handler.OnNewFile(ctx, f); err != nil {
				m.logger.Error("New-file handler failed", zap.String("file", f.Name), zap.Error(err))
				delete(current, f.ID)
			}
		case prev != f.ModifiedTime:
			m.logger.Info("Modified file detected", zap.String("file", f.Name))
			if err := m.handler.OnModifiedFile(ctx, f); err != nil {
				m.logger.Error("Modified-file handler failed", zap.String("file", f.Name), zap.Error(err))
				current[f.ID] = prev
			}
		}
	}

	for id := range m.known {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, still := current[id]; !still {
			m.logger.Info("Deleted file detected", zap.String("file_id", id))
			if err := m.handler.OnDeletedFile(ctx, id); err != nil {
				m.logger.Error("Deleted-file handler failed", zap.String("file_id", id), zap.Error(err))
				current[id] = m.known[id]
			}
		}
	}

	m.known = current
	m.lastCheck = time.Now()

	if err := m.saveState(); err != nil {
		m.logger.Warn("Could not save monitor state", zap.Error(err))
	}
	return nil
}

func (m *Monitor) loadState() error {
	if m.statePath == "" {
		return nil
	}

	data, err := os.ReadFile(m.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var state monitorState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("corrupt state file: %w", err)
	}

	if state.KnownFiles != nil {
		m.known = state.KnownFiles
	}
	if state.LastCheckTime != "" {
		if t, err := time.Parse(time.RFC3339, state.LastCheckTime); err == nil {
			m.lastCheck = t
		}
	}
	return nil
}

func (m *Monitor) saveState() error {
	if m.statePath == "" {
		return nil
	}

	state := monitorState{
		KnownFiles:    m.known,
		LastCheckTime: m.lastCheck.Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(m.statePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(m.statePath, data, 0644)
}
