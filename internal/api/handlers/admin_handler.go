package handlers

import (
	"context"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/driverag/backend/internal/reconcile"
	"github.com/driverag/backend/internal/storage/models"
	"github.com/driverag/backend/internal/sweeper"
	"github.com/driverag/backend/pkg/logger"
)

// Reconciler runs one sync pass. Satisfied by *reconcile.Engine.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Summary, error)
}

// OrphanSweeper scans for orphaned chunks. Satisfied by *sweeper.Sweeper.
type OrphanSweeper interface {
	Sweep(ctx context.Context, dryRun bool) (*sweeper.Report, error)
}

// FileStore is the slice of the gateway the admin endpoints need.
type FileStore interface {
	ListFiles(ctx context.Context) []models.FileRecord
	GetFile(ctx context.Context, fileID string) *models.FileRecord
	DeleteFile(ctx context.Context, fileID string) bool
}

type AdminHandler struct {
	store       FileStore
	reconciler  Reconciler
	sweep       OrphanSweeper
	reconciling atomic.Bool
}

func NewAdminHandler(store FileStore, reconciler Reconciler, sweep OrphanSweeper) *AdminHandler {
	return &AdminHandler{
		store:      store,
		reconciler: reconciler,
		sweep:      sweep,
	}
}

func (h *AdminHandler) ListFiles(c *fiber.Ctx) error {
	records := h.store.ListFiles(c.Context())
	if records == nil {
		records = []models.FileRecord{}
	}

	return c.JSON(fiber.Map{
		"files": records,
		"count": len(records),
	})
}

func (h *AdminHandler) GetFile(c *fiber.Ctx) error {
	fileID := c.Params("id")

	rec := h.store.GetFile(c.Context(), fileID)
	if rec == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "file not found",
		})
	}

	return c.JSON(rec)
}

func (h *AdminHandler) DeleteFile(c *fiber.Ctx) error {
	fileID := c.Params("id")

	if !h.store.DeleteFile(c.Context(), fileID) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "delete failed",
		})
	}

	logger.Info("File deleted via API", zap.String("file_id", fileID))
	return c.JSON(fiber.Map{
		"deleted": fileID,
	})
}

// TriggerReconcile kicks off a sync pass in the background. Only one pass
// runs at a time; a second request while one is in flight gets a 409.
func (h *AdminHandler) TriggerReconcile(c *fiber.Ctx) error {
	if !h.reconciling.CompareAndSwap(false, true) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "reconciliation already in progress",
		})
	}

	go func() {
		defer h.reconciling.Store(false)

		summary, err := h.reconciler.Reconcile(context.Background())
		if err != nil {
			logger.Error("Background reconciliation failed", zap.Error(err))
			return
		}
		logger.Info("Background reconciliation finished",
			zap.Int("new", summary.New),
			zap.Int("modified", summary.Modified),
			zap.Int("deleted", summary.Deleted),
			zap.Int("failed", summary.Failed),
		)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "reconciliation started",
	})
}

func (h *AdminHandler) SweepOrphans(c *fiber.Ctx) error {
	dryRun := c.QueryBool("dry_run", true)

	report, err := h.sweep.Sweep(c.Context(), dryRun)
	if err != nil {
		logger.Error("Orphan sweep failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "sweep failed",
		})
	}

	return c.JSON(report)
}
