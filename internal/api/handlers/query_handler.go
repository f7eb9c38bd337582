package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/driverag/backend/internal/metrics"
	"github.com/driverag/backend/internal/query"
	"github.com/driverag/backend/internal/storage/models"
	"github.com/driverag/backend/pkg/logger"
)

// Asker answers a question. It is satisfied by *query.Engine.
type Asker interface {
	Ask(ctx context.Context, question string) *query.Answer
}

// QueryStore is the slice of the gateway the query endpoints need.
type QueryStore interface {
	SetFeedback(ctx context.Context, queryID string, feedback int) bool
	ListQueryLogs(ctx context.Context, limit int) []models.QueryLogEntry
}

type QueryHandler struct {
	engine  Asker
	store   QueryStore
	tracker *metrics.Tracker
}

func NewQueryHandler(engine Asker, store QueryStore, tracker *metrics.Tracker) *QueryHandler {
	return &QueryHandler{
		engine:  engine,
		store:   store,
		tracker: tracker,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "question is required",
		})
	}

	answer := h.engine.Ask(c.Context(), req.Question)

	return c.JSON(fiber.Map{
		"query_id":   answer.QueryID,
		"question":   answer.Question,
		"response":   answer.Response,
		"sources":    answer.Sources,
		"from_cache": answer.FromCache,
	})
}

func (h *QueryHandler) HandleFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID  string `json:"query_id"`
		Feedback int    `json:"feedback"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.QueryID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query_id is required",
		})
	}

	if req.Feedback != 1 && req.Feedback != -1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "feedback must be 1 or -1",
		})
	}

	if !h.store.SetFeedback(c.Context(), req.QueryID, req.Feedback) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "query not found",
		})
	}

	return c.JSON(fiber.Map{
		"query_id": req.QueryID,
		"feedback": req.Feedback,
	})
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	entries := h.store.ListQueryLogs(c.Context(), limit)
	if entries == nil {
		entries = []models.QueryLogEntry{}
	}

	return c.JSON(fiber.Map{
		"history": entries,
		"count":   len(entries),
	})
}

func (h *QueryHandler) GetStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"operations": h.tracker.Snapshot(),
	})
}
