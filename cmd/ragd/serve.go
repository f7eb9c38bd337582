package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/driverag/backend/internal/api/handlers"
	"github.com/driverag/backend/internal/metrics"
	"github.com/driverag/backend/internal/middleware/ratelimit"
	"github.com/driverag/backend/internal/middleware/security"
	"github.com/driverag/backend/internal/middleware/validation"
	"github.com/driverag/backend/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serves the query API. The reconcile endpoint is only registered when
Drive credentials are configured; without them the server is query-only.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateQuery(); err != nil {
		return err
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	withDrive := cfg.ValidateSync() == nil
	a, err := buildApp(ctx, withDrive)
	if err != nil {
		return err
	}
	defer a.Close()

	if !withDrive {
		log.Warn("Drive not configured, reconcile endpoint disabled")
	}

	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	server.Use(recover.New())
	server.Use(fiberlogger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	server.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	rl := ratelimit.New(ratelimit.Config{Logger: log})
	defer rl.Stop()
	server.Use(rl.Middleware())
	server.Use(validation.Middleware(validation.Config{Logger: log}))

	queryHandler := handlers.NewQueryHandler(a.queryEngine, a.gw, a.queryEngine.Tracker())
	adminHandler := handlers.NewAdminHandler(a.gw, a.reconciler, a.sweep)

	api := server.Group("/api/v1")

	api.Post("/query", queryHandler.HandleQuery)
	api.Post("/feedback", queryHandler.HandleFeedback)
	api.Get("/queries", queryHandler.GetQueryHistory)
	api.Get("/stats", queryHandler.GetStats)

	api.Get("/files", adminHandler.ListFiles)
	api.Get("/files/:id", adminHandler.GetFile)
	api.Delete("/files/:id", adminHandler.DeleteFile)
	api.Post("/sweep", adminHandler.SweepOrphans)

	if withDrive {
		api.Post("/reconcile", adminHandler.TriggerReconcile)
	}

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	server.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Server starting", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Server shutting down gracefully...")
	if err := server.Shutdown(); err != nil {
		return err
	}
	log.Info("Server stopped")
	return nil
}
