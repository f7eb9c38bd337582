package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driverag/backend/internal/drive"
	"github.com/driverag/backend/pkg/logger"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the Drive folder and process changes continuously",
	Long: `Polls the configured Drive folder and routes every new, modified or
deleted file through the reconciliation pipeline. Runs until interrupted.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateSync(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	interval := time.Duration(cfg.Drive.PollIntervalSec) * time.Second
	m := drive.NewMonitor(a.drive, a.reconciler, cfg.Drive.StatePath, interval, logger.GetLogger())

	cmd.Printf("Monitoring folder %s every %s\n", cfg.Drive.FolderID, interval)

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
