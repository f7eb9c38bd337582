package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one reconciliation pass against the Drive folder",
	Long: `Lists the configured Drive folder, processes new and modified files,
removes records for deleted ones, and exits.`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
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

	summary, err := a.reconciler.Reconcile(ctx)
	if err != nil {
		return err
	}

	cmd.Printf("Reconciliation finished: %d new, %d modified, %d unchanged, %d deleted, %d failed\n",
		summary.New, summary.Modified, summary.Unchanged, summary.Deleted, summary.Failed)
	return nil
}
