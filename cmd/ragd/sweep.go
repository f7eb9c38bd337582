package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var sweepDelete bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Find chunks whose file record is gone",
	Long: `Scans the vector store for chunks that no longer have a tracking
record. By default only reports; pass --delete to remove them.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDelete, "delete", false, "delete orphaned chunks instead of only reporting")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateQuery(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.sweep.Sweep(ctx, !sweepDelete)
	if err != nil {
		return err
	}

	cmd.Printf("Scanned %d chunks, found %d orphans\n", report.ChunksScanned, len(report.Orphans))
	if report.DryRun {
		for _, ref := range report.Orphans {
			cmd.Printf("  orphan chunk %s (file %s)\n", ref.ChunkID, ref.FileID)
		}
		if len(report.Orphans) > 0 {
			cmd.Println("Run again with --delete to remove them.")
		}
	} else {
		cmd.Printf("Deleted %d orphaned chunks\n", report.Deleted)
	}
	return nil
}
