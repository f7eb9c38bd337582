package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driverag/backend/internal/admin"
	"github.com/driverag/backend/pkg/logger"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Inspect and manage the document index",
}

var adminListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked files",
	RunE:  withAdmin(adminList),
}

var adminShowCmd = &cobra.Command{
	Use:   "show <file-id>",
	Short: "Show a file's record and stored chunk count",
	Args:  cobra.ExactArgs(1),
	RunE:  withAdmin(adminShow),
}

var adminDeleteCmd = &cobra.Command{
	Use:   "delete <file-id>",
	Short: "Delete a file's chunks and tracking record",
	Args:  cobra.ExactArgs(1),
	RunE:  withAdmin(adminDelete),
}

var adminExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export all file records to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  withAdmin(adminExport),
}

var adminCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify configuration and backend connectivity",
	RunE:  withAdmin(adminCheck),
}

func init() {
	adminCmd.AddCommand(adminListCmd, adminShowCmd, adminDeleteCmd, adminExportCmd, adminCheckCmd)
	rootCmd.AddCommand(adminCmd)
}

type adminRun func(ctx context.Context, cmd *cobra.Command, args []string, a *app, adm *admin.Admin) error

// withAdmin wires the pipeline once and hands the subcommand a ready Admin.
func withAdmin(fn adminRun) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, cmd, args, a, admin.New(a.gw, logger.GetLogger()))
	}
}

func adminList(ctx context.Context, cmd *cobra.Command, _ []string, _ *app, adm *admin.Admin) error {
	records := adm.ListFiles(ctx)
	if len(records) == 0 {
		cmd.Println("No tracked files.")
		return nil
	}

	cmd.Printf("%-35s %-40s %-10s %7s\n", "ID", "NAME", "STATUS", "CHUNKS")
	for _, rec := range records {
		cmd.Printf("%-35s %-40s %-10s %7d\n", rec.ID, rec.Name, rec.Status, rec.TotalChunks)
	}
	return nil
}

func adminShow(ctx context.Context, cmd *cobra.Command, args []string, _ *app, adm *admin.Admin) error {
	detail, err := adm.ShowFile(ctx, args[0])
	if err != nil {
		return err
	}

	rec := detail.Record
	cmd.Printf("ID:            %s\n", rec.ID)
	cmd.Printf("Name:          %s\n", rec.Name)
	cmd.Printf("MIME type:     %s\n", rec.MimeType)
	cmd.Printf("Status:        %s\n", rec.Status)
	cmd.Printf("Last modified: %s\n", rec.LastModified)
	cmd.Printf("Checksum:      %s\n", rec.Checksum)
	cmd.Printf("Chunks:        %d tracked, %d stored\n", rec.TotalChunks, detail.StoredChunks)
	if rec.TotalChunks != detail.StoredChunks {
		cmd.Println("WARNING: tracked and stored chunk counts differ")
	}
	return nil
}

func adminDelete(ctx context.Context, cmd *cobra.Command, args []string, _ *app, adm *admin.Admin) error {
	if err := adm.DeleteFile(ctx, args[0]); err != nil {
		return err
	}
	cmd.Printf("Deleted %s\n", args[0])
	return nil
}

func adminExport(ctx context.Context, cmd *cobra.Command, args []string, _ *app, adm *admin.Admin) error {
	n, err := adm.ExportRecords(ctx, args[0])
	if err != nil {
		return err
	}
	cmd.Printf("Exported %d records to %s\n", n, args[0])
	return nil
}

func adminCheck(ctx context.Context, cmd *cobra.Command, _ []string, a *app, adm *admin.Admin) error {
	probes := []admin.Probe{
		{Name: "storage: sqlite schema", Fn: func(context.Context) error { return a.sqlite.InitSchema() }},
		{Name: "vector: milvus collection", Fn: a.vector.EnsureCollection},
	}

	failed := 0
	for _, r := range adm.Check(ctx, cfg, probes) {
		mark := "ok"
		if !r.OK {
			mark = "FAIL"
			failed++
		}
		cmd.Printf("[%-4s] %s", mark, r.Name)
		if r.Detail != "" {
			cmd.Printf(" (%s)", r.Detail)
		}
		cmd.Println()
	}

	if failed > 0 {
		cmd.Printf("%d checks failed\n", failed)
	}
	return nil
}
