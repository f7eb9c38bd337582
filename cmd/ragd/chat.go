package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driverag/backend/internal/chat"
	"github.com/driverag/backend/pkg/logger"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions over the indexed documents interactively",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
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

	console := chat.NewConsole(a.queryEngine, a.gw, os.Stdin, cmd.OutOrStdout(), logger.GetLogger())
	if err := console.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
