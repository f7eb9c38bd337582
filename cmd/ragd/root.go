package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driverag/backend/internal/metrics"
	"github.com/driverag/backend/pkg/config"
	"github.com/driverag/backend/pkg/logger"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "ragd",
	Short: "Google Drive RAG pipeline",
	Long: `ragd keeps a Milvus vector store in sync with a Google Drive folder
and answers questions over the indexed documents.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		metrics.Init()
		return nil
	},
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}
