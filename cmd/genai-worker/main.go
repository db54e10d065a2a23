package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdfme/dms-pipeline/pkg/config"
	"github.com/pdfme/dms-pipeline/pkg/database"
	"github.com/pdfme/dms-pipeline/pkg/logging"
	"github.com/pdfme/dms-pipeline/pkg/poller"
	"github.com/pdfme/dms-pipeline/pkg/summarizer"
)

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "genai-worker",
		Short:        "Summarize OCR'd documents with a generative AI provider",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("genai worker starting")
	logger.Info("config",
		"postgres", cfg.Postgres.Target(),
		"provider", cfg.GenAI.Provider,
		"model", cfg.GenAI.Model,
		"baseUrl", cfg.GenAI.BaseURL,
		"project", cfg.GenAI.Project,
		"location", cfg.GenAI.Location,
		"apiKeySet", cfg.GenAI.APIKey != "",
		"pollInterval", cfg.GenAI.PollInterval,
		"errorBackoff", cfg.GenAI.ErrorBackoff,
		"maxInputChars", cfg.GenAI.MaxInputChars)

	db, err := database.NewPostgresDB(ctx, cfg.Postgres.Database())
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer db.Close()
	logger.Info("PostgreSQL connected")

	client, err := summarizer.New(ctx, cfg.GenAI.Summarizer())
	if err != nil {
		return fmt.Errorf("failed to create summarizer: %w", err)
	}
	defer client.Close()

	p := poller.New(db, client, cfg.GenAI.Poller(), logger)
	if err := p.Run(ctx); err != nil {
		return err
	}

	logger.Info("genai worker stopped")
	return nil
}
