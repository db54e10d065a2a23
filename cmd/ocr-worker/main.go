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
	minioPkg "github.com/pdfme/dms-pipeline/pkg/minio"
	"github.com/pdfme/dms-pipeline/pkg/ocr"
	"github.com/pdfme/dms-pipeline/pkg/processor"
	"github.com/pdfme/dms-pipeline/pkg/rabbitmq"
)

func main() {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:          "ocr-worker",
		Short:        "Consume OCR jobs, recognize PDFs and store their text",
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
	logger.Info("ocr worker starting")
	logger.Info("config",
		"rabbit", rabbitmq.RedactURL(cfg.Rabbit.AMQPURL()),
		"queue", cfg.Rabbit.Queue,
		"prefetch", cfg.Rabbit.Prefetch,
		"deadLetter", cfg.Rabbit.EnableDLQ,
		"s3Endpoint", cfg.S3.Endpoint,
		"bucket", cfg.S3.Bucket,
		"postgres", cfg.Postgres.Target(),
		"ocrLangs", cfg.OCR.Languages,
		"ocrDpi", cfg.OCR.DPI,
		"toolTimeout", cfg.OCR.ToolTimeout,
		"pageWorkers", cfg.OCR.PageWorkers,
		"recognizer", cfg.OCR.Recognizer)

	db, err := database.NewPostgresDB(ctx, cfg.Postgres.Database())
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer db.Close()
	logger.Info("PostgreSQL connected")

	minioClient, err := minioPkg.InitMinIOClient(cfg.S3.Client())
	if err != nil {
		return fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	if err := minioPkg.EnsureBucketExists(ctx, minioClient, cfg.S3.Bucket, cfg.S3.Region, logger); err != nil {
		return fmt.Errorf("failed to ensure bucket exists: %w", err)
	}
	store := minioPkg.NewStore(minioClient, cfg.S3.Bucket)
	logger.Info("object store connected")

	engine, err := ocr.New(cfg.OCR.Engine(), logger.With("component", "ocr"))
	if err != nil {
		return fmt.Errorf("failed to create OCR engine: %w", err)
	}

	conn, err := rabbitmq.Connect(ctx, cfg.Rabbit.AMQPURL(), cfg.Rabbit.ConnectRetries, cfg.Rabbit.RetryDelay, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	handler := processor.NewOcrProcessor(store, engine, db, logger)
	consumer, err := rabbitmq.NewConsumer(conn, rabbitmq.ConsumerConfig{
		Topology: cfg.Rabbit.Topology(),
		Prefetch: cfg.Rabbit.Prefetch,
		Failures: db,
	}, handler, logger)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	logger.Info("ocr worker ready")
	if err := consumer.Run(ctx); err != nil {
		logger.Error("consumer stopped", "error", err)
		return err
	}

	logger.Info("ocr worker stopped")
	return nil
}
