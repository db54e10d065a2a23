package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdfme/dms-pipeline/pkg/cache"
	"github.com/pdfme/dms-pipeline/pkg/config"
	"github.com/pdfme/dms-pipeline/pkg/database"
	"github.com/pdfme/dms-pipeline/pkg/logging"
	minioPkg "github.com/pdfme/dms-pipeline/pkg/minio"
	"github.com/pdfme/dms-pipeline/pkg/rabbitmq"
	"github.com/pdfme/dms-pipeline/pkg/reconciler"
)

func main() {
	var (
		cfgFile string
		once    bool
	)

	rootCmd := &cobra.Command{
		Use:          "ocr-reconciler",
		Short:        "Re-publish OCR jobs for documents that never got their text",
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
			return run(cmd.Context(), cfg, once, logger)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, logger *slog.Logger) error {
	logger.Info("ocr reconciler starting")
	logger.Info("config",
		"rabbit", rabbitmq.RedactURL(cfg.Rabbit.AMQPURL()),
		"queue", cfg.Rabbit.Queue,
		"s3Endpoint", cfg.S3.Endpoint,
		"bucket", cfg.S3.Bucket,
		"postgres", cfg.Postgres.Target(),
		"redis", cfg.Redis.Host+":"+cfg.Redis.Port,
		"interval", cfg.Reconcile.Interval,
		"minAge", cfg.Reconcile.MinAge,
		"batchSize", cfg.Reconcile.BatchSize,
		"requeueTtl", cfg.Reconcile.RequeueTTL,
		"rateLimit", cfg.Reconcile.RateLimit)

	db, err := database.NewPostgresDB(ctx, cfg.Postgres.Database())
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer db.Close()
	logger.Info("PostgreSQL connected")

	// Without Redis every sweep re-publishes every stale document, which
	// the consumer tolerates.
	var marker reconciler.Marker
	redisCache, err := cache.NewRedisClient(ctx, cfg.Redis.Cache())
	if err != nil {
		logger.Warn("Redis unavailable, running without requeue markers", "error", err)
	} else {
		defer redisCache.Close()
		marker = redisCache
		logger.Info("Redis connected")
	}

	minioClient, err := minioPkg.InitMinIOClient(cfg.S3.Client())
	if err != nil {
		return fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	store := minioPkg.NewStore(minioClient, cfg.S3.Bucket)

	conn, err := rabbitmq.Connect(ctx, cfg.Rabbit.AMQPURL(), cfg.Rabbit.ConnectRetries, cfg.Rabbit.RetryDelay, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	producer, err := rabbitmq.NewProducer(conn, cfg.Rabbit.Topology(), logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	r := reconciler.New(db, store, marker, producer, cfg.Reconcile.Reconciler(), logger)
	if once {
		_, err := r.Sweep(ctx)
		return err
	}
	if err := r.Run(ctx); err != nil {
		return err
	}

	logger.Info("ocr reconciler stopped")
	return nil
}
