package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pdfme/dms-pipeline/pkg/api"
	"github.com/pdfme/dms-pipeline/pkg/config"
	"github.com/pdfme/dms-pipeline/pkg/database"
	"github.com/pdfme/dms-pipeline/pkg/logging"
	minioPkg "github.com/pdfme/dms-pipeline/pkg/minio"
	"github.com/pdfme/dms-pipeline/pkg/rabbitmq"
	"github.com/pdfme/dms-pipeline/pkg/upload"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var (
		cfgFile    string
		initSchema bool
	)

	rootCmd := &cobra.Command{
		Use:          "dms-api",
		Short:        "Serve the document upload and management API",
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
			return run(cmd.Context(), cfg, initSchema, logger)
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.Flags().BoolVar(&initSchema, "init-schema", false, "create missing tables and indexes before serving")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, initSchema bool, logger *slog.Logger) error {
	logger.Info("dms api starting")
	logger.Info("config",
		"addr", cfg.HTTP.Addr,
		"maxUploadBytes", cfg.HTTP.MaxUploadBytes,
		"rabbit", rabbitmq.RedactURL(cfg.Rabbit.AMQPURL()),
		"queue", cfg.Rabbit.Queue,
		"deadLetter", cfg.Rabbit.EnableDLQ,
		"s3Endpoint", cfg.S3.Endpoint,
		"bucket", cfg.S3.Bucket,
		"postgres", cfg.Postgres.Target())

	db, err := database.NewPostgresDB(ctx, cfg.Postgres.Database())
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer db.Close()
	logger.Info("PostgreSQL connected")

	if initSchema {
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		logger.Info("schema ensured")
	}

	minioClient, err := minioPkg.InitMinIOClient(cfg.S3.Client())
	if err != nil {
		return fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	if err := minioPkg.EnsureBucketExists(ctx, minioClient, cfg.S3.Bucket, cfg.S3.Region, logger); err != nil {
		return fmt.Errorf("failed to ensure bucket exists: %w", err)
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

	gin.SetMode(gin.ReleaseMode)
	uploads := upload.NewService(db, store, producer, logger)
	server := api.NewServer(uploads, db, store, db, api.Config{MaxUploadBytes: cfg.HTTP.MaxUploadBytes}, logger)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dms api ready", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("dms api stopped")
	return nil
}
