package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pdfme/dms-pipeline/pkg/types"
)

const (
	DefaultInterval   = time.Minute
	DefaultMinAge     = 10 * time.Minute
	DefaultBatchSize  = 100
	DefaultRequeueTTL = time.Hour
	DefaultRateLimit  = 50
	MaxRateLimit      = 1000
)

// DocumentFinder lists documents that never received OCR text.
type DocumentFinder interface {
	FindUnprocessed(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
}

// BlobChecker reports whether an object exists.
type BlobChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Marker remembers recently re-published documents across sweeps and
// reconciler instances.
type Marker interface {
	MarkRequeued(ctx context.Context, id uuid.UUID, ttl time.Duration) (bool, error)
	ClearRequeued(ctx context.Context, id uuid.UUID) error
}

// JobPublisher enqueues OCR jobs.
type JobPublisher interface {
	PublishOcrJob(ctx context.Context, job types.OcrJob) error
}

type Config struct {
	Interval   time.Duration
	MinAge     time.Duration
	BatchSize  int
	RequeueTTL time.Duration
	// RateLimit caps publishes per second within a sweep, at most
	// MaxRateLimit.
	RateLimit int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MinAge <= 0 {
		c.MinAge = DefaultMinAge
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RequeueTTL <= 0 {
		c.RequeueTTL = DefaultRequeueTTL
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateLimit > MaxRateLimit {
		c.RateLimit = MaxRateLimit
	}
	return c
}

// Report summarizes one sweep.
type Report struct {
	Found    int
	Requeued int
	Marked   int
	NoBlob   int
	Failed   int
}

// Reconciler re-publishes OCR jobs for documents whose first publish
// was lost. Duplicates are harmless because OCR processing is idempotent.
// Documents whose job was dead-lettered are never returned by the finder.
type Reconciler struct {
	docs      DocumentFinder
	blobs     BlobChecker
	marker    Marker
	publisher JobPublisher
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a reconciler. marker may be nil, in which case every stale
// document is re-published on every sweep.
func New(docs DocumentFinder, blobs BlobChecker, marker Marker, publisher JobPublisher, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		docs:      docs,
		blobs:     blobs,
		marker:    marker,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps once immediately and then every Interval until ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started",
		"interval", r.cfg.Interval,
		"minAge", r.cfg.MinAge,
		"batchSize", r.cfg.BatchSize,
		"rateLimit", r.cfg.RateLimit)

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("error during sweep", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep re-publishes one batch of stale documents.
func (r *Reconciler) Sweep(ctx context.Context) (Report, error) {
	var report Report

	cutoff := r.now().Add(-r.cfg.MinAge)
	ids, err := r.docs.FindUnprocessed(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to find unprocessed documents: %w", err)
	}
	report.Found = len(ids)
	if len(ids) == 0 {
		return report, nil
	}

	r.logger.Info("found documents without ocr text", "count", len(ids), "olderThan", cutoff)

	limiter := time.NewTicker(time.Second / time.Duration(r.cfg.RateLimit))
	defer limiter.Stop()

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-limiter.C:
		}
		r.reconcile(ctx, id, &report)
	}

	r.logger.Info("sweep complete",
		"found", report.Found,
		"requeued", report.Requeued,
		"alreadyMarked", report.Marked,
		"noBlob", report.NoBlob,
		"failed", report.Failed)
	return report, nil
}

func (r *Reconciler) reconcile(ctx context.Context, id uuid.UUID, report *Report) {
	logger := r.logger.With("documentId", id)
	job := types.NewOcrJob(id, r.now())

	exists, err := r.blobs.Exists(ctx, job.S3Key)
	if err != nil {
		logger.Warn("failed to check pdf blob", "error", err)
		report.Failed++
		return
	}
	if !exists {
		// non-PDF uploads are never enqueued
		logger.Debug("no pdf blob, skipping")
		report.NoBlob++
		return
	}

	marked := false
	if r.marker != nil {
		ok, err := r.marker.MarkRequeued(ctx, id, r.cfg.RequeueTTL)
		switch {
		case err != nil:
			logger.Warn("requeue marker unavailable, publishing anyway", "error", err)
		case !ok:
			logger.Debug("recently requeued, skipping")
			report.Marked++
			return
		default:
			marked = true
		}
	}

	if err := r.publisher.PublishOcrJob(ctx, job); err != nil {
		logger.Error("failed to requeue ocr job", "error", err)
		report.Failed++
		if marked {
			if err := r.marker.ClearRequeued(ctx, id); err != nil {
				logger.Warn("failed to clear requeue marker", "error", err)
			}
		}
		return
	}

	logger.Info("requeued ocr job", "s3Key", job.S3Key)
	report.Requeued++
}
