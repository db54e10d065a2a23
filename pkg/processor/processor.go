package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pdfme/dms-pipeline/pkg/types"
)

const (
	textContentType        = "text/plain; charset=utf-8"
	defaultDownloadTimeout = 5 * time.Minute
)

// ObjectStore reads and writes whole blobs.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// TextExtractor recognizes the text of a PDF.
type TextExtractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// DocumentWriter persists OCR results.
type DocumentWriter interface {
	SetOcrText(ctx context.Context, id uuid.UUID, text string) (bool, error)
}

// OcrProcessor handles one OCR job: download the PDF, recognize it, store
// the text next to it and record it on the document.
type OcrProcessor struct {
	store           ObjectStore
	engine          TextExtractor
	docs            DocumentWriter
	logger          *slog.Logger
	downloadTimeout time.Duration
}

// NewOcrProcessor creates a new OCR processor
func NewOcrProcessor(store ObjectStore, engine TextExtractor, docs DocumentWriter, logger *slog.Logger) *OcrProcessor {
	return &OcrProcessor{
		store:           store,
		engine:          engine,
		docs:            docs,
		logger:          logger,
		downloadTimeout: defaultDownloadTimeout,
	}
}

// Handle processes a job. Every step overwrites its output, so handling the
// same job twice leaves the same state. A job whose document no longer
// exists is logged and treated as done.
func (p *OcrProcessor) Handle(ctx context.Context, job types.OcrJob) error {
	logger := p.logger.With("documentId", job.DocumentID, "s3Key", job.S3Key)
	logger.Info("received ocr job")

	downloadCtx, cancel := context.WithTimeout(ctx, p.downloadTimeout)
	pdf, err := p.store.Get(downloadCtx, job.S3Key)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to download pdf: %w", err)
	}
	logger.Info("downloaded pdf", "bytes", len(pdf))

	text, err := p.engine.ExtractText(ctx, pdf)
	if err != nil {
		return fmt.Errorf("failed to extract text: %w", err)
	}
	logger.Info("recognized text", "chars", len(text))

	textKey := types.TextKey(job.S3Key)
	if err := p.store.Put(ctx, textKey, []byte(text), textContentType); err != nil {
		return fmt.Errorf("failed to upload text: %w", err)
	}
	logger.Info("uploaded text", "textKey", textKey)

	found, err := p.docs.SetOcrText(ctx, job.DocumentID, text)
	if err != nil {
		return fmt.Errorf("failed to persist ocr text: %w", err)
	}
	if !found {
		logger.Warn("document not found, ocr text not persisted")
		return nil
	}

	logger.Info("persisted ocr text")
	return nil
}
