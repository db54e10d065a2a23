package upload

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/pdfme/dms-pipeline/pkg/apperr"
	"github.com/pdfme/dms-pipeline/pkg/database"
	"github.com/pdfme/dms-pipeline/pkg/types"
)

const (
	MinTitleLength = 3
	MaxTags        = 10
)

// DocumentCreator persists document metadata.
type DocumentCreator interface {
	CreateDocument(ctx context.Context, doc *database.Document, tags []string) error
}

// BlobStore stores uploaded files.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// JobPublisher enqueues OCR jobs.
type JobPublisher interface {
	PublishOcrJob(ctx context.Context, job types.OcrJob) error
}

// Request is one uploaded file with its metadata.
type Request struct {
	Title       string
	Description string
	Tags        []string
	FileName    string
	ContentType string
	Body        []byte
}

// IsPDF reports whether the upload goes through OCR.
func (r Request) IsPDF() bool {
	ct := strings.ToLower(strings.TrimSpace(r.ContentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct == types.ContentTypePDF || strings.EqualFold(path.Ext(r.FileName), ".pdf")
}

// Validate checks the metadata rules for new documents.
func (r Request) Validate() error {
	if len([]rune(strings.TrimSpace(r.Title))) < MinTitleLength {
		return apperr.New(apperr.Validation, "title must have at least %d characters", MinTitleLength)
	}
	if n := len(database.NormalizeTags(r.Tags)); n > MaxTags {
		return apperr.New(apperr.Validation, "at most %d tags are allowed, got %d", MaxTags, n)
	}
	if len(r.Body) == 0 {
		return apperr.New(apperr.Validation, "file is empty")
	}
	return nil
}

// Result describes a stored upload.
type Result struct {
	Document *database.Document
	S3Key    string
	Enqueued bool
}

// Service stores uploads and feeds the OCR queue.
type Service struct {
	docs      DocumentCreator
	blobs     BlobStore
	publisher JobPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(docs DocumentCreator, blobs BlobStore, publisher JobPublisher, logger *slog.Logger) *Service {
	return &Service{
		docs:      docs,
		blobs:     blobs,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Upload creates the document, stores the file and, for PDFs, publishes
// exactly one OCR job. The publish is best effort: a failure is logged and
// the upload still succeeds with Enqueued false.
func (s *Service) Upload(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	doc := &database.Document{
		Title:     strings.TrimSpace(req.Title),
		CreatedAt: s.now().UTC(),
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		doc.Description = &d
	}

	if err := s.docs.CreateDocument(ctx, doc, req.Tags); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, apperr.Wrap(apperr.Conflict, err, "document already exists")
		}
		return nil, apperr.Wrap(apperr.Internal, err, "failed to create document")
	}

	logger := s.logger.With("documentId", doc.ID)

	key := types.BlobKey(doc.ID, req.FileName)
	contentType := req.ContentType
	if req.IsPDF() {
		key = types.PDFKey(doc.ID)
		contentType = types.ContentTypePDF
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := s.blobs.Put(ctx, key, req.Body, contentType); err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, err, "failed to store file")
	}
	logger.Info("stored upload", "s3Key", key, "bytes", len(req.Body))

	result := &Result{Document: doc, S3Key: key}
	if !req.IsPDF() {
		return result, nil
	}

	job := types.NewOcrJob(doc.ID, doc.CreatedAt)
	if err := s.publisher.PublishOcrJob(ctx, job); err != nil {
		logger.Error("failed to enqueue ocr job, left for reconciliation", "error", err)
		return result, nil
	}

	result.Enqueued = true
	return result, nil
}
