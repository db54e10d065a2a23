package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentTypePDF is the only content type that is sent through OCR.
const ContentTypePDF = "application/pdf"

// ErrMalformedJob marks a message that can never be processed.
var ErrMalformedJob = errors.New("malformed ocr job")

// OcrJob is the message published to the OCR queue for each uploaded PDF.
type OcrJob struct {
	DocumentID  uuid.UUID `json:"documentId"`
	S3Key       string    `json:"s3Key"`
	ContentType string    `json:"contentType"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// NewOcrJob builds the job for a PDF stored under PDFKey(id).
func NewOcrJob(id uuid.UUID, uploadedAt time.Time) OcrJob {
	return OcrJob{
		DocumentID:  id,
		S3Key:       PDFKey(id),
		ContentType: ContentTypePDF,
		UploadedAt:  uploadedAt.UTC(),
	}
}

// Validate reports whether the job carries the fields the consumer needs.
func (j OcrJob) Validate() error {
	if j.DocumentID == uuid.Nil {
		return fmt.Errorf("%w: documentId is empty", ErrMalformedJob)
	}
	if strings.TrimSpace(j.S3Key) == "" {
		return fmt.Errorf("%w: s3Key is empty", ErrMalformedJob)
	}
	return nil
}

// ParseOcrJob decodes and validates a message body. Field names match
// case-insensitively. Every failure wraps ErrMalformedJob.
func ParseOcrJob(body []byte) (OcrJob, error) {
	var job OcrJob
	if err := json.Unmarshal(body, &job); err != nil {
		return OcrJob{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if err := job.Validate(); err != nil {
		return OcrJob{}, err
	}
	return job, nil
}

// PDFKey is the object key of a document's PDF.
func PDFKey(id uuid.UUID) string {
	return id.String() + ".pdf"
}

// BlobKey is the object key for an upload with the given file name; the
// extension is kept so non-PDF uploads remain recognisable.
func BlobKey(id uuid.UUID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" || ext == ".pdf" {
		return PDFKey(id)
	}
	return id.String() + ext
}

// TextKey derives the key of the OCR text from the PDF key by swapping the
// extension, or appending one when the key has none.
func TextKey(key string) string {
	ext := path.Ext(key)
	if ext == "" || strings.HasSuffix(key, "/") {
		return key + ".txt"
	}
	return strings.TrimSuffix(key, ext) + ".txt"
}
