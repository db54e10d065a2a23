// Package api exposes document upload and management over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pdfme/dms-pipeline/pkg/database"
	"github.com/pdfme/dms-pipeline/pkg/upload"
)

const (
	DefaultMaxUploadBytes = 50 << 20
	defaultPageSize       = 20
	maxPageSize           = 100
	defaultSearchLimit    = 50
)

// Uploader stores new documents.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (*upload.Result, error)
}

// DocumentStore reads and changes stored documents.
type DocumentStore interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*database.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]database.Document, int, error)
	SearchDocuments(ctx context.Context, text, tag string, limit int) ([]database.Document, error)
	UpdateDocument(ctx context.Context, id uuid.UUID, upd database.DocumentUpdate) (*database.Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	DeleteDocuments(ctx context.Context, ids []uuid.UUID) (int, error)
	ListTags(ctx context.Context) ([]database.Tag, error)
}

// BlobRemover deletes the stored files of a document.
type BlobRemover interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Config struct {
	MaxUploadBytes int64
}

type Server struct {
	uploader       Uploader
	docs           DocumentStore
	blobs          BlobRemover
	health         HealthChecker
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewServer wires the handlers. blobs may be nil, in which case deleted
// documents leave their files in the bucket.
func NewServer(uploader Uploader, docs DocumentStore, blobs BlobRemover, health HealthChecker, cfg Config, logger *slog.Logger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		uploader:       uploader,
		docs:           docs,
		blobs:          blobs,
		health:         health,
		logger:         logger,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)

	docs := router.Group("/api/documents")
	{
		docs.POST("", s.handleUpload)
		docs.GET("", s.handleList)
		docs.GET("/search", s.handleSearch)
		docs.POST("/bulk-delete", s.handleBulkDelete)
		docs.GET("/:id", s.handleGet)
		docs.PATCH("/:id", s.handleUpdate)
		docs.PUT("/:id", s.handleUpdate)
		docs.DELETE("/:id", s.handleDelete)
	}
	router.GET("/api/tags", s.handleTags)

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", time.Since(start),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("request failed", attrs...)
			return
		}
		s.logger.Info("request", attrs...)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.health.PingContext(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
