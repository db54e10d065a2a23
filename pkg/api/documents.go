package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pdfme/dms-pipeline/pkg/apperr"
	"github.com/pdfme/dms-pipeline/pkg/database"
	"github.com/pdfme/dms-pipeline/pkg/upload"
)

type documentResponse struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"createdAt"`
	OcrText     *string   `json:"ocrText"`
	Summary     *string   `json:"summary"`
}

func toResponse(d *database.Document) documentResponse {
	return documentResponse{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Tags:        d.TagNames(),
		CreatedAt:   d.CreatedAt,
		OcrText:     d.OcrText,
		Summary:     d.Summary,
	}
}

func toResponses(docs []database.Document) []documentResponse {
	out := make([]documentResponse, len(docs))
	for i := range docs {
		out[i] = toResponse(&docs[i])
	}
	return out
}

type updateRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, apperr.New(apperr.Validation, "upload exceeds %d bytes", s.maxUploadBytes))
			return
		}
		s.fail(c, apperr.Wrap(apperr.Validation, err, "file is required"))
		return
	}

	f, err := header.Open()
	if err != nil {
		s.fail(c, apperr.Wrap(apperr.Validation, err, "could not read file"))
		return
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, apperr.Wrap(apperr.Validation, err, "could not read file"))
		return
	}

	result, err := s.uploader.Upload(c.Request.Context(), upload.Request{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Tags:        c.PostFormArray("tags"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        body,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Header("Location", "/api/documents/"+result.Document.ID.String())
	c.JSON(http.StatusCreated, toResponse(result.Document))
}

func (s *Server) handleGet(c *gin.Context) {
	id, ok := s.parseID(c)
	if !ok {
		return
	}
	doc, err := s.docs.GetDocument(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(doc))
}

func (s *Server) handleList(c *gin.Context) {
	page, err := intQuery(c, "page", 0)
	if err != nil || page < 0 {
		s.fail(c, apperr.New(apperr.Validation, "page must be a non-negative integer"))
		return
	}
	size, err := intQuery(c, "size", defaultPageSize)
	if err != nil || size < 1 || size > maxPageSize {
		s.fail(c, apperr.New(apperr.Validation, "size must be between 1 and %d", maxPageSize))
		return
	}

	docs, total, err := s.docs.ListDocuments(c.Request.Context(), size, page*size)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items": toResponses(docs),
		"total": total,
		"page":  page,
		"size":  size,
	})
}

func (s *Server) handleSearch(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultSearchLimit)
	if err != nil || limit < 1 || limit > maxPageSize {
		s.fail(c, apperr.New(apperr.Validation, "limit must be between 1 and %d", maxPageSize))
		return
	}

	docs, err := s.docs.SearchDocuments(c.Request.Context(), c.Query("q"), c.Query("tag"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toResponses(docs)})
}

func (s *Server) handleTags(c *gin.Context) {
	tags, err := s.docs.ListTags(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	c.JSON(http.StatusOK, gin.H{"items": names})
}

func (s *Server) handleUpdate(c *gin.Context) {
	id, ok := s.parseID(c)
	if !ok {
		return
	}

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, apperr.Wrap(apperr.Validation, err, "invalid request body"))
		return
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if len([]rune(title)) < upload.MinTitleLength {
			s.fail(c, apperr.New(apperr.Validation, "title must have at least %d characters", upload.MinTitleLength))
			return
		}
		req.Title = &title
	}
	if req.Tags != nil {
		if n := len(database.NormalizeTags(*req.Tags)); n > upload.MaxTags {
			s.fail(c, apperr.New(apperr.Validation, "at most %d tags are allowed, got %d", upload.MaxTags, n))
			return
		}
	}

	doc, err := s.docs.UpdateDocument(c.Request.Context(), id, database.DocumentUpdate{
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(doc))
}

func (s *Server) handleDelete(c *gin.Context) {
	id, ok := s.parseID(c)
	if !ok {
		return
	}
	if err := s.docs.DeleteDocument(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.removeBlobs(c.Request.Context(), id)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBulkDelete(c *gin.Context) {
	var ids []uuid.UUID
	if err := c.ShouldBindJSON(&ids); err != nil {
		s.fail(c, apperr.Wrap(apperr.Validation, err, "body must be a JSON array of document ids"))
		return
	}
	if len(ids) == 0 {
		s.fail(c, apperr.New(apperr.Validation, "at least one id is required"))
		return
	}

	deleted, err := s.docs.DeleteDocuments(c.Request.Context(), ids)
	if err != nil {
		s.fail(c, err)
		return
	}
	for _, id := range ids {
		s.removeBlobs(c.Request.Context(), id)
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// removeBlobs deletes the files of a deleted document. Failures only leave
// orphaned objects behind, so they are logged and not reported.
func (s *Server) removeBlobs(ctx context.Context, id uuid.UUID) {
	if s.blobs == nil {
		return
	}
	n, err := s.blobs.DeletePrefix(ctx, id.String())
	if err != nil {
		s.logger.Warn("failed to remove document files", "documentId", id, "error", err)
		return
	}
	s.logger.Debug("removed document files", "documentId", id, "count", n)
}

func (s *Server) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		s.fail(c, apperr.New(apperr.Validation, "invalid document id %q", c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
