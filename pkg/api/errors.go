package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pdfme/dms-pipeline/pkg/apperr"
	"github.com/pdfme/dms-pipeline/pkg/database"
)

const problemContentType = "application/problem+json"

type problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
	Kind     string `json:"kind"`
}

// classify tags repository errors that reach the handlers untagged.
func classify(err error) error {
	var tagged *apperr.Error
	if errors.As(err, &tagged) {
		return err
	}
	switch {
	case errors.Is(err, database.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, err, "document not found")
	case errors.Is(err, database.ErrConflict):
		return apperr.Wrap(apperr.Conflict, err, "document already exists")
	}
	return err
}

// fail writes err as a problem document and aborts the request.
func (s *Server) fail(c *gin.Context, err error) {
	err = classify(err)
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()

	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", "path", c.Request.URL.Path, "kind", kind, "error", err)
	} else {
		s.logger.Debug("request rejected", "path", c.Request.URL.Path, "kind", kind, "error", err)
	}

	c.Header("Content-Type", problemContentType)
	c.AbortWithStatusJSON(status, problem{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   apperr.Message(err),
		Instance: c.Request.URL.Path,
		Kind:     kind.String(),
	})
}
