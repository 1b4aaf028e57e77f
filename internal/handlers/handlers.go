// Package handlers exposes the workflow engine as a JSON API.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"facility-risk/internal/workflow"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Handlers struct {
	engine *workflow.Engine
	db     *gorm.DB
	logger *slog.Logger
}

func New(engine *workflow.Engine, db *gorm.DB, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, db: db, logger: logger}
}

var statusByKind = map[string]int{
	"validation":            http.StatusBadRequest,
	"permission":            http.StatusForbidden,
	"referential_integrity": http.StatusConflict,
	"not_found":             http.StatusNotFound,
	"conflict":              http.StatusConflict,
}

// fail writes err as {"error": kind, "detail": message}. Internal errors are
// logged and their detail hidden.
func (h *Handlers) fail(c *gin.Context, err error) {
	kind := workflow.Kind(err)
	status, ok := statusByKind[kind]
	if !ok {
		h.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "detail": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": kind, "detail": err.Error()})
}

func badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "detail": detail})
}

// bind decodes a JSON body; an empty body leaves dst untouched.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "malformed request body: "+err.Error())
		return false
	}
	return true
}
