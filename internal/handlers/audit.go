package handlers

import (
	"net/http"
	"strconv"

	"facility-risk/internal/database"

	"github.com/gin-gonic/gin"
)

const maxAuditRows = 200

func (h *Handlers) ListAuditLogs(c *gin.Context) {
	limit := maxAuditRows
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditRows)
	}

	logs, err := database.ListAuditLogs(h.db.WithContext(c.Request.Context()), c.Query("entity"), c.Query("entityId"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}
