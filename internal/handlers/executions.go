package handlers

import (
	"net/http"

	"facility-risk/internal/middleware"

	"github.com/gin-gonic/gin"
)

type startForm struct {
	ProtocolID string  `json:"protocolId"`
	IncidentID *string `json:"incidentId"`
}

func (h *Handlers) StartExecution(c *gin.Context) {
	var form startForm
	if !bind(c, &form) {
		return
	}
	exec, err := h.engine.Executions.Start(c.Request.Context(), middleware.Actor(c), form.ProtocolID, form.IncidentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, exec)
}

// ShowExecution returns the execution with its checklist.
func (h *Handlers) ShowExecution(c *gin.Context) {
	detail, err := h.engine.Queries.ExecutionDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type toggleForm struct {
	Checked *bool `json:"checked"`
}

func (h *Handlers) ToggleTask(c *gin.Context) {
	var form toggleForm
	if !bind(c, &form) {
		return
	}
	if form.Checked == nil {
		badRequest(c, "checked is required")
		return
	}
	exec, err := h.engine.Executions.ToggleTask(c.Request.Context(), middleware.Actor(c), c.Param("id"), c.Param("taskId"), *form.Checked)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

type cancelForm struct {
	Reason string `json:"reason"`
}

func (h *Handlers) CancelExecution(c *gin.Context) {
	var form cancelForm
	if !bind(c, &form) {
		return
	}
	exec, err := h.engine.Executions.Cancel(c.Request.Context(), middleware.Actor(c), c.Param("id"), form.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (h *Handlers) SaveExecutionNotes(c *gin.Context) {
	var form notesForm
	if !bind(c, &form) {
		return
	}
	exec, err := h.engine.Executions.SaveNotes(c.Request.Context(), middleware.Actor(c), c.Param("id"), form.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}
