package handlers

import (
	"net/http"

	"facility-risk/internal/middleware"
	"facility-risk/internal/models"
	"facility-risk/internal/workflow"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) ListIncidents(c *gin.Context) {
	incidents, err := h.engine.Incidents.List(c.Request.Context(), workflow.IncidentFilter{
		State:      models.IncidentState(c.Query("state")),
		RiskID:     c.Query("riskId"),
		ProtocolID: c.Query("protocolId"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incidents)
}

func (h *Handlers) CreateIncident(c *gin.Context) {
	var in workflow.IncidentInput
	if !bind(c, &in) {
		return
	}
	incident, err := h.engine.Incidents.Create(c.Request.Context(), middleware.Actor(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, incident)
}

func (h *Handlers) ShowIncident(c *gin.Context) {
	detail, err := h.engine.Queries.IncidentDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

type incidentStateForm struct {
	State models.IncidentState `json:"state"`
}

func (h *Handlers) UpdateIncidentState(c *gin.Context) {
	var form incidentStateForm
	if !bind(c, &form) {
		return
	}
	incident, err := h.engine.Incidents.UpdateState(c.Request.Context(), middleware.Actor(c), c.Param("id"), form.State)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (h *Handlers) ResolveIncident(c *gin.Context) {
	incident, err := h.engine.Incidents.Resolve(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

type notesForm struct {
	Notes string `json:"notes"`
}

func (h *Handlers) AppendIncidentNotes(c *gin.Context) {
	var form notesForm
	if !bind(c, &form) {
		return
	}
	incident, err := h.engine.Incidents.AppendNotes(c.Request.Context(), middleware.Actor(c), c.Param("id"), form.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (h *Handlers) ListIncidentExecutions(c *gin.Context) {
	execs, err := h.engine.Executions.ListByIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, execs)
}
