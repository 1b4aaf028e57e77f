package handlers

import (
	"net/http"

	"facility-risk/internal/middleware"
	"facility-risk/internal/models"
	"facility-risk/internal/workflow"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) ListRisks(c *gin.Context) {
	risks, err := h.engine.Risks.List(c.Request.Context(), workflow.RiskFilter{
		State:      models.RiskState(c.Query("state")),
		Category:   models.RiskCategory(c.Query("category")),
		ProtocolID: c.Query("protocolId"),
		ActiveOnly: c.Query("active") == "true",
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, risks)
}

func (h *Handlers) CreateRisk(c *gin.Context) {
	var in workflow.RiskInput
	if !bind(c, &in) {
		return
	}
	risk, err := h.engine.Risks.Create(c.Request.Context(), middleware.Actor(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, risk)
}

func (h *Handlers) ShowRisk(c *gin.Context) {
	detail, err := h.engine.Queries.RiskDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handlers) UpdateRisk(c *gin.Context) {
	var patch workflow.RiskPatch
	if !bind(c, &patch) {
		return
	}
	risk, err := h.engine.Risks.Update(c.Request.Context(), middleware.Actor(c), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, risk)
}

type riskStateForm struct {
	State models.RiskState `json:"state"`
}

func (h *Handlers) ChangeRiskState(c *gin.Context) {
	var form riskStateForm
	if !bind(c, &form) {
		return
	}
	risk, err := h.engine.Risks.ChangeState(c.Request.Context(), middleware.Actor(c), c.Param("id"), form.State)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, risk)
}

func (h *Handlers) DeactivateRisk(c *gin.Context) {
	risk, err := h.engine.Risks.Deactivate(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, risk)
}

// MaterializeRisk records an occurrence of the risk in the path and, when the
// risk has a protocol, the incident generated for it.
func (h *Handlers) MaterializeRisk(c *gin.Context) {
	var req workflow.MaterializeRequest
	if !bind(c, &req) {
		return
	}
	req.RiskID = c.Param("id")

	event, incident, err := h.engine.Coordinator.MaterializeRisk(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event, "incident": incident})
}

func (h *Handlers) ListMaterializations(c *gin.Context) {
	events, err := h.engine.Queries.Materializations(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}
