package handlers

import (
	"net/http"

	"facility-risk/internal/middleware"
	"facility-risk/internal/workflow"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) ListProtocols(c *gin.Context) {
	protocols, err := h.engine.Protocols.List(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, protocols)
}

func (h *Handlers) CreateProtocol(c *gin.Context) {
	var in workflow.ProtocolInput
	if !bind(c, &in) {
		return
	}
	p, err := h.engine.Protocols.Create(c.Request.Context(), middleware.Actor(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// ImportProtocols takes a YAML template file as the raw request body.
func (h *Handlers) ImportProtocols(c *gin.Context) {
	created, err := h.engine.Protocols.Import(c.Request.Context(), middleware.Actor(c), c.Request.Body)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handlers) ShowProtocol(c *gin.Context) {
	p, err := h.engine.Protocols.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handlers) UpdateProtocol(c *gin.Context) {
	var patch workflow.ProtocolPatch
	if !bind(c, &patch) {
		return
	}
	p, err := h.engine.Protocols.Update(c.Request.Context(), middleware.Actor(c), c.Param("id"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handlers) DeleteProtocol(c *gin.Context) {
	p, err := h.engine.Protocols.SoftDelete(c.Request.Context(), middleware.Actor(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handlers) ProtocolLinkage(c *gin.Context) {
	kind, err := h.engine.Protocols.LinkageCheck(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"linked": kind != workflow.NotLinked, "linkage": kind})
}

func (h *Handlers) ListProtocolExecutions(c *gin.Context) {
	execs, err := h.engine.Executions.ListByProtocol(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, execs)
}

func (h *Handlers) CompleteProtocol(c *gin.Context) {
	var req workflow.ManualCompletion
	if !bind(c, &req) {
		return
	}
	req.ProtocolID = c.Param("id")

	res, err := h.engine.Coordinator.CompleteProtocolManually(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handlers) CancelProtocol(c *gin.Context) {
	var req workflow.ManualCancellation
	if !bind(c, &req) {
		return
	}
	req.ProtocolID = c.Param("id")

	res, err := h.engine.Coordinator.CancelProtocolManually(c.Request.Context(), middleware.Actor(c), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}
