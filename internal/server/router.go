package server

import (
	"net/http"

	"facility-risk/internal/config"
	"facility-risk/internal/handlers"
	"facility-risk/internal/middleware"
	"facility-risk/internal/models"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

func NewRouter(cfg *config.Config, db *gorm.DB, h *handlers.Handlers, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.Default()

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{Path: "/", MaxAge: 8 * 3600, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions("facility_session", store))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.Use(middleware.InjectActor(db))

	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)

	auth := api.Group("/")
	auth.Use(middleware.RequireAuth())

	auth.GET("/me", h.Me)

	// risks
	auth.GET("/risks", h.ListRisks)
	auth.POST("/risks", h.CreateRisk)
	auth.GET("/risks/:id", h.ShowRisk)
	auth.PATCH("/risks/:id", h.UpdateRisk)
	auth.POST("/risks/:id/state", h.ChangeRiskState)
	auth.DELETE("/risks/:id", h.DeactivateRisk)
	auth.GET("/risks/:id/materializations", h.ListMaterializations)
	auth.POST("/risks/:id/materializations", h.MaterializeRisk)

	// protocols
	auth.GET("/protocols", h.ListProtocols)
	auth.POST("/protocols", h.CreateProtocol)
	auth.POST("/protocols/import", h.ImportProtocols)
	auth.GET("/protocols/:id", h.ShowProtocol)
	auth.PATCH("/protocols/:id", h.UpdateProtocol)
	auth.DELETE("/protocols/:id", h.DeleteProtocol)
	auth.GET("/protocols/:id/linkage", h.ProtocolLinkage)
	auth.GET("/protocols/:id/executions", h.ListProtocolExecutions)
	auth.POST("/protocols/:id/complete", h.CompleteProtocol)
	auth.POST("/protocols/:id/cancel", h.CancelProtocol)

	// incidents
	auth.GET("/incidents", h.ListIncidents)
	auth.POST("/incidents", h.CreateIncident)
	auth.GET("/incidents/:id", h.ShowIncident)
	auth.POST("/incidents/:id/state", h.UpdateIncidentState)
	auth.POST("/incidents/:id/resolve", h.ResolveIncident)
	auth.POST("/incidents/:id/notes", h.AppendIncidentNotes)
	auth.GET("/incidents/:id/executions", h.ListIncidentExecutions)

	// executions
	auth.POST("/executions", h.StartExecution)
	auth.GET("/executions/:id", h.ShowExecution)
	auth.POST("/executions/:id/tasks/:taskId", h.ToggleTask)
	auth.POST("/executions/:id/cancel", h.CancelExecution)
	auth.POST("/executions/:id/notes", h.SaveExecutionNotes)

	// administration
	auth.GET("/audit",
		middleware.RequireRole(models.RoleAdmin, models.RoleSupervisor),
		h.ListAuditLogs,
	)
	auth.POST("/users",
		middleware.RequireRole(models.RoleAdmin),
		h.CreateUser,
	)

	return r
}
