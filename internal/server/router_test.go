package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"facility-risk/internal/config"
	"facility-risk/internal/database"
	"facility-risk/internal/handlers"
	"facility-risk/internal/metrics"
	"facility-risk/internal/models"
	"facility-risk/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiClient struct {
	t      *testing.T
	router http.Handler
	cookie []*http.Cookie
}

func (a *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range a.cookie {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if cookies := w.Result().Cookies(); len(cookies) > 0 {
		a.cookie = cookies
	}
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenMemory()
	require.NoError(t, err)
	for _, u := range []struct {
		name string
		role models.UserRole
	}{
		{"admin", models.RoleAdmin},
		{"operador", models.RoleOperator},
		{"lector", models.RoleViewer},
	} {
		_, err := database.CreateUser(db, u.name, u.name+"@facility.local", "secreto1", u.role)
		require.NoError(t, err)
	}

	reg := prometheus.NewRegistry()
	engine := workflow.New(db, workflow.WithMetrics(metrics.NewWorkflow(reg)))
	cfg := &config.Config{SessionSecret: "test-secret"}
	return NewRouter(cfg, db, handlers.New(engine, db, nil), reg)
}

func login(t *testing.T, router http.Handler, username string) *apiClient {
	t.Helper()
	c := &apiClient{t: t, router: router}
	w := c.do(http.MethodPost, "/api/login", map[string]string{"username": username, "password": "secreto1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return c
}

var protocolBody = map[string]any{
	"title":         "Corte de energía",
	"category":      "power",
	"severity":      "Alta",
	"estimatedTime": "30 min",
	"tools":         []string{"Linterna"},
	"steps": []map[string]any{
		{"title": "Evaluar", "tasks": []string{"Verificar UPS", "Revisar tablero"}},
	},
}

func TestHealthAndAuth(t *testing.T) {
	router := newTestRouter(t)
	anon := &apiClient{t: t, router: router}

	w := anon.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = anon.do(http.MethodGet, "/api/risks", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = anon.do(http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	admin := login(t, router, "admin")
	w = admin.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	assert.Equal(t, "admin", me["username"])
	assert.NotContains(t, me, "PasswordHash")

	w = admin.do(http.MethodPost, "/api/logout", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = admin.do(http.MethodGet, "/api/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExecutionFlowOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	admin := login(t, router, "admin")

	w := admin.do(http.MethodPost, "/api/protocols", protocolBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	protocol := decode[models.Protocol](t, w)

	w = admin.do(http.MethodPost, "/api/incidents", map[string]any{
		"title": "Sin energía", "description": "Piso 2", "category": "power", "severity": "Alta",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	incident := decode[models.Incident](t, w)

	w = admin.do(http.MethodPost, "/api/executions", map[string]any{"protocolId": protocol.ID, "incidentId": incident.ID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	exec := decode[models.ProtocolExecution](t, w)

	w = admin.do(http.MethodPost, "/api/executions/"+exec.ID+"/tasks/0-0", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = admin.do(http.MethodPost, "/api/executions/"+exec.ID+"/tasks/0-0", map[string]any{"checked": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 50, decode[models.ProtocolExecution](t, w).Progress)

	w = admin.do(http.MethodPost, "/api/executions/"+exec.ID+"/tasks/0-1", map[string]any{"checked": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ExecutionCompleted, decode[models.ProtocolExecution](t, w).State)

	w = admin.do(http.MethodGet, "/api/incidents/"+incident.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[workflow.IncidentDetail](t, w)
	assert.Equal(t, models.IncidentResolved, detail.Incident.State)
	assert.Len(t, detail.Executions, 1)

	w = admin.do(http.MethodGet, "/api/executions/"+exec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	checklist := decode[workflow.ExecutionDetail](t, w)
	require.Len(t, checklist.Steps, 1)
	assert.True(t, checklist.Steps[0].Tasks[1].Done)

	w = admin.do(http.MethodDelete, "/api/protocols/"+protocol.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "referential_integrity", decode[map[string]string](t, w)["error"])

	w = admin.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `facility_workflow_operations_total{operation="execution.toggle_task",result="ok"} 2`)
}

func TestErrorStatusMapping(t *testing.T) {
	router := newTestRouter(t)
	admin := login(t, router, "admin")
	operator := login(t, router, "operador")
	viewer := login(t, router, "lector")

	w := operator.do(http.MethodPost, "/api/protocols", protocolBody)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "permission", decode[map[string]string](t, w)["error"])

	w = admin.do(http.MethodPost, "/api/protocols", map[string]any{"title": "Incompleto"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = admin.do(http.MethodGet, "/api/risks/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[map[string]string](t, w)["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/risks", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range admin.cookie {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w = viewer.do(http.MethodGet, "/api/audit", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = admin.do(http.MethodGet, "/api/audit?limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = viewer.do(http.MethodGet, "/api/protocols", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMaterializeOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	admin := login(t, router, "admin")

	w := admin.do(http.MethodPost, "/api/protocols", protocolBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	protocol := decode[models.Protocol](t, w)

	me := decode[models.User](t, admin.do(http.MethodGet, "/api/me", nil))
	w = admin.do(http.MethodPost, "/api/risks", map[string]any{
		"name": "Falla eléctrica", "description": "Sala de servidores", "category": "Operativo",
		"impact": "Alto", "probability": "Media", "mitigationMeasures": "Generador de respaldo",
		"responsibleUserId": me.ID, "protocolId": protocol.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	risk := decode[models.Risk](t, w)

	operator := login(t, router, "operador")
	w = operator.do(http.MethodPost, "/api/risks/"+risk.ID+"/materializations", map[string]any{
		"eventDescription": "Corte de 40 minutos", "realSeverity": "Alta",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode[struct {
		Event    models.MaterializationEvent `json:"event"`
		Incident *models.Incident            `json:"incident"`
	}](t, w)
	require.NotNil(t, out.Incident)
	assert.Equal(t, out.Incident.ID, *out.Event.GeneratedIncidentID)

	w = admin.do(http.MethodGet, "/api/risks/"+risk.ID+"/materializations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.MaterializationEvent](t, w), 1)
}
