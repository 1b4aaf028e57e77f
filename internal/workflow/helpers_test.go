package workflow

import (
	"context"
	"sync"
	"testing"

	"facility-risk/internal/auth"
	"facility-risk/internal/database"
	"facility-risk/internal/models"
	"facility-risk/internal/notify"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu        sync.Mutex
	incidents []notify.IncidentNotice
	risks     []notify.MaterializationNotice
}

func (n *recordingNotifier) IncidentCreated(in notify.IncidentNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.incidents = append(n.incidents, in)
}

func (n *recordingNotifier) RiskMaterialized(in notify.MaterializationNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.risks = append(n.risks, in)
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.incidents), len(n.risks)
}

type fixture struct {
	db       *gorm.DB
	engine   *Engine
	notifier *recordingNotifier

	admin      auth.Context
	supervisor auth.Context
	operator   auth.Context
	viewer     auth.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)

	n := &recordingNotifier{}
	f := &fixture{db: db, notifier: n, engine: New(db, WithNotifier(n))}
	f.admin = f.user(t, "admin", models.RoleAdmin)
	f.supervisor = f.user(t, "supervisor", models.RoleSupervisor)
	f.operator = f.user(t, "operator", models.RoleOperator)
	f.viewer = f.user(t, "viewer", models.RoleViewer)
	return f
}

func (f *fixture) user(t *testing.T, name string, role models.UserRole) auth.Context {
	t.Helper()
	u := models.User{Username: name, Email: name + "@facility.local", Role: role, Active: true}
	require.NoError(t, f.db.Create(&u).Error)
	return auth.New(u.ID, role)
}

// fiveTasks is a protocol with two steps holding tasks 0-0..0-2 and 1-0..1-1.
func fiveTasks() ProtocolInput {
	return ProtocolInput{
		Title:         "Corte de energía",
		Description:   "Respuesta ante pérdida de suministro eléctrico",
		Category:      models.ProtocolPower,
		Severity:      models.SeverityHigh,
		EstimatedTime: "30 min",
		Tools:         []string{"Linterna", "Multímetro"},
		Steps: []models.ProtocolStep{
			{Title: "Evaluar", Tasks: []string{"Verificar UPS", "Revisar tablero", "Avisar a soporte"}},
			{Title: "Restablecer", Tasks: []string{"Encender generador", "Confirmar carga"}},
		},
	}
}

func (f *fixture) protocol(t *testing.T) models.Protocol {
	t.Helper()
	p, err := f.engine.Protocols.Create(context.Background(), f.admin, fiveTasks())
	require.NoError(t, err)
	return p
}

func (f *fixture) risk(t *testing.T, protocolID *string) models.Risk {
	t.Helper()
	r, err := f.engine.Risks.Create(context.Background(), f.admin, RiskInput{
		Name:               "Falla eléctrica",
		Description:        "Interrupción del suministro en sala de servidores",
		Category:           models.RiskCategoryOperational,
		Impact:             models.ImpactHigh,
		Probability:        models.ProbabilityMedium,
		MitigationMeasures: "UPS y generador de respaldo",
		ResponsibleUserID:  f.supervisor.UserID,
		ProtocolID:         protocolID,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) incident(t *testing.T, protocolID *string) models.Incident {
	t.Helper()
	assignee := f.operator.UserID
	inc, err := f.engine.Incidents.Create(context.Background(), f.operator, IncidentInput{
		Title:          "Sala sin energía",
		Description:    "Se cortó la luz en el piso 2",
		Category:       "power",
		Severity:       models.SeverityHigh,
		AssignedUserID: &assignee,
		ProtocolID:     protocolID,
	})
	require.NoError(t, err)
	return inc
}

func ptr[T any](v T) *T { return &v }

func authOperator(id string) auth.Context {
	return auth.New(id, models.RoleOperator)
}
