package workflow

import (
	"context"
	"errors"
	"fmt"

	"facility-risk/internal/models"

	"gorm.io/gorm"
)

// Queries assembles read-only views joining several records. Links that no
// longer resolve are left nil rather than failing the view.
type Queries struct {
	*deps
}

type IncidentDetail struct {
	Incident   models.Incident            `json:"incident"`
	Risk       *models.Risk               `json:"risk,omitempty"`
	Protocol   *models.Protocol           `json:"protocol,omitempty"`
	Executions []models.ProtocolExecution `json:"executions"`
}

type TaskView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type StepView struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Tasks       []TaskView `json:"tasks"`
}

// ExecutionDetail is the checklist view of an execution.
type ExecutionDetail struct {
	Execution models.ProtocolExecution `json:"execution"`
	Protocol  models.Protocol          `json:"protocol"`
	Incident  *models.Incident         `json:"incident,omitempty"`
	Steps     []StepView               `json:"steps"`
}

type RiskDetail struct {
	Risk             models.Risk                   `json:"risk"`
	Protocol         *models.Protocol              `json:"protocol,omitempty"`
	Materializations []models.MaterializationEvent `json:"materializations"`
}

func (q *Queries) IncidentDetail(ctx context.Context, id string) (IncidentDetail, error) {
	tx := q.db.WithContext(ctx)
	var d IncidentDetail
	if err := first(tx, &d.Incident, "incident", id); err != nil {
		return IncidentDetail{}, err
	}

	var err error
	if d.Risk, err = optional[models.Risk](tx, "risk", d.Incident.RiskID); err != nil {
		return IncidentDetail{}, err
	}
	if d.Protocol, err = optional[models.Protocol](tx, "protocol", d.Incident.ProtocolID); err != nil {
		return IncidentDetail{}, err
	}
	if err := tx.Where("incident_id = ?", id).Order("started_at asc").Find(&d.Executions).Error; err != nil {
		return IncidentDetail{}, fmt.Errorf("list incident executions: %w", err)
	}
	return d, nil
}

func (q *Queries) ExecutionDetail(ctx context.Context, id string) (ExecutionDetail, error) {
	tx := q.db.WithContext(ctx)
	var d ExecutionDetail
	if err := first(tx, &d.Execution, "execution", id); err != nil {
		return ExecutionDetail{}, err
	}
	if err := first(tx, &d.Protocol, "protocol", d.Execution.ProtocolID); err != nil {
		return ExecutionDetail{}, err
	}

	var err error
	if d.Incident, err = optional[models.Incident](tx, "incident", d.Execution.IncidentID); err != nil {
		return ExecutionDetail{}, err
	}
	d.Steps = checklist(d.Protocol, d.Execution.CompletedTaskIDs)
	return d, nil
}

func (q *Queries) RiskDetail(ctx context.Context, id string) (RiskDetail, error) {
	tx := q.db.WithContext(ctx)
	var d RiskDetail
	if err := first(tx, &d.Risk, "risk", id); err != nil {
		return RiskDetail{}, err
	}

	var err error
	if d.Protocol, err = optional[models.Protocol](tx, "protocol", d.Risk.ProtocolID); err != nil {
		return RiskDetail{}, err
	}
	if d.Materializations, err = q.materializations(tx, id); err != nil {
		return RiskDetail{}, err
	}
	return d, nil
}

// Materializations lists the events recorded for a risk, newest first.
func (q *Queries) Materializations(ctx context.Context, riskID string) ([]models.MaterializationEvent, error) {
	tx := q.db.WithContext(ctx)
	var risk models.Risk
	if err := first(tx, &risk, "risk", riskID); err != nil {
		return nil, err
	}
	return q.materializations(tx, riskID)
}

func (q *Queries) materializations(tx *gorm.DB, riskID string) ([]models.MaterializationEvent, error) {
	events := []models.MaterializationEvent{}
	if err := tx.Where("risk_id = ?", riskID).Order("occurred_at desc").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list materializations: %w", err)
	}
	return events, nil
}

func checklist(p models.Protocol, completed []string) []StepView {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	steps := make([]StepView, 0, len(p.Steps))
	for si, step := range p.Steps {
		view := StepView{Title: step.Title, Description: step.Description, Tasks: make([]TaskView, 0, len(step.Tasks))}
		for ti, text := range step.Tasks {
			id := models.TaskID(si, ti)
			view.Tasks = append(view.Tasks, TaskView{ID: id, Text: text, Done: done[id]})
		}
		steps = append(steps, view)
	}
	return steps
}

func optional[T any](tx *gorm.DB, entity string, id *string) (*T, error) {
	if id == nil {
		return nil, nil
	}
	var v T
	err := first(tx, &v, entity, *id)
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
