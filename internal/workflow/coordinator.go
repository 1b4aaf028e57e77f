package workflow

import (
	"context"
	"fmt"
	"strings"

	"facility-risk/internal/auth"
	"facility-risk/internal/models"
	"facility-risk/internal/notify"

	"gorm.io/gorm"
)

// Coordinator runs the operations spanning several record kinds. Each one is a
// single transaction; notifications go out after commit.
type Coordinator struct {
	*deps
	incidents *IncidentLedger
}

type MaterializeRequest struct {
	RiskID           string          `json:"riskId"`
	EventDescription string          `json:"eventDescription"`
	RealSeverity     models.Severity `json:"realSeverity"`
	ActionsTaken     []string        `json:"actionsTaken"`
	ReporterID       string          `json:"reporterId"`
	Notes            string          `json:"notes"`
}

type ManualCompletion struct {
	ProtocolID string `json:"protocolId"`
	ExecutorID string `json:"executorId"`
	Notes      string `json:"notes"`
}

type ManualCancellation struct {
	ProtocolID string `json:"protocolId"`
	ExecutorID string `json:"executorId"`
	Reason     string `json:"reason"`
	Notes      string `json:"notes"`
	// CompletedTaskIDs are the tasks done before the run was abandoned.
	CompletedTaskIDs []string `json:"completedTaskIds"`
}

type ManualResult struct {
	Incident  models.Incident          `json:"incident"`
	Execution models.ProtocolExecution `json:"execution"`
}

// MaterializeRisk records that a risk happened. A risk with a default
// protocol also gets an incident, linked both ways with the event.
func (c *Coordinator) MaterializeRisk(ctx context.Context, actor auth.Context, req MaterializeRequest) (models.MaterializationEvent, *models.Incident, error) {
	const op = "coordinator.materialize_risk"
	if err := requireWriter(actor, "record risk materializations"); err != nil {
		return models.MaterializationEvent{}, nil, c.reject(op, err)
	}
	req.EventDescription = strings.TrimSpace(req.EventDescription)
	req.ReporterID = strings.TrimSpace(req.ReporterID)
	if req.ReporterID == "" {
		req.ReporterID = actor.UserID
	}
	switch {
	case req.EventDescription == "":
		return models.MaterializationEvent{}, nil, c.reject(op, invalid("eventDescription", "is required"))
	case !req.RealSeverity.Valid():
		return models.MaterializationEvent{}, nil, c.reject(op, invalid("realSeverity", fmt.Sprintf("%q is not a severity", req.RealSeverity)))
	}

	// the protocol to lock comes from the risk; a relink in between is a conflict
	var linked models.Risk
	if err := first(c.db.WithContext(ctx), &linked, "risk", req.RiskID); err != nil {
		return models.MaterializationEvent{}, nil, c.reject(op, err)
	}

	var (
		event    models.MaterializationEvent
		incident *models.Incident
	)
	keys := linkKeys([]string{lockKey("risk", req.RiskID)}, linked.ProtocolID)
	err := c.run(ctx, op, keys, func(tx *gorm.DB, out *outbox) error {
		var risk models.Risk
		if err := first(tx, &risk, "risk", req.RiskID); err != nil {
			return err
		}
		if !sameLink(risk.ProtocolID, linked.ProtocolID) {
			return &ConflictError{Entity: "risk", ID: risk.ID, Reason: "protocol link changed"}
		}
		if !risk.Active {
			return invalid("riskId", "risk is inactive")
		}

		event = models.MaterializationEvent{
			RiskID:           risk.ID,
			EventDescription: req.EventDescription,
			RealSeverity:     req.RealSeverity,
			ActionsTaken:     compact(req.ActionsTaken),
			ReporterID:       req.ReporterID,
			Notes:            strings.TrimSpace(req.Notes),
			OccurredAt:       c.now(),
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("create materialization: %w", err)
		}

		if risk.ProtocolID != nil {
			responsible := risk.ResponsibleUserID
			created, err := c.incidents.create(tx, actor, IncidentInput{
				Title:          "Materialización de riesgo: " + risk.Name,
				Description:    req.EventDescription,
				Category:       string(risk.Category),
				Severity:       req.RealSeverity,
				AssignedUserID: &responsible,
				RiskID:         &risk.ID,
				ProtocolID:     risk.ProtocolID,
			}, out)
			if err != nil {
				return err
			}
			incident = &created
			event.GeneratedIncidentID = &created.ID
			if err := tx.Model(&event).Update("generated_incident_id", created.ID).Error; err != nil {
				return fmt.Errorf("link materialization: %w", err)
			}
		}

		details := fmt.Sprintf("Risk materialized with severity %s", req.RealSeverity)
		if incident != nil {
			details += ", incident " + incident.ID
		}
		if err := c.audit(tx, actor, "materialization", event.ID, "create", details); err != nil {
			return err
		}

		out.riskMaterialized(notify.MaterializationNotice{
			Risk:       risk,
			Event:      event,
			IncidentID: event.GeneratedIncidentID,
			Recipient:  userEmail(tx, risk.ResponsibleUserID),
		})
		return nil
	})
	if err != nil {
		return models.MaterializationEvent{}, nil, err
	}
	return event, incident, nil
}

// CompleteProtocolManually records an offline run: a new incident plus an
// execution created already complete with every task checked. The incident
// is resolved by the same completion cascade as the interactive path.
func (c *Coordinator) CompleteProtocolManually(ctx context.Context, actor auth.Context, req ManualCompletion) (ManualResult, error) {
	const op = "coordinator.complete_manually"
	if err := requirePrivileged(actor, "complete protocols manually"); err != nil {
		return ManualResult{}, c.reject(op, err)
	}
	if req.ExecutorID = strings.TrimSpace(req.ExecutorID); req.ExecutorID == "" {
		req.ExecutorID = actor.UserID
	}

	var res ManualResult
	err := c.run(ctx, op, []string{lockKey("protocol", req.ProtocolID)}, func(tx *gorm.DB, out *outbox) error {
		p, err := c.activeProtocol(tx, req.ProtocolID)
		if err != nil {
			return err
		}
		if err := checkActiveUser(tx, "executorId", req.ExecutorID); err != nil {
			return err
		}

		description := strings.TrimSpace(req.Notes)
		if description == "" {
			description = "Protocolo completado manualmente"
		}
		incident, err := c.manualIncident(tx, actor, p, "Ejecución manual: "+p.Title, description, req.ExecutorID, out)
		if err != nil {
			return err
		}

		now := c.now()
		exec := models.ProtocolExecution{
			ProtocolID:       p.ID,
			IncidentID:       &incident.ID,
			UserID:           req.ExecutorID,
			State:            models.ExecutionCompleted,
			Progress:         100,
			CompletedTaskIDs: p.TaskIDs(),
			Notes:            strings.TrimSpace(req.Notes),
			StartedAt:        now,
			EndedAt:          &now,
		}
		if err := tx.Create(&exec).Error; err != nil {
			return fmt.Errorf("create execution: %w", err)
		}
		if err := c.audit(tx, actor, "execution", exec.ID, "complete", "Protocol completed manually: "+p.Title); err != nil {
			return err
		}
		if err := c.incidents.resolve(tx, actor, &incident, exec.UserID, now); err != nil {
			return err
		}

		res = ManualResult{Incident: incident, Execution: exec}
		return nil
	})
	if err != nil {
		return ManualResult{}, err
	}
	return res, nil
}

// CancelProtocolManually records an abandoned offline run: an incident
// documenting the cancellation plus a cancelled execution frozen at the
// progress reached.
func (c *Coordinator) CancelProtocolManually(ctx context.Context, actor auth.Context, req ManualCancellation) (ManualResult, error) {
	const op = "coordinator.cancel_manually"
	if err := requirePrivileged(actor, "cancel protocols manually"); err != nil {
		return ManualResult{}, c.reject(op, err)
	}
	if req.Reason = strings.TrimSpace(req.Reason); req.Reason == "" {
		return ManualResult{}, c.reject(op, invalid("reason", "is required"))
	}
	if req.ExecutorID = strings.TrimSpace(req.ExecutorID); req.ExecutorID == "" {
		req.ExecutorID = actor.UserID
	}

	var res ManualResult
	err := c.run(ctx, op, []string{lockKey("protocol", req.ProtocolID)}, func(tx *gorm.DB, out *outbox) error {
		p, err := c.activeProtocol(tx, req.ProtocolID)
		if err != nil {
			return err
		}
		for _, id := range req.CompletedTaskIDs {
			if !hasTask(p, id) {
				return invalid("completedTaskIds", fmt.Sprintf("%q is not a task of protocol %s", id, p.ID))
			}
		}
		if err := checkActiveUser(tx, "executorId", req.ExecutorID); err != nil {
			return err
		}

		description := "Protocolo cancelado: " + req.Reason
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			description += "\n" + notes
		}
		incident, err := c.manualIncident(tx, actor, p, "Cancelación de protocolo: "+p.Title, description, req.ExecutorID, out)
		if err != nil {
			return err
		}

		now := c.now()
		completed := orderedTaskSet(p, req.CompletedTaskIDs)
		exec := models.ProtocolExecution{
			ProtocolID:       p.ID,
			IncidentID:       &incident.ID,
			UserID:           req.ExecutorID,
			State:            models.ExecutionCancelled,
			Progress:         Progress(p, completed),
			CompletedTaskIDs: completed,
			Notes:            appendNote(strings.TrimSpace(req.Notes), "Cancelado: "+req.Reason),
			CancelReason:     req.Reason,
			StartedAt:        now,
			EndedAt:          &now,
		}
		if err := tx.Create(&exec).Error; err != nil {
			return fmt.Errorf("create execution: %w", err)
		}
		if err := c.audit(tx, actor, "execution", exec.ID, "cancel",
			fmt.Sprintf("Protocol cancelled manually at %d%%: %s", exec.Progress, req.Reason)); err != nil {
			return err
		}

		res = ManualResult{Incident: incident, Execution: exec}
		return nil
	})
	if err != nil {
		return ManualResult{}, err
	}
	return res, nil
}

func sameLink(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (c *Coordinator) activeProtocol(tx *gorm.DB, id string) (models.Protocol, error) {
	var p models.Protocol
	if err := first(tx, &p, "protocol", id); err != nil {
		return models.Protocol{}, err
	}
	if !p.Active {
		return models.Protocol{}, invalid("protocolId", "protocol is inactive")
	}
	return p, nil
}

// manualIncident creates the incident backing an offline run, already flagged
// as executed since the execution is written alongside it.
func (c *Coordinator) manualIncident(tx *gorm.DB, actor auth.Context, p models.Protocol, title, description, executorID string, out *outbox) (models.Incident, error) {
	incident, err := c.incidents.create(tx, actor, IncidentInput{
		Title:          title,
		Description:    description,
		Category:       string(p.Category),
		Severity:       p.Severity,
		AssignedUserID: &executorID,
		ProtocolID:     &p.ID,
	}, out)
	if err != nil {
		return models.Incident{}, err
	}
	incident.ProtocolExecuted = true
	if err := tx.Model(&incident).Update("protocol_executed", true).Error; err != nil {
		return models.Incident{}, fmt.Errorf("flag incident executed: %w", err)
	}
	return incident, nil
}
