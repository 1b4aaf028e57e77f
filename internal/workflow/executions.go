package workflow

import (
	"context"
	"fmt"
	"strings"

	"facility-risk/internal/auth"
	"facility-risk/internal/models"

	"gorm.io/gorm"
)

// ExecutionTracker owns protocol executions: start, per-task bookkeeping,
// derived progress and the completion cascade into the incident ledger.
type ExecutionTracker struct {
	*deps
	incidents *IncidentLedger
}

// Start opens an execution of protocolID for the acting user. With an
// incident, the incident moves to En proceso and is flagged as executed; an
// incident carries at most one execution in progress.
func (t *ExecutionTracker) Start(ctx context.Context, actor auth.Context, protocolID string, incidentID *string) (models.ProtocolExecution, error) {
	const op = "execution.start"
	if err := requirePrivileged(actor, "start protocol executions"); err != nil {
		return models.ProtocolExecution{}, t.reject(op, err)
	}
	incidentID = blankToNil(incidentID)

	keys := []string{lockKey("protocol", protocolID)}
	if incidentID != nil {
		keys = append(keys, lockKey("incident", *incidentID))
	}

	var exec models.ProtocolExecution
	err := t.run(ctx, op, keys, func(tx *gorm.DB, _ *outbox) error {
		var p models.Protocol
		if err := first(tx, &p, "protocol", protocolID); err != nil {
			return err
		}
		if !p.Active {
			return invalid("protocolId", "protocol is inactive")
		}

		var incident models.Incident
		if incidentID != nil {
			if err := first(tx, &incident, "incident", *incidentID); err != nil {
				return err
			}
			if incident.State == models.IncidentResolved {
				return invalid("incidentId", "incident is already resolved")
			}
			var running int64
			if err := tx.Model(&models.ProtocolExecution{}).
				Where("incident_id = ? AND state = ?", incident.ID, models.ExecutionInProgress).
				Count(&running).Error; err != nil {
				return fmt.Errorf("check running executions: %w", err)
			}
			if running > 0 {
				return &ConflictError{Entity: "incident", ID: incident.ID, Reason: "already has an execution in progress"}
			}
		}

		exec = models.ProtocolExecution{
			ProtocolID:       p.ID,
			IncidentID:       incidentID,
			UserID:           actor.UserID,
			State:            models.ExecutionInProgress,
			Progress:         0,
			CompletedTaskIDs: []string{},
			StartedAt:        t.now(),
		}
		if err := tx.Create(&exec).Error; err != nil {
			return fmt.Errorf("create execution: %w", err)
		}
		if err := t.audit(tx, actor, "execution", exec.ID, "start", "Execution started for protocol "+p.Title); err != nil {
			return err
		}

		if incidentID == nil {
			return nil
		}
		return t.markIncidentExecuted(tx, actor, &incident, p.ID)
	})
	if err != nil {
		return models.ProtocolExecution{}, err
	}
	return exec, nil
}

func (t *ExecutionTracker) markIncidentExecuted(tx *gorm.DB, actor auth.Context, incident *models.Incident, protocolID string) error {
	incident.ProtocolExecuted = true
	if incident.ProtocolID == nil {
		incident.ProtocolID = &protocolID
	}
	if incident.State != models.IncidentInProgress {
		return t.incidents.setState(tx, actor, incident, models.IncidentInProgress)
	}
	if err := tx.Save(incident).Error; err != nil {
		return fmt.Errorf("save incident: %w", err)
	}
	return nil
}

// ToggleTask checks or unchecks one task and recomputes progress. Checking the last open task
// completes the execution and resolves its incident in the same transaction.
func (t *ExecutionTracker) ToggleTask(ctx context.Context, actor auth.Context, executionID, taskID string, checked bool) (models.ProtocolExecution, error) {
	const op = "execution.toggle_task"
	if err := requireWriter(actor, "check protocol tasks"); err != nil {
		return models.ProtocolExecution{}, t.reject(op, err)
	}

	// owner and incident never change, so they can be read before locking
	var current models.ProtocolExecution
	if err := first(t.db.WithContext(ctx), &current, "execution", executionID); err != nil {
		return models.ProtocolExecution{}, t.reject(op, err)
	}
	if !actor.Privileged() && actor.UserID != current.UserID {
		return models.ProtocolExecution{}, t.reject(op, &PermissionError{Action: "check tasks of another user's execution", Role: actor.Role})
	}

	keys := []string{lockKey("execution", executionID)}
	if current.IncidentID != nil {
		keys = append(keys, lockKey("incident", *current.IncidentID))
	}

	var exec models.ProtocolExecution
	err := t.run(ctx, op, keys, func(tx *gorm.DB, _ *outbox) error {
		if err := first(tx, &exec, "execution", executionID); err != nil {
			return err
		}
		if exec.State.Terminal() {
			return invalid("state", fmt.Sprintf("execution is %s", exec.State))
		}
		var p models.Protocol
		if err := first(tx, &p, "protocol", exec.ProtocolID); err != nil {
			return err
		}
		if !hasTask(p, taskID) {
			return invalid("taskId", fmt.Sprintf("%q is not a task of protocol %s", taskID, p.ID))
		}

		completed := make([]string, 0, len(exec.CompletedTaskIDs)+1)
		for _, id := range exec.CompletedTaskIDs {
			if id != taskID {
				completed = append(completed, id)
			}
		}
		if checked {
			completed = append(completed, taskID)
		}
		exec.CompletedTaskIDs = orderedTaskSet(p, completed)
		exec.Progress = Progress(p, exec.CompletedTaskIDs)

		verb := "unchecked"
		if checked {
			verb = "checked"
		}
		details := fmt.Sprintf("Task %s %s, progress %d%%", taskID, verb, exec.Progress)

		if len(exec.CompletedTaskIDs) < p.TaskCount() {
			if err := saveExecution(tx, &exec); err != nil {
				return err
			}
			return t.audit(tx, actor, "execution", exec.ID, "toggle_task", details)
		}

		return t.complete(tx, actor, &exec, details)
	})
	if err != nil {
		return models.ProtocolExecution{}, err
	}
	return exec, nil
}

// complete finishes an execution at 100% and cascades into its incident.
func (t *ExecutionTracker) complete(tx *gorm.DB, actor auth.Context, exec *models.ProtocolExecution, details string) error {
	now := t.now()
	exec.State = models.ExecutionCompleted
	exec.Progress = 100
	exec.EndedAt = &now
	if err := saveExecution(tx, exec); err != nil {
		return err
	}
	if err := t.audit(tx, actor, "execution", exec.ID, "complete", details); err != nil {
		return err
	}

	if exec.IncidentID == nil {
		return nil
	}
	var incident models.Incident
	if err := first(tx, &incident, "incident", *exec.IncidentID); err != nil {
		return err
	}
	return t.incidents.resolve(tx, actor, &incident, exec.UserID, now)
}

// Cancel stops an execution for the given reason. Progress is frozen and the
// linked incident is left alone.
func (t *ExecutionTracker) Cancel(ctx context.Context, actor auth.Context, executionID, reason string) (models.ProtocolExecution, error) {
	const op = "execution.cancel"
	if err := requirePrivileged(actor, "cancel protocol executions"); err != nil {
		return models.ProtocolExecution{}, t.reject(op, err)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.ProtocolExecution{}, t.reject(op, invalid("reason", "is required"))
	}

	var exec models.ProtocolExecution
	err := t.run(ctx, op, []string{lockKey("execution", executionID)}, func(tx *gorm.DB, _ *outbox) error {
		if err := first(tx, &exec, "execution", executionID); err != nil {
			return err
		}
		if exec.State.Terminal() {
			return invalid("state", fmt.Sprintf("execution is %s", exec.State))
		}
		now := t.now()
		exec.State = models.ExecutionCancelled
		exec.EndedAt = &now
		exec.CancelReason = reason
		exec.Notes = appendNote(exec.Notes, "Cancelado: "+reason)
		if err := saveExecution(tx, &exec); err != nil {
			return err
		}
		return t.audit(tx, actor, "execution", exec.ID, "cancel",
			fmt.Sprintf("Cancelled at %d%%: %s", exec.Progress, reason))
	})
	if err != nil {
		return models.ProtocolExecution{}, err
	}
	return exec, nil
}

// SaveNotes appends free text; allowed in every state.
func (t *ExecutionTracker) SaveNotes(ctx context.Context, actor auth.Context, executionID, text string) (models.ProtocolExecution, error) {
	const op = "execution.notes"
	if err := requireWriter(actor, "annotate protocol executions"); err != nil {
		return models.ProtocolExecution{}, t.reject(op, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ProtocolExecution{}, t.reject(op, invalid("notes", "is empty"))
	}

	var exec models.ProtocolExecution
	err := t.run(ctx, op, []string{lockKey("execution", executionID)}, func(tx *gorm.DB, _ *outbox) error {
		if err := first(tx, &exec, "execution", executionID); err != nil {
			return err
		}
		exec.Notes = appendNote(exec.Notes, text)
		if err := saveExecution(tx, &exec); err != nil {
			return err
		}
		return t.audit(tx, actor, "execution", exec.ID, "notes", "Notes appended")
	})
	if err != nil {
		return models.ProtocolExecution{}, err
	}
	return exec, nil
}

func (t *ExecutionTracker) Get(ctx context.Context, id string) (models.ProtocolExecution, error) {
	var exec models.ProtocolExecution
	err := first(t.db.WithContext(ctx), &exec, "execution", id)
	return exec, err
}

func (t *ExecutionTracker) ListByIncident(ctx context.Context, incidentID string) ([]models.ProtocolExecution, error) {
	return t.list(ctx, "incident_id = ?", incidentID)
}

func (t *ExecutionTracker) ListByProtocol(ctx context.Context, protocolID string) ([]models.ProtocolExecution, error) {
	return t.list(ctx, "protocol_id = ?", protocolID)
}

func (t *ExecutionTracker) list(ctx context.Context, where string, arg any) ([]models.ProtocolExecution, error) {
	var execs []models.ProtocolExecution
	if err := t.db.WithContext(ctx).Where(where, arg).Order("started_at desc").Find(&execs).Error; err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

// saveExecution writes the mutable columns if nobody else bumped the version
// since exec was loaded.
func saveExecution(tx *gorm.DB, exec *models.ProtocolExecution) error {
	prev := exec.Version
	exec.Version++
	res := tx.Model(exec).
		Where("version = ?", prev).
		Select("state", "progress", "completed_task_ids", "notes", "cancel_reason", "ended_at", "version", "updated_at").
		Updates(exec)
	if res.Error != nil {
		exec.Version = prev
		return fmt.Errorf("save execution: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		exec.Version = prev
		return &ConflictError{Entity: "execution", ID: exec.ID, Reason: "modified concurrently"}
	}
	return nil
}
