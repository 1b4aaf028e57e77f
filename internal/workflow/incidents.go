package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"facility-risk/internal/auth"
	"facility-risk/internal/models"
	"facility-risk/internal/notify"

	"gorm.io/gorm"
)

// IncidentLedger owns the incident lifecycle. Resolved incidents are final
// except for their notes.
type IncidentLedger struct {
	*deps
}

type IncidentInput struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Severity       models.Severity `json:"severity"`
	AssignedUserID *string         `json:"assignedUserId"`
	RiskID         *string         `json:"riskId"`
	ProtocolID     *string         `json:"protocolId"`
}

type IncidentFilter struct {
	State      models.IncidentState
	RiskID     string
	ProtocolID string
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func (in *IncidentInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.AssignedUserID = blankToNil(in.AssignedUserID)
	in.RiskID = blankToNil(in.RiskID)
	in.ProtocolID = blankToNil(in.ProtocolID)

	switch {
	case in.Title == "":
		return invalid("title", "is required")
	case in.Description == "":
		return invalid("description", "is required")
	case in.Category == "":
		return invalid("category", "is required")
	case !in.Severity.Valid():
		return invalid("severity", fmt.Sprintf("%q is not a severity", in.Severity))
	}
	return nil
}

// Create reports a new incident in state Pendiente and notifies the assignee.
func (l *IncidentLedger) Create(ctx context.Context, actor auth.Context, in IncidentInput) (models.Incident, error) {
	const op = "incident.create"
	if err := requireWriter(actor, "report incidents"); err != nil {
		return models.Incident{}, l.reject(op, err)
	}
	if err := in.normalize(); err != nil {
		return models.Incident{}, l.reject(op, err)
	}

	var incident models.Incident
	err := l.run(ctx, op, linkKeys(nil, in.ProtocolID), func(tx *gorm.DB, out *outbox) error {
		if err := checkIncidentLinks(tx, in); err != nil {
			return err
		}
		var err error
		incident, err = l.create(tx, actor, in, out)
		return err
	})
	if err != nil {
		return models.Incident{}, err
	}
	return incident, nil
}

// create inserts an already-normalized incident within tx.
func (l *IncidentLedger) create(tx *gorm.DB, actor auth.Context, in IncidentInput, out *outbox) (models.Incident, error) {
	incident := models.Incident{
		Title:          in.Title,
		Description:    in.Description,
		Category:       in.Category,
		Severity:       in.Severity,
		State:          models.IncidentPending,
		AssignedUserID: in.AssignedUserID,
		RiskID:         in.RiskID,
		ProtocolID:     in.ProtocolID,
		ReportedAt:     l.now(),
	}
	if err := tx.Create(&incident).Error; err != nil {
		return models.Incident{}, fmt.Errorf("create incident: %w", err)
	}
	if err := l.audit(tx, actor, "incident", incident.ID, "create", "Incident reported: "+incident.Title); err != nil {
		return models.Incident{}, err
	}

	var recipient string
	if incident.AssignedUserID != nil {
		recipient = userEmail(tx, *incident.AssignedUserID)
	}
	out.incidentCreated(notify.IncidentNotice{Incident: incident, Recipient: recipient})
	return incident, nil
}

// UpdateState moves an open incident between Pendiente and En proceso.
// Resolution goes through Resolve so resolvedAt is always recorded.
func (l *IncidentLedger) UpdateState(ctx context.Context, actor auth.Context, id string, state models.IncidentState) (models.Incident, error) {
	const op = "incident.update_state"
	if err := requireWriter(actor, "update incidents"); err != nil {
		return models.Incident{}, l.reject(op, err)
	}
	if !state.Valid() {
		return models.Incident{}, l.reject(op, invalid("state", fmt.Sprintf("%q is not an incident state", state)))
	}
	if state == models.IncidentResolved {
		return models.Incident{}, l.reject(op, invalid("state", "use resolve to close an incident"))
	}

	var incident models.Incident
	err := l.run(ctx, op, []string{lockKey("incident", id)}, func(tx *gorm.DB, _ *outbox) error {
		if err := first(tx, &incident, "incident", id); err != nil {
			return err
		}
		return l.setState(tx, actor, &incident, state)
	})
	if err != nil {
		return models.Incident{}, err
	}
	return incident, nil
}

func (l *IncidentLedger) setState(tx *gorm.DB, actor auth.Context, incident *models.Incident, state models.IncidentState) error {
	if incident.State == models.IncidentResolved {
		return invalid("state", "incident is already resolved")
	}
	if incident.State == state {
		return nil
	}
	prev := incident.State
	incident.State = state
	if err := tx.Save(incident).Error; err != nil {
		return fmt.Errorf("save incident: %w", err)
	}
	return l.audit(tx, actor, "incident", incident.ID, "state_change", fmt.Sprintf("State %s -> %s", prev, state))
}

// Resolve closes an incident by hand. Executions resolve theirs through the
// completion cascade.
func (l *IncidentLedger) Resolve(ctx context.Context, actor auth.Context, id string) (models.Incident, error) {
	const op = "incident.resolve"
	if err := requirePrivileged(actor, "resolve incidents"); err != nil {
		return models.Incident{}, l.reject(op, err)
	}

	var incident models.Incident
	err := l.run(ctx, op, []string{lockKey("incident", id)}, func(tx *gorm.DB, _ *outbox) error {
		if err := first(tx, &incident, "incident", id); err != nil {
			return err
		}
		if incident.State == models.IncidentResolved {
			return invalid("state", "incident is already resolved")
		}
		return l.resolve(tx, actor, &incident, actor.UserID, l.now())
	})
	if err != nil {
		return models.Incident{}, err
	}
	return incident, nil
}

func (l *IncidentLedger) resolve(tx *gorm.DB, actor auth.Context, incident *models.Incident, resolvedBy string, at time.Time) error {
	if incident.State == models.IncidentResolved {
		return nil
	}
	incident.State = models.IncidentResolved
	incident.ResolvedAt = &at
	incident.ResolvedBy = &resolvedBy
	if err := tx.Save(incident).Error; err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	return l.audit(tx, actor, "incident", incident.ID, "resolve", "Incident resolved by "+resolvedBy)
}

// AppendNotes adds free text; allowed in every state.
func (l *IncidentLedger) AppendNotes(ctx context.Context, actor auth.Context, id, text string) (models.Incident, error) {
	const op = "incident.notes"
	if err := requireWriter(actor, "annotate incidents"); err != nil {
		return models.Incident{}, l.reject(op, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Incident{}, l.reject(op, invalid("notes", "is empty"))
	}

	var incident models.Incident
	err := l.run(ctx, op, []string{lockKey("incident", id)}, func(tx *gorm.DB, _ *outbox) error {
		if err := first(tx, &incident, "incident", id); err != nil {
			return err
		}
		incident.Notes = appendNote(incident.Notes, text)
		if err := tx.Model(&incident).Update("notes", incident.Notes).Error; err != nil {
			return fmt.Errorf("save incident notes: %w", err)
		}
		return l.audit(tx, actor, "incident", incident.ID, "notes", "Notes appended")
	})
	if err != nil {
		return models.Incident{}, err
	}
	return incident, nil
}

func (l *IncidentLedger) Get(ctx context.Context, id string) (models.Incident, error) {
	var incident models.Incident
	err := first(l.db.WithContext(ctx), &incident, "incident", id)
	return incident, err
}

func (l *IncidentLedger) List(ctx context.Context, f IncidentFilter) ([]models.Incident, error) {
	q := l.db.WithContext(ctx).Order("reported_at desc")
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.RiskID != "" {
		q = q.Where("risk_id = ?", f.RiskID)
	}
	if f.ProtocolID != "" {
		q = q.Where("protocol_id = ?", f.ProtocolID)
	}
	var incidents []models.Incident
	if err := q.Find(&incidents).Error; err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return incidents, nil
}

func checkIncidentLinks(tx *gorm.DB, in IncidentInput) error {
	links := []struct {
		field  string
		entity string
		id     *string
		dest   any
	}{
		{"riskId", "risk", in.RiskID, &models.Risk{}},
		{"protocolId", "protocol", in.ProtocolID, &models.Protocol{}},
		{"assignedUserId", "user", in.AssignedUserID, &models.User{}},
	}
	for _, link := range links {
		if link.id == nil {
			continue
		}
		err := first(tx, link.dest, link.entity, *link.id)
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return invalid(link.field, nf.Error())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func userEmail(tx *gorm.DB, userID string) string {
	var u models.User
	if err := tx.Select("email").Where("id = ?", userID).Take(&u).Error; err != nil {
		return ""
	}
	return u.Email
}

func appendNote(notes, text string) string {
	if notes == "" {
		return text
	}
	return notes + "\n" + text
}
