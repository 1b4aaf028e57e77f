package workflow

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"facility-risk/internal/auth"
	"facility-risk/internal/models"

	"gorm.io/gorm"
)

// RiskRegistry owns the risk lifecycle.
type RiskRegistry struct {
	*deps
}

type RiskInput struct {
	Name               string                 `json:"name"`
	Description        string                 `json:"description"`
	Category           models.RiskCategory    `json:"category"`
	Impact             models.RiskImpact      `json:"impact"`
	Probability        models.RiskProbability `json:"probability"`
	MitigationMeasures string                 `json:"mitigationMeasures"`
	ResponsibleUserID  string                 `json:"responsibleUserId"`
	ProtocolID         *string                `json:"protocolId"`
}

// RiskPatch carries an update. Only MitigationMeasures, ResponsibleUserID,
// ProtocolID and State may be set; the rest exist so attempts to change them
// are rejected instead of silently dropped. An empty ProtocolID unlinks.
type RiskPatch struct {
	Name        *string                 `json:"name"`
	Description *string                 `json:"description"`
	Category    *models.RiskCategory    `json:"category"`
	Impact      *models.RiskImpact      `json:"impact"`
	Probability *models.RiskProbability `json:"probability"`

	MitigationMeasures *string           `json:"mitigationMeasures"`
	ResponsibleUserID  *string           `json:"responsibleUserId"`
	ProtocolID         *string           `json:"protocolId"`
	State              *models.RiskState `json:"state"`
}

type RiskFilter struct {
	State      models.RiskState
	Category   models.RiskCategory
	ProtocolID string
	ActiveOnly bool
}

func validateMitigation(m string) error {
	if utf8.RuneCountInString(strings.TrimSpace(m)) < models.MinMitigationLength {
		return invalid("mitigationMeasures", fmt.Sprintf("must be at least %d characters", models.MinMitigationLength))
	}
	return nil
}

func (in *RiskInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.MitigationMeasures = strings.TrimSpace(in.MitigationMeasures)
	in.ResponsibleUserID = strings.TrimSpace(in.ResponsibleUserID)
	if in.ProtocolID != nil && strings.TrimSpace(*in.ProtocolID) == "" {
		in.ProtocolID = nil
	}

	switch {
	case in.Name == "":
		return invalid("name", "is required")
	case in.Description == "":
		return invalid("description", "is required")
	case !in.Category.Valid():
		return invalid("category", fmt.Sprintf("%q is not a risk category", in.Category))
	case !in.Impact.Valid():
		return invalid("impact", fmt.Sprintf("%q is not an impact level", in.Impact))
	case !in.Probability.Valid():
		return invalid("probability", fmt.Sprintf("%q is not a probability level", in.Probability))
	case in.ResponsibleUserID == "":
		return invalid("responsibleUserId", "is required")
	}
	return validateMitigation(in.MitigationMeasures)
}

// Create validates and stores a new risk in state Identificado.
func (r *RiskRegistry) Create(ctx context.Context, actor auth.Context, in RiskInput) (models.Risk, error) {
	const op = "risk.create"
	if err := requirePrivileged(actor, "create risks"); err != nil {
		return models.Risk{}, r.reject(op, err)
	}
	if err := in.normalize(); err != nil {
		return models.Risk{}, r.reject(op, err)
	}

	risk := models.Risk{
		Name:               in.Name,
		Description:        in.Description,
		Category:           in.Category,
		Impact:             in.Impact,
		Probability:        in.Probability,
		State:              models.RiskIdentified,
		MitigationMeasures: in.MitigationMeasures,
		ResponsibleUserID:  in.ResponsibleUserID,
		ProtocolID:         in.ProtocolID,
		Active:             true,
	}

	err := r.run(ctx, op, linkKeys(nil, risk.ProtocolID), func(tx *gorm.DB, _ *outbox) error {
		if err := checkActiveUser(tx, "responsibleUserId", risk.ResponsibleUserID); err != nil {
			return err
		}
		if risk.ProtocolID != nil {
			if err := checkProtocolLink(tx, *risk.ProtocolID); err != nil {
				return err
			}
		}
		if err := tx.Create(&risk).Error; err != nil {
			return fmt.Errorf("create risk: %w", err)
		}
		return r.audit(tx, actor, "risk", risk.ID, "create", "Risk created: "+risk.Name)
	})
	if err != nil {
		return models.Risk{}, err
	}
	return risk, nil
}

// ChangeState moves a risk to any state; there is no transition table.
func (r *RiskRegistry) ChangeState(ctx context.Context, actor auth.Context, id string, state models.RiskState) (models.Risk, error) {
	return r.Update(ctx, actor, id, RiskPatch{State: &state})
}

func (r *RiskRegistry) Update(ctx context.Context, actor auth.Context, id string, patch RiskPatch) (models.Risk, error) {
	op := "risk.update"
	if patch.State != nil && patch.onlyState() {
		op = "risk.change_state"
	}
	if err := requirePrivileged(actor, "edit risks"); err != nil {
		return models.Risk{}, r.reject(op, err)
	}
	if err := patch.validate(); err != nil {
		return models.Risk{}, r.reject(op, err)
	}

	var risk models.Risk
	keys := linkKeys([]string{lockKey("risk", id)}, patch.ProtocolID)
	err := r.run(ctx, op, keys, func(tx *gorm.DB, _ *outbox) error {
		if err := first(tx, &risk, "risk", id); err != nil {
			return err
		}

		var changes []string
		if patch.MitigationMeasures != nil {
			risk.MitigationMeasures = strings.TrimSpace(*patch.MitigationMeasures)
			changes = append(changes, "mitigationMeasures")
		}
		if patch.ResponsibleUserID != nil {
			uid := strings.TrimSpace(*patch.ResponsibleUserID)
			if err := checkActiveUser(tx, "responsibleUserId", uid); err != nil {
				return err
			}
			risk.ResponsibleUserID = uid
			changes = append(changes, "responsibleUserId")
		}
		if patch.ProtocolID != nil {
			pid := strings.TrimSpace(*patch.ProtocolID)
			if pid == "" {
				risk.ProtocolID = nil
			} else {
				if err := checkProtocolLink(tx, pid); err != nil {
					return err
				}
				risk.ProtocolID = &pid
			}
			changes = append(changes, "protocolId")
		}

		if patch.State != nil {
			changes = append(changes, fmt.Sprintf("state %s -> %s", risk.State, *patch.State))
			risk.State = *patch.State
		}
		action := "update"
		if patch.State != nil && patch.onlyState() {
			action = "state_change"
		}
		details := strings.Join(changes, "; ")

		if err := tx.Save(&risk).Error; err != nil {
			return fmt.Errorf("save risk: %w", err)
		}
		return r.audit(tx, actor, "risk", risk.ID, action, details)
	})
	if err != nil {
		return models.Risk{}, err
	}
	return risk, nil
}

// Deactivate hides a risk from the active catalog. Risks are never deleted.
func (r *RiskRegistry) Deactivate(ctx context.Context, actor auth.Context, id string) (models.Risk, error) {
	const op = "risk.deactivate"
	if err := requirePrivileged(actor, "deactivate risks"); err != nil {
		return models.Risk{}, r.reject(op, err)
	}

	var risk models.Risk
	err := r.run(ctx, op, []string{lockKey("risk", id)}, func(tx *gorm.DB, _ *outbox) error {
		if err := first(tx, &risk, "risk", id); err != nil {
			return err
		}
		if !risk.Active {
			return nil
		}
		risk.Active = false
		if err := tx.Save(&risk).Error; err != nil {
			return fmt.Errorf("save risk: %w", err)
		}
		return r.audit(tx, actor, "risk", risk.ID, "deactivate", "Risk deactivated")
	})
	if err != nil {
		return models.Risk{}, err
	}
	return risk, nil
}

func (r *RiskRegistry) Get(ctx context.Context, id string) (models.Risk, error) {
	var risk models.Risk
	err := first(r.db.WithContext(ctx), &risk, "risk", id)
	return risk, err
}

func (r *RiskRegistry) List(ctx context.Context, f RiskFilter) ([]models.Risk, error) {
	q := r.db.WithContext(ctx).Order("created_at desc")
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.ProtocolID != "" {
		q = q.Where("protocol_id = ?", f.ProtocolID)
	}
	if f.ActiveOnly {
		q = q.Where("active = ?", true)
	}

	var risks []models.Risk
	if err := q.Find(&risks).Error; err != nil {
		return nil, fmt.Errorf("list risks: %w", err)
	}
	return risks, nil
}

func (p RiskPatch) onlyState() bool {
	return p.MitigationMeasures == nil && p.ResponsibleUserID == nil && p.ProtocolID == nil
}

func (p RiskPatch) validate() error {
	immutable := map[string]bool{
		"name":        p.Name != nil,
		"description": p.Description != nil,
		"category":    p.Category != nil,
		"impact":      p.Impact != nil,
		"probability": p.Probability != nil,
	}
	for _, field := range []string{"name", "description", "category", "impact", "probability"} {
		if immutable[field] {
			return invalid(field, "cannot be changed after creation")
		}
	}

	if p.MitigationMeasures == nil && p.ResponsibleUserID == nil && p.ProtocolID == nil && p.State == nil {
		return invalid("patch", "no mutable field given")
	}
	if p.MitigationMeasures != nil {
		if err := validateMitigation(*p.MitigationMeasures); err != nil {
			return err
		}
	}
	if p.ResponsibleUserID != nil && strings.TrimSpace(*p.ResponsibleUserID) == "" {
		return invalid("responsibleUserId", "is required")
	}
	if p.State != nil && !p.State.Valid() {
		return invalid("state", fmt.Sprintf("%q is not a risk state", *p.State))
	}
	return nil
}

func checkActiveUser(tx *gorm.DB, field, userID string) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("id = ? AND active = ?", userID, true).Count(&count).Error; err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if count == 0 {
		return invalid(field, fmt.Sprintf("no active user %s", userID))
	}
	return nil
}

func checkProtocolLink(tx *gorm.DB, protocolID string) error {
	var count int64
	if err := tx.Model(&models.Protocol{}).Where("id = ? AND active = ?", protocolID, true).Count(&count).Error; err != nil {
		return fmt.Errorf("check protocol: %w", err)
	}
	if count == 0 {
		return invalid("protocolId", fmt.Sprintf("no active protocol %s", protocolID))
	}
	return nil
}
