package workflow

import (
	"context"
	"fmt"
	"strings"

	"facility-risk/internal/auth"
	"facility-risk/internal/models"

	"gorm.io/gorm"
)

// Linkage names the first kind of record found pointing at a protocol.
type Linkage string

const (
	NotLinked       Linkage = ""
	LinkedRisk      Linkage = "risk"
	LinkedIncident  Linkage = "incident"
	LinkedExecution Linkage = "execution"
)

// ProtocolCatalog owns protocol definitions and the guard that freezes a
// protocol once anything references it.
type ProtocolCatalog struct {
	*deps
}

type ProtocolInput struct {
	Title         string                  `json:"title" yaml:"title"`
	Description   string                  `json:"description" yaml:"description"`
	Category      models.ProtocolCategory `json:"category" yaml:"category"`
	Severity      models.Severity         `json:"severity" yaml:"severity"`
	EstimatedTime string                  `json:"estimatedTime" yaml:"estimatedTime"`
	Tools         []string                `json:"tools" yaml:"tools"`
	Steps         []models.ProtocolStep   `json:"steps" yaml:"steps"`
}

type ProtocolPatch struct {
	Title         *string                  `json:"title"`
	Description   *string                  `json:"description"`
	Category      *models.ProtocolCategory `json:"category"`
	Severity      *models.Severity         `json:"severity"`
	EstimatedTime *string                  `json:"estimatedTime"`
	Tools         *[]string                `json:"tools"`
	Steps         *[]models.ProtocolStep   `json:"steps"`
}

// normalize trims every field and drops blank tools, blank tasks and steps
// left completely empty.
func (in *ProtocolInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.EstimatedTime = strings.TrimSpace(in.EstimatedTime)
	in.Tools = compact(in.Tools)

	steps := make([]models.ProtocolStep, 0, len(in.Steps))
	for i, step := range in.Steps {
		step.Title = strings.TrimSpace(step.Title)
		step.Description = strings.TrimSpace(step.Description)
		step.Tasks = compact(step.Tasks)

		switch {
		case step.Title == "" && len(step.Tasks) == 0:
			continue
		case step.Title == "":
			return invalid(fmt.Sprintf("steps[%d].title", i), "is required")
		case len(step.Tasks) == 0:
			return invalid(fmt.Sprintf("steps[%d].tasks", i), "needs at least one task")
		}
		steps = append(steps, step)
	}
	in.Steps = steps

	switch {
	case in.Title == "":
		return invalid("title", "is required")
	case !in.Category.Valid():
		return invalid("category", fmt.Sprintf("%q is not a protocol category", in.Category))
	case !in.Severity.Valid():
		return invalid("severity", fmt.Sprintf("%q is not a severity", in.Severity))
	case in.EstimatedTime == "":
		return invalid("estimatedTime", "is required")
	case len(in.Tools) == 0:
		return invalid("tools", "needs at least one tool")
	case len(in.Steps) == 0:
		return invalid("steps", "needs at least one step with a task")
	}
	return nil
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func (in ProtocolInput) apply(p *models.Protocol) {
	p.Title = in.Title
	p.Description = in.Description
	p.Category = in.Category
	p.Severity = in.Severity
	p.EstimatedTime = in.EstimatedTime
	p.Tools = in.Tools
	p.Steps = in.Steps
}

func (c *ProtocolCatalog) Create(ctx context.Context, actor auth.Context, in ProtocolInput) (models.Protocol, error) {
	const op = "protocol.create"
	if err := requirePrivileged(actor, "create protocols"); err != nil {
		return models.Protocol{}, c.reject(op, err)
	}
	if err := in.normalize(); err != nil {
		return models.Protocol{}, c.reject(op, err)
	}

	p := models.Protocol{Active: true}
	in.apply(&p)

	err := c.run(ctx, op, nil, func(tx *gorm.DB, _ *outbox) error {
		return c.create(tx, actor, &p)
	})
	if err != nil {
		return models.Protocol{}, err
	}
	return p, nil
}

func (c *ProtocolCatalog) create(tx *gorm.DB, actor auth.Context, p *models.Protocol) error {
	if err := tx.Create(p).Error; err != nil {
		return fmt.Errorf("create protocol: %w", err)
	}
	return c.audit(tx, actor, "protocol", p.ID, "create",
		fmt.Sprintf("Protocol created: %s (%d steps, %d tasks)", p.Title, len(p.Steps), p.TaskCount()))
}

// Update edits an unreferenced protocol. The protocol lock is held across the
// linkage check and the write.
func (c *ProtocolCatalog) Update(ctx context.Context, actor auth.Context, id string, patch ProtocolPatch) (models.Protocol, error) {
	const op = "protocol.update"
	if err := requirePrivileged(actor, "edit protocols"); err != nil {
		return models.Protocol{}, c.reject(op, err)
	}

	var p models.Protocol
	err := c.run(ctx, op, []string{lockKey("protocol", id)}, func(tx *gorm.DB, _ *outbox) error {
		if err := c.guard(tx, &p, id); err != nil {
			return err
		}

		in := ProtocolInput{
			Title:         p.Title,
			Description:   p.Description,
			Category:      p.Category,
			Severity:      p.Severity,
			EstimatedTime: p.EstimatedTime,
			Tools:         p.Tools,
			Steps:         p.Steps,
		}
		patch.applyTo(&in)
		if err := in.normalize(); err != nil {
			return err
		}
		in.apply(&p)

		if err := tx.Save(&p).Error; err != nil {
			return fmt.Errorf("save protocol: %w", err)
		}
		return c.audit(tx, actor, "protocol", p.ID, "update", "Protocol updated: "+p.Title)
	})
	if err != nil {
		return models.Protocol{}, err
	}
	return p, nil
}

// SoftDelete deactivates an unreferenced protocol.
func (c *ProtocolCatalog) SoftDelete(ctx context.Context, actor auth.Context, id string) (models.Protocol, error) {
	const op = "protocol.soft_delete"
	if err := requirePrivileged(actor, "delete protocols"); err != nil {
		return models.Protocol{}, c.reject(op, err)
	}

	var p models.Protocol
	err := c.run(ctx, op, []string{lockKey("protocol", id)}, func(tx *gorm.DB, _ *outbox) error {
		if err := c.guard(tx, &p, id); err != nil {
			return err
		}
		if !p.Active {
			return nil
		}
		p.Active = false
		if err := tx.Save(&p).Error; err != nil {
			return fmt.Errorf("save protocol: %w", err)
		}
		return c.audit(tx, actor, "protocol", p.ID, "delete", "Protocol deactivated: "+p.Title)
	})
	if err != nil {
		return models.Protocol{}, err
	}
	return p, nil
}

// LinkageCheck reports the first kind of record referencing the protocol.
func (c *ProtocolCatalog) LinkageCheck(ctx context.Context, id string) (Linkage, error) {
	tx := c.db.WithContext(ctx)
	var p models.Protocol
	if err := first(tx, &p, "protocol", id); err != nil {
		return NotLinked, err
	}
	return linkage(tx, id)
}

func (c *ProtocolCatalog) guard(tx *gorm.DB, p *models.Protocol, id string) error {
	if err := first(tx, p, "protocol", id); err != nil {
		return err
	}
	kind, err := linkage(tx, id)
	if err != nil {
		return err
	}
	if kind != NotLinked {
		return &ReferentialIntegrityError{ProtocolID: id, Linkage: kind}
	}
	return nil
}

func linkage(tx *gorm.DB, protocolID string) (Linkage, error) {
	checks := []struct {
		kind  Linkage
		model any
	}{
		{LinkedRisk, &models.Risk{}},
		{LinkedIncident, &models.Incident{}},
		{LinkedExecution, &models.ProtocolExecution{}},
	}
	for _, chk := range checks {
		var count int64
		if err := tx.Model(chk.model).Where("protocol_id = ?", protocolID).Limit(1).Count(&count).Error; err != nil {
			return NotLinked, fmt.Errorf("check %s linkage: %w", chk.kind, err)
		}
		if count > 0 {
			return chk.kind, nil
		}
	}
	return NotLinked, nil
}

func (c *ProtocolCatalog) Get(ctx context.Context, id string) (models.Protocol, error) {
	var p models.Protocol
	err := first(c.db.WithContext(ctx), &p, "protocol", id)
	return p, err
}

func (c *ProtocolCatalog) List(ctx context.Context, activeOnly bool) ([]models.Protocol, error) {
	q := c.db.WithContext(ctx).Order("title asc")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var protocols []models.Protocol
	if err := q.Find(&protocols).Error; err != nil {
		return nil, fmt.Errorf("list protocols: %w", err)
	}
	return protocols, nil
}

func (p ProtocolPatch) applyTo(in *ProtocolInput) {
	if p.Title != nil {
		in.Title = *p.Title
	}
	if p.Description != nil {
		in.Description = *p.Description
	}
	if p.Category != nil {
		in.Category = *p.Category
	}
	if p.Severity != nil {
		in.Severity = *p.Severity
	}
	if p.EstimatedTime != nil {
		in.EstimatedTime = *p.EstimatedTime
	}
	if p.Tools != nil {
		in.Tools = *p.Tools
	}
	if p.Steps != nil {
		in.Steps = *p.Steps
	}
}
