package workflow

import (
	"errors"
	"fmt"

	"facility-risk/internal/models"

	"gorm.io/gorm"
)

// ValidationError rejects input before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PermissionError is returned when the actor's role does not allow the action.
type PermissionError struct {
	Action string
	Role   models.UserRole
}

func (e *PermissionError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("%s requires an authenticated user", e.Action)
	}
	return fmt.Sprintf("role %q may not %s", e.Role, e.Action)
}

// ReferentialIntegrityError blocks edits to a protocol other records point at.
type ReferentialIntegrityError struct {
	ProtocolID string
	Linkage    Linkage
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("protocol %s is still referenced (%s)", e.ProtocolID, e.Linkage)
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConflictError reports a lost optimistic version check or a competing
// active execution.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Kind names the error class for logs, metrics and HTTP mapping.
func Kind(err error) string {
	var (
		v *ValidationError
		p *PermissionError
		r *ReferentialIntegrityError
		n *NotFoundError
		c *ConflictError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &v):
		return "validation"
	case errors.As(err, &p):
		return "permission"
	case errors.As(err, &r):
		return "referential_integrity"
	case errors.As(err, &n):
		return "not_found"
	case errors.As(err, &c):
		return "conflict"
	default:
		return "internal"
	}
}

// first loads one record by id, translating gorm's not-found into NotFoundError.
func first(tx *gorm.DB, dest any, entity, id string) error {
	if id == "" {
		return &NotFoundError{Entity: entity, ID: id}
	}
	err := tx.Where("id = ?", id).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", entity, id, err)
	}
	return nil
}
