// Package auth carries the acting user into every engine call. The engine never
// looks identity up on its own.
package auth

import "facility-risk/internal/models"

// Context is the acting user's identity and privilege level.
type Context struct {
	UserID string
	Role   models.UserRole
}

func New(userID string, role models.UserRole) Context {
	return Context{UserID: userID, Role: role}
}

func (c Context) Authenticated() bool {
	return c.UserID != "" && c.Role.Valid()
}

// Privileged actors manage the catalog and drive executions.
func (c Context) Privileged() bool {
	return c.Authenticated() && (c.Role == models.RoleAdmin || c.Role == models.RoleSupervisor)
}

// CanWrite is true for every authenticated role except viewers.
func (c Context) CanWrite() bool {
	return c.Authenticated() && c.Role != models.RoleViewer
}
