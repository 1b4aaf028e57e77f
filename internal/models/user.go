package models

type UserRole string

const (
	RoleAdmin      UserRole = "admin"
	RoleSupervisor UserRole = "supervisor"
	RoleOperator   UserRole = "operator"
	RoleViewer     UserRole = "viewer"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleOperator, RoleViewer:
		return true
	}
	return false
}

type User struct {
	Base
	Username     string   `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Email        string   `gorm:"size:255" json:"email"`
	PasswordHash string   `gorm:"not null" json:"-"`
	Role         UserRole `gorm:"type:varchar(20);not null" json:"role"`
	Active       bool     `gorm:"not null" json:"active"`
}
