package models

import "time"

type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	UserID string `gorm:"size:36;index" json:"userId"`

	Entity   string `gorm:"size:50;not null;index:idx_audit_entity" json:"entity"` // "risk", "protocol", "incident", "execution", "materialization"
	EntityID string `gorm:"size:36;index:idx_audit_entity" json:"entityId"`
	Action   string `gorm:"size:50;not null" json:"action"` // "create", "state_change", "toggle_task" ...
	Details  string `gorm:"type:text" json:"details"`
}
