package models

import "time"

type ExecutionState string

const (
	ExecutionInProgress ExecutionState = "En progreso"
	ExecutionCompleted  ExecutionState = "Completado"
	ExecutionCancelled  ExecutionState = "Cancelado"
)

func (s ExecutionState) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionCancelled
}

// ProtocolExecution tracks one run-through of a protocol. Version is bumped on
// every write and checked on update.
type ProtocolExecution struct {
	Base
	ProtocolID       string         `gorm:"size:36;not null;index" json:"protocolId"`
	IncidentID       *string        `gorm:"size:36;index" json:"incidentId,omitempty"`
	UserID           string         `gorm:"size:36;not null" json:"userId"`
	State            ExecutionState `gorm:"type:varchar(16);not null;index" json:"state"`
	Progress         int            `gorm:"not null" json:"progress"`
	CompletedTaskIDs []string       `gorm:"serializer:json" json:"completedTaskIds"`
	Notes            string         `gorm:"type:text" json:"notes"`
	CancelReason     string         `gorm:"type:text" json:"cancelReason,omitempty"`
	StartedAt        time.Time      `json:"startedAt"`
	EndedAt          *time.Time     `json:"endedAt,omitempty"`
	Version          int            `gorm:"not null" json:"version"`
}
