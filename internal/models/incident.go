package models

import "time"

type IncidentState string

const (
	IncidentPending    IncidentState = "Pendiente"
	IncidentInProgress IncidentState = "En proceso"
	IncidentResolved   IncidentState = "Resuelto"
)

func (s IncidentState) Valid() bool {
	switch s {
	case IncidentPending, IncidentInProgress, IncidentResolved:
		return true
	}
	return false
}

type Incident struct {
	Base
	Title            string        `gorm:"size:255;not null" json:"title"`
	Description      string        `gorm:"type:text;not null" json:"description"`
	Category         string        `gorm:"size:64;not null" json:"category"`
	Severity         Severity      `gorm:"type:varchar(16);not null" json:"severity"`
	State            IncidentState `gorm:"type:varchar(16);not null;index" json:"state"`
	AssignedUserID   *string       `gorm:"size:36" json:"assignedUserId,omitempty"`
	RiskID           *string       `gorm:"size:36;index" json:"riskId,omitempty"`
	ProtocolID       *string       `gorm:"size:36;index" json:"protocolId,omitempty"`
	ProtocolExecuted bool          `gorm:"not null" json:"protocolExecuted"`
	Notes            string        `gorm:"type:text" json:"notes"`
	ReportedAt       time.Time     `json:"reportedAt"`
	ResolvedAt       *time.Time    `json:"resolvedAt,omitempty"`
	ResolvedBy       *string       `gorm:"size:36" json:"resolvedBy,omitempty"`
}
