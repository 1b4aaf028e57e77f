package models

import "time"

type RiskCategory string
type RiskImpact string
type RiskProbability string
type RiskState string

const (
	RiskCategoryEnvironmental RiskCategory = "Ambiental"
	RiskCategoryPhysical      RiskCategory = "Seguridad Física"
	RiskCategoryOperational   RiskCategory = "Operativo"
	RiskCategoryDigital       RiskCategory = "Digital"

	ImpactCritical RiskImpact = "Crítico"
	ImpactHigh     RiskImpact = "Alto"
	ImpactMedium   RiskImpact = "Medio"
	ImpactLow      RiskImpact = "Bajo"

	ProbabilityHigh   RiskProbability = "Alta"
	ProbabilityMedium RiskProbability = "Media"
	ProbabilityLow    RiskProbability = "Baja"

	RiskIdentified  RiskState = "Identificado"
	RiskPlanned     RiskState = "Planificado"
	RiskMitigated   RiskState = "Mitigado"
	RiskMonitoring  RiskState = "Monitoreo"
	RiskClosed      RiskState = "Cerrado"
	RiskReactivated RiskState = "Reactivado"
)

// MinMitigationLength is counted in characters, not bytes.
const MinMitigationLength = 10

func (c RiskCategory) Valid() bool {
	switch c {
	case RiskCategoryEnvironmental, RiskCategoryPhysical, RiskCategoryOperational, RiskCategoryDigital:
		return true
	}
	return false
}

func (i RiskImpact) Valid() bool {
	switch i {
	case ImpactCritical, ImpactHigh, ImpactMedium, ImpactLow:
		return true
	}
	return false
}

func (p RiskProbability) Valid() bool {
	switch p {
	case ProbabilityHigh, ProbabilityMedium, ProbabilityLow:
		return true
	}
	return false
}

func (s RiskState) Valid() bool {
	switch s {
	case RiskIdentified, RiskPlanned, RiskMitigated, RiskMonitoring, RiskClosed, RiskReactivated:
		return true
	}
	return false
}

// Risk is a catalogued hazard. Name, description and the classification
// fields are fixed once created.
type Risk struct {
	Base
	Name               string          `gorm:"size:255;not null" json:"name"`
	Description        string          `gorm:"type:text;not null" json:"description"`
	Category           RiskCategory    `gorm:"type:varchar(32);not null;index" json:"category"`
	Impact             RiskImpact      `gorm:"type:varchar(16);not null" json:"impact"`
	Probability        RiskProbability `gorm:"type:varchar(16);not null" json:"probability"`
	State              RiskState       `gorm:"type:varchar(16);not null;index" json:"state"`
	MitigationMeasures string          `gorm:"type:text;not null" json:"mitigationMeasures"`
	ResponsibleUserID  string          `gorm:"size:36;not null" json:"responsibleUserId"`
	ProtocolID         *string         `gorm:"size:36;index" json:"protocolId,omitempty"`
	Active             bool            `gorm:"not null" json:"active"`
}

// MaterializationEvent records that a risk actually happened.
type MaterializationEvent struct {
	Base
	RiskID              string    `gorm:"size:36;not null;index" json:"riskId"`
	EventDescription    string    `gorm:"type:text;not null" json:"eventDescription"`
	RealSeverity        Severity  `gorm:"type:varchar(16);not null" json:"realSeverity"`
	ActionsTaken        []string  `gorm:"serializer:json" json:"actionsTaken"`
	ReporterID          string    `gorm:"size:36;not null" json:"reporterId"`
	Notes               string    `gorm:"type:text" json:"notes"`
	GeneratedIncidentID *string   `gorm:"size:36;index" json:"generatedIncidentId,omitempty"`
	OccurredAt          time.Time `json:"occurredAt"`
}
