package models

import "fmt"

type ProtocolCategory string
type Severity string

const (
	ProtocolHardware      ProtocolCategory = "hardware"
	ProtocolEnvironmental ProtocolCategory = "environmental"
	ProtocolConnectivity  ProtocolCategory = "connectivity"
	ProtocolPower         ProtocolCategory = "power"
	ProtocolEmergency     ProtocolCategory = "emergency"

	SeverityCritical Severity = "Crítica"
	SeverityHigh     Severity = "Alta"
	SeverityMedium   Severity = "Media"
	SeverityLow      Severity = "Baja"
)

func (c ProtocolCategory) Valid() bool {
	switch c {
	case ProtocolHardware, ProtocolEnvironmental, ProtocolConnectivity, ProtocolPower, ProtocolEmergency:
		return true
	}
	return false
}

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

type ProtocolStep struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Tasks       []string `json:"tasks" yaml:"tasks"`
}

type Protocol struct {
	Base
	Title         string           `gorm:"size:255;not null" json:"title"`
	Description   string           `gorm:"type:text" json:"description"`
	Category      ProtocolCategory `gorm:"type:varchar(32);not null;index" json:"category"`
	Severity      Severity         `gorm:"type:varchar(16);not null" json:"severity"`
	EstimatedTime string           `gorm:"size:64;not null" json:"estimatedTime"`
	Tools         []string         `gorm:"serializer:json" json:"tools"`
	Steps         []ProtocolStep   `gorm:"serializer:json" json:"steps"`
	Active        bool             `gorm:"not null" json:"active"`
}

// TaskID identifies a task by its position: zero-based step and task index.
func TaskID(step, task int) string {
	return fmt.Sprintf("%d-%d", step, task)
}

// TaskIDs lists every task id of the protocol in step order.
func (p Protocol) TaskIDs() []string {
	var ids []string
	for si, step := range p.Steps {
		for ti := range step.Tasks {
			ids = append(ids, TaskID(si, ti))
		}
	}
	return ids
}

func (p Protocol) TaskCount() int {
	n := 0
	for _, step := range p.Steps {
		n += len(step.Tasks)
	}
	return n
}
