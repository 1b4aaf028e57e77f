package notify

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to the log. Used when no mail relay is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s LogSender) IncidentCreated(_ context.Context, n IncidentNotice) error {
	s.logger().Info("incident created",
		"incident_id", n.Incident.ID,
		"title", n.Incident.Title,
		"severity", n.Incident.Severity,
		"recipient", n.Recipient,
	)
	return nil
}

func (s LogSender) RiskMaterialized(_ context.Context, n MaterializationNotice) error {
	attrs := []any{
		"risk_id", n.Risk.ID,
		"risk", n.Risk.Name,
		"severity", n.Event.RealSeverity,
		"recipient", n.Recipient,
	}
	if n.IncidentID != nil {
		attrs = append(attrs, "incident_id", *n.IncidentID)
	}
	s.logger().Info("risk materialized", attrs...)
	return nil
}
