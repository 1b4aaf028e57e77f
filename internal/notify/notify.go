// Package notify delivers workflow notifications outside the transactional
// path. Delivery failures are logged and never reach the caller.
package notify

import (
	"context"
	"fmt"

	"facility-risk/internal/models"
)

type IncidentNotice struct {
	Incident  models.Incident
	Recipient string
}

type MaterializationNotice struct {
	Risk       models.Risk
	Event      models.MaterializationEvent
	IncidentID *string
	Recipient  string
}

// Sender talks to the delivery channel. Implementations may block.
type Sender interface {
	IncidentCreated(ctx context.Context, n IncidentNotice) error
	RiskMaterialized(ctx context.Context, n MaterializationNotice) error
}

// NotificationDeliveryError wraps a channel failure for logging.
type NotificationDeliveryError struct {
	Kind string
	Err  error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("notification %s not delivered: %v", e.Kind, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }
