package repository

import (
	"context"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
)

// Triggers manages one-off scheduled webhook registrations on the external
// scheduler. A trigger is never updated in place: changing its fire time
// means delete-then-create.
type Triggers interface {
	// Create registers a one-off trigger and returns its event id. The external
	// scheduler applies its own re-delivery policy, independent of the HTTP
	// retry layer underneath this call.
	Create(ctx context.Context, fireAtUTC time.Time, webhookURL string, payload domain.TriggerPayload, comment string) (string, error)

	// Delete unregisters a trigger. A trigger that already fired or was already
	// removed may report non-success; callers decide whether that is fatal.
	Delete(ctx context.Context, eventID string) error
}
