package repository

import (
	"context"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
)

// The usecase depends on interfaces, not concrete implementations: the Hasura
// adapters satisfy these in production, func-field fakes satisfy them in tests.

// AutopilotRecords persists the one record per user describing its active
// trigger. Reads return (nil, nil) when no record exists — absence is a
// normal state of the machine, not an error.
type AutopilotRecords interface {
	Upsert(ctx context.Context, record *domain.AutopilotRecord) (*domain.AutopilotRecord, error)
	GetByID(ctx context.Context, id string) (*domain.AutopilotRecord, error)
	FirstForUser(ctx context.Context, userID string) (*domain.AutopilotRecord, error)
	Delete(ctx context.Context, id string) (*domain.AutopilotRecord, error)

	// ListScheduledBefore returns records whose trigger should already have
	// fired by the cutoff. Used by the reconciler to spot cycles that died
	// between firing and rescheduling.
	ListScheduledBefore(ctx context.Context, cutoff time.Time) ([]domain.AutopilotRecord, error)
}

// Preferences reads the user's scheduling preference. Owned and mutated by an
// external service; this layer only ever reads it.
type Preferences interface {
	ForUser(ctx context.Context, userID string) (*domain.SchedulingPreference, error)
}
