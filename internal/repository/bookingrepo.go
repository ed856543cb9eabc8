package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/timeslots/internal/model"
)

// Table aliases used by the Postgres queries. Visibility visitors must be built with them.
const (
	BookingAlias = "b"
	ServiceAlias = "s"
)

// Visibility is a parameterised predicate produced by a query visitor.
// Repositories AND it with their business filters.
type Visibility struct {
	Predicate string
	Params    map[string]any
}

// BookingRepository provides versioned access to bookings. Implementations run on the
// transaction carried by ctx when there is one.
type BookingRepository interface {
	// GetForChangeLog loads a booking with its service and service provider relations.
	GetForChangeLog(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	// Insert stores a new booking at version 1.
	Insert(ctx context.Context, b *model.Booking) error
	// Update writes b if its version still matches and bumps b.Version.
	// A stale version yields errs.ErrVersionConflict.
	Update(ctx context.Context, b *model.Booking) error
	// Search returns bookings matching both vis and filter.
	Search(ctx context.Context, vis Visibility, filter model.BookingFilter) ([]*model.Booking, error)
}

// ServiceRepository provides read access to services.
type ServiceRepository interface {
	// GetByID loads a service by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Service, error)
	// Search returns services matching vis, optionally restricted to one organisation.
	Search(ctx context.Context, vis Visibility, organisationID *uuid.UUID) ([]model.Service, error)
}

// ChangeLogRepository is the append-only store of booking audit records.
type ChangeLogRepository interface {
	// Save persists entry; it must run inside the transaction of the audited mutation.
	Save(ctx context.Context, entry *model.ChangeLog) error
	// GetLogs returns matching entries grouped by booking id, oldest first.
	GetLogs(ctx context.Context, filter model.ChangeLogFilter) (map[uuid.UUID][]model.ChangeLog, error)
}
