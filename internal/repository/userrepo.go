// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/timeslots/internal/model"
)

// UserRepository loads the principals behind authenticated requests.
type UserRepository interface {
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}

// HierarchyReader answers which organisations, services and providers actually exist.
// Claimed group memberships are intersected with its results.
type HierarchyReader interface {
	// ExistingOrganisationIDs returns the subset of ids that exist, in input order.
	ExistingOrganisationIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	// ExistingServiceIDs returns the subset of ids that exist, in input order.
	ExistingServiceIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	// ServiceProvidersByIDs returns the providers among ids that exist, in input order.
	ServiceProvidersByIDs(ctx context.Context, ids []uuid.UUID) ([]model.ServiceProvider, error)
}
