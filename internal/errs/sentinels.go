// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates an optimistic concurrency failure. It is the only
	// error the change-log executor retries.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates the caller could not be authenticated.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller holds no group that permits the action.
	ErrForbidden = errors.New("forbidden")

	// ErrPrecondition indicates a programming-contract violation, e.g. an aggregate
	// fetched without a relation the caller depends on.
	ErrPrecondition = errors.New("precondition violated")

	// ErrRetriesExhausted indicates the executor gave up after repeated version conflicts.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState indicates the booking's status does not allow the requested transition.
	ErrInvalidState = errors.New("invalid state")
)

// Forbidden reports that the current user may not perform action on resource.
func Forbidden(action, resource string) error {
	return fmt.Errorf("%w: user cannot %s %s", ErrForbidden, action, resource)
}

// MissingRelation reports that relation was not loaded on aggregate.
func MissingRelation(aggregate, relation string) error {
	return fmt.Errorf("%w: %s relation is not loaded on %s", ErrPrecondition, relation, aggregate)
}
