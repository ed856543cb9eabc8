// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Organisation is the top of the tenancy hierarchy.
type Organisation struct {
	ID   uuid.UUID
	Name string
}

// Service is a bookable offering owned by an organisation.
type Service struct {
	ID                     uuid.UUID
	OrganisationID         uuid.UUID
	Name                   string
	AllowAnonymousBookings bool
}

// ServiceProvider is a person or counter delivering a service.
type ServiceProvider struct {
	ID        uuid.UUID
	ServiceID uuid.UUID
	Name      string
	UserID    *uuid.UUID // linked admin account, if any
}

// BookingStatus is the lifecycle state of a booking.
type BookingStatus int

const (
	BookingPendingApproval BookingStatus = iota + 1
	BookingAccepted
	BookingCancelled
	BookingRejected
	BookingOnHold
)

// String returns the status name used in logs and snapshots.
func (s BookingStatus) String() string {
	switch s {
	case BookingPendingApproval:
		return "PendingApproval"
	case BookingAccepted:
		return "Accepted"
	case BookingCancelled:
		return "Cancelled"
	case BookingRejected:
		return "Rejected"
	case BookingOnHold:
		return "OnHold"
	default:
		return "Unknown"
	}
}

// RequiresServiceProvider reports whether a booking in this status must have an assigned provider.
func (s BookingStatus) RequiresServiceProvider() bool {
	return s == BookingAccepted || s == BookingOnHold
}

// Booking is the aggregate mutated through the change-log executor.
// Service and ServiceProvider are relations populated by the repository on demand.
type Booking struct {
	ID                uuid.UUID
	ServiceID         uuid.UUID
	Service           *Service
	ServiceProviderID *uuid.UUID
	ServiceProvider   *ServiceProvider
	Status            BookingStatus
	StartAt           time.Time
	EndAt             time.Time
	CitizenUinFin     string
	CitizenName       string
	CitizenPhone      string
	CitizenEmail      string
	Location          string
	Description       string
	OwnerTrackingID   string
	Version           int64 // optimistic concurrency counter, bumped on every update
	CreatedAt         time.Time
}

// Clone returns a shallow copy whose relations point at copies of the originals,
// so an action may mutate the result without touching the source.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	if b.Service != nil {
		s := *b.Service
		c.Service = &s
	}
	if b.ServiceProviderID != nil {
		id := *b.ServiceProviderID
		c.ServiceProviderID = &id
	}
	if b.ServiceProvider != nil {
		sp := *b.ServiceProvider
		c.ServiceProvider = &sp
	}
	return &c
}

// UserKind classifies authenticated principals.
type UserKind int

const (
	UserAnonymous UserKind = iota + 1
	UserCitizen
	UserAdmin
	UserAgency
)

// User is the resolved principal behind a request.
type User struct {
	ID         uuid.UUID
	Kind       UserKind
	UinFin     string // citizens only
	Name       string
	Email      string
	TrackingID string // anonymous users only
}

// IsAgency reports whether the user acts on behalf of a government agency.
func (u *User) IsAgency() bool { return u != nil && u.Kind == UserAgency }

// IsAnonymous reports whether the user has not authenticated.
func (u *User) IsAnonymous() bool { return u != nil && u.Kind == UserAnonymous }

// ChangeLogAction names the audited booking mutation.
type ChangeLogAction int

const (
	ActionCreate ChangeLogAction = iota + 1
	ActionUpdate
	ActionCancel
	ActionAccept
	ActionReject
	ActionReschedule
)

// String returns the lower-case action name stored in the change log.
func (a ChangeLogAction) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionCancel:
		return "cancel"
	case ActionAccept:
		return "accept"
	case ActionReject:
		return "reject"
	case ActionReschedule:
		return "reschedule"
	default:
		return "unknown"
	}
}

// Valid reports whether a is one of the declared actions.
func (a ChangeLogAction) Valid() bool { return a >= ActionCreate && a <= ActionReschedule }

// BookingSnapshot is the JSON-serialisable state recorded in a change log entry.
type BookingSnapshot struct {
	ID                uuid.UUID  `json:"id,omitempty"`
	ServiceID         uuid.UUID  `json:"serviceId,omitempty"`
	ServiceName       string     `json:"serviceName,omitempty"`
	ServiceProviderID *uuid.UUID `json:"serviceProviderId,omitempty"`
	Status            string     `json:"status,omitempty"`
	StartAt           *time.Time `json:"startDateTime,omitempty"`
	EndAt             *time.Time `json:"endDateTime,omitempty"`
	CitizenUinFin     string     `json:"citizenUinFin,omitempty"`
	CitizenName       string     `json:"citizenName,omitempty"`
	CitizenPhone      string     `json:"citizenPhone,omitempty"`
	CitizenEmail      string     `json:"citizenEmail,omitempty"`
	Location          string     `json:"location,omitempty"`
	Description       string     `json:"description,omitempty"`
	Version           int64      `json:"version,omitempty"`
}

// Snapshot captures the audited fields of b. A nil booking yields the empty snapshot.
func (b *Booking) Snapshot() BookingSnapshot {
	if b == nil {
		return BookingSnapshot{}
	}
	s := BookingSnapshot{
		ID:            b.ID,
		ServiceID:     b.ServiceID,
		Status:        b.Status.String(),
		CitizenUinFin: b.CitizenUinFin,
		CitizenName:   b.CitizenName,
		CitizenPhone:  b.CitizenPhone,
		CitizenEmail:  b.CitizenEmail,
		Location:      b.Location,
		Description:   b.Description,
		Version:       b.Version,
	}
	if b.Service != nil {
		s.ServiceName = b.Service.Name
	}
	if b.ServiceProviderID != nil {
		id := *b.ServiceProviderID
		s.ServiceProviderID = &id
	}
	if !b.StartAt.IsZero() {
		t := b.StartAt
		s.StartAt = &t
	}
	if !b.EndAt.IsZero() {
		t := b.EndAt
		s.EndAt = &t
	}
	return s
}

// ChangeLog is an immutable audit record of one successful booking mutation.
type ChangeLog struct {
	ID            uuid.UUID
	BookingID     uuid.UUID
	ServiceID     uuid.UUID
	UserID        uuid.UUID
	Action        ChangeLogAction
	PreviousState BookingSnapshot
	NewState      BookingSnapshot
	Timestamp     time.Time
}

// ChangeLogFilter selects change log entries. The time range is half-open: [ChangedSince, ChangedUntil).
type ChangeLogFilter struct {
	ChangedSince time.Time
	ChangedUntil time.Time
	ServiceID    *uuid.UUID
	BookingIDs   []uuid.UUID
}

// BookingFilter holds the business side of a booking search; visibility is ANDed on top.
type BookingFilter struct {
	From              time.Time
	To                time.Time
	Statuses          []BookingStatus
	ServiceID         *uuid.UUID
	ServiceProviderID *uuid.UUID
	CitizenUinFins    []string
	Limit             int
}
