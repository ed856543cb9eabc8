// Package service contains application services for bookings and services.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/timeslots/internal/authgroup"
	"github.com/and161185/timeslots/internal/changelog"
	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/policy"
	"github.com/and161185/timeslots/internal/repository"
	"github.com/and161185/timeslots/internal/usercontext"
)

// BookingService defines the booking operations available to callers.
type BookingService interface {
	// Search returns visible bookings matching filter, with identifiers masked where required.
	Search(ctx context.Context, filter model.BookingFilter) ([]*model.Booking, error)
	// Create books a slot in a service.
	Create(ctx context.Context, in CreateBooking) (*model.Booking, error)
	// Update changes citizen details, location or description.
	Update(ctx context.Context, id uuid.UUID, in UpdateBooking) (*model.Booking, error)
	// Cancel moves an open booking to Cancelled.
	Cancel(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	// Accept assigns a service provider and moves the booking to Accepted.
	Accept(ctx context.Context, id uuid.UUID, providerID *uuid.UUID) (*model.Booking, error)
	// Reject moves an open booking to Rejected.
	Reject(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	// Reschedule moves an open booking to a new time range.
	Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*model.Booking, error)
	// ChangeLogs returns audit entries grouped by booking id.
	ChangeLogs(ctx context.Context, filter model.ChangeLogFilter) (map[uuid.UUID][]model.ChangeLog, error)
}

// Auditor runs audited mutations. It is implemented by *changelog.Executor.
type Auditor interface {
	ExecuteAndLogAction(ctx context.Context, id uuid.UUID, fetch changelog.FetchFunc, action changelog.ActionFunc) (*model.Booking, error)
	GetLogs(ctx context.Context, filter model.ChangeLogFilter) (map[uuid.UUID][]model.ChangeLog, error)
}

// CreateBooking is the input of BookingService.Create.
type CreateBooking struct {
	ServiceID     uuid.UUID
	StartAt       time.Time
	EndAt         time.Time
	CitizenUinFin string
	CitizenName   string
	CitizenPhone  string
	CitizenEmail  string
	Location      string
	Description   string
}

// UpdateBooking is the input of BookingService.Update. Nil fields are left unchanged.
type UpdateBooking struct {
	CitizenName  *string
	CitizenPhone *string
	CitizenEmail *string
	Location     *string
	Description  *string
}

type BookingServiceImpl struct {
	bookings  repository.BookingRepository
	services  repository.ServiceRepository
	hierarchy repository.HierarchyReader
	audit     Auditor
	log       *zap.Logger
	metrics   *Metrics
}

// NewBookingService constructs BookingService with required dependencies.
func NewBookingService(bookings repository.BookingRepository, services repository.ServiceRepository,
	hierarchy repository.HierarchyReader, audit Auditor, log *zap.Logger, metrics *Metrics) *BookingServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &BookingServiceImpl{
		bookings:  bookings,
		services:  services,
		hierarchy: hierarchy,
		audit:     audit,
		log:       log,
		metrics:   metrics,
	}
}

func snapshot(ctx context.Context) (usercontext.Snapshot, error) {
	uc, ok := usercontext.FromContext(ctx)
	if !ok {
		return usercontext.Snapshot{}, fmt.Errorf("%w: no user context", errs.ErrUnauthorized)
	}
	return uc.Snapshot(ctx)
}

// Search ANDs the caller's booking visibility with filter.
func (s *BookingServiceImpl) Search(ctx context.Context, filter model.BookingFilter) ([]*model.Booking, error) {
	snap, err := snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return nil, fmt.Errorf("%w: empty time range", errs.ErrInvalidArgument)
	}
	pred, params := policy.NewBookingQueryVisitor(repository.BookingAlias).UserVisibilityCondition(snap.Groups)
	out, err := s.bookings.Search(ctx, repository.Visibility{Predicate: pred, Params: params}, filter)
	if err != nil {
		return nil, err
	}
	uin := policy.NewUinFinPolicy(snap.User, snap.Groups)
	for _, b := range out {
		uin.Apply(b)
	}
	return out, nil
}

// Create validates in and inserts a PendingApproval booking through the audited executor.
func (s *BookingServiceImpl) Create(ctx context.Context, in CreateBooking) (*model.Booking, error) {
	if in.ServiceID == uuid.Nil {
		return nil, fmt.Errorf("%w: service id is required", errs.ErrInvalidArgument)
	}
	if err := checkRange(in.StartAt, in.EndAt); err != nil {
		return nil, err
	}
	snap, err := snapshot(ctx)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
		svc, err := s.services.GetByID(ctx, in.ServiceID)
		if err != nil {
			return nil, err
		}
		b := &model.Booking{
			ID:            id,
			ServiceID:     svc.ID,
			Service:       svc,
			Status:        model.BookingPendingApproval,
			StartAt:       in.StartAt,
			EndAt:         in.EndAt,
			CitizenUinFin: strings.TrimSpace(in.CitizenUinFin),
			CitizenName:   strings.TrimSpace(in.CitizenName),
			CitizenPhone:  strings.TrimSpace(in.CitizenPhone),
			CitizenEmail:  strings.TrimSpace(in.CitizenEmail),
			Location:      in.Location,
			Description:   in.Description,
		}
		bindOwner(b, snap)
		return b, nil
	}
	action := func(ctx context.Context, b *model.Booking) (model.ChangeLogAction, *model.Booking, error) {
		if err := s.authorise(b, model.ActionCreate, snap.Groups); err != nil {
			return 0, nil, err
		}
		if err := s.bookings.Insert(ctx, b); err != nil {
			return 0, nil, err
		}
		return model.ActionCreate, b, nil
	}
	b, err := s.audit.ExecuteAndLogAction(ctx, id, fetch, action)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking created", zap.Stringer("booking_id", b.ID), zap.Stringer("service_id", b.ServiceID))
	return s.present(b, snap), nil
}

// bindOwner ties a new booking to the identity the caller proved.
func bindOwner(b *model.Booking, snap usercontext.Snapshot) {
	if snap.User == nil {
		return
	}
	switch snap.User.Kind {
	case model.UserCitizen:
		b.CitizenUinFin = snap.User.UinFin
	case model.UserAnonymous:
		b.OwnerTrackingID = snap.User.TrackingID
		if snap.OTP != nil {
			b.CitizenPhone = snap.OTP.MobileNo
		}
	}
}

// Update applies the non-nil fields of in.
func (s *BookingServiceImpl) Update(ctx context.Context, id uuid.UUID, in UpdateBooking) (*model.Booking, error) {
	return s.mutate(ctx, id, model.ActionUpdate, func(_ context.Context, b *model.Booking) error {
		if !open(b.Status) {
			return invalidState(b, "update")
		}
		set(&b.CitizenName, in.CitizenName)
		set(&b.CitizenPhone, in.CitizenPhone)
		set(&b.CitizenEmail, in.CitizenEmail)
		set(&b.Location, in.Location)
		set(&b.Description, in.Description)
		return nil
	})
}

// Cancel moves an open booking to Cancelled.
func (s *BookingServiceImpl) Cancel(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return s.mutate(ctx, id, model.ActionCancel, func(_ context.Context, b *model.Booking) error {
		if !open(b.Status) {
			return invalidState(b, "cancel")
		}
		b.Status = model.BookingCancelled
		return nil
	})
}

// Accept assigns providerID, or keeps the current provider when it is nil.
func (s *BookingServiceImpl) Accept(ctx context.Context, id uuid.UUID, providerID *uuid.UUID) (*model.Booking, error) {
	return s.mutate(ctx, id, model.ActionAccept, func(ctx context.Context, b *model.Booking) error {
		if b.Status != model.BookingPendingApproval && b.Status != model.BookingOnHold {
			return invalidState(b, "accept")
		}
		if providerID == nil {
			if b.ServiceProvider == nil {
				return fmt.Errorf("%w: a service provider is required to accept a booking", errs.ErrInvalidArgument)
			}
		} else {
			sps, err := s.hierarchy.ServiceProvidersByIDs(ctx, []uuid.UUID{*providerID})
			if err != nil {
				return err
			}
			if len(sps) == 0 || sps[0].ServiceID != b.ServiceID {
				return fmt.Errorf("%w: service provider %s does not serve this booking", errs.ErrInvalidArgument, *providerID)
			}
			sp := sps[0]
			b.ServiceProviderID = &sp.ID
			b.ServiceProvider = &sp
		}
		b.Status = model.BookingAccepted
		return nil
	})
}

// Reject moves an open booking to Rejected.
func (s *BookingServiceImpl) Reject(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return s.mutate(ctx, id, model.ActionReject, func(_ context.Context, b *model.Booking) error {
		if !open(b.Status) {
			return invalidState(b, "reject")
		}
		b.Status = model.BookingRejected
		return nil
	})
}

// Reschedule moves an open booking to [start, end).
func (s *BookingServiceImpl) Reschedule(ctx context.Context, id uuid.UUID, start, end time.Time) (*model.Booking, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, model.ActionReschedule, func(_ context.Context, b *model.Booking) error {
		if !open(b.Status) {
			return invalidState(b, "reschedule")
		}
		b.StartAt, b.EndAt = start, end
		return nil
	})
}

// ChangeLogs is limited to agency users and to admins who manage the filtered service.
func (s *BookingServiceImpl) ChangeLogs(ctx context.Context, filter model.ChangeLogFilter) (map[uuid.UUID][]model.ChangeLog, error) {
	snap, err := snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.User.IsAgency() {
		if filter.ServiceID == nil {
			s.metrics.denied("changelog", "read")
			return nil, errs.Forbidden("read", "change logs without a service filter")
		}
		svc, err := s.services.GetByID(ctx, *filter.ServiceID)
		if err != nil {
			return nil, err
		}
		if !policy.NewServiceActionPermission(svc, policy.CrudUpdate).HasPermission(snap.Groups) {
			s.metrics.denied("changelog", "read")
			return nil, errs.Forbidden("read", "change logs of service "+svc.ID.String())
		}
	}
	return s.audit.GetLogs(ctx, filter)
}

// mutate runs apply on the current booking through the audited executor.
// Permission is checked on every attempt against the freshly fetched booking.
func (s *BookingServiceImpl) mutate(ctx context.Context, id uuid.UUID, action model.ChangeLogAction,
	apply func(ctx context.Context, b *model.Booking) error) (*model.Booking, error) {
	snap, err := snapshot(ctx)
	if err != nil {
		return nil, err
	}
	b, err := s.audit.ExecuteAndLogAction(ctx, id, s.bookings.GetForChangeLog,
		func(ctx context.Context, b *model.Booking) (model.ChangeLogAction, *model.Booking, error) {
			if err := s.authorise(b, action, snap.Groups); err != nil {
				return 0, nil, err
			}
			if err := apply(ctx, b); err != nil {
				return 0, nil, err
			}
			if err := s.bookings.Update(ctx, b); err != nil {
				return 0, nil, err
			}
			return action, b, nil
		})
	if err != nil {
		return nil, err
	}
	s.log.Info("booking changed", zap.Stringer("booking_id", b.ID), zap.Stringer("action", action),
		zap.String("status", b.Status.String()))
	return s.present(b, snap), nil
}

func (s *BookingServiceImpl) authorise(b *model.Booking, action model.ChangeLogAction, groups []authgroup.Group) error {
	if policy.NewBookingActionPermission(b, action).HasPermission(groups) {
		return nil
	}
	s.metrics.denied("booking", action.String())
	return errs.Forbidden(action.String(), "booking "+b.ID.String())
}

// present returns a copy of b safe to hand to the caller.
func (s *BookingServiceImpl) present(b *model.Booking, snap usercontext.Snapshot) *model.Booking {
	out := b.Clone()
	policy.NewUinFinPolicy(snap.User, snap.Groups).Apply(out)
	return out
}

func open(st model.BookingStatus) bool {
	return st == model.BookingPendingApproval || st == model.BookingAccepted || st == model.BookingOnHold
}

func invalidState(b *model.Booking, verb string) error {
	return fmt.Errorf("%w: cannot %s a %s booking", errs.ErrInvalidState, verb, b.Status)
}

func checkRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end are required", errs.ErrInvalidArgument)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: end must be after start", errs.ErrInvalidArgument)
	}
	return nil
}

func set(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}
