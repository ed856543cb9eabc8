package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/and161185/timeslots/internal/authgroup"
	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
)

func TestBookingService_Search_VisibilityAndMasking(t *testing.T) {
	w := newWorld()

	out, err := w.bookingSv.Search(orgAdmin(w.org), model.BookingFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(w.bookings.searchVis.Predicate, `service."_organisationId" = ANY(:authorisedBookingOrganisationIds)`) {
		t.Fatalf("unexpected predicate %q", w.bookings.searchVis.Predicate)
	}
	if len(out) != 1 || out[0].CitizenUinFin != "S1234567D" {
		t.Fatalf("org admin must see plain uinfin, got %+v", out)
	}

	u := &model.User{ID: uuid.Must(uuid.NewV4()), Kind: model.UserAdmin}
	other := uuid.Must(uuid.NewV4())
	ctx := as(u, authgroup.NewServiceProvider(u, other, w.svcID))
	out, err = w.bookingSv.Search(ctx, model.BookingFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if out[0].CitizenUinFin != "S****567D" {
		t.Fatalf("unassigned provider must see masked uinfin, got %q", out[0].CitizenUinFin)
	}
	if w.booking.CitizenUinFin != "S1234567D" {
		t.Fatalf("masking must not leak into stored rows")
	}
}

func TestBookingService_Search_NoGroupsDenies(t *testing.T) {
	w := newWorld()
	if _, err := w.bookingSv.Search(as(&model.User{Kind: model.UserAdmin}), model.BookingFilter{}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if w.bookings.searchVis.Predicate != "FALSE" {
		t.Fatalf("want FALSE predicate, got %q", w.bookings.searchVis.Predicate)
	}
}

func TestBookingService_Search_RequiresUserContext(t *testing.T) {
	w := newWorld()
	if _, err := w.bookingSv.Search(context.Background(), model.BookingFilter{}); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestBookingService_Cancel_Owner(t *testing.T) {
	w := newWorld()
	b, err := w.bookingSv.Cancel(citizen("S1234567D"), w.booking.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if b.Status != model.BookingCancelled || b.Version != 2 {
		t.Fatalf("unexpected booking %+v", b)
	}
	if len(w.logs.saved) != 1 || w.logs.saved[0].Action != model.ActionCancel {
		t.Fatalf("want one cancel log, got %+v", w.logs.saved)
	}
	if w.logs.saved[0].PreviousState.Status != "PendingApproval" {
		t.Fatalf("previous state not captured: %+v", w.logs.saved[0].PreviousState)
	}
}

func TestBookingService_Cancel_StrangerForbidden(t *testing.T) {
	w := newWorld()
	_, err := w.bookingSv.Cancel(citizen("T7654321A"), w.booking.ID)
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	if !strings.Contains(err.Error(), "cancel") {
		t.Fatalf("message must name the action: %v", err)
	}
	if w.bookings.updates != 0 || len(w.logs.saved) != 0 {
		t.Fatalf("denied action must not write")
	}
	if got := testutil.ToFloat64(w.metrics.Denied.WithLabelValues("booking", "cancel")); got != 1 {
		t.Fatalf("denied metric = %v", got)
	}
}

func TestBookingService_Cancel_AlreadyCancelled(t *testing.T) {
	w := newWorld()
	ctx := citizen("S1234567D")
	if _, err := w.bookingSv.Cancel(ctx, w.booking.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := w.bookingSv.Cancel(ctx, w.booking.ID); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("want ErrInvalidState, got %v", err)
	}
	if len(w.logs.saved) != 1 {
		t.Fatalf("failed action must not be audited")
	}
}

func TestBookingService_Accept_AssignsProvider(t *testing.T) {
	w := newWorld()
	b, err := w.bookingSv.Accept(orgAdmin(w.org), w.booking.ID, &w.spID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if b.Status != model.BookingAccepted || b.ServiceProviderID == nil || *b.ServiceProviderID != w.spID {
		t.Fatalf("unexpected booking %+v", b)
	}
	if b.ServiceProvider == nil || b.ServiceProvider.Name != "Counter 1" {
		t.Fatalf("provider relation not set")
	}
	if n := w.logs.saved[0].NewState.ServiceProviderID; n == nil || *n != w.spID {
		t.Fatalf("new state must carry provider")
	}
}

func TestBookingService_Accept_Validation(t *testing.T) {
	w := newWorld()
	ctx := orgAdmin(w.org)

	if _, err := w.bookingSv.Accept(ctx, w.booking.ID, nil); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument without provider, got %v", err)
	}
	unknown := uuid.Must(uuid.NewV4())
	if _, err := w.bookingSv.Accept(ctx, w.booking.ID, &unknown); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument for unknown provider, got %v", err)
	}
	if _, err := w.bookingSv.Accept(orgAdmin(uuid.Must(uuid.NewV4())), w.booking.ID, &w.spID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden for foreign admin, got %v", err)
	}
}

func TestBookingService_Update_RetriesConflict(t *testing.T) {
	w := newWorld()
	w.bookings.conflicts = 1
	loc := " Level 2 "

	b, err := w.bookingSv.Update(citizen("S1234567D"), w.booking.ID, UpdateBooking{Location: &loc})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if b.Location != "Level 2" {
		t.Fatalf("location = %q", b.Location)
	}
	if w.bookings.updates != 2 || len(w.logs.saved) != 1 {
		t.Fatalf("updates=%d logs=%d", w.bookings.updates, len(w.logs.saved))
	}
}

func TestBookingService_Update_ExhaustedConflicts(t *testing.T) {
	w := newWorld()
	w.bookings.conflicts = 10
	desc := "x"
	_, err := w.bookingSv.Update(orgAdmin(w.org), w.booking.ID, UpdateBooking{Description: &desc})
	if !errors.Is(err, errs.ErrRetriesExhausted) {
		t.Fatalf("want ErrRetriesExhausted, got %v", err)
	}
	if len(w.logs.saved) != 0 {
		t.Fatalf("no audit row expected")
	}
}

func TestBookingService_RejectAndReschedule(t *testing.T) {
	w := newWorld()
	ctx := orgAdmin(w.org)

	if _, err := w.bookingSv.Reschedule(ctx, w.booking.ID, w.booking.EndAt, w.booking.StartAt); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
	start := w.booking.StartAt.Add(24 * time.Hour)
	b, err := w.bookingSv.Reschedule(ctx, w.booking.ID, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !b.StartAt.Equal(start) {
		t.Fatalf("start not moved")
	}
	b, err = w.bookingSv.Reject(ctx, w.booking.ID)
	if err != nil || b.Status != model.BookingRejected {
		t.Fatalf("reject: %v %+v", err, b)
	}
	if len(w.logs.saved) != 2 || w.logs.saved[1].Action != model.ActionReject {
		t.Fatalf("unexpected logs %+v", w.logs.saved)
	}
}

func TestBookingService_Create(t *testing.T) {
	w := newWorld()
	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	in := CreateBooking{ServiceID: w.svcID, StartAt: start, EndAt: start.Add(time.Hour), CitizenUinFin: "T0000000A", CitizenName: "Tan"}

	b, err := w.bookingSv.Create(citizen("S7777777Z"), in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.CitizenUinFin != "S7777777Z" || b.Status != model.BookingPendingApproval || b.Version != 1 {
		t.Fatalf("unexpected booking %+v", b)
	}
	if len(w.logs.saved) != 1 || w.logs.saved[0].Action != model.ActionCreate {
		t.Fatalf("want one create log")
	}
	if w.logs.saved[0].PreviousState != (model.BookingSnapshot{}) {
		t.Fatalf("create must log an empty previous state")
	}
}

func TestBookingService_Create_Anonymous(t *testing.T) {
	w := newWorld()
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Kind: model.UserAnonymous, TrackingID: "track"}
	ctx := as(u, authgroup.NewAnonymous(u, "track"))
	start := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	in := CreateBooking{ServiceID: w.svcID, StartAt: start, EndAt: start.Add(time.Hour)}

	if _, err := w.bookingSv.Create(ctx, in); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
	w.svc.AllowAnonymousBookings = true
	b, err := w.bookingSv.Create(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.OwnerTrackingID != "track" {
		t.Fatalf("owner tracking id = %q", b.OwnerTrackingID)
	}
	if w.bookings.inserts != 1 {
		t.Fatalf("inserts = %d", w.bookings.inserts)
	}
}

func TestBookingService_Create_Validation(t *testing.T) {
	w := newWorld()
	ctx := citizen("S1")
	if _, err := w.bookingSv.Create(ctx, CreateBooking{}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
	start := time.Now()
	_, err := w.bookingSv.Create(ctx, CreateBooking{ServiceID: uuid.Must(uuid.NewV4()), StartAt: start, EndAt: start.Add(time.Hour)})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound for unknown service, got %v", err)
	}
}

func TestBookingService_ChangeLogs(t *testing.T) {
	w := newWorld()

	if _, err := w.bookingSv.ChangeLogs(citizen("S1234567D"), model.ChangeLogFilter{ServiceID: &w.svcID}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("citizen: want ErrForbidden, got %v", err)
	}
	if _, err := w.bookingSv.ChangeLogs(orgAdmin(w.org), model.ChangeLogFilter{}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("unfiltered admin: want ErrForbidden, got %v", err)
	}
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Kind: model.UserAdmin}
	sa := as(u, authgroup.NewServiceAdmin(u, []uuid.UUID{w.svcID}))
	if _, err := w.bookingSv.ChangeLogs(sa, model.ChangeLogFilter{ServiceID: &w.svcID}); err != nil {
		t.Fatalf("service admin: %v", err)
	}
	if _, err := w.bookingSv.ChangeLogs(as(&model.User{Kind: model.UserAgency}), model.ChangeLogFilter{}); err != nil {
		t.Fatalf("agency: %v", err)
	}
	if w.logs.queries != 2 {
		t.Fatalf("queries = %d", w.logs.queries)
	}
}
