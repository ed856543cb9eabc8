package service

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/timeslots/internal/authgroup"
	"github.com/and161185/timeslots/internal/changelog"
	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/repository"
	"github.com/and161185/timeslots/internal/usercontext"
)

type fakeBookingRepo struct {
	rows      map[uuid.UUID]*model.Booking
	conflicts int
	updates   int
	inserts   int
	searchVis repository.Visibility
	searchF   model.BookingFilter
}

var _ repository.BookingRepository = (*fakeBookingRepo)(nil)

func newFakeBookingRepo(bs ...*model.Booking) *fakeBookingRepo {
	r := &fakeBookingRepo{rows: map[uuid.UUID]*model.Booking{}}
	for _, b := range bs {
		r.rows[b.ID] = b.Clone()
	}
	return r
}

func (f *fakeBookingRepo) GetForChangeLog(_ context.Context, id uuid.UUID) (*model.Booking, error) {
	b, ok := f.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return b.Clone(), nil
}

func (f *fakeBookingRepo) Insert(_ context.Context, b *model.Booking) error {
	f.inserts++
	if _, ok := f.rows[b.ID]; ok {
		return errs.ErrAlreadyExists
	}
	b.Version = 1
	f.rows[b.ID] = b.Clone()
	return nil
}

func (f *fakeBookingRepo) Update(_ context.Context, b *model.Booking) error {
	f.updates++
	if f.conflicts > 0 {
		f.conflicts--
		return errs.ErrVersionConflict
	}
	cur, ok := f.rows[b.ID]
	if !ok || cur.Version != b.Version {
		return errs.ErrVersionConflict
	}
	b.Version++
	f.rows[b.ID] = b.Clone()
	return nil
}

func (f *fakeBookingRepo) Search(_ context.Context, vis repository.Visibility, filter model.BookingFilter) ([]*model.Booking, error) {
	f.searchVis, f.searchF = vis, filter
	var out []*model.Booking
	for _, b := range f.rows {
		out = append(out, b.Clone())
	}
	return out, nil
}

type fakeServiceRepo struct {
	rows      map[uuid.UUID]*model.Service
	searchVis repository.Visibility
	searchOrg *uuid.UUID
}

var _ repository.ServiceRepository = (*fakeServiceRepo)(nil)

func (f *fakeServiceRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Service, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeServiceRepo) Search(_ context.Context, vis repository.Visibility, org *uuid.UUID) ([]model.Service, error) {
	f.searchVis, f.searchOrg = vis, org
	var out []model.Service
	for _, s := range f.rows {
		out = append(out, *s)
	}
	return out, nil
}

type fakeHierarchy struct {
	providers map[uuid.UUID]model.ServiceProvider
}

var _ repository.HierarchyReader = (*fakeHierarchy)(nil)

func (f *fakeHierarchy) ExistingOrganisationIDs(context.Context, []uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeHierarchy) ExistingServiceIDs(context.Context, []uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeHierarchy) ServiceProvidersByIDs(_ context.Context, ids []uuid.UUID) ([]model.ServiceProvider, error) {
	var out []model.ServiceProvider
	for _, id := range ids {
		if sp, ok := f.providers[id]; ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

type fakeLogRepo struct {
	saved   []model.ChangeLog
	queries int
}

var _ repository.ChangeLogRepository = (*fakeLogRepo)(nil)

func (f *fakeLogRepo) Save(_ context.Context, e *model.ChangeLog) error {
	f.saved = append(f.saved, *e)
	return nil
}

func (f *fakeLogRepo) GetLogs(context.Context, model.ChangeLogFilter) (map[uuid.UUID][]model.ChangeLog, error) {
	f.queries++
	return map[uuid.UUID][]model.ChangeLog{}, nil
}

type passTx struct{}

func (passTx) InTx(ctx context.Context, _ pgx.TxIsoLevel, fn func(context.Context) error) error {
	return fn(ctx)
}

type world struct {
	org, svcID, spID uuid.UUID
	svc              *model.Service
	sp               model.ServiceProvider
	booking          *model.Booking

	bookings  *fakeBookingRepo
	services  *fakeServiceRepo
	logs      *fakeLogRepo
	metrics   *Metrics
	bookingSv *BookingServiceImpl
}

func newWorld() *world {
	w := &world{org: uuid.Must(uuid.NewV4()), svcID: uuid.Must(uuid.NewV4()), spID: uuid.Must(uuid.NewV4())}
	w.svc = &model.Service{ID: w.svcID, OrganisationID: w.org, Name: "Passport renewal"}
	w.sp = model.ServiceProvider{ID: w.spID, ServiceID: w.svcID, Name: "Counter 1"}
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	w.booking = &model.Booking{
		ID:            uuid.Must(uuid.NewV4()),
		ServiceID:     w.svcID,
		Service:       w.svc,
		Status:        model.BookingPendingApproval,
		StartAt:       start,
		EndAt:         start.Add(30 * time.Minute),
		CitizenUinFin: "S1234567D",
		CitizenPhone:  "+6580000000",
		Version:       1,
	}
	w.bookings = newFakeBookingRepo(w.booking)
	w.services = &fakeServiceRepo{rows: map[uuid.UUID]*model.Service{w.svcID: w.svc}}
	w.logs = &fakeLogRepo{}
	w.metrics = NewMetrics(nil)
	exec := changelog.NewExecutor(passTx{}, w.logs, changelog.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil, nil)
	hier := &fakeHierarchy{providers: map[uuid.UUID]model.ServiceProvider{w.spID: w.sp}}
	w.bookingSv = NewBookingService(w.bookings, w.services, hier, exec, nil, w.metrics)
	return w
}

func as(user *model.User, groups ...authgroup.Group) context.Context {
	return usercontext.With(context.Background(), usercontext.NewResolved(user, groups))
}

func citizen(uin string) context.Context {
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Kind: model.UserCitizen, UinFin: uin}
	return as(u, authgroup.NewCitizen(u, uin))
}

func orgAdmin(org uuid.UUID) context.Context {
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Kind: model.UserAdmin}
	return as(u, authgroup.NewOrganisationAdmin(u, []uuid.UUID{org}))
}
