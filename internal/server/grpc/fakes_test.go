package grpcserver

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/limiter"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/repository"
	"github.com/and161185/timeslots/internal/service"
	"github.com/and161185/timeslots/internal/usercontext"
)

var testKey = []byte("test-secret")

type fakeUsers struct{ byID map[uuid.UUID]*model.User }

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return u, nil
}

// allExist reports every claimed id as existing.
type allExist struct{}

var _ repository.HierarchyReader = allExist{}

func (allExist) ExistingOrganisationIDs(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	return ids, nil
}
func (allExist) ExistingServiceIDs(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	return ids, nil
}
func (allExist) ServiceProvidersByIDs(context.Context, []uuid.UUID) ([]model.ServiceProvider, error) {
	return nil, nil
}

type fakeLimiter struct {
	mu        sync.Mutex
	blocked   bool
	allowErr  error
	failures  int
	lastKey   string
	blockNext bool
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (f *fakeLimiter) Allow(_ context.Context, key string, _ []byte) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastKey = key
	if f.allowErr != nil {
		return false, 0, f.allowErr
	}
	if f.blocked {
		return false, time.Minute, nil
	}
	return true, 0, nil
}

func (f *fakeLimiter) Failure(_ context.Context, key string, _ []byte) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	f.lastKey = key
	if f.blockNext {
		f.blocked = true
		return true, time.Minute, nil
	}
	return false, 0, nil
}

func (f *fakeLimiter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

// fakeBookings records the caller seen by each call; unused methods panic through the nil embed.
type fakeBookings struct {
	service.BookingService
	mu       sync.Mutex
	callers  []*model.User
	cancelID uuid.UUID
	err      error
}

func (f *fakeBookings) record(ctx context.Context) error {
	uc, ok := usercontext.FromContext(ctx)
	if !ok {
		return errs.ErrUnauthorized
	}
	u, err := uc.CurrentUser(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.callers = append(f.callers, u)
	f.mu.Unlock()
	return nil
}

func (f *fakeBookings) lastCaller() *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.callers) == 0 {
		return nil
	}
	return f.callers[len(f.callers)-1]
}

func (f *fakeBookings) Search(ctx context.Context, filter model.BookingFilter) ([]*model.Booking, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return []*model.Booking{{ID: uuid.Must(uuid.NewV4()), Status: model.BookingPendingApproval, ServiceID: ptrOr(filter.ServiceID)}}, nil
}

func (f *fakeBookings) Cancel(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	f.cancelID = id
	return &model.Booking{ID: id, Status: model.BookingCancelled, Version: 2}, nil
}

func (f *fakeBookings) ChangeLogs(ctx context.Context, _ model.ChangeLogFilter) (map[uuid.UUID][]model.ChangeLog, error) {
	if err := f.record(ctx); err != nil {
		return nil, err
	}
	return nil, errs.Forbidden("read", "change logs without a service filter")
}

type fakeCatalog struct {
	service.ServiceCatalog
	services []model.Service
}

func (f *fakeCatalog) Search(_ context.Context, org *uuid.UUID) ([]model.Service, error) {
	var out []model.Service
	for _, s := range f.services {
		if org == nil || s.OrganisationID == *org {
			out = append(out, s)
		}
	}
	return out, nil
}

func ptrOr(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
