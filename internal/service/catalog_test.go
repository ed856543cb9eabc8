package service

import (
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/timeslots/internal/authgroup"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/policy"
)

func TestServiceCatalog_Search(t *testing.T) {
	w := newWorld()
	c := NewServiceCatalog(w.services)

	u := &model.User{Kind: model.UserAnonymous}
	if _, err := c.Search(as(u, authgroup.NewAnonymous(u, "t")), &w.org); err != nil {
		t.Fatalf("search: %v", err)
	}
	if w.services.searchVis.Predicate != `(s."_allowAnonymousBookings" = TRUE)` {
		t.Fatalf("unexpected predicate %q", w.services.searchVis.Predicate)
	}
	if w.services.searchOrg == nil || *w.services.searchOrg != w.org {
		t.Fatalf("organisation filter not passed through")
	}
}

func TestServiceCatalog_CanManage(t *testing.T) {
	w := newWorld()
	c := NewServiceCatalog(w.services)

	u := &model.User{ID: uuid.Must(uuid.NewV4()), Kind: model.UserAdmin}
	ctx := as(u, authgroup.NewServiceAdmin(u, []uuid.UUID{w.svcID}))

	ok, err := c.CanManage(ctx, w.svcID, policy.CrudUpdate)
	if err != nil || !ok {
		t.Fatalf("service admin update: ok=%v err=%v", ok, err)
	}
	ok, err = c.CanManage(ctx, w.svcID, policy.CrudDelete)
	if err != nil || ok {
		t.Fatalf("service admin delete: ok=%v err=%v", ok, err)
	}
}
