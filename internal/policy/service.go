package policy

import (
	"fmt"

	"github.com/and161185/timeslots/internal/authgroup"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/permission"
	"github.com/and161185/timeslots/internal/visibility"
)

// CrudAction is an attempted change to a configuration resource such as a service.
type CrudAction int

const (
	CrudCreate CrudAction = iota + 1
	CrudUpdate
	CrudDelete
)

func (a CrudAction) String() string {
	switch a {
	case CrudCreate:
		return "create"
	case CrudUpdate:
		return "update"
	case CrudDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ServiceQueryVisitor restricts service queries. Authenticated callers see every
// service; anonymous callers only those open to anonymous bookings.
type ServiceQueryVisitor struct {
	visibility.Query
	alias string
}

// NewServiceQueryVisitor builds a visitor for a query selecting services as alias.
func NewServiceQueryVisitor(alias string) *ServiceQueryVisitor {
	if alias == "" {
		panic("policy: service alias is required")
	}
	return &ServiceQueryVisitor{alias: alias}
}

// UserVisibilityCondition returns the predicate callers AND with their own filters.
func (v *ServiceQueryVisitor) UserVisibilityCondition(groups []authgroup.Group) (string, map[string]any) {
	return visibility.UserVisibilityCondition(v, groups)
}

func (v *ServiceQueryVisitor) VisitAnonymous(authgroup.Anonymous) {
	v.AddCondition(fmt.Sprintf(`%s."_allowAnonymousBookings" = TRUE`, v.alias), nil)
}
func (v *ServiceQueryVisitor) VisitOTP(authgroup.OTP)                       { v.AddAlwaysTrue() }
func (v *ServiceQueryVisitor) VisitCitizen(authgroup.Citizen)               { v.AddAlwaysTrue() }
func (v *ServiceQueryVisitor) VisitServiceProvider(authgroup.ServiceProvider) { v.AddAlwaysTrue() }
func (v *ServiceQueryVisitor) VisitServiceAdmin(authgroup.ServiceAdmin)       { v.AddAlwaysTrue() }
func (v *ServiceQueryVisitor) VisitOrganisationAdmin(authgroup.OrganisationAdmin) {
	v.AddAlwaysTrue()
}

// ServiceActionPermission decides whether the caller may manage one service.
type ServiceActionPermission struct {
	permission.Aggregator
	service *model.Service
	action  CrudAction
}

// NewServiceActionPermission panics when service is nil or action is unknown.
func NewServiceActionPermission(service *model.Service, action CrudAction) *ServiceActionPermission {
	if service == nil {
		panic("policy: service is required for a permission check")
	}
	if action < CrudCreate || action > CrudDelete {
		panic(fmt.Sprintf("policy: invalid service action %d", action))
	}
	return &ServiceActionPermission{service: service, action: action}
}

// HasPermission reports whether any of groups grants the action.
func (p *ServiceActionPermission) HasPermission(groups []authgroup.Group) bool {
	return permission.HasPermission(p, groups)
}

func (p *ServiceActionPermission) VisitAnonymous(authgroup.Anonymous)             {}
func (p *ServiceActionPermission) VisitOTP(authgroup.OTP)                         {}
func (p *ServiceActionPermission) VisitCitizen(authgroup.Citizen)                 {}
func (p *ServiceActionPermission) VisitServiceProvider(authgroup.ServiceProvider) {}

func (p *ServiceActionPermission) VisitServiceAdmin(g authgroup.ServiceAdmin) {
	// service admins edit their services but cannot create or delete them
	if p.action == CrudUpdate && g.Authorises(p.service.ID) {
		p.MarkWithPermission()
	}
}

func (p *ServiceActionPermission) VisitOrganisationAdmin(g authgroup.OrganisationAdmin) {
	if g.Authorises(p.service.OrganisationID) {
		p.MarkWithPermission()
	}
}
