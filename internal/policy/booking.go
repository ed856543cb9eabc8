// Package policy holds the resource-specific visibility and permission visitors.
package policy

import (
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/timeslots/internal/authgroup"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/permission"
	"github.com/and161185/timeslots/internal/visibility"
)

// BookingQueryVisitor restricts booking queries. The booking table is joined under
// alias and its service under "service".
type BookingQueryVisitor struct {
	visibility.Query
	alias string
}

// NewBookingQueryVisitor builds a visitor for a query selecting bookings as alias.
func NewBookingQueryVisitor(alias string) *BookingQueryVisitor {
	if alias == "" {
		panic("policy: booking alias is required")
	}
	return &BookingQueryVisitor{alias: alias}
}

// UserVisibilityCondition returns the predicate callers AND with their own filters.
func (v *BookingQueryVisitor) UserVisibilityCondition(groups []authgroup.Group) (string, map[string]any) {
	return visibility.UserVisibilityCondition(v, groups)
}

func (v *BookingQueryVisitor) VisitAnonymous(authgroup.Anonymous) {}

func (v *BookingQueryVisitor) VisitOTP(g authgroup.OTP) {
	v.AddCondition(fmt.Sprintf(`%s."_citizenPhone" = :authorisedMobileNo`, v.alias),
		map[string]any{"authorisedMobileNo": g.MobileNo})
}

func (v *BookingQueryVisitor) VisitCitizen(g authgroup.Citizen) {
	v.AddCondition(fmt.Sprintf(`%s."_citizenUinFin" = :authorisedUinFin`, v.alias),
		map[string]any{"authorisedUinFin": g.UinFin})
}

func (v *BookingQueryVisitor) VisitServiceProvider(g authgroup.ServiceProvider) {
	v.AddCondition(fmt.Sprintf(`%s."_serviceProviderId" = :authorisedBookingServiceProviderId`, v.alias),
		map[string]any{"authorisedBookingServiceProviderId": g.ProviderID})
}

func (v *BookingQueryVisitor) VisitServiceAdmin(g authgroup.ServiceAdmin) {
	v.AddCondition(fmt.Sprintf(`%s."_serviceId" = ANY(:authorisedBookingServiceIds)`, v.alias),
		map[string]any{"authorisedBookingServiceIds": g.ServiceIDs})
}

func (v *BookingQueryVisitor) VisitOrganisationAdmin(g authgroup.OrganisationAdmin) {
	v.AddCondition(`service."_organisationId" = ANY(:authorisedBookingOrganisationIds)`,
		map[string]any{"authorisedBookingOrganisationIds": g.OrganisationIDs})
}

// BookingActionPermission decides whether the caller may apply action to one booking.
type BookingActionPermission struct {
	permission.Aggregator
	booking *model.Booking
	action  model.ChangeLogAction
}

// NewBookingActionPermission panics when booking is nil, its service relation is not
// loaded or action is not a declared booking action.
func NewBookingActionPermission(booking *model.Booking, action model.ChangeLogAction) *BookingActionPermission {
	if booking == nil {
		panic("policy: booking is required for a permission check")
	}
	if booking.Service == nil {
		panic("policy: booking service relation must be loaded for a permission check")
	}
	if !action.Valid() {
		panic(fmt.Sprintf("policy: invalid booking action %d", action))
	}
	return &BookingActionPermission{booking: booking, action: action}
}

// HasPermission reports whether any of groups grants the action.
func (p *BookingActionPermission) HasPermission(groups []authgroup.Group) bool {
	return permission.HasPermission(p, groups)
}

// citizenAction reports whether the action is one a booking owner may take on their own.
func (p *BookingActionPermission) citizenAction() bool {
	switch p.action {
	case model.ActionCreate, model.ActionUpdate, model.ActionCancel, model.ActionReschedule:
		return true
	default:
		return false
	}
}

func (p *BookingActionPermission) VisitAnonymous(authgroup.Anonymous) {
	if p.action == model.ActionCreate && p.booking.Service.AllowAnonymousBookings {
		p.MarkWithPermission()
	}
}

func (p *BookingActionPermission) VisitOTP(g authgroup.OTP) {
	if !p.citizenAction() {
		return
	}
	if p.action == model.ActionCreate || (g.MobileNo != "" && p.booking.CitizenPhone == g.MobileNo) {
		p.MarkWithPermission()
	}
}

func (p *BookingActionPermission) VisitCitizen(g authgroup.Citizen) {
	if p.citizenAction() && g.UinFin != "" && p.booking.CitizenUinFin == g.UinFin {
		p.MarkWithPermission()
	}
}

func (p *BookingActionPermission) VisitServiceProvider(g authgroup.ServiceProvider) {
	if sp := p.booking.ServiceProviderID; sp != nil {
		if *sp == g.ProviderID {
			p.MarkWithPermission()
		}
		return
	}
	if p.booking.ServiceID == g.ServiceID {
		p.MarkWithPermission()
	}
}

func (p *BookingActionPermission) VisitServiceAdmin(g authgroup.ServiceAdmin) {
	if g.Authorises(p.booking.ServiceID) {
		p.MarkWithPermission()
	}
}

func (p *BookingActionPermission) VisitOrganisationAdmin(g authgroup.OrganisationAdmin) {
	if g.Authorises(p.booking.Service.OrganisationID) {
		p.MarkWithPermission()
	}
}

func providerIs(id *uuid.UUID, want uuid.UUID) bool { return id != nil && *id == want }
