package policy

import (
	"strings"

	"github.com/and161185/timeslots/internal/authgroup"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/permission"
)

// UinFinPolicy decides whether the caller may see a citizen identifier in plain text.
// Agency users see every identifier; everyone else only those of bookings in their scope.
type UinFinPolicy struct {
	user   *model.User
	groups []authgroup.Group
}

// NewUinFinPolicy binds the policy to one point-in-time view of the caller.
func NewUinFinPolicy(user *model.User, groups []authgroup.Group) *UinFinPolicy {
	return &UinFinPolicy{user: user, groups: groups}
}

// CanViewPlain reports whether b's identifier may be returned unmasked.
func (p *UinFinPolicy) CanViewPlain(b *model.Booking) bool {
	if b == nil {
		return false
	}
	if p.user.IsAgency() {
		return true
	}
	return permission.HasPermission(&uinFinVisitor{booking: b}, p.groups)
}

// Apply masks b.CitizenUinFin in place unless the caller may view it.
func (p *UinFinPolicy) Apply(b *model.Booking) {
	if b != nil && !p.CanViewPlain(b) {
		b.CitizenUinFin = MaskUinFin(b.CitizenUinFin)
	}
}

// MaskUinFin hides the digits of an identifier, keeping the prefix letter and the
// last four characters: S1234567D -> S****567D.
func MaskUinFin(v string) string {
	if len(v) < 6 {
		return strings.Repeat("*", len(v))
	}
	return v[:1] + strings.Repeat("*", len(v)-5) + v[len(v)-4:]
}

type uinFinVisitor struct {
	permission.Aggregator
	booking *model.Booking
}

func (v *uinFinVisitor) VisitAnonymous(authgroup.Anonymous) {}
func (v *uinFinVisitor) VisitOTP(authgroup.OTP)             {}

func (v *uinFinVisitor) VisitCitizen(g authgroup.Citizen) {
	if g.UinFin != "" && g.UinFin == v.booking.CitizenUinFin {
		v.MarkWithPermission()
	}
}

func (v *uinFinVisitor) VisitServiceProvider(g authgroup.ServiceProvider) {
	if providerIs(v.booking.ServiceProviderID, g.ProviderID) {
		v.MarkWithPermission()
	}
}

func (v *uinFinVisitor) VisitServiceAdmin(g authgroup.ServiceAdmin) {
	if g.Authorises(v.booking.ServiceID) {
		v.MarkWithPermission()
	}
}

func (v *uinFinVisitor) VisitOrganisationAdmin(g authgroup.OrganisationAdmin) {
	if v.booking.Service != nil && g.Authorises(v.booking.Service.OrganisationID) {
		v.MarkWithPermission()
	}
}
