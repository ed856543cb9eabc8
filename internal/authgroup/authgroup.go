// Package authgroup models the capability groups a caller may hold and dispatches
// them to resource-specific visitors.
package authgroup

import (
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/timeslots/internal/model"
)

// Visitor receives exactly one call per visited group. Implementations must declare
// every method, so adding a variant breaks every consumer at compile time.
type Visitor interface {
	VisitAnonymous(Anonymous)
	VisitOTP(OTP)
	VisitCitizen(Citizen)
	VisitServiceProvider(ServiceProvider)
	VisitServiceAdmin(ServiceAdmin)
	VisitOrganisationAdmin(OrganisationAdmin)
}

// Group is a capability proven by the current caller. The set of variants is closed.
type Group interface {
	Accept(v Visitor)
	User() *model.User
	sealed()
}

// Visit dispatches every group to v in order.
func Visit(groups []Group, v Visitor) {
	for _, g := range groups {
		g.Accept(v)
	}
}

type base struct{ user *model.User }

func (b base) User() *model.User { return b.user }
func (base) sealed()             {}

// Anonymous is a caller identified only by a tracking id.
type Anonymous struct {
	base
	TrackingID string
}

// NewAnonymous builds the group of an unauthenticated caller.
func NewAnonymous(user *model.User, trackingID string) Anonymous {
	return Anonymous{base: base{user}, TrackingID: trackingID}
}

// Accept calls v.VisitAnonymous.
func (g Anonymous) Accept(v Visitor) { v.VisitAnonymous(g) }

// OTP is an anonymous caller who proved ownership of a mobile number.
type OTP struct {
	base
	MobileNo string
}

// NewOTP builds the group of an OTP-verified caller.
func NewOTP(user *model.User, mobileNo string) OTP {
	return OTP{base: base{user}, MobileNo: mobileNo}
}

// Accept calls v.VisitOTP.
func (g OTP) Accept(v Visitor) { v.VisitOTP(g) }

// Citizen is a caller authenticated with a national identity.
type Citizen struct {
	base
	UinFin string
}

// NewCitizen builds the group of an authenticated citizen.
func NewCitizen(user *model.User, uinFin string) Citizen {
	return Citizen{base: base{user}, UinFin: uinFin}
}

// Accept calls v.VisitCitizen.
func (g Citizen) Accept(v Visitor) { v.VisitCitizen(g) }

// ServiceProvider is a caller acting as one provider of one service.
type ServiceProvider struct {
	base
	ProviderID uuid.UUID
	ServiceID  uuid.UUID
}

// NewServiceProvider builds the group of a provider.
func NewServiceProvider(user *model.User, providerID, serviceID uuid.UUID) ServiceProvider {
	return ServiceProvider{base: base{user}, ProviderID: providerID, ServiceID: serviceID}
}

// Accept calls v.VisitServiceProvider.
func (g ServiceProvider) Accept(v Visitor) { v.VisitServiceProvider(g) }

// ServiceAdmin administers a fixed set of services.
type ServiceAdmin struct {
	base
	ServiceIDs []uuid.UUID
}

// NewServiceAdmin builds a service admin group. It panics when serviceIDs is empty.
func NewServiceAdmin(user *model.User, serviceIDs []uuid.UUID) ServiceAdmin {
	if len(serviceIDs) == 0 {
		panic("authgroup: service admin requires at least one authorised service")
	}
	return ServiceAdmin{base: base{user}, ServiceIDs: append([]uuid.UUID(nil), serviceIDs...)}
}

// Accept calls v.VisitServiceAdmin.
func (g ServiceAdmin) Accept(v Visitor) { v.VisitServiceAdmin(g) }

// Authorises reports whether serviceID is one of the administered services.
func (g ServiceAdmin) Authorises(serviceID uuid.UUID) bool {
	return contains(g.ServiceIDs, serviceID)
}

// OrganisationAdmin administers every service of a fixed set of organisations.
type OrganisationAdmin struct {
	base
	OrganisationIDs []uuid.UUID
}

// NewOrganisationAdmin builds an organisation admin group. It panics when organisationIDs is empty.
func NewOrganisationAdmin(user *model.User, organisationIDs []uuid.UUID) OrganisationAdmin {
	if len(organisationIDs) == 0 {
		panic("authgroup: organisation admin requires at least one authorised organisation")
	}
	return OrganisationAdmin{base: base{user}, OrganisationIDs: append([]uuid.UUID(nil), organisationIDs...)}
}

// Accept calls v.VisitOrganisationAdmin.
func (g OrganisationAdmin) Accept(v Visitor) { v.VisitOrganisationAdmin(g) }

// Authorises reports whether organisationID is one of the administered organisations.
func (g OrganisationAdmin) Authorises(organisationID uuid.UUID) bool {
	return contains(g.OrganisationIDs, organisationID)
}

// Find returns the first group of type T.
func Find[T Group](groups []Group) (T, bool) {
	for _, g := range groups {
		if t, ok := g.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// Name returns a short label for g, used in logs and metrics.
func Name(g Group) string {
	switch g.(type) {
	case Anonymous:
		return "anonymous"
	case OTP:
		return "otp"
	case Citizen:
		return "citizen"
	case ServiceProvider:
		return "service-provider"
	case ServiceAdmin:
		return "service-admin"
	case OrganisationAdmin:
		return "organisation-admin"
	default:
		panic(fmt.Sprintf("authgroup: unknown group %T", g))
	}
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
