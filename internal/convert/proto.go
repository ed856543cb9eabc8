// Package convert maps domain types to and from the structpb messages carried over gRPC.
package convert

import (
	"fmt"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/service"
)

// --- helpers ---

func ts(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNullValue()
	}
	return structpb.NewStringValue(t.UTC().Format(time.RFC3339Nano))
}

func id(v u.UUID) *structpb.Value { return structpb.NewStringValue(v.String()) }

func optID(v *u.UUID) *structpb.Value {
	if v == nil {
		return structpb.NewNullValue()
	}
	return id(*v)
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", errs.ErrInvalidArgument, field, fmt.Sprintf(format, args...))
}

func field(s *structpb.Struct, key string) (*structpb.Value, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, false
	}
	if _, null := v.GetKind().(*structpb.Value_NullValue); null {
		return nil, false
	}
	return v, true
}

func optString(s *structpb.Struct, key string) (*string, error) {
	v, ok := field(s, key)
	if !ok {
		return nil, nil
	}
	sv, isStr := v.GetKind().(*structpb.Value_StringValue)
	if !isStr {
		return nil, invalid(key, "want string")
	}
	out := sv.StringValue
	return &out, nil
}

func str(s *structpb.Struct, key string) (string, error) {
	p, err := optString(s, key)
	if err != nil || p == nil {
		return "", err
	}
	return *p, nil
}

func optUUID(s *structpb.Struct, key string) (*u.UUID, error) {
	p, err := optString(s, key)
	if err != nil || p == nil {
		return nil, err
	}
	var v u.UUID
	if err := v.UnmarshalText([]byte(*p)); err != nil {
		return nil, invalid(key, "invalid id %q", *p)
	}
	return &v, nil
}

func reqUUID(s *structpb.Struct, key string) (u.UUID, error) {
	p, err := optUUID(s, key)
	if err != nil {
		return u.Nil, err
	}
	if p == nil {
		return u.Nil, invalid(key, "required")
	}
	return *p, nil
}

func timeField(s *structpb.Struct, key string) (time.Time, error) {
	p, err := optString(s, key)
	if err != nil || p == nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, *p)
	if err != nil {
		return time.Time{}, invalid(key, "want RFC 3339 time")
	}
	return t, nil
}

func list(s *structpb.Struct, key string) ([]*structpb.Value, error) {
	v, ok := field(s, key)
	if !ok {
		return nil, nil
	}
	lv, isList := v.GetKind().(*structpb.Value_ListValue)
	if !isList {
		return nil, invalid(key, "want list")
	}
	return lv.ListValue.GetValues(), nil
}

func stringList(s *structpb.Struct, key string) ([]string, error) {
	vals, err := list(s, key)
	if err != nil || vals == nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, invalid(key, "want list of strings")
		}
		out = append(out, sv.StringValue)
	}
	return out, nil
}

var statuses = map[string]model.BookingStatus{}

func init() {
	for st := model.BookingPendingApproval; st <= model.BookingOnHold; st++ {
		statuses[st.String()] = st
	}
}

// --- Booking ---

// ToProtoBooking encodes b. Relations are flattened to their names.
func ToProtoBooking(b *model.Booking) *structpb.Struct {
	if b == nil {
		return nil
	}
	f := map[string]*structpb.Value{
		"id":                id(b.ID),
		"serviceId":         id(b.ServiceID),
		"serviceProviderId": optID(b.ServiceProviderID),
		"status":            structpb.NewStringValue(b.Status.String()),
		"startDateTime":     ts(b.StartAt),
		"endDateTime":       ts(b.EndAt),
		"citizenUinFin":     structpb.NewStringValue(b.CitizenUinFin),
		"citizenName":       structpb.NewStringValue(b.CitizenName),
		"citizenPhone":      structpb.NewStringValue(b.CitizenPhone),
		"citizenEmail":      structpb.NewStringValue(b.CitizenEmail),
		"location":          structpb.NewStringValue(b.Location),
		"description":       structpb.NewStringValue(b.Description),
		"version":           structpb.NewNumberValue(float64(b.Version)),
		"createdAt":         ts(b.CreatedAt),
	}
	if b.Service != nil {
		f["serviceName"] = structpb.NewStringValue(b.Service.Name)
	}
	if b.ServiceProvider != nil {
		f["serviceProviderName"] = structpb.NewStringValue(b.ServiceProvider.Name)
	}
	return &structpb.Struct{Fields: f}
}

// ToProtoBookings encodes a search result as {"bookings": [...]}.
func ToProtoBookings(in []*model.Booking) *structpb.Struct {
	vals := make([]*structpb.Value, 0, len(in))
	for _, b := range in {
		vals = append(vals, structpb.NewStructValue(ToProtoBooking(b)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"bookings": structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

// FromProtoBookingFilter decodes a search request.
func FromProtoBookingFilter(in *structpb.Struct) (model.BookingFilter, error) {
	var (
		f   model.BookingFilter
		err error
	)
	if f.From, err = timeField(in, "from"); err != nil {
		return f, err
	}
	if f.To, err = timeField(in, "to"); err != nil {
		return f, err
	}
	if f.ServiceID, err = optUUID(in, "serviceId"); err != nil {
		return f, err
	}
	if f.ServiceProviderID, err = optUUID(in, "serviceProviderId"); err != nil {
		return f, err
	}
	if f.CitizenUinFins, err = stringList(in, "citizenUinFins"); err != nil {
		return f, err
	}
	names, err := stringList(in, "statuses")
	if err != nil {
		return f, err
	}
	for _, n := range names {
		st, ok := statuses[n]
		if !ok {
			return f, invalid("statuses", "unknown status %q", n)
		}
		f.Statuses = append(f.Statuses, st)
	}
	if v, ok := field(in, "limit"); ok {
		nv, isNum := v.GetKind().(*structpb.Value_NumberValue)
		if !isNum || nv.NumberValue < 0 {
			return f, invalid("limit", "want non-negative number")
		}
		f.Limit = int(nv.NumberValue)
	}
	return f, nil
}

// FromProtoCreateBooking decodes a create request.
func FromProtoCreateBooking(in *structpb.Struct) (service.CreateBooking, error) {
	var (
		c   service.CreateBooking
		err error
	)
	if c.ServiceID, err = reqUUID(in, "serviceId"); err != nil {
		return c, err
	}
	if c.StartAt, err = timeField(in, "startDateTime"); err != nil {
		return c, err
	}
	if c.EndAt, err = timeField(in, "endDateTime"); err != nil {
		return c, err
	}
	for key, dst := range map[string]*string{
		"citizenUinFin": &c.CitizenUinFin,
		"citizenName":   &c.CitizenName,
		"citizenPhone":  &c.CitizenPhone,
		"citizenEmail":  &c.CitizenEmail,
		"location":      &c.Location,
		"description":   &c.Description,
	} {
		if *dst, err = str(in, key); err != nil {
			return c, err
		}
	}
	return c, nil
}

// FromProtoUpdateBooking decodes an update request. Absent or null fields stay nil.
func FromProtoUpdateBooking(in *structpb.Struct) (u.UUID, service.UpdateBooking, error) {
	var upd service.UpdateBooking
	bookingID, err := reqUUID(in, "id")
	if err != nil {
		return u.Nil, upd, err
	}
	for key, dst := range map[string]**string{
		"citizenName":  &upd.CitizenName,
		"citizenPhone": &upd.CitizenPhone,
		"citizenEmail": &upd.CitizenEmail,
		"location":     &upd.Location,
		"description":  &upd.Description,
	} {
		if *dst, err = optString(in, key); err != nil {
			return u.Nil, upd, err
		}
	}
	return bookingID, upd, nil
}

// FromProtoBookingRef decodes {"id": ...}.
func FromProtoBookingRef(in *structpb.Struct) (u.UUID, error) {
	return reqUUID(in, "id")
}

// FromProtoAccept decodes an accept request with an optional provider.
func FromProtoAccept(in *structpb.Struct) (u.UUID, *u.UUID, error) {
	bookingID, err := reqUUID(in, "id")
	if err != nil {
		return u.Nil, nil, err
	}
	sp, err := optUUID(in, "serviceProviderId")
	return bookingID, sp, err
}

// FromProtoReschedule decodes a reschedule request.
func FromProtoReschedule(in *structpb.Struct) (u.UUID, time.Time, time.Time, error) {
	bookingID, err := reqUUID(in, "id")
	if err != nil {
		return u.Nil, time.Time{}, time.Time{}, err
	}
	start, err := timeField(in, "startDateTime")
	if err != nil {
		return u.Nil, time.Time{}, time.Time{}, err
	}
	end, err := timeField(in, "endDateTime")
	return bookingID, start, end, err
}

// --- Change log ---

// FromProtoChangeLogFilter decodes a change log query. A present but empty
// "bookingIds" list is kept non-nil so it matches nothing.
func FromProtoChangeLogFilter(in *structpb.Struct) (model.ChangeLogFilter, error) {
	var (
		f   model.ChangeLogFilter
		err error
	)
	if f.ChangedSince, err = timeField(in, "changedSince"); err != nil {
		return f, err
	}
	if f.ChangedUntil, err = timeField(in, "changedUntil"); err != nil {
		return f, err
	}
	if f.ServiceID, err = optUUID(in, "serviceId"); err != nil {
		return f, err
	}
	raw, err := stringList(in, "bookingIds")
	if err != nil {
		return f, err
	}
	if raw != nil {
		f.BookingIDs = make([]u.UUID, 0, len(raw))
		for _, r := range raw {
			var v u.UUID
			if err := v.UnmarshalText([]byte(r)); err != nil {
				return f, invalid("bookingIds", "invalid id %q", r)
			}
			f.BookingIDs = append(f.BookingIDs, v)
		}
	}
	return f, nil
}

func snapshot(s model.BookingSnapshot) *structpb.Value {
	f := map[string]*structpb.Value{}
	put := func(k, v string) {
		if v != "" {
			f[k] = structpb.NewStringValue(v)
		}
	}
	if s.ID != u.Nil {
		f["id"] = id(s.ID)
	}
	if s.ServiceID != u.Nil {
		f["serviceId"] = id(s.ServiceID)
	}
	if s.ServiceProviderID != nil {
		f["serviceProviderId"] = id(*s.ServiceProviderID)
	}
	if s.StartAt != nil {
		f["startDateTime"] = ts(*s.StartAt)
	}
	if s.EndAt != nil {
		f["endDateTime"] = ts(*s.EndAt)
	}
	put("serviceName", s.ServiceName)
	put("status", s.Status)
	put("citizenUinFin", s.CitizenUinFin)
	put("citizenName", s.CitizenName)
	put("citizenPhone", s.CitizenPhone)
	put("citizenEmail", s.CitizenEmail)
	put("location", s.Location)
	put("description", s.Description)
	if s.Version != 0 {
		f["version"] = structpb.NewNumberValue(float64(s.Version))
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: f})
}

// ToProtoChangeLog encodes one audit entry.
func ToProtoChangeLog(e model.ChangeLog) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":            id(e.ID),
		"bookingId":     id(e.BookingID),
		"serviceId":     id(e.ServiceID),
		"userId":        id(e.UserID),
		"action":        structpb.NewStringValue(e.Action.String()),
		"previousState": snapshot(e.PreviousState),
		"newState":      snapshot(e.NewState),
		"timestamp":     ts(e.Timestamp),
	}}
}

// ToProtoChangeLogs encodes grouped entries as {"logs": {"<bookingId>": [...]}}.
// Groups keep their entry order.
func ToProtoChangeLogs(in map[u.UUID][]model.ChangeLog) *structpb.Struct {
	groups := make(map[string]*structpb.Value, len(in))
	for k, entries := range in {
		vals := make([]*structpb.Value, 0, len(entries))
		for _, e := range entries {
			vals = append(vals, structpb.NewStructValue(ToProtoChangeLog(e)))
		}
		groups[k.String()] = structpb.NewListValue(&structpb.ListValue{Values: vals})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"logs": structpb.NewStructValue(&structpb.Struct{Fields: groups}),
	}}
}

// --- Service ---

// ToProtoServices encodes a catalog listing as {"services": [...]}.
func ToProtoServices(in []model.Service) *structpb.Struct {
	vals := make([]*structpb.Value, 0, len(in))
	for _, s := range in {
		vals = append(vals, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":                     id(s.ID),
			"organisationId":         id(s.OrganisationID),
			"name":                   structpb.NewStringValue(s.Name),
			"allowAnonymousBookings": structpb.NewBoolValue(s.AllowAnonymousBookings),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"services": structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

// FromProtoServiceSearch decodes {"organisationId": ...}.
func FromProtoServiceSearch(in *structpb.Struct) (*u.UUID, error) {
	return optUUID(in, "organisationId")
}
