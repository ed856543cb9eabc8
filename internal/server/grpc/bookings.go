package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/timeslots/internal/convert"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/service"
)

// BookingsServiceName is the gRPC service under which booking methods are registered.
const BookingsServiceName = "timeslots.v1.Bookings"

// bookingsHandler is the method set dispatched by bookingsDesc.
type bookingsHandler interface {
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Accept(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reschedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangeLogs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Services(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// BookingsServer wires the booking service and catalog into gRPC handlers.
// Handlers return domain errors; ErrorMappingUnary turns them into statuses.
type BookingsServer struct {
	bookings service.BookingService
	catalog  service.ServiceCatalog
}

var _ bookingsHandler = (*BookingsServer)(nil)

// NewBookingsServer constructs the handler set.
func NewBookingsServer(bookings service.BookingService, catalog service.ServiceCatalog) *BookingsServer {
	return &BookingsServer{bookings: bookings, catalog: catalog}
}

// RegisterBookings registers srv on r.
func RegisterBookings(r grpc.ServiceRegistrar, srv *BookingsServer) {
	r.RegisterService(&bookingsDesc, srv)
}

// Search returns visible bookings matching the filter.
func (s *BookingsServer) Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f, err := convert.FromProtoBookingFilter(req)
	if err != nil {
		return nil, err
	}
	out, err := s.bookings.Search(ctx, f)
	if err != nil {
		return nil, err
	}
	return convert.ToProtoBookings(out), nil
}

// Create books a slot.
func (s *BookingsServer) Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := convert.FromProtoCreateBooking(req)
	if err != nil {
		return nil, err
	}
	return booking(s.bookings.Create(ctx, in))
}

// Update changes booking details.
func (s *BookingsServer) Update(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, in, err := convert.FromProtoUpdateBooking(req)
	if err != nil {
		return nil, err
	}
	return booking(s.bookings.Update(ctx, id, in))
}

// Cancel cancels an open booking.
func (s *BookingsServer) Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.FromProtoBookingRef(req)
	if err != nil {
		return nil, err
	}
	return booking(s.bookings.Cancel(ctx, id))
}

// Accept assigns a provider and accepts the booking.
func (s *BookingsServer) Accept(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, sp, err := convert.FromProtoAccept(req)
	if err != nil {
		return nil, err
	}
	return booking(s.bookings.Accept(ctx, id, sp))
}

// Reject rejects an open booking.
func (s *BookingsServer) Reject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.FromProtoBookingRef(req)
	if err != nil {
		return nil, err
	}
	return booking(s.bookings.Reject(ctx, id))
}

// Reschedule moves an open booking.
func (s *BookingsServer) Reschedule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, start, end, err := convert.FromProtoReschedule(req)
	if err != nil {
		return nil, err
	}
	return booking(s.bookings.Reschedule(ctx, id, start, end))
}

// ChangeLogs returns audit entries grouped by booking.
func (s *BookingsServer) ChangeLogs(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f, err := convert.FromProtoChangeLogFilter(req)
	if err != nil {
		return nil, err
	}
	logs, err := s.bookings.ChangeLogs(ctx, f)
	if err != nil {
		return nil, err
	}
	return convert.ToProtoChangeLogs(logs), nil
}

// Services lists the services visible to the caller.
func (s *BookingsServer) Services(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	org, err := convert.FromProtoServiceSearch(req)
	if err != nil {
		return nil, err
	}
	out, err := s.catalog.Search(ctx, org)
	if err != nil {
		return nil, err
	}
	return convert.ToProtoServices(out), nil
}

func booking(b *model.Booking, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, err
	}
	return convert.ToProtoBooking(b), nil
}

type rpc func(h bookingsHandler, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// unary builds a method descriptor the way generated code does, so server
// interceptors see every call with its full method name.
func unary(name string, call rpc) grpc.MethodDesc {
	full := "/" + BookingsServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			h := srv.(bookingsHandler)
			if ic == nil {
				return call(h, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(h, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var bookingsDesc = grpc.ServiceDesc{
	ServiceName: BookingsServiceName,
	HandlerType: (*bookingsHandler)(nil),
	Methods: []grpc.MethodDesc{
		unary("Search", bookingsHandler.Search),
		unary("Create", bookingsHandler.Create),
		unary("Update", bookingsHandler.Update),
		unary("Cancel", bookingsHandler.Cancel),
		unary("Accept", bookingsHandler.Accept),
		unary("Reject", bookingsHandler.Reject),
		unary("Reschedule", bookingsHandler.Reschedule),
		unary("ChangeLogs", bookingsHandler.ChangeLogs),
		unary("Services", bookingsHandler.Services),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "timeslots/v1/bookings",
}
