package grpcserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/timeslots/internal/limiter"
	"github.com/and161185/timeslots/internal/repository"
	"github.com/and161185/timeslots/internal/usercontext"
)

// Deps are the collaborators shared by the interceptor chain.
type Deps struct {
	Parser    *usercontext.TokenParser
	Users     repository.UserRepository
	Hierarchy repository.HierarchyReader
	Limiter   limiter.Limiter // optional
	Metrics   *CallMetrics    // optional
	Dev       bool            // enables reflection
}

// NewServer builds a gRPC server with the interceptor chain, health service and,
// in dev mode, reflection. Order: recover, logging, throttle, error mapping, user context.
// The returned health server starts as SERVING.
func NewServer(log *zap.Logger, d Deps, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if log == nil {
		log = zap.NewNop()
	}
	chain := []grpc.UnaryServerInterceptor{RecoverUnary(log, d.Metrics), LoggingUnary(log, d.Metrics)}
	if d.Limiter != nil {
		chain = append(chain, ThrottleUnary(d.Limiter, log))
	}
	chain = append(chain,
		ErrorMappingUnary(log),
		UserContextUnary(d.Parser, d.Users, d.Hierarchy, log),
	)

	s := grpc.NewServer(append(opts, grpc.ChainUnaryInterceptor(chain...))...)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(BookingsServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	if d.Dev {
		reflection.Register(s)
	}
	return s, hs
}
