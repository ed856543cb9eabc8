package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/timeslots/internal/limiter"
)

// ThrottleUnary blocks peers that keep getting Unauthenticated or PermissionDenied
// on the same method. Limiter failures are logged and the call proceeds.
func ThrottleUnary(l limiter.Limiter, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		ip := peerIP(ctx)
		if ip == "" {
			return next(ctx, req)
		}
		h := limiter.HashIP(ip)

		ok, retryAfter, err := l.Allow(ctx, info.FullMethod, h)
		switch {
		case err != nil:
			log.Warn("limiter unavailable", zap.String("method", info.FullMethod), zap.Error(err))
		case !ok:
			return nil, status.Errorf(codes.ResourceExhausted, "too many denied calls, retry in %s", retryAfter.Round(time.Second))
		}

		resp, err := next(ctx, req)
		if c := status.Code(err); c == codes.Unauthenticated || c == codes.PermissionDenied {
			blocked, d, ferr := l.Failure(ctx, info.FullMethod, h)
			switch {
			case ferr != nil:
				log.Warn("limiter failure not recorded", zap.String("method", info.FullMethod), zap.Error(ferr))
			case blocked:
				log.Info("peer blocked", zap.String("method", info.FullMethod), zap.Duration("for", d))
			}
		}
		return resp, err
	}
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
