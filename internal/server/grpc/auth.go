package grpcserver

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/timeslots/internal/repository"
	"github.com/and161185/timeslots/internal/usercontext"
)

const (
	authorizationHeader = "authorization"
	// TrackingHeader carries the anonymous caller's tracking id in both directions.
	TrackingHeader = "x-anonymous-id"
)

// UserContextUnary attaches a fresh, lazily resolved UserContext to every call.
// A call without a bearer token is served as anonymous; an invalid token is rejected.
// The tracking id in use is echoed back in the response header.
func UserContextUnary(parser *usercontext.TokenParser, users repository.UserRepository, hierarchy repository.HierarchyReader, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)

		var claims *usercontext.Claims
		if raw, ok := bearerToken(md); ok {
			c, err := parser.Parse(raw)
			if err != nil {
				log.Debug("token rejected", zap.String("method", info.FullMethod), zap.Error(err))
				return nil, status.Error(codes.Unauthenticated, "invalid token")
			}
			claims = c
		}

		tracking := firstValue(md, TrackingHeader)
		if tracking == "" {
			tracking = uuid.Must(uuid.NewV4()).String()
		}
		uc := usercontext.New(claims, tracking, users, hierarchy, log)
		if claims == nil || claims.Kind == usercontext.KindAnonymous {
			// outside a real stream there is nowhere to send the header
			_ = grpc.SetHeader(ctx, metadata.Pairs(TrackingHeader, tracking))
		}
		return next(usercontext.With(ctx, uc), req)
	}
}

// bearerToken returns the first non-empty bearer credential. Other schemes are ignored.
func bearerToken(md metadata.MD) (string, bool) {
	for _, v := range md.Get(authorizationHeader) {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, true
			}
		}
	}
	return "", false
}

func firstValue(md metadata.MD, key string) string {
	for _, v := range md.Get(key) {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
