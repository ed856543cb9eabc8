package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/timeslots/internal/errs"
)

// StatusFromError maps domain errors onto gRPC status errors.
// Errors that already carry a status are returned unchanged. Internal faults
// never leak their message to the client.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codeOf(err)
	if code == codes.Internal {
		return status.Error(codes.Internal, "internal")
	}
	return status.Error(code, err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return codes.Unauthenticated
	case errors.Is(err, errs.ErrForbidden):
		return codes.PermissionDenied
	case errors.Is(err, errs.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, errs.ErrRetriesExhausted):
		return codes.Aborted
	case errors.Is(err, errs.ErrAlreadyExists):
		return codes.AlreadyExists
	case errors.Is(err, errs.ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, errs.ErrInvalidState):
		return codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		// ErrPrecondition lands here too: a relation the code relies on was not loaded.
		return codes.Internal
	}
}

// ErrorMappingUnary converts handler errors with StatusFromError and logs server-side faults.
func ErrorMappingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		resp, err := next(ctx, req)
		if err == nil {
			return resp, nil
		}
		mapped := StatusFromError(err)
		if status.Code(mapped) == codes.Internal {
			log.Error("handler failed", zap.String("method", info.FullMethod), zap.Error(err))
		}
		return resp, mapped
	}
}
