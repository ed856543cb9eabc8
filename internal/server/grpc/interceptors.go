// Package grpcserver exposes the booking service over gRPC and carries the
// per-call user context, logging, throttling and error mapping.
package grpcserver

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// CallMetrics counts finished calls. A nil *CallMetrics records nothing.
type CallMetrics struct {
	Calls    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Panics   prometheus.Counter
}

// NewCallMetrics registers the transport metrics with reg. A nil reg leaves them unregistered.
func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	f := promauto.With(reg)
	return &CallMetrics{
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timeslots_grpc_calls_total",
			Help: "Finished unary calls by method and status code",
		}, []string{"method", "code"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timeslots_grpc_call_duration_seconds",
			Help:    "Unary call latency by method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		Panics: f.NewCounter(prometheus.CounterOpts{
			Name: "timeslots_grpc_panics_total",
			Help: "Handler panics recovered by the server",
		}),
	}
}

func (m *CallMetrics) observe(method string, code codes.Code, d time.Duration) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(method, code.String()).Inc()
	m.Duration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *CallMetrics) panicked() {
	if m != nil {
		m.Panics.Inc()
	}
}

// levelFor logs server faults at Error and caller mistakes at Warn.
func levelFor(c codes.Code) zapcore.Level {
	switch c {
	case codes.OK:
		return zapcore.InfoLevel
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// LoggingUnary logs one line per call and feeds m.
func LoggingUnary(log *zap.Logger, m *CallMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)
		dur := time.Since(start)
		m.observe(info.FullMethod, code, dur)

		// metadata only, never payloads
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", dur),
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			fields = append(fields, zap.String("peer", p.Addr.String()))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
		}
		if ce := log.Check(levelFor(code), "grpc"); ce != nil {
			ce.Write(fields...)
		}
		return resp, err
	}
}

// RecoverUnary turns handler panics into codes.Internal.
func RecoverUnary(log *zap.Logger, m *CallMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				m.panicked()
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}
