// Package changelog runs booking mutations inside a transaction, retries them on
// write conflicts and records one audit entry per successful mutation.
package changelog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/repository"
	"github.com/and161185/timeslots/internal/usercontext"
)

const tracerName = "github.com/and161185/timeslots/internal/changelog"

// FetchFunc loads the booking an action operates on, with its relations.
type FetchFunc func(ctx context.Context, id uuid.UUID) (*model.Booking, error)

// ActionFunc mutates b and reports which audited action it performed.
// Returning errs.ErrVersionConflict makes the executor retry from fetch.
type ActionFunc func(ctx context.Context, b *model.Booking) (model.ChangeLogAction, *model.Booking, error)

// TxRunner runs fn in a transaction at iso. It is implemented by *txn.Manager.
type TxRunner interface {
	InTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctx context.Context) error) error
}

// Config bounds the conflict retry loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Isolation   pgx.TxIsoLevel
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		Isolation:   pgx.RepeatableRead,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Isolation == "" {
		c.Isolation = d.Isolation
	}
	return c
}

// Executor is the single entry point for audited booking mutations.
type Executor struct {
	tx      TxRunner
	logs    repository.ChangeLogRepository
	cfg     Config
	log     *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewExecutor constructs an executor. Zero config fields take DefaultConfig values.
func NewExecutor(tx TxRunner, logs repository.ChangeLogRepository, cfg Config, log *zap.Logger, metrics *Metrics) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		tx:      tx,
		logs:    logs,
		cfg:     cfg.withDefaults(),
		log:     log,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// ExecuteAndLogAction fetches the booking id, checks its loaded relations, runs action
// and stores a change log entry, all in one transaction. Write conflicts restart the
// whole attempt from fetch; after the last attempt they surface as
// errs.ErrRetriesExhausted. Any other error is returned as is.
func (e *Executor) ExecuteAndLogAction(ctx context.Context, id uuid.UUID, fetch FetchFunc, action ActionFunc) (_ *model.Booking, err error) {
	ctx, span := e.tracer.Start(ctx, "changelog.ExecuteAndLogAction",
		trace.WithAttributes(attribute.String("booking_id", id.String())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	uc, ok := usercontext.FromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: no user context", errs.ErrUnauthorized)
	}
	user, err := uc.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	backoff := retry.NewExponential(e.cfg.BaseDelay)
	backoff = retry.WithCappedDuration(e.cfg.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(e.cfg.MaxAttempts-1), backoff)

	var (
		result  *model.Booking
		attempt int
	)
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		e.metrics.attempt()
		b, err := e.runOnce(ctx, id, user, fetch, action)
		if errors.Is(err, errs.ErrVersionConflict) {
			e.metrics.conflict()
			e.log.Warn("booking write conflict, retrying",
				zap.Stringer("booking_id", id), zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		result = b
		return nil
	})
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		if errors.Is(err, errs.ErrVersionConflict) {
			e.metrics.exhausted()
			e.log.Error("booking write conflict retries exhausted",
				zap.Stringer("booking_id", id), zap.Int("attempts", attempt))
			return nil, fmt.Errorf("%w: booking %s after %d attempts: %w", errs.ErrRetriesExhausted, id, attempt, err)
		}
		return nil, err
	}
	return result, nil
}

func (e *Executor) runOnce(ctx context.Context, id uuid.UUID, user *model.User, fetch FetchFunc, action ActionFunc) (*model.Booking, error) {
	var result *model.Booking
	err := e.tx.InTx(ctx, e.cfg.Isolation, func(ctx context.Context) error {
		cur, err := fetch(ctx, id)
		if err != nil {
			return err
		}
		if err := checkRelations(cur); err != nil {
			return err
		}
		prev := cur.Snapshot()

		logAction, updated, err := action(ctx, cur)
		if err != nil {
			return err
		}
		if updated == nil {
			return fmt.Errorf("%w: %s action returned no booking", errs.ErrPrecondition, logAction)
		}
		if logAction == model.ActionCreate {
			prev = model.BookingSnapshot{}
		}

		entry := &model.ChangeLog{
			BookingID:     updated.ID,
			ServiceID:     updated.ServiceID,
			UserID:        user.ID,
			Action:        logAction,
			PreviousState: prev,
			NewState:      updated.Snapshot(),
		}
		if err := e.logs.Save(ctx, entry); err != nil {
			return err
		}
		e.metrics.written(logAction)
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkRelations rejects bookings fetched without the relations their status needs.
func checkRelations(b *model.Booking) error {
	if b == nil {
		return fmt.Errorf("%w: fetch returned no booking", errs.ErrPrecondition)
	}
	if b.Service == nil {
		return errs.MissingRelation("booking", "service")
	}
	if b.Status.RequiresServiceProvider() && b.ServiceProvider == nil {
		return errs.MissingRelation("booking", "serviceProvider")
	}
	return nil
}

// GetLogs returns audit entries grouped by booking id over [ChangedSince, ChangedUntil).
func (e *Executor) GetLogs(ctx context.Context, f model.ChangeLogFilter) (map[uuid.UUID][]model.ChangeLog, error) {
	if !f.ChangedSince.IsZero() && !f.ChangedUntil.IsZero() && !f.ChangedUntil.After(f.ChangedSince) {
		return map[uuid.UUID][]model.ChangeLog{}, nil
	}
	return e.logs.GetLogs(ctx, f)
}
