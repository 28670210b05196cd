/*
Package fanout resolves which live connections an event is addressed to and hands
the event to each of them without blocking.

A dispatch works on a registry snapshot, so one slow consumer can never stall the
others and the registry lock is never held while queues are touched. The wire
encoding is computed once per event and shared by every delivery pump.
*/
package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/internal/domain/model"
	"github.com/webitel/roster-push-service/pkg/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNilEvent     = errors.New("fanout: event is nil")
	ErrReservedKind = errors.New("fanout: event kind is reserved for the service")
	ErrUnknownKind  = errors.New("fanout: unknown event kind")
)

// Invalidation reasons handed to the connection when its identity state changed.
const (
	ReasonPermissionUpdated = "permission_updated"
	ReasonSessionRevoked    = "session_revoked"
)

// Result summarizes one dispatch. Delivered counts successful enqueues, not writes.
type Result struct {
	Matched   int `json:"matched"`
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
	Expired   int `json:"expired"`
}

// Source is the read side of the registry used by fanout.
type Source interface {
	Snapshot() []model.Connector
}

// IdentityInvalidator purges cached identity state of a user.
type IdentityInvalidator interface {
	Invalidate(userID string)
}

// Recorder receives per-dispatch outcomes (metrics).
type Recorder interface {
	Dispatched(kind protocol.Kind, res Result)
}

// Dispatcher is the entry point for collaborators raising domain events.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev event.Eventer) (Result, error)
	// DispatchSystem accepts service-owned kinds, for internal producers only.
	DispatchSystem(ctx context.Context, ev event.Eventer) (Result, error)
}

type Engine struct {
	source      Source
	clock       clockwork.Clock
	tracer      trace.Tracer
	invalidator IdentityInvalidator
	recorder    Recorder
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

func WithIdentityInvalidator(i IdentityInvalidator) Option {
	return func(e *Engine) { e.invalidator = i }
}

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

func NewEngine(source Source, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		clock:  clockwork.NewRealClock(),
		tracer: otel.Tracer("roster-push/fanout"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dispatch delivers a collaborator event. Service-owned kinds are refused.
func (e *Engine) Dispatch(ctx context.Context, ev event.Eventer) (Result, error) {
	if ev == nil {
		return Result{}, ErrNilEvent
	}
	if ev.GetKind().IsSystem() {
		return Result{}, fmt.Errorf("%w: %s", ErrReservedKind, ev.GetKind())
	}
	return e.dispatch(ctx, ev)
}

func (e *Engine) DispatchSystem(ctx context.Context, ev event.Eventer) (Result, error) {
	if ev == nil {
		return Result{}, ErrNilEvent
	}
	return e.dispatch(ctx, ev)
}

func (e *Engine) dispatch(ctx context.Context, ev event.Eventer) (Result, error) {
	kind := ev.GetKind()
	if !kind.Valid() {
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}

	_, span := e.tracer.Start(ctx, "fanout.dispatch", trace.WithAttributes(
		attribute.String("event.id", ev.GetID()),
		attribute.String("event.kind", kind.String()),
		attribute.String("event.priority", ev.GetPriority().String()),
	))
	defer span.End()

	// [ENCODE_ONCE] every pump writes the same cached bytes
	if _, err := event.Encode(ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return Result{}, fmt.Errorf("fanout: encode %s: %w", ev.GetID(), err)
	}

	var (
		res     Result
		target  = ev.GetTarget()
		now     = e.clock.Now()
		reason  = invalidationReason(kind)
		touched = make(map[string]struct{})
	)

	for _, conn := range e.source.Snapshot() {
		if !target.Matches(conn) {
			continue
		}
		res.Matched++

		// [TTL_GUARD] an expired event is never queued
		if ev.IsExpired(now) {
			res.Expired++
			res.Dropped++
			continue
		}

		if conn.Send(ev) {
			res.Delivered++
		} else {
			res.Dropped++
		}

		if reason != "" {
			conn.Invalidate(reason)
			touched[conn.GetUserID()] = struct{}{}
		}
	}

	// identity changes may also target users that currently hold no connection
	if reason != "" && e.invalidator != nil {
		if target.UserID != "" {
			touched[target.UserID] = struct{}{}
		}
		for userID := range touched {
			e.invalidator.Invalidate(userID)
		}
	}

	span.SetAttributes(
		attribute.Int("fanout.matched", res.Matched),
		attribute.Int("fanout.delivered", res.Delivered),
		attribute.Int("fanout.dropped", res.Dropped),
		attribute.Int("fanout.expired", res.Expired),
	)
	if e.recorder != nil {
		e.recorder.Dispatched(kind, res)
	}
	return res, nil
}

func invalidationReason(kind protocol.Kind) string {
	switch kind {
	case protocol.KindPermissionUpdated:
		return ReasonPermissionUpdated
	case protocol.KindSessionRevoked:
		return ReasonSessionRevoked
	default:
		return ""
	}
}
