package fanout

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/roster-push-service/internal/domain/event"
)

// LoggingMiddleware implements [DECORATOR_PATTERN] over a Dispatcher.
type LoggingMiddleware struct {
	Next   Dispatcher
	Logger *slog.Logger
}

func NewLoggingMiddleware(next Dispatcher, logger *slog.Logger) Dispatcher {
	return &LoggingMiddleware{Next: next, Logger: logger}
}

func (m *LoggingMiddleware) Dispatch(ctx context.Context, ev event.Eventer) (Result, error) {
	start := time.Now()
	res, err := m.Next.Dispatch(ctx, ev)
	m.log(ctx, ev, res, err, time.Since(start))
	return res, err
}

func (m *LoggingMiddleware) DispatchSystem(ctx context.Context, ev event.Eventer) (Result, error) {
	start := time.Now()
	res, err := m.Next.DispatchSystem(ctx, ev)
	m.log(ctx, ev, res, err, time.Since(start))
	return res, err
}

func (m *LoggingMiddleware) log(ctx context.Context, ev event.Eventer, res Result, err error, took time.Duration) {
	if err != nil {
		m.Logger.WarnContext(ctx, "EVENT_DISPATCH_REJECTED", "err", err)
		return
	}

	lvl := slog.LevelDebug
	if res.Dropped > 0 {
		lvl = slog.LevelWarn
	}
	m.Logger.Log(ctx, lvl, "EVENT_DISPATCHED",
		"event_id", ev.GetID(),
		"kind", ev.GetKind().String(),
		"priority", ev.GetPriority().String(),
		"matched", res.Matched,
		"delivered", res.Delivered,
		"dropped", res.Dropped,
		"expired", res.Expired,
		"duration_ms", took.Milliseconds(),
	)
}
