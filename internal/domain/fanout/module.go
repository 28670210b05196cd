package fanout

import (
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

type engineParams struct {
	fx.In

	Hub         registry.Hubber
	Clock       clockwork.Clock
	Tracer      trace.TracerProvider
	Invalidator IdentityInvalidator `optional:"true"`
	Recorder    Recorder            `optional:"true"`
}

var Module = fx.Module("fanout",
	fx.Provide(
		func(p engineParams) *Engine {
			opts := []Option{
				WithClock(p.Clock),
				WithTracer(p.Tracer.Tracer("roster-push/fanout")),
			}
			if p.Invalidator != nil {
				opts = append(opts, WithIdentityInvalidator(p.Invalidator))
			}
			if p.Recorder != nil {
				opts = append(opts, WithRecorder(p.Recorder))
			}
			return NewEngine(p.Hub, opts...)
		},
		// [DECORATION_LAYER] outcome logging. Provided, not fx.Decorate'd: the
		// consumers live in other modules.
		func(e *Engine, logger *slog.Logger) Dispatcher {
			return NewLoggingMiddleware(e, logger)
		},
	),
)
