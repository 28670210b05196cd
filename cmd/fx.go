package cmd

import (
	"log/slog"

	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/infra/server/httpserver"
	"github.com/webitel/roster-push-service/internal/adapter/metrics"
	"github.com/webitel/roster-push-service/internal/domain/fanout"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"github.com/webitel/roster-push-service/internal/handler"
	amqpdi "github.com/webitel/roster-push-service/internal/handler/amqp"
	"github.com/webitel/roster-push-service/internal/service"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(cfg *config.Config) *fx.App {
	opts := []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogLevel,
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideClock,
			ProvideTracerProvider,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Invoke(WatchConfig),
		metrics.Module,
		registry.Module,
		fanout.Module,
		service.Module,
		handler.Module,
		httpserver.Module,
	}

	// [OPTIONAL_INGEST] the broker is only required when collaborators publish through it
	if cfg.AMQP.Enabled {
		opts = append(opts, amqpdi.Module)
	}

	return fx.New(opts...)
}
