package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jonboulle/clockwork"
	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/infra/logging"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
)

// ProvideLogLevel is shared with the config watcher so a reload can move it.
func ProvideLogLevel(cfg *config.Config) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(cfg.SlogLevel())
	return lv
}

func ProvideLogger(cfg *config.Config, lv *slog.LevelVar) *slog.Logger {
	logger := logging.New(os.Stdout, cfg.Log.Format, lv).With(
		"service", ServiceName,
		"version", cfg.Service.Version,
		"node", cfg.Service.ID,
	)
	slog.SetDefault(logger)
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

func ProvideClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

// ProvideTracerProvider samples dispatch and ingestion spans. Without an
// exporter the spans only carry trace context across AMQP hops.
func ProvideTracerProvider(lc fx.Lifecycle, cfg *config.Config) trace.TracerProvider {
	if !cfg.Tracing.Enabled {
		return noop.NewTracerProvider()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("service.namespace", ServiceNamespace),
			attribute.String("service.version", cfg.Service.Version),
			attribute.String("service.instance.id", cfg.Service.ID),
			attribute.String("deployment.environment", cfg.Service.Environment),
		)),
	)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return tp.Shutdown(ctx) },
	})
	return tp
}

// WatchConfig applies the hot-reloadable keys: log.level and registry.max_per_identity.
func WatchConfig(cfg *config.Config, logger *slog.Logger, lv *slog.LevelVar, hub registry.Hubber) {
	cfg.Watch(logger, func(next *config.Config) {
		lv.Set(next.SlogLevel())
		hub.SetMaxPerIdentity(next.Registry.MaxPerIdentity)
		logger.Info("CONFIG_APPLIED",
			"log_level", next.SlogLevel().String(),
			"max_per_identity", next.Registry.MaxPerIdentity,
		)
	})
}
