package service

import (
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/internal/domain/fanout"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
)

func TestModule_ResolvesLoggingDecorators(t *testing.T) {
	cfg := &config.Config{
		Registry: config.RegistryConfig{
			QueueSize:      8,
			MaxPerIdentity: 2,
			SweepInterval:  time.Minute,
			IdleTimeout:    2 * time.Minute,
		},
		Stream: config.StreamConfig{HeartbeatInterval: 30 * time.Second},
		Auth:   config.AuthConfig{Mode: "static"},
	}

	var (
		auther     Auther
		dispatcher fanout.Dispatcher
		ingestor   Ingestor
		admin      Administrator
	)
	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			func() *config.Config { return cfg },
			func() *slog.Logger { return slog.New(slog.DiscardHandler) },
			func() clockwork.Clock { return clockwork.NewFakeClock() },
			func() trace.TracerProvider { return noop.NewTracerProvider() },
		),
		registry.Module,
		fanout.Module,
		Module,
		fx.Populate(&auther, &dispatcher, &ingestor, &admin),
	)
	require.NoError(t, app.Err())

	// resolved from the root scope, as the HTTP handlers do
	assert.IsType(t, &AutherMiddleware{}, auther)
	assert.IsType(t, &fanout.LoggingMiddleware{}, dispatcher)

	require.IsType(t, &IngestService{}, ingestor)
	assert.IsType(t, &fanout.LoggingMiddleware{}, ingestor.(*IngestService).dispatcher)
	require.IsType(t, &AdminService{}, admin)
	assert.IsType(t, &fanout.LoggingMiddleware{}, admin.(*AdminService).dispatcher)
}
