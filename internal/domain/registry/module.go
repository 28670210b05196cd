package registry

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/webitel/roster-push-service/config"
	"go.uber.org/fx"
)

type hubParams struct {
	fx.In

	Config   *config.Config
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Observer Observer `optional:"true"`
}

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(p hubParams) *Hub {
			opts := []Option{
				WithSweepInterval(p.Config.Registry.SweepInterval),
				WithIdleTimeout(p.Config.Registry.IdleTimeout),
				WithQueueSize(p.Config.Registry.QueueSize),
				WithMaxPerIdentity(p.Config.Registry.MaxPerIdentity),
				WithClock(p.Clock),
				WithLogger(p.Logger),
			}
			if p.Observer != nil {
				opts = append(opts, WithObserver(p.Observer))
			}
			return NewHub(opts...)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
		NewSweeper,
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber, s *Sweeper) {
		lc.Append(fx.Hook{
			OnStart: s.Start,
			OnStop: func(ctx context.Context) error {
				err := s.Stop(ctx)
				h.Shutdown() // [GRACEFUL_SHUTDOWN] close every transport
				return err
			},
		})
	}),
)
