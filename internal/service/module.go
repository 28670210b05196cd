package service

import (
	"log/slog"
	"net/http"

	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/internal/domain/fanout"
	"go.uber.org/fx"
)

type identitySource interface {
	Auther
	fanout.IdentityInvalidator
}

func newIdentitySource(cfg *config.Config, logger *slog.Logger) identitySource {
	if cfg.Auth.Mode == "remote" {
		client := &http.Client{Timeout: cfg.Auth.Timeout}
		return NewRemoteAuther(cfg.Auth, client, logger)
	}
	return NewStaticAuther(cfg.Auth.StaticTokens)
}

type deliveryParams struct {
	fx.In

	Service  *DeliveryService
	Recorder StreamRecorder `optional:"true"`
}

var Module = fx.Module(
	"service",

	fx.Provide(
		newIdentitySource,
		// [DECORATION_LAYER] Intercept Auther to add cross-cutting concerns.
		// Handlers resolve Auther outside this module, so no fx.Decorate here.
		func(src identitySource, logger *slog.Logger) Auther {
			return &AutherMiddleware{
				Next:   src,
				Logger: logger,
			}
		},
		func(src identitySource) fanout.IdentityInvalidator { return src },

		// Domain services
		fx.Annotate(
			func(p deliveryParams) *DeliveryService {
				if p.Recorder != nil {
					p.Service.WithRecorder(p.Recorder)
				}
				return p.Service
			},
			fx.As(new(Deliverer)),
		),
		NewDeliveryService,
		fx.Annotate(
			NewAdminService,
			fx.As(new(Administrator)),
		),
		fx.Annotate(
			NewIngestService,
			fx.As(new(Ingestor)),
		),
	),
)
