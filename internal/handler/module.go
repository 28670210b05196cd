// Package handler wires the HTTP transports into the server route group.
package handler

import (
	"log/slog"

	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/infra/server/httpserver"
	"github.com/webitel/roster-push-service/infra/server/httpserver/middleware"
	"github.com/webitel/roster-push-service/internal/handler/admin"
	"github.com/webitel/roster-push-service/internal/handler/ingest"
	"github.com/webitel/roster-push-service/internal/handler/sse"
	"github.com/webitel/roster-push-service/internal/handler/ws"
	"github.com/webitel/roster-push-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("http-handler",
	fx.Provide(
		func(cfg *config.Config) *middleware.HandshakeLimiter {
			return middleware.NewHandshakeLimiter(cfg.Stream.ConnectRate, cfg.Stream.ConnectBurst, 0)
		},
		httpserver.AsRoute(func(l *slog.Logger, d service.Deliverer, a service.Auther, lim *middleware.HandshakeLimiter, cfg *config.Config) *sse.SSEHandler {
			return sse.NewSSEHandler(l, d, a, lim, cfg.Stream.WriteTimeout)
		}),
		httpserver.AsRoute(func(l *slog.Logger, d service.Deliverer, a service.Auther, lim *middleware.HandshakeLimiter, cfg *config.Config) *ws.WSHandler {
			return ws.NewWSHandler(l, d, a, lim, cfg.Stream.WriteTimeout)
		}),
		httpserver.AsRoute(admin.NewAdminHandler),
		httpserver.AsRoute(ingest.NewIngestHandler),
	),
)
