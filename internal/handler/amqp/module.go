package amqp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/roster-push-service/config"
	infrapubsub "github.com/webitel/roster-push-service/infra/pubsub"
	pubsubadapter "github.com/webitel/roster-push-service/internal/adapter/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		func(cfg *config.Config, logger watermill.LoggerAdapter) infrapubsub.Provider {
			return infrapubsub.NewAMQPProvider(cfg.AMQP.URL, logger)
		},
		pubsubadapter.NewPublisherProvider,
		pubsubadapter.NewSubscriberProvider,
		NewEventDispatcher,

		NewMessageHandler,
		NewWatermillRouter,
	),

	fx.Invoke(RegisterHandlers),
)

// NewEventDispatcher builds the publisher side used by the poison queue.
func NewEventDispatcher(cfg *config.Config, pp *pubsubadapter.PublisherProvider, logger *slog.Logger) (pubsubadapter.EventDispatcher, error) {
	pub, err := pp.Build(cfg.AMQP.Exchange)
	if err != nil {
		return nil, err
	}
	return pubsubadapter.NewEventDispatcher(pub, logger), nil
}

// NewWatermillRouter ties the router to the fx lifecycle.
func NewWatermillRouter(lc fx.Lifecycle, logger watermill.LoggerAdapter, slogger *slog.Logger) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("watermill router: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := router.Run(ctx); err != nil {
					slogger.Error("AMQP_ROUTER_STOPPED", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return router.Close()
		},
	})
	return router, nil
}

func RegisterHandlers(h *MessageHandler, router *message.Router, sp *pubsubadapter.SubscriberProvider) error {
	return h.RegisterHandlers(router, sp)
}
