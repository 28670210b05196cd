package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/internal/adapter/pubsub"
	"github.com/webitel/roster-push-service/internal/service"
	"go.opentelemetry.io/otel/trace"
)

type MessageHandler struct {
	logger     *slog.Logger
	ingestor   service.Ingestor
	dispatcher pubsub.EventDispatcher
	tracer     trace.Tracer
	cfg        config.AMQPConfig
}

func NewMessageHandler(
	logger *slog.Logger,
	ingestor service.Ingestor,
	dispatcher pubsub.EventDispatcher,
	tp trace.TracerProvider,
	cfg *config.Config,
) *MessageHandler {
	return &MessageHandler{
		logger:     logger,
		ingestor:   ingestor,
		dispatcher: dispatcher,
		tracer:     tp.Tracer("roster-push/amqp"),
		cfg:        cfg.AMQP,
	}
}

// [REGISTRATION_PIPELINE]
func (h *MessageHandler) RegisterHandlers(router *message.Router, subProvider *pubsub.SubscriberProvider) error {
	poison, err := middleware.PoisonQueue(h.dispatcher.Publisher(), h.cfg.PoisonTopic)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name       string
		exchange   string
		routingKey string
		handler    message.NoPublishHandlerFunc
	}{
		{"ON_EVENT_DISPATCH", h.cfg.Exchange, h.cfg.RoutingKey, Bind(h, h.OnDispatchV1)},
	}

	// [UNIQUE_NODE_QUEUE]
	// Each node binds its own queue, so every node fans out to the connections it holds.
	// Format: roster-push.ingest.b23a8f12.ON_EVENT_DISPATCH
	instanceID := uuid.NewString()[:8]

	for _, c := range configs {
		handlerQueue := fmt.Sprintf("%s.%s.%s", h.cfg.Queue, instanceID, c.name)

		sub, err := subProvider.Build(handlerQueue, c.exchange, c.routingKey)
		if err != nil {
			return err
		}

		router.AddConsumerHandler(c.name, c.routingKey, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			SpanMiddleware(h.tracer, c.name),
			LoggingMiddleware(h.logger),
			poison,
			NewRetryMiddleware(h.logger).Middleware,
			middleware.NewThrottle(500, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	h.logger.Info("AMQP_PIPELINE_READY", "exchange", h.cfg.Exchange, "routing_key", h.cfg.RoutingKey)
	return nil
}
