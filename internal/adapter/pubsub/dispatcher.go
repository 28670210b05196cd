package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sony/gobreaker"
	"github.com/webitel/roster-push-service/infra/logging"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/internal/service/dto"
)

var ErrNilRequest = errors.New("event dispatcher: cannot publish nil request")

// EventDispatcher defines the high-level contract for outgoing events.
// This allows callers to stay agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, req *dto.DispatchRequest) error
	Publisher() message.Publisher
}

// eventDispatcher is the concrete implementation (private).
type eventDispatcher struct {
	publisher message.Publisher
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
}

// NewEventDispatcher returns the interface instead of the pointer to the struct.
// The publisher is guarded by a circuit breaker so a dead broker fails fast.
func NewEventDispatcher(pub message.Publisher, logger *slog.Logger) EventDispatcher {
	d := &eventDispatcher{
		publisher: pub,
		logger:    logger,
	}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amqp-publish",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("CIRCUIT_BREAKER_STATE_CHANGED",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return d
}

func (d *eventDispatcher) Publish(ctx context.Context, req *dto.DispatchRequest) error {
	if req == nil {
		return ErrNilRequest
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if req.ID == "" {
		req.ID = event.NewID()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if id, ok := logging.TraceID(ctx); ok {
		msg.Metadata.Set("trace_id", id)
	}

	topic := event.RoutingKey(req.Kind)
	_, err = d.breaker.Execute(func() (any, error) {
		return nil, d.publisher.Publish(topic, msg)
	})
	if err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", topic, err)
	}

	d.logger.DebugContext(ctx, "EVENT_PUBLISHED", "topic", topic, "event_id", req.ID)
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
