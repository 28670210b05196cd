package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/internal/domain/model"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

// Sink is the transport side of one push stream (SSE response, WebSocket).
type Sink interface {
	// Write pushes one encoded frame. Implementations apply their own write deadline.
	Write(ev event.Eventer, frame []byte) error
}

// StreamRecorder receives per-frame outcomes of the delivery pump.
type StreamRecorder interface {
	FrameWritten(kind protocol.Kind)
	FrameExpired(kind protocol.Kind)
}

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (SSE/Websocket)
type Deliverer interface {
	Subscribe(ctx context.Context, identity model.Identity, meta model.ConnectMetadata) (model.Connector, error)
	Unsubscribe(connID uuid.UUID)
	// Stream pumps the connection queue into sink until the transport, the
	// connection or ctx ends. Always leaves the connection deregistered.
	Stream(ctx context.Context, conn model.Connector, sink Sink) error
	// Touch records inbound activity (client heartbeat, pong).
	Touch(connID uuid.UUID)
}

type DeliveryService struct {
	hub      registry.Hubber
	clock    clockwork.Clock
	logger   *slog.Logger
	recorder StreamRecorder

	heartbeat time.Duration
	version   string
}

func NewDeliveryService(hub registry.Hubber, clock clockwork.Clock, cfg *config.Config, logger *slog.Logger) *DeliveryService {
	return &DeliveryService{
		hub:       hub,
		clock:     clock,
		logger:    logger,
		heartbeat: cfg.Stream.HeartbeatInterval,
		version:   cfg.Service.Version,
	}
}

// WithRecorder attaches pump metrics.
func (s *DeliveryService) WithRecorder(r StreamRecorder) *DeliveryService {
	s.recorder = r
	return s
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *DeliveryService) Subscribe(ctx context.Context, identity model.Identity, meta model.ConnectMetadata) (model.Connector, error) {
	if !identity.Valid() {
		return nil, ErrUnauthenticated
	}

	// 1. The connector lives as long as the transport request
	conn := model.NewConnector(ctx, identity, meta, s.hub.QueueSize(), s.clock.Now())

	// 2. Attach to the registry; a rejection only affects this attempt
	if err := s.hub.Register(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// [UNSUBSCRIBE] TRIGGERS CLEANUP OF THE RECORD AND ITS QUEUE
func (s *DeliveryService) Unsubscribe(connID uuid.UUID) {
	s.hub.Unregister(connID, registry.ReasonClosed)
}

func (s *DeliveryService) Touch(connID uuid.UUID) {
	s.hub.Touch(connID)
}

func (s *DeliveryService) Stream(ctx context.Context, conn model.Connector, sink Sink) error {
	ticker := s.clock.NewTicker(s.heartbeat)
	defer ticker.Stop()

	hello := event.NewConnected(conn.GetID().String(), s.version, int(s.heartbeat/time.Second))
	if err := s.write(conn, sink, hello); err != nil {
		return s.fail(conn, err)
	}

	for {
		if err := s.drain(conn, sink); err != nil {
			return s.fail(conn, err)
		}

		// [INVALIDATION] the queue is empty, nothing queued before the change is lost
		if reason, gone := conn.Invalidated(); gone {
			if err := s.drain(conn, sink); err != nil {
				return s.fail(conn, err)
			}
			_ = s.write(conn, sink, event.NewDisconnected("INVALIDATED", reason))
			s.hub.Unregister(conn.GetID(), registry.ReasonInvalidated)
			return model.ErrConnectionInvalidated
		}

		select {
		case <-conn.Ready():
		case <-ticker.Chan():
			if err := s.write(conn, sink, event.NewHeartbeat(s.clock.Now().UnixMilli())); err != nil {
				return s.fail(conn, err)
			}
		case <-conn.Done():
			// evicted, shut down, or the transport request ended
			s.hub.Unregister(conn.GetID(), registry.ReasonClosed)
			return model.ErrConnectionClosed
		case <-ctx.Done():
			s.hub.Unregister(conn.GetID(), registry.ReasonClosed)
			return ctx.Err()
		}
	}
}

func (s *DeliveryService) drain(conn model.Connector, sink Sink) error {
	for {
		ev, ok := conn.Pop()
		if !ok {
			return nil
		}
		// [TTL_GUARD] an event may outlive its deadline while queued
		if ev.IsExpired(s.clock.Now()) {
			if s.recorder != nil {
				s.recorder.FrameExpired(ev.GetKind())
			}
			s.logger.Debug("EVENT_EXPIRED_IN_QUEUE",
				slog.String("conn_id", conn.GetID().String()),
				slog.String("event_id", ev.GetID()),
			)
			continue
		}
		if err := s.write(conn, sink, ev); err != nil {
			return err
		}
	}
}

func (s *DeliveryService) write(conn model.Connector, sink Sink, ev event.Eventer) error {
	frame, err := event.Encode(ev)
	if err != nil {
		// a single unencodable event never kills the stream
		s.logger.Error("EVENT_ENCODE_FAILED", slog.String("event_id", ev.GetID()), slog.Any("err", err))
		return nil
	}
	if err := sink.Write(ev, frame); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	// [LIVENESS] a successful write proves the consumer is still there
	conn.Touch(s.clock.Now())
	if s.recorder != nil {
		s.recorder.FrameWritten(ev.GetKind())
	}
	return nil
}

// fail deregisters the owning record right away: the transport is broken.
func (s *DeliveryService) fail(conn model.Connector, err error) error {
	if errors.Is(err, ErrWriteFailed) {
		s.logger.Warn("STREAM_WRITE_FAILED",
			slog.String("conn_id", conn.GetID().String()),
			slog.String("user_id", conn.GetUserID()),
			slog.Any("err", err),
		)
	}
	s.hub.Unregister(conn.GetID(), registry.ReasonWriteFailed)
	return err
}
