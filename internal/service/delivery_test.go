package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/internal/domain/model"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

type chanSink struct {
	frames chan protocol.Frame
	fail   atomic.Bool
}

func newChanSink() *chanSink {
	return &chanSink{frames: make(chan protocol.Frame, 32)}
}

func (s *chanSink) Write(_ event.Eventer, frame []byte) error {
	if s.fail.Load() {
		return errors.New("broken pipe")
	}
	f, err := protocol.DecodeFrame(frame)
	if err != nil {
		return err
	}
	s.frames <- f
	return nil
}

func (s *chanSink) next(t *testing.T) protocol.Frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame written")
		return protocol.Frame{}
	}
}

type deliveryFixture struct {
	hub   *registry.Hub
	clock *clockwork.FakeClock
	svc   *DeliveryService
}

func newDeliveryFixture(t *testing.T) *deliveryFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	hub := registry.NewHub(registry.WithClock(clock), registry.WithQueueSize(8))
	t.Cleanup(hub.Shutdown)

	cfg := &config.Config{
		Service: config.ServiceConfig{Version: "test"},
		Stream:  config.StreamConfig{HeartbeatInterval: 30 * time.Second},
	}
	return &deliveryFixture{
		hub:   hub,
		clock: clock,
		svc:   NewDeliveryService(hub, clock, cfg, slog.New(slog.DiscardHandler)),
	}
}

func testIdentity() model.Identity {
	return model.Identity{SessionID: "s-1", UserID: "u-1", FacultyID: "f-1", Permissions: []string{"roster:read"}}
}

func TestSubscribe_RejectsAnonymous(t *testing.T) {
	f := newDeliveryFixture(t)
	_, err := f.svc.Subscribe(context.Background(), model.Identity{}, model.ConnectMetadata{})
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSubscribe_IdentityLimit(t *testing.T) {
	f := newDeliveryFixture(t)
	f.hub.SetMaxPerIdentity(1)

	_, err := f.svc.Subscribe(context.Background(), testIdentity(), model.ConnectMetadata{})
	require.NoError(t, err)
	_, err = f.svc.Subscribe(context.Background(), testIdentity(), model.ConnectMetadata{})
	require.ErrorIs(t, err, registry.ErrIdentityLimit)
}

func TestStream_ConnectedEventsAndHeartbeat(t *testing.T) {
	f := newDeliveryFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := f.svc.Subscribe(ctx, testIdentity(), model.ConnectMetadata{Transport: "sse"})
	require.NoError(t, err)

	sink := newChanSink()
	done := make(chan error, 1)
	go func() { done <- f.svc.Stream(ctx, conn, sink) }()

	assert.Equal(t, protocol.KindConnected, sink.next(t).Event)

	require.True(t, conn.Send(event.New(protocol.KindRecordChanged, protocol.PriorityNormal, map[string]string{"id": "r-1"})))
	assert.Equal(t, protocol.KindRecordChanged, sink.next(t).Event)

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(30 * time.Second)
	assert.Equal(t, protocol.KindHeartbeat, sink.next(t).Event)
	assert.Eventually(t, func() bool {
		return conn.GetLastSeenAt().Equal(f.clock.Now())
	}, time.Second, 5*time.Millisecond, "successful writes touch the record")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop")
	}
	_, ok := f.hub.Lookup(conn.GetID())
	assert.False(t, ok)
}

func TestStream_WriteFailureDeregisters(t *testing.T) {
	f := newDeliveryFixture(t)
	conn, err := f.svc.Subscribe(context.Background(), testIdentity(), model.ConnectMetadata{})
	require.NoError(t, err)

	sink := newChanSink()
	sink.fail.Store(true)

	err = f.svc.Stream(context.Background(), conn, sink)
	require.ErrorIs(t, err, ErrWriteFailed)

	_, ok := f.hub.Lookup(conn.GetID())
	assert.False(t, ok)
	assert.False(t, f.hub.IsConnected("u-1"))
}

func TestStream_InvalidationDrainsThenCloses(t *testing.T) {
	f := newDeliveryFixture(t)
	conn, err := f.svc.Subscribe(context.Background(), testIdentity(), model.ConnectMetadata{})
	require.NoError(t, err)

	require.True(t, conn.Send(event.New(protocol.KindRecordChanged, protocol.PriorityNormal, nil)))
	require.True(t, conn.Send(event.New(protocol.KindPermissionUpdated, protocol.PriorityHigh, nil)))
	conn.Invalidate("permission_updated")

	sink := newChanSink()
	err = f.svc.Stream(context.Background(), conn, sink)
	require.ErrorIs(t, err, model.ErrConnectionInvalidated)

	var kinds []protocol.Kind
	for len(sink.frames) > 0 {
		kinds = append(kinds, (<-sink.frames).Event)
	}
	assert.Equal(t, []protocol.Kind{
		protocol.KindConnected,
		protocol.KindRecordChanged,
		protocol.KindPermissionUpdated,
		protocol.KindDisconnected,
	}, kinds)

	_, ok := f.hub.Lookup(conn.GetID())
	assert.False(t, ok)
}

func TestStream_SkipsExpiredInQueue(t *testing.T) {
	f := newDeliveryFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := f.svc.Subscribe(ctx, testIdentity(), model.ConnectMetadata{})
	require.NoError(t, err)

	stale := event.New(protocol.KindRecordChanged, protocol.PriorityNormal, nil,
		event.WithOccurredAt(f.clock.Now()), event.WithTTL(5*time.Second))
	require.True(t, conn.Send(stale))
	f.clock.Advance(10 * time.Second)

	fresh := event.New(protocol.KindSystemAnnouncement, protocol.PriorityNormal, nil)
	require.True(t, conn.Send(fresh))

	sink := newChanSink()
	go func() { _ = f.svc.Stream(ctx, conn, sink) }()

	assert.Equal(t, protocol.KindConnected, sink.next(t).Event)
	got := sink.next(t)
	assert.Equal(t, fresh.GetID(), got.ID)
}
