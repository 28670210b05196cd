package ws

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/infra/server/httpserver/middleware"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/internal/domain/fanout"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"github.com/webitel/roster-push-service/internal/service"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

func TestWS_StreamsAndTouches(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	hub := registry.NewHub(registry.WithClock(clock))
	t.Cleanup(hub.Shutdown)

	cfg := &config.Config{Stream: config.StreamConfig{HeartbeatInterval: time.Hour, WriteTimeout: time.Second}}
	auther := service.NewStaticAuther([]config.StaticIdentity{
		{Token: "t-1", SessionID: "s-1", UserID: "u-1", Permissions: []string{"roster:read"}},
	})
	h := NewWSHandler(logger, service.NewDeliveryService(hub, clock, cfg, logger), auther,
		middleware.NewHandshakeLimiter(0, 0, 0), cfg.Stream.WriteTimeout)

	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?access_token=t-1"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	hello, err := protocol.DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindConnected, hello.Event)

	_, err = fanout.NewEngine(hub).Dispatch(context.Background(),
		event.New(protocol.KindRecordChanged, protocol.PriorityHigh, nil,
			event.WithTarget(event.Target{Permissions: []string{"roster:read"}})))
	require.NoError(t, err)

	_, data, err = c.ReadMessage()
	require.NoError(t, err)
	got, err := protocol.DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindRecordChanged, got.Event)
	assert.Equal(t, protocol.PriorityHigh, got.Priority)

	// inbound client heartbeat touches the record
	snap := hub.Snapshot()
	require.Len(t, snap, 1)
	clock.Advance(time.Minute)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"event":"heartbeat"}`)))
	assert.Eventually(t, func() bool {
		return snap[0].GetLastSeenAt().Equal(clock.Now())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return len(hub.Snapshot()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
