package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/webitel/roster-push-service/infra/server/httpserver/middleware"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/internal/domain/model"
	"github.com/webitel/roster-push-service/internal/handler/marshaller"
	"github.com/webitel/roster-push-service/internal/handler/render"
	"github.com/webitel/roster-push-service/internal/service"
)

const (
	TransportName = "ws"

	// inbound frames are only liveness signals
	maxInboundBytes = 1024
)

type WSHandler struct {
	logger       *slog.Logger
	deliverer    service.Deliverer
	auther       service.Auther
	limiter      *middleware.HandshakeLimiter
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

func NewWSHandler(
	logger *slog.Logger,
	deliverer service.Deliverer,
	auther service.Auther,
	limiter *middleware.HandshakeLimiter,
	writeTimeout time.Duration,
) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		auther:    auther,
		limiter:   limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// tokens travel in the query, the origin carries no credentials
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
	}
}

func (h *WSHandler) Mount(r chi.Router) {
	r.With(middleware.Authenticate(h.auther), h.limiter.Middleware).Get("/v1/ws", h.ServeHTTP)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. IDENTITY (resolved by the auth middleware)
	id, ok := service.IdentityFromContext(r.Context())
	if !ok {
		render.Error(w, service.ErrUnauthenticated)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 2. SUBSCRIBE VIA THE SAME SERVICE, before the upgrade so rejections keep their status
	conn, err := h.deliverer.Subscribe(ctx, *id, model.ConnectMetadata{
		Transport:   TransportName,
		RemoteIP:    r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		LastEventID: r.URL.Query().Get("last_event_id"),
	})
	if err != nil {
		render.Error(w, err)
		return
	}
	defer h.deliverer.Unsubscribe(conn.GetID())

	// 3. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer ws.Close()

	h.logger.InfoContext(ctx, "WS_OPENED", "user_id", id.UserID, "conn_id", conn.GetID())

	// 4. READ LOOP: client frames and pongs prove liveness
	go h.readLoop(ws, conn.GetID(), cancel)

	// 5. MAIN WS PUMP LOOP
	err = h.deliverer.Stream(ctx, conn, &sink{ws: ws, timeout: h.writeTimeout})

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	h.logger.InfoContext(ctx, "WS_CLOSED", "conn_id", conn.GetID(), "reason", err)
}

func (h *WSHandler) readLoop(ws *websocket.Conn, connID uuid.UUID, cancel context.CancelFunc) {
	// a read error means the peer is gone: stop the pump
	defer cancel()

	ws.SetReadLimit(maxInboundBytes)
	ws.SetPongHandler(func(string) error {
		h.deliverer.Touch(connID)
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		h.deliverer.Touch(connID)
	}
}

type sink struct {
	ws      *websocket.Conn
	timeout time.Duration
}

func (s *sink) Write(ev event.Eventer, frame []byte) error {
	if s.timeout > 0 {
		if err := s.ws.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return err
		}
	}
	return s.ws.WriteMessage(websocket.TextMessage, marshaller.MarshallWS(ev, frame))
}
