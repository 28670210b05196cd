package sse

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/webitel/roster-push-service/infra/server/httpserver/middleware"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/internal/domain/model"
	"github.com/webitel/roster-push-service/internal/handler/marshaller"
	"github.com/webitel/roster-push-service/internal/handler/render"
	"github.com/webitel/roster-push-service/internal/service"
)

const TransportName = "sse"

type SSEHandler struct {
	logger       *slog.Logger
	deliverer    service.Deliverer
	auther       service.Auther
	limiter      *middleware.HandshakeLimiter
	writeTimeout time.Duration
}

func NewSSEHandler(
	logger *slog.Logger,
	deliverer service.Deliverer,
	auther service.Auther,
	limiter *middleware.HandshakeLimiter,
	writeTimeout time.Duration,
) *SSEHandler {
	return &SSEHandler{
		logger:       logger,
		deliverer:    deliverer,
		auther:       auther,
		limiter:      limiter,
		writeTimeout: writeTimeout,
	}
}

func (h *SSEHandler) Mount(r chi.Router) {
	r.With(middleware.Authenticate(h.auther), h.limiter.Middleware).Get("/v1/stream", h.ServeHTTP)
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. IDENTITY (resolved by the auth middleware)
	id, ok := service.IdentityFromContext(r.Context())
	if !ok {
		render.Error(w, service.ErrUnauthenticated)
		return
	}

	rc := http.NewResponseController(w)

	// 2. SUBSCRIBE before committing the response, so rejections keep their status code
	conn, err := h.deliverer.Subscribe(r.Context(), *id, model.ConnectMetadata{
		Transport:   TransportName,
		RemoteIP:    r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		LastEventID: r.Header.Get("Last-Event-ID"),
	})
	if err != nil {
		render.Error(w, err)
		return
	}
	defer h.deliverer.Unsubscribe(conn.GetID())

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("SSE_FLUSH_UNSUPPORTED", "err", err)
		return
	}

	h.logger.InfoContext(r.Context(), "SSE_OPENED",
		"user_id", id.UserID,
		"conn_id", conn.GetID(),
		"last_event_id", r.Header.Get("Last-Event-ID"),
	)

	// 3. MAIN PUMP LOOP
	err = h.deliverer.Stream(r.Context(), conn, &sink{w: w, rc: rc, timeout: h.writeTimeout})
	h.logger.InfoContext(r.Context(), "SSE_CLOSED", "conn_id", conn.GetID(), "reason", err)
}

type sink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func (s *sink) Write(ev event.Eventer, frame []byte) error {
	if s.timeout > 0 {
		// not every ResponseWriter supports deadlines (tests, some proxies)
		_ = s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	if _, err := s.w.Write(marshaller.MarshallSSE(ev, frame)); err != nil {
		return err
	}
	return s.rc.Flush()
}
