package admin

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/webitel/roster-push-service/infra/server/httpserver/middleware"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/internal/handler/render"
	"github.com/webitel/roster-push-service/internal/service"
)

// BroadcastRequest is the body of POST /v1/admin/broadcast.
type BroadcastRequest struct {
	Target  event.Target `json:"target"`
	Message string       `json:"message"`
}

type CleanupResponse struct {
	Evicted int `json:"evicted"`
}

type AdminHandler struct {
	admin  service.Administrator
	auther service.Auther
}

func NewAdminHandler(admin service.Administrator, auther service.Auther) *AdminHandler {
	return &AdminHandler{admin: admin, auther: auther}
}

func (h *AdminHandler) Mount(r chi.Router) {
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(middleware.Authenticate(h.auther), middleware.RequirePermission(service.PermissionAdmin))
		r.Get("/stats", h.Stats)
		r.Post("/cleanup", h.Cleanup)
		r.Post("/broadcast", h.Broadcast)
	})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	render.JSON(w, http.StatusOK, h.admin.Stats())
}

func (h *AdminHandler) Cleanup(w http.ResponseWriter, _ *http.Request) {
	render.JSON(w, http.StatusOK, CleanupResponse{Evicted: h.admin.Cleanup()})
}

func (h *AdminHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		render.Error(w, fmt.Errorf("%w: %w", service.ErrInvalidRequest, err))
		return
	}

	res, err := h.admin.TestBroadcast(r.Context(), req.Target, req.Message)
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusOK, res)
}
