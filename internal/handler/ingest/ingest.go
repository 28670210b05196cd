package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/webitel/roster-push-service/infra/server/httpserver/middleware"
	"github.com/webitel/roster-push-service/internal/handler/render"
	"github.com/webitel/roster-push-service/internal/service"
	"github.com/webitel/roster-push-service/internal/service/dto"
)

const maxBodyBytes = 1 << 20

// IngestHandler accepts collaborator events over HTTP.
type IngestHandler struct {
	ingestor service.Ingestor
	auther   service.Auther
}

func NewIngestHandler(ingestor service.Ingestor, auther service.Auther) *IngestHandler {
	return &IngestHandler{ingestor: ingestor, auther: auther}
}

func (h *IngestHandler) Mount(r chi.Router) {
	r.With(
		middleware.Authenticate(h.auther),
		middleware.RequirePermission(service.PermissionPublish),
	).Post("/v1/events", h.Dispatch)
}

func (h *IngestHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dto.DispatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		render.Error(w, fmt.Errorf("%w: %w", service.ErrInvalidRequest, err))
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), &req)
	if err != nil {
		render.Error(w, err)
		return
	}
	render.JSON(w, http.StatusAccepted, res)
}
