package amqp

import (
	"context"
	"errors"
	"fmt"

	"github.com/webitel/roster-push-service/internal/service"
	"github.com/webitel/roster-push-service/internal/service/dto"
)

// [ON_DISPATCH]
// Hands a collaborator event to the local fanout. Every node consumes its own
// queue, so each one delivers to the connections it holds.
func (h *MessageHandler) OnDispatchV1(ctx context.Context, req *dto.DispatchRequest) error {
	res, err := h.ingestor.Ingest(ctx, req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			h.logger.WarnContext(ctx, "DISPATCH_REJECTED", "err", err, "event_id", req.ID)
			return nil // ACK: retrying an invalid request never helps.
		}
		// [ERROR_PROPAGATION] Returning error triggers Middleware logic.
		return fmt.Errorf("dispatch %s: %w", req.ID, err)
	}

	h.logger.DebugContext(ctx, "DISPATCH_CONSUMED",
		"event_id", req.ID,
		"kind", req.Kind.String(),
		"delivered", res.Delivered,
	)
	return nil
}
