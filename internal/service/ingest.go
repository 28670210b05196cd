package service

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/webitel/roster-push-service/internal/domain/fanout"
	"github.com/webitel/roster-push-service/internal/service/dto"
)

// Ingestor turns collaborator requests into dispatched events.
type Ingestor interface {
	Ingest(ctx context.Context, req *dto.DispatchRequest) (fanout.Result, error)
}

type IngestService struct {
	dispatcher fanout.Dispatcher
	clock      clockwork.Clock
}

func NewIngestService(dispatcher fanout.Dispatcher, clock clockwork.Clock) *IngestService {
	return &IngestService{dispatcher: dispatcher, clock: clock}
}

func (s *IngestService) Ingest(ctx context.Context, req *dto.DispatchRequest) (fanout.Result, error) {
	ev, err := req.ToDomain(s.clock.Now())
	if err != nil {
		return fanout.Result{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return s.dispatcher.Dispatch(ctx, ev)
}
