package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

var ErrInvalidDispatch = errors.New("invalid dispatch request")

// DispatchRequest is the collaborator contract shared by HTTP and AMQP ingestion.
type DispatchRequest struct {
	ID         string            `json:"id,omitempty"`
	Kind       protocol.Kind     `json:"kind"`
	Priority   protocol.Priority `json:"priority,omitempty"`
	Target     event.Target      `json:"target"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	TTLSeconds int               `json:"ttl_seconds,omitempty"`
	// OccurredAt is unix millis; zero means "now".
	OccurredAt int64 `json:"occurred_at,omitempty"`
}

func (d *DispatchRequest) Validate() error {
	switch {
	case !d.Kind.Valid():
		return fmt.Errorf("%w: unknown kind", ErrInvalidDispatch)
	case d.Kind.IsSystem():
		return fmt.Errorf("%w: kind %s is reserved", ErrInvalidDispatch, d.Kind)
	case d.TTLSeconds < 0:
		return fmt.Errorf("%w: negative ttl_seconds", ErrInvalidDispatch)
	case len(d.Payload) > 0 && !json.Valid(d.Payload):
		return fmt.Errorf("%w: payload is not valid json", ErrInvalidDispatch)
	}
	return nil
}

func (d *DispatchRequest) ToDomain(now time.Time) (*event.Event, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	priority := d.Priority
	if priority == 0 {
		priority = protocol.PriorityNormal
	}

	occurredAt := now
	if d.OccurredAt > 0 {
		occurredAt = time.UnixMilli(d.OccurredAt)
	}

	var payload any
	if len(d.Payload) > 0 {
		payload = d.Payload
	}

	return event.New(d.Kind, priority, payload,
		event.WithID(d.ID),
		event.WithTarget(d.Target),
		event.WithOccurredAt(occurredAt),
		event.WithTTL(time.Duration(d.TTLSeconds)*time.Second),
	), nil
}
