package event

import (
	"encoding/json"
	"fmt"

	"github.com/webitel/roster-push-service/pkg/protocol"
)

// ToFrame maps a domain event to its wire envelope.
func ToFrame(ev Eventer) (protocol.Frame, error) {
	f := protocol.Frame{
		ID:       ev.GetID(),
		Event:    ev.GetKind(),
		Priority: ev.GetPriority(),
		SentAt:   ev.GetOccurredAt(),
	}
	if p := ev.GetPayload(); p != nil {
		raw, err := json.Marshal(p)
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("event %s: marshal payload: %w", ev.GetID(), err)
		}
		f.Payload = raw
	}
	return f, nil
}

// Encode returns the JSON frame of ev, computing it at most once per event.
func Encode(ev Eventer) ([]byte, error) {
	if cached := ev.GetCached(); cached != nil {
		return cached, nil
	}
	f, err := ToFrame(ev)
	if err != nil {
		return nil, err
	}
	data, err := protocol.EncodeFrame(f)
	if err != nil {
		return nil, fmt.Errorf("event %s: encode frame: %w", ev.GetID(), err)
	}
	ev.SetCached(data)
	return data, nil
}
