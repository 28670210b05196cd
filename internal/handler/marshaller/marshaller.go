// Package marshaller frames encoded events for each push transport.
package marshaller

import (
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

// MarshallSSE wraps the shared frame JSON into one SSE event block.
func MarshallSSE(ev event.Eventer, frame []byte) []byte {
	return protocol.WrapSSE(ev.GetID(), ev.GetKind(), frame)
}

// MarshallWS returns the payload of one WebSocket text message. The frame is
// shared between connections and must not be modified.
func MarshallWS(_ event.Eventer, frame []byte) []byte {
	return frame
}
