package event

import (
	"github.com/webitel/roster-push-service/pkg/protocol"
)

// ConnectedPayload is sent to the client right after the handshake.
type ConnectedPayload struct {
	Ok            bool   `json:"ok"`
	ConnectionID  string `json:"connection_id"`
	ServerVersion string `json:"server_version"`
	// HeartbeatSeconds tells the client how often to expect liveness frames.
	HeartbeatSeconds int `json:"heartbeat_seconds"`
}

// DisconnectedPayload is the last frame before the server closes the stream.
type DisconnectedPayload struct {
	Reason string `json:"reason"`
	Code   string `json:"code,omitempty"` // "SHUTDOWN", "EVICTED", "INVALIDATED"
}

// HeartbeatPayload carries the server clock for drift diagnostics.
type HeartbeatPayload struct {
	ServerTime int64 `json:"server_time"`
}

// AnnouncementPayload is the body of system_announcement events.
type AnnouncementPayload struct {
	Message string `json:"message"`
	Test    bool   `json:"test,omitempty"`
}

func NewConnected(connID, version string, heartbeatSeconds int) *Event {
	return New(protocol.KindConnected, protocol.PriorityNormal, &ConnectedPayload{
		Ok:               true,
		ConnectionID:     connID,
		ServerVersion:    version,
		HeartbeatSeconds: heartbeatSeconds,
	})
}

func NewDisconnected(code, reason string) *Event {
	return New(protocol.KindDisconnected, protocol.PriorityHigh, &DisconnectedPayload{
		Reason: reason,
		Code:   code,
	})
}

func NewHeartbeat(serverTimeMillis int64) *Event {
	return New(protocol.KindHeartbeat, protocol.PriorityLow, &HeartbeatPayload{ServerTime: serverTimeMillis})
}
