// Package protocol defines the wire vocabulary shared by the push server and its clients:
// the closed set of event kinds, delivery priorities and the frame envelope.
package protocol

import "fmt"

// Kind is the tagged variant carried by every frame.
type Kind uint8

const (
	KindUnknown Kind = iota

	// [SYSTEM] produced by the service itself
	KindConnected
	KindDisconnected
	KindHeartbeat

	// [BUSINESS] raised by the roster application
	KindRecordChanged
	KindPermissionUpdated
	KindSessionRevoked
	KindSystemAnnouncement

	// KindCount is the size of the variant table; it must stay last.
	KindCount
)

var kindNames = [KindCount]string{
	KindUnknown:            "unknown",
	KindConnected:          "connected",
	KindDisconnected:       "disconnected",
	KindHeartbeat:          "heartbeat",
	KindRecordChanged:      "record_changed",
	KindPermissionUpdated:  "permission_updated",
	KindSessionRevoked:     "session_revoked",
	KindSystemAnnouncement: "system_announcement",
}

func (k Kind) String() string {
	if k >= KindCount {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// IsSystem reports whether the kind is reserved for frames the service emits on its own.
func (k Kind) IsSystem() bool {
	return k == KindConnected || k == KindDisconnected || k == KindHeartbeat
}

// Valid reports whether k is a known, non-zero kind.
func (k Kind) Valid() bool { return k > KindUnknown && k < KindCount }

// ParseKind resolves the wire name of a kind.
func ParseKind(s string) (Kind, error) {
	for k := KindUnknown + 1; k < KindCount; k++ {
		if kindNames[k] == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("protocol: unknown event kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("protocol: cannot marshal %s", k)
	}
	return []byte(kindNames[k]), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
