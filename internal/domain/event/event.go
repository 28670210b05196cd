package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

// Eventer defines the contract for all data packets flowing through the fanout engine.
type Eventer interface {
	GetID() string
	GetKind() protocol.Kind
	GetPriority() protocol.Priority
	GetTarget() Target
	GetOccurredAt() int64
	GetPayload() any
	// IsExpired reports whether the TTL elapsed before delivery.
	IsExpired(now time.Time) bool
	GetCached() []byte
	SetCached([]byte)
}

// Exportable defines an event that can be re-published to the message bus.
type Exportable interface {
	// GetRoutingKey returns an empty string when the event must stay local.
	GetRoutingKey() string
}

var (
	_ Eventer    = (*Event)(nil)
	_ Exportable = (*Event)(nil)
)

// Event is the concrete envelope for every domain notification.
type Event struct {
	id         string
	kind       protocol.Kind
	priority   protocol.Priority
	target     Target
	occurredAt time.Time
	expiresAt  time.Time // zero means no TTL
	payload    any

	// [WIRE_CACHE]
	// Encoded frame, written once by the fanout engine before the first enqueue
	// and only read afterwards by the per-connection pumps.
	cached []byte
}

// Option customizes an Event at construction time.
type Option func(*Event)

// WithID overrides the generated message id. Used when the collaborator already
// assigned one (AMQP redelivery keeps the same id so clients can dedup).
func WithID(id string) Option {
	return func(e *Event) {
		if id != "" {
			e.id = id
		}
	}
}

// WithTarget restricts delivery. Without it the event goes to every connection.
func WithTarget(t Target) Option {
	return func(e *Event) { e.target = t.normalize() }
}

// WithTTL drops the event if it cannot be delivered within d.
func WithTTL(d time.Duration) Option {
	return func(e *Event) {
		if d > 0 {
			e.expiresAt = e.occurredAt.Add(d)
		}
	}
}

// WithOccurredAt pins the creation time, mostly for deterministic tests.
func WithOccurredAt(t time.Time) Option {
	return func(e *Event) {
		ttl := time.Duration(0)
		if !e.expiresAt.IsZero() {
			ttl = e.expiresAt.Sub(e.occurredAt)
		}
		e.occurredAt = t
		if ttl > 0 {
			e.expiresAt = t.Add(ttl)
		}
	}
}

// New is a universal factory for creating any event.
func New(kind protocol.Kind, priority protocol.Priority, payload any, opts ...Option) *Event {
	e := &Event{
		id:         NewID(),
		kind:       kind,
		priority:   priority,
		occurredAt: time.Now(),
		payload:    payload,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewID returns a time-ordered globally unique message id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (e *Event) GetID() string                  { return e.id }
func (e *Event) GetKind() protocol.Kind         { return e.kind }
func (e *Event) GetPriority() protocol.Priority { return e.priority }
func (e *Event) GetTarget() Target              { return e.target }
func (e *Event) GetOccurredAt() int64           { return e.occurredAt.UnixMilli() }
func (e *Event) GetPayload() any                { return e.payload }
func (e *Event) GetCached() []byte              { return e.cached }
func (e *Event) SetCached(b []byte)             { e.cached = b }

// ExpiresAt returns the delivery deadline and whether one is set.
func (e *Event) ExpiresAt() (time.Time, bool) {
	return e.expiresAt, !e.expiresAt.IsZero()
}

func (e *Event) IsExpired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// GetRoutingKey generates the AMQP routing topic: roster.event.{kind}
func (e *Event) GetRoutingKey() string {
	if e.kind.IsSystem() {
		return ""
	}
	return RoutingKey(e.kind)
}

// RoutingKey is the topic a collaborator publishes a kind under.
func RoutingKey(kind protocol.Kind) string {
	return "roster.event." + kind.String()
}
