package model

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/roster-push-service/internal/domain/event"
)

var (
	// ErrConnectionClosed is returned by Next once the connection is torn down.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrConnectionInvalidated is returned by Next after the queue was drained
	// following an invalidation (permission change, revoked session).
	ErrConnectionInvalidated = errors.New("connection invalidated")
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/FANOUT/TRANSPORT)
type Connector interface {
	event.Recipient

	GetID() uuid.UUID
	GetPermissions() []string
	GetCreatedAt() time.Time
	GetLastSeenAt() time.Time
	GetMetadata() ConnectMetadata

	// Touch records activity (successful write or inbound heartbeat).
	Touch(now time.Time)

	// Send enqueues ev without blocking. false means ev was dropped.
	Send(ev event.Eventer) bool
	// Next pops the oldest queued event, waiting until one is available.
	Next(ctx context.Context) (event.Eventer, error)
	// Pop returns a queued event without waiting.
	Pop() (event.Eventer, bool)
	// Ready fires when new events were queued.
	Ready() <-chan struct{}
	QueueLen() int
	Dropped() uint64

	// Invalidate lets the writer drain what is queued and then stop.
	Invalidate(reason string)
	Invalidated() (string, bool)

	Done() <-chan struct{}
	Close()
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Transport string
	RemoteIP  string
	UserAgent string
	// LastEventID is the resumption hint sent by a reconnecting client.
	LastEventID string
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id          uuid.UUID
	identity    Identity
	permissions []string
	metadata    ConnectMetadata
	createdAt   time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	queue *outbox

	closeOnce sync.Once

	// [ATOMIC_FIELDS]
	lastSeenAt   atomic.Int64
	droppedCount atomic.Uint64
	invalidated  atomic.Pointer[string]
}

// NewConnector builds a connection record for an authenticated identity.
// The identity is copied so later changes on the caller side never leak in.
func NewConnector(ctx context.Context, id Identity, meta ConnectMetadata, queueSize int, now time.Time) Connector {
	childCtx, cancel := context.WithCancel(ctx)

	c := &connect{
		id:          uuid.New(),
		identity:    id,
		permissions: slices.Clone(id.Permissions),
		metadata:    meta,
		createdAt:   now,
		ctx:         childCtx,
		cancelFn:    cancel,
		queue:       newOutbox(queueSize),
	}
	c.identity.Permissions = c.permissions
	c.lastSeenAt.Store(now.UnixNano())
	return c
}

// --- IMPLEMENTATION OF CONNECTOR INTERFACE ---

func (c *connect) GetID() uuid.UUID             { return c.id }
func (c *connect) GetSessionID() string         { return c.identity.SessionID }
func (c *connect) GetUserID() string            { return c.identity.UserID }
func (c *connect) GetFacultyID() string         { return c.identity.FacultyID }
func (c *connect) GetPermissions() []string     { return slices.Clone(c.permissions) }
func (c *connect) GetCreatedAt() time.Time      { return c.createdAt }
func (c *connect) GetMetadata() ConnectMetadata { return c.metadata }
func (c *connect) Ready() <-chan struct{}       { return c.queue.ready }
func (c *connect) QueueLen() int                { return c.queue.len() }
func (c *connect) Dropped() uint64              { return c.droppedCount.Load() }
func (c *connect) Done() <-chan struct{}        { return c.ctx.Done() }

func (c *connect) HasPermission(p string) bool {
	return slices.Contains(c.permissions, p)
}

func (c *connect) GetLastSeenAt() time.Time {
	return time.Unix(0, c.lastSeenAt.Load())
}

func (c *connect) Touch(now time.Time) {
	ts := now.UnixNano()
	for {
		cur := c.lastSeenAt.Load()
		if ts <= cur || c.lastSeenAt.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// Send applies the outbox drop policy. Each evicted or rejected event counts as dropped.
func (c *connect) Send(ev event.Eventer) bool {
	// [LIFECYCLE_GATE] Nothing is queued on a dead or invalidated transport.
	if c.ctx.Err() != nil {
		c.droppedCount.Add(1)
		return false
	}
	if _, gone := c.Invalidated(); gone {
		c.droppedCount.Add(1)
		return false
	}

	ok, evicted := c.queue.push(ev)
	if !ok || evicted != nil {
		c.droppedCount.Add(1)
	}
	return ok
}

func (c *connect) Pop() (event.Eventer, bool) {
	return c.queue.pop()
}

func (c *connect) Next(ctx context.Context) (event.Eventer, error) {
	for {
		if ev, ok := c.queue.pop(); ok {
			return ev, nil
		}
		if _, gone := c.Invalidated(); gone {
			return nil, ErrConnectionInvalidated
		}
		select {
		case <-c.queue.ready:
		case <-c.ctx.Done():
			return nil, ErrConnectionClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *connect) Invalidate(reason string) {
	if c.invalidated.CompareAndSwap(nil, &reason) {
		// wake the writer so it notices after draining
		c.queue.mu.Lock()
		c.queue.wake()
		c.queue.mu.Unlock()
	}
}

func (c *connect) Invalidated() (string, bool) {
	if r := c.invalidated.Load(); r != nil {
		return *r, true
	}
	return "", false
}

// Close terminates the session. Safe to call from the registry (eviction),
// the transport handler (defer) and shutdown concurrently.
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		// 1. [SIGNAL_ABORT] stop pending Next calls and the writer loop
		c.cancelFn()
		// 2. [MEMORY_SANITIZATION] release queued payloads
		c.queue.clear()
	})
}
