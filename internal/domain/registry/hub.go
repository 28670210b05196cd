/*
Package registry owns the set of live push connections.

Key Architectural Concepts:
  - Cells: every connected identity is represented by a Cell holding all of its
    transports, which is where the per-identity connection limit is enforced.
  - Snapshot-then-iterate: fanout works on a point-in-time copy, so a broadcast never
    holds the registry lock while it talks to slow consumers.
  - Staleness sweep: a periodic job evicts connections whose last_seen_at is older
    than the idle threshold and closes their transports.
*/
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/webitel/roster-push-service/internal/domain/model"
)

var (
	ErrIdentityLimit   = errors.New("registry: identity connection limit reached")
	ErrInvalidIdentity = errors.New("registry: connection has no identity")
	ErrDuplicate       = errors.New("registry: connection already registered")
	ErrShutdown        = errors.New("registry: shutting down")
)

// Close reasons reported to the Observer.
const (
	ReasonClosed      = "closed"
	ReasonStale       = "stale"
	ReasonShutdown    = "shutdown"
	ReasonWriteFailed = "write_failed"
	ReasonInvalidated = "invalidated"
)

// Observer receives registry lifecycle notifications.
type Observer interface {
	ConnectionOpened(conn model.Connector)
	ConnectionClosed(conn model.Connector, reason string)
	ConnectionRejected(userID string)
}

// Hubber defines the gateway for connection management.
type Hubber interface {
	Register(conn model.Connector) error
	Unregister(connID uuid.UUID, reason string) bool
	Touch(connID uuid.UUID) bool
	Lookup(connID uuid.UUID) (model.Connector, bool)
	IsConnected(userID string) bool
	Snapshot() []model.Connector
	Sweep(now time.Time, idle time.Duration) []model.Connector
	SetMaxPerIdentity(n int)
	MaxPerIdentity() int
	IdleTimeout() time.Duration
	SweepInterval() time.Duration
	QueueSize() int
	StartedAt() time.Time
	Shutdown()
}

type hubConfig struct {
	sweepInterval time.Duration
	idleTimeout   time.Duration
	queueSize     int
}

// Hub implements the [CONNECTION_REGISTRY].
type Hub struct {
	mu    sync.RWMutex
	cells map[string]*Cell
	conns map[uuid.UUID]model.Connector

	config         hubConfig
	maxPerIdentity atomic.Int64
	closed         bool

	clock     clockwork.Clock
	logger    *slog.Logger
	observer  Observer
	startedAt time.Time
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		cells: make(map[string]*Cell),
		conns: make(map[uuid.UUID]model.Connector),
		config: hubConfig{
			sweepInterval: 30 * time.Second,
			idleTimeout:   2 * time.Minute,
			queueSize:     64,
		},
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	h.maxPerIdentity.Store(5)

	for _, opt := range opts {
		opt(h)
	}
	h.startedAt = h.clock.Now()
	return h
}

func (h *Hub) MaxPerIdentity() int          { return int(h.maxPerIdentity.Load()) }
func (h *Hub) SetMaxPerIdentity(n int)      { h.maxPerIdentity.Store(int64(n)) }
func (h *Hub) IdleTimeout() time.Duration   { return h.config.idleTimeout }
func (h *Hub) SweepInterval() time.Duration { return h.config.sweepInterval }
func (h *Hub) QueueSize() int               { return h.config.queueSize }
func (h *Hub) StartedAt() time.Time         { return h.startedAt }
func (h *Hub) Clock() clockwork.Clock       { return h.clock }

// Register attaches a connection. A rejection is fatal to that attempt only.
func (h *Hub) Register(conn model.Connector) error {
	uID := conn.GetUserID()
	if uID == "" || conn.GetSessionID() == "" {
		return ErrInvalidIdentity
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrShutdown
	}
	if _, dup := h.conns[conn.GetID()]; dup {
		h.mu.Unlock()
		return ErrDuplicate
	}

	cell, ok := h.cells[uID]
	if !ok {
		// [LAZY_INIT] cell only exists while the identity has connections
		cell = NewCell(uID, h.clock.Now())
		h.cells[uID] = cell
	}

	if limit := h.MaxPerIdentity(); limit > 0 && cell.Len() >= limit {
		held := cell.Len()
		if held == 0 {
			delete(h.cells, uID)
		}
		h.mu.Unlock()

		if h.observer != nil {
			h.observer.ConnectionRejected(uID)
		}
		return fmt.Errorf("%w: user %s holds %d of %d", ErrIdentityLimit, uID, held, limit)
	}

	cell.Attach(conn, h.clock.Now())
	h.conns[conn.GetID()] = conn
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.ConnectionOpened(conn)
	}
	h.logger.Debug("CONNECTION_REGISTERED",
		slog.String("conn_id", conn.GetID().String()),
		slog.String("user_id", uID),
		slog.String("session_id", conn.GetSessionID()),
	)
	return nil
}

// Unregister performs [GRACEFUL_RECLAMATION]: the record leaves the registry and its
// transport is closed. Returns false if the connection was already gone.
func (h *Hub) Unregister(connID uuid.UUID, reason string) bool {
	h.mu.Lock()
	conn, ok := h.detachLocked(connID)
	h.mu.Unlock()

	if !ok {
		return false
	}
	h.release(conn, reason)
	return true
}

func (h *Hub) detachLocked(connID uuid.UUID) (model.Connector, bool) {
	conn, ok := h.conns[connID]
	if !ok {
		return nil, false
	}
	delete(h.conns, connID)

	if cell, ok := h.cells[conn.GetUserID()]; ok {
		if cell.Detach(connID, h.clock.Now()) {
			delete(h.cells, conn.GetUserID())
		}
	}
	return conn, true
}

func (h *Hub) release(conn model.Connector, reason string) {
	conn.Close()
	if h.observer != nil {
		h.observer.ConnectionClosed(conn, reason)
	}
	h.logger.Debug("CONNECTION_UNREGISTERED",
		slog.String("conn_id", conn.GetID().String()),
		slog.String("user_id", conn.GetUserID()),
		slog.String("reason", reason),
	)
}

func (h *Hub) Touch(connID uuid.UUID) bool {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()

	if ok {
		conn.Touch(h.clock.Now())
	}
	return ok
}

func (h *Hub) Lookup(connID uuid.UUID) (model.Connector, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[connID]
	return conn, ok
}

func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.cells[userID]
	return ok
}

// Snapshot returns a point-in-time copy of all records.
func (h *Hub) Snapshot() []model.Connector {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]model.Connector, 0, len(h.conns))
	for _, conn := range h.conns {
		out = append(out, conn)
	}
	return out
}

// Sweep evicts every record idle for longer than idle and closes its transport.
func (h *Hub) Sweep(now time.Time, idle time.Duration) []model.Connector {
	cutoff := now.Add(-idle)

	h.mu.Lock()
	var stale []model.Connector
	for id, conn := range h.conns {
		if conn.GetLastSeenAt().Before(cutoff) {
			if c, ok := h.detachLocked(id); ok {
				stale = append(stale, c)
			}
		}
	}
	h.mu.Unlock()

	// [OUTSIDE_LOCK] closing may wake writers that call back into the hub
	for _, conn := range stale {
		h.release(conn, ReasonStale)
	}
	if len(stale) > 0 {
		h.logger.Info("STALE_CONNECTIONS_EVICTED",
			slog.Int("count", len(stale)),
			slog.Duration("idle_threshold", idle),
		)
	}
	return stale
}

// Shutdown closes every connection and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	all := make([]model.Connector, 0, len(h.conns))
	for id := range h.conns {
		if c, ok := h.detachLocked(id); ok {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, conn := range all {
		h.release(conn, ReasonShutdown)
	}
	h.logger.Info("HUB_SHUTDOWN", slog.Int("closed_connections", len(all)))
}
