package registry

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithSweepInterval configures how often the [JANITOR] job evicts stale connections.
func WithSweepInterval(d time.Duration) Option {
	return func(h *Hub) {
		h.config.sweepInterval = d
	}
}

// WithIdleTimeout defines the [STALENESS] threshold: a connection whose last_seen_at is
// older than this is evicted by the next sweep.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.config.idleTimeout = d
	}
}

// WithMaxPerIdentity bounds the concurrent connections a single user may hold.
func WithMaxPerIdentity(n int) Option {
	return func(h *Hub) {
		h.maxPerIdentity.Store(int64(n))
	}
}

// WithQueueSize sets the [BACKPRESSURE] threshold of every connection's outbound queue.
func WithQueueSize(size int) Option {
	return func(h *Hub) {
		h.config.queueSize = size
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(h *Hub) {
		h.clock = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// WithObserver attaches lifecycle callbacks (metrics).
func WithObserver(o Observer) Option {
	return func(h *Hub) {
		h.observer = o
	}
}
