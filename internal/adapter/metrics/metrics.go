// Package metrics exposes connection, dispatch and delivery counters to prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/webitel/roster-push-service/internal/domain/fanout"
	"github.com/webitel/roster-push-service/internal/domain/model"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

const namespace = "roster_push"

// Metrics implements the registry, fanout and delivery observer hooks.
type Metrics struct {
	ConnectionsActive   *prometheus.GaugeVec
	ConnectionsOpened   *prometheus.CounterVec
	ConnectionsClosed   *prometheus.CounterVec
	ConnectionsRejected prometheus.Counter

	EventsDispatched *prometheus.CounterVec
	FanoutMatched    prometheus.Histogram
	EventsDelivered  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec

	FramesWritten *prometheus.CounterVec
	FramesExpired *prometheus.CounterVec
}

// New creates and registers all metrics on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of registered push connections, by transport.",
		}, []string{"transport"}),
		ConnectionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "opened_total",
			Help:      "Total number of registered push connections, by transport.",
		}, []string{"transport"}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "closed_total",
			Help:      "Total number of deregistered push connections, by reason.",
		}, []string{"reason"}),
		ConnectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "rejected_total",
			Help:      "Total number of registrations refused by the per-identity limit.",
		}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "events_total",
			Help:      "Total number of dispatched events, by kind.",
		}, []string{"kind"}),
		FanoutMatched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "matched_connections",
			Help:      "Connections matched per dispatched event.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "delivered_total",
			Help:      "Total number of per-connection enqueues, by kind.",
		}, []string{"kind"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dropped_total",
			Help:      "Total number of per-connection drops, by kind and cause.",
		}, []string{"kind", "cause"}),
		FramesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_written_total",
			Help:      "Total number of frames written to transports, by kind.",
		}, []string{"kind"}),
		FramesExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_expired_total",
			Help:      "Total number of queued frames discarded at write time for an elapsed TTL.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.ConnectionsActive, m.ConnectionsOpened, m.ConnectionsClosed, m.ConnectionsRejected,
		m.EventsDispatched, m.FanoutMatched, m.EventsDelivered, m.EventsDropped,
		m.FramesWritten, m.FramesExpired,
	)
	return m
}

func (m *Metrics) ConnectionOpened(conn model.Connector) {
	t := conn.GetMetadata().Transport
	m.ConnectionsActive.WithLabelValues(t).Inc()
	m.ConnectionsOpened.WithLabelValues(t).Inc()
}

func (m *Metrics) ConnectionClosed(conn model.Connector, reason string) {
	m.ConnectionsActive.WithLabelValues(conn.GetMetadata().Transport).Dec()
	m.ConnectionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnectionRejected(string) {
	m.ConnectionsRejected.Inc()
}

func (m *Metrics) Dispatched(kind protocol.Kind, res fanout.Result) {
	k := kind.String()
	m.EventsDispatched.WithLabelValues(k).Inc()
	m.FanoutMatched.Observe(float64(res.Matched))
	m.EventsDelivered.WithLabelValues(k).Add(float64(res.Delivered))
	if expired := res.Expired; expired > 0 {
		m.EventsDropped.WithLabelValues(k, "expired").Add(float64(expired))
	}
	if full := res.Dropped - res.Expired; full > 0 {
		m.EventsDropped.WithLabelValues(k, "backpressure").Add(float64(full))
	}
}

func (m *Metrics) FrameWritten(kind protocol.Kind) {
	m.FramesWritten.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) FrameExpired(kind protocol.Kind) {
	m.FramesExpired.WithLabelValues(kind.String()).Inc()
}
