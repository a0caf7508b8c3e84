// Package metrics holds the prometheus collectors for the realtime gateway.
//
// All methods are safe to call on a nil *Metrics, so components can run
// without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// ActiveConnections is the number of admitted live connections.
	ActiveConnections prometheus.Gauge

	// OnlineUsers is the number of users with at least one connection.
	OnlineUsers prometheus.Gauge

	// PresenceTransitions counts 0->1 and 1->0 transitions.
	// Labels: status (online|offline)
	PresenceTransitions *prometheus.CounterVec

	// InboundEvents counts decoded client frames.
	// Labels: type, outcome (handled|ignored|malformed|failed)
	InboundEvents *prometheus.CounterVec

	// Deliveries counts per-connection writes.
	// Labels: result (ok|failed)
	Deliveries *prometheus.CounterVec

	// StoreErrors counts failed ephemeral store calls.
	// Labels: operation
	StoreErrors *prometheus.CounterVec

	// AuthRejections counts refused live-connection attempts.
	AuthRejections prometheus.Counter
}

// New creates all collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_realtime_active_connections",
			Help: "Number of live connections currently admitted to the hub",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "messenger_realtime_online_users",
			Help: "Number of users with at least one live connection on this instance",
		}),
		PresenceTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_realtime_presence_transitions_total",
			Help: "Presence transitions caused by first connect and last disconnect",
		}, []string{"status"}),
		InboundEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_realtime_inbound_events_total",
			Help: "Inbound client frames by event type and outcome",
		}, []string{"type", "outcome"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_realtime_deliveries_total",
			Help: "Per-connection outbound writes by result",
		}, []string{"result"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_realtime_store_errors_total",
			Help: "Failed ephemeral store operations",
		}, []string{"operation"}),
		AuthRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "messenger_realtime_auth_rejections_total",
			Help: "Live connection attempts refused by the session gate",
		}),
	}
}

func (m *Metrics) ConnectionOpened(firstForUser bool) {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
	if firstForUser {
		m.OnlineUsers.Inc()
		m.PresenceTransitions.WithLabelValues("online").Inc()
	}
}

func (m *Metrics) ConnectionClosed(lastForUser bool) {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
	if lastForUser {
		m.OnlineUsers.Dec()
		m.PresenceTransitions.WithLabelValues("offline").Inc()
	}
}

func (m *Metrics) Inbound(eventType, outcome string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.InboundEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Delivered(ok, failed int) {
	if m == nil {
		return
	}
	if ok > 0 {
		m.Deliveries.WithLabelValues("ok").Add(float64(ok))
	}
	if failed > 0 {
		m.Deliveries.WithLabelValues("failed").Add(float64(failed))
	}
}

func (m *Metrics) StoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) AuthRejected() {
	if m == nil {
		return
	}
	m.AuthRejections.Inc()
}
