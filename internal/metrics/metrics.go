// Package metrics defines the prometheus collectors the hubs report to.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Hub labels.
const (
	HubChat    = "chat"
	HubControl = "control"
	HubLobby   = "lobby"
	HubSignal  = "signal"
)

// Error reasons.
const (
	ReasonSend = "send"
	ReasonPing = "ping"
)

// Metrics is the set of collectors shared by every hub.
type Metrics struct {
	ActiveConnections *prometheus.GaugeVec
	Messages          *prometheus.CounterVec
	ControlEvents     *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	JoinLatency       prometheus.Histogram

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from each other.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Open websocket connections by hub and room.",
		}, []string{"hub", "room"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Chat messages broadcast by room.",
		}, []string{"room"}),
		ControlEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "control_events_total",
			Help: "Accepted playback control events by room and type.",
		}, []string{"room", "type"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_errors_total",
			Help: "Failed websocket sends by hub and reason.",
		}, []string{"hub", "reason"}),
		JoinLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "join_to_message_seconds",
			Help:    "Time from joining a chat room to sending the first message.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.Messages,
		m.ControlEvents,
		m.Errors,
		m.JoinLatency,
	)
	return m
}

// NewNop returns collectors registered with a private registry, for callers
// that do not expose metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Connected records a newly accepted connection.
func (m *Metrics) Connected(hub, room string) {
	m.ActiveConnections.WithLabelValues(hub, room).Inc()
}

// Disconnected records a connection whose receive loop has ended.
func (m *Metrics) Disconnected(hub, room string) {
	m.ActiveConnections.WithLabelValues(hub, room).Dec()
}

// SendFailed counts n failed sends for the hub.
func (m *Metrics) SendFailed(hub string, n int) {
	if n > 0 {
		m.Errors.WithLabelValues(hub, ReasonSend).Add(float64(n))
	}
}

// PingFailed counts a keepalive that could not be delivered.
func (m *Metrics) PingFailed(hub string) {
	m.Errors.WithLabelValues(hub, ReasonPing).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
