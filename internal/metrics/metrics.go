package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the chat core's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	MessagesTotal         *prometheus.CounterVec
	BroadcastsTotal       prometheus.Counter
	VoiceRelayBytesTotal  prometheus.Counter
	ConnectedParticipants prometheus.Gauge
}

// New creates and registers the chat metrics on a private registry so
// multiple instances (tests, embedded use) never collide.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adminchat",
			Name:      "messages_total",
			Help:      "Persisted chat messages by kind.",
		}, []string{"kind"}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adminchat",
			Name:      "broadcasts_total",
			Help:      "Events fanned out to room members.",
		}),
		VoiceRelayBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "adminchat",
			Name:      "voice_relay_bytes_total",
			Help:      "Voice payload bytes relayed through the hub.",
		}),
		ConnectedParticipants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "adminchat",
			Name:      "connected_participants",
			Help:      "Participants currently joined to the room.",
		}),
	}

	registry.MustRegister(
		m.MessagesTotal,
		m.BroadcastsTotal,
		m.VoiceRelayBytesTotal,
		m.ConnectedParticipants,
	)
	return m
}

// Handler returns the HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
