// Package metrics exposes relay counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dogfight"

type Metrics struct {
	registry *prometheus.Registry

	roomsActive       prometheus.Gauge
	roomsCreated      prometheus.Counter
	matchesEnded      *prometheus.CounterVec
	ticksBroadcast    prometheus.Counter
	replaysStored     prometheus.Gauge
	spectatorsActive  prometheus.Gauge
	connectionsActive prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		roomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms currently held by the registry.",
		}),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created since process start.",
		}),
		matchesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_ended_total",
			Help:      "Started matches that ended, by reason.",
		}, []string{"reason"}),
		ticksBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_broadcast_total",
			Help:      "Live tick snapshots broadcast across all rooms.",
		}),
		replaysStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replays_stored",
			Help:      "Sealed replays held in memory.",
		}),
		spectatorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spectators_active",
			Help:      "Replay playback connections currently open.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Participant websocket connections currently open.",
		}),
	}
	m.registry.MustRegister(
		m.roomsActive,
		m.roomsCreated,
		m.matchesEnded,
		m.ticksBroadcast,
		m.replaysStored,
		m.spectatorsActive,
		m.connectionsActive,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

func (m *Metrics) RoomCreated() {
	if m == nil {
		return
	}
	m.roomsCreated.Inc()
	m.roomsActive.Inc()
}

func (m *Metrics) RoomRemoved() {
	if m == nil {
		return
	}
	m.roomsActive.Dec()
}

func (m *Metrics) MatchEnded(reason string) {
	if m == nil {
		return
	}
	m.matchesEnded.WithLabelValues(reason).Inc()
}

func (m *Metrics) TickBroadcast() {
	if m == nil {
		return
	}
	m.ticksBroadcast.Inc()
}

func (m *Metrics) ReplayStored() {
	if m == nil {
		return
	}
	m.replaysStored.Inc()
}

func (m *Metrics) SpectatorConnected() {
	if m == nil {
		return
	}
	m.spectatorsActive.Inc()
}

func (m *Metrics) SpectatorDisconnected() {
	if m == nil {
		return
	}
	m.spectatorsActive.Dec()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}
