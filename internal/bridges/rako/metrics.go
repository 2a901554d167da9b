package rako

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "rakobridge"

// documentUnknown labels hub documents with an unrecognised name.
const documentUnknown = "unknown"

// Metrics holds the bridge's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
type Metrics struct {
	connected           prometheus.Gauge
	reconnects          prometheus.Counter
	documents           *prometheus.CounterVec
	framesDiscarded     prometheus.Counter
	commands            *prometheus.CounterVec
	publishErrors       prometheus.Counter
	watchdogExpirations prometheus.Counter
	rooms               prometheus.Gauge
	channels            prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "hub_connected",
			Help:      "Hub connection state (1=connected, 0=not connected).",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hub_reconnects_total",
			Help:      "Hub sessions established after the first one.",
		}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hub_documents_total",
			Help:      "Documents received from the hub, by name.",
		}, []string{"name"}),
		framesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hub_frames_discarded_total",
			Help:      "Inbound frames dropped as noise, malformed or oversized.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Bus commands processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mqtt_publish_errors_total",
			Help:      "Failed MQTT publishes.",
		}),
		watchdogExpirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hub_watchdog_expirations_total",
			Help:      "Keepalive status requests that went unanswered.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rooms",
			Help:      "Rooms reported by the hub.",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "channels",
			Help:      "Channels reported by the hub.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connected,
			m.reconnects,
			m.documents,
			m.framesDiscarded,
			m.commands,
			m.publishErrors,
			m.watchdogExpirations,
			m.rooms,
			m.channels,
		)
	}
	return m
}

func (m *Metrics) setConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) incReconnects() {
	if m != nil {
		m.reconnects.Inc()
	}
}

// incDocument counts a hub document. Names the translator does not handle
// share the "unknown" label so the hub cannot grow the series set.
func (m *Metrics) incDocument(name string) {
	if m == nil {
		return
	}
	switch name {
	case DocStatus, DocQueryRoom, DocQueryChannel, DocQueryLevel, DocTracker, DocFeedback:
	default:
		name = documentUnknown
	}
	m.documents.WithLabelValues(name).Inc()
}

func (m *Metrics) addFramesDiscarded(n uint64) {
	if m != nil && n > 0 {
		m.framesDiscarded.Add(float64(n))
	}
}

func (m *Metrics) incCommand(kind, outcome string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.commands.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) incPublishErrors() {
	if m != nil {
		m.publishErrors.Inc()
	}
}

func (m *Metrics) incWatchdogExpirations() {
	if m != nil {
		m.watchdogExpirations.Inc()
	}
}

func (m *Metrics) setRegistrySize(rooms, channels int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(rooms))
	m.channels.Set(float64(channels))
}
