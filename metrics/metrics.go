package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omdarshan-4964/CodeStream/domain"
)

const namespace = "codestream"

// Metrics owns a private prometheus registry so several relays (and tests)
// can run in one process without colliding on the default registry.
type Metrics struct {
	registry *prometheus.Registry

	rooms          *prometheus.GaugeVec
	connections    *prometheus.GaugeVec
	relayed        *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	protocolErrors *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	forced         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}, []string{"variant"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Connections currently joined to a room.",
		}, []string{"variant"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_relayed_total",
			Help:      "Events accepted for fan-out.",
		}, []string{"variant", "kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Single deliveries dropped because the target queue was full or closed.",
		}, []string{"variant"}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Inbound frames discarded as malformed or unknown.",
		}, []string{"variant"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections closed at admission without a room identifier.",
		}, []string{"variant"}),
		forced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_disconnects_total",
			Help:      "Connections closed by the server after repeated send failures.",
		}, []string{"variant"}),
	}

	m.registry.MustRegister(
		m.rooms, m.connections, m.relayed, m.dropped,
		m.protocolErrors, m.rejected, m.forced,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Recorder returns the collectors curried for one protocol variant.
func (m *Metrics) Recorder(variant string) *Recorder {
	labels := prometheus.Labels{"variant": variant}
	return &Recorder{
		rooms:          m.rooms.With(labels),
		connections:    m.connections.With(labels),
		relayed:        m.relayed.MustCurryWith(labels),
		dropped:        m.dropped.With(labels),
		protocolErrors: m.protocolErrors.With(labels),
		rejected:       m.rejected.With(labels),
		forced:         m.forced.With(labels),
	}
}

// Recorder is safe to use as a nil pointer; every method is then a no-op.
type Recorder struct {
	rooms          prometheus.Gauge
	connections    prometheus.Gauge
	relayed        *prometheus.CounterVec
	dropped        prometheus.Counter
	protocolErrors prometheus.Counter
	rejected       prometheus.Counter
	forced         prometheus.Counter
}

func (r *Recorder) RoomOpened() {
	if r != nil {
		r.rooms.Inc()
	}
}

func (r *Recorder) RoomClosed() {
	if r != nil {
		r.rooms.Dec()
	}
}

func (r *Recorder) Joined() {
	if r != nil {
		r.connections.Inc()
	}
}

func (r *Recorder) Left() {
	if r != nil {
		r.connections.Dec()
	}
}

func (r *Recorder) Relayed(kind domain.Kind) {
	if r != nil {
		r.relayed.WithLabelValues(string(kind)).Inc()
	}
}

func (r *Recorder) Dropped() {
	if r != nil {
		r.dropped.Inc()
	}
}

func (r *Recorder) ProtocolError() {
	if r != nil {
		r.protocolErrors.Inc()
	}
}

func (r *Recorder) Rejected() {
	if r != nil {
		r.rejected.Inc()
	}
}

func (r *Recorder) ForcedDisconnect() {
	if r != nil {
		r.forced.Inc()
	}
}
