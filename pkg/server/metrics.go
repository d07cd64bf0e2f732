package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/tengi/pkg/transport"
)

const (
	metricsNamespace = "tengi"
	metricsSubsystem = "server"
)

// Handshake results recorded by Metrics.
const (
	handshakeAccepted    = "accepted"
	handshakeRejected    = "rejected"
	handshakeIllegal     = "illegal_response"
	handshakeRateLimited = "rate_limited"
	handshakeFailed      = "failed"
)

// Metrics holds the server's Prometheus collectors.
//
// Metrics exposed:
//   - tengi_server_connections: Gauge of managed connections
//   - tengi_server_handshakes_total: Counter of handshakes by result
//   - tengi_server_messages_in_total: Counter of inbound messages by transport
//   - tengi_server_messages_out_total: Counter of outbound frames by transport
//   - tengi_server_frame_bytes: Histogram of frame sizes by transport and direction
//   - tengi_server_queue_evictions_total: Counter of expired polling entries
//   - tengi_server_errors_total: Counter of session errors by kind
type Metrics struct {
	connections    prometheus.Gauge
	handshakes     *prometheus.CounterVec
	messagesIn     *prometheus.CounterVec
	messagesOut    *prometheus.CounterVec
	frameBytes     *prometheus.HistogramVec
	queueEvictions prometheus.Counter
	errors         *prometheus.CounterVec
}

// NewMetrics registers the server collectors with registry. Registering
// twice with the same registry panics, as promauto does.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "connections",
			Help:      "Number of managed connections",
		}),

		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "handshakes_total",
			Help:      "Total handshakes by result",
		}, []string{"result"}),

		messagesIn: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_in_total",
			Help:      "Total inbound messages by transport",
		}, []string{"transport"}),

		messagesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "messages_out_total",
			Help:      "Total outbound frames by transport",
		}, []string{"transport"}),

		frameBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "frame_bytes",
			Help:      "Frame size in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8), // 64B to 1MiB
		}, []string{"transport", "direction"}),

		queueEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "queue_evictions_total",
			Help:      "Total polling queue entries dropped from the retention window",
		}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "errors_total",
			Help:      "Total session errors by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) connectionOpened() { m.connections.Inc() }

func (m *Metrics) connectionClosed() { m.connections.Dec() }

func (m *Metrics) handshake(result string) {
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) messageIn(tr transport.Transport) {
	m.messagesIn.WithLabelValues(tr.Name()).Inc()
}

// frame records one frame. Outbound frames also count as messages out.
func (m *Metrics) frame(tr transport.Transport, written bool, n int) {
	dir := "in"
	if written {
		dir = "out"
		m.messagesOut.WithLabelValues(tr.Name()).Inc()
	}
	m.frameBytes.WithLabelValues(tr.Name(), dir).Observe(float64(n))
}

func (m *Metrics) evicted(n int) { m.queueEvictions.Add(float64(n)) }

func (m *Metrics) error(err error) {
	m.errors.WithLabelValues(errorKind(err)).Inc()
}
