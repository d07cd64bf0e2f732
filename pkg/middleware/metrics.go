package middleware

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/server"
)

// MetricsConfig configures Metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "tengi").
	Namespace string

	// Subsystem is the metrics subsystem (default: "listener").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for listener latency.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the collectors.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures Metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "tengi",
		Subsystem: "listener",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics collects Prometheus metrics about message listeners. It is also
// a connection.ConnectionListener and a connection.ExceptionListener; attach
// it to connections to track open connections and reported exceptions.
type Metrics struct {
	messagesTotal   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
	connections     *prometheus.GaugeVec
	exceptionsTotal *prometheus.CounterVec
}

// NewMetrics registers the collectors with the configured registry. It
// panics if they are already registered there.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_total",
			Help:        "Total number of messages handled by listeners",
			ConstLabels: config.ConstLabels,
		}, []string{"transport", "type", "status"}),

		messageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "message_duration_seconds",
			Help:        "Listener processing duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"transport"}),

		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections",
			Help:        "Number of open connections",
			ConstLabels: config.ConstLabels,
		}, []string{"transport"}),

		exceptionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "exceptions_total",
			Help:        "Total number of exceptions reported on connections",
			ConstLabels: config.ConstLabels,
		}, []string{"transport", "kind"}),
	}
}

// Middleware returns the listener middleware recording message counts and
// latency.
func (m *Metrics) Middleware() Middleware {
	return func(next connection.MessageListener) connection.MessageListener {
		return connection.MessageListenerFunc(func(c *connection.Connection, msg *protocol.Message) {
			tr := c.Transport().Name()
			start := time.Now()
			status := "panic"
			defer func() {
				m.messageDuration.WithLabelValues(tr).Observe(time.Since(start).Seconds())
				m.messagesTotal.WithLabelValues(tr, BodyType(msg), status).Inc()
			}()
			next.OnMessage(c, msg)
			status = "ok"
		})
	}
}

// OnConnect counts c as open.
func (m *Metrics) OnConnect(c *connection.Connection) {
	m.connections.WithLabelValues(c.Transport().Name()).Inc()
}

// OnDisconnect counts c as closed.
func (m *Metrics) OnDisconnect(c *connection.Connection) {
	m.connections.WithLabelValues(c.Transport().Name()).Dec()
}

// OnException counts err by kind.
func (m *Metrics) OnException(c *connection.Connection, err error) {
	m.exceptionsTotal.WithLabelValues(c.Transport().Name(), exceptionKind(err)).Inc()
}

// exceptionKind keeps the exception label bounded.
func exceptionKind(err error) string {
	var panicErr *connection.ListenerPanicError
	switch {
	case errors.As(err, &panicErr):
		return "listener_panic"
	case errors.Is(err, connection.ErrConnectionDestroyed):
		return "closed"
	case server.IsDecodeError(err):
		return "decode"
	}
	return "other"
}
