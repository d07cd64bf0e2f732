package server

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

// Config holds configuration for a Server. Build it with DefaultConfig and
// Options; New validates it.
type Config struct {
	// Transports are the front doors to open. TCP gets its own listener;
	// WebSocket and both HTTP polling transports share the HTTP listener.
	// Default: TCP, WebSocket, HTTP polling and HTTP long-polling.
	Transports []transport.Transport

	// Host is the interface to bind.
	// Default: "" (all interfaces).
	Host string

	// TCPPort is the raw TCP listener port. Zero picks a free port.
	// Default: 8080.
	TCPPort int

	// HTTPPort is the HTTP listener port serving /channel, /websocket,
	// /metrics and /healthz. Zero picks a free port.
	// Default: 8081.
	HTTPPort int

	// TLS enables TLS on both listeners when set.
	// Default: nil.
	TLS *tls.Config

	// HandshakeHandler decides whether a handshake is accepted.
	// Default: AcceptAll.
	HandshakeHandler HandshakeHandler

	// Protocol is the type registry used on every connection.
	// Default: a Protocol with only the built-in types.
	Protocol *protocol.Protocol

	// Logger receives structured server logs.
	// Default: zap.NewNop().
	Logger *zap.Logger

	// Registerer receives the server's Prometheus collectors. /metrics is
	// served when it is also a prometheus.Gatherer.
	// Default: a private prometheus.Registry.
	Registerer prometheus.Registerer

	// TracerProvider creates the handshake and dispatch spans.
	// Default: the global otel provider.
	TracerProvider trace.TracerProvider

	// HandshakeRate and HandshakeBurst bound new handshakes across all
	// transports.
	// Default: rate.Inf (no limit), burst 1.
	HandshakeRate  rate.Limit
	HandshakeBurst int

	// LongPollTimeout is how long a long poll waits for a message.
	// Default: 5 seconds.
	LongPollTimeout time.Duration

	// ReplayOrder is the message order of polling responses.
	// Default: connection.OldestFirst.
	ReplayOrder connection.ReplayOrder

	// AllowedOrigins lists the origins accepted for WebSocket upgrades and
	// CORS. "*" allows every origin; empty means same-origin only.
	// Default: empty.
	AllowedOrigins []string

	// MaxFrameSize bounds inbound frames on every transport.
	// Default: protocol.DefaultMaxFrameSize (1 MiB).
	MaxFrameSize int

	// HandshakeTimeout is how long a fresh streaming session may take to
	// send its handshake.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single socket write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// IdleTimeout closes polling connections that have not polled for this
	// long. Zero disables the reaper.
	// Default: 2 minutes.
	IdleTimeout time.Duration

	// CleanupInterval is the interval of the idle reaper.
	// Default: 30 seconds.
	CleanupInterval time.Duration

	// ShutdownTimeout bounds the graceful shutdown performed by Run.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// ConnectionListeners are attached to every new connection before it is
	// established, so OnConnect sees each one.
	ConnectionListeners []connection.ConnectionListener
}

// Option configures a Server.
type Option func(*Config)

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Transports: []transport.Transport{
			transport.TCP,
			transport.WebSocket,
			transport.HTTPPolling,
			transport.HTTPLongPolling,
		},
		TCPPort:          transport.TCP.DefaultPort(),
		HTTPPort:         transport.HTTPPolling.DefaultPort(),
		HandshakeHandler: AcceptAll,
		Logger:           zap.NewNop(),
		HandshakeRate:    rate.Inf,
		HandshakeBurst:   1,
		LongPollTimeout:  5 * time.Second,
		ReplayOrder:      connection.OldestFirst,
		MaxFrameSize:     protocol.DefaultMaxFrameSize,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      2 * time.Minute,
		CleanupInterval:  30 * time.Second,
		ShutdownTimeout:  30 * time.Second,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Transports = append([]transport.Transport(nil), c.Transports...)
	clone.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	clone.ConnectionListeners = append([]connection.ConnectionListener(nil), c.ConnectionListeners...)
	return &clone
}

// Validate reports the first configuration problem, wrapped in
// ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if len(c.Transports) == 0 {
		return invalid("no transports")
	}
	for _, tr := range c.Transports {
		if tr.IsZero() {
			return invalid("zero transport")
		}
		if !tr.Supported() {
			return invalid("transport %s is not supported", tr)
		}
	}
	if c.TCPPort < 0 || c.TCPPort > 65535 {
		return invalid("tcp port %d out of range", c.TCPPort)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return invalid("http port %d out of range", c.HTTPPort)
	}
	if c.hasTCP() && c.hasHTTP() && c.TCPPort != 0 && c.TCPPort == c.HTTPPort {
		return invalid("tcp and http share port %d", c.TCPPort)
	}
	if c.HandshakeHandler == nil {
		return invalid("nil handshake handler")
	}
	if c.MaxFrameSize <= 0 {
		return invalid("max frame size %d", c.MaxFrameSize)
	}
	if c.LongPollTimeout <= 0 {
		return invalid("long poll timeout %v", c.LongPollTimeout)
	}
	if c.HandshakeRate < 0 || c.HandshakeBurst < 0 {
		return invalid("negative handshake rate limit")
	}
	if c.IdleTimeout > 0 && c.CleanupInterval <= 0 {
		return invalid("cleanup interval %v with idle timeout", c.CleanupInterval)
	}
	return nil
}

func (c *Config) has(tr transport.Transport) bool {
	for _, t := range c.Transports {
		if t == tr {
			return true
		}
	}
	return false
}

func (c *Config) hasTCP() bool { return c.has(transport.TCP) }

func (c *Config) hasHTTP() bool {
	for _, t := range c.Transports {
		if t.HTTP() {
			return true
		}
	}
	return false
}

func (c *Config) hasPolling() bool {
	return c.has(transport.HTTPPolling) || c.has(transport.HTTPLongPolling)
}

// checkOrigin validates WebSocket upgrade origins against AllowedOrigins.
func (c *Config) checkOrigin(r *http.Request) bool {
	if len(c.AllowedOrigins) == 0 {
		return SameOriginCheck(r)
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// SameOriginCheck accepts requests without an Origin header and requests
// whose Origin host matches the request host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}

// WithTransports replaces the set of front doors.
func WithTransports(trs ...transport.Transport) Option {
	return func(c *Config) {
		c.Transports = append([]transport.Transport(nil), trs...)
	}
}

// WithPort sets the listener port for tr. WebSocket and the HTTP polling
// transports share one port.
func WithPort(tr transport.Transport, port int) Option {
	return func(c *Config) {
		if tr.HTTP() {
			c.HTTPPort = port
			return
		}
		c.TCPPort = port
	}
}

// WithHost sets the bind interface.
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithTLS enables TLS on every listener.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Config) {
		c.TLS = cfg
	}
}

// WithHandshakeHandler sets the handshake policy.
func WithHandshakeHandler(h HandshakeHandler) Option {
	return func(c *Config) {
		c.HandshakeHandler = h
	}
}

// WithProtocol sets the type registry.
func WithProtocol(p *protocol.Protocol) Option {
	return func(c *Config) {
		c.Protocol = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithRegisterer sets the Prometheus registerer.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registerer = r
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) {
		c.TracerProvider = tp
	}
}

// WithHandshakeRateLimit limits new handshakes to r per second with the
// given burst.
func WithHandshakeRateLimit(r rate.Limit, burst int) Option {
	return func(c *Config) {
		c.HandshakeRate = r
		c.HandshakeBurst = burst
	}
}

// WithLongPollTimeout sets how long a long poll waits.
func WithLongPollTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.LongPollTimeout = d
	}
}

// WithReplayOrder sets the order of polling responses.
func WithReplayOrder(o connection.ReplayOrder) Option {
	return func(c *Config) {
		c.ReplayOrder = o
	}
}

// WithAllowedOrigins sets the WebSocket and CORS origin allow-list.
func WithAllowedOrigins(origins ...string) Option {
	return func(c *Config) {
		c.AllowedOrigins = append([]string(nil), origins...)
	}
}

// WithMaxFrameSize bounds inbound frames.
func WithMaxFrameSize(n int) Option {
	return func(c *Config) {
		c.MaxFrameSize = n
	}
}

// WithHandshakeTimeout sets the streaming handshake deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithWriteTimeout bounds socket writes.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.WriteTimeout = d
	}
}

// WithIdleTimeout sets the idle timeout of polling connections and the
// reaper interval.
func WithIdleTimeout(idle, interval time.Duration) Option {
	return func(c *Config) {
		c.IdleTimeout = idle
		c.CleanupInterval = interval
	}
}

// WithShutdownTimeout bounds the graceful shutdown of Run.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ShutdownTimeout = d
	}
}

// WithConnectionListener attaches l to every new connection.
func WithConnectionListener(l connection.ConnectionListener) Option {
	return func(c *Config) {
		c.ConnectionListeners = append(c.ConnectionListeners, l)
	}
}
