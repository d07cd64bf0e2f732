package client

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

// Config holds configuration for a Client.
type Config struct {
	// Transports are tried in order by Connect until one establishes a
	// connection.
	// Default: TCP.
	Transports []transport.Transport

	// TCPPort and HTTPPort are the server ports Connect dials. WebSocket
	// and the HTTP polling transports use HTTPPort.
	// Default: 8080 and 8081, matching the server defaults.
	TCPPort  int
	HTTPPort int

	// Handshake builds the handshake sent on every new session.
	// Default: an empty protocol.Handshake.
	Handshake func() *protocol.Handshake

	// ResponseHandler inspects the server's handshake response. Returning
	// an error aborts the connection.
	ResponseHandler func(resp protocol.HandshakeMessage) error

	// Protocol is the type registry. It must match the server's.
	// Default: a Protocol with only the built-in types.
	Protocol *protocol.Protocol

	// Logger receives structured client logs.
	// Default: zap.NewNop().
	Logger *zap.Logger

	// TLS switches every transport to its TLS variant (tls, wss, https).
	TLS *tls.Config

	// HTTPClient carries the HTTP polling transports.
	// Default: a client without timeout; long polls are bounded by the server.
	HTTPClient *http.Client

	// ConnectTimeout bounds dialing plus the handshake when the context
	// passed to Connect has no earlier deadline.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// PollInterval is the pause between short polls, and the retry delay
	// after a failed poll.
	// Default: 100 milliseconds.
	PollInterval time.Duration

	// MaxFrameSize bounds inbound frames.
	// Default: protocol.DefaultMaxFrameSize.
	MaxFrameSize int

	// WriteTimeout bounds a single socket write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// Listeners attached to every connection before it is established.
	MessageListeners    []connection.MessageListener
	ConnectionListeners []connection.ConnectionListener
	ExceptionListeners  []connection.ExceptionListener
}

// Option configures a Client.
type Option func(*Config)

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Transports:     []transport.Transport{transport.TCP},
		TCPPort:        transport.TCP.DefaultPort(),
		HTTPPort:       transport.HTTPPolling.DefaultPort(),
		Handshake:      protocol.NewHandshake,
		Logger:         zap.NewNop(),
		ConnectTimeout: 10 * time.Second,
		PollInterval:   100 * time.Millisecond,
		MaxFrameSize:   protocol.DefaultMaxFrameSize,
		WriteTimeout:   10 * time.Second,
	}
}

// Validate reports the first configuration problem, wrapped in
// ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	for _, tr := range c.Transports {
		if tr.IsZero() || !tr.Supported() {
			return invalid("transport %s is not supported", tr)
		}
	}
	if c.TCPPort < 0 || c.TCPPort > 65535 {
		return invalid("tcp port %d out of range", c.TCPPort)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return invalid("http port %d out of range", c.HTTPPort)
	}
	if c.ConnectTimeout <= 0 {
		return invalid("connect timeout %v", c.ConnectTimeout)
	}
	if c.PollInterval <= 0 {
		return invalid("poll interval %v", c.PollInterval)
	}
	if c.MaxFrameSize <= 0 {
		return invalid("max frame size %d", c.MaxFrameSize)
	}
	return nil
}

func (c *Config) port(tr transport.Transport) int {
	if tr.HTTP() {
		return c.HTTPPort
	}
	return c.TCPPort
}

// WithTransports sets the transports Connect tries, in priority order.
func WithTransports(trs ...transport.Transport) Option {
	return func(c *Config) {
		c.Transports = append([]transport.Transport(nil), trs...)
	}
}

// WithPort sets the server port dialed for tr.
func WithPort(tr transport.Transport, port int) Option {
	return func(c *Config) {
		if tr.HTTP() {
			c.HTTPPort = port
			return
		}
		c.TCPPort = port
	}
}

// WithHandshake sets the handshake factory.
func WithHandshake(fn func() *protocol.Handshake) Option {
	return func(c *Config) {
		if fn != nil {
			c.Handshake = fn
		}
	}
}

// WithResponseHandler sets the handshake response check.
func WithResponseHandler(fn func(resp protocol.HandshakeMessage) error) Option {
	return func(c *Config) {
		c.ResponseHandler = fn
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

// WithTLS enables TLS.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Config) {
		c.TLS = cfg
	}
}

// WithHTTPClient sets the HTTP client of the polling transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = hc
	}
}

// WithConnectTimeout bounds dialing and the handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = d
	}
}

// WithPollInterval sets the short-poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

// WithMaxFrameSize bounds inbound frames.
func WithMaxFrameSize(n int) Option {
	return func(c *Config) {
		c.MaxFrameSize = n
	}
}

// WithMessageListener attaches l to every connection.
func WithMessageListener(l connection.MessageListener) Option {
	return func(c *Config) {
		c.MessageListeners = append(c.MessageListeners, l)
	}
}

// WithConnectionListener attaches l to every connection.
func WithConnectionListener(l connection.ConnectionListener) Option {
	return func(c *Config) {
		c.ConnectionListeners = append(c.ConnectionListeners, l)
	}
}

// WithExceptionListener attaches l to every connection.
func WithExceptionListener(l connection.ExceptionListener) Option {
	return func(c *Config) {
		c.ExceptionListeners = append(c.ExceptionListeners, l)
	}
}
