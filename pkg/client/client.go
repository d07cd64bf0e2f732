package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/future"
	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

// Client opens connections to a tengi server. It is safe for concurrent
// use; every connection it opens is closed by Close.
type Client struct {
	cfg    *Config
	pool   *buffer.Pool
	logger *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	conns  map[identifier.Identifier]*connection.Connection
}

// New creates a Client from DefaultConfig and opts.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Protocol == nil {
		p, err := protocol.New()
		if err != nil {
			return nil, err
		}
		cfg.Protocol = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		pool:   buffer.NewPool(),
		logger: cfg.Logger.Sugar(),
		conns:  make(map[identifier.Identifier]*connection.Connection),
	}, nil
}

// Connect establishes a connection to host, trying the configured
// transports in order. The future fails with the errors of every
// transport tried, each a *ConnectionFailedError.
func (c *Client) Connect(ctx context.Context, host string) *future.Future[*connection.Connection] {
	return future.Go(func() (*connection.Connection, error) {
		if len(c.cfg.Transports) == 0 {
			return nil, ErrNoTransport
		}
		c.logger.Infow("connecting", "host", host, "transports", c.cfg.Transports)

		var errs []error
		for _, tr := range c.cfg.Transports {
			addr := net.JoinHostPort(host, strconv.Itoa(c.cfg.port(tr)))
			conn, err := c.connect(ctx, tr, addr)
			if err == nil {
				return conn, nil
			}
			c.logger.Warnw("transport failed", "transport", tr, "address", addr, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil || errors.Is(err, ErrClientClosed) {
				break
			}
		}
		return nil, errors.Join(errs...)
	})
}

// ConnectTransport establishes a connection over tr to addr (host:port).
// The future fails with a *ConnectionFailedError.
func (c *Client) ConnectTransport(ctx context.Context, tr transport.Transport, addr string) *future.Future[*connection.Connection] {
	return future.Go(func() (*connection.Connection, error) {
		return c.connect(ctx, tr, addr)
	})
}

// Connect is a shorthand for New followed by ConnectTransport. The
// connection outlives the implicit client.
func Connect(ctx context.Context, tr transport.Transport, addr string, opts ...Option) *future.Future[*connection.Connection] {
	c, err := New(opts...)
	if err != nil {
		return future.Failed[*connection.Connection](err)
	}
	return c.ConnectTransport(ctx, tr, addr)
}

func (c *Client) connect(ctx context.Context, tr transport.Transport, addr string) (*connection.Connection, error) {
	fail := func(err error) (*connection.Connection, error) {
		return nil, &ConnectionFailedError{Transport: tr, Addr: addr, Err: err}
	}
	if c.isClosed() {
		return fail(ErrClientClosed)
	}
	if !tr.Supported() {
		return fail(fmt.Errorf("transport %s is not supported", tr))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var (
		conn *connection.Connection
		err  error
	)
	if tr.Streaming() {
		conn, err = c.connectStream(ctx, tr, addr)
	} else {
		conn, err = c.connectHTTP(ctx, tr, addr)
	}
	if err != nil {
		return fail(err)
	}
	if !c.track(conn) {
		_ = conn.Close()
		return fail(ErrClientClosed)
	}
	c.logger.Infow("connected", "connection", conn.ID(), "transport", tr, "address", addr)
	return conn, nil
}

// handshakeFrame encodes the logged-out envelope opening a session.
func (c *Client) handshakeFrame() (*buffer.MemoryBuffer, error) {
	buf := c.pool.Acquire(256)
	frame := &protocol.Frame{Payload: c.cfg.Handshake()}
	if err := c.cfg.Protocol.WriteFrame(buf, frame); err != nil {
		buf.Release()
		return nil, err
	}
	return buf, nil
}

// readResponse decodes the server's handshake reply and runs the
// ResponseHandler.
func (c *Client) readResponse(data []byte) (identifier.Identifier, error) {
	buf := buffer.Wrap(data)
	defer buf.Release()

	frame, err := c.cfg.Protocol.ReadFrame(buf)
	if err != nil {
		return identifier.Nil, err
	}
	resp, ok := frame.Payload.(protocol.HandshakeMessage)
	if !ok || !frame.LoggedIn {
		return identifier.Nil, fmt.Errorf("%w: %T", ErrUnexpectedResponse, frame.Payload)
	}
	if c.cfg.ResponseHandler != nil {
		if err := c.cfg.ResponseHandler(resp); err != nil {
			return identifier.Nil, err
		}
	}
	return frame.ConnectionID, nil
}

// newConnection builds the client side of an accepted handshake with the
// configured listeners attached.
func (c *Client) newConnection(id identifier.Identifier, tr transport.Transport, capability connection.Context) (*connection.Connection, error) {
	conn := connection.New(id, tr, c.cfg.Protocol, capability, connection.WithLogger(c.cfg.Logger))
	var err error
	for _, l := range c.cfg.MessageListeners {
		if _, err = conn.AddMessageListener(l); err != nil {
			break
		}
	}
	for _, l := range c.cfg.ExceptionListeners {
		if err != nil {
			break
		}
		_, err = conn.AddExceptionListener(l)
	}
	for _, l := range c.cfg.ConnectionListeners {
		if err != nil {
			break
		}
		_, err = conn.AddConnectionListener(l)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// deliver decodes one inbound logged-in envelope and hands it to conn's
// listeners.
func (c *Client) deliver(conn *connection.Connection, data []byte) error {
	buf := buffer.Wrap(data)
	defer buf.Release()

	if _, _, err := protocol.ReadFrameHeader(buf); err != nil {
		return err
	}
	conn.PublishFrame(buf)
	payload, err := c.cfg.Protocol.Decode(buf)
	if err != nil {
		return err
	}
	msg, ok := payload.(*protocol.Message)
	if !ok {
		return fmt.Errorf("%w: want *protocol.Message, got %T", protocol.ErrUnexpectedPayload, payload)
	}
	conn.Publish(msg)
	return nil
}

func (c *Client) track(conn *connection.Connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	_, err := conn.AddConnectionListener(connection.ConnectionListenerFuncs{
		Disconnect: func(conn *connection.Connection) {
			c.mu.Lock()
			delete(c.conns, conn.ID())
			c.mu.Unlock()
		},
	})
	if err == nil {
		c.conns[conn.ID()] = conn
	}
	return true
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Connections returns the number of open connections.
func (c *Client) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Close closes every connection opened by c. Later Connect calls fail with
// ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := make([]*connection.Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	var errs []error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the effective configuration.
func (c *Client) Config() *Config { return c.cfg }
