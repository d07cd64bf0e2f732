package connection

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

// Connection is an established, identified link to a peer over one
// transport. It is safe for concurrent use.
type Connection struct {
	id        identifier.Identifier
	transport transport.Transport
	protocol  *protocol.Protocol
	ctx       Context
	logger    *zap.Logger

	state  atomic.Int32
	closed chan struct{}
	once   sync.Once

	mu                  sync.RWMutex
	messageListeners    map[identifier.Identifier]MessageListener
	connectionListeners map[identifier.Identifier]ConnectionListener
	frameListeners      map[identifier.Identifier]FrameListener
	exceptionListeners  map[identifier.Identifier]ExceptionListener
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a connection in the Handshaking state. Call Establish once the
// handshake response has been produced.
func New(id identifier.Identifier, tr transport.Transport, p *protocol.Protocol, capability Context, opts ...Option) *Connection {
	c := &Connection{
		id:                  id,
		transport:           tr,
		protocol:            p,
		ctx:                 capability,
		logger:              zap.NewNop(),
		closed:              make(chan struct{}),
		messageListeners:    make(map[identifier.Identifier]MessageListener),
		connectionListeners: make(map[identifier.Identifier]ConnectionListener),
		frameListeners:      make(map[identifier.Identifier]FrameListener),
		exceptionListeners:  make(map[identifier.Identifier]ExceptionListener),
	}
	c.state.Store(int32(Handshaking))
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.Stringer("connection", id), zap.Stringer("transport", tr))
	return c
}

// ID returns the connection identity minted at handshake time.
func (c *Connection) ID() identifier.Identifier { return c.id }

// Transport returns the transport the connection runs over.
func (c *Connection) Transport() transport.Transport { return c.transport }

// Protocol returns the registry used to encode and decode messages.
func (c *Connection) Protocol() *protocol.Protocol { return c.protocol }

// Context returns the transport capability.
func (c *Connection) Context() Context { return c.ctx }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Done is closed when the connection closes.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// String returns a short description for logs.
func (c *Connection) String() string {
	return fmt.Sprintf("Connection{%s over %s, %s}", c.id, c.transport, c.State())
}

// Establish moves the connection from Handshaking to Established and
// notifies connection listeners.
func (c *Connection) Establish() error {
	if !c.state.CompareAndSwap(int32(Handshaking), int32(Established)) {
		return fmt.Errorf("%w: %s to %s", ErrIllegalState, c.State(), Established)
	}
	for _, l := range c.connectionListenerSnapshot() {
		c.safely("connection listener", func() { l.OnConnect(c) })
	}
	return nil
}

// AddMessageListener registers l and returns its registration id.
func (c *Connection) AddMessageListener(l MessageListener) (identifier.Identifier, error) {
	return addListener(c, c.messageListeners, l)
}

// RemoveMessageListener drops the registration. Unknown ids are ignored.
func (c *Connection) RemoveMessageListener(id identifier.Identifier) {
	c.mu.Lock()
	delete(c.messageListeners, id)
	c.mu.Unlock()
}

// AddConnectionListener registers l and returns its registration id.
func (c *Connection) AddConnectionListener(l ConnectionListener) (identifier.Identifier, error) {
	return addListener(c, c.connectionListeners, l)
}

// RemoveConnectionListener drops the registration.
func (c *Connection) RemoveConnectionListener(id identifier.Identifier) {
	c.mu.Lock()
	delete(c.connectionListeners, id)
	c.mu.Unlock()
}

// AddFrameListener registers l and returns its registration id.
func (c *Connection) AddFrameListener(l FrameListener) (identifier.Identifier, error) {
	return addListener(c, c.frameListeners, l)
}

// RemoveFrameListener drops the registration.
func (c *Connection) RemoveFrameListener(id identifier.Identifier) {
	c.mu.Lock()
	delete(c.frameListeners, id)
	c.mu.Unlock()
}

// AddExceptionListener registers l and returns its registration id.
func (c *Connection) AddExceptionListener(l ExceptionListener) (identifier.Identifier, error) {
	return addListener(c, c.exceptionListeners, l)
}

// RemoveExceptionListener drops the registration.
func (c *Connection) RemoveExceptionListener(id identifier.Identifier) {
	c.mu.Lock()
	delete(c.exceptionListeners, id)
	c.mu.Unlock()
}

func addListener[L any](c *Connection, m map[identifier.Identifier]L, l L) (identifier.Identifier, error) {
	if isNil(l) {
		return identifier.Nil, ErrNilListener
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == Closed {
		return identifier.Nil, ErrConnectionDestroyed
	}
	for _, existing := range m {
		if sameListener(existing, l) {
			return identifier.Nil, ErrDuplicateListener
		}
	}
	id := identifier.NewRandom()
	m[id] = l
	return id, nil
}

// WriteObject sends v to the peer. v is wrapped in a new Message unless it
// already is one. The returned Message carries the id the peer will see.
func (c *Connection) WriteObject(ctx context.Context, v any) (*protocol.Message, error) {
	if c.State() == Closed {
		return nil, ErrConnectionDestroyed
	}
	msg, ok := v.(*protocol.Message)
	if !ok {
		msg = protocol.NewMessage(v)
	}
	if err := c.ctx.Write(ctx, c, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Publish dispatches msg to every message listener. It returns the number of
// listeners called.
func (c *Connection) Publish(msg *protocol.Message) int {
	c.mu.RLock()
	listeners := make([]MessageListener, 0, len(c.messageListeners))
	for _, l := range c.messageListeners {
		listeners = append(listeners, l)
	}
	c.mu.RUnlock()

	for _, l := range listeners {
		c.safely("message listener", func() { l.OnMessage(c, msg) })
	}
	return len(listeners)
}

// PublishFrame hands a duplicate of frame to every frame listener. frame's
// cursor is not moved.
func (c *Connection) PublishFrame(frame *buffer.MemoryBuffer) {
	c.mu.RLock()
	listeners := make([]FrameListener, 0, len(c.frameListeners))
	for _, l := range c.frameListeners {
		listeners = append(listeners, l)
	}
	c.mu.RUnlock()

	for _, l := range listeners {
		dup := frame.Duplicate()
		c.safely("frame listener", func() { l.OnFrame(c, dup) })
	}
}

// ReportException tells exception listeners, and any other registered
// listener implementing ExceptionListener, about err.
func (c *Connection) ReportException(err error) {
	c.mu.RLock()
	var targets []ExceptionListener
	for _, l := range c.exceptionListeners {
		targets = append(targets, l)
	}
	for _, l := range c.messageListeners {
		if el, ok := l.(ExceptionListener); ok {
			targets = append(targets, el)
		}
	}
	for _, l := range c.connectionListeners {
		if el, ok := l.(ExceptionListener); ok {
			targets = append(targets, el)
		}
	}
	for _, l := range c.frameListeners {
		if el, ok := l.(ExceptionListener); ok {
			targets = append(targets, el)
		}
	}
	c.mu.RUnlock()

	c.logger.Sugar().Debugw("connection exception", "error", err, "listeners", len(targets))
	for _, l := range targets {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Sugar().Errorw("exception listener panicked", "panic", r)
				}
			}()
			l.OnException(c, err)
		}()
	}
}

// Close closes the connection. It is idempotent; only the first call
// notifies listeners and tears down the transport capability.
func (c *Connection) Close() error {
	var err error
	c.once.Do(func() {
		c.state.Store(int32(Closed))
		close(c.closed)

		for _, l := range c.connectionListenerSnapshot() {
			c.safely("connection listener", func() { l.OnDisconnect(c) })
		}

		c.mu.Lock()
		clear(c.messageListeners)
		clear(c.connectionListeners)
		clear(c.frameListeners)
		clear(c.exceptionListeners)
		c.mu.Unlock()

		err = c.ctx.Close(c)
		c.logger.Sugar().Debugw("connection closed", "error", err)
	})
	return err
}

func (c *Connection) connectionListenerSnapshot() []ConnectionListener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ConnectionListener, 0, len(c.connectionListeners))
	for _, l := range c.connectionListeners {
		out = append(out, l)
	}
	return out
}

// safely runs fn and turns a panic into a reported ListenerPanicError.
func (c *Connection) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := &ListenerPanicError{ConnectionID: c.id, Listener: kind, Panic: r, Stack: debug.Stack()}
			c.logger.Sugar().Errorw("listener panicked", "listener", kind, "panic", r)
			c.ReportException(err)
		}
	}()
	fn()
}
