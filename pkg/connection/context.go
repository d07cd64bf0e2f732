package connection

import (
	"context"
	"net"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/protocol"
)

// Context is the transport capability behind a Connection. It decides how
// an outbound Message reaches the peer.
type Context interface {
	// Streaming reports whether writes go straight to a live socket.
	Streaming() bool
	// Write delivers msg for connection c.
	Write(ctx context.Context, c *Connection, msg *protocol.Message) error
	// Close releases transport resources held for c.
	Close(c *Connection) error
}

// Socket is a streaming transport session: a TCP connection or a
// WebSocket. WriteFrame must finish with buf before returning; the caller
// releases it afterwards. Implementations serialize concurrent writes.
type Socket interface {
	WriteFrame(ctx context.Context, buf *buffer.MemoryBuffer) error
	RemoteAddr() net.Addr
	Close() error
}

// initialFrameSize is the size hint for pooled outbound buffers.
const initialFrameSize = 256

func acquire(pool *buffer.Pool) *buffer.MemoryBuffer {
	if pool == nil {
		return buffer.New(initialFrameSize)
	}
	return pool.Acquire(initialFrameSize)
}

// StreamingContext writes every message as a logged-in envelope to a
// Socket.
type StreamingContext struct {
	socket Socket
	pool   *buffer.Pool
}

// NewStreamingContext returns a capability writing to socket. pool may be
// nil.
func NewStreamingContext(socket Socket, pool *buffer.Pool) *StreamingContext {
	return &StreamingContext{socket: socket, pool: pool}
}

// Socket returns the underlying socket.
func (s *StreamingContext) Socket() Socket { return s.socket }

// Streaming returns true.
func (s *StreamingContext) Streaming() bool { return true }

// Write encodes msg into an envelope and writes it to the socket.
func (s *StreamingContext) Write(ctx context.Context, c *Connection, msg *protocol.Message) error {
	buf := acquire(s.pool)
	defer buf.Release()

	frame := &protocol.Frame{LoggedIn: true, ConnectionID: c.ID(), Payload: msg}
	if err := c.Protocol().WriteFrame(buf, frame); err != nil {
		return err
	}
	return s.socket.WriteFrame(ctx, buf)
}

// Close closes the socket.
func (s *StreamingContext) Close(*Connection) error {
	return s.socket.Close()
}

// PollingContext queues serialized messages until the peer polls for them.
type PollingContext struct {
	queue *MessageQueue
	pool  *buffer.Pool
}

// NewPollingContext returns a capability backed by queue. pool may be nil.
func NewPollingContext(queue *MessageQueue, pool *buffer.Pool) *PollingContext {
	return &PollingContext{queue: queue, pool: pool}
}

// Queue returns the connection's message queue.
func (p *PollingContext) Queue() *MessageQueue { return p.queue }

// Streaming returns false.
func (p *PollingContext) Streaming() bool { return false }

// Write serializes msg and pushes it onto the queue, waking long polls.
func (p *PollingContext) Write(_ context.Context, c *Connection, msg *protocol.Message) error {
	buf := acquire(p.pool)
	if err := c.Protocol().Encode(buf, msg); err != nil {
		buf.Release()
		return err
	}
	p.queue.Push(buf)
	return nil
}

// Close drops every queued message.
func (p *PollingContext) Close(*Connection) error {
	p.queue.Close()
	return nil
}
