package netio

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/protocol"
)

// StreamSocket frames envelopes over a byte stream with a uint32 length
// prefix.
type StreamSocket struct {
	conn         net.Conn
	r            *bufio.Reader
	maxFrame     int
	writeTimeout time.Duration
	observe      Observer

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamSocket wraps conn. maxFrame bounds both directions; zero means
// protocol.DefaultMaxFrameSize.
func NewStreamSocket(conn net.Conn, maxFrame int, writeTimeout time.Duration) *StreamSocket {
	if maxFrame <= 0 {
		maxFrame = protocol.DefaultMaxFrameSize
	}
	return &StreamSocket{
		conn:         conn,
		r:            bufio.NewReaderSize(conn, 16<<10),
		maxFrame:     maxFrame,
		writeTimeout: writeTimeout,
	}
}

// Observe installs fn. It must be called before the socket is shared.
func (s *StreamSocket) Observe(fn Observer) { s.observe = fn }

// ReadFrame reads one length-prefixed envelope.
func (s *StreamSocket) ReadFrame() ([]byte, error) {
	data, err := protocol.ReadStreamFrame(s.r, s.maxFrame)
	if err == nil && s.observe != nil {
		s.observe(false, len(data))
	}
	return data, err
}

// WriteFrame writes the readable bytes of buf as one frame.
func (s *StreamSocket) WriteFrame(ctx context.Context, buf *buffer.MemoryBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(writeDeadline(ctx, s.writeTimeout)); err != nil {
		return err
	}
	data := buf.Bytes()
	if err := protocol.WriteStreamFrame(s.conn, data, s.maxFrame); err != nil {
		return err
	}
	if s.observe != nil {
		s.observe(true, len(data))
	}
	return nil
}

// SetReadDeadline sets the deadline for the next ReadFrame.
func (s *StreamSocket) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }

// RemoteAddr returns the peer address.
func (s *StreamSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close closes the underlying connection once.
func (s *StreamSocket) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.conn.Close() })
	return s.closeErr
}
