package netio

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/protocol"
)

// WebSocket carries one envelope per binary message.
type WebSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	observe      Observer

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps an upgraded or dialed connection. maxFrame limits
// inbound messages; zero means protocol.DefaultMaxFrameSize.
func NewWebSocket(conn *websocket.Conn, maxFrame int, writeTimeout time.Duration) *WebSocket {
	if maxFrame <= 0 {
		maxFrame = protocol.DefaultMaxFrameSize
	}
	conn.SetReadLimit(int64(maxFrame))
	return &WebSocket{conn: conn, writeTimeout: writeTimeout}
}

// Observe installs fn. It must be called before the socket is shared.
func (w *WebSocket) Observe(fn Observer) { w.observe = fn }

// ReadFrame reads the next binary message.
func (w *WebSocket) ReadFrame() ([]byte, error) {
	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, ErrNonBinaryMessage
	}
	if w.observe != nil {
		w.observe(false, len(data))
	}
	return data, nil
}

// WriteFrame sends the readable bytes of buf as a binary message.
func (w *WebSocket) WriteFrame(ctx context.Context, buf *buffer.MemoryBuffer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.SetWriteDeadline(writeDeadline(ctx, w.writeTimeout)); err != nil {
		return err
	}
	data := buf.Bytes()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return err
	}
	if w.observe != nil {
		w.observe(true, len(data))
	}
	return nil
}

// SetReadDeadline sets the deadline for the next ReadFrame.
func (w *WebSocket) SetReadDeadline(t time.Time) error { return w.conn.SetReadDeadline(t) }

// RemoteAddr returns the peer address.
func (w *WebSocket) RemoteAddr() net.Addr { return w.conn.RemoteAddr() }

// Close sends a normal closure and closes the connection once.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

func isWebSocketClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseNormalClosure ||
			ce.Code == websocket.CloseGoingAway ||
			ce.Code == websocket.CloseNoStatusReceived
	}
	return false
}
