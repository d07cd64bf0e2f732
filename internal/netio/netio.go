// Package netio adapts byte streams and WebSockets to frame sockets shared
// by the server front doors and the client connectors.
package netio

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/vango-dev/tengi/pkg/buffer"
)

// ErrNonBinaryMessage is returned when a WebSocket peer sends a text
// message. Envelopes are always binary.
var ErrNonBinaryMessage = errors.New("netio: non-binary websocket message")

// Socket is a bidirectional frame socket. ReadFrame is called from a single
// goroutine; WriteFrame may be called concurrently.
type Socket interface {
	ReadFrame() ([]byte, error)
	WriteFrame(ctx context.Context, buf *buffer.MemoryBuffer) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// Observer is told the size of every frame read or written.
type Observer func(written bool, n int)

// writeDeadline picks the earlier of the context deadline and now+timeout.
// A zero result means no deadline.
func writeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// IsClosed reports whether err only says the peer or the local side went
// away. Such errors end a read loop without being worth a warning.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	return isWebSocketClose(err)
}
