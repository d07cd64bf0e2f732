package server

import (
	"context"
	"net"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/transport"
)

// session is one transport-level exchange: a TCP or WebSocket socket for
// its whole life, or a single HTTP request. Frames of one session are
// processed in arrival order by one goroutine.
type session struct {
	transport transport.Transport
	remote    net.Addr

	// socket is nil for HTTP sessions.
	socket connection.Socket

	// conn is the connection established on a streaming session.
	conn *connection.Connection

	// reply writes a frame back to the peer. It must be done with buf
	// before returning.
	reply func(ctx context.Context, buf *buffer.MemoryBuffer) error
}

func newStreamSession(tr transport.Transport, socket connection.Socket) *session {
	return &session{
		transport: tr,
		remote:    socket.RemoteAddr(),
		socket:    socket,
		reply:     socket.WriteFrame,
	}
}

// httpSession captures the single reply of an HTTP request.
type httpSession struct {
	session
	body []byte
}

func newHTTPSession(tr transport.Transport, remote string) *httpSession {
	s := &httpSession{}
	s.transport = tr
	s.remote = httpAddr(remote)
	s.reply = func(_ context.Context, buf *buffer.MemoryBuffer) error {
		s.body = append([]byte(nil), buf.Bytes()...)
		return nil
	}
	return s
}

// httpAddr is the remote address of an HTTP request.
type httpAddr string

func (httpAddr) Network() string  { return "tcp" }
func (a httpAddr) String() string { return string(a) }

func (s *session) capability(cfg *Config, pool *buffer.Pool, metrics *Metrics) connection.Context {
	if s.transport.Streaming() {
		return connection.NewStreamingContext(s.socket, pool)
	}
	q := connection.NewMessageQueue(cfg.ReplayOrder, connection.WithEvictHook(metrics.evicted))
	return connection.NewPollingContext(q, pool)
}
