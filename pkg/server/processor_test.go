package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

// recordingSocket keeps a copy of every frame written to it.
type recordingSocket struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *recordingSocket) WriteFrame(_ context.Context, buf *buffer.MemoryBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), buf.Bytes()...))
	return nil
}

func (s *recordingSocket) RemoteAddr() net.Addr { return httpAddr("127.0.0.1:4000") }

func (s *recordingSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *recordingSocket) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *recordingSocket) frame(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[i]
}

func testProcessor(t *testing.T, opts ...Option) *processor {
	t.Helper()
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Protocol == nil {
		cfg.Protocol = protocol.MustNew()
	}
	require.NoError(t, cfg.Validate())

	metrics := NewMetrics(prometheus.NewRegistry())
	manager := NewConnectionManager(0, 0, metrics, nil)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })
	return newProcessor(cfg, manager, metrics, buffer.NewPool())
}

func envelope(t testing.TB, p *protocol.Protocol, loggedIn bool, id identifier.Identifier, payload any) []byte {
	t.Helper()
	buf := buffer.New(128)
	require.NoError(t, p.WriteFrame(buf, &protocol.Frame{LoggedIn: loggedIn, ConnectionID: id, Payload: payload}))
	return append([]byte(nil), buf.Bytes()...)
}

func readReply(t testing.TB, p *protocol.Protocol, data []byte) *protocol.Frame {
	t.Helper()
	f, err := p.ReadFrame(buffer.Wrap(data))
	require.NoError(t, err)
	return f
}

func handshakeFrame(t testing.TB, p *protocol.Protocol) []byte {
	return envelope(t, p, false, identifier.Nil, protocol.NewHandshake())
}

func establishStream(t *testing.T, proc *processor) (*session, *recordingSocket) {
	t.Helper()
	sock := &recordingSocket{}
	sess := newStreamSession(transport.TCP, sock)
	require.NoError(t, proc.handle(context.Background(), sess, handshakeFrame(t, proc.protocol)))
	require.NotNil(t, sess.conn)
	return sess, sock
}

func establishPolling(t *testing.T, proc *processor) *connection.Connection {
	t.Helper()
	sess := newHTTPSession(transport.HTTPLongPolling, "127.0.0.1:4000")
	require.NoError(t, proc.handle(context.Background(), &sess.session, handshakeFrame(t, proc.protocol)))
	reply := readReply(t, proc.protocol, sess.body)
	conn, ok := proc.manager.Get(reply.ConnectionID)
	require.True(t, ok)
	return conn
}

func TestHandshakeAccepted(t *testing.T) {
	var repliesAtConnect int
	var sock *recordingSocket
	proc := testProcessor(t,
		WithHandshakeHandler(HandshakeHandlerFunc(func(id identifier.Identifier, hs *protocol.Handshake) protocol.HandshakeMessage {
			resp := protocol.NewHandshakeResponse()
			resp.SetValue("user", hs.Value("user"))
			return resp
		})),
		WithConnectionListener(connection.ConnectionListenerFuncs{
			Connect: func(c *connection.Connection) {
				repliesAtConnect = sock.count()
				_, _ = c.WriteObject(context.Background(), "welcome")
			},
		}),
	)

	sock = &recordingSocket{}
	sess := newStreamSession(transport.TCP, sock)
	hs := protocol.NewHandshake()
	hs.SetValue("user", "ada")
	require.NoError(t, proc.handle(context.Background(), sess, envelope(t, proc.protocol, false, identifier.Nil, hs)))

	require.NotNil(t, sess.conn)
	assert.Equal(t, connection.Established, sess.conn.State())
	assert.Equal(t, 1, proc.manager.Len())
	assert.Equal(t, 1, repliesAtConnect, "handshake response must be written before OnConnect")

	require.Equal(t, 2, sock.count())
	reply := readReply(t, proc.protocol, sock.frame(0))
	assert.True(t, reply.LoggedIn)
	assert.Equal(t, sess.conn.ID(), reply.ConnectionID)
	resp, ok := reply.Payload.(*protocol.HandshakeResponse)
	require.True(t, ok, "payload %T", reply.Payload)
	assert.Equal(t, "ada", resp.Value("user"))

	welcome := readReply(t, proc.protocol, sock.frame(1))
	msg, ok := welcome.Payload.(*protocol.Message)
	require.True(t, ok)
	assert.Equal(t, "welcome", msg.Body)
}

func TestHandshakeRefused(t *testing.T) {
	tests := []struct {
		name    string
		handler HandshakeHandlerFunc
		want    error
	}{
		{
			name:    "nil response",
			handler: func(identifier.Identifier, *protocol.Handshake) protocol.HandshakeMessage { return nil },
			want:    ErrHandshakeRejected,
		},
		{
			name: "typed nil response",
			handler: func(identifier.Identifier, *protocol.Handshake) protocol.HandshakeMessage {
				var resp *protocol.HandshakeResponse
				return resp
			},
			want: ErrHandshakeRejected,
		},
		{
			name:    "same instance",
			handler: func(_ identifier.Identifier, hs *protocol.Handshake) protocol.HandshakeMessage { return hs },
			want:    ErrIllegalHandshakeResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := testProcessor(t, WithHandshakeHandler(tt.handler))
			sock := &recordingSocket{}
			sess := newStreamSession(transport.TCP, sock)

			err := proc.handle(context.Background(), sess, handshakeFrame(t, proc.protocol))
			if !errors.Is(err, tt.want) {
				t.Fatalf("handle() error = %v, want %v", err, tt.want)
			}
			var serr *SessionError
			assert.True(t, errors.As(err, &serr))
			assert.Nil(t, sess.conn)
			assert.Equal(t, 0, sock.count(), "no response on refusal")
			assert.Equal(t, 0, proc.manager.Len())
		})
	}
}

func TestHandshakeHandlerPanic(t *testing.T) {
	proc := testProcessor(t, WithHandshakeHandler(HandshakeHandlerFunc(
		func(identifier.Identifier, *protocol.Handshake) protocol.HandshakeMessage { panic("boom") })))
	sess := newStreamSession(transport.TCP, &recordingSocket{})

	err := proc.handle(context.Background(), sess, handshakeFrame(t, proc.protocol))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 0, proc.manager.Len())
}

func TestFirstFrameMustBeHandshake(t *testing.T) {
	proc := testProcessor(t)
	sess := newStreamSession(transport.TCP, &recordingSocket{})

	err := proc.handle(context.Background(), sess, envelope(t, proc.protocol, false, identifier.Nil, protocol.NewMessage("hi")))
	require.Error(t, err)
	assert.True(t, IsDecodeError(err), "IsDecodeError(%v) = false", err)
	assert.True(t, errors.Is(err, protocol.ErrUnexpectedPayload))
}

func TestBadMagic(t *testing.T) {
	proc := testProcessor(t)
	sess := newStreamSession(transport.TCP, &recordingSocket{})

	err := proc.handle(context.Background(), sess, []byte("HELLO\x00"))
	assert.True(t, errors.Is(err, protocol.ErrBadMagic), "err = %v", err)
}

func TestSecondHandshakeOnEstablishedSession(t *testing.T) {
	proc := testProcessor(t)
	sess, _ := establishStream(t, proc)

	err := proc.handle(context.Background(), sess, handshakeFrame(t, proc.protocol))
	assert.True(t, errors.Is(err, ErrUnexpectedFrame), "err = %v", err)
}

func TestDispatchToListeners(t *testing.T) {
	proc := testProcessor(t)
	sess, _ := establishStream(t, proc)
	conn := sess.conn

	var got []*protocol.Message
	var frames int
	_, err := conn.AddMessageListener(connection.MessageListenerFunc(func(_ *connection.Connection, msg *protocol.Message) {
		got = append(got, msg)
	}))
	require.NoError(t, err)
	_, err = conn.AddFrameListener(connection.FrameListenerFunc(func(*connection.Connection, *buffer.MemoryBuffer) {
		frames++
	}))
	require.NoError(t, err)

	sent := protocol.NewMessage(protocol.NewPacket("chat").SetValue("text", "hello"))
	require.NoError(t, proc.handle(context.Background(), sess, envelope(t, proc.protocol, true, conn.ID(), sent)))

	require.Len(t, got, 1)
	assert.True(t, sent.Equal(got[0]), "got %v, want %v", got[0], sent)
	assert.Equal(t, 1, frames)
}

func TestDispatchUnknownConnection(t *testing.T) {
	proc := testProcessor(t)
	sess := newStreamSession(transport.TCP, &recordingSocket{})

	err := proc.handle(context.Background(), sess, envelope(t, proc.protocol, true, identifier.NewRandom(), protocol.NewMessage("x")))
	assert.True(t, errors.Is(err, ErrUnknownConnection), "err = %v", err)
}

func TestDispatchConnectionMismatch(t *testing.T) {
	proc := testProcessor(t)
	a, _ := establishStream(t, proc)
	b, _ := establishStream(t, proc)

	err := proc.handle(context.Background(), b, envelope(t, proc.protocol, true, a.conn.ID(), protocol.NewMessage("x")))
	assert.True(t, errors.Is(err, ErrConnectionMismatch), "err = %v", err)

	polling := establishPolling(t, proc)
	err = proc.handle(context.Background(), a, envelope(t, proc.protocol, true, polling.ID(), protocol.NewMessage("x")))
	assert.True(t, errors.Is(err, ErrConnectionMismatch), "streaming session naming a polling connection: %v", err)
}

func TestDispatchDecodeErrorClosesConnection(t *testing.T) {
	proc := testProcessor(t)
	sess, sock := establishStream(t, proc)
	conn := sess.conn

	var reported error
	_, err := conn.AddExceptionListener(connection.ExceptionListenerFunc(func(_ *connection.Connection, err error) {
		reported = err
	}))
	require.NoError(t, err)

	data := append([]byte(nil), protocol.Magic...)
	data = append(data, 1)
	data = append(data, conn.ID().Bytes()...)
	data = append(data, 0x7F, 0x00)

	err = proc.handle(context.Background(), sess, data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrUnknownTypeID), "err = %v", err)
	assert.True(t, errors.Is(reported, protocol.ErrUnknownTypeID), "reported = %v", reported)
	assert.Equal(t, connection.Closed, conn.State())
	assert.Equal(t, 0, proc.manager.Len())
	assert.True(t, sock.closed)
}

func poll(t *testing.T, proc *processor, id identifier.Identifier, body any) *protocol.Message {
	t.Helper()
	sess := newHTTPSession(transport.HTTPLongPolling, "127.0.0.1:4000")
	require.NoError(t, proc.handle(context.Background(), &sess.session, envelope(t, proc.protocol, true, id, protocol.NewMessage(body))))
	require.NotNil(t, sess.body)
	reply := readReply(t, proc.protocol, sess.body)
	msg, ok := reply.Payload.(*protocol.Message)
	require.True(t, ok, "payload %T", reply.Payload)
	return msg
}

func bodies(msgs []*protocol.Message) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}

func TestPolling(t *testing.T) {
	proc := testProcessor(t)
	conn := establishPolling(t, proc)

	_, err := conn.WriteObject(context.Background(), "one")
	require.NoError(t, err)
	_, err = conn.WriteObject(context.Background(), "two")
	require.NoError(t, err)

	resp, ok := poll(t, proc, conn.ID(), &protocol.PollingRequest{}).Body.(*protocol.PollingResponse)
	require.True(t, ok)
	assert.Equal(t, int64(2), resp.LatestUpdateID)
	assert.Equal(t, []any{"one", "two"}, bodies(resp.Messages))

	resp, ok = poll(t, proc, conn.ID(), &protocol.PollingRequest{LastUpdateID: 2}).Body.(*protocol.PollingResponse)
	require.True(t, ok)
	assert.Equal(t, int64(2), resp.LatestUpdateID)
	assert.Empty(t, resp.Messages)
}

func TestPollingNewestFirst(t *testing.T) {
	proc := testProcessor(t, WithReplayOrder(connection.NewestFirst))
	conn := establishPolling(t, proc)
	for _, s := range []string{"a", "b", "c"} {
		_, err := conn.WriteObject(context.Background(), s)
		require.NoError(t, err)
	}

	resp := poll(t, proc, conn.ID(), &protocol.PollingRequest{LastUpdateID: 1}).Body.(*protocol.PollingResponse)
	assert.Equal(t, []any{"c", "b"}, bodies(resp.Messages))
}

func TestLongPollingWaitsForMessage(t *testing.T) {
	proc := testProcessor(t, WithLongPollTimeout(5*time.Second))
	conn := establishPolling(t, proc)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = conn.WriteObject(context.Background(), "late")
	}()

	start := time.Now()
	resp, ok := poll(t, proc, conn.ID(), &protocol.LongPollingRequest{}).Body.(*protocol.LongPollingResponse)
	require.True(t, ok)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, int64(1), resp.LatestUpdateID)
	assert.Equal(t, []any{"late"}, bodies(resp.Messages))
}

func TestLongPollingTimeout(t *testing.T) {
	proc := testProcessor(t, WithLongPollTimeout(30*time.Millisecond))
	conn := establishPolling(t, proc)

	resp, ok := poll(t, proc, conn.ID(), &protocol.LongPollingRequest{}).Body.(*protocol.LongPollingResponse)
	require.True(t, ok)
	assert.Empty(t, resp.Messages)
	assert.Equal(t, int64(0), resp.LatestUpdateID)
}

func TestPollingFireAndForget(t *testing.T) {
	proc := testProcessor(t)
	conn := establishPolling(t, proc)

	var got []any
	_, err := conn.AddMessageListener(connection.MessageListenerFunc(func(_ *connection.Connection, msg *protocol.Message) {
		got = append(got, msg.Body)
	}))
	require.NoError(t, err)

	sess := newHTTPSession(transport.HTTPPolling, "127.0.0.1:4000")
	require.NoError(t, proc.handle(context.Background(), &sess.session, envelope(t, proc.protocol, true, conn.ID(), protocol.NewMessage(int32(7)))))
	assert.Nil(t, sess.body, "plain messages get no reply")
	assert.Equal(t, []any{int32(7)}, got)
}

func TestHandshakeRateLimit(t *testing.T) {
	proc := testProcessor(t, WithHandshakeRateLimit(rate.Every(time.Hour), 1))

	establishStream(t, proc)
	sess := newStreamSession(transport.TCP, &recordingSocket{})
	err := proc.handle(context.Background(), sess, handshakeFrame(t, proc.protocol))
	assert.True(t, errors.Is(err, ErrRateLimited), "err = %v", err)
	assert.Equal(t, 1, proc.manager.Len())
}

func TestIsDecodeError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{protocol.ErrBadMagic, true},
		{buffer.ErrBufferUnderflow, true},
		{&protocol.SystemError{Err: errors.New("x")}, true},
		{NewSessionError(identifier.Nil, "decode", protocol.ErrUnknownTypeID), true},
		{ErrHandshakeRejected, false},
		{errors.New("io"), false},
	}
	for _, tt := range tests {
		if got := IsDecodeError(tt.err); got != tt.want {
			t.Errorf("IsDecodeError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
