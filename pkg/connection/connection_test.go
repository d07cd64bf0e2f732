package connection

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

// recordingContext stores written messages.
type recordingContext struct {
	mu      sync.Mutex
	written []*protocol.Message
	closes  int
	err     error
}

func (r *recordingContext) Streaming() bool { return true }

func (r *recordingContext) Write(_ context.Context, _ *Connection, msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.written = append(r.written, msg)
	return nil
}

func (r *recordingContext) Close(*Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

type countingListener struct {
	mu       sync.Mutex
	messages []*protocol.Message
	errs     []error
}

func (l *countingListener) OnMessage(_ *Connection, msg *protocol.Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
}

func (l *countingListener) OnException(_ *Connection, err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *countingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

func newTestConnection(t *testing.T) (*Connection, *recordingContext) {
	t.Helper()
	rc := &recordingContext{}
	c := New(identifier.NewRandom(), transport.TCP, protocol.MustNew(), rc)
	require.NoError(t, c.Establish())
	return c, rc
}

func TestDuplicateMessageListener(t *testing.T) {
	c, _ := newTestConnection(t)
	l := &countingListener{}

	_, err := c.AddMessageListener(l)
	require.NoError(t, err)
	_, err = c.AddMessageListener(l)
	assert.ErrorIs(t, err, ErrDuplicateListener)

	other := &countingListener{}
	_, err = c.AddMessageListener(other)
	require.NoError(t, err)

	msg := protocol.NewMessage(protocol.NewPacket("hello"))
	assert.Equal(t, 2, c.Publish(msg))
	assert.Equal(t, 1, l.count())
	assert.Equal(t, 1, other.count())
}

func TestFuncListenersAreDistinct(t *testing.T) {
	c, _ := newTestConnection(t)
	var calls int
	fn := MessageListenerFunc(func(*Connection, *protocol.Message) { calls++ })

	_, err := c.AddMessageListener(fn)
	require.NoError(t, err)
	_, err = c.AddMessageListener(fn)
	require.NoError(t, err)

	c.Publish(protocol.NewMessage("x"))
	assert.Equal(t, 2, calls)
}

func TestDuplicateConnectionAndFrameListeners(t *testing.T) {
	c, _ := newTestConnection(t)

	type connL struct{ ConnectionListenerFuncs }
	cl := &connL{}
	_, err := c.AddConnectionListener(cl)
	require.NoError(t, err)
	_, err = c.AddConnectionListener(cl)
	assert.ErrorIs(t, err, ErrDuplicateListener)

	fl := &frameCounter{}
	_, err = c.AddFrameListener(fl)
	require.NoError(t, err)
	_, err = c.AddFrameListener(fl)
	assert.ErrorIs(t, err, ErrDuplicateListener)

	_, err = c.AddMessageListener(nil)
	assert.ErrorIs(t, err, ErrNilListener)
	var typedNil *countingListener
	_, err = c.AddMessageListener(typedNil)
	assert.ErrorIs(t, err, ErrNilListener)
}

type frameCounter struct{ n int }

func (f *frameCounter) OnFrame(*Connection, *buffer.MemoryBuffer) { f.n++ }

func TestRemoveListener(t *testing.T) {
	c, _ := newTestConnection(t)
	l := &countingListener{}

	id, err := c.AddMessageListener(l)
	require.NoError(t, err)
	c.RemoveMessageListener(id)
	c.RemoveMessageListener(identifier.NewRandom())

	assert.Equal(t, 0, c.Publish(protocol.NewMessage("x")))

	// A removed instance can be registered again.
	_, err = c.AddMessageListener(l)
	assert.NoError(t, err)
}

func TestPublishFrameDuplicates(t *testing.T) {
	c, _ := newTestConnection(t)
	frame := buffer.Wrap([]byte{1, 2, 3})

	var seen [][]byte
	for i := 0; i < 2; i++ {
		_, err := c.AddFrameListener(FrameListenerFunc(func(_ *Connection, b *buffer.MemoryBuffer) {
			data, _ := b.ReadBytes(b.ReadableBytes())
			seen = append(seen, data)
		}))
		require.NoError(t, err)
	}

	c.PublishFrame(frame)
	assert.Equal(t, [][]byte{{1, 2, 3}, {1, 2, 3}}, seen)
	assert.Equal(t, 0, frame.ReaderIndex())
}

func TestWriteObject(t *testing.T) {
	c, rc := newTestConnection(t)

	msg, err := c.WriteObject(context.Background(), "payload")
	require.NoError(t, err)
	assert.Equal(t, "payload", msg.Body)

	given := protocol.NewMessage(int32(1))
	msg, err = c.WriteObject(context.Background(), given)
	require.NoError(t, err)
	assert.Same(t, given, msg)
	assert.Len(t, rc.written, 2)

	rc.err = errors.New("socket gone")
	_, err = c.WriteObject(context.Background(), "x")
	assert.ErrorIs(t, err, rc.err)
}

func TestLifecycle(t *testing.T) {
	rc := &recordingContext{}
	c := New(identifier.NewRandom(), transport.WebSocket, protocol.MustNew(), rc)
	assert.Equal(t, Handshaking, c.State())

	var events []string
	_, err := c.AddConnectionListener(ConnectionListenerFuncs{
		Connect:    func(*Connection) { events = append(events, "connect") },
		Disconnect: func(*Connection) { events = append(events, "disconnect") },
	})
	require.NoError(t, err)

	require.NoError(t, c.Establish())
	assert.Equal(t, Established, c.State())
	assert.ErrorIs(t, c.Establish(), ErrIllegalState)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, []string{"connect", "disconnect"}, events)
	assert.Equal(t, 1, rc.closes)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done() not closed")
	}

	_, err = c.WriteObject(context.Background(), "x")
	assert.ErrorIs(t, err, ErrConnectionDestroyed)
	_, err = c.AddMessageListener(&countingListener{})
	assert.ErrorIs(t, err, ErrConnectionDestroyed)
}

func TestListenerPanicIsReported(t *testing.T) {
	c, _ := newTestConnection(t)
	observer := &countingListener{}
	_, err := c.AddMessageListener(observer)
	require.NoError(t, err)
	_, err = c.AddMessageListener(MessageListenerFunc(func(*Connection, *protocol.Message) {
		panic("listener bug")
	}))
	require.NoError(t, err)

	c.Publish(protocol.NewMessage("x"))

	observer.mu.Lock()
	defer observer.mu.Unlock()
	require.Len(t, observer.errs, 1)
	var lpe *ListenerPanicError
	require.ErrorAs(t, observer.errs[0], &lpe)
	assert.Equal(t, "listener bug", lpe.Panic)
}

func TestExceptionListener(t *testing.T) {
	c, _ := newTestConnection(t)
	var got error
	_, err := c.AddExceptionListener(ExceptionListenerFunc(func(_ *Connection, err error) { got = err }))
	require.NoError(t, err)

	boom := errors.New("boom")
	c.ReportException(boom)
	assert.ErrorIs(t, got, boom)
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Unauthenticated, Handshaking, true},
		{Unauthenticated, Established, false},
		{Handshaking, Established, true},
		{Handshaking, Closed, true},
		{Established, Closed, true},
		{Established, Handshaking, false},
		{Closed, Established, false},
	}
	for _, tc := range tests {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s.CanTransition(%s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

// pipeSocket records frames written by a StreamingContext.
type pipeSocket struct {
	frames [][]byte
	closed bool
}

func (s *pipeSocket) WriteFrame(_ context.Context, buf *buffer.MemoryBuffer) error {
	s.frames = append(s.frames, append([]byte(nil), buf.Bytes()...))
	return nil
}

func (s *pipeSocket) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func (s *pipeSocket) Close() error {
	s.closed = true
	return nil
}

func TestStreamingContext(t *testing.T) {
	p := protocol.MustNew()
	pool := buffer.NewPool()
	sock := &pipeSocket{}
	c := New(identifier.NewRandom(), transport.TCP, p, NewStreamingContext(sock, pool))
	require.NoError(t, c.Establish())

	sent, err := c.WriteObject(context.Background(), protocol.NewPacket("ping"))
	require.NoError(t, err)
	require.Len(t, sock.frames, 1)

	frame, err := p.ReadFrame(buffer.Wrap(sock.frames[0]))
	require.NoError(t, err)
	assert.True(t, frame.LoggedIn)
	assert.Equal(t, c.ID(), frame.ConnectionID)
	assert.True(t, sent.Equal(frame.Payload.(*protocol.Message)))
	assert.Equal(t, int64(1), pool.Stats().Reclaimed)

	require.NoError(t, c.Close())
	assert.True(t, sock.closed)
}

func TestPollingContext(t *testing.T) {
	p := protocol.MustNew()
	q := NewMessageQueue(OldestFirst)
	pc := NewPollingContext(q, nil)
	c := New(identifier.NewRandom(), transport.HTTPPolling, p, pc)
	require.NoError(t, c.Establish())
	assert.False(t, c.Context().Streaming())

	sent, err := c.WriteObject(context.Background(), "queued")
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.LatestUpdateID())

	resp := decodeSnapshot(t, p, q.Snapshot(0))
	require.Len(t, resp.Messages, 1)
	assert.True(t, sent.Equal(resp.Messages[0]))

	require.NoError(t, c.Close())
	assert.Equal(t, 0, q.Len())
}
