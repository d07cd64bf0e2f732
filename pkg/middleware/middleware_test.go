package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

func newConn(t *testing.T, tr transport.Transport) *connection.Connection {
	t.Helper()
	p, err := protocol.New()
	require.NoError(t, err)
	queue := connection.NewMessageQueue(connection.OldestFirst)
	c := connection.New(identifier.NewRandom(), tr, p, connection.NewPollingContext(queue, buffer.NewPool()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func tagging(tag string, trail *[]string) Middleware {
	return func(next connection.MessageListener) connection.MessageListener {
		return connection.MessageListenerFunc(func(c *connection.Connection, msg *protocol.Message) {
			*trail = append(*trail, tag)
			next.OnMessage(c, msg)
		})
	}
}

func TestChainOrder(t *testing.T) {
	var trail []string
	l := Chain(connection.MessageListenerFunc(func(*connection.Connection, *protocol.Message) {
		trail = append(trail, "listener")
	}), tagging("a", &trail), nil, tagging("b", &trail))

	l.OnMessage(newConn(t, transport.TCP), protocol.NewMessage("x"))
	assert.Equal(t, []string{"a", "b", "listener"}, trail)
}

func TestChainEmpty(t *testing.T) {
	called := false
	base := connection.MessageListenerFunc(func(*connection.Connection, *protocol.Message) { called = true })
	Chain(base).OnMessage(newConn(t, transport.TCP), protocol.NewMessage(nil))
	assert.True(t, called)
}

func TestBodyType(t *testing.T) {
	tests := []struct {
		name string
		msg  *protocol.Message
		want string
	}{
		{"nil message", nil, "nil"},
		{"nil body", protocol.NewMessage(nil), "nil"},
		{"string", protocol.NewMessage("hi"), "string"},
		{"int32", protocol.NewMessage(int32(4)), "int32"},
		{"packet", protocol.NewMessage(protocol.NewPacket("chat")), "packet:chat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BodyType(tt.msg))
		})
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	conn := newConn(t, transport.WebSocket)

	l := Chain(connection.MessageListenerFunc(func(*connection.Connection, *protocol.Message) {}), Logging(zap.New(core)))
	l.OnMessage(conn, protocol.NewMessage("hi"))

	entries := logs.FilterMessage("message handled").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, conn.ID().String(), fields["connection"])
	assert.Equal(t, "string", fields["type"])
}

func TestLoggingPanic(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Chain(connection.MessageListenerFunc(func(*connection.Connection, *protocol.Message) {
		panic("boom")
	}), Logging(zap.New(core)))

	assert.PanicsWithValue(t, "boom", func() {
		l.OnMessage(newConn(t, transport.TCP), protocol.NewMessage("hi"))
	})
	assert.Equal(t, 1, logs.FilterMessage("listener panicked").Len())
	assert.Zero(t, logs.FilterMessage("message handled").Len())
}

func TestLoggingNilLogger(t *testing.T) {
	called := false
	l := Logging(nil)(connection.MessageListenerFunc(func(*connection.Connection, *protocol.Message) { called = true }))
	l.OnMessage(newConn(t, transport.TCP), protocol.NewMessage(nil))
	assert.True(t, called)
}
