package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

func newPollingConn(t *testing.T) *connection.Connection {
	t.Helper()
	q := connection.NewMessageQueue(connection.OldestFirst)
	c := connection.New(identifier.NewRandom(), transport.HTTPPolling, protocol.MustNew(), connection.NewPollingContext(q, nil))
	require.NoError(t, c.Establish())
	return c
}

func newStreamConn(t *testing.T) *connection.Connection {
	t.Helper()
	c := connection.New(identifier.NewRandom(), transport.TCP, protocol.MustNew(), connection.NewStreamingContext(&recordingSocket{}, nil))
	require.NoError(t, c.Establish())
	return c
}

func TestManagerRegisterAndClose(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	m := NewConnectionManager(0, 0, metrics, nil)

	c := newPollingConn(t)
	require.NoError(t, m.Register(c))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connections))

	got, ok := m.Get(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got)

	err := m.Register(c)
	assert.True(t, errors.Is(err, connection.ErrIllegalState), "duplicate register: %v", err)

	require.NoError(t, c.Close())
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.connections))
	_, ok = m.Get(c.ID())
	assert.False(t, ok)

	stats := m.Stats()
	assert.Equal(t, 1, stats.Peak)
	assert.Equal(t, uint64(1), stats.TotalRegistered)
	assert.Equal(t, uint64(1), stats.TotalClosed)
}

func TestManagerReapIdle(t *testing.T) {
	m := NewConnectionManager(time.Minute, time.Hour, nil, nil)
	defer m.Shutdown(context.Background())

	idle := newPollingConn(t)
	active := newPollingConn(t)
	stream := newStreamConn(t)
	for _, c := range []*connection.Connection{idle, active, stream} {
		require.NoError(t, m.Register(c))
	}

	later := time.Now().Add(2 * time.Minute)
	m.mu.RLock()
	m.conns[active.ID()].lastSeen.Store(later.UnixNano())
	m.mu.RUnlock()

	assert.Equal(t, 1, m.reapIdle(later))
	assert.Equal(t, connection.Closed, idle.State())
	assert.Equal(t, connection.Established, active.State())
	assert.Equal(t, connection.Established, stream.State(), "streaming connections are never reaped")
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, uint64(1), m.Stats().TotalReaped)
}

func TestManagerTouch(t *testing.T) {
	m := NewConnectionManager(time.Minute, time.Hour, nil, nil)
	defer m.Shutdown(context.Background())

	c := newPollingConn(t)
	require.NoError(t, m.Register(c))
	m.mu.RLock()
	m.conns[c.ID()].lastSeen.Store(time.Now().Add(-time.Hour).UnixNano())
	m.mu.RUnlock()

	m.Touch(c.ID())
	assert.Equal(t, 0, m.reapIdle(time.Now()))
	m.Touch(identifier.NewRandom())
}

func TestManagerShutdown(t *testing.T) {
	m := NewConnectionManager(time.Minute, 10*time.Millisecond, nil, nil)

	conns := []*connection.Connection{newPollingConn(t), newStreamConn(t), newPollingConn(t)}
	for _, c := range conns {
		require.NoError(t, m.Register(c))
	}

	var seen int
	m.Range(func(*connection.Connection) bool {
		seen++
		return seen < 2
	})
	assert.Equal(t, 2, seen)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 0, m.Len())
	for _, c := range conns {
		assert.Equal(t, connection.Closed, c.State())
	}
	require.NoError(t, m.Shutdown(context.Background()), "second shutdown is a no-op")
}
