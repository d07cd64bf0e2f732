package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/identifier"
)

// ConnectionManager tracks every established connection of a server. A
// connection leaves the manager when it closes, whatever closed it.
type ConnectionManager struct {
	// Connections map protected by RWMutex
	conns map[identifier.Identifier]*managed
	mu    sync.RWMutex

	// Cleanup
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	done            chan struct{}
	cleanupDone     chan struct{}
	stopOnce        sync.Once

	// Metrics
	totalRegistered atomic.Uint64
	totalClosed     atomic.Uint64
	totalReaped     atomic.Uint64
	peak            int

	metrics *Metrics
	logger  *zap.SugaredLogger
}

type managed struct {
	conn     *connection.Connection
	lastSeen atomic.Int64 // unix nanoseconds
}

// ManagerStats is a point-in-time view of a ConnectionManager.
type ManagerStats struct {
	Active          int
	Peak            int
	TotalRegistered uint64
	TotalClosed     uint64
	TotalReaped     uint64
}

// NewConnectionManager creates a manager. With idleTimeout > 0 a reaper
// closes polling connections that have not been seen for idleTimeout,
// checking every cleanupInterval. metrics and logger may be nil.
func NewConnectionManager(idleTimeout, cleanupInterval time.Duration, metrics *Metrics, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &ConnectionManager{
		conns:           make(map[identifier.Identifier]*managed),
		idleTimeout:     idleTimeout,
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		metrics:         metrics,
		logger:          logger.Sugar(),
	}
	if idleTimeout > 0 && cleanupInterval > 0 {
		go m.cleanupLoop()
	} else {
		close(m.cleanupDone)
	}
	return m
}

// Register adds c and arranges for its removal on close.
func (m *ConnectionManager) Register(c *connection.Connection) error {
	m.mu.Lock()
	if _, dup := m.conns[c.ID()]; dup {
		m.mu.Unlock()
		return fmt.Errorf("%w: connection %s registered twice", connection.ErrIllegalState, c.ID())
	}
	e := &managed{conn: c}
	e.lastSeen.Store(time.Now().UnixNano())
	m.conns[c.ID()] = e
	if len(m.conns) > m.peak {
		m.peak = len(m.conns)
	}
	active := len(m.conns)
	m.mu.Unlock()

	_, err := c.AddConnectionListener(connection.ConnectionListenerFuncs{
		Disconnect: func(c *connection.Connection) { m.remove(c.ID()) },
	})
	if err != nil {
		m.remove(c.ID())
		return err
	}

	m.totalRegistered.Inc()
	if m.metrics != nil {
		m.metrics.connectionOpened()
	}
	m.logger.Infow("connection registered",
		"connection", c.ID(),
		"transport", c.Transport(),
		"active_connections", active)
	return nil
}

func (m *ConnectionManager) remove(id identifier.Identifier) {
	m.mu.Lock()
	_, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.totalClosed.Inc()
	if m.metrics != nil {
		m.metrics.connectionClosed()
	}
	m.logger.Debugw("connection removed", "connection", id)
}

// Get retrieves a connection by id.
func (m *ConnectionManager) Get(id identifier.Identifier) (*connection.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.conns[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Touch marks the connection as active now.
func (m *ConnectionManager) Touch(id identifier.Identifier) {
	m.mu.RLock()
	e, ok := m.conns[id]
	m.mu.RUnlock()
	if ok {
		e.lastSeen.Store(time.Now().UnixNano())
	}
}

// Len returns the number of managed connections.
func (m *ConnectionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Range calls fn for every managed connection until fn returns false. fn
// runs without the manager lock held.
func (m *ConnectionManager) Range(fn func(c *connection.Connection) bool) {
	for _, c := range m.snapshot() {
		if !fn(c) {
			return
		}
	}
}

func (m *ConnectionManager) snapshot() []*connection.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*connection.Connection, 0, len(m.conns))
	for _, e := range m.conns {
		out = append(out, e.conn)
	}
	return out
}

// cleanupLoop periodically closes idle polling connections.
func (m *ConnectionManager) cleanupLoop() {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.reapIdle(now)
		case <-m.done:
			return
		}
	}
}

// reapIdle closes polling connections idle since before now-idleTimeout.
// Streaming connections are bounded by their socket instead.
func (m *ConnectionManager) reapIdle(now time.Time) int {
	cutoff := now.Add(-m.idleTimeout).UnixNano()

	m.mu.RLock()
	var idle []*connection.Connection
	for _, e := range m.conns {
		if !e.conn.Transport().Streaming() && e.lastSeen.Load() < cutoff {
			idle = append(idle, e.conn)
		}
	}
	m.mu.RUnlock()

	for _, c := range idle {
		_ = c.Close()
	}
	if n := len(idle); n > 0 {
		m.totalReaped.Add(uint64(n))
		m.logger.Infow("closed idle connections", "count", n, "remaining", m.Len())
	}
	return len(idle)
}

// Shutdown stops the reaper and closes every connection concurrently. It
// returns ctx.Err() if ctx ends first.
func (m *ConnectionManager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.done) })
	<-m.cleanupDone

	conns := m.snapshot()
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *connection.Connection) {
			defer wg.Done()
			_ = c.Close()
		}(c)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		m.logger.Infow("all connections closed", "count", len(conns))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current manager statistics.
func (m *ConnectionManager) Stats() ManagerStats {
	m.mu.RLock()
	active, peak := len(m.conns), m.peak
	m.mu.RUnlock()
	return ManagerStats{
		Active:          active,
		Peak:            peak,
		TotalRegistered: m.totalRegistered.Load(),
		TotalClosed:     m.totalClosed.Load(),
		TotalReaped:     m.totalReaped.Load(),
	}
}
