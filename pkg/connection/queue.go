package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/atomic"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
)

// Retention is how many update ids behind the newest one a queued message
// stays deliverable.
const Retention = 50

// ReplayOrder is the order messages appear in a polling response.
type ReplayOrder uint8

const (
	// OldestFirst replays messages in the order they were written.
	OldestFirst ReplayOrder = iota
	// NewestFirst puts the latest message first.
	NewestFirst
)

// String returns the order name.
func (o ReplayOrder) String() string {
	switch o {
	case OldestFirst:
		return "oldest-first"
	case NewestFirst:
		return "newest-first"
	default:
		return fmt.Sprintf("ReplayOrder(%d)", uint8(o))
	}
}

// ParseReplayOrder parses "oldest-first" or "newest-first".
func ParseReplayOrder(s string) (ReplayOrder, error) {
	switch s {
	case "", "oldest-first":
		return OldestFirst, nil
	case "newest-first":
		return NewestFirst, nil
	}
	return OldestFirst, fmt.Errorf("connection: unknown replay order %q", s)
}

type queueEntry struct {
	updateID int64
	buf      *buffer.MemoryBuffer
}

// MessageQueue is the per-connection cache of serialized outbound messages
// for polling transports.
//
// Every pushed buffer gets the next update id, starting at 1. A snapshot
// returns the entries newer than the caller's last seen id and not older
// than Retention ids behind the newest. Expired entries are released back
// to their pool once nobody else holds a reference.
type MessageQueue struct {
	order ReplayOrder

	mu       sync.Mutex
	entries  *queue.Queue // *queueEntry, oldest at the head
	notify   chan struct{}
	closed   bool
	updateID atomic.Int64
	evicted  atomic.Int64

	onEvict func(n int)
}

// QueueOption configures a MessageQueue.
type QueueOption func(*MessageQueue)

// WithEvictHook calls fn with the number of entries evicted by each
// eviction pass that removed something.
func WithEvictHook(fn func(n int)) QueueOption {
	return func(q *MessageQueue) {
		q.onEvict = fn
	}
}

// NewMessageQueue returns an empty queue.
func NewMessageQueue(order ReplayOrder, opts ...QueueOption) *MessageQueue {
	q := &MessageQueue{
		order:   order,
		entries: queue.New(),
		notify:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Order returns the replay order.
func (q *MessageQueue) Order() ReplayOrder { return q.order }

// Push appends buf and returns its update id. The queue takes over the
// caller's reference. Pushing onto a closed queue releases buf and returns 0.
func (q *MessageQueue) Push(buf *buffer.MemoryBuffer) int64 {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		buf.Release()
		return 0
	}
	id := q.updateID.Inc()
	q.entries.Add(&queueEntry{updateID: id, buf: buf})
	evicted := q.evictLocked(id - Retention)

	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()

	q.reportEvicted(evicted)
	return id
}

// LatestUpdateID returns the id of the newest push, or 0.
func (q *MessageQueue) LatestUpdateID() int64 { return q.updateID.Load() }

// Len returns the number of queued entries, expired ones included.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Length()
}

// Evicted returns the total number of entries evicted so far.
func (q *MessageQueue) Evicted() int64 { return q.evicted.Load() }

// Snapshot returns a Message whose body is a *protocol.PollingResponse
// holding every entry with an update id above lastUpdateID that is still
// within the retention window, or nil if there is none. Each returned
// buffer is locked; the response releases it once written.
func (q *MessageQueue) Snapshot(lastUpdateID int64) *protocol.Message {
	latest, frames := q.collect(lastUpdateID)
	if len(frames) == 0 {
		return nil
	}
	return &protocol.Message{
		ID:   identifier.NewRandom(),
		Body: protocol.NewPollingResponse(latest, frames),
	}
}

// LongSnapshot is Snapshot for long polls. The body is a
// *protocol.LongPollingResponse.
func (q *MessageQueue) LongSnapshot(lastUpdateID int64) *protocol.Message {
	latest, frames := q.collect(lastUpdateID)
	if len(frames) == 0 {
		return nil
	}
	return &protocol.Message{
		ID:   identifier.NewRandom(),
		Body: protocol.NewLongPollingResponse(latest, frames),
	}
}

func (q *MessageQueue) collect(lastUpdateID int64) (int64, []*buffer.MemoryBuffer) {
	q.mu.Lock()
	floor := q.updateID.Load() - Retention
	evicted := q.evictLocked(floor)

	var (
		latest int64
		frames []*buffer.MemoryBuffer
	)
	for i := 0; i < q.entries.Length(); i++ {
		e := q.entries.Get(i).(*queueEntry)
		if e.updateID <= lastUpdateID || e.updateID <= floor {
			continue
		}
		if err := e.buf.Lock(); err != nil {
			continue
		}
		frames = append(frames, e.buf)
		latest = e.updateID
	}
	q.mu.Unlock()

	q.reportEvicted(evicted)

	if q.order == NewestFirst {
		for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
			frames[i], frames[j] = frames[j], frames[i]
		}
	}
	return latest, frames
}

// evictLocked releases every expired entry nobody else references. Entries
// are ordered by update id, so the expired ones form a prefix. Expired
// entries still held by an in-flight response stay at the head and are
// retried on the next push or snapshot.
func (q *MessageQueue) evictLocked(floor int64) int {
	expired := 0
	for expired < q.entries.Length() && q.entries.Get(expired).(*queueEntry).updateID <= floor {
		expired++
	}

	n := 0
	var held []*queueEntry
	for i := 0; i < expired; i++ {
		e := q.entries.Remove().(*queueEntry)
		if !e.buf.IsReleasable() {
			held = append(held, e)
			continue
		}
		e.buf.Release()
		n++
	}
	if len(held) == 0 {
		return n
	}

	rest := queue.New()
	for _, e := range held {
		rest.Add(e)
	}
	for q.entries.Length() > 0 {
		rest.Add(q.entries.Remove())
	}
	q.entries = rest
	return n
}

func (q *MessageQueue) reportEvicted(n int) {
	if n == 0 {
		return
	}
	q.evicted.Add(int64(n))
	if q.onEvict != nil {
		q.onEvict(n)
	}
}

// Wait blocks until a message newer than lastUpdateID is queued, ctx is
// done or the queue is closed. It reports whether a message is available.
func (q *MessageQueue) Wait(ctx context.Context, lastUpdateID int64) bool {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return false
		}
		if q.updateID.Load() > lastUpdateID {
			q.mu.Unlock()
			return true
		}
		ch := q.notify
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

// Clear releases every entry and resets the update id counter to 0.
func (q *MessageQueue) Clear() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.clearLocked()
	close(q.notify)
	q.notify = make(chan struct{})
	q.mu.Unlock()
}

// Close clears the queue and wakes every waiter. Later pushes are dropped.
func (q *MessageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.clearLocked()
	q.closed = true
	close(q.notify)
}

func (q *MessageQueue) clearLocked() {
	for q.entries.Length() > 0 {
		e := q.entries.Remove().(*queueEntry)
		e.buf.Release()
	}
	q.updateID.Store(0)
}
