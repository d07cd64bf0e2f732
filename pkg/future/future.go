// Package future provides a deferred result for operations that complete
// asynchronously, such as connecting a client or starting a server.
//
// Callers either block with Get, select on Done, or register a continuation
// with Then.
package future

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyCompleted is returned when a future is completed twice.
var ErrAlreadyCompleted = errors.New("future: already completed")

// Result is the outcome of a completed future.
type Result[T any] struct {
	Value T
	Err   error
}

// Future is a single-assignment result. The zero value is not usable; create
// one with New, Completed or Failed.
type Future[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	result    Result[T]
	completed bool
	callbacks []func(Result[T])
}

// New returns a pending future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future that already holds v.
func Completed[T any](v T) *Future[T] {
	f := New[T]()
	_ = f.Complete(v)
	return f
}

// Failed returns a future that already holds err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	_ = f.Fail(err)
	return f
}

// Go runs fn in a new goroutine and completes the future with its result.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := New[T]()
	go func() {
		v, err := fn()
		if err != nil {
			_ = f.Fail(err)
			return
		}
		_ = f.Complete(v)
	}()
	return f
}

// Complete sets the value. It returns ErrAlreadyCompleted if the future was
// already completed or failed.
func (f *Future[T]) Complete(v T) error {
	return f.set(Result[T]{Value: v})
}

// Fail sets the error. A nil err is not allowed.
func (f *Future[T]) Fail(err error) error {
	if err == nil {
		panic("future: Fail called with nil error")
	}
	return f.set(Result[T]{Err: err})
}

func (f *Future[T]) set(r Result[T]) error {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return ErrAlreadyCompleted
	}
	f.result = r
	f.completed = true
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(r)
	}
	return nil
}

// Done is closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has completed.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future completes or ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.result.Value, f.result.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while the future
// is pending.
func (f *Future[T]) Result() (r Result[T], ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.completed
}

// Then registers fn to run once the future completes. If it already has,
// fn runs immediately on the calling goroutine; otherwise it runs on the
// goroutine that completes the future.
func (f *Future[T]) Then(fn func(Result[T])) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	r := f.result
	f.mu.Unlock()
	fn(r)
}
