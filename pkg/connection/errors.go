package connection

import (
	"errors"
	"fmt"

	"github.com/vango-dev/tengi/pkg/identifier"
)

var (
	// ErrConnectionDestroyed is returned by operations on a closed
	// connection.
	ErrConnectionDestroyed = errors.New("connection: connection destroyed")

	// ErrDuplicateListener is returned when the same listener instance is
	// registered twice.
	ErrDuplicateListener = errors.New("connection: listener already registered")

	// ErrNilListener is returned when registering a nil listener.
	ErrNilListener = errors.New("connection: nil listener")

	// ErrIllegalState is returned on a transition the state machine does
	// not allow.
	ErrIllegalState = errors.New("connection: illegal state transition")
)

// ListenerPanicError reports a panic raised by a listener during dispatch.
type ListenerPanicError struct {
	ConnectionID identifier.Identifier
	Listener     string
	Panic        any
	Stack        []byte
}

// Error returns the error message.
func (e *ListenerPanicError) Error() string {
	return fmt.Sprintf("connection: %s panicked on connection %s: %v", e.Listener, e.ConnectionID, e.Panic)
}
