package client

import (
	"errors"
	"fmt"

	"github.com/vango-dev/tengi/pkg/transport"
)

var (
	// ErrHandshakeRejected is returned when the server ends the session or
	// answers 403 instead of sending a handshake response.
	ErrHandshakeRejected = errors.New("client: handshake rejected")

	// ErrUnexpectedResponse is returned when the handshake reply is not a
	// logged-in envelope carrying a handshake message.
	ErrUnexpectedResponse = errors.New("client: unexpected handshake response")

	// ErrNoTransport is returned by Connect when no transport is configured.
	ErrNoTransport = errors.New("client: no transport configured")

	// ErrClientClosed is returned by Connect after Close.
	ErrClientClosed = errors.New("client: closed")

	// ErrInvalidConfig wraps configuration problems reported by New.
	ErrInvalidConfig = errors.New("client: invalid configuration")
)

// ConnectionFailedError reports why a transport could not establish a
// connection.
type ConnectionFailedError struct {
	Transport transport.Transport
	Addr      string
	Err       error
}

// Error implements the error interface.
func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("client: connect %s %s: %v", e.Transport, e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionFailedError) Unwrap() error {
	return e.Err
}
