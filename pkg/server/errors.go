package server

import (
	"errors"
	"fmt"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/connection"
	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
)

// Sentinel errors for server and session error conditions.
var (
	// ErrServerClosed is returned by Start after Stop.
	ErrServerClosed = errors.New("server: closed")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("server: already started")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("server: invalid config")

	// ErrHandshakeRejected is returned when the HandshakeHandler answers nil.
	// The session closes without a response.
	ErrHandshakeRejected = errors.New("server: handshake rejected")

	// ErrIllegalHandshakeResponse is returned when the HandshakeHandler
	// answers with the handshake it was given.
	ErrIllegalHandshakeResponse = errors.New("server: handshake handler returned its input")

	// ErrUnexpectedFrame is returned when a frame does not fit the session
	// state, e.g. a second handshake on an established socket.
	ErrUnexpectedFrame = errors.New("server: unexpected frame")

	// ErrUnknownConnection is returned for a logged-in frame whose id is not
	// managed by this server.
	ErrUnknownConnection = errors.New("server: unknown connection")

	// ErrConnectionMismatch is returned when a logged-in frame names a
	// connection that does not belong to the session it arrived on.
	ErrConnectionMismatch = errors.New("server: connection does not belong to session")

	// ErrRateLimited is returned when the handshake rate limit denies a
	// session.
	ErrRateLimited = errors.New("server: handshake rate limited")
)

// SessionError wraps an error with the connection it happened on.
type SessionError struct {
	ConnectionID identifier.Identifier
	Op           string // Operation that failed
	Err          error  // Underlying error
}

// Error returns the error message with connection context.
func (e *SessionError) Error() string {
	if e.ConnectionID.IsZero() {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: connection %s: %s: %v", e.ConnectionID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(id identifier.Identifier, op string, err error) *SessionError {
	return &SessionError{
		ConnectionID: id,
		Op:           op,
		Err:          err,
	}
}

// IsDecodeError reports whether err came from a malformed frame or payload.
func IsDecodeError(err error) bool {
	var se *protocol.SystemError
	switch {
	case errors.Is(err, protocol.ErrBadMagic),
		errors.Is(err, protocol.ErrUnknownTypeID),
		errors.Is(err, protocol.ErrUnexpectedPayload),
		errors.Is(err, protocol.ErrCollectionTooLarge),
		errors.Is(err, protocol.ErrNestingTooDeep),
		errors.Is(err, protocol.ErrUnknownConstant),
		errors.Is(err, protocol.ErrBadBitSetChunk),
		errors.Is(err, protocol.ErrUnknownType),
		errors.Is(err, buffer.ErrBufferUnderflow),
		errors.Is(err, buffer.ErrStringTooLong),
		errors.Is(err, buffer.ErrVarintOverflow),
		errors.Is(err, ErrUnexpectedFrame),
		errors.As(err, &se):
		return true
	}
	return false
}

// errorKind labels err for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrHandshakeRejected):
		return "rejected"
	case errors.Is(err, ErrIllegalHandshakeResponse):
		return "illegal_response"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnknownConnection), errors.Is(err, connection.ErrConnectionDestroyed):
		return "unknown_connection"
	case errors.Is(err, ErrConnectionMismatch):
		return "mismatch"
	case IsDecodeError(err):
		return "decode"
	}
	return "transport"
}
