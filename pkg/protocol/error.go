package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Registry errors, returned by New.
var (
	ErrReservedTypeID  = errors.New("protocol: type id is in the reserved range")
	ErrDuplicateTypeID = errors.New("protocol: duplicate type id")
	ErrInvalidType     = errors.New("protocol: type must be Marshallable or embed Packet")
)

// Codec errors.
var (
	ErrUnknownType        = errors.New("protocol: type is not registered")
	ErrNoMarshaller       = errors.New("protocol: no marshaller accepts value")
	ErrUnknownTypeID      = errors.New("protocol: unknown type id")
	ErrNilValue           = errors.New("protocol: nil value written as non-nullable object")
	ErrCollectionTooLarge = errors.New("protocol: collection count exceeds limit")
	ErrBadMagic           = errors.New("protocol: bad magic header")
	ErrUnexpectedPayload  = errors.New("protocol: unexpected payload type")
	ErrNestingTooDeep     = errors.New("protocol: objects nested too deeply")
	ErrCharRange          = errors.New("protocol: rune outside the basic multilingual plane")
)

// SystemError wraps a failure raised by a marshaller, a filter or a
// Marshallable implementation. The buffer being written or read must be
// discarded.
type SystemError struct {
	TypeID TypeID
	Field  string
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *SystemError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("protocol: %s %s (field %q): %v", e.Op, e.TypeID, e.Field, e.Err)
	}
	return fmt.Sprintf("protocol: %s %s: %v", e.Op, e.TypeID, e.Err)
}

// Unwrap returns the underlying error.
func (e *SystemError) Unwrap() error {
	return e.Err
}

// SerializationError carries the logical path of nested objects that were
// being serialized when Err occurred. It is produced by a StackDebugger.
type SerializationError struct {
	// Frames runs from the outermost object to the innermost.
	Frames []DebugFrame
	Err    error
}

// Error renders the frame path followed by the cause.
func (e *SerializationError) Error() string {
	var b strings.Builder
	for i, f := range e.Frames {
		if i > 0 {
			b.WriteString(" > ")
		}
		b.WriteString(f.String())
	}
	if len(e.Frames) > 0 {
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	return b.String()
}

// Unwrap returns the underlying error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// isCodecError reports whether err was already classified by this package.
func isCodecError(err error) bool {
	if errors.Is(err, ErrNestingTooDeep) {
		return true
	}
	var se *SystemError
	if errors.As(err, &se) {
		return true
	}
	var ser *SerializationError
	return errors.As(err, &ser)
}
