package protocol

import (
	"fmt"
	"reflect"
)

// Direction tells whether a debug frame was recorded while writing or
// reading.
type Direction uint8

const (
	Serialize Direction = iota
	Deserialize
)

// String returns the verb used in rendered frames.
func (d Direction) String() string {
	if d == Deserialize {
		return "deserializing"
	}
	return "serializing"
}

// Codec is implemented by Encoder and Decoder. Debug frames live on the
// codec, which is owned by one goroutine at a time, so the stack needs no
// synchronization.
type Codec interface {
	Protocol() *Protocol
	debugFrames() *[]DebugFrame
}

// DebugFrame is one level of nested object serialization.
type DebugFrame struct {
	Direction Direction
	Field     string
	TypeName  string
	// Preview is a short rendering of the value, only set when the
	// debugger captures values.
	Preview string
}

// String renders "deserializing field X of type Y".
func (f DebugFrame) String() string {
	s := f.Direction.String()
	if f.Field != "" {
		s += " field " + f.Field
	}
	s += " of type " + f.TypeName
	if f.Preview != "" {
		s += " (" + f.Preview + ")"
	}
	return s
}

// Debugger records the logical object path during serialization so errors
// raised deep inside nested marshallers can report it.
type Debugger interface {
	Push(p *Protocol, c Codec, dir Direction, field string, value any)
	Pop(c Codec)
	// FixFrames attaches the current frame path to err.
	FixFrames(c Codec, err error) error
}

type noopDebugger struct{}

func (noopDebugger) Push(*Protocol, Codec, Direction, string, any) {}
func (noopDebugger) Pop(Codec)                                     {}
func (noopDebugger) FixFrames(_ Codec, err error) error            { return err }

// NoopDebugger records nothing. It is the default.
var NoopDebugger Debugger = noopDebugger{}

const maxPreview = 64

// StackDebugger keeps a frame per nested WriteObject/ReadObject call and
// wraps the first error in a SerializationError.
type StackDebugger struct {
	captureValues bool
}

// NewStackDebugger returns a debugger. With captureValues set, frames carry
// a short preview of the value being written; this keeps the preview text
// alive until the frame is popped.
func NewStackDebugger(captureValues bool) *StackDebugger {
	return &StackDebugger{captureValues: captureValues}
}

// Push records a frame. On read the type is resolved by peeking the type id
// without moving the cursor.
func (d *StackDebugger) Push(p *Protocol, c Codec, dir Direction, field string, value any) {
	f := DebugFrame{Direction: dir, Field: field}
	if dir == Serialize {
		f.TypeName = typeNameOf(value)
		if d.captureValues && value != nil {
			f.Preview = preview(value)
		}
	} else {
		f.TypeName = peekTypeName(p, c)
	}
	frames := c.debugFrames()
	*frames = append(*frames, f)
}

// Pop removes the top frame.
func (d *StackDebugger) Pop(c Codec) {
	frames := c.debugFrames()
	if n := len(*frames); n > 0 {
		*frames = (*frames)[:n-1]
	}
}

// FixFrames wraps err with a copy of the current frame path, unless an inner
// frame already did.
func (d *StackDebugger) FixFrames(c Codec, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*SerializationError); ok {
		return err
	}
	frames := *c.debugFrames()
	path := make([]DebugFrame, len(frames))
	copy(path, frames)
	return &SerializationError{Frames: path, Err: err}
}

func typeNameOf(value any) string {
	if value == nil {
		return "<nil>"
	}
	return reflect.TypeOf(value).String()
}

func peekTypeName(p *Protocol, c Codec) string {
	dec, ok := c.(*Decoder)
	if !ok || dec.buf == nil {
		return "unknown"
	}
	b := dec.buf.Bytes()
	if len(b) < 2 {
		return "unknown"
	}
	id := TypeID(int16(uint16(b[0])<<8 | uint16(b[1])))
	if len(b) >= 4 && (id == TypePacket || id == TypeMarshallable) {
		inner := TypeID(int16(uint16(b[2])<<8 | uint16(b[3])))
		return p.typeName(inner)
	}
	return p.typeName(id)
}

func preview(value any) string {
	s := fmt.Sprintf("%v", value)
	if len(s) > maxPreview {
		s = s[:maxPreview] + "..."
	}
	return s
}
