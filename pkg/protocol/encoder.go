package protocol

import (
	"fmt"
	"math"

	"github.com/vango-dev/tengi/pkg/buffer"
)

// Encoder writes typed values into a MemoryBuffer through a Protocol.
//
// Every write takes a field name. The name never reaches the wire; it labels
// debug frames when a StackDebugger is installed.
//
// Write errors are sticky: the first failure is kept, later writes become
// no-ops, and the error is reported by Err, WriteObject and
// WriteNullableObject. A buffer that saw a failed write must be discarded.
type Encoder struct {
	protocol *Protocol
	buf      *buffer.MemoryBuffer
	err      error
	frames   []DebugFrame
	depth    int
}

// Protocol returns the registry the encoder writes through.
func (e *Encoder) Protocol() *Protocol { return e.protocol }

// Buffer returns the target buffer.
func (e *Encoder) Buffer() *buffer.MemoryBuffer { return e.buf }

// Err returns the first write error, if any.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) debugFrames() *[]DebugFrame { return &e.frames }

// Release returns the encoder to its protocol's pool. The encoder must not
// be used afterwards.
func (e *Encoder) Release() {
	e.buf = nil
	e.err = nil
	e.depth = 0
	e.frames = e.frames[:0]
	e.protocol.encoders.Put(e)
}

func (e *Encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) check(err error) {
	if err != nil {
		e.fail(err)
	}
}

// WriteUint8 writes a single byte.
func (e *Encoder) WriteUint8(field string, v byte) {
	if e.err == nil {
		e.check(e.buf.WriteByte(v))
	}
}

// WriteInt8 writes a signed byte.
func (e *Encoder) WriteInt8(field string, v int8) {
	e.WriteUint8(field, byte(v))
}

// WriteBool writes a boolean as 0x00 or 0x01.
func (e *Encoder) WriteBool(field string, v bool) {
	if e.err == nil {
		e.check(e.buf.WriteBool(v))
	}
}

// WriteChar writes a rune from the Basic Multilingual Plane as one
// big-endian UTF-16 code unit. Runes above U+FFFF fail with ErrCharRange.
func (e *Encoder) WriteChar(field string, r rune) {
	if r < 0 || r > 0xFFFF {
		e.fail(fmt.Errorf("%w: %U", ErrCharRange, r))
		return
	}
	e.WriteUint16(field, uint16(r))
}

// WriteInt16 writes a big-endian int16.
func (e *Encoder) WriteInt16(field string, v int16) {
	if e.err == nil {
		e.check(e.buf.WriteInt16(v))
	}
}

// WriteUint16 writes a big-endian uint16.
func (e *Encoder) WriteUint16(field string, v uint16) {
	if e.err == nil {
		e.check(e.buf.WriteUint16(v))
	}
}

// WriteInt32 writes a big-endian int32.
func (e *Encoder) WriteInt32(field string, v int32) {
	if e.err == nil {
		e.check(e.buf.WriteInt32(v))
	}
}

// WriteUint32 writes a big-endian uint32.
func (e *Encoder) WriteUint32(field string, v uint32) {
	if e.err == nil {
		e.check(e.buf.WriteUint32(v))
	}
}

// WriteInt64 writes a big-endian int64.
func (e *Encoder) WriteInt64(field string, v int64) {
	if e.err == nil {
		e.check(e.buf.WriteInt64(v))
	}
}

// WriteUint64 writes a big-endian uint64.
func (e *Encoder) WriteUint64(field string, v uint64) {
	if e.err == nil {
		e.check(e.buf.WriteUint64(v))
	}
}

// WriteFloat32 writes an IEEE 754 float32.
func (e *Encoder) WriteFloat32(field string, v float32) {
	e.WriteUint32(field, math.Float32bits(v))
}

// WriteFloat64 writes an IEEE 754 float64.
func (e *Encoder) WriteFloat64(field string, v float64) {
	e.WriteUint64(field, math.Float64bits(v))
}

// WriteCompressedInt32 writes a zigzag varint.
func (e *Encoder) WriteCompressedInt32(field string, v int32) {
	if e.err == nil {
		e.check(e.buf.WriteCompressedInt32(v))
	}
}

// WriteCompressedInt64 writes a zigzag varint.
func (e *Encoder) WriteCompressedInt64(field string, v int64) {
	if e.err == nil {
		e.check(e.buf.WriteCompressedInt64(v))
	}
}

// WriteString writes a 2-byte length prefixed UTF-8 string.
func (e *Encoder) WriteString(field string, v string) {
	if e.err == nil {
		e.check(e.buf.WriteString(v))
	}
}

// WriteByteArray writes an int32 length followed by the bytes.
func (e *Encoder) WriteByteArray(field string, v []byte) {
	if len(v) > math.MaxInt32 {
		e.fail(buffer.ErrBufferOverflow)
		return
	}
	e.WriteInt32(field, int32(len(v)))
	e.WriteRaw(field, v)
}

// WriteRaw writes bytes without a length prefix.
func (e *Encoder) WriteRaw(field string, v []byte) {
	if e.err == nil {
		e.check(e.buf.WriteBytes(v))
	}
}

// WriteBuffer copies the readable bytes of src without a length prefix.
func (e *Encoder) WriteBuffer(field string, src *buffer.MemoryBuffer) {
	if e.err != nil {
		return
	}
	want := src.ReadableBytes()
	n, err := e.buf.WriteBuffer(src)
	if err == nil && n < want {
		err = buffer.ErrBufferOverflow
	}
	e.check(err)
}

// WriteObject writes value with its type id through the Protocol. value
// must not be nil. Objects nest at most MaxNestingDepth levels.
func (e *Encoder) WriteObject(field string, value any) error {
	if e.err != nil {
		return e.err
	}
	if e.depth >= MaxNestingDepth {
		err := fmt.Errorf("%w: %d levels (field %q)", ErrNestingTooDeep, MaxNestingDepth, field)
		e.fail(err)
		return err
	}
	e.depth++
	defer func() { e.depth-- }()

	d := e.protocol.debugger
	d.Push(e.protocol, e, Serialize, field, value)
	defer d.Pop(e)

	if err := e.protocol.writeObject(field, value, e); err != nil {
		err = d.FixFrames(e, err)
		e.fail(err)
		return err
	}
	return nil
}

// WriteNullableObject writes a presence byte, then value if it is not nil.
func (e *Encoder) WriteNullableObject(field string, value any) error {
	if value == nil {
		e.WriteBool(field, false)
		return e.err
	}
	e.WriteBool(field, true)
	if e.err != nil {
		return e.err
	}
	return e.WriteObject(field, value)
}

// WriteNullable writes a presence byte and, if value is not nil, calls
// write. It is the nullable form for values with their own layout.
func WriteNullable[T any](enc *Encoder, field string, value *T, write func(enc *Encoder, v *T) error) error {
	if value == nil {
		enc.WriteBool(field, false)
		return enc.Err()
	}
	enc.WriteBool(field, true)
	if err := enc.Err(); err != nil {
		return err
	}
	if err := write(enc, value); err != nil {
		enc.fail(err)
		return err
	}
	return enc.Err()
}
