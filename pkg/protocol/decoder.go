package protocol

import (
	"fmt"

	"github.com/vango-dev/tengi/pkg/buffer"
)

// Decoder reads typed values from a MemoryBuffer through a Protocol.
//
// A failed read leaves the stream position untrustworthy; callers abort the
// whole frame instead of trying to resynchronize.
type Decoder struct {
	protocol *Protocol
	buf      *buffer.MemoryBuffer
	frames   []DebugFrame
	depth    int
}

// Protocol returns the registry the decoder reads through.
func (d *Decoder) Protocol() *Protocol { return d.protocol }

// Buffer returns the source buffer.
func (d *Decoder) Buffer() *buffer.MemoryBuffer { return d.buf }

func (d *Decoder) debugFrames() *[]DebugFrame { return &d.frames }

// Release returns the decoder to its protocol's pool. The decoder must not
// be used afterwards.
func (d *Decoder) Release() {
	d.buf = nil
	d.depth = 0
	d.frames = d.frames[:0]
	d.protocol.decoders.Put(d)
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return d.buf.ReadableBytes() }

// ReadUint8 reads a single byte.
func (d *Decoder) ReadUint8() (byte, error) { return d.buf.ReadByte() }

// ReadInt8 reads a signed byte.
func (d *Decoder) ReadInt8() (int8, error) {
	v, err := d.buf.ReadByte()
	return int8(v), err
}

// ReadBool reads a boolean. Any non-zero byte is true.
func (d *Decoder) ReadBool() (bool, error) { return d.buf.ReadBool() }

// ReadChar reads a UTF-16 code unit written by WriteChar.
func (d *Decoder) ReadChar() (rune, error) {
	v, err := d.buf.ReadUint16()
	return rune(v), err
}

// ReadInt16 reads a big-endian int16.
func (d *Decoder) ReadInt16() (int16, error) { return d.buf.ReadInt16() }

// ReadUint16 reads a big-endian uint16.
func (d *Decoder) ReadUint16() (uint16, error) { return d.buf.ReadUint16() }

// ReadInt32 reads a big-endian int32.
func (d *Decoder) ReadInt32() (int32, error) { return d.buf.ReadInt32() }

// ReadUint32 reads a big-endian uint32.
func (d *Decoder) ReadUint32() (uint32, error) { return d.buf.ReadUint32() }

// ReadInt64 reads a big-endian int64.
func (d *Decoder) ReadInt64() (int64, error) { return d.buf.ReadInt64() }

// ReadUint64 reads a big-endian uint64.
func (d *Decoder) ReadUint64() (uint64, error) { return d.buf.ReadUint64() }

// ReadFloat32 reads an IEEE 754 float32.
func (d *Decoder) ReadFloat32() (float32, error) { return d.buf.ReadFloat32() }

// ReadFloat64 reads an IEEE 754 float64.
func (d *Decoder) ReadFloat64() (float64, error) { return d.buf.ReadFloat64() }

// ReadCompressedInt32 reads a zigzag varint that must fit in 32 bits.
func (d *Decoder) ReadCompressedInt32() (int32, error) { return d.buf.ReadCompressedInt32() }

// ReadCompressedInt64 reads a zigzag varint.
func (d *Decoder) ReadCompressedInt64() (int64, error) { return d.buf.ReadCompressedInt64() }

// ReadString reads a 2-byte length prefixed UTF-8 string.
func (d *Decoder) ReadString() (string, error) { return d.buf.ReadString() }

// ReadByteArray reads an int32 length followed by that many bytes. The
// result is a copy.
func (d *Decoder) ReadByteArray() ([]byte, error) {
	n, err := d.buf.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 || int(n) > d.buf.ReadableBytes() {
		return nil, fmt.Errorf("byte array of %d bytes: %w", n, buffer.ErrBufferUnderflow)
	}
	return d.buf.ReadBytes(int(n))
}

// ReadRaw reads exactly n bytes without a length prefix.
func (d *Decoder) ReadRaw(n int) ([]byte, error) { return d.buf.ReadBytes(n) }

// readCount reads a compressed collection size and bounds it.
func (d *Decoder) readCount() (int, error) {
	n, err := d.buf.ReadCompressedInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > MaxCollectionCount {
		return 0, fmt.Errorf("%w: %d", ErrCollectionTooLarge, n)
	}
	return int(n), nil
}

// ReadObject reads a type id and the value it tags. Objects nested deeper
// than MaxNestingDepth fail with ErrNestingTooDeep before their type id is
// read.
func (d *Decoder) ReadObject(field string) (any, error) {
	if d.depth >= MaxNestingDepth {
		return nil, fmt.Errorf("%w: %d levels (field %q)", ErrNestingTooDeep, MaxNestingDepth, field)
	}
	d.depth++
	defer func() { d.depth-- }()

	dbg := d.protocol.debugger
	dbg.Push(d.protocol, d, Deserialize, field, nil)
	defer dbg.Pop(d)

	v, err := d.protocol.readObject(field, d)
	if err != nil {
		return nil, dbg.FixFrames(d, err)
	}
	return v, nil
}

// ReadNullableObject reads a presence byte and, if set, an object.
func (d *Decoder) ReadNullableObject(field string) (any, error) {
	present, err := d.buf.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	return d.ReadObject(field)
}

// ReadAs reads an object and asserts it to T.
func ReadAs[T any](d *Decoder, field string) (T, error) {
	var zero T
	v, err := d.ReadObject(field)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: field %q holds %T, want %T", ErrUnexpectedPayload, field, v, zero)
	}
	return t, nil
}

// ReadNullable reads a presence byte and, if set, calls read.
func ReadNullable[T any](d *Decoder, field string, read func(dec *Decoder) (*T, error)) (*T, error) {
	present, err := d.buf.ReadBool()
	if err != nil || !present {
		return nil, err
	}
	return read(d)
}
