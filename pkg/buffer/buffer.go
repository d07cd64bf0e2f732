// Package buffer provides MemoryBuffer, the byte container every frame is
// read from and serialized into, and a size-class Pool for its storage.
//
// A MemoryBuffer has independent reader and writer cursors:
//
//	+-------------------+------------------+------------------+
//	| discardable bytes |  readable bytes  |  writable bytes  |
//	+-------------------+------------------+------------------+
//	0      <=      readerIndex   <=   writerIndex    <=    capacity
//
// Buffers are reference counted. A new buffer starts with one reference;
// Lock adds one and Release drops one. Storage goes back to the owning Pool
// only when the count reaches zero, so a buffer can be held by a cache
// entry and an in-flight socket write at the same time.
//
// A MemoryBuffer is not safe for concurrent cursor movement. Hand a second
// consumer a Duplicate instead.
package buffer

import (
	"errors"
	"fmt"
	"io"
	"math"

	"go.uber.org/atomic"
)

// MaxStringLength is the largest string, in encoded bytes, that fits the
// 2-byte length prefix.
const MaxStringLength = math.MaxUint16

const minGrowth = 64

// Buffer errors.
var (
	ErrBufferUnderflow = fmt.Errorf("buffer: read past writer index: %w", io.ErrUnexpectedEOF)
	ErrBufferOverflow  = errors.New("buffer: write exceeds max capacity")
	ErrStringTooLong   = errors.New("buffer: string exceeds 65535 bytes")
	ErrVarintOverflow  = errors.New("buffer: compressed integer overflow")
	ErrIndexOutOfRange = errors.New("buffer: index out of range")
	ErrReleased        = errors.New("buffer: buffer already released")
)

// MemoryBuffer is a growable or bounded byte container with separate read
// and write cursors. The zero value is not usable; use New, NewBounded, Wrap
// or Pool.Acquire.
type MemoryBuffer struct {
	data        []byte
	readerIndex int
	writerIndex int

	// maxCapacity bounds growth; zero means unbounded.
	maxCapacity int

	refs *atomic.Int32
	pool *Pool

	// slab is the pooled storage data was taken from.
	slab *[]byte
}

// New returns an unbounded buffer with the given initial capacity.
func New(capacity int) *MemoryBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &MemoryBuffer{
		data: make([]byte, capacity),
		refs: atomic.NewInt32(1),
	}
}

// NewBounded returns a buffer that grows up to maxCapacity bytes and rejects
// writes beyond it with ErrBufferOverflow.
func NewBounded(capacity, maxCapacity int) *MemoryBuffer {
	if capacity > maxCapacity {
		capacity = maxCapacity
	}
	b := New(capacity)
	b.maxCapacity = maxCapacity
	return b
}

// Wrap returns a buffer whose readable bytes are data. The buffer takes
// ownership of data.
func Wrap(data []byte) *MemoryBuffer {
	return &MemoryBuffer{
		data:        data,
		writerIndex: len(data),
		refs:        atomic.NewInt32(1),
	}
}

// Capacity returns the current size of the backing storage.
func (b *MemoryBuffer) Capacity() int { return len(b.data) }

// MaxCapacity returns the growth bound, or zero for unbounded buffers.
func (b *MemoryBuffer) MaxCapacity() int { return b.maxCapacity }

// ReaderIndex returns the read cursor.
func (b *MemoryBuffer) ReaderIndex() int { return b.readerIndex }

// WriterIndex returns the write cursor.
func (b *MemoryBuffer) WriterIndex() int { return b.writerIndex }

// SetReaderIndex moves the read cursor. It must stay within
// [0, WriterIndex].
func (b *MemoryBuffer) SetReaderIndex(i int) error {
	if i < 0 || i > b.writerIndex {
		return fmt.Errorf("%w: reader index %d (writer index %d)", ErrIndexOutOfRange, i, b.writerIndex)
	}
	b.readerIndex = i
	return nil
}

// SetWriterIndex moves the write cursor. It must stay within
// [ReaderIndex, Capacity].
func (b *MemoryBuffer) SetWriterIndex(i int) error {
	if i < b.readerIndex || i > len(b.data) {
		return fmt.Errorf("%w: writer index %d (reader index %d, capacity %d)", ErrIndexOutOfRange, i, b.readerIndex, len(b.data))
	}
	b.writerIndex = i
	return nil
}

// ReadableBytes returns the number of bytes between the cursors.
func (b *MemoryBuffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }

// WritableBytes returns the number of bytes that can be written without
// growing the backing storage.
func (b *MemoryBuffer) WritableBytes() int { return len(b.data) - b.writerIndex }

// MaxWritableBytes returns the number of bytes that can be written, growing
// the storage if needed.
func (b *MemoryBuffer) MaxWritableBytes() int {
	if b.maxCapacity == 0 {
		return math.MaxInt32 - b.writerIndex
	}
	return b.maxCapacity - b.writerIndex
}

// Readable reports whether at least one byte can be read.
func (b *MemoryBuffer) Readable() bool { return b.writerIndex > b.readerIndex }

// Writable reports whether at least one more byte can be written.
func (b *MemoryBuffer) Writable() bool { return b.MaxWritableBytes() > 0 }

// Bytes returns the readable bytes without copying. The slice aliases the
// buffer storage and is only valid until the next write or Release.
func (b *MemoryBuffer) Bytes() []byte { return b.data[b.readerIndex:b.writerIndex] }

// Clear resets both cursors to zero without touching the storage.
func (b *MemoryBuffer) Clear() {
	b.readerIndex = 0
	b.writerIndex = 0
}

// Duplicate returns a buffer that shares storage and reference count with b
// but has its own cursors. The duplicate does not add a reference; call Lock
// if it must outlive the current holders.
func (b *MemoryBuffer) Duplicate() *MemoryBuffer {
	return &MemoryBuffer{
		data:        b.data,
		readerIndex: b.readerIndex,
		writerIndex: b.writerIndex,
		maxCapacity: b.maxCapacity,
		refs:        b.refs,
		pool:        b.pool,
		slab:        b.slab,
	}
}

// Lock adds a reference to the buffer storage.
func (b *MemoryBuffer) Lock() error {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return ErrReleased
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference. When the last reference is dropped the storage
// is returned to the owning pool and Release reports true.
func (b *MemoryBuffer) Release() bool {
	n := b.refs.Dec()
	if n < 0 {
		panic("buffer: release of released buffer")
	}
	if n > 0 {
		return false
	}
	if b.pool != nil {
		b.pool.put(b.slab, b.data)
	}
	b.data, b.slab = nil, nil
	b.readerIndex, b.writerIndex = 0, 0
	return true
}

// RefCount returns the number of outstanding references.
func (b *MemoryBuffer) RefCount() int32 { return b.refs.Load() }

// IsReleasable reports whether the caller holds the only reference, so
// releasing it would reclaim the storage.
func (b *MemoryBuffer) IsReleasable() bool { return b.refs.Load() <= 1 }

func (b *MemoryBuffer) checkReadable(n int) error {
	if b.refs.Load() <= 0 {
		return ErrReleased
	}
	if b.writerIndex-b.readerIndex < n {
		return ErrBufferUnderflow
	}
	return nil
}

// ensureWritable makes room for n more bytes, growing the storage when
// allowed.
func (b *MemoryBuffer) ensureWritable(n int) error {
	if b.refs.Load() <= 0 {
		return ErrReleased
	}
	needed := b.writerIndex + n
	if needed <= len(b.data) {
		return nil
	}
	if b.maxCapacity > 0 && needed > b.maxCapacity {
		return fmt.Errorf("%w: need %d bytes, max %d", ErrBufferOverflow, needed, b.maxCapacity)
	}

	newCap := len(b.data) * 2
	if newCap < minGrowth {
		newCap = minGrowth
	}
	if newCap < needed {
		newCap = needed
	}
	if b.maxCapacity > 0 && newCap > b.maxCapacity {
		newCap = b.maxCapacity
	}
	grown := make([]byte, newCap)
	copy(grown, b.data[:b.writerIndex])
	b.data = grown
	return nil
}

// ReadByte reads a single byte.
func (b *MemoryBuffer) ReadByte() (byte, error) {
	if err := b.checkReadable(1); err != nil {
		return 0, err
	}
	v := b.data[b.readerIndex]
	b.readerIndex++
	return v, nil
}

// WriteByte writes a single byte.
func (b *MemoryBuffer) WriteByte(v byte) error {
	if err := b.ensureWritable(1); err != nil {
		return err
	}
	b.data[b.writerIndex] = v
	b.writerIndex++
	return nil
}

// ReadBool reads a byte; any non-zero value is true.
func (b *MemoryBuffer) ReadBool() (bool, error) {
	v, err := b.ReadByte()
	return v != 0, err
}

// WriteBool writes 1 for true and 0 for false.
func (b *MemoryBuffer) WriteBool(v bool) error {
	if v {
		return b.WriteByte(1)
	}
	return b.WriteByte(0)
}

// ReadUint16 reads a big-endian uint16.
func (b *MemoryBuffer) ReadUint16() (uint16, error) {
	if err := b.checkReadable(2); err != nil {
		return 0, err
	}
	p := b.data[b.readerIndex:]
	b.readerIndex += 2
	return uint16(p[0])<<8 | uint16(p[1]), nil
}

// WriteUint16 writes a big-endian uint16.
func (b *MemoryBuffer) WriteUint16(v uint16) error {
	if err := b.ensureWritable(2); err != nil {
		return err
	}
	p := b.data[b.writerIndex:]
	p[0], p[1] = byte(v>>8), byte(v)
	b.writerIndex += 2
	return nil
}

// ReadInt16 reads a big-endian int16.
func (b *MemoryBuffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

// WriteInt16 writes a big-endian int16.
func (b *MemoryBuffer) WriteInt16(v int16) error { return b.WriteUint16(uint16(v)) }

// ReadUint32 reads a big-endian uint32.
func (b *MemoryBuffer) ReadUint32() (uint32, error) {
	if err := b.checkReadable(4); err != nil {
		return 0, err
	}
	p := b.data[b.readerIndex:]
	b.readerIndex += 4
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3]), nil
}

// WriteUint32 writes a big-endian uint32.
func (b *MemoryBuffer) WriteUint32(v uint32) error {
	if err := b.ensureWritable(4); err != nil {
		return err
	}
	p := b.data[b.writerIndex:]
	p[0], p[1], p[2], p[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
	b.writerIndex += 4
	return nil
}

// ReadInt32 reads a big-endian int32.
func (b *MemoryBuffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

// WriteInt32 writes a big-endian int32.
func (b *MemoryBuffer) WriteInt32(v int32) error { return b.WriteUint32(uint32(v)) }

// ReadUint64 reads a big-endian uint64.
func (b *MemoryBuffer) ReadUint64() (uint64, error) {
	if err := b.checkReadable(8); err != nil {
		return 0, err
	}
	p := b.data[b.readerIndex:]
	b.readerIndex += 8
	return uint64(p[0])<<56 | uint64(p[1])<<48 | uint64(p[2])<<40 | uint64(p[3])<<32 |
		uint64(p[4])<<24 | uint64(p[5])<<16 | uint64(p[6])<<8 | uint64(p[7]), nil
}

// WriteUint64 writes a big-endian uint64.
func (b *MemoryBuffer) WriteUint64(v uint64) error {
	if err := b.ensureWritable(8); err != nil {
		return err
	}
	p := b.data[b.writerIndex:]
	p[0], p[1], p[2], p[3] = byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32)
	p[4], p[5], p[6], p[7] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
	b.writerIndex += 8
	return nil
}

// ReadInt64 reads a big-endian int64.
func (b *MemoryBuffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

// WriteInt64 writes a big-endian int64.
func (b *MemoryBuffer) WriteInt64(v int64) error { return b.WriteUint64(uint64(v)) }

// ReadFloat32 reads an IEEE 754 float32.
func (b *MemoryBuffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

// WriteFloat32 writes an IEEE 754 float32.
func (b *MemoryBuffer) WriteFloat32(v float32) error { return b.WriteUint32(math.Float32bits(v)) }

// ReadFloat64 reads an IEEE 754 float64.
func (b *MemoryBuffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

// WriteFloat64 writes an IEEE 754 float64.
func (b *MemoryBuffer) WriteFloat64(v float64) error { return b.WriteUint64(math.Float64bits(v)) }

// WriteCompressedInt64 writes v as a zigzag base-128 varint.
func (b *MemoryBuffer) WriteCompressedInt64(v int64) error {
	var scratch [MaxVarintLen64]byte
	n := EncodeUvarint(scratch[:], ZigZag(v))
	if err := b.ensureWritable(n); err != nil {
		return err
	}
	copy(b.data[b.writerIndex:], scratch[:n])
	b.writerIndex += n
	return nil
}

// ReadCompressedInt64 reads a value written by WriteCompressedInt64.
func (b *MemoryBuffer) ReadCompressedInt64() (int64, error) {
	uv, err := b.readUvarint(MaxVarintLen64)
	if err != nil {
		return 0, err
	}
	return UnZigZag(uv), nil
}

// WriteCompressedInt32 writes v as a zigzag base-128 varint.
func (b *MemoryBuffer) WriteCompressedInt32(v int32) error {
	return b.WriteCompressedInt64(int64(v))
}

// ReadCompressedInt32 reads a compressed integer and fails with
// ErrVarintOverflow if it does not fit in 32 bits.
func (b *MemoryBuffer) ReadCompressedInt32() (int32, error) {
	start := b.readerIndex
	uv, err := b.readUvarint(MaxVarintLen32)
	if err != nil {
		return 0, err
	}
	v := UnZigZag(uv)
	if v < math.MinInt32 || v > math.MaxInt32 {
		b.readerIndex = start
		return 0, ErrVarintOverflow
	}
	return int32(v), nil
}

func (b *MemoryBuffer) readUvarint(maxLen int) (uint64, error) {
	if err := b.checkReadable(1); err != nil {
		return 0, err
	}
	v, n := DecodeUvarint(b.data[b.readerIndex:b.writerIndex], maxLen)
	switch {
	case n == -1:
		return 0, ErrBufferUnderflow
	case n < 0:
		return 0, ErrVarintOverflow
	}
	b.readerIndex += n
	return v, nil
}

// WriteString writes a 2-byte length prefix followed by the UTF-8 bytes of
// s. Go strings already hold UTF-8, so the bytes are copied once with no
// transcoding pass. Strings longer than MaxStringLength bytes fail before
// anything is written.
func (b *MemoryBuffer) WriteString(s string) error {
	n := len(s)
	if n > MaxStringLength {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, n)
	}
	if err := b.ensureWritable(2 + n); err != nil {
		return err
	}
	p := b.data[b.writerIndex:]
	p[0], p[1] = byte(n>>8), byte(n)
	copy(p[2:], s)
	b.writerIndex += 2 + n
	return nil
}

// ReadString reads a string written by WriteString. On failure the read
// cursor is left where it was.
func (b *MemoryBuffer) ReadString() (string, error) {
	if err := b.checkReadable(2); err != nil {
		return "", err
	}
	p := b.data[b.readerIndex:]
	n := int(p[0])<<8 | int(p[1])
	if err := b.checkReadable(2 + n); err != nil {
		return "", err
	}
	s := string(p[2 : 2+n])
	b.readerIndex += 2 + n
	return s, nil
}

// WriteBytes writes all of p or nothing.
func (b *MemoryBuffer) WriteBytes(p []byte) error {
	if err := b.ensureWritable(len(p)); err != nil {
		return err
	}
	copy(b.data[b.writerIndex:], p)
	b.writerIndex += len(p)
	return nil
}

// ReadBytes reads exactly n bytes into a new slice.
func (b *MemoryBuffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrIndexOutOfRange
	}
	if err := b.checkReadable(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b.data[b.readerIndex:])
	b.readerIndex += n
	return out, nil
}

// Skip advances the read cursor by n bytes.
func (b *MemoryBuffer) Skip(n int) error {
	if err := b.checkReadable(n); err != nil {
		return err
	}
	b.readerIndex += n
	return nil
}

// Read implements io.Reader. It returns io.EOF once no bytes are readable.
func (b *MemoryBuffer) Read(p []byte) (int, error) {
	if b.refs.Load() <= 0 {
		return 0, ErrReleased
	}
	if !b.Readable() {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.readerIndex:b.writerIndex])
	b.readerIndex += n
	return n, nil
}

// Write implements io.Writer. Bounded buffers may accept fewer bytes than
// len(p), in which case ErrBufferOverflow is returned.
func (b *MemoryBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.MaxWritableBytes(); n > room {
		n = room
	}
	if err := b.ensureWritable(n); err != nil {
		return 0, err
	}
	copy(b.data[b.writerIndex:], p[:n])
	b.writerIndex += n
	if n < len(p) {
		return n, ErrBufferOverflow
	}
	return n, nil
}

// WriteBuffer moves min(src.ReadableBytes, b.MaxWritableBytes) bytes from
// src into b, advancing both cursors. It returns the number of bytes moved.
func (b *MemoryBuffer) WriteBuffer(src *MemoryBuffer) (int, error) {
	if err := src.checkReadable(0); err != nil {
		return 0, err
	}
	n := src.ReadableBytes()
	if room := b.MaxWritableBytes(); n > room {
		n = room
	}
	if err := b.ensureWritable(n); err != nil {
		return 0, err
	}
	copy(b.data[b.writerIndex:], src.data[src.readerIndex:src.readerIndex+n])
	b.writerIndex += n
	src.readerIndex += n
	return n, nil
}

// ReadBuffer moves min(b.ReadableBytes, dst.MaxWritableBytes) bytes from b
// into dst, advancing both cursors.
func (b *MemoryBuffer) ReadBuffer(dst *MemoryBuffer) (int, error) {
	return dst.WriteBuffer(b)
}

// String returns a short description of the buffer state.
func (b *MemoryBuffer) String() string {
	return fmt.Sprintf("MemoryBuffer(ridx: %d, widx: %d, cap: %d, refs: %d)",
		b.readerIndex, b.writerIndex, len(b.data), b.refs.Load())
}
