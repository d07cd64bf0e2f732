package protocol

import (
	"errors"
	"fmt"
)

// ErrBadBitSetChunk is returned when a bit set chunk header is not one of
// the known chunk kinds.
var ErrBadBitSetChunk = errors.New("protocol: bad bit set chunk")

// Bit sets are written as a run of chunks. The two high bits of each chunk
// select its width, the next bits hold the slot count, then the slots, and
// the low bit marks a following chunk.
//
//	single  1 byte   01 ss vvv c     1-3 slots
//	double  2 bytes  10 sss v{10} c  4-10 slots
//	quad    4 bytes  11 ssss v{25} c 11-25 slots
//
// A single chunk with a zero count encodes a nil or empty set.
const (
	bitSetNullChunk byte = 0b0100_0000

	chunkSingle = 1
	chunkDouble = 2
	chunkQuad   = 3
)

type bitSetChunk struct {
	bytes    int
	base     uint32
	minSlots int
	maxSlots int
	shift    uint
	sizeMask uint32
}

var bitSetChunks = [...]bitSetChunk{
	chunkSingle: {bytes: 1, base: 0b01 << 6, minSlots: 1, maxSlots: 3, shift: 4, sizeMask: 0b11},
	chunkDouble: {bytes: 2, base: 0b10 << 14, minSlots: 4, maxSlots: 10, shift: 11, sizeMask: 0b111},
	chunkQuad:   {bytes: 4, base: 0b11 << 30, minSlots: 11, maxSlots: 25, shift: 26, sizeMask: 0b1111},
}

// selectChunk picks the chunk kind for the remaining slot count. Counts
// just above a double chunk use a double and a single rather than a quad.
func selectChunk(remaining int) int {
	switch {
	case remaining <= 3:
		return chunkSingle
	case remaining <= 14:
		return chunkDouble
	}
	return chunkQuad
}

// WriteBitSet packs bits into compressed chunks. A nil or empty slice is
// written as one null byte and reads back as nil.
func (e *Encoder) WriteBitSet(field string, bits []bool) {
	if len(bits) == 0 {
		e.WriteUint8(field, bitSetNullChunk)
		return
	}
	for start := 0; start < len(bits) && e.err == nil; {
		kind := selectChunk(len(bits) - start)
		c := bitSetChunks[kind]
		n := min(c.maxSlots, len(bits)-start)

		chunk := c.base | uint32(n-c.minSlots+1)<<c.shift
		for i := 0; i < n; i++ {
			if bits[start+i] {
				chunk |= 1 << (c.shift - uint(i) - 1)
			}
		}
		start += n
		if start < len(bits) {
			chunk |= 1
		}

		switch c.bytes {
		case 1:
			e.WriteUint8(field, byte(chunk))
		case 2:
			e.WriteUint16(field, uint16(chunk))
		default:
			e.WriteUint32(field, chunk)
		}
	}
}

// ReadBitSet reads bits written by WriteBitSet.
func (d *Decoder) ReadBitSet() ([]bool, error) {
	var bits []bool
	for {
		header, err := d.buf.ReadByte()
		if err != nil {
			return nil, err
		}

		var kind int
		switch header >> 6 {
		case 0b11:
			kind = chunkQuad
		case 0b10:
			kind = chunkDouble
		case 0b01:
			if header&0b0011_1110 == 0 {
				if bits != nil {
					return nil, fmt.Errorf("%w: null chunk after data", ErrBadBitSetChunk)
				}
				return nil, nil
			}
			kind = chunkSingle
		default:
			return nil, fmt.Errorf("%w: header 0x%02x", ErrBadBitSetChunk, header)
		}
		c := bitSetChunks[kind]

		chunk := uint32(header)
		if c.bytes > 1 {
			rest, err := d.buf.ReadBytes(c.bytes - 1)
			if err != nil {
				return nil, err
			}
			for _, b := range rest {
				chunk = chunk<<8 | uint32(b)
			}
		}

		n := int(chunk>>c.shift&c.sizeMask) + c.minSlots - 1
		if n < c.minSlots || n > c.maxSlots {
			return nil, fmt.Errorf("%w: %d slots in a %d-byte chunk", ErrBadBitSetChunk, n, c.bytes)
		}
		if len(bits)+n > MaxCollectionCount {
			return nil, fmt.Errorf("%w: bit set of more than %d bits", ErrCollectionTooLarge, MaxCollectionCount)
		}
		for i := 0; i < n; i++ {
			bits = append(bits, chunk>>(c.shift-uint(i)-1)&1 == 1)
		}
		if chunk&1 == 0 {
			return bits, nil
		}
	}
}
