package buffer

// Maximum encoded lengths of compressed integers.
const (
	MaxVarintLen32 = 5
	MaxVarintLen64 = 10
)

// EncodeUvarint encodes v as a base-128 varint into buf and returns the
// number of bytes written. buf must have at least MaxVarintLen64 bytes.
// Each byte carries 7 bits of data; the MSB marks continuation.
func EncodeUvarint(buf []byte, v uint64) int {
	i := 0
	for v >= 0x80 {
		buf[i] = byte(v) | 0x80
		v >>= 7
		i++
	}
	buf[i] = byte(v)
	return i + 1
}

// DecodeUvarint decodes an unsigned varint of at most maxLen bytes.
// Returns (value, bytesRead). If bytesRead < 0, decoding failed:
//   - -1: buffer too short (incomplete varint)
//   - -2: varint longer than maxLen
func DecodeUvarint(buf []byte, maxLen int) (uint64, int) {
	var v uint64
	var shift uint

	for i, b := range buf {
		if i >= maxLen {
			return 0, -2
		}
		v |= uint64(b&0x7F) << shift
		if b < 0x80 {
			return v, i + 1
		}
		shift += 7
	}
	if len(buf) >= maxLen {
		return 0, -2
	}
	return 0, -1
}

// ZigZag maps signed integers to unsigned so small magnitudes stay small:
// 0->0, -1->1, 1->2, -2->3, 2->4.
func ZigZag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// UnZigZag reverses ZigZag.
func UnZigZag(uv uint64) int64 {
	v := int64(uv >> 1)
	if uv&1 != 0 {
		v = ^v
	}
	return v
}

// UvarintLen returns the number of bytes needed to encode v as a varint.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}

// CompressedLen returns the encoded size of v as a compressed integer.
func CompressedLen(v int64) int {
	return UvarintLen(ZigZag(v))
}
