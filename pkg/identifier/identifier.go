// Package identifier provides the 128-bit random identifiers used for
// connection ids, message ids and listener registration handles.
//
// An Identifier is shaped like a version 4, IETF variant UUID and renders
// in the canonical 36-character hyphenated hex form.
package identifier

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Size is the number of bytes in an Identifier.
const Size = 16

// StringLen is the length of the canonical string form.
const StringLen = 36

// ErrInvalidLength is returned when reconstructing an Identifier from a
// byte slice that is not exactly Size bytes long.
var ErrInvalidLength = errors.New("identifier: data must be exactly 16 bytes")

// Identifier is an immutable 16-byte identifier. It is comparable and can be
// used as a map key.
type Identifier [Size]byte

// Nil is the all-zero Identifier.
var Nil Identifier

const hexDigits = "0123456789abcdef"

// seedUniquifier advances on every generator creation so two generators
// created in the same clock tick still get different seeds.
var seedUniquifier = atomic.NewUint64(8682522807148012)

var generators = sync.Pool{
	New: func() any {
		mixed := seedUniquifier.Add(181783497276652981)
		now := uint64(time.Now().UnixNano())
		return rand.New(rand.NewPCG(mixed^now, mixed*now+0x9e3779b97f4a7c15))
	},
}

// NewRandom returns a new random version 4 Identifier.
func NewRandom() Identifier {
	r := generators.Get().(*rand.Rand)
	hi, lo := r.Uint64(), r.Uint64()
	generators.Put(r)

	var id Identifier
	for i := 0; i < 8; i++ {
		id[i] = byte(hi >> (56 - 8*i))
		id[8+i] = byte(lo >> (56 - 8*i))
	}
	id[6] = (id[6] & 0x0f) | 0x40 // version 4
	id[8] = (id[8] & 0x3f) | 0x80 // IETF variant
	return id
}

// FromBytes reconstructs an Identifier from exactly Size bytes.
func FromBytes(data []byte) (Identifier, error) {
	var id Identifier
	if len(data) != Size {
		return id, fmt.Errorf("%w: got %d", ErrInvalidLength, len(data))
	}
	copy(id[:], data)
	return id, nil
}

// Parse parses the canonical string form (and the other forms accepted by
// uuid.Parse) into an Identifier.
func Parse(s string) (Identifier, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("identifier: parse %q: %w", s, err)
	}
	return Identifier(u), nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Identifier {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Bytes returns a copy of the identifier bytes.
func (id Identifier) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// IsZero reports whether id is the Nil identifier.
func (id Identifier) IsZero() bool {
	return id == Nil
}

// Version returns the version nibble.
func (id Identifier) Version() int {
	return int(id[6] >> 4)
}

// String returns the canonical xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx form.
func (id Identifier) String() string {
	var buf [StringLen]byte
	pos := 0
	for i, b := range id {
		switch i {
		case 4, 6, 8, 10:
			buf[pos] = '-'
			pos++
		}
		buf[pos] = hexDigits[b>>4]
		buf[pos+1] = hexDigits[b&0x0f]
		pos += 2
	}
	return string(buf[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
