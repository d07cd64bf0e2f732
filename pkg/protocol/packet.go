package protocol

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Marshallable is implemented by application types that encode themselves.
// A Marshallable type must be registered with WithType so the decoder can
// construct it from its type id.
type Marshallable interface {
	Marshall(enc *Encoder) error
	Unmarshall(dec *Decoder) error
}

// PacketExtension is implemented by types embedding Packet that carry
// fields outside the name-keyed values. The extension is written after the
// values.
type PacketExtension interface {
	MarshallExtension(enc *Encoder) error
	UnmarshallExtension(dec *Decoder) error
}

// packetCarrier is satisfied by *Packet and every pointer to a struct that
// embeds Packet.
type packetCarrier interface {
	packet() *Packet
}

// Packet is the generic message body: a name plus name-keyed values. Every
// value must itself be writable by the Protocol.
//
// Types that embed Packet (Handshake, HandshakeResponse, application
// packets registered with WithType) are encoded by the same marshaller and
// keep their concrete type across the wire.
type Packet struct {
	name   string
	values map[string]any
}

// NewPacket returns an empty packet with the given name.
func NewPacket(name string) *Packet {
	return &Packet{name: name}
}

func (p *Packet) packet() *Packet { return p }

// PacketName returns the packet name.
func (p *Packet) PacketName() string { return p.name }

// SetValue stores value under key and returns p for chaining.
func (p *Packet) SetValue(key string, value any) *Packet {
	if p.values == nil {
		p.values = make(map[string]any)
	}
	p.values[key] = value
	return p
}

// Value returns the value stored under key, or nil.
func (p *Packet) Value(key string) any {
	return p.values[key]
}

// Lookup returns the value stored under key and whether it was present.
func (p *Packet) Lookup(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// RemoveValue deletes key.
func (p *Packet) RemoveValue(key string) {
	delete(p.values, key)
}

// Len returns the number of values.
func (p *Packet) Len() int { return len(p.values) }

// Keys returns the value keys in sorted order, which is also their wire
// order.
func (p *Packet) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both packets have the same name and structurally
// equal values.
func (p *Packet) Equal(other *Packet) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.name != other.name || len(p.values) != len(other.values) {
		return false
	}
	for k, v := range p.values {
		ov, ok := other.values[k]
		if !ok || !ValuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// String renders the packet name and values.
func (p *Packet) String() string {
	var b strings.Builder
	b.WriteString("Packet{name=")
	b.WriteString(p.name)
	for _, k := range p.Keys() {
		fmt.Fprintf(&b, ", %s=%v", k, p.values[k])
	}
	b.WriteByte('}')
	return b.String()
}

// ValuesEqual compares two decoded values structurally. Packets compare by
// concrete type, name and values; messages by id and body; everything else
// with reflect.DeepEqual.
func ValuesEqual(a, b any) bool {
	switch av := a.(type) {
	case packetCarrier:
		bv, ok := b.(packetCarrier)
		if !ok || reflect.TypeOf(a) != reflect.TypeOf(b) {
			return false
		}
		return av.packet().Equal(bv.packet())
	case *Message:
		bv, ok := b.(*Message)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			ov, ok := bv[k]
			if !ok || !ValuesEqual(v, ov) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}
