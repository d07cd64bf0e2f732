package protocol

import (
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/identifier"
)

// point is a Marshallable used across the codec tests.
type point struct {
	X, Y int32
	Tag  string
}

func (p *point) Marshall(enc *Encoder) error {
	enc.WriteCompressedInt32("x", p.X)
	enc.WriteCompressedInt32("y", p.Y)
	return WriteNullable(enc, "tag", nilIfEmpty(p.Tag), func(enc *Encoder, s *string) error {
		enc.WriteString("tag", *s)
		return nil
	})
}

func (p *point) Unmarshall(dec *Decoder) error {
	var err error
	if p.X, err = dec.ReadCompressedInt32(); err != nil {
		return err
	}
	if p.Y, err = dec.ReadCompressedInt32(); err != nil {
		return err
	}
	tag, err := ReadNullable(dec, "tag", func(dec *Decoder) (*string, error) {
		s, err := dec.ReadString()
		return &s, err
	})
	if tag != nil {
		p.Tag = *tag
	}
	return err
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// chatPacket is an application packet type with an extension field.
type chatPacket struct {
	Packet
	Priority int32
}

func (c *chatPacket) MarshallExtension(enc *Encoder) error {
	enc.WriteInt32("priority", c.Priority)
	return nil
}

func (c *chatPacket) UnmarshallExtension(dec *Decoder) error {
	v, err := dec.ReadInt32()
	c.Priority = v
	return err
}

func testProtocol(t testing.TB, opts ...Option) *Protocol {
	t.Helper()
	base := []Option{
		WithType(1, func() any { return &point{} }),
		WithType(2, func() any { return &chatPacket{} }),
	}
	p, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func roundTrip(t *testing.T, p *Protocol, value any) any {
	t.Helper()
	buf := buffer.New(16)
	if err := p.Encode(buf, value); err != nil {
		t.Fatalf("Encode(%T) error = %v", value, err)
	}
	end := buf.WriterIndex()
	got, err := p.Decode(buf)
	if err != nil {
		t.Fatalf("Decode(%T) error = %v", value, err)
	}
	if buf.ReaderIndex() != end {
		t.Fatalf("Decode(%T) stopped at %d, writer ended at %d", value, buf.ReaderIndex(), end)
	}
	return got
}

func TestRoundTripBuiltins(t *testing.T) {
	p := testProtocol(t)
	id := identifier.NewRandom()

	tests := []struct {
		name  string
		value any
	}{
		{"byte", byte(0xFE)},
		{"int8", int8(-7)},
		{"bool_true", true},
		{"bool_false", false},
		{"int16", int16(math.MinInt16)},
		{"uint16", uint16(math.MaxUint16)},
		{"int32", int32(-42)},
		{"uint32", uint32(math.MaxUint32)},
		{"int64", int64(math.MaxInt64)},
		{"uint64", uint64(math.MaxUint64)},
		{"int", int(-1234567)},
		{"uint", uint(99)},
		{"float32", float32(1.5)},
		{"float64", math.Pi},
		{"string_empty", ""},
		{"string", "tengi ✓"},
		{"string_boundary", strings.Repeat("a", buffer.MaxStringLength)},
		{"bytes", []byte{0, 1, 2, 255}},
		{"bytes_empty", []byte{}},
		{"identifier", id},
		{"list", []any{"a", int32(1), nil, []any{true}}},
		{"map", map[string]any{"a": "b", "n": nil, "nested": map[string]any{"x": 1.5}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTrip(t, p, tc.value)
			if !ValuesEqual(got, tc.value) {
				t.Errorf("round trip = %#v, want %#v", got, tc.value)
			}
		})
	}
}

func TestRoundTripPacket(t *testing.T) {
	p := testProtocol(t)

	pk := NewPacket("chat").
		SetValue("text", "hello").
		SetValue("count", int32(3)).
		SetValue("tags", []any{"x", "y"}).
		SetValue("origin", &point{X: 1, Y: -2, Tag: "home"})

	got, ok := roundTrip(t, p, pk).(*Packet)
	if !ok {
		t.Fatalf("round trip type = %T, want *Packet", got)
	}
	if !got.Equal(pk) {
		t.Errorf("round trip = %v, want %v", got, pk)
	}
	if got.PacketName() != "chat" {
		t.Errorf("PacketName() = %q, want chat", got.PacketName())
	}
}

func TestRoundTripPacketSubtype(t *testing.T) {
	p := testProtocol(t)

	c := &chatPacket{Packet: *NewPacket("priority-chat"), Priority: 9}
	c.SetValue("text", "urgent")

	got, ok := roundTrip(t, p, c).(*chatPacket)
	if !ok {
		t.Fatalf("round trip type = %T, want *chatPacket", got)
	}
	if got.Priority != 9 {
		t.Errorf("Priority = %d, want 9", got.Priority)
	}
	if got.Value("text") != "urgent" {
		t.Errorf("Value(text) = %v, want urgent", got.Value("text"))
	}
}

func TestRoundTripMessage(t *testing.T) {
	p := testProtocol(t)

	msg := NewMessage(NewPacket("ping").SetValue("seq", int64(1)))
	got, ok := roundTrip(t, p, msg).(*Message)
	if !ok {
		t.Fatalf("round trip type = %T, want *Message", got)
	}
	if !got.Equal(msg) {
		t.Errorf("round trip = %v, want %v", got, msg)
	}

	empty := &Message{ID: identifier.NewRandom()}
	if got := roundTrip(t, p, empty).(*Message); !got.Equal(empty) {
		t.Errorf("nil body round trip = %v, want %v", got, empty)
	}
}

func TestRoundTripMarshallable(t *testing.T) {
	p := testProtocol(t)

	for _, pt := range []*point{{X: 1, Y: 2, Tag: "a"}, {X: -5, Y: 1 << 20}} {
		got, ok := roundTrip(t, p, pt).(*point)
		if !ok {
			t.Fatalf("round trip type = %T, want *point", got)
		}
		if *got != *pt {
			t.Errorf("round trip = %+v, want %+v", got, pt)
		}
	}
}

func TestRoundTripSystemTypes(t *testing.T) {
	p := testProtocol(t)

	hs := NewHandshake()
	hs.SetValue("token", "secret")
	if got := roundTrip(t, p, hs).(*Handshake); !got.Equal(&hs.Packet) {
		t.Errorf("Handshake round trip = %v", got)
	}

	resp := NewHandshakeResponse()
	if _, ok := roundTrip(t, p, resp).(*HandshakeResponse); !ok {
		t.Error("HandshakeResponse lost its type")
	}

	req := &LongPollingRequest{PollingRequest{LastUpdateID: 77}}
	if got := roundTrip(t, p, req).(*LongPollingRequest); got.LastUpdateID != 77 {
		t.Errorf("LongPollingRequest.LastUpdateID = %d, want 77", got.LastUpdateID)
	}

	msgs := &PollingResponse{LatestUpdateID: 5, Messages: []*Message{NewMessage("a"), NewMessage(int32(2))}}
	got := roundTrip(t, p, msgs).(*PollingResponse)
	if got.LatestUpdateID != 5 || len(got.Messages) != 2 {
		t.Fatalf("PollingResponse round trip = %+v", got)
	}
	for i := range msgs.Messages {
		if !got.Messages[i].Equal(msgs.Messages[i]) {
			t.Errorf("message %d = %v, want %v", i, got.Messages[i], msgs.Messages[i])
		}
	}
}

func TestPreSerializedPollingResponse(t *testing.T) {
	p := testProtocol(t)
	pool := buffer.NewPool()

	originals := []*Message{NewMessage("first"), NewMessage("second")}
	frames := make([]*buffer.MemoryBuffer, 0, len(originals))
	for _, m := range originals {
		b := pool.Acquire(64)
		if err := p.Encode(b, m); err != nil {
			t.Fatal(err)
		}
		frames = append(frames, b)
	}

	out := buffer.New(0)
	if err := p.Encode(out, NewPollingResponse(2, frames)); err != nil {
		t.Fatal(err)
	}
	if got := pool.Stats().Reclaimed; got != 2 {
		t.Errorf("reclaimed buffers = %d, want 2", got)
	}

	got, err := p.Decode(out)
	if err != nil {
		t.Fatal(err)
	}
	resp := got.(*PollingResponse)
	if len(resp.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(resp.Messages))
	}
	for i := range originals {
		if !resp.Messages[i].Equal(originals[i]) {
			t.Errorf("message %d = %v, want %v", i, resp.Messages[i], originals[i])
		}
	}
}

func TestNullableFraming(t *testing.T) {
	p := testProtocol(t)
	buf := buffer.New(0)

	err := p.WithEncoder(buf, func(enc *Encoder) error {
		if err := enc.WriteNullableObject("missing", nil); err != nil {
			return err
		}
		return enc.WriteNullableObject("present", "value")
	})
	if err != nil {
		t.Fatal(err)
	}
	if first := buf.Bytes()[0]; first != 0 {
		t.Errorf("nil presence byte = %d, want 0", first)
	}
	if buf.Bytes()[1] != 1 {
		t.Errorf("present presence byte = %d, want 1", buf.Bytes()[1])
	}

	err = p.WithDecoder(buf, func(dec *Decoder) error {
		v, err := dec.ReadNullableObject("missing")
		if err != nil {
			return err
		}
		if v != nil {
			t.Errorf("ReadNullableObject(missing) = %v, want nil", v)
		}
		v, err = dec.ReadNullableObject("present")
		if err != nil {
			return err
		}
		if v != "value" {
			t.Errorf("ReadNullableObject(present) = %v, want value", v)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestNullableSkipsCallbacks(t *testing.T) {
	p := testProtocol(t)
	buf := buffer.New(0)
	called := false

	_ = p.WithEncoder(buf, func(enc *Encoder) error {
		return WriteNullable[point](enc, "p", nil, func(*Encoder, *point) error {
			called = true
			return nil
		})
	})
	_ = p.WithDecoder(buf, func(dec *Decoder) error {
		v, err := ReadNullable(dec, "p", func(*Decoder) (*point, error) {
			called = true
			return &point{}, nil
		})
		if v != nil || err != nil {
			t.Errorf("ReadNullable() = %v, %v; want nil, nil", v, err)
		}
		return nil
	})
	if called {
		t.Error("nullable framing invoked the wrapped writer or reader for nil")
	}
}

func TestDecodeErrors(t *testing.T) {
	p := testProtocol(t)

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, io.ErrUnexpectedEOF},
		{"unknown_type_id", []byte{0x7F, 0x00}, ErrUnknownTypeID},
		{"unknown_value_type", []byte{0xFF, 0x98, 0x00, 0x63}, ErrUnknownTypeID},
		{"truncated_string", []byte{0xFF, 0xF8, 0x00, 0x10, 'a'}, io.ErrUnexpectedEOF},
		{"truncated_int64", []byte{0xFF, 0xFA, 0x01}, io.ErrUnexpectedEOF},
		{"huge_list", []byte{0xFF, 0xEC, 0xFE, 0xFF, 0xFF, 0xFF, 0x0F}, ErrCollectionTooLarge},
		{"negative_byte_array", []byte{0xFF, 0xF7, 0xFF, 0xFF, 0xFF, 0xFF}, io.ErrUnexpectedEOF},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Decode(buffer.Wrap(tc.data))
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

// nestedList returns depth lists, each holding the next.
func nestedList(depth int) any {
	var v any = []any{}
	for i := 1; i < depth; i++ {
		v = []any{v}
	}
	return v
}

func TestNestingDepth(t *testing.T) {
	p := testProtocol(t)

	got := roundTrip(t, p, nestedList(MaxNestingDepth))
	if !ValuesEqual(got, nestedList(MaxNestingDepth)) {
		t.Errorf("round trip at MaxNestingDepth lost structure")
	}

	err := p.Encode(buffer.New(0), nestedList(MaxNestingDepth+1))
	if !errors.Is(err, ErrNestingTooDeep) {
		t.Errorf("Encode() error = %v, want ErrNestingTooDeep", err)
	}
}

func TestDecodeDeepNesting(t *testing.T) {
	p := testProtocol(t)

	// Hand-built frame far beyond the limit: each level is a list tag, a
	// count of one and a presence byte.
	const levels = 10_000
	buf := buffer.New(levels * 4)
	enc := p.AcquireEncoder(buf)
	for i := 0; i < levels; i++ {
		enc.WriteInt16("typeId", int16(TypeList))
		enc.WriteCompressedInt32("size", 1)
		enc.WriteBool("item", true)
	}
	enc.WriteInt16("typeId", int16(TypeList))
	enc.WriteCompressedInt32("size", 0)
	if err := enc.Err(); err != nil {
		t.Fatalf("building frame: %v", err)
	}
	enc.Release()

	_, err := p.Decode(buf)
	if !errors.Is(err, ErrNestingTooDeep) {
		t.Fatalf("Decode() error = %v, want ErrNestingTooDeep", err)
	}
	var se *SystemError
	if errors.As(err, &se) {
		t.Errorf("Decode() wrapped nesting error in SystemError: %v", err)
	}

	// A pooled decoder starts from depth zero again.
	if _, err := p.Decode(buffer.Wrap([]byte{0xFF, 0xEC, 0x00})); err != nil {
		t.Errorf("Decode() after deep frame error = %v", err)
	}
}

func TestEncodeErrors(t *testing.T) {
	p := testProtocol(t)

	type unknown struct{ A int }
	type unregistered struct{ Packet }

	tests := []struct {
		name    string
		value   any
		wantErr error
	}{
		{"nil", nil, ErrNilValue},
		{"no_marshaller", unknown{A: 1}, ErrNoMarshaller},
		{"unregistered_packet", &unregistered{}, ErrUnknownType},
		{"string_too_long", strings.Repeat("x", buffer.MaxStringLength+1), buffer.ErrStringTooLong},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := p.Encode(buffer.New(0), tc.value)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Encode() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestEncoderStickyError(t *testing.T) {
	p := testProtocol(t)
	buf := buffer.NewBounded(0, 3)

	enc := p.AcquireEncoder(buf)
	defer enc.Release()

	enc.WriteInt16("a", 1)
	enc.WriteInt32("b", 2)
	enc.WriteUint8("c", 3)

	if !errors.Is(enc.Err(), buffer.ErrBufferOverflow) {
		t.Fatalf("Err() = %v, want ErrBufferOverflow", enc.Err())
	}
	if buf.WriterIndex() != 2 {
		t.Errorf("WriterIndex() = %d, want 2", buf.WriterIndex())
	}
	if err := enc.WriteObject("d", "x"); !errors.Is(err, buffer.ErrBufferOverflow) {
		t.Errorf("WriteObject() after failure = %v, want sticky ErrBufferOverflow", err)
	}
}

func TestTypeIDRegistry(t *testing.T) {
	p := testProtocol(t)

	id, err := p.TypeID(&point{})
	if err != nil || id != 1 {
		t.Errorf("TypeID(*point) = %d, %v; want 1", id, err)
	}
	typ, ok := p.FromTypeID(id)
	if !ok || typ.String() != "*protocol.point" {
		t.Errorf("FromTypeID(1) = %v, %v", typ, ok)
	}
	if id, _ := p.TypeID(NewHandshake()); id != TypeIDHandshake {
		t.Errorf("TypeID(*Handshake) = %d, want %d", id, TypeIDHandshake)
	}
	if _, err := p.TypeID("string"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("TypeID(string) error = %v, want ErrUnknownType", err)
	}
	if _, ok := p.FromTypeID(1234); ok {
		t.Error("FromTypeID(1234) found a type")
	}
}

func TestNewValidation(t *testing.T) {
	noop := MarshallerFor(5,
		func(*Decoder) (string, error) { return "", nil },
		func(string, *Encoder) error { return nil })

	tests := []struct {
		name    string
		opts    []Option
		wantErr error
	}{
		{"reserved_marshaller", []Option{WithMarshaller(MarshallerFor(-3,
			func(*Decoder) (int, error) { return 0, nil },
			func(int, *Encoder) error { return nil }))}, ErrReservedTypeID},
		{"reserved_type", []Option{WithType(-1, func() any { return &point{} })}, ErrReservedTypeID},
		{"duplicate_marshallers", []Option{WithMarshallers(noop, noop)}, ErrDuplicateTypeID},
		{"marshaller_type_clash", []Option{WithMarshaller(noop), WithType(5, func() any { return &point{} })}, ErrDuplicateTypeID},
		{"type_twice", []Option{WithType(7, func() any { return &point{} }), WithType(8, func() any { return &point{} })}, ErrDuplicateTypeID},
		{"invalid_type", []Option{WithType(9, func() any { return 42 })}, ErrInvalidType},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.opts...); !errors.Is(err, tc.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestMimeType(t *testing.T) {
	if got := testProtocol(t).MimeType(); got != MimeType {
		t.Errorf("MimeType() = %q, want %q", got, MimeType)
	}
	if got := testProtocol(t, WithMimeType("application/x-test")).MimeType(); got != "application/x-test" {
		t.Errorf("MimeType() = %q", got)
	}
}

func TestTypeIDString(t *testing.T) {
	tests := []struct {
		id   TypeID
		want string
	}{
		{TypeString, "string"},
		{TypeIDHandshake, "Handshake"},
		{TypeIDLongPollingResponse, "LongPollingResponse"},
		{42, "TypeID(42)"},
	}
	for _, tc := range tests {
		if got := tc.id.String(); got != tc.want {
			t.Errorf("TypeID(%d).String() = %q, want %q", tc.id, got, tc.want)
		}
	}
}
