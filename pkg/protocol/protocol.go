package protocol

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/vango-dev/tengi/pkg/buffer"
)

// MimeType is the default content type of HTTP bodies carrying frames.
const MimeType = "application/tengi"

// MaxCollectionCount bounds the element count of decoded collections, packets
// and polling responses.
const MaxCollectionCount = 100_000

// MaxNestingDepth bounds how deeply objects may nest inside one another,
// counting the outermost object as the first level.
const MaxNestingDepth = 64

// typeEntry is a registered value type.
type typeEntry struct {
	id      TypeID
	typ     reflect.Type
	factory func() any
}

// Protocol is the type registry and codec factory. It is built once with New
// and is read-only afterwards, so it is safe for concurrent use.
type Protocol struct {
	mimeType string
	debugger Debugger

	// marshallers holds user marshallers in registration order.
	marshallers []*binding
	byID        map[TypeID]*binding
	types       map[TypeID]*typeEntry
	typeIDs     map[reflect.Type]TypeID
	enums       map[TypeID]*enumEntry
	enumIDs     map[reflect.Type]TypeID

	// cache maps reflect.Type to *binding for AcceptedAndCache decisions.
	cache sync.Map

	encoders sync.Pool
	decoders sync.Pool
}

// Option configures a Protocol.
type Option func(*builder)

type builder struct {
	mimeType    string
	debugger    Debugger
	marshallers []MarshallerConfiguration
	types       []typeRegistration
	enums       []*enumEntry
}

type typeRegistration struct {
	id      TypeID
	factory func() any
}

// WithMarshaller appends a marshaller. Filters run in registration order.
func WithMarshaller(cfg MarshallerConfiguration) Option {
	return func(b *builder) {
		b.marshallers = append(b.marshallers, cfg)
	}
}

// WithMarshallers appends several marshallers in order.
func WithMarshallers(cfgs ...MarshallerConfiguration) Option {
	return func(b *builder) {
		b.marshallers = append(b.marshallers, cfgs...)
	}
}

// WithType registers a Marshallable type, or a type embedding Packet, under
// id. factory must return a new pointer of the registered type.
func WithType(id TypeID, factory func() any) Option {
	return func(b *builder) {
		b.types = append(b.types, typeRegistration{id: id, factory: factory})
	}
}

// WithDebugger installs a serialization debugger. The default is
// NoopDebugger.
func WithDebugger(d Debugger) Option {
	return func(b *builder) {
		b.debugger = d
	}
}

// WithMimeType overrides the content type used by HTTP transports.
func WithMimeType(mime string) Option {
	return func(b *builder) {
		b.mimeType = mime
	}
}

// builtinTypes are the value types every Protocol knows.
var builtinTypes = []typeRegistration{
	{TypeIDPacket, func() any { return &Packet{} }},
	{TypeIDHandshake, func() any { return &Handshake{} }},
	{TypeIDHandshakeResponse, func() any { return &HandshakeResponse{} }},
	{TypeIDPollingRequest, func() any { return &PollingRequest{} }},
	{TypeIDPollingResponse, func() any { return &PollingResponse{} }},
	{TypeIDLongPollingRequest, func() any { return &LongPollingRequest{} }},
	{TypeIDLongPollingResponse, func() any { return &LongPollingResponse{} }},
}

// New builds a Protocol. User type ids must be non-negative and unique
// across marshallers and types.
func New(opts ...Option) (*Protocol, error) {
	b := &builder{mimeType: MimeType, debugger: NoopDebugger}
	for _, opt := range opts {
		opt(b)
	}

	p := &Protocol{
		mimeType: b.mimeType,
		debugger: b.debugger,
		byID:     make(map[TypeID]*binding, len(builtinBindings)+len(b.marshallers)),
		types:    make(map[TypeID]*typeEntry, len(builtinTypes)+len(b.types)),
		typeIDs:  make(map[reflect.Type]TypeID, len(builtinTypes)+len(b.types)),
		enums:    make(map[TypeID]*enumEntry, len(b.enums)),
		enumIDs:  make(map[reflect.Type]TypeID, len(b.enums)),
	}
	if p.debugger == nil {
		p.debugger = NoopDebugger
	}
	for _, bb := range builtinBindings {
		p.byID[bb.id] = bb
	}
	for _, t := range builtinTypes {
		if err := p.addType(t); err != nil {
			return nil, err
		}
	}

	used := make(map[TypeID]bool)
	for _, cfg := range b.marshallers {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		if used[cfg.TypeID] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateTypeID, cfg.TypeID)
		}
		used[cfg.TypeID] = true
		bb := &binding{id: cfg.TypeID, filter: cfg.Filter, read: cfg.Reader, write: cfg.Writer}
		p.marshallers = append(p.marshallers, bb)
		p.byID[cfg.TypeID] = bb
	}
	for _, t := range b.types {
		if t.id.Reserved() {
			return nil, fmt.Errorf("%w: %d", ErrReservedTypeID, t.id)
		}
		if used[t.id] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateTypeID, t.id)
		}
		used[t.id] = true
		if err := p.addType(t); err != nil {
			return nil, err
		}
	}
	for _, e := range b.enums {
		if e.id.Reserved() {
			return nil, fmt.Errorf("%w: %d", ErrReservedTypeID, e.id)
		}
		if used[e.id] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateTypeID, e.id)
		}
		used[e.id] = true
		if err := p.addEnum(e); err != nil {
			return nil, err
		}
	}

	p.encoders.New = func() any { return &Encoder{protocol: p} }
	p.decoders.New = func() any { return &Decoder{protocol: p} }
	return p, nil
}

// MustNew is like New but panics on error. It is meant for package-level
// protocol definitions.
func MustNew(opts ...Option) *Protocol {
	p, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Protocol) addType(t typeRegistration) error {
	if t.factory == nil {
		return fmt.Errorf("%w: type %d has no factory", ErrInvalidType, t.id)
	}
	sample := t.factory()
	switch sample.(type) {
	case packetCarrier, Marshallable:
	default:
		return fmt.Errorf("%w: %T", ErrInvalidType, sample)
	}
	typ := reflect.TypeOf(sample)
	if _, dup := p.typeIDs[typ]; dup {
		return fmt.Errorf("%w: %v registered twice", ErrDuplicateTypeID, typ)
	}
	if _, dup := p.enumIDs[typ]; dup {
		return fmt.Errorf("%w: %v registered twice", ErrDuplicateTypeID, typ)
	}
	p.types[t.id] = &typeEntry{id: t.id, typ: typ, factory: t.factory}
	p.typeIDs[typ] = t.id
	return nil
}

// MimeType returns the content type for HTTP bodies.
func (p *Protocol) MimeType() string { return p.mimeType }

// Debugger returns the installed serialization debugger.
func (p *Protocol) Debugger() Debugger { return p.debugger }

// TypeID returns the registered type id of value's concrete type.
func (p *Protocol) TypeID(value any) (TypeID, error) {
	typ := reflect.TypeOf(value)
	id, ok := p.typeIDs[typ]
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnknownType, typ)
	}
	return id, nil
}

// FromTypeID returns the type or enum registered under id.
func (p *Protocol) FromTypeID(id TypeID) (reflect.Type, bool) {
	if t, ok := p.types[id]; ok {
		return t.typ, true
	}
	if e, ok := p.enums[id]; ok {
		return e.typ, true
	}
	return nil, false
}

// typeName describes the object stored under a marshaller id, for debug
// frames.
func (p *Protocol) typeName(id TypeID) string {
	if t, ok := p.types[id]; ok {
		return t.typ.String()
	}
	if e, ok := p.enums[id]; ok {
		return e.typ.String()
	}
	return id.String()
}

// newInstance builds an empty value of the registered type id.
func (p *Protocol) newInstance(id TypeID) (any, error) {
	t, ok := p.types[id]
	if !ok {
		return nil, fmt.Errorf("%w: value type %d", ErrUnknownTypeID, id)
	}
	return t.factory(), nil
}

// resolve finds the marshaller for value. Built-ins win, then registered
// types and enums, then cached filter decisions, then the filters in
// registration order.
func (p *Protocol) resolve(value any) (*binding, error) {
	if bb := builtinFor(value); bb != nil {
		return bb, nil
	}

	typ := reflect.TypeOf(value)
	if id, ok := p.enumIDs[typ]; ok {
		if p.enums[id].kind == TypeEnumerable {
			return enumerableBinding, nil
		}
		return enumBinding, nil
	}
	if _, ok := p.typeIDs[typ]; ok {
		if _, isPacket := value.(packetCarrier); isPacket {
			return packetBinding, nil
		}
		return marshallableBinding, nil
	}
	if cached, ok := p.cache.Load(typ); ok {
		return cached.(*binding), nil
	}

	for _, bb := range p.marshallers {
		result, err := bb.accept(value)
		if err != nil {
			return nil, err
		}
		switch result {
		case AcceptedAndCache:
			p.cache.Store(typ, bb)
			return bb, nil
		case AcceptedButDoNotCache:
			return bb, nil
		}
	}
	switch value.(type) {
	case packetCarrier, Marshallable:
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, typ)
	}
	return nil, fmt.Errorf("%w: %T", ErrNoMarshaller, value)
}

// writeObject writes the marshaller id and the value layout.
func (p *Protocol) writeObject(field string, value any, enc *Encoder) error {
	if value == nil {
		return ErrNilValue
	}
	bb, err := p.resolve(value)
	if err != nil {
		return err
	}
	enc.WriteInt16("typeId", int16(bb.id))
	if err := enc.Err(); err != nil {
		return err
	}
	if err := callWriter(bb, field, value, enc); err != nil {
		return err
	}
	return enc.Err()
}

// readObject reads a marshaller id and dispatches to its reader.
func (p *Protocol) readObject(field string, dec *Decoder) (any, error) {
	raw, err := dec.ReadInt16()
	if err != nil {
		return nil, err
	}
	id := TypeID(raw)
	bb, ok := p.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d (field %q)", ErrUnknownTypeID, id, field)
	}
	return callReader(bb, field, dec)
}

func callWriter(bb *binding, field string, value any, enc *Encoder) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SystemError{TypeID: bb.id, Field: field, Op: "write", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := bb.write(value, enc); err != nil {
		return wrapSystem(bb.id, field, "write", err)
	}
	return nil
}

func callReader(bb *binding, field string, dec *Decoder) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SystemError{TypeID: bb.id, Field: field, Op: "read", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err = bb.read(dec)
	if err != nil {
		return nil, wrapSystem(bb.id, field, "read", err)
	}
	return v, nil
}

// wrapSystem wraps errors raised by user marshallers. Errors from built-in
// marshallers and already-wrapped errors pass through.
func wrapSystem(id TypeID, field, op string, err error) error {
	if id.Reserved() || isCodecError(err) {
		return err
	}
	return &SystemError{TypeID: id, Field: field, Op: op, Err: err}
}

// AcquireEncoder returns a pooled Encoder writing to buf. Call Release when
// done; WithEncoder does this automatically.
func (p *Protocol) AcquireEncoder(buf *buffer.MemoryBuffer) *Encoder {
	enc := p.encoders.Get().(*Encoder)
	enc.buf = buf
	return enc
}

// AcquireDecoder returns a pooled Decoder reading from buf. Call Release
// when done; WithDecoder does this automatically.
func (p *Protocol) AcquireDecoder(buf *buffer.MemoryBuffer) *Decoder {
	dec := p.decoders.Get().(*Decoder)
	dec.buf = buf
	return dec
}

// WithEncoder runs fn with a pooled Encoder and releases it on every exit
// path.
func (p *Protocol) WithEncoder(buf *buffer.MemoryBuffer, fn func(enc *Encoder) error) error {
	enc := p.AcquireEncoder(buf)
	defer enc.Release()
	if err := fn(enc); err != nil {
		return err
	}
	return enc.Err()
}

// WithDecoder runs fn with a pooled Decoder and releases it on every exit
// path.
func (p *Protocol) WithDecoder(buf *buffer.MemoryBuffer, fn func(dec *Decoder) error) error {
	dec := p.AcquireDecoder(buf)
	defer dec.Release()
	return fn(dec)
}

// Encode writes value as a single object into buf.
func (p *Protocol) Encode(buf *buffer.MemoryBuffer, value any) error {
	return p.WithEncoder(buf, func(enc *Encoder) error {
		return enc.WriteObject("", value)
	})
}

// Decode reads a single object from buf.
func (p *Protocol) Decode(buf *buffer.MemoryBuffer) (any, error) {
	var v any
	err := p.WithDecoder(buf, func(dec *Decoder) error {
		var err error
		v, err = dec.ReadObject("")
		return err
	})
	return v, err
}
