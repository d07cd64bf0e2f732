package protocol

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrUnknownConstant is returned when an enum name or flag does not match a
// registered constant.
var ErrUnknownConstant = errors.New("protocol: unknown enum constant")

// Enumerable is implemented by named constants that travel as a stable
// int32 flag instead of their name. The flag must not change once values
// are on the wire.
//
//	type Priority int
//
//	const (
//		Low Priority = iota
//		High
//	)
//
//	func (p Priority) Flag() int32 { return int32(p) * 10 }
//
//	p, _ := protocol.New(protocol.WithEnumerable[Priority](20, Low, High))
type Enumerable interface {
	Flag() int32
}

// enumEntry is a registered set of constants of one concrete type.
type enumEntry struct {
	id     TypeID
	kind   TypeID
	typ    reflect.Type
	byName map[string]any
	byFlag map[int32]any
	err    error
}

// WithEnum registers the named constants of E under id. Constants travel by
// their String() name, so renaming a constant breaks old peers.
func WithEnum[E fmt.Stringer](id TypeID, constants ...E) Option {
	return func(b *builder) {
		e := newEnumEntry[E](id, TypeEnum, len(constants))
		e.byName = make(map[string]any, len(constants))
		for _, c := range constants {
			name := c.String()
			if _, dup := e.byName[name]; dup && e.err == nil {
				e.err = fmt.Errorf("%w: %v name %q used twice", ErrInvalidType, e.typ, name)
			}
			e.byName[name] = c
		}
		b.enums = append(b.enums, e)
	}
}

// WithEnumerable registers the constants of E under id. Constants travel by
// their Flag().
func WithEnumerable[E Enumerable](id TypeID, constants ...E) Option {
	return func(b *builder) {
		e := newEnumEntry[E](id, TypeEnumerable, len(constants))
		e.byFlag = make(map[int32]any, len(constants))
		for _, c := range constants {
			flag := c.Flag()
			if _, dup := e.byFlag[flag]; dup && e.err == nil {
				e.err = fmt.Errorf("%w: %v flag %d used twice", ErrInvalidType, e.typ, flag)
			}
			e.byFlag[flag] = c
		}
		b.enums = append(b.enums, e)
	}
}

func newEnumEntry[E any](id, kind TypeID, n int) *enumEntry {
	e := &enumEntry{id: id, kind: kind, typ: reflect.TypeFor[E]()}
	switch {
	case e.typ.Kind() == reflect.Interface:
		e.err = fmt.Errorf("%w: enum %d must use a concrete type, not %v", ErrInvalidType, id, e.typ)
	case n == 0:
		e.err = fmt.Errorf("%w: enum %v has no constants", ErrInvalidType, e.typ)
	}
	return e
}

// addEnum registers e after the caller checked its id.
func (p *Protocol) addEnum(e *enumEntry) error {
	if e.err != nil {
		return e.err
	}
	if _, dup := p.typeIDs[e.typ]; dup {
		return fmt.Errorf("%w: %v registered twice", ErrDuplicateTypeID, e.typ)
	}
	if _, dup := p.enumIDs[e.typ]; dup {
		return fmt.Errorf("%w: %v registered twice", ErrDuplicateTypeID, e.typ)
	}
	p.enums[e.id] = e
	p.enumIDs[e.typ] = e.id
	return nil
}

// enumFor returns the entry registered for value's concrete type.
func (p *Protocol) enumFor(value any) (*enumEntry, bool) {
	id, ok := p.enumIDs[reflect.TypeOf(value)]
	if !ok {
		return nil, false
	}
	return p.enums[id], true
}

// enumByID returns the entry under id if it was registered as kind.
func (p *Protocol) enumByID(id, kind TypeID) (*enumEntry, error) {
	e, ok := p.enums[id]
	if !ok || e.kind != kind {
		return nil, fmt.Errorf("%w: %s type %d", ErrUnknownTypeID, kind, id)
	}
	return e, nil
}

func writeEnum(v any, enc *Encoder) error {
	e, ok := enc.protocol.enumFor(v)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnknownType, v)
	}
	name := v.(fmt.Stringer).String()
	if _, ok := e.byName[name]; !ok {
		return fmt.Errorf("%w: %v has no constant %q", ErrUnknownConstant, e.typ, name)
	}
	enc.WriteInt16("enumType", int16(e.id))
	enc.WriteString("name", name)
	return nil
}

func readEnum(dec *Decoder) (any, error) {
	raw, err := dec.ReadInt16()
	if err != nil {
		return nil, err
	}
	e, err := dec.protocol.enumByID(TypeID(raw), TypeEnum)
	if err != nil {
		return nil, err
	}
	name, err := dec.ReadString()
	if err != nil {
		return nil, err
	}
	v, ok := e.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %v has no constant %q", ErrUnknownConstant, e.typ, name)
	}
	return v, nil
}

func writeEnumerable(v any, enc *Encoder) error {
	e, ok := enc.protocol.enumFor(v)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnknownType, v)
	}
	flag := v.(Enumerable).Flag()
	if _, ok := e.byFlag[flag]; !ok {
		return fmt.Errorf("%w: %v has no flag %d", ErrUnknownConstant, e.typ, flag)
	}
	enc.WriteInt16("enumerableType", int16(e.id))
	enc.WriteInt32("flag", flag)
	return nil
}

func readEnumerable(dec *Decoder) (any, error) {
	raw, err := dec.ReadInt16()
	if err != nil {
		return nil, err
	}
	e, err := dec.protocol.enumByID(TypeID(raw), TypeEnumerable)
	if err != nil {
		return nil, err
	}
	flag, err := dec.ReadInt32()
	if err != nil {
		return nil, err
	}
	v, ok := e.byFlag[flag]
	if !ok {
		return nil, fmt.Errorf("%w: %v has no flag %d", ErrUnknownConstant, e.typ, flag)
	}
	return v, nil
}
