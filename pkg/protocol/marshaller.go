package protocol

import (
	"fmt"
	"reflect"
)

// FilterResult is the decision a MarshallerFilter makes for a value.
type FilterResult int

const (
	// Next passes the value on to the next registered filter.
	Next FilterResult = iota
	// AcceptedAndCache selects the marshaller and remembers the choice for
	// the value's concrete type, so later values of that type skip filtering.
	AcceptedAndCache
	// AcceptedButDoNotCache selects the marshaller for this value only.
	AcceptedButDoNotCache
)

// String returns the name of the result.
func (r FilterResult) String() string {
	switch r {
	case Next:
		return "Next"
	case AcceptedAndCache:
		return "AcceptedAndCache"
	case AcceptedButDoNotCache:
		return "AcceptedButDoNotCache"
	default:
		return fmt.Sprintf("FilterResult(%d)", int(r))
	}
}

// MarshallerFilter decides whether a marshaller handles a value.
type MarshallerFilter interface {
	Accept(value any) FilterResult
}

// MarshallerFilterFunc adapts a function to MarshallerFilter.
type MarshallerFilterFunc func(value any) FilterResult

// Accept calls f(value).
func (f MarshallerFilterFunc) Accept(value any) FilterResult { return f(value) }

// MarshallerReader decodes one value. The type id has already been consumed.
type MarshallerReader func(dec *Decoder) (any, error)

// MarshallerWriter encodes one value. The type id has already been written.
type MarshallerWriter func(value any, enc *Encoder) error

// MarshallerConfiguration binds a filter and a read/write pair to a type id.
type MarshallerConfiguration struct {
	Filter MarshallerFilter
	TypeID TypeID
	Reader MarshallerReader
	Writer MarshallerWriter
}

func (c MarshallerConfiguration) validate() error {
	if c.TypeID.Reserved() {
		return fmt.Errorf("%w: %d", ErrReservedTypeID, c.TypeID)
	}
	if c.Filter == nil || c.Reader == nil || c.Writer == nil {
		return fmt.Errorf("protocol: marshaller %d needs a filter, a reader and a writer", c.TypeID)
	}
	return nil
}

// TypeFilter accepts values whose dynamic type is exactly t and caches the
// decision.
func TypeFilter(t reflect.Type) MarshallerFilter {
	return MarshallerFilterFunc(func(value any) FilterResult {
		if reflect.TypeOf(value) == t {
			return AcceptedAndCache
		}
		return Next
	})
}

// MarshallerFor builds a configuration for values of type T.
//
//	cfg := protocol.MarshallerFor(10,
//		func(dec *protocol.Decoder) (Point, error) { ... },
//		func(p Point, enc *protocol.Encoder) error { ... })
func MarshallerFor[T any](id TypeID, read func(dec *Decoder) (T, error), write func(value T, enc *Encoder) error) MarshallerConfiguration {
	return MarshallerConfiguration{
		Filter: TypeFilter(reflect.TypeFor[T]()),
		TypeID: id,
		Reader: func(dec *Decoder) (any, error) {
			return read(dec)
		},
		Writer: func(value any, enc *Encoder) error {
			v, ok := value.(T)
			if !ok {
				return fmt.Errorf("protocol: marshaller %d cannot write %T", id, value)
			}
			return write(v, enc)
		},
	}
}

// binding is a resolved marshaller.
type binding struct {
	id     TypeID
	filter MarshallerFilter
	read   MarshallerReader
	write  MarshallerWriter
}

// accept runs the filter, turning a panic into an error.
func (b *binding) accept(value any) (result FilterResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &SystemError{TypeID: b.id, Op: "filter", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return b.filter.Accept(value), nil
}
