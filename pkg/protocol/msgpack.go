package protocol

import (
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackMarshaller builds a marshaller that stores values of type T as
// MessagePack. It suits plain structs that do not implement Marshallable.
// Both T and *T are accepted on write; the reader always returns *T.
//
// Layout: int32 length, then the MessagePack bytes.
func MsgpackMarshaller[T any](id TypeID) MarshallerConfiguration {
	valueType := reflect.TypeFor[T]()
	ptrType := reflect.PointerTo(valueType)

	return MarshallerConfiguration{
		Filter: MarshallerFilterFunc(func(value any) FilterResult {
			switch reflect.TypeOf(value) {
			case valueType, ptrType:
				return AcceptedAndCache
			}
			return Next
		}),
		TypeID: id,
		Reader: func(dec *Decoder) (any, error) {
			raw, err := dec.ReadByteArray()
			if err != nil {
				return nil, err
			}
			v := new(T)
			if err := msgpack.Unmarshal(raw, v); err != nil {
				return nil, fmt.Errorf("msgpack decode %v: %w", valueType, err)
			}
			return v, nil
		},
		Writer: func(value any, enc *Encoder) error {
			raw, err := msgpack.Marshal(value)
			if err != nil {
				return fmt.Errorf("msgpack encode %T: %w", value, err)
			}
			enc.WriteByteArray("msgpack", raw)
			return nil
		},
	}
}
