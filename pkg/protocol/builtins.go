package protocol

import (
	"fmt"
	"sort"

	"github.com/vango-dev/tengi/pkg/identifier"
)

func newBuiltin(id TypeID, read MarshallerReader, write MarshallerWriter) *binding {
	return &binding{id: id, read: read, write: write}
}

// Built-in marshallers. They are assigned in init because their writers
// recurse into builtinFor.
var byteBinding, int8Binding, boolBinding, int16Binding, uint16Binding, int32Binding, uint32Binding *binding

var int64Binding, uint64Binding, intBinding, uintBinding, float32Binding, float64Binding, stringBinding *binding

var byteArrayBinding, listBinding, mapBinding, identifierBinding, messageBinding *binding

var packetBinding, marshallableBinding, enumBinding, enumerableBinding *binding

var builtinBindings []*binding

func init() {
	byteBinding = newBuiltin(TypeByte,
		func(dec *Decoder) (any, error) { return dec.ReadUint8() },
		func(v any, enc *Encoder) error { enc.WriteUint8("value", v.(byte)); return nil })
	int8Binding = newBuiltin(TypeInt8,
		func(dec *Decoder) (any, error) { return dec.ReadInt8() },
		func(v any, enc *Encoder) error { enc.WriteInt8("value", v.(int8)); return nil })
	boolBinding = newBuiltin(TypeBool,
		func(dec *Decoder) (any, error) { return dec.ReadBool() },
		func(v any, enc *Encoder) error { enc.WriteBool("value", v.(bool)); return nil })
	int16Binding = newBuiltin(TypeInt16,
		func(dec *Decoder) (any, error) { return dec.ReadInt16() },
		func(v any, enc *Encoder) error { enc.WriteInt16("value", v.(int16)); return nil })
	uint16Binding = newBuiltin(TypeUint16,
		func(dec *Decoder) (any, error) { return dec.ReadUint16() },
		func(v any, enc *Encoder) error { enc.WriteUint16("value", v.(uint16)); return nil })
	int32Binding = newBuiltin(TypeInt32,
		func(dec *Decoder) (any, error) { return dec.ReadInt32() },
		func(v any, enc *Encoder) error { enc.WriteInt32("value", v.(int32)); return nil })
	uint32Binding = newBuiltin(TypeUint32,
		func(dec *Decoder) (any, error) { return dec.ReadUint32() },
		func(v any, enc *Encoder) error { enc.WriteUint32("value", v.(uint32)); return nil })
	int64Binding = newBuiltin(TypeInt64,
		func(dec *Decoder) (any, error) { return dec.ReadInt64() },
		func(v any, enc *Encoder) error { enc.WriteInt64("value", v.(int64)); return nil })
	uint64Binding = newBuiltin(TypeUint64,
		func(dec *Decoder) (any, error) { return dec.ReadUint64() },
		func(v any, enc *Encoder) error { enc.WriteUint64("value", v.(uint64)); return nil })
	intBinding = newBuiltin(TypeInt,
		func(dec *Decoder) (any, error) {
			v, err := dec.ReadCompressedInt64()
			return int(v), err
		},
		func(v any, enc *Encoder) error { enc.WriteCompressedInt64("value", int64(v.(int))); return nil })
	uintBinding = newBuiltin(TypeUint,
		func(dec *Decoder) (any, error) {
			v, err := dec.ReadUint64()
			return uint(v), err
		},
		func(v any, enc *Encoder) error { enc.WriteUint64("value", uint64(v.(uint))); return nil })
	float32Binding = newBuiltin(TypeFloat32,
		func(dec *Decoder) (any, error) { return dec.ReadFloat32() },
		func(v any, enc *Encoder) error { enc.WriteFloat32("value", v.(float32)); return nil })
	float64Binding = newBuiltin(TypeFloat64,
		func(dec *Decoder) (any, error) { return dec.ReadFloat64() },
		func(v any, enc *Encoder) error { enc.WriteFloat64("value", v.(float64)); return nil })
	stringBinding = newBuiltin(TypeString,
		func(dec *Decoder) (any, error) { return dec.ReadString() },
		func(v any, enc *Encoder) error { enc.WriteString("value", v.(string)); return nil })
	byteArrayBinding = newBuiltin(TypeByteArray,
		func(dec *Decoder) (any, error) { return dec.ReadByteArray() },
		func(v any, enc *Encoder) error { enc.WriteByteArray("value", v.([]byte)); return nil })
	listBinding = newBuiltin(TypeList, readList, writeList)
	mapBinding = newBuiltin(TypeMap, readMap, writeMap)
	identifierBinding = newBuiltin(TypeIdentifier, readIdentifier, writeIdentifier)
	messageBinding = newBuiltin(TypeMessage, readMessage, writeMessage)

	packetBinding = newBuiltin(TypePacket, readPacket, writePacket)
	marshallableBinding = newBuiltin(TypeMarshallable, readMarshallable, writeMarshallable)
	enumBinding = newBuiltin(TypeEnum, readEnum, writeEnum)
	enumerableBinding = newBuiltin(TypeEnumerable, readEnumerable, writeEnumerable)

	builtinBindings = []*binding{
		byteBinding, int8Binding, boolBinding, int16Binding, uint16Binding,
		int32Binding, uint32Binding, int64Binding, uint64Binding, intBinding,
		uintBinding, float32Binding, float64Binding, stringBinding, byteArrayBinding,
		listBinding, mapBinding, identifierBinding, messageBinding,
		packetBinding, marshallableBinding, enumBinding, enumerableBinding,
	}
}

// builtinFor returns the built-in marshaller for primitive, string,
// collection, identifier and message values. Packet, Marshallable and enum
// values are resolved through the type registry instead.
func builtinFor(value any) *binding {
	switch value.(type) {
	case string:
		return stringBinding
	case int:
		return intBinding
	case int64:
		return int64Binding
	case int32:
		return int32Binding
	case bool:
		return boolBinding
	case float64:
		return float64Binding
	case []byte:
		return byteArrayBinding
	case byte:
		return byteBinding
	case int8:
		return int8Binding
	case int16:
		return int16Binding
	case uint16:
		return uint16Binding
	case uint32:
		return uint32Binding
	case uint64:
		return uint64Binding
	case uint:
		return uintBinding
	case float32:
		return float32Binding
	case []any:
		return listBinding
	case map[string]any:
		return mapBinding
	case identifier.Identifier:
		return identifierBinding
	case *Message:
		return messageBinding
	}
	return nil
}

func writeList(v any, enc *Encoder) error {
	list := v.([]any)
	enc.WriteCompressedInt32("size", int32(len(list)))
	for _, item := range list {
		if err := enc.WriteNullableObject("item", item); err != nil {
			return err
		}
	}
	return nil
}

func readList(dec *Decoder) (any, error) {
	n, err := dec.readCount()
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, n)
	for i := 0; i < n; i++ {
		item, err := dec.ReadNullableObject("item")
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeEntries(m map[string]any, enc *Encoder) error {
	enc.WriteCompressedInt32("size", int32(len(m)))
	for _, k := range sortedKeys(m) {
		enc.WriteString("key", k)
		if err := enc.WriteNullableObject(k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func readEntries(dec *Decoder) (map[string]any, error) {
	n, err := dec.readCount()
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, n)
	for i := 0; i < n; i++ {
		k, err := dec.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := dec.ReadNullableObject(k)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func writeMap(v any, enc *Encoder) error {
	return writeEntries(v.(map[string]any), enc)
}

func readMap(dec *Decoder) (any, error) {
	return readEntries(dec)
}

func writeIdentifier(v any, enc *Encoder) error {
	id := v.(identifier.Identifier)
	enc.WriteRaw("identifier", id[:])
	return nil
}

func readIdentifier(dec *Decoder) (any, error) {
	raw, err := dec.ReadRaw(identifier.Size)
	if err != nil {
		return nil, err
	}
	return identifier.FromBytes(raw)
}

// writePacket writes: value type id, name, entries, extension.
func writePacket(v any, enc *Encoder) error {
	id, err := enc.protocol.TypeID(v)
	if err != nil {
		return err
	}
	pk := v.(packetCarrier).packet()
	enc.WriteInt16("packetType", int16(id))
	enc.WriteString("packetName", pk.name)
	if err := writeEntries(pk.values, enc); err != nil {
		return err
	}
	if ext, ok := v.(PacketExtension); ok {
		return ext.MarshallExtension(enc)
	}
	return nil
}

func readPacket(dec *Decoder) (any, error) {
	raw, err := dec.ReadInt16()
	if err != nil {
		return nil, err
	}
	v, err := dec.protocol.newInstance(TypeID(raw))
	if err != nil {
		return nil, err
	}
	carrier, ok := v.(packetCarrier)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a packet", ErrUnexpectedPayload, v)
	}
	name, err := dec.ReadString()
	if err != nil {
		return nil, err
	}
	values, err := readEntries(dec)
	if err != nil {
		return nil, err
	}
	pk := carrier.packet()
	pk.name = name
	if len(values) > 0 {
		pk.values = values
	}
	if ext, ok := v.(PacketExtension); ok {
		if err := ext.UnmarshallExtension(dec); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func writeMarshallable(v any, enc *Encoder) error {
	id, err := enc.protocol.TypeID(v)
	if err != nil {
		return err
	}
	enc.WriteInt16("marshallableType", int16(id))
	if err := v.(Marshallable).Marshall(enc); err != nil {
		return wrapSystem(id, "", "marshall", err)
	}
	return nil
}

func readMarshallable(dec *Decoder) (any, error) {
	raw, err := dec.ReadInt16()
	if err != nil {
		return nil, err
	}
	id := TypeID(raw)
	v, err := dec.protocol.newInstance(id)
	if err != nil {
		return nil, err
	}
	m, ok := v.(Marshallable)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not Marshallable", ErrUnexpectedPayload, v)
	}
	if err := m.Unmarshall(dec); err != nil {
		return nil, wrapSystem(id, "", "unmarshall", err)
	}
	return v, nil
}
