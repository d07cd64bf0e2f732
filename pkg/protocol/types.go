package protocol

import "strconv"

// TypeID is the 2-byte tag written before every object on the wire.
// Negative ids are reserved for built-in types; user marshallers and types
// use ids >= 0.
type TypeID int16

// Built-in marshaller ids.
const (
	TypeByte       TypeID = -1
	TypeInt16      TypeID = -2
	TypeUint16     TypeID = -3
	TypeInt32      TypeID = -4
	TypeFloat32    TypeID = -5
	TypeInt64      TypeID = -6
	TypeFloat64    TypeID = -7
	TypeString     TypeID = -8
	TypeByteArray  TypeID = -9
	TypeEnum       TypeID = -10
	TypeEnumerable TypeID = -11
	TypeBool       TypeID = -12
	TypeInt        TypeID = -13
	TypeInt8       TypeID = -14
	TypeUint32     TypeID = -15
	TypeUint64     TypeID = -16
	TypeUint       TypeID = -17
	TypeList       TypeID = -20
	TypeMap        TypeID = -21

	TypeIdentifier   TypeID = -101
	TypeMessage      TypeID = -102
	TypePacket       TypeID = -103
	TypeMarshallable TypeID = -104
)

// Built-in value type ids, written by the Packet and Marshallable
// marshallers after their own marshaller id.
const (
	TypeIDPacket              TypeID = -1000
	TypeIDHandshake           TypeID = -201
	TypeIDHandshakeResponse   TypeID = -202
	TypeIDPollingRequest      TypeID = -203
	TypeIDPollingResponse     TypeID = -204
	TypeIDLongPollingRequest  TypeID = -205
	TypeIDLongPollingResponse TypeID = -206
)

// Reserved reports whether id belongs to the built-in range.
func (id TypeID) Reserved() bool { return id < 0 }

// String returns the built-in type name, or the numeric id.
func (id TypeID) String() string {
	switch id {
	case TypeByte:
		return "byte"
	case TypeInt16:
		return "int16"
	case TypeUint16:
		return "uint16"
	case TypeInt32:
		return "int32"
	case TypeFloat32:
		return "float32"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeByteArray:
		return "[]byte"
	case TypeEnum:
		return "enum"
	case TypeEnumerable:
		return "enumerable"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeInt8:
		return "int8"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeUint:
		return "uint"
	case TypeList:
		return "[]any"
	case TypeMap:
		return "map[string]any"
	case TypeIdentifier:
		return "Identifier"
	case TypeMessage:
		return "Message"
	case TypePacket:
		return "Packet"
	case TypeMarshallable:
		return "Marshallable"
	case TypeIDPacket:
		return "Packet"
	case TypeIDHandshake:
		return "Handshake"
	case TypeIDHandshakeResponse:
		return "HandshakeResponse"
	case TypeIDPollingRequest:
		return "PollingRequest"
	case TypeIDPollingResponse:
		return "PollingResponse"
	case TypeIDLongPollingRequest:
		return "LongPollingRequest"
	case TypeIDLongPollingResponse:
		return "LongPollingResponse"
	default:
		return "TypeID(" + strconv.Itoa(int(id)) + ")"
	}
}
