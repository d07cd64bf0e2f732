// Package protocol implements the tengi binary serialization protocol.
//
// A Protocol is a type registry built once at startup. It maps Go values to
// a compact, type-tagged byte layout and back, and hands out pooled Encoder
// and Decoder cursors bound to a buffer.MemoryBuffer.
//
// # Objects
//
// Every object on the wire starts with a 2-byte TypeID naming the
// marshaller that wrote it:
//
//	[TypeID: int16][marshaller layout]
//
// Built-in marshallers (negative ids) cover the Go primitives, strings,
// []byte, []any, map[string]any, identifier.Identifier, Message, the Packet
// family and registered Marshallable types. They are checked first. Values
// no built-in handles are offered to user marshallers in registration
// order; the first filter that accepts wins, and AcceptedAndCache remembers
// the choice for that concrete type.
//
// # Nullable values
//
// Optional values are prefixed with a presence byte:
//
//	[0x00]                 nil
//	[0x01][TypeID][layout] present
//
// # Encoding
//
//   - Fixed-width integers and floats: big-endian
//   - Compressed integers: ZigZag, then base-128 varint
//   - Strings: 2-byte length prefix (max 65535 bytes), UTF-8 bytes
//   - Byte arrays: int32 length prefix
//
// # Frames
//
// Transports exchange Frames: a magic header, a login flag, the connection
// id once logged in, and one payload object. See Frame.
//
// # Debugging
//
// Installing a StackDebugger with WithDebugger makes codec errors carry the
// path of nested objects being processed:
//
//	deserializing field body of type *protocol.Packet > deserializing field score of type int: ...
//
// The default NoopDebugger adds no overhead.
package protocol
