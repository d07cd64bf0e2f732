package connection

import (
	"reflect"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/protocol"
)

// MessageListener receives application messages.
type MessageListener interface {
	OnMessage(c *Connection, msg *protocol.Message)
}

// MessageListenerFunc adapts a function to MessageListener.
type MessageListenerFunc func(c *Connection, msg *protocol.Message)

// OnMessage calls f.
func (f MessageListenerFunc) OnMessage(c *Connection, msg *protocol.Message) { f(c, msg) }

// ConnectionListener is told when a connection is established and when it
// closes.
type ConnectionListener interface {
	OnConnect(c *Connection)
	OnDisconnect(c *Connection)
}

// ConnectionListenerFuncs adapts a pair of functions to ConnectionListener.
// Either may be nil.
type ConnectionListenerFuncs struct {
	Connect    func(c *Connection)
	Disconnect func(c *Connection)
}

// OnConnect calls Connect if set.
func (f ConnectionListenerFuncs) OnConnect(c *Connection) {
	if f.Connect != nil {
		f.Connect(c)
	}
}

// OnDisconnect calls Disconnect if set.
func (f ConnectionListenerFuncs) OnDisconnect(c *Connection) {
	if f.Disconnect != nil {
		f.Disconnect(c)
	}
}

// FrameListener sees every raw inbound payload before it is decoded. The
// buffer is a duplicate owned by the listener for the duration of the call.
type FrameListener interface {
	OnFrame(c *Connection, frame *buffer.MemoryBuffer)
}

// FrameListenerFunc adapts a function to FrameListener.
type FrameListenerFunc func(c *Connection, frame *buffer.MemoryBuffer)

// OnFrame calls f.
func (f FrameListenerFunc) OnFrame(c *Connection, frame *buffer.MemoryBuffer) { f(c, frame) }

// ExceptionListener is an optional interface. Any registered listener that
// also implements it is told about decoding, marshaller and listener
// failures before the connection closes.
type ExceptionListener interface {
	OnException(c *Connection, err error)
}

// ExceptionListenerFunc adapts a function to ExceptionListener.
type ExceptionListenerFunc func(c *Connection, err error)

// OnException calls f.
func (f ExceptionListenerFunc) OnException(c *Connection, err error) { f(c, err) }

// sameListener reports whether a and b are the same listener instance.
// Only comparable values (pointers, comparable structs) can be identified;
// function adapters always count as distinct.
func sameListener(a, b any) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// isNil reports whether l is nil or a typed nil.
func isNil(l any) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}
