package server

import (
	"reflect"

	"github.com/vango-dev/tengi/pkg/identifier"
	"github.com/vango-dev/tengi/pkg/protocol"
)

// HandshakeHandler decides whether a fresh session becomes a connection.
//
// id is the identity the connection will have if accepted. Returning nil
// rejects the handshake and the session closes without a response.
// Returning hs itself is illegal. Any other HandshakeMessage is sent back
// to the client as the handshake response.
//
// HandleHandshake is called from transport goroutines and must be safe for
// concurrent use.
type HandshakeHandler interface {
	HandleHandshake(id identifier.Identifier, hs *protocol.Handshake) protocol.HandshakeMessage
}

// HandshakeHandlerFunc adapts a function to HandshakeHandler.
type HandshakeHandlerFunc func(id identifier.Identifier, hs *protocol.Handshake) protocol.HandshakeMessage

// HandleHandshake calls f.
func (f HandshakeHandlerFunc) HandleHandshake(id identifier.Identifier, hs *protocol.Handshake) protocol.HandshakeMessage {
	return f(id, hs)
}

// AcceptAll accepts every handshake with an empty response.
var AcceptAll HandshakeHandler = HandshakeHandlerFunc(func(identifier.Identifier, *protocol.Handshake) protocol.HandshakeMessage {
	return protocol.NewHandshakeResponse()
})

// isNilResponse catches both a nil interface and a typed nil pointer.
func isNilResponse(resp protocol.HandshakeMessage) bool {
	if resp == nil {
		return true
	}
	v := reflect.ValueOf(resp)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
