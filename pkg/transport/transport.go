// Package transport describes the wire transports a tengi server can expose
// and a client can connect through.
//
// A Transport is a plain comparable value; it carries no sockets. Front
// doors in pkg/server and connectors in pkg/client are selected by it.
package transport

import (
	"fmt"
	"strings"
)

// Layer is the network layer a transport runs on.
type Layer uint8

const (
	LayerTCP Layer = iota
	LayerUDP
	LayerSCTP
)

// String returns the lowercase layer name.
func (l Layer) String() string {
	switch l {
	case LayerTCP:
		return "tcp"
	case LayerUDP:
		return "udp"
	case LayerSCTP:
		return "sctp"
	default:
		return fmt.Sprintf("layer(%d)", uint8(l))
	}
}

// Default ports.
const (
	DefaultTCPPort  = 8080
	DefaultHTTPPort = 8081
	DefaultRUDPPort = 9090
)

// Transport describes one wire transport.
type Transport struct {
	name        string
	streaming   bool
	defaultPort int
	layer       Layer
	supported   bool
}

// Built-in transports.
var (
	// TCP frames envelopes with a uint32 length prefix.
	TCP = Transport{name: "tcp", streaming: true, defaultPort: DefaultTCPPort, layer: LayerTCP, supported: true}

	// WebSocket sends one binary message per envelope.
	WebSocket = Transport{name: "websocket", streaming: true, defaultPort: DefaultHTTPPort, layer: LayerTCP, supported: true}

	// HTTPPolling answers each POST immediately.
	HTTPPolling = Transport{name: "http", defaultPort: DefaultHTTPPort, layer: LayerTCP, supported: true}

	// HTTPLongPolling holds a poll open until a message is queued or the
	// long-poll timeout expires.
	HTTPLongPolling = Transport{name: "http-long", defaultPort: DefaultHTTPPort, layer: LayerTCP, supported: true}

	// RUDP is declared for completeness. No server or client implements it.
	RUDP = Transport{name: "rudp", streaming: true, defaultPort: DefaultRUDPPort, layer: LayerUDP}
)

var all = []Transport{TCP, WebSocket, HTTPPolling, HTTPLongPolling, RUDP}

// All returns every declared transport, including unsupported ones.
func All() []Transport {
	out := make([]Transport, len(all))
	copy(out, all)
	return out
}

// Lookup finds a transport by name, case-insensitively.
func Lookup(name string) (Transport, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range all {
		if t.name == name {
			return t, true
		}
	}
	return Transport{}, false
}

// Name returns the transport's configuration name.
func (t Transport) Name() string { return t.name }

// Streaming reports whether the transport keeps an open, ordered pipe to the
// peer. Non-streaming transports deliver server messages through a polling
// queue.
func (t Transport) Streaming() bool { return t.streaming }

// DefaultPort returns the port used when no override is configured.
func (t Transport) DefaultPort() int { return t.defaultPort }

// Layer returns the network layer.
func (t Transport) Layer() Layer { return t.layer }

// Supported reports whether this build can serve the transport.
func (t Transport) Supported() bool { return t.supported }

// HTTP reports whether the transport is served by the HTTP listener.
func (t Transport) HTTP() bool {
	return t == WebSocket || t == HTTPPolling || t == HTTPLongPolling
}

// IsZero reports whether t is the zero Transport.
func (t Transport) IsZero() bool { return t.name == "" }

// String returns the transport name.
func (t Transport) String() string {
	if t.name == "" {
		return "transport(none)"
	}
	return t.name
}

// MarshalText implements encoding.TextMarshaler.
func (t Transport) MarshalText() ([]byte, error) {
	return []byte(t.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so transports can be
// named in config files.
func (t *Transport) UnmarshalText(text []byte) error {
	found, ok := Lookup(string(text))
	if !ok {
		return fmt.Errorf("transport: unknown transport %q", text)
	}
	*t = found
	return nil
}
