package protocol

// Handshake is the first payload a client sends on a fresh session. Its
// values carry whatever the HandshakeHandler needs to decide (credentials,
// client version, requested features).
type Handshake struct {
	Packet
}

// NewHandshake returns an empty handshake.
func NewHandshake() *Handshake {
	return &Handshake{Packet: Packet{name: "Handshake"}}
}

func (*Handshake) handshake() {}

// HandshakeResponse is returned by the server when a handshake is accepted.
type HandshakeResponse struct {
	Packet
}

// NewHandshakeResponse returns an empty handshake response.
func NewHandshakeResponse() *HandshakeResponse {
	return &HandshakeResponse{Packet: Packet{name: "HandshakeResponse"}}
}

func (*HandshakeResponse) handshake() {}

// HandshakeMessage is implemented by *Handshake and *HandshakeResponse.
// A HandshakeHandler may answer with either.
type HandshakeMessage interface {
	PacketName() string
	Value(key string) any
	SetValue(key string, value any) *Packet
	handshake()
}
