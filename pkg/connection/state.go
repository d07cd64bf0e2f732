package connection

import "fmt"

// State is the lifecycle state of a transport session and its connection.
type State int32

const (
	// Unauthenticated is a fresh session that has not sent a frame yet.
	Unauthenticated State = iota
	// Handshaking is a session whose handshake is being handled.
	Handshaking
	// Established is a connection with an identity that exchanges messages.
	Established
	// Closed is terminal.
	Closed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "Unauthenticated"
	case Handshaking:
		return "Handshaking"
	case Established:
		return "Established"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// CanTransition reports whether to is reachable from s in one step.
func (s State) CanTransition(to State) bool {
	switch s {
	case Unauthenticated:
		return to == Handshaking || to == Closed
	case Handshaking:
		return to == Established || to == Closed
	case Established:
		return to == Closed
	default:
		return false
	}
}
