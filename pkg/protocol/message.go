package protocol

import (
	"fmt"

	"github.com/vango-dev/tengi/pkg/identifier"
)

// Message is the unit of application traffic: a random id plus a body. The
// body may be a Packet, a registered Marshallable or any value the Protocol
// can write.
type Message struct {
	ID   identifier.Identifier
	Body any
}

// NewMessage wraps body in a Message with a fresh id.
func NewMessage(body any) *Message {
	return &Message{ID: identifier.NewRandom(), Body: body}
}

// Equal reports whether both messages have the same id and structurally
// equal bodies.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.ID == other.ID && ValuesEqual(m.Body, other.Body)
}

// String returns a short description of the message.
func (m *Message) String() string {
	return fmt.Sprintf("Message{id=%s, body=%v}", m.ID, m.Body)
}

func writeMessage(value any, enc *Encoder) error {
	m := value.(*Message)
	if err := enc.WriteObject("messageId", m.ID); err != nil {
		return err
	}
	return enc.WriteNullableObject("body", m.Body)
}

func readMessage(dec *Decoder) (any, error) {
	id, err := ReadAs[identifier.Identifier](dec, "messageId")
	if err != nil {
		return nil, err
	}
	body, err := dec.ReadNullableObject("body")
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, Body: body}, nil
}
