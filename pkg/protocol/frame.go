package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/identifier"
)

// Magic identifies a tengi frame.
var Magic = []byte{'T', 'e', 'N', 'g', 'I'}

// DefaultMaxFrameSize bounds length-prefixed stream frames (1 MiB).
const DefaultMaxFrameSize = 1 << 20

// Stream framing errors.
var (
	ErrFrameTooLarge = errors.New("protocol: frame exceeds max size")
)

// Frame is the transport-agnostic envelope around every payload.
//
// Wire format:
//
//	┌──────────────┬──────────┬─────────────────────────┬───────────────────┐
//	│ Magic        │ LoggedIn │ ConnectionID            │ Payload           │
//	│ "TeNgI" (5)  │ (1 byte) │ (16 bytes, if LoggedIn) │ type id + object  │
//	└──────────────┴──────────┴─────────────────────────┴───────────────────┘
type Frame struct {
	LoggedIn     bool
	ConnectionID identifier.Identifier
	Payload      any
}

// WriteFrame encodes f into buf.
func (p *Protocol) WriteFrame(buf *buffer.MemoryBuffer, f *Frame) error {
	return p.WithEncoder(buf, func(enc *Encoder) error {
		enc.WriteRaw("magic", Magic)
		enc.WriteBool("loggedIn", f.LoggedIn)
		if f.LoggedIn {
			enc.WriteRaw("connectionId", f.ConnectionID[:])
		}
		return enc.WriteObject("payload", f.Payload)
	})
}

// ReadFrameHeader validates the magic header and reads the login state. The
// payload is left in buf.
func ReadFrameHeader(buf *buffer.MemoryBuffer) (loggedIn bool, id identifier.Identifier, err error) {
	magic, err := buf.ReadBytes(len(Magic))
	if err != nil {
		return false, id, err
	}
	if !bytes.Equal(magic, Magic) {
		return false, id, fmt.Errorf("%w: %q", ErrBadMagic, magic)
	}
	if loggedIn, err = buf.ReadBool(); err != nil {
		return false, id, err
	}
	if !loggedIn {
		return false, id, nil
	}
	raw, err := buf.ReadBytes(identifier.Size)
	if err != nil {
		return false, id, err
	}
	id, err = identifier.FromBytes(raw)
	return true, id, err
}

// ReadFrame decodes a whole envelope from buf.
func (p *Protocol) ReadFrame(buf *buffer.MemoryBuffer) (*Frame, error) {
	loggedIn, id, err := ReadFrameHeader(buf)
	if err != nil {
		return nil, err
	}
	payload, err := p.Decode(buf)
	if err != nil {
		return nil, err
	}
	return &Frame{LoggedIn: loggedIn, ConnectionID: id, Payload: payload}, nil
}

// ReadStreamFrame reads one uint32 length-prefixed frame from a byte stream
// such as a TCP connection.
func ReadStreamFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := uint32(header[0])<<24 | uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3])
	if uint64(length) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// WriteStreamFrame writes data with a uint32 length prefix in a single
// Write call.
func WriteStreamFrame(w io.Writer, data []byte, maxSize int) error {
	if len(data) > maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), maxSize)
	}
	out := make([]byte, 4+len(data))
	n := len(data)
	out[0], out[1], out[2], out[3] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
	copy(out[4:], data)
	_, err := w.Write(out)
	return err
}
