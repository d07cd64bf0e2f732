package protocol

import (
	"bytes"
	"testing"

	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/identifier"
)

func fuzzSeeds(f *testing.F, p *Protocol) {
	for _, v := range []any{
		"seed",
		int32(7),
		[]any{"a", nil, int64(1)},
		map[string]any{"k": 1.5},
		NewPacket("seed").SetValue("x", int32(1)),
		NewMessage(NewPacket("msg")),
		&PollingResponse{LatestUpdateID: 4, Messages: []*Message{NewMessage("x")}},
	} {
		buf := buffer.New(0)
		if err := p.WriteFrame(buf, &Frame{LoggedIn: true, ConnectionID: identifier.NewRandom(), Payload: v}); err != nil {
			f.Fatal(err)
		}
		f.Add(buf.Bytes())
	}
	f.Add([]byte{})
	f.Add([]byte("TeNgI\x00\xff\xec\xfe\xff\xff\xff\x0f"))
}

// FuzzReadFrame checks that arbitrary input never panics and that decoded
// frames re-encode.
func FuzzReadFrame(f *testing.F) {
	p := testProtocol(f)
	fuzzSeeds(f, p)

	f.Fuzz(func(t *testing.T, data []byte) {
		frame, err := p.ReadFrame(buffer.Wrap(data))
		if err != nil {
			return
		}
		out := buffer.New(len(data))
		if err := p.WriteFrame(out, frame); err != nil {
			t.Fatalf("re-encode of decoded frame failed: %v", err)
		}
	})
}

// FuzzDecode runs the object decoder directly on arbitrary bytes.
func FuzzDecode(f *testing.F) {
	p := testProtocol(f)
	f.Add([]byte{0xFF, 0xF8, 0x00, 0x01, 'a'})
	f.Add([]byte{0xFF, 0x99, 0xFC, 0x18, 0x00, 0x00})
	f.Add([]byte{0xFF, 0xEB, 0x02, 0x00, 0x01, 'k', 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = p.Decode(buffer.Wrap(data))
	})
}

// FuzzReadStreamFrame checks that the length prefix is always honored.
func FuzzReadStreamFrame(f *testing.F) {
	f.Add([]byte{0, 0, 0, 1, 'x'})
	f.Add([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	f.Add([]byte{0, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		payload, err := ReadStreamFrame(bytes.NewReader(data), 1024)
		if err != nil {
			return
		}
		if len(payload) > 1024 || len(payload)+4 > len(data) {
			t.Fatalf("payload of %d bytes from %d input bytes", len(payload), len(data))
		}
	})
}
