package protocol

import (
	"sync"

	"github.com/vango-dev/tengi/pkg/buffer"
)

// PollingRequest asks for every message queued after LastUpdateID. The
// server answers immediately, with an empty response if nothing is queued.
type PollingRequest struct {
	LastUpdateID int64
}

// Marshall implements Marshallable.
func (r *PollingRequest) Marshall(enc *Encoder) error {
	enc.WriteCompressedInt64("lastUpdateId", r.LastUpdateID)
	return enc.Err()
}

// Unmarshall implements Marshallable.
func (r *PollingRequest) Unmarshall(dec *Decoder) error {
	v, err := dec.ReadCompressedInt64()
	r.LastUpdateID = v
	return err
}

// LongPollingRequest is a PollingRequest the server holds open until a
// message is queued or the long-poll timeout expires.
type LongPollingRequest struct {
	PollingRequest
}

// PollingResponse carries queued messages back to a polling client.
//
// On the server the response holds pre-serialized message buffers taken
// from the connection's queue; each buffer carries a reference that is
// dropped once written (or by Release). On the client Messages holds the
// decoded messages.
type PollingResponse struct {
	// LatestUpdateID is the highest update id included. Clients send it
	// back as the next LastUpdateID.
	LatestUpdateID int64
	Messages       []*Message

	frames      []*buffer.MemoryBuffer
	releaseOnce sync.Once
}

// NewPollingResponse wraps locked, pre-serialized message buffers.
func NewPollingResponse(latest int64, frames []*buffer.MemoryBuffer) *PollingResponse {
	return &PollingResponse{LatestUpdateID: latest, frames: frames}
}

// Len returns the number of messages carried.
func (r *PollingResponse) Len() int {
	if r.frames != nil {
		return len(r.frames)
	}
	return len(r.Messages)
}

// Release drops the references held on pre-serialized buffers. It is safe
// to call more than once.
func (r *PollingResponse) Release() {
	r.releaseOnce.Do(func() {
		for _, f := range r.frames {
			f.Release()
		}
	})
}

// Marshall implements Marshallable. Pre-serialized buffers are released
// after writing.
func (r *PollingResponse) Marshall(enc *Encoder) error {
	enc.WriteCompressedInt64("latestUpdateId", r.LatestUpdateID)
	enc.WriteCompressedInt32("count", int32(r.Len()))
	if r.frames != nil {
		defer r.Release()
		for _, f := range r.frames {
			enc.WriteBuffer("message", f.Duplicate())
		}
		return enc.Err()
	}
	for _, m := range r.Messages {
		if err := enc.WriteObject("message", m); err != nil {
			return err
		}
	}
	return enc.Err()
}

// Unmarshall implements Marshallable.
func (r *PollingResponse) Unmarshall(dec *Decoder) error {
	latest, err := dec.ReadCompressedInt64()
	if err != nil {
		return err
	}
	count, err := dec.readCount()
	if err != nil {
		return err
	}
	r.LatestUpdateID = latest
	r.Messages = make([]*Message, 0, count)
	for i := 0; i < count; i++ {
		m, err := ReadAs[*Message](dec, "message")
		if err != nil {
			return err
		}
		r.Messages = append(r.Messages, m)
	}
	return nil
}

// LongPollingResponse answers a LongPollingRequest.
type LongPollingResponse struct {
	PollingResponse
}

// NewLongPollingResponse wraps locked, pre-serialized message buffers.
func NewLongPollingResponse(latest int64, frames []*buffer.MemoryBuffer) *LongPollingResponse {
	return &LongPollingResponse{PollingResponse: PollingResponse{LatestUpdateID: latest, frames: frames}}
}
