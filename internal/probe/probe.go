// Package probe measures link quality over a peer data channel by
// exchanging msgpack ping/pong frames.
package probe

import "github.com/vmihailenco/msgpack/v5"

const (
	TypePing = "ping"
	TypePong = "pong"
)

// Link is the transport a prober runs over. The rtc package adapts a
// WebRTC data channel to it; tests supply in-memory pairs.
type Link interface {
	Send(data []byte) error
	OnMessage(fn func(data []byte))
	OnOpen(fn func())
}

// Frame is the envelope for all probe traffic.
type Frame struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// PingPayload carries the sender's sequence number and send time. A pong
// echoes the payload untouched so the sender can match and time it.
type PingPayload struct {
	Seq    uint64 `msgpack:"seq"`
	SentAt int64  `msgpack:"sentAt"`
}

// NewFrame creates a Frame with the given type and payload.
func NewFrame(t string, payload any) (Frame, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Type:    t,
		Payload: b,
	}, nil
}

// DecodePayload decodes the frame payload into the provided struct.
func (f Frame) DecodePayload(v any) error {
	return msgpack.Unmarshal(f.Payload, v)
}
