// Package protocol defines the signaling wire format shared by the
// parley client and the parleyd relay.
package protocol

import "encoding/json"

// Message types exchanged over the signaling websocket.
const (
	// Client to relay.
	TypeJoinRoom    = "join-room"
	TypeSendMessage = "send-message"
	TypeDisconnect  = "disconnect"

	// Relay to client.
	TypeUserConnected  = "user-connected"
	TypeReceiveMessage = "receive-message"
	TypePeerLeft       = "peer-left"
	TypeError          = "error"

	// Relayed between peers unchanged.
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
)

// Message is the envelope for all signaling traffic. The payload shape
// depends on Type; unknown types are ignored by both ends rather than
// guessed at.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope around a JSON-serializable payload.
func NewMessage(msgType string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: data}, nil
}

// DecodePayload unmarshals the payload into the provided value.
func (m *Message) DecodePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Join is the join-room payload.
type Join struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// PeerJoined is the user-connected payload, delivered to the member that
// was already present when a second participant joins. It is also the
// peer-left payload when that participant departs.
type PeerJoined struct {
	UserID string `json:"userId"`
}

// SessionDescription carries an SDP blob for offer and answer messages.
type SessionDescription struct {
	SDP string `json:"sdp"`
}

// ICECandidate wraps a single trickled candidate. The inner value is kept
// raw so the relay never has to understand candidate internals.
type ICECandidate struct {
	Candidate json.RawMessage `json:"candidate"`
}

// ChatSend is the send-message payload. The sender identity is stamped by
// the relay, not trusted from the client.
type ChatSend struct {
	Text string `json:"text"`
}

// ChatMessage is the receive-message payload delivered to the other
// room member.
type ChatMessage struct {
	Text string `json:"text"`
	From string `json:"from"`
}

// ErrorPayload reports a relay-side refusal, such as a full room.
type ErrorPayload struct {
	Error string `json:"error"`
}
