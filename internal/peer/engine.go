package peer

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// RemoteTrack describes an inbound media track announced by the engine.
type RemoteTrack struct {
	Kind     string // "audio" or "video"
	ID       string
	StreamID string
}

// Engine is the slice of a WebRTC implementation the negotiator drives.
// Implementations must tolerate calls from multiple goroutines; the
// negotiator serializes state transitions but runs description work on
// spawned tasks.
//
// CreateOffer and CreateAnswer apply the description locally before
// returning its SDP, so a successful return means the local side is
// committed to that round.
type Engine interface {
	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)

	// SetRemoteDescription applies the peer's description. sdpType is
	// "offer" or "answer".
	SetRemoteDescription(ctx context.Context, sdpType, sdp string) error

	// AddICECandidate applies one trickled candidate. The payload is the
	// JSON form produced by the remote side's OnICECandidate.
	AddICECandidate(candidate json.RawMessage) error

	AddTrack(track webrtc.TrackLocal) error
	RemoveTrack(track webrtc.TrackLocal) error

	// OnICECandidate registers the handler for locally discovered
	// candidates. The engine stops calling it after Close.
	OnICECandidate(fn func(candidate json.RawMessage))

	// OnRemoteTrack registers the handler for newly received remote
	// tracks.
	OnRemoteTrack(fn func(track RemoteTrack))

	Close() error
}
