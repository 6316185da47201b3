package session

import (
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/peer"
)

// EventKind discriminates session events delivered to the UI.
type EventKind int

const (
	// EventPhase reports a negotiation phase change.
	EventPhase EventKind = iota

	// EventPeerJoined reports the other participant arriving.
	EventPeerJoined

	// EventPeerLeft reports the other participant leaving. The session
	// stays open; a rejoining peer negotiates on a fresh connection.
	EventPeerLeft

	// EventChat reports a new transcript line, local or remote.
	EventChat

	// EventRemoteTrack reports media arriving from the peer.
	EventRemoteTrack

	// EventScreenShare reports the local share being turned on or off.
	EventScreenShare

	// EventError reports a failure the call survives.
	EventError

	// EventClosed reports the end of the session. Nothing follows it.
	EventClosed
)

type Event struct {
	Kind    EventKind
	Phase   peer.Phase
	Peer    string
	Line    chat.Line
	Track   peer.RemoteTrack
	Sharing bool
	Err     error
}
