package peer

// Phase is the negotiation lifecycle position for one peer relationship.
type Phase int32

const (
	// PhaseIdle: no round in flight and no established session.
	PhaseIdle Phase = iota

	// PhaseOffering: first local offer sent, awaiting the answer.
	PhaseOffering

	// PhaseAnswering: answering the peer's first offer.
	PhaseAnswering

	// PhaseConnected: descriptions exchanged, media flowing.
	PhaseConnected

	// PhaseRenegotiating: a further offer/answer round on an established
	// session, in either direction.
	PhaseRenegotiating

	// PhaseClosed: terminal. A new Negotiator is required afterwards.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOffering:
		return "offering"
	case PhaseAnswering:
		return "answering"
	case PhaseConnected:
		return "connected"
	case PhaseRenegotiating:
		return "renegotiating"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role records which side of the first round this peer took. It stays
// undetermined until the first trigger.
type Role int

const (
	RoleNone Role = iota

	// RoleCaller observed the peer arriving and sent the first offer.
	RoleCaller

	// RoleCallee received the first offer.
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "undetermined"
	}
}
