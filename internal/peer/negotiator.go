package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/parleyhq/parley/internal/protocol"
)

// SendFunc delivers a signaling message to the peer. Fire-and-forget;
// a failed send fails the round that needed it.
type SendFunc func(*protocol.Message) error

// EventKind discriminates Negotiator events.
type EventKind int

const (
	// EventPhaseChange reports a phase transition; Event.Phase holds the
	// new phase.
	EventPhaseChange EventKind = iota

	// EventRemoteTrack reports a newly received remote track.
	EventRemoteTrack

	// EventRoundFailed reports an abandoned negotiation round. The state
	// has already reverted; a future offer is the only recovery path.
	EventRoundFailed
)

// Event is what the Negotiator surfaces to its owner.
type Event struct {
	Kind  EventKind
	Phase Phase
	Track RemoteTrack
	Err   error
}

// Negotiator drives the offer/answer exchange for a single peer
// relationship. All state lives on one goroutine fed by an inbox; the
// exported methods only enqueue. Engine calls that take observable time
// (creating and applying descriptions) run as spawned tasks tagged with
// a round number whose completions re-enter the inbox, so candidates and
// chat for unrelated rounds are never blocked behind them. Completions
// from an abandoned round are discarded by the tag check.
type Negotiator struct {
	engine Engine
	send   SendFunc

	inbox  chan event
	events chan Event
	quit   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	// phase mirrors the loop-owned phase for concurrent readers.
	phase atomic.Int32

	// Everything below is owned by the run loop.
	cur       Phase
	role      Role
	round     int
	buffer    candidateBuffer
	peerHere  bool
	mediaSet  bool
	awaiting  bool // a local offer is outstanding
	settled   bool // a session was established at least once
	hasRemote bool // current round's remote description is applied
	reOffer   bool // a track change asked for a round while one was in flight
}

type eventKind int

const (
	evPeerJoined eventKind = iota
	evOffer
	evAnswer
	evCandidate
	evAddTracks
	evRemoveTracks
	evOfferReady
	evAnswerReady
	evAnswerApplied
)

type event struct {
	kind      eventKind
	sdp       string
	candidate json.RawMessage
	tracks    []webrtc.TrackLocal
	round     int
	err       error
}

// NewNegotiator wires a negotiator to an engine and a signaling send
// function. Call Start to begin processing and Close to tear down.
func NewNegotiator(engine Engine, send SendFunc) *Negotiator {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Negotiator{
		engine: engine,
		send:   send,
		inbox:  make(chan event, 64),
		events: make(chan Event, 32),
		quit:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	// Engine callbacks never touch machine state directly: local
	// candidates go straight out over signaling, remote tracks are
	// surfaced as events.
	engine.OnICECandidate(func(candidate json.RawMessage) {
		msg, err := protocol.NewMessage(protocol.TypeICECandidate, protocol.ICECandidate{Candidate: candidate})
		if err != nil {
			return
		}
		if err := n.send(msg); err != nil {
			slog.Debug("dropping local candidate", "err", err)
		}
	})
	engine.OnRemoteTrack(func(track RemoteTrack) {
		n.emit(Event{Kind: EventRemoteTrack, Track: track})
	})

	return n
}

// Start launches the run loop.
func (n *Negotiator) Start() {
	go n.run()
}

// Events returns the negotiator's event stream. It is never closed;
// consumers should stop reading once they observe or initiate Close.
func (n *Negotiator) Events() <-chan Event {
	return n.events
}

// Phase reports the current phase. Safe from any goroutine.
func (n *Negotiator) Phase() Phase {
	select {
	case <-n.quit:
		return PhaseClosed
	default:
	}
	return Phase(n.phase.Load())
}

// HandlePeerJoined records that the other participant arrived. If local
// media is ready this side starts the first offer round; this is the only
// way a round ever starts from Idle, which rules out glare for two-party
// rooms by construction.
func (n *Negotiator) HandlePeerJoined() {
	n.enqueue(event{kind: evPeerJoined})
}

// HandleOffer feeds a received offer into the machine.
func (n *Negotiator) HandleOffer(sdp string) {
	n.enqueue(event{kind: evOffer, sdp: sdp})
}

// HandleAnswer feeds a received answer into the machine.
func (n *Negotiator) HandleAnswer(sdp string) {
	n.enqueue(event{kind: evAnswer, sdp: sdp})
}

// HandleCandidate feeds a received ICE candidate into the machine. It is
// applied immediately when the current round has a remote description and
// buffered otherwise.
func (n *Negotiator) HandleCandidate(candidate json.RawMessage) {
	n.enqueue(event{kind: evCandidate, candidate: candidate})
}

// AddTracks attaches local tracks and marks local media ready. Calling it
// with no tracks still marks readiness, which is how audio-less test and
// --no-media sessions negotiate. When a session is already established
// this triggers a renegotiation round carrying the full track set.
func (n *Negotiator) AddTracks(tracks ...webrtc.TrackLocal) {
	n.enqueue(event{kind: evAddTracks, tracks: tracks})
}

// RemoveTracks detaches local tracks and renegotiates so the remote side
// stops expecting them. The caller keeps ownership and stops the tracks'
// capture resources itself.
func (n *Negotiator) RemoveTracks(tracks ...webrtc.TrackLocal) {
	n.enqueue(event{kind: evRemoveTracks, tracks: tracks})
}

// Close aborts any in-flight round, discards buffered candidates,
// releases the engine, and makes the negotiator inert. Safe to call more
// than once; events stop after the first call.
func (n *Negotiator) Close() {
	n.once.Do(func() {
		n.cancel()
		close(n.quit)
		n.phase.Store(int32(PhaseClosed))
		if err := n.engine.Close(); err != nil {
			slog.Debug("engine close", "err", err)
		}
	})
}

func (n *Negotiator) enqueue(ev event) {
	select {
	case n.inbox <- ev:
	case <-n.quit:
	}
}

// complete re-enters a task result into the loop. A result arriving
// after Close is dropped, never processed.
func (n *Negotiator) complete(ev event) {
	select {
	case <-n.quit:
		return
	default:
	}
	select {
	case n.inbox <- ev:
	case <-n.quit:
	}
}

func (n *Negotiator) emit(e Event) {
	select {
	case n.events <- e:
	case <-n.quit:
	}
}

func (n *Negotiator) run() {
	for {
		// Quit wins over queued work so Close aborts promptly.
		select {
		case <-n.quit:
			return
		default:
		}
		select {
		case <-n.quit:
			return
		case ev := <-n.inbox:
			n.handle(ev)
		}
	}
}

func (n *Negotiator) handle(ev event) {
	switch ev.kind {
	case evPeerJoined:
		n.peerHere = true
		if n.role == RoleNone {
			n.role = RoleCaller
		}
		n.maybeOffer()

	case evAddTracks:
		n.addTracks(ev.tracks)

	case evRemoveTracks:
		n.removeTracks(ev.tracks)

	case evOffer:
		n.onOffer(ev.sdp)

	case evAnswer:
		n.onAnswer(ev.sdp)

	case evCandidate:
		n.onCandidate(ev.candidate)

	case evOfferReady:
		n.onOfferReady(ev)

	case evAnswerReady:
		n.onAnswerReady(ev)

	case evAnswerApplied:
		n.onAnswerApplied(ev)
	}
}

// maybeOffer starts the first round once both preconditions hold: the
// peer has been observed and local media is ready.
func (n *Negotiator) maybeOffer() {
	if n.cur != PhaseIdle || !n.peerHere || !n.mediaSet {
		return
	}
	n.startOfferRound(PhaseOffering)
}

func (n *Negotiator) addTracks(tracks []webrtc.TrackLocal) {
	for _, t := range tracks {
		if err := n.engine.AddTrack(t); err != nil {
			n.failRound(fmt.Errorf("add track: %w", err))
			return
		}
	}
	n.mediaSet = true

	switch n.cur {
	case PhaseConnected:
		n.startOfferRound(PhaseRenegotiating)
	case PhaseOffering, PhaseAnswering, PhaseRenegotiating:
		// A round is in flight; renegotiate when it settles.
		n.reOffer = true
	default:
		n.maybeOffer()
	}
}

func (n *Negotiator) removeTracks(tracks []webrtc.TrackLocal) {
	for _, t := range tracks {
		if err := n.engine.RemoveTrack(t); err != nil {
			n.failRound(fmt.Errorf("remove track: %w", err))
			return
		}
	}

	switch n.cur {
	case PhaseConnected:
		n.startOfferRound(PhaseRenegotiating)
	case PhaseOffering, PhaseAnswering, PhaseRenegotiating:
		n.reOffer = true
	}
}

// startOfferRound opens a new round as the offerer. Inbound candidates
// belong to the new round from this point and are buffered until its
// answer is applied.
func (n *Negotiator) startOfferRound(next Phase) {
	n.round++
	n.awaiting = true
	n.hasRemote = false
	n.setPhase(next)

	round := n.round
	go func() {
		sdp, err := n.engine.CreateOffer(n.ctx)
		n.complete(event{kind: evOfferReady, round: round, sdp: sdp, err: err})
	}()
}

func (n *Negotiator) onOfferReady(ev event) {
	if n.stale(ev.round) {
		return
	}
	if ev.err != nil {
		n.failRound(fmt.Errorf("create offer: %w", ev.err))
		return
	}

	msg, err := protocol.NewMessage(protocol.TypeOffer, protocol.SessionDescription{SDP: ev.sdp})
	if err == nil {
		err = n.send(msg)
	}
	if err != nil {
		n.failRound(fmt.Errorf("send offer: %w", err))
		return
	}
	// Stay in Offering/Renegotiating until the answer arrives.
}

func (n *Negotiator) onOffer(sdp string) {
	// An offer proves the peer is there. The joining side never gets a
	// join notification of its own, so this is how it learns.
	n.peerHere = true

	switch n.cur {
	case PhaseIdle:
		if n.role == RoleNone {
			n.role = RoleCallee
		}
		n.startAnswerRound(sdp, PhaseAnswering)
	case PhaseConnected:
		n.startAnswerRound(sdp, PhaseRenegotiating)
	default:
		// By the join protocol only one side offers, so an offer during
		// an open round is a duplicate or a protocol violation. Ignore.
		slog.Debug("ignoring offer", "phase", n.cur)
	}
}

// startAnswerRound applies the peer's offer and produces the answer as
// one task: both halves suspend, and nothing else may touch the engine's
// description state in between.
func (n *Negotiator) startAnswerRound(sdp string, next Phase) {
	n.round++
	n.setPhase(next)

	round := n.round
	go func() {
		err := n.engine.SetRemoteDescription(n.ctx, "offer", sdp)
		var answer string
		if err == nil {
			answer, err = n.engine.CreateAnswer(n.ctx)
		}
		n.complete(event{kind: evAnswerReady, round: round, sdp: answer, err: err})
	}()
}

func (n *Negotiator) onAnswerReady(ev event) {
	if n.stale(ev.round) {
		return
	}
	if ev.err != nil {
		n.failRound(fmt.Errorf("answer offer: %w", ev.err))
		return
	}

	// The remote description is in; release everything buffered for it.
	n.hasRemote = true
	n.flushCandidates()

	msg, err := protocol.NewMessage(protocol.TypeAnswer, protocol.SessionDescription{SDP: ev.sdp})
	if err == nil {
		err = n.send(msg)
	}
	if err != nil {
		n.failRound(fmt.Errorf("send answer: %w", err))
		return
	}

	n.settle()
}

func (n *Negotiator) onAnswer(sdp string) {
	if !n.awaiting || (n.cur != PhaseOffering && n.cur != PhaseRenegotiating) {
		slog.Debug("ignoring answer", "phase", n.cur)
		return
	}

	round := n.round
	go func() {
		err := n.engine.SetRemoteDescription(n.ctx, "answer", sdp)
		n.complete(event{kind: evAnswerApplied, round: round, err: err})
	}()
}

func (n *Negotiator) onAnswerApplied(ev event) {
	if n.stale(ev.round) {
		return
	}
	if ev.err != nil {
		n.failRound(fmt.Errorf("apply answer: %w", ev.err))
		return
	}

	n.awaiting = false
	n.hasRemote = true
	n.flushCandidates()
	n.settle()
}

func (n *Negotiator) onCandidate(candidate json.RawMessage) {
	if !n.hasRemote {
		n.buffer.add(candidate)
		return
	}
	// Duplicates and late candidates must never regress the session, so
	// application failures are logged, not fatal.
	if err := n.engine.AddICECandidate(candidate); err != nil {
		slog.Debug("candidate rejected", "err", err)
	}
}

func (n *Negotiator) flushCandidates() {
	for _, c := range n.buffer.drain() {
		if err := n.engine.AddICECandidate(c); err != nil {
			slog.Debug("buffered candidate rejected", "err", err)
		}
	}
}

// settle marks the round complete and, if a track change queued up while
// it was in flight, starts the follow-up round.
func (n *Negotiator) settle() {
	n.settled = true
	n.setPhase(PhaseConnected)

	if n.reOffer {
		n.reOffer = false
		n.startOfferRound(PhaseRenegotiating)
	}
}

// failRound abandons the current round: buffered candidates are dropped,
// the error is surfaced, and the phase reverts to Connected when a prior
// session exists and Idle otherwise. No automatic retry; a future offer
// is the sole recovery path. Bumping the round makes any completion
// still in flight for the failed round stale.
func (n *Negotiator) failRound(err error) {
	n.round++
	n.awaiting = false
	n.reOffer = false
	n.buffer.clear()

	if n.settled {
		// The previous round's description remains in effect.
		n.hasRemote = true
		n.setPhase(PhaseConnected)
	} else {
		n.hasRemote = false
		n.setPhase(PhaseIdle)
	}

	n.emit(Event{Kind: EventRoundFailed, Err: err})
}

// stale reports whether a task completion belongs to an abandoned round.
func (n *Negotiator) stale(round int) bool {
	return round != n.round
}

func (n *Negotiator) setPhase(p Phase) {
	if n.cur == p {
		return
	}
	n.cur = p
	n.phase.Store(int32(p))
	n.emit(Event{Kind: EventPhaseChange, Phase: p})
}
