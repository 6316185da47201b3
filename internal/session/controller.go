// Package session runs one call end to end: signaling, negotiation,
// capture, and chat, behind a single event-driven controller.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/media"
	"github.com/parleyhq/parley/internal/peer"
	"github.com/parleyhq/parley/internal/probe"
	"github.com/parleyhq/parley/internal/protocol"
	"github.com/parleyhq/parley/internal/roomcode"
	"github.com/parleyhq/parley/internal/rtc"
)

// Bus is the signaling transport a controller drives. *signaling.Channel
// satisfies it; tests use in-memory pairs.
type Bus interface {
	Join(roomID, userID string) error
	Send(msg *protocol.Message) error
	Incoming() <-chan *protocol.Message
	Leave()
}

// EngineFactory builds a fresh peer engine. A controller consumes one
// engine per peer relationship: when the peer leaves, the old engine is
// closed and a rejoining peer negotiates on a new one.
type EngineFactory func() (peer.Engine, error)

// Optional engine capabilities beyond plain negotiation.
type probeCapable interface{ ProbeLink() probe.Link }
type statsCapable interface{ InboundStats() []rtc.TrackStats }

// Options assembles a controller.
type Options struct {
	Bus       Bus
	Acquirer  media.Acquirer
	NewEngine EngineFactory
	RoomID    string
	UserID    string
}

// Controller owns one call. Inbound relay traffic, negotiator events,
// and user commands all funnel into a single loop, so no handler races
// another; slow work (capture, description exchange) runs in tasks that
// report back into the loop.
type Controller struct {
	bus       Bus
	acquirer  media.Acquirer
	newEngine EngineFactory
	roomID    string
	userID    string

	transcript *chat.Transcript
	events     chan Event
	actions    chan func()
	quit       chan struct{}
	once       sync.Once
	ctx        context.Context
	cancel     context.CancelFunc

	mu             sync.Mutex
	neg            *peer.Negotiator
	engine         peer.Engine
	prober         *probe.Prober
	camera         *media.TrackSet
	screen         *media.TrackSet
	peerID         string
	phase          peer.Phase
	sharing        bool
	acquiringShare bool
}

func New(opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		bus:        opts.Bus,
		acquirer:   opts.Acquirer,
		newEngine:  opts.NewEngine,
		roomID:     opts.RoomID,
		userID:     opts.UserID,
		transcript: chat.NewTranscript(),
		events:     make(chan Event, 32),
		actions:    make(chan func(), 16),
		quit:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start validates the identifiers, acquires the camera, brings up the
// peer machinery, and joins the room. It returns once the room is
// joined; the peer arriving is reported as an event.
func (c *Controller) Start() error {
	if !roomcode.Valid(c.roomID) {
		return WrapError("join room", ErrInvalidInput, "room code must not be empty or contain spaces")
	}
	if c.userID == "" || strings.ContainsAny(c.userID, " \t\r\n") {
		return WrapError("join room", ErrInvalidInput, "name must not be empty or contain spaces")
	}

	camera, err := c.acquirer.AcquireCamera(c.ctx)
	if err != nil {
		return WrapError("acquire camera", ErrMediaAccessDenied, err.Error())
	}

	neg, err := c.bringUpPeer()
	if err != nil {
		_ = camera.Close()
		return err
	}
	if neg == nil {
		_ = camera.Close()
		return errors.New("session already closed")
	}

	c.mu.Lock()
	c.camera = camera
	c.mu.Unlock()

	neg.AddTracks(camera.Tracks()...)

	if err := c.bus.Join(c.roomID, c.userID); err != nil {
		neg.Close()
		_ = camera.Close()
		return WrapError("join room", ErrChannelUnavailable, err.Error())
	}

	go c.run()
	return nil
}

// Events returns the session's event stream. It is never closed;
// EventClosed marks the end.
func (c *Controller) Events() <-chan Event {
	return c.events
}

func (c *Controller) RoomID() string { return c.roomID }
func (c *Controller) UserID() string { return c.userID }

// Transcript returns the chat so far.
func (c *Controller) Transcript() []chat.Line {
	return c.transcript.Lines()
}

// TranscriptStrings renders the chat one "from: text" line per message.
func (c *Controller) TranscriptStrings() []string {
	return c.transcript.Strings()
}

// SendChat sends a message to the peer and echoes it into the local
// transcript. Chat rides the relay, not the peer connection, so it
// works even while negotiation is still failing.
func (c *Controller) SendChat(text string) error {
	if strings.TrimSpace(text) == "" {
		return NewError("send message", ErrInvalidInput)
	}

	msg, err := protocol.NewMessage(protocol.TypeSendMessage, protocol.ChatSend{Text: text})
	if err != nil {
		return NewError("send message", err)
	}
	if err := c.bus.Send(msg); err != nil {
		return WrapError("send message", ErrChannelUnavailable, err.Error())
	}

	line := c.transcript.Append(c.userID, text)
	c.emit(Event{Kind: EventChat, Line: line})
	return nil
}

// StartScreenShare begins capturing the screen and offers the track to
// the peer. Capture runs in the background; the result comes back as an
// EventScreenShare or EventError.
func (c *Controller) StartScreenShare() {
	c.do(func() {
		c.mu.Lock()
		if c.sharing || c.acquiringShare {
			c.mu.Unlock()
			return
		}
		c.acquiringShare = true
		c.mu.Unlock()

		go func() {
			set, err := c.acquirer.AcquireScreen(c.ctx)
			select {
			case c.actions <- func() { c.finishScreenShare(set, err) }:
			case <-c.quit:
				if set != nil {
					_ = set.Close()
				}
			}
		}()
	})
}

// StopScreenShare removes the share track and renegotiates so the peer
// stops expecting it, then releases the capture.
func (c *Controller) StopScreenShare() {
	c.do(func() {
		c.mu.Lock()
		set := c.screen
		c.screen = nil
		c.sharing = false
		neg := c.neg
		c.mu.Unlock()

		if set == nil {
			return
		}
		if neg != nil {
			neg.RemoveTracks(set.Tracks()...)
		}
		_ = set.Close()
		c.emit(Event{Kind: EventScreenShare, Sharing: false})
	})
}

// Disconnect ends the session: in-flight negotiation is abandoned,
// capture stops, and the relay is told we are gone. Safe to call more
// than once.
func (c *Controller) Disconnect() {
	c.once.Do(func() {
		c.cancel()
		close(c.quit)

		c.mu.Lock()
		neg := c.neg
		prober := c.prober
		camera := c.camera
		screen := c.screen
		c.neg = nil
		c.engine = nil
		c.prober = nil
		c.camera = nil
		c.screen = nil
		c.sharing = false
		c.mu.Unlock()

		if neg != nil {
			neg.Close()
		}
		if prober != nil {
			prober.Close()
		}
		if camera != nil {
			_ = camera.Close()
		}
		if screen != nil {
			_ = screen.Close()
		}

		c.bus.Leave()
		c.emit(Event{Kind: EventClosed})
	})
}

// Snapshot is a point-in-time view of the call for status surfaces.
type Snapshot struct {
	Phase   peer.Phase
	Peer    string
	Sharing bool
	Chat    int
	Probe   probe.Stats
	Inbound []rtc.TrackStats
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	engine := c.engine
	prober := c.prober
	s := Snapshot{
		Phase:   c.phase,
		Peer:    c.peerID,
		Sharing: c.sharing,
	}
	c.mu.Unlock()

	s.Chat = c.transcript.Len()
	if prober != nil {
		s.Probe = prober.Stats()
	}
	if sc, ok := engine.(statsCapable); ok {
		s.Inbound = sc.InboundStats()
	}
	return s
}

// bringUpPeer builds a fresh engine, negotiator, and prober. It
// returns nil, nil when a concurrent Disconnect won the race, with the
// fresh pieces already torn down.
func (c *Controller) bringUpPeer() (*peer.Negotiator, error) {
	engine, err := c.newEngine()
	if err != nil {
		return nil, NewError("create peer engine", err)
	}

	neg := peer.NewNegotiator(engine, c.bus.Send)
	neg.Start()

	var prober *probe.Prober
	if p, ok := engine.(probeCapable); ok {
		prober = probe.NewProber(p.ProbeLink())
		prober.Start()
	}

	c.mu.Lock()
	select {
	case <-c.quit:
		c.mu.Unlock()
		neg.Close()
		if prober != nil {
			prober.Close()
		}
		return nil, nil
	default:
	}
	c.neg = neg
	c.engine = engine
	c.prober = prober
	c.phase = peer.PhaseIdle
	c.mu.Unlock()
	return neg, nil
}

func (c *Controller) run() {
	for {
		// Shutdown wins over any backlog.
		select {
		case <-c.quit:
			return
		default:
		}

		c.mu.Lock()
		neg := c.neg
		c.mu.Unlock()

		// A nil channel never fires, which parks the branch while no
		// negotiator exists.
		var negEvents <-chan peer.Event
		if neg != nil {
			negEvents = neg.Events()
		}

		select {
		case <-c.quit:
			return
		case msg, ok := <-c.bus.Incoming():
			if !ok {
				c.emit(Event{Kind: EventError, Err: NewError("signaling", ErrChannelUnavailable)})
				c.Disconnect()
				return
			}
			c.handleMessage(msg)
		case ev := <-negEvents:
			c.handleNegotiatorEvent(ev)
		case fn := <-c.actions:
			fn()
		}
	}
}

func (c *Controller) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeUserConnected:
		var p protocol.PeerJoined
		if err := msg.DecodePayload(&p); err != nil {
			slog.Warn("bad user-connected payload", "err", err)
			return
		}
		c.mu.Lock()
		c.peerID = p.UserID
		neg := c.neg
		c.mu.Unlock()
		if neg != nil {
			neg.HandlePeerJoined()
		}
		c.emit(Event{Kind: EventPeerJoined, Peer: p.UserID})

	case protocol.TypeOffer:
		var sd protocol.SessionDescription
		if err := msg.DecodePayload(&sd); err != nil {
			slog.Warn("bad offer payload", "err", err)
			return
		}
		if neg := c.negotiator(); neg != nil {
			neg.HandleOffer(sd.SDP)
		}

	case protocol.TypeAnswer:
		var sd protocol.SessionDescription
		if err := msg.DecodePayload(&sd); err != nil {
			slog.Warn("bad answer payload", "err", err)
			return
		}
		if neg := c.negotiator(); neg != nil {
			neg.HandleAnswer(sd.SDP)
		}

	case protocol.TypeICECandidate:
		var ic protocol.ICECandidate
		if err := msg.DecodePayload(&ic); err != nil {
			slog.Warn("bad candidate payload", "err", err)
			return
		}
		if neg := c.negotiator(); neg != nil {
			neg.HandleCandidate(ic.Candidate)
		}

	case protocol.TypeReceiveMessage:
		var m protocol.ChatMessage
		if err := msg.DecodePayload(&m); err != nil {
			slog.Warn("bad chat payload", "err", err)
			return
		}
		line := c.transcript.Append(m.From, m.Text)
		c.emit(Event{Kind: EventChat, Line: line})

	case protocol.TypePeerLeft:
		var p protocol.PeerJoined
		if err := msg.DecodePayload(&p); err != nil {
			slog.Warn("bad peer-left payload", "err", err)
		}
		c.handlePeerLeft(p.UserID)

	case protocol.TypeError:
		var e protocol.ErrorPayload
		if err := msg.DecodePayload(&e); err != nil {
			slog.Warn("bad error payload", "err", err)
			return
		}
		c.emit(Event{Kind: EventError, Err: NewRoomError("relay", c.roomID, errors.New(e.Error))})

	default:
		slog.Debug("unhandled message", "type", msg.Type)
	}
}

func (c *Controller) handleNegotiatorEvent(ev peer.Event) {
	switch ev.Kind {
	case peer.EventPhaseChange:
		c.mu.Lock()
		c.phase = ev.Phase
		c.mu.Unlock()
		c.emit(Event{Kind: EventPhase, Phase: ev.Phase})

	case peer.EventRemoteTrack:
		c.emit(Event{Kind: EventRemoteTrack, Track: ev.Track})

	case peer.EventRoundFailed:
		c.emit(Event{Kind: EventError, Err: WrapError("negotiate", ErrNegotiationFailed, ev.Err.Error())})
	}
}

// handlePeerLeft tears down the peer relationship and prepares a fresh
// one, re-attaching whatever local media is live.
func (c *Controller) handlePeerLeft(peerID string) {
	c.mu.Lock()
	neg := c.neg
	prober := c.prober
	c.neg = nil
	c.engine = nil
	c.prober = nil
	c.peerID = ""
	c.phase = peer.PhaseIdle
	camera := c.camera
	screen := c.screen
	c.mu.Unlock()

	if neg != nil {
		neg.Close()
	}
	if prober != nil {
		prober.Close()
	}

	fresh, err := c.bringUpPeer()
	if err != nil {
		c.emit(Event{Kind: EventError, Err: err})
		c.emit(Event{Kind: EventPeerLeft, Peer: peerID})
		return
	}
	if fresh == nil {
		return
	}

	fresh.AddTracks(camera.Tracks()...)
	if screen != nil {
		fresh.AddTracks(screen.Tracks()...)
	}

	c.emit(Event{Kind: EventPeerLeft, Peer: peerID})
}

func (c *Controller) finishScreenShare(set *media.TrackSet, err error) {
	c.mu.Lock()
	c.acquiringShare = false
	c.mu.Unlock()

	if err != nil {
		c.emit(Event{Kind: EventError, Err: WrapError("share screen", ErrMediaAccessDenied, err.Error())})
		return
	}

	c.mu.Lock()
	select {
	case <-c.quit:
		c.mu.Unlock()
		_ = set.Close()
		return
	default:
	}
	c.screen = set
	c.sharing = true
	neg := c.neg
	c.mu.Unlock()

	if neg != nil {
		neg.AddTracks(set.Tracks()...)
	}
	c.emit(Event{Kind: EventScreenShare, Sharing: true})
}

func (c *Controller) negotiator() *peer.Negotiator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.neg
}

// do runs fn on the controller loop.
func (c *Controller) do(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.quit:
	}
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.quit:
		// Best effort once shutdown has begun.
		select {
		case c.events <- e:
		default:
		}
	}
}
