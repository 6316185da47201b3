package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/parleyhq/parley/internal/protocol"
)

// fakeEngine records every call in order and lets tests inject failures
// and hold description tasks open.
type fakeEngine struct {
	mu      sync.Mutex
	ops     []string
	offers  int
	answers int

	failCreateOffer bool
	failSetRemote   bool
	failAddTrack    bool
	failCandidate   bool

	gateOffer chan struct{}

	onCandidate func(json.RawMessage)
	onTrack     func(RemoteTrack)
}

func (f *fakeEngine) CreateOffer(ctx context.Context) (string, error) {
	f.mu.Lock()
	gate := f.gateOffer
	fail := f.failCreateOffer
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", errors.New("offer rejected")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	f.ops = append(f.ops, "create-offer")
	return fmt.Sprintf("offer-%d", f.offers), nil
}

func (f *fakeEngine) CreateAnswer(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	f.ops = append(f.ops, "create-answer")
	return fmt.Sprintf("answer-%d", f.answers), nil
}

func (f *fakeEngine) SetRemoteDescription(ctx context.Context, sdpType, sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSetRemote {
		return errors.New("description rejected")
	}
	f.ops = append(f.ops, "set-remote:"+sdpType)
	return nil
}

func (f *fakeEngine) AddICECandidate(candidate json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCandidate {
		f.ops = append(f.ops, "candidate-rejected:"+string(candidate))
		return errors.New("duplicate candidate")
	}
	f.ops = append(f.ops, "candidate:"+string(candidate))
	return nil
}

func (f *fakeEngine) AddTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAddTrack {
		return errors.New("sender refused")
	}
	f.ops = append(f.ops, "add-track:"+track.ID())
	return nil
}

func (f *fakeEngine) RemoveTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "remove-track:"+track.ID())
	return nil
}

func (f *fakeEngine) OnICECandidate(fn func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeEngine) OnRemoteTrack(fn func(RemoteTrack)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "close")
	return nil
}

func (f *fakeEngine) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeEngine) setFailCreateOffer(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCreateOffer = v
}

func (f *fakeEngine) setFailSetRemote(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSetRemote = v
}

func (f *fakeEngine) setFailAddTrack(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAddTrack = v
}

func (f *fakeEngine) setFailCandidate(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCandidate = v
}

// trickle simulates the engine discovering a local ICE candidate.
func (f *fakeEngine) trickle(raw string) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(json.RawMessage(raw))
	}
}

// emitTrack simulates a remote track arriving on the connection.
func (f *fakeEngine) emitTrack(track RemoteTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

// sentLog captures outbound signaling messages.
type sentLog struct {
	mu   sync.Mutex
	fail bool
	msgs []*protocol.Message
}

func (s *sentLog) send(m *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("channel down")
	}
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *sentLog) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *sentLog) count(msgType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func (s *sentLog) last(msgType string) *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].Type == msgType {
			return s.msgs[i]
		}
	}
	return nil
}

// eventLog accumulates negotiator events on a background reader so emits
// never back up.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func collectEvents(t *testing.T, n *Negotiator) *eventLog {
	t.Helper()
	l := &eventLog{}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case e := <-n.Events():
				l.mu.Lock()
				l.events = append(l.events, e)
				l.mu.Unlock()
			case <-done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(done) })
	return l
}

func (l *eventLog) phases() []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Phase
	for _, e := range l.events {
		if e.Kind == EventPhaseChange {
			out = append(out, e.Phase)
		}
	}
	return out
}

func (l *eventLog) failures() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []error
	for _, e := range l.events {
		if e.Kind == EventRoundFailed {
			out = append(out, e.Err)
		}
	}
	return out
}

func (l *eventLog) tracks() []RemoteTrack {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []RemoteTrack
	for _, e := range l.events {
		if e.Kind == EventRemoteTrack {
			out = append(out, e.Track)
		}
	}
	return out
}

func newTestNegotiator(t *testing.T, e Engine) (*Negotiator, *sentLog, *eventLog) {
	t.Helper()
	s := &sentLog{}
	n := NewNegotiator(e, s.send)
	l := collectEvents(t, n)
	n.Start()
	t.Cleanup(n.Close)
	return n, s, l
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitPhases(t *testing.T, l *eventLog, want ...Phase) {
	t.Helper()
	equal := func() bool {
		got := l.phases()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if equal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("phase history = %v, want %v", l.phases(), want)
}

func indexOf(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}

func countOf(ops []string, op string) int {
	n := 0
	for _, o := range ops {
		if o == op {
			n++
		}
	}
	return n
}

func videoTrack(t *testing.T, id string) webrtc.TrackLocal {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "parley")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	return track
}

func TestNoOfferBeforePeerJoins(t *testing.T) {
	e := &fakeEngine{}
	n, sent, _ := newTestNegotiator(t, e)

	n.AddTracks(videoTrack(t, "cam"))

	time.Sleep(50 * time.Millisecond)
	if got := sent.count(protocol.TypeOffer); got != 0 {
		t.Fatalf("sent %d offers with no peer in the room, want 0", got)
	}
	if got := n.Phase(); got != PhaseIdle {
		t.Fatalf("phase = %v, want %v", got, PhaseIdle)
	}
}

func TestPeerJoinedStartsSingleOfferRound(t *testing.T) {
	e := &fakeEngine{}
	n, sent, l := newTestNegotiator(t, e)

	n.AddTracks(videoTrack(t, "cam"))
	n.HandlePeerJoined()
	n.HandlePeerJoined()

	waitFor(t, "offer to be sent", func() bool { return sent.count(protocol.TypeOffer) > 0 })
	time.Sleep(50 * time.Millisecond)

	if got := sent.count(protocol.TypeOffer); got != 1 {
		t.Fatalf("sent %d offers, want exactly 1", got)
	}
	waitPhases(t, l, PhaseOffering)
	if got := n.Phase(); got != PhaseOffering {
		t.Fatalf("phase = %v, want %v", got, PhaseOffering)
	}
}

func TestOfferWhileIdleProducesAnswer(t *testing.T) {
	e := &fakeEngine{}
	n, sent, l := newTestNegotiator(t, e)

	n.HandleOffer("offer-sdp")

	waitPhases(t, l, PhaseAnswering, PhaseConnected)
	if got := sent.count(protocol.TypeAnswer); got != 1 {
		t.Fatalf("sent %d answers, want 1", got)
	}

	ops := e.log()
	ri, ai := indexOf(ops, "set-remote:offer"), indexOf(ops, "create-answer")
	if ri == -1 || ai == -1 || ri > ai {
		t.Fatalf("ops = %v, want set-remote:offer before create-answer", ops)
	}
}

func TestCandidatesHeldUntilRemoteDescription(t *testing.T) {
	e := &fakeEngine{}
	n, _, l := newTestNegotiator(t, e)

	n.HandleCandidate(json.RawMessage(`"c1"`))
	n.HandleCandidate(json.RawMessage(`"c2"`))
	n.HandleOffer("offer-sdp")

	waitPhases(t, l, PhaseAnswering, PhaseConnected)
	waitFor(t, "buffered candidates to flush", func() bool {
		return indexOf(e.log(), `candidate:"c2"`) != -1
	})

	ops := e.log()
	ri := indexOf(ops, "set-remote:offer")
	c1 := indexOf(ops, `candidate:"c1"`)
	c2 := indexOf(ops, `candidate:"c2"`)
	if !(ri < c1 && c1 < c2) {
		t.Fatalf("ops = %v, want remote description, then c1, then c2", ops)
	}

	// Once the description is in, later candidates apply straight away.
	n.HandleCandidate(json.RawMessage(`"c3"`))
	waitFor(t, "late candidate to apply", func() bool {
		return indexOf(e.log(), `candidate:"c3"`) != -1
	})
}

func TestDuplicateCandidateReplayIsHarmless(t *testing.T) {
	e := &fakeEngine{}
	n, _, l := newTestNegotiator(t, e)

	n.HandleOffer("offer-sdp")
	waitPhases(t, l, PhaseAnswering, PhaseConnected)

	// The relay can redeliver a candidate; applying it again must not
	// move the session backward.
	n.HandleCandidate(json.RawMessage(`"c1"`))
	n.HandleCandidate(json.RawMessage(`"c1"`))
	waitFor(t, "replayed candidate to apply", func() bool {
		return countOf(e.log(), `candidate:"c1"`) == 2
	})

	// Same if the engine refuses the duplicate outright.
	e.setFailCandidate(true)
	n.HandleCandidate(json.RawMessage(`"c1"`))
	waitFor(t, "rejected candidate to be processed", func() bool {
		return countOf(e.log(), `candidate-rejected:"c1"`) == 1
	})

	if got := n.Phase(); got != PhaseConnected {
		t.Fatalf("phase = %v, want %v", got, PhaseConnected)
	}
	if got := l.failures(); len(got) != 0 {
		t.Fatalf("candidate replay failed the round: %v", got)
	}
}

func TestTrackChangeWhileConnectedRenegotiates(t *testing.T) {
	e := &fakeEngine{}
	n, sent, l := newTestNegotiator(t, e)

	n.HandleOffer("offer-sdp")
	waitPhases(t, l, PhaseAnswering, PhaseConnected)

	n.AddTracks(videoTrack(t, "screen"))
	waitFor(t, "renegotiation offer", func() bool { return sent.count(protocol.TypeOffer) == 1 })

	n.HandleAnswer("answer-sdp")
	waitPhases(t, l, PhaseAnswering, PhaseConnected, PhaseRenegotiating, PhaseConnected)

	ops := e.log()
	ti, oi := indexOf(ops, "add-track:screen"), indexOf(ops, "create-offer")
	if ti == -1 || oi == -1 || ti > oi {
		t.Fatalf("ops = %v, want add-track:screen before create-offer", ops)
	}
}

func TestRemoveTracksRenegotiates(t *testing.T) {
	e := &fakeEngine{}
	n, sent, l := newTestNegotiator(t, e)

	share := videoTrack(t, "screen")
	n.AddTracks(share)
	n.HandleOffer("offer-sdp")
	waitPhases(t, l, PhaseAnswering, PhaseConnected)

	n.RemoveTracks(share)
	waitFor(t, "renegotiation offer", func() bool { return sent.count(protocol.TypeOffer) == 1 })
	n.HandleAnswer("answer-sdp")
	waitPhases(t, l, PhaseAnswering, PhaseConnected, PhaseRenegotiating, PhaseConnected)

	ops := e.log()
	ti, oi := indexOf(ops, "remove-track:screen"), indexOf(ops, "create-offer")
	if ti == -1 || oi == -1 || ti > oi {
		t.Fatalf("ops = %v, want remove-track:screen before create-offer", ops)
	}
}

func TestTrackChangeDuringOpenRoundQueuesRenegotiation(t *testing.T) {
	e := &fakeEngine{}
	n, sent, l := newTestNegotiator(t, e)

	n.HandleOffer("offer-sdp")
	n.AddTracks(videoTrack(t, "screen"))

	waitFor(t, "renegotiation offer", func() bool { return sent.count(protocol.TypeOffer) == 1 })
	n.HandleAnswer("answer-sdp")
	waitPhases(t, l, PhaseAnswering, PhaseConnected, PhaseRenegotiating, PhaseConnected)
}

func TestOfferFailureRevertsToIdle(t *testing.T) {
	e := &fakeEngine{failCreateOffer: true}
	n, sent, l := newTestNegotiator(t, e)

	n.AddTracks(videoTrack(t, "cam"))
	n.HandlePeerJoined()

	waitFor(t, "round failure", func() bool { return len(l.failures()) == 1 })
	waitPhases(t, l, PhaseOffering, PhaseIdle)
	if got := sent.count(protocol.TypeOffer); got != 0 {
		t.Fatalf("sent %d offers from a failed round, want 0", got)
	}

	// The machine retries on the next trigger, not by itself.
	e.setFailCreateOffer(false)
	n.AddTracks(videoTrack(t, "cam2"))
	waitFor(t, "recovery offer", func() bool { return sent.count(protocol.TypeOffer) == 1 })
}

func TestSendFailureFailsRound(t *testing.T) {
	e := &fakeEngine{}
	n, sent, l := newTestNegotiator(t, e)
	sent.setFail(true)

	n.AddTracks(videoTrack(t, "cam"))
	n.HandlePeerJoined()

	waitFor(t, "round failure", func() bool { return len(l.failures()) == 1 })
	if got := n.Phase(); got != PhaseIdle {
		t.Fatalf("phase = %v, want %v", got, PhaseIdle)
	}
}

func TestFailureAfterEstablishedRevertsToConnected(t *testing.T) {
	e := &fakeEngine{}
	n, sent, l := newTestNegotiator(t, e)

	n.HandleOffer("offer-sdp")
	waitPhases(t, l, PhaseAnswering, PhaseConnected)

	n.AddTracks(videoTrack(t, "screen"))
	waitFor(t, "renegotiation offer", func() bool { return sent.count(protocol.TypeOffer) == 1 })

	e.setFailSetRemote(true)
	n.HandleAnswer("bad-answer")

	waitFor(t, "round failure", func() bool { return len(l.failures()) == 1 })
	waitPhases(t, l, PhaseAnswering, PhaseConnected, PhaseRenegotiating, PhaseConnected)

	// The prior session's description survives, so candidates keep
	// applying directly.
	e.setFailSetRemote(false)
	n.HandleCandidate(json.RawMessage(`"late"`))
	waitFor(t, "candidate to apply", func() bool {
		return indexOf(e.log(), `candidate:"late"`) != -1
	})
}

func TestStaleCompletionDiscardedAfterFailure(t *testing.T) {
	gate := make(chan struct{})
	e := &fakeEngine{gateOffer: gate}
	n, sent, l := newTestNegotiator(t, e)

	n.AddTracks(videoTrack(t, "cam"))
	n.HandlePeerJoined()
	waitPhases(t, l, PhaseOffering)

	// Fail the round while its offer task is still parked on the gate.
	e.setFailAddTrack(true)
	n.AddTracks(videoTrack(t, "screen"))
	waitFor(t, "round failure", func() bool { return len(l.failures()) == 1 })

	close(gate)
	time.Sleep(50 * time.Millisecond)

	if got := sent.count(protocol.TypeOffer); got != 0 {
		t.Fatalf("stale offer escaped: sent %d offers, want 0", got)
	}
	if got := n.Phase(); got != PhaseIdle {
		t.Fatalf("phase = %v, want %v", got, PhaseIdle)
	}
}

func TestCloseAbortsInFlightRound(t *testing.T) {
	gate := make(chan struct{})
	e := &fakeEngine{gateOffer: gate}
	n, sent, l := newTestNegotiator(t, e)

	n.AddTracks(videoTrack(t, "cam"))
	n.HandlePeerJoined()
	waitPhases(t, l, PhaseOffering)

	n.Close()
	n.Close()
	close(gate)
	time.Sleep(50 * time.Millisecond)

	if got := n.Phase(); got != PhaseClosed {
		t.Fatalf("phase = %v, want %v", got, PhaseClosed)
	}
	if got := sent.count(protocol.TypeOffer); got != 0 {
		t.Fatalf("sent %d offers after close, want 0", got)
	}
	if indexOf(e.log(), "close") == -1 {
		t.Fatalf("engine was not closed: ops = %v", e.log())
	}
}

func TestAnswerIgnoredWhenNoneOutstanding(t *testing.T) {
	e := &fakeEngine{}
	n, _, _ := newTestNegotiator(t, e)

	n.HandleAnswer("answer-sdp")

	time.Sleep(50 * time.Millisecond)
	if got := indexOf(e.log(), "set-remote:answer"); got != -1 {
		t.Fatalf("unsolicited answer was applied: ops = %v", e.log())
	}
	if got := n.Phase(); got != PhaseIdle {
		t.Fatalf("phase = %v, want %v", got, PhaseIdle)
	}
}

func TestLocalCandidatesSentOverSignaling(t *testing.T) {
	e := &fakeEngine{}
	_, sent, _ := newTestNegotiator(t, e)

	e.trickle(`"local-cand"`)

	waitFor(t, "candidate on the wire", func() bool {
		return sent.count(protocol.TypeICECandidate) == 1
	})
	var payload protocol.ICECandidate
	if err := sent.last(protocol.TypeICECandidate).DecodePayload(&payload); err != nil {
		t.Fatalf("decode candidate payload: %v", err)
	}
	if string(payload.Candidate) != `"local-cand"` {
		t.Fatalf("candidate payload = %s, want \"local-cand\"", payload.Candidate)
	}
}

func TestRemoteTrackSurfaced(t *testing.T) {
	e := &fakeEngine{}
	_, _, l := newTestNegotiator(t, e)

	e.emitTrack(RemoteTrack{Kind: "video", ID: "cam", StreamID: "alice"})

	waitFor(t, "remote track event", func() bool { return len(l.tracks()) == 1 })
	if got := l.tracks()[0].ID; got != "cam" {
		t.Fatalf("track ID = %q, want %q", got, "cam")
	}
}

// pipe forwards one negotiator's outbound signaling into the other's
// inbound handlers, standing in for the relay.
type pipe struct {
	mu   sync.Mutex
	peer *Negotiator
	sent []*protocol.Message
}

func (p *pipe) send(m *protocol.Message) error {
	p.mu.Lock()
	p.sent = append(p.sent, m)
	peer := p.peer
	p.mu.Unlock()
	if peer == nil {
		return errors.New("no peer attached")
	}

	switch m.Type {
	case protocol.TypeOffer:
		var sd protocol.SessionDescription
		if err := m.DecodePayload(&sd); err != nil {
			return err
		}
		peer.HandleOffer(sd.SDP)
	case protocol.TypeAnswer:
		var sd protocol.SessionDescription
		if err := m.DecodePayload(&sd); err != nil {
			return err
		}
		peer.HandleAnswer(sd.SDP)
	case protocol.TypeICECandidate:
		var ic protocol.ICECandidate
		if err := m.DecodePayload(&ic); err != nil {
			return err
		}
		peer.HandleCandidate(ic.Candidate)
	}
	return nil
}

func (p *pipe) count(msgType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.sent {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func TestMirroredPeersConverge(t *testing.T) {
	ea, eb := &fakeEngine{}, &fakeEngine{}
	pa, pb := &pipe{}, &pipe{}

	a := NewNegotiator(ea, pa.send)
	b := NewNegotiator(eb, pb.send)
	pa.peer, pb.peer = b, a
	la, lb := collectEvents(t, a), collectEvents(t, b)
	a.Start()
	b.Start()
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	// Both sides have media; only a observes the join, so only a offers.
	a.AddTracks(videoTrack(t, "cam-a"))
	b.AddTracks(videoTrack(t, "cam-b"))
	a.HandlePeerJoined()

	waitFor(t, "both sides connected", func() bool {
		return a.Phase() == PhaseConnected && b.Phase() == PhaseConnected
	})
	if got := pa.count(protocol.TypeOffer); got != 1 {
		t.Fatalf("caller sent %d offers, want 1", got)
	}
	if got := pb.count(protocol.TypeOffer); got != 0 {
		t.Fatalf("callee sent %d offers during setup, want 0", got)
	}
	if got := pb.count(protocol.TypeAnswer); got != 1 {
		t.Fatalf("callee sent %d answers, want 1", got)
	}

	// Trickled candidates reach the opposite engine.
	ea.trickle(`"from-a"`)
	eb.trickle(`"from-b"`)
	waitFor(t, "candidates to cross", func() bool {
		return indexOf(eb.log(), `candidate:"from-a"`) != -1 &&
			indexOf(ea.log(), `candidate:"from-b"`) != -1
	})

	// Renegotiation initiated by the callee side converges too.
	b.AddTracks(videoTrack(t, "screen-b"))
	waitFor(t, "renegotiation to settle", func() bool {
		return pb.count(protocol.TypeOffer) == 1 &&
			a.Phase() == PhaseConnected && b.Phase() == PhaseConnected &&
			indexOf(ea.log(), "set-remote:offer") != -1
	})

	waitPhases(t, la, PhaseOffering, PhaseConnected, PhaseRenegotiating, PhaseConnected)
	waitPhases(t, lb, PhaseAnswering, PhaseConnected, PhaseRenegotiating, PhaseConnected)
}
