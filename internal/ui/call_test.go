package ui

import (
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/peer"
	"github.com/parleyhq/parley/internal/session"
)

type fakeCaller struct {
	mu          sync.Mutex
	sent        []string
	shareStarts int
	shareStops  int
	disconnects int
}

func (f *fakeCaller) Events() <-chan session.Event { return nil }
func (f *fakeCaller) Snapshot() session.Snapshot   { return session.Snapshot{} }
func (f *fakeCaller) Transcript() []chat.Line      { return nil }
func (f *fakeCaller) RoomID() string               { return "cozy-otter-waffle-comet" }
func (f *fakeCaller) UserID() string               { return "alice" }

func (f *fakeCaller) SendChat(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeCaller) StartScreenShare() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shareStarts++
}

func (f *fakeCaller) StopScreenShare() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shareStops++
}

func (f *fakeCaller) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func TestEnterSendsChatAndClearsInput(t *testing.T) {
	call := &fakeCaller{}
	m := newCallModel(call)

	m.input.SetValue("  hi there  ")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if len(call.sent) != 1 || call.sent[0] != "hi there" {
		t.Fatalf("sent = %v, want [hi there]", call.sent)
	}
	if m.input.Value() != "" {
		t.Fatalf("input not cleared, still %q", m.input.Value())
	}
}

func TestEnterIgnoresBlankInput(t *testing.T) {
	call := &fakeCaller{}
	m := newCallModel(call)

	m.input.SetValue("   ")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if len(call.sent) != 0 {
		t.Fatalf("sent = %v, want none", call.sent)
	}
}

func TestEscapeDisconnectsOnce(t *testing.T) {
	call := &fakeCaller{}
	m := newCallModel(call)

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})

	if call.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", call.disconnects)
	}
}

func TestCtrlSTogglesScreenShare(t *testing.T) {
	call := &fakeCaller{}
	m := newCallModel(call)

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	if call.shareStarts != 1 {
		t.Fatalf("share starts = %d, want 1", call.shareStarts)
	}

	// The session confirms the share before the next press stops it.
	m.handleEvent(session.Event{Kind: session.EventScreenShare, Sharing: true})
	m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	if call.shareStops != 1 {
		t.Fatalf("share stops = %d, want 1", call.shareStops)
	}
}

func TestEventsShapeTheView(t *testing.T) {
	call := &fakeCaller{}
	m := newCallModel(call)

	m.handleEvent(session.Event{Kind: session.EventPeerJoined, Peer: "bob"})
	m.handleEvent(session.Event{Kind: session.EventPhase, Phase: peer.PhaseConnected})
	m.handleEvent(session.Event{Kind: session.EventChat, Line: chat.Line{From: "bob", Text: "hello"}})

	view := m.View()
	if !strings.Contains(view, "In call with bob") {
		t.Fatalf("view missing connection status:\n%s", view)
	}
	if !strings.Contains(view, "hello") {
		t.Fatalf("view missing chat line:\n%s", view)
	}
}

func TestJoinerLearnsPeerNameFromChat(t *testing.T) {
	call := &fakeCaller{}
	m := newCallModel(call)

	m.handleEvent(session.Event{Kind: session.EventChat, Line: chat.Line{From: "bob", Text: "hi"}})
	if m.peerName != "bob" {
		t.Fatalf("peerName = %q, want bob", m.peerName)
	}
}

func TestReportKeepsPeerAfterDeparture(t *testing.T) {
	call := &fakeCaller{}
	m := newCallModel(call)

	m.handleEvent(session.Event{Kind: session.EventPeerJoined, Peer: "bob"})
	m.handleEvent(session.Event{Kind: session.EventPeerLeft, Peer: "bob"})

	if got := m.report().Peer; got != "bob" {
		t.Fatalf("report peer = %q, want bob", got)
	}
	if m.peerName != "" {
		t.Fatalf("live peer name = %q, want empty after departure", m.peerName)
	}
}

func TestSessionCloseQuitsTheProgram(t *testing.T) {
	call := &fakeCaller{}
	m := newCallModel(call)

	_, cmd := m.Update(sessionEventMsg(session.Event{Kind: session.EventClosed}))
	if cmd == nil {
		t.Fatal("expected a quit command after the session closed")
	}
}
