package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/protocol"
)

// fakeRelay upgrades one connection and records everything the client
// sends while letting the test push replies.
type fakeRelay struct {
	srv      *httptest.Server
	received chan *protocol.Message
	replies  chan *protocol.Message
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	f := &fakeRelay{
		received: make(chan *protocol.Message, 32),
		replies:  make(chan *protocol.Message, 32),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for reply := range f.replies {
				if err := conn.WriteJSON(reply); err != nil {
					return
				}
			}
		}()
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				close(f.received)
				return
			}
			f.received <- &msg
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
}

func (f *fakeRelay) next(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-f.received:
		if !ok {
			t.Fatal("relay connection closed early")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
		return nil
	}
}

// TestJoinSendsWireMessage verifies Join produces the join-room envelope.
func TestJoinSendsWireMessage(t *testing.T) {
	relay := newFakeRelay(t)
	ch := NewChannel(relay.url())
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	if err := ch.Join("r1", "alice"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	msg := relay.next(t)
	if msg.Type != protocol.TypeJoinRoom {
		t.Fatalf("type = %s, want join-room", msg.Type)
	}
	var join protocol.Join
	if err := msg.DecodePayload(&join); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if join.RoomID != "r1" || join.UserID != "alice" {
		t.Errorf("join = %+v", join)
	}
}

// TestIncomingDeliversInOrder verifies relay messages surface on Incoming
// in the order they were sent.
func TestIncomingDeliversInOrder(t *testing.T) {
	relay := newFakeRelay(t)
	ch := NewChannel(relay.url())
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	for _, text := range []string{"one", "two", "three"} {
		msg, err := protocol.NewMessage(protocol.TypeReceiveMessage, protocol.ChatMessage{Text: text, From: "bob"})
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		relay.replies <- msg
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case msg := <-ch.Incoming():
			var chat protocol.ChatMessage
			if err := msg.DecodePayload(&chat); err != nil {
				t.Fatalf("DecodePayload: %v", err)
			}
			if chat.Text != want {
				t.Errorf("got %q, want %q", chat.Text, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

// TestLeaveSendsDisconnectBeforeClose verifies the best-effort goodbye
// reaches the wire.
func TestLeaveSendsDisconnectBeforeClose(t *testing.T) {
	relay := newFakeRelay(t)
	ch := NewChannel(relay.url())
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ch.Leave()

	msg := relay.next(t)
	if msg.Type != protocol.TypeDisconnect {
		t.Fatalf("type = %s, want disconnect", msg.Type)
	}
}

// TestSendAfterCloseFails verifies Close is idempotent and Send reports
// the dead transport instead of blocking.
func TestSendAfterCloseFails(t *testing.T) {
	relay := newFakeRelay(t)
	ch := NewChannel(relay.url())
	if err := ch.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	ch.Close()
	ch.Close() // second close is a no-op

	msg, err := protocol.NewMessage(protocol.TypeSendMessage, protocol.ChatSend{Text: "hi"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := ch.Send(msg); err == nil {
		t.Fatal("expected error sending on closed channel")
	}
}
