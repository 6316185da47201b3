package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/protocol"
)

// Hub is the central brain of the signaling relay. It owns all rooms and
// clients, and processes every event on a single goroutine so no state
// needs locking.
type Hub struct {
	rooms map[string]*Room

	// register is a channel for newly upgraded connections.
	register chan *Client

	// unregister is a channel for connections whose readPump has exited.
	unregister chan *Client

	// inbound carries every parsed client message into the loop.
	inbound chan inbound

	log *zap.Logger
}

// inbound pairs a message with the connection it arrived on.
type inbound struct {
	client *Client
	msg    *protocol.Message
}

// NewHub creates a new Hub instance.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]*Room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		log:        log,
	}
}

// Run starts the hub's main processing loop. It returns when ctx is
// cancelled; connections are torn down by their own pumps.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			// The client is not in a room yet; it must send join-room first.
			connectedClients.Inc()
			client.log.Info("client connected")

		case client := <-h.unregister:
			connectedClients.Dec()
			client.log.Info("client disconnected")
			h.leaveRoom(client)

			// Stop the client's writePump.
			close(client.send)

		case in := <-h.inbound:
			h.dispatch(in.client, in.msg)
		}
	}
}

// dispatch routes one client message. This is the core signaling logic.
func (h *Hub) dispatch(client *Client, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeJoinRoom:
		h.joinRoom(client, msg)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		// Negotiation traffic is forwarded untouched to the other member.
		h.forward(client, msg)

	case protocol.TypeSendMessage:
		h.relayChat(client, msg)

	case protocol.TypeDisconnect:
		h.leaveRoom(client)

	default:
		client.log.Warn("unknown message type", zap.String("type", msg.Type))
	}
}

// joinRoom places a client into a room, creating the room on first join.
// The member already present is told about the newcomer; the newcomer is
// told nothing, which is what makes the offer role unambiguous.
func (h *Hub) joinRoom(client *Client, msg *protocol.Message) {
	var join protocol.Join
	if err := msg.DecodePayload(&join); err != nil || join.RoomID == "" || join.UserID == "" {
		joinsRejectedTotal.WithLabelValues("invalid").Inc()
		client.trySend(errorMessage("room and user identifiers are required"))
		return
	}

	if client.roomID != "" {
		joinsRejectedTotal.WithLabelValues("already_joined").Inc()
		client.trySend(errorMessage("already in a room"))
		return
	}

	room, ok := h.rooms[join.RoomID]
	if !ok {
		room = &Room{ID: join.RoomID}
		h.rooms[join.RoomID] = room
		roomsCreatedTotal.Inc()
		activeRooms.Inc()
		h.log.Info("room created", zap.String("room", room.ID))
	}

	if room.Full() {
		joinsRejectedTotal.WithLabelValues("room_full").Inc()
		client.log.Info("join refused, room full", zap.String("room", room.ID))
		client.trySend(errorMessage("room is full"))
		return
	}

	room.Add(client)
	client.roomID = room.ID
	client.userID = join.UserID
	client.log.Info("joined room",
		zap.String("room", room.ID),
		zap.String("user", join.UserID))

	if other := room.Other(client); other != nil {
		notice, err := protocol.NewMessage(protocol.TypeUserConnected, protocol.PeerJoined{UserID: join.UserID})
		if err != nil {
			return
		}
		other.trySend(notice)
	}
}

// forward relays a message unchanged to the other member of the sender's
// room.
func (h *Hub) forward(client *Client, msg *protocol.Message) {
	other := h.peerOf(client)
	if other == nil {
		messagesDroppedTotal.Inc()
		return
	}

	messagesRelayedTotal.WithLabelValues(msg.Type).Inc()
	other.trySend(msg)
}

// relayChat rewraps send-message as receive-message, stamping the sender
// identity so it cannot be spoofed.
func (h *Hub) relayChat(client *Client, msg *protocol.Message) {
	var chat protocol.ChatSend
	if err := msg.DecodePayload(&chat); err != nil {
		client.log.Warn("malformed chat payload", zap.Error(err))
		return
	}

	other := h.peerOf(client)
	if other == nil {
		messagesDroppedTotal.Inc()
		return
	}

	out, err := protocol.NewMessage(protocol.TypeReceiveMessage, protocol.ChatMessage{
		Text: chat.Text,
		From: client.userID,
	})
	if err != nil {
		return
	}
	messagesRelayedTotal.WithLabelValues(msg.Type).Inc()
	other.trySend(out)
}

// peerOf returns the other member of the client's room. It sends an error
// back when the client has not joined a room yet.
func (h *Hub) peerOf(client *Client) *Client {
	if client.roomID == "" {
		client.trySend(errorMessage("you must join a room first"))
		return nil
	}
	room, ok := h.rooms[client.roomID]
	if !ok {
		return nil
	}
	return room.Other(client)
}

// leaveRoom removes the client from its room, deleting the room when it
// empties and notifying the remaining member otherwise. Calling it twice
// is harmless.
func (h *Hub) leaveRoom(client *Client) {
	if client.roomID == "" {
		return
	}
	room, ok := h.rooms[client.roomID]
	if !ok {
		client.roomID = ""
		return
	}

	room.Remove(client)
	client.roomID = ""

	if room.Empty() {
		delete(h.rooms, room.ID)
		activeRooms.Dec()
		h.log.Info("room deleted", zap.String("room", room.ID))
		return
	}

	if other := room.Other(client); other != nil {
		client.log.Info("peer left room", zap.String("room", room.ID))
		notice, err := protocol.NewMessage(protocol.TypePeerLeft, protocol.PeerJoined{UserID: client.userID})
		if err != nil {
			return
		}
		other.trySend(notice)
	}
}

// errorMessage builds an error envelope for relay-side refusals.
func errorMessage(text string) *protocol.Message {
	msg, _ := protocol.NewMessage(protocol.TypeError, protocol.ErrorPayload{Error: text})
	return msg
}
