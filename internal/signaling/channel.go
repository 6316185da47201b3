// Package signaling implements the client side of the relay protocol: a
// room-scoped message bus over a websocket.
package signaling

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/dns"
	"github.com/parleyhq/parley/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrChannelClosed is returned by Send after Close or once the transport
// has failed.
var ErrChannelClosed = errors.New("signaling channel closed")

// Channel manages the websocket connection to the relay. Sends are
// fire-and-forget; inbound messages are delivered in relay order on
// Incoming. The consumer owns serialization — reads from Incoming must
// not be assumed concurrent-safe with each other.
type Channel struct {
	conn      *websocket.Conn
	serverURL string
	incoming  chan *protocol.Message
	outgoing  chan *protocol.Message
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewChannel creates a channel for the given relay URL. Connect must be
// called before use.
func NewChannel(serverURL string) *Channel {
	return &Channel{
		serverURL: serverURL,
		incoming:  make(chan *protocol.Message, 32),
		outgoing:  make(chan *protocol.Message, 32),
		done:      make(chan struct{}),
	}
}

// Connect establishes the websocket connection to the relay.
func (c *Channel) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	// Use a custom dialer with robust DNS lookup so flaky resolvers on
	// hotel/VPN networks do not kill the call before it starts.
	dialer := websocket.DefaultDialer
	dialer.NetDial = func(network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		resolvedIP, err := dns.Lookup(host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}

		return net.Dial(network, net.JoinHostPort(resolvedIP, port))
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// Join announces this participant to a room. The relay replies with
// nothing on success; a full room comes back as an error message on
// Incoming.
func (c *Channel) Join(roomID, userID string) error {
	msg, err := protocol.NewMessage(protocol.TypeJoinRoom, protocol.Join{RoomID: roomID, UserID: userID})
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Send queues a message for delivery. It never blocks the caller: when
// the outgoing buffer is full or the channel is closed the message is
// dropped with an error, per the relay contract that delivery after
// transport loss is not promised.
func (c *Channel) Send(msg *protocol.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrChannelClosed
	default:
		return fmt.Errorf("send %s: outgoing buffer full", msg.Type)
	}
}

// Incoming returns the channel of inbound messages. It is closed when the
// connection ends.
func (c *Channel) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Leave sends a best-effort disconnect notice and closes the channel.
// Local teardown never depends on the notice arriving.
func (c *Channel) Leave() {
	if msg, err := protocol.NewMessage(protocol.TypeDisconnect, nil); err == nil {
		_ = c.Send(msg)
	}
	c.Close()
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

// readPump reads messages from the websocket connection.
func (c *Channel) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the websocket connection and sends
// periodic pings. The done channel drains any queued sends first so a
// Leave notice gets its chance on the wire.
func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush anything still queued, then say goodbye.
			for {
				select {
				case message := <-c.outgoing:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(message); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}
