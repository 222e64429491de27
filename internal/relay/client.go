package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP offers are the largest payloads.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// endpoint is the set of hub channels a client pumps into.
type endpoint struct {
	inbound    chan<- *Message
	unregister chan<- *Client
	done       <-chan struct{}
}

// Client is a wrapper for a single websocket connection to the relay or broker.
type Client struct {
	conn *websocket.Conn
	hub  endpoint

	// send is a buffered channel for all outbound messages.
	// The owning hub is the only writer and closes it on unregister.
	send chan *Message

	// PeerID is the broker-assigned identity; empty on relay connections.
	PeerID string
}

func newClient(conn *websocket.Conn, hub endpoint) *Client {
	return &Client{
		conn: conn,
		hub:  hub,
		send: make(chan *Message, sendBufferSize),
	}
}

// RemoteAddr is used for log attributes.
func (c *Client) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// readPump pumps messages from the websocket connection to the hub.
//
// There is at most one reader on a connection; all reads happen here.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("relay read error", "addr", c.RemoteAddr(), "err", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("dropping malformed message", "addr", c.RemoteAddr(), "err", err)
			continue
		}
		msg.client = c

		select {
		case c.hub.inbound <- &msg:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
//
// There is at most one writer on a connection; all writes happen here.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				slog.Warn("relay write error", "addr", c.RemoteAddr(), "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.hub.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"))
			return
		}
	}
}

// deliver queues msg without blocking the hub. A full buffer means the
// client stopped reading; the caller drops it.
func (c *Client) deliver(msg *Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}
