package relay

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Broker hands out peer identities and forwards opaque signalling payloads
// between them. It never inspects the payload.
type Broker struct {
	peers map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan *Message

	// newID is replaced in tests.
	newID func() string

	done chan struct{}
}

// NewBroker creates a broker ready to Run.
func NewBroker() *Broker {
	return &Broker{
		peers:      make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *Message),
		newID:      uuid.NewString,
		done:       make(chan struct{}),
	}
}

// Accept registers a websocket connection as a new peer.
func (b *Broker) Accept(conn *websocket.Conn) {
	client := newClient(conn, endpoint{inbound: b.inbound, unregister: b.unregister, done: b.done})

	select {
	case b.register <- client:
	case <-b.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Done is closed once Run has returned.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// Run processes broker traffic until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-b.register:
			id := b.newID()
			for b.peers[id] != nil {
				id = b.newID()
			}
			client.PeerID = id
			b.peers[id] = client
			slog.Debug("peer online", "peer", id)
			b.send(client, &Message{Type: TypeOpen, PeerID: id})

		case client := <-b.unregister:
			b.drop(client)

		case message := <-b.inbound:
			b.handle(message)
		}
	}
}

func (b *Broker) handle(message *Message) {
	src := message.client
	if src == nil || b.peers[src.PeerID] != src {
		return
	}

	switch message.Type {
	case TypeSignal:
		dst, ok := b.peers[message.Dst]
		if !ok {
			slog.Debug("signal for unknown peer", "src", src.PeerID, "dst", message.Dst)
			b.send(src, &Message{Type: TypeError, Message: ErrTextPeerUnavailable, PeerID: message.Dst})
			return
		}
		b.send(dst, &Message{Type: TypeSignal, Src: src.PeerID, Payload: message.Payload})

	default:
		slog.Warn("unknown broker message type", "type", message.Type, "peer", src.PeerID)
	}
}

func (b *Broker) drop(client *Client) {
	if b.peers[client.PeerID] != client {
		return
	}
	delete(b.peers, client.PeerID)
	close(client.send)
	slog.Debug("peer offline", "peer", client.PeerID)
}

func (b *Broker) send(client *Client, msg *Message) {
	if !client.deliver(msg) {
		slog.Warn("peer too slow, disconnecting", "peer", client.PeerID)
		b.drop(client)
	}
}
