package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const maxNametagLen = 32

// Eviction reasons passed to the Recorder
const (
	ReasonTTL              = "ttl"
	ReasonHostDisconnected = "host-disconnected"
	ReasonSweep            = "sweep"
	ReasonShutdown         = "shutdown"
)

// Recorder receives room lifecycle events, e.g. for a history log.
type Recorder interface {
	RoomHosted(room Room) error
	RoomClosed(code, reason string, at time.Time) error
}

// Options configures a matchmaking hub.
type Options struct {
	// TTL evicts a room this long after creation. 0 disables the timer.
	TTL time.Duration

	// SweepInterval and MaxRoomAge enable the periodic sweep. 0 disables it.
	SweepInterval time.Duration
	MaxRoomAge    time.Duration

	MaxRooms  int
	CodeStyle string

	Recorder Recorder

	// Now defaults to time.Now.
	Now func() time.Time
}

// Hub is the matchmaking relay. It owns the room table and every relay
// connection; all state is touched only by the Run goroutine.
type Hub struct {
	opts  Options
	rooms *Rooms

	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	inbound    chan *Message
	expire     chan *Room
	snapshots  chan chan []Game

	done chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub(opts Options) (*Hub, error) {
	codes, err := NewCodeGenerator(opts.CodeStyle)
	if err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		opts:       opts,
		rooms:      NewRooms(codes, opts.MaxRooms),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *Message),
		expire:     make(chan *Room),
		snapshots:  make(chan chan []Game),
		done:       make(chan struct{}),
	}, nil
}

// Accept registers a new websocket connection and starts its pumps.
func (h *Hub) Accept(conn *websocket.Conn) {
	client := newClient(conn, endpoint{inbound: h.inbound, unregister: h.unregister, done: h.done})

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Games returns a snapshot of live rooms, answered by the run loop.
func (h *Hub) Games(ctx context.Context) ([]Game, error) {
	reply := make(chan []Game, 1)
	select {
	case h.snapshots <- reply:
	case <-h.done:
		return nil, errors.New("relay stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case games := <-reply:
		return games, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run starts the hub's main processing loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	var sweep <-chan time.Time
	if h.opts.SweepInterval > 0 && h.opts.MaxRoomAge > 0 {
		ticker := time.NewTicker(h.opts.SweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			slog.Debug("relay client registered", "addr", client.RemoteAddr())

			// Newcomers see the current rooms without asking.
			h.send(client, &Message{Type: TypeGameList, Games: h.rooms.List()})

		case client := <-h.unregister:
			h.drop(client)

		case message := <-h.inbound:
			if !h.clients[message.client] {
				continue
			}
			h.handle(message)

		case room := <-h.expire:
			h.evict(room, ReasonTTL)

		case now := <-sweep:
			for _, room := range h.rooms.Expired(now, h.opts.MaxRoomAge) {
				h.evict(room, ReasonSweep)
			}

		case reply := <-h.snapshots:
			reply <- h.rooms.List()
		}
	}
}

func (h *Hub) handle(message *Message) {
	client := message.client

	switch message.Type {
	case TypeHostGame:
		h.hostGame(client, message)

	case TypeGetPeerID:
		room, ok := h.rooms.Lookup(message.RoomCode)
		if !ok {
			slog.Info("room lookup failed", "room", message.RoomCode)
			h.send(client, errorMessage(ErrTextRoomNotFound))
			return
		}
		h.send(client, &Message{Type: TypePeerIDResponse, RoomCode: room.Code, PeerID: room.HostPeerID})

	case TypeGetGames:
		h.send(client, &Message{Type: TypeGameList, Games: h.rooms.List()})

	default:
		slog.Warn("unknown relay message type", "type", message.Type, "addr", client.RemoteAddr())
	}
}

func (h *Hub) hostGame(client *Client, message *Message) {
	if message.PeerID == "" {
		h.send(client, errorMessage(ErrTextMissingPeerID))
		return
	}

	room, err := h.rooms.Allocate(message.PeerID, truncateNametag(message.Nametag), h.opts.Now())
	if err != nil {
		slog.Warn("room allocation failed", "peer", message.PeerID, "err", err)
		text := ErrTextNoCodes
		if errors.Is(err, ErrTooManyRooms) {
			text = ErrTextRoomLimit
		}
		h.send(client, errorMessage(text))
		return
	}
	room.host = client

	if h.opts.TTL > 0 {
		room.timer = time.AfterFunc(h.opts.TTL, func() {
			select {
			case h.expire <- room:
			case <-h.done:
			}
		})
	}

	slog.Info("game hosted", "room", room.Code, "peer", room.HostPeerID, "nametag", room.Nametag)
	h.record(func(r Recorder) error { return r.RoomHosted(*room) })

	h.send(client, &Message{Type: TypeGameHosted, RoomCode: room.Code})
	h.broadcast(&Message{Type: TypeNewRoom, RoomCode: room.Code, PeerID: room.HostPeerID, Nametag: room.Nametag})
}

// evict removes a room and tells every relay client. A room that is already
// gone (e.g. host left before the TTL fired) is ignored.
func (h *Hub) evict(room *Room, reason string) {
	if !h.rooms.Remove(room) {
		return
	}
	slog.Info("room closed", "room", room.Code, "reason", reason)
	h.record(func(r Recorder) error { return r.RoomClosed(room.Code, reason, h.opts.Now()) })
	h.broadcast(&Message{Type: TypeRoomClosed, RoomCode: room.Code})
}

func (h *Hub) drop(client *Client) {
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	close(client.send)
	slog.Debug("relay client unregistered", "addr", client.RemoteAddr())

	for _, room := range h.rooms.HostedBy(client) {
		h.evict(room, ReasonHostDisconnected)
	}
}

func (h *Hub) send(client *Client, msg *Message) {
	if !h.clients[client] {
		return
	}
	if !client.deliver(msg) {
		slog.Warn("relay client too slow, disconnecting", "addr", client.RemoteAddr())
		h.drop(client)
	}
}

func (h *Hub) broadcast(msg *Message) {
	for client := range h.clients {
		h.send(client, msg)
	}
}

func (h *Hub) record(fn func(Recorder) error) {
	if h.opts.Recorder == nil {
		return
	}
	if err := fn(h.opts.Recorder); err != nil {
		slog.Warn("room history write failed", "err", err)
	}
}

func (h *Hub) shutdown() {
	for _, room := range h.rooms.sorted() {
		if h.rooms.Remove(room) {
			h.record(func(r Recorder) error { return r.RoomClosed(room.Code, ReasonShutdown, h.opts.Now()) })
		}
	}
	close(h.done)
}

func truncateNametag(name string) string {
	if utf8.RuneCountInString(name) <= maxNametagLen {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxNametagLen])
}
