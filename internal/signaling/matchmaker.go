package signaling

import (
	"context"
	"errors"
	"log/slog"

	"github.com/SIgmaboy6796/game2/internal/relay"
)

// ErrRoomNotFound is returned when the relay does not know a room code.
var ErrRoomNotFound = errors.New("room not found")

// PeerLookup is a peer-id-response from the relay.
type PeerLookup struct {
	RoomCode string
	PeerID   string
}

// Matchmaker routes relay replies to typed channels.
//
// Requests are fire-and-forget; replies arrive on the channels below. The
// Await helpers wrap the common request/reply pairs for blocking callers.
type Matchmaker struct {
	client *Client

	GameHosted chan string
	PeerID     chan PeerLookup
	Games      chan []relay.Game
	RoomAdded  chan relay.Game
	RoomClosed chan string
	Error      chan string

	done chan struct{}
}

// NewMatchmaker creates a new message handler.
func NewMatchmaker(client *Client) *Matchmaker {
	return &Matchmaker{
		client:     client,
		GameHosted: make(chan string, 1),
		PeerID:     make(chan PeerLookup, 1),
		Games:      make(chan []relay.Game, 4),
		RoomAdded:  make(chan relay.Game, 32),
		RoomClosed: make(chan string, 32),
		Error:      make(chan string, 4),
		done:       make(chan struct{}),
	}
}

// Start begins listening to incoming messages and routing them. It returns
// when the connection closes.
func (m *Matchmaker) Start() {
	defer close(m.done)

	for msg := range m.client.Incoming() {
		switch msg.Type {
		case relay.TypeGameHosted:
			offer(m.GameHosted, msg.RoomCode, msg.Type)

		case relay.TypePeerIDResponse:
			offer(m.PeerID, PeerLookup{RoomCode: msg.RoomCode, PeerID: msg.PeerID}, msg.Type)

		case relay.TypeGameList:
			offer(m.Games, msg.Games, msg.Type)

		case relay.TypeNewRoom:
			offer(m.RoomAdded, relay.Game{RoomCode: msg.RoomCode, Nametag: msg.Nametag, PeerID: msg.PeerID}, msg.Type)

		case relay.TypeRoomClosed:
			offer(m.RoomClosed, msg.RoomCode, msg.Type)

		case relay.TypeError:
			offer(m.Error, msg.Message, msg.Type)

		default:
			slog.Debug("ignoring relay message", "type", msg.Type)
		}
	}
}

// offer delivers without blocking the router; nobody may be listening for
// broadcasts.
func offer[T any](ch chan T, v T, typ string) {
	select {
	case ch <- v:
	default:
		slog.Debug("relay notification dropped", "type", typ)
	}
}

// Done is closed when Start returns.
func (m *Matchmaker) Done() <-chan struct{} {
	return m.done
}

// HostGame asks the relay for a room code for peerID.
func (m *Matchmaker) HostGame(peerID, nametag string) error {
	return m.client.Send(&relay.Message{Type: relay.TypeHostGame, PeerID: peerID, Nametag: nametag})
}

// GetPeerID asks the relay which peer hosts roomCode.
func (m *Matchmaker) GetPeerID(roomCode string) error {
	return m.client.Send(&relay.Message{Type: relay.TypeGetPeerID, RoomCode: relay.NormalizeCode(roomCode)})
}

// GetGames asks for the live room list.
func (m *Matchmaker) GetGames() error {
	return m.client.Send(&relay.Message{Type: relay.TypeGetGames})
}

// AwaitRoomCode sends host-game and waits for the assigned code.
func (m *Matchmaker) AwaitRoomCode(ctx context.Context, peerID, nametag string) (string, error) {
	if err := m.HostGame(peerID, nametag); err != nil {
		return "", err
	}
	return await(ctx, m, m.GameHosted)
}

// AwaitPeerID resolves a room code to the host's peer identity.
func (m *Matchmaker) AwaitPeerID(ctx context.Context, roomCode string) (string, error) {
	if err := m.GetPeerID(roomCode); err != nil {
		return "", err
	}
	lookup, err := await(ctx, m, m.PeerID)
	if err != nil {
		return "", err
	}
	return lookup.PeerID, nil
}

// AwaitGames requests and returns the live room list.
func (m *Matchmaker) AwaitGames(ctx context.Context) ([]relay.Game, error) {
	// Discard snapshots pushed before this request.
	for drained := false; !drained; {
		select {
		case <-m.Games:
		default:
			drained = true
		}
	}
	if err := m.GetGames(); err != nil {
		return nil, err
	}
	return await(ctx, m, m.Games)
}

func await[T any](ctx context.Context, m *Matchmaker, ch <-chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case text := <-m.Error:
		return zero, relayError(text)
	case <-m.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func relayError(text string) error {
	if text == relay.ErrTextRoomNotFound {
		return ErrRoomNotFound
	}
	return errors.New(text)
}
