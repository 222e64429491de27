package relay

import "encoding/json"

// Message defines the structure for every relay and broker websocket message,
// in both directions. Fields are optional and depend on Type.
type Message struct {
	Type     string          `json:"type"`
	PeerID   string          `json:"peerId,omitempty"`
	Nametag  string          `json:"nametag,omitempty"`
	RoomCode string          `json:"roomCode,omitempty"`
	Games    []Game          `json:"games,omitempty"`
	Message  string          `json:"message,omitempty"`
	Src      string          `json:"src,omitempty"`
	Dst      string          `json:"dst,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	// client is the client that sent the message.
	// It's used internally by the hubs and not sent over JSON.
	client *Client
}

// Client -> relay message types
const (
	TypeHostGame  = "host-game"
	TypeGetPeerID = "get-peer-id"
	TypeGetGames  = "get-games"
)

// Relay -> client message types
const (
	TypeGameHosted     = "game-hosted"
	TypePeerIDResponse = "peer-id-response"
	TypeGameList       = "game-list"
	TypeNewRoom        = "new-room"
	TypeRoomClosed     = "room-closed"
	TypeError          = "error"
)

// Broker message types
const (
	TypeOpen   = "open"
	TypeSignal = "signal"
)

// Error texts sent in error messages
const (
	ErrTextRoomNotFound    = "Room not found."
	ErrTextPeerUnavailable = "peer unavailable"
	ErrTextMissingPeerID   = "peerId is required"
	ErrTextRoomLimit       = "Too many rooms, try again later."
	ErrTextNoCodes         = "No room codes available."
)

// Game is the public view of a room shown in lobby browsers.
type Game struct {
	RoomCode string `json:"roomCode"`
	Nametag  string `json:"nametag"`
	PeerID   string `json:"peerId,omitempty"`
}

// MarshalJSON keeps "games" present on game-list replies even when empty,
// so browser clients can iterate it unconditionally.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	if m.Type != TypeGameList {
		return json.Marshal(alias(m))
	}
	games := m.Games
	if games == nil {
		games = []Game{}
	}
	return json.Marshal(struct {
		alias
		Games []Game `json:"games"`
	}{alias(m), games})
}

func errorMessage(text string) *Message {
	return &Message{Type: TypeError, Message: text}
}
