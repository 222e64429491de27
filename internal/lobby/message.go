package lobby

// Lobby message types on the wire
const (
	TypeWelcome           = "welcome"
	TypeNewPlayer         = "new-player"
	TypePlayerList        = "player-list"
	TypePlayerListUpdated = "player-list-updated"
	TypePlayerLeft        = "player-left"
)

// Gameplay message types, forwarded but not interpreted by the lobby
const (
	TypePlayerState = "player-state"
	TypeShoot       = "shoot"
)

// Player is one roster entry.
type Player struct {
	PeerID  string `json:"peerId" msgpack:"peerId"`
	Nametag string `json:"nametag" msgpack:"nametag"`
}

// Vec3 is a world-space vector as the physics engine reports it.
type Vec3 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// Message is one of the closed set of peer-to-peer messages below.
type Message interface {
	Type() string
	isMessage()
}

// Welcome is the roster snapshot the host sends a joiner once.
type Welcome struct {
	Players []Player
}

// NewPlayer announces a joiner to everyone else.
type NewPlayer struct {
	Player Player
}

// PlayerList is the full roster broadcast after every membership change.
type PlayerList struct {
	Players []Player

	// Updated selects the player-list-updated spelling.
	Updated bool
}

// PlayerLeft announces a departure.
type PlayerLeft struct {
	PeerID string
}

// PlayerState carries enough for a remote peer to reproduce movement.
type PlayerState struct {
	PeerID   string
	Position Vec3
	Velocity Vec3
	WeaponID string
}

// Shoot is a fired projectile.
type Shoot struct {
	PeerID    string
	Origin    Vec3
	Direction Vec3
	Velocity  Vec3
	WeaponID  string
}

// Unknown keeps the type tag of a message this build does not understand.
type Unknown struct {
	Kind string
}

func (Welcome) Type() string   { return TypeWelcome }
func (NewPlayer) Type() string { return TypeNewPlayer }
func (m PlayerList) Type() string {
	if m.Updated {
		return TypePlayerListUpdated
	}
	return TypePlayerList
}
func (PlayerLeft) Type() string  { return TypePlayerLeft }
func (PlayerState) Type() string { return TypePlayerState }
func (Shoot) Type() string       { return TypeShoot }
func (m Unknown) Type() string   { return m.Kind }

func (Welcome) isMessage()     {}
func (NewPlayer) isMessage()   {}
func (PlayerList) isMessage()  {}
func (PlayerLeft) isMessage()  {}
func (PlayerState) isMessage() {}
func (Shoot) isMessage()       {}
func (Unknown) isMessage()     {}

// IsGameplay reports whether m belongs to gameplay rather than the lobby.
func IsGameplay(m Message) bool {
	switch m.(type) {
	case PlayerState, Shoot:
		return true
	}
	return false
}

// withOrigin stamps the sender on gameplay messages.
func withOrigin(m Message, peerID string) Message {
	switch v := m.(type) {
	case PlayerState:
		v.PeerID = peerID
		return v
	case Shoot:
		v.PeerID = peerID
		return v
	}
	return m
}

// Origin returns the sender carried by a gameplay message.
func Origin(m Message) string {
	switch v := m.(type) {
	case PlayerState:
		return v.PeerID
	case Shoot:
		return v.PeerID
	}
	return ""
}
