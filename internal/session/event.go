package session

import (
	"time"

	"github.com/SIgmaboy6796/game2/internal/lobby"
)

type EventKind int

const (
	// EventIdentityReady: the transport assigned PeerID. Outbound connections
	// are allowed from here on.
	EventIdentityReady EventKind = iota + 1
	// EventPendingConnection: a joiner is waiting for accept or decline.
	EventPendingConnection
	// EventPendingCancelled: a waiting joiner went away before a decision.
	EventPendingCancelled
	// EventConnectionOpen: a direct link to PeerID is usable.
	EventConnectionOpen
	EventPlayerJoined
	EventRosterUpdated
	EventPlayerLeft
	// EventData: a gameplay message from PeerID.
	EventData
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventIdentityReady:
		return "identity-ready"
	case EventPendingConnection:
		return "pending-connection"
	case EventPendingCancelled:
		return "pending-cancelled"
	case EventConnectionOpen:
		return "connection-open"
	case EventPlayerJoined:
		return "player-joined"
	case EventRosterUpdated:
		return "roster-updated"
	case EventPlayerLeft:
		return "player-left"
	case EventData:
		return "data"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one session notification. Fields not relevant to Kind are zero.
type Event struct {
	Kind    EventKind
	PeerID  string
	Nametag string
	Players []lobby.Player
	Message lobby.Message
	Err     error
}

// Pending is an inbound connection awaiting a decision.
type Pending struct {
	PeerID  string
	Nametag string
	// Open reports whether the link finished negotiating.
	Open  bool
	Since time.Time
}
