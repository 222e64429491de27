// Package transport is the low-level peer-to-peer layer under a session:
// one handle per process that comes online with an identity, opens
// channels to other peers and reports everything else as events.
package transport

import (
	"context"
	"errors"
)

var (
	ErrNotOpen           = errors.New("transport not open")
	ErrChannelNotOpen    = errors.New("channel not open")
	ErrPeerUnavailable   = errors.New("peer unavailable")
	ErrNegotiationFailed = errors.New("peer negotiation failed")
	ErrClosed            = errors.New("transport closed")
)

// Metadata travels with a connection request.
type Metadata struct {
	Nametag string `json:"nametag,omitempty"`
}

// Transport is a single peer-to-peer endpoint.
type Transport interface {
	// Open starts bringing the endpoint online. The identity is reported
	// by an EventIdentity once assigned.
	Open(ctx context.Context) error

	// Connect opens a channel to peerID. The channel is not usable until
	// an EventOpen for it arrives.
	Connect(peerID string, md Metadata) (Channel, error)

	// Events delivers every notification in order. It is closed by Close.
	Events() <-chan Event

	Close() error
}

// Channel is one direct link to a remote peer.
type Channel interface {
	PeerID() string
	Metadata() Metadata
	Reliable() bool
	Open() bool
	Send(data []byte) error
	Close() error
}

type EventKind int

const (
	EventIdentity EventKind = iota + 1
	EventIncoming
	EventOpen
	EventData
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventIdentity:
		return "identity"
	case EventIncoming:
		return "incoming"
	case EventOpen:
		return "open"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a transport notification. PeerID is the local identity for
// EventIdentity and the remote peer otherwise. Channel is nil for
// EventIdentity and for errors not tied to a channel.
type Event struct {
	Kind    EventKind
	PeerID  string
	Channel Channel
	Data    []byte
	Err     error
}
