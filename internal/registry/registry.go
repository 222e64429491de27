// Package registry tracks the direct peer connections a participant holds
// and runs the per-connection data, close and error hooks.
//
// A Registry is not safe for concurrent use. The session event loop owns it.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/SIgmaboy6796/game2/internal/transport"
)

// ErrUnknownChannel is returned when sending to a peer with no open connection.
var ErrUnknownChannel = errors.New("channel not registered")

// State is the lifecycle position of a connection. It only moves forward.
type State int

const (
	StatePending State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Connection is the local view of one direct link.
type Connection struct {
	PeerID   string
	Nametag  string
	Reliable bool
	State    State
	OpenedAt time.Time

	ch    transport.Channel
	hooks Hooks
	seq   int
}

// Channel returns the transport handle behind the connection.
func (c *Connection) Channel() transport.Channel {
	return c.ch
}

// TransportOpen reports whether the underlying transport channel is usable.
func (c *Connection) TransportOpen() bool {
	return c.ch != nil && c.ch.Open()
}

// advance moves the state forward and reports whether it changed.
func (c *Connection) advance(to State) bool {
	if to <= c.State {
		return false
	}
	c.State = to
	return true
}

// Hooks run on the registry owner's goroutine.
type Hooks struct {
	OnData  func(conn *Connection, data []byte)
	OnClose func(conn *Connection)
	OnError func(conn *Connection, err error)
}

// Registry is the set of connections a participant currently holds.
type Registry struct {
	byPeer map[string]*Connection
	seq    int

	// Now defaults to time.Now.
	Now func() time.Time
}

func New() *Registry {
	return &Registry{byPeer: make(map[string]*Connection), Now: time.Now}
}

// Register adds a Pending connection for ch. nametag is the display name
// carried by the link. A live connection for the same peer is replaced and
// its channel closed; events from the old handle are ignored from then on.
func (r *Registry) Register(ch transport.Channel, nametag string, hooks Hooks) *Connection {
	peerID := ch.PeerID()
	if existing, ok := r.byPeer[peerID]; ok {
		slog.Debug("replacing connection", "peer", peerID, "state", existing.State)
		existing.advance(StateClosed)
		existing.ch.Close()
	}

	r.seq++
	conn := &Connection{
		PeerID:   peerID,
		Nametag:  nametag,
		Reliable: ch.Reliable(),
		State:    StatePending,
		ch:       ch,
		hooks:    hooks,
		seq:      r.seq,
	}
	r.byPeer[peerID] = conn
	slog.Debug("connection registered", "peer", peerID, "nametag", nametag)
	return conn
}

// Open marks the connection behind ch as Open. It returns nil when ch is
// not the registered handle for its peer or the connection already moved on.
func (r *Registry) Open(ch transport.Channel) *Connection {
	conn := r.lookup(ch)
	if conn == nil || !conn.advance(StateOpen) {
		return nil
	}
	conn.OpenedAt = r.Now()
	slog.Debug("connection open", "peer", conn.PeerID)
	return conn
}

// Deliver runs the data hook for ch. Data on a connection that is not
// Open is dropped.
func (r *Registry) Deliver(ch transport.Channel, data []byte) bool {
	conn := r.lookup(ch)
	if conn == nil || conn.State != StateOpen {
		return false
	}
	if conn.hooks.OnData != nil {
		conn.hooks.OnData(conn, data)
	}
	return true
}

// Drop closes and removes the connection behind ch, running OnClose once.
// A stale handle from a replaced connection is ignored.
func (r *Registry) Drop(ch transport.Channel) *Connection {
	conn := r.lookup(ch)
	if conn == nil || !conn.advance(StateClosed) {
		return nil
	}
	delete(r.byPeer, conn.PeerID)
	slog.Debug("connection closed", "peer", conn.PeerID)

	if conn.hooks.OnClose != nil {
		conn.hooks.OnClose(conn)
	}
	return conn
}

// Fail runs the error hook for ch. The transport decides whether the
// error also closes the link; a following close event reaches Drop.
func (r *Registry) Fail(ch transport.Channel, err error) *Connection {
	conn := r.lookup(ch)
	if conn == nil {
		return nil
	}
	slog.Warn("connection error", "peer", conn.PeerID, "err", err)
	if conn.hooks.OnError != nil {
		conn.hooks.OnError(conn, err)
	}
	return conn
}

// Broadcast sends payload to every Open connection whose transport is
// usable, skipping exclude. Send failures go to the connection's error
// hook. It returns the number of connections written to.
func (r *Registry) Broadcast(payload []byte, exclude ...string) int {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	sent := 0
	for _, conn := range r.ordered() {
		if skip[conn.PeerID] || conn.State != StateOpen || !conn.TransportOpen() {
			continue
		}
		if err := conn.ch.Send(payload); err != nil {
			if conn.hooks.OnError != nil {
				conn.hooks.OnError(conn, err)
			}
			continue
		}
		sent++
	}
	return sent
}

// SendTo writes payload to one Open connection.
func (r *Registry) SendTo(peerID string, payload []byte) error {
	conn, ok := r.byPeer[peerID]
	if !ok || conn.State != StateOpen {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, peerID)
	}
	return conn.ch.Send(payload)
}

// ListOpen returns a snapshot of Open connections in registration order.
func (r *Registry) ListOpen() []Connection {
	var out []Connection
	for _, conn := range r.ordered() {
		if conn.State == StateOpen {
			out = append(out, *conn)
		}
	}
	return out
}

// List returns a snapshot of every tracked connection in registration order.
func (r *Registry) List() []Connection {
	conns := r.ordered()
	out := make([]Connection, len(conns))
	for i, conn := range conns {
		out[i] = *conn
	}
	return out
}

// Get returns a snapshot of the connection for peerID.
func (r *Registry) Get(peerID string) (Connection, bool) {
	conn, ok := r.byPeer[peerID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// Has reports whether ch is the registered handle for its peer.
func (r *Registry) Has(ch transport.Channel) bool {
	return r.lookup(ch) != nil
}

func (r *Registry) Len() int {
	return len(r.byPeer)
}

// CloseAll closes every transport channel. Drops follow from the
// resulting close events.
func (r *Registry) CloseAll() {
	for _, conn := range r.ordered() {
		conn.ch.Close()
	}
}

func (r *Registry) lookup(ch transport.Channel) *Connection {
	if ch == nil {
		return nil
	}
	conn, ok := r.byPeer[ch.PeerID()]
	if !ok || conn.ch != ch {
		return nil
	}
	return conn
}

func (r *Registry) ordered() []*Connection {
	out := make([]*Connection, 0, len(r.byPeer))
	for _, conn := range r.byPeer {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
