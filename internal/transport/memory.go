package transport

import (
	"context"
	"fmt"
	"sync"
)

// Network connects Memory transports inside one process. It backs tests
// and local loopback play.
type Network struct {
	mu    sync.Mutex
	peers map[string]*Memory
	next  int
}

func NewNetwork() *Network {
	return &Network{peers: make(map[string]*Memory)}
}

// Transport returns a new endpoint on the network. It has no identity
// until Open.
func (n *Network) Transport() *Memory {
	return &Memory{network: n, events: newEventQueue()}
}

func (n *Network) register(m *Memory) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	id := fmt.Sprintf("peer-%d", n.next)
	n.peers[id] = m
	return id
}

func (n *Network) lookup(id string) *Memory {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

func (n *Network) remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

// Memory is an in-process Transport. Channels are always reliable and
// ordered; both ends see EventOpen as soon as the link is made.
type Memory struct {
	network *Network
	events  *eventQueue

	mu       sync.Mutex
	id       string
	closed   bool
	channels map[*memChannel]bool
}

var _ Transport = (*Memory)(nil)

func (m *Memory) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.id != "" {
		return nil
	}
	m.id = m.network.register(m)
	m.channels = make(map[*memChannel]bool)
	m.events.push(Event{Kind: EventIdentity, PeerID: m.id})
	return nil
}

// ID returns the assigned identity, empty before Open.
func (m *Memory) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

func (m *Memory) Connect(peerID string, md Metadata) (Channel, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.id == "" {
		m.mu.Unlock()
		return nil, ErrNotOpen
	}
	localID := m.id
	m.mu.Unlock()

	local := &memChannel{owner: m, peerID: peerID, md: md}

	remote := m.network.lookup(peerID)
	if remote == nil || remote == m || !remote.attach(nil) {
		m.events.push(Event{Kind: EventError, PeerID: peerID, Channel: local, Err: ErrPeerUnavailable})
		return local, nil
	}

	far := &memChannel{owner: remote, peerID: localID, md: md}
	link := &memLink{}
	local.link, far.link = link, link
	local.other, far.other = far, local

	m.attach(local)
	remote.attach(far)

	remote.events.push(Event{Kind: EventIncoming, PeerID: localID, Channel: far})
	link.open()
	m.events.push(Event{Kind: EventOpen, PeerID: peerID, Channel: local})
	remote.events.push(Event{Kind: EventOpen, PeerID: localID, Channel: far})

	return local, nil
}

// attach tracks ch on m. A nil ch only reports whether m is accepting.
func (m *Memory) attach(ch *memChannel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.id == "" {
		return false
	}
	if ch != nil {
		m.channels[ch] = true
	}
	return true
}

func (m *Memory) detach(ch *memChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, ch)
}

func (m *Memory) Events() <-chan Event {
	return m.events.out
}

// Fail reports err on every channel to peerID and closes them, the way a
// failed ICE negotiation surfaces.
func (m *Memory) Fail(peerID string, err error) {
	for _, ch := range m.channelsTo(peerID) {
		m.events.push(Event{Kind: EventError, PeerID: peerID, Channel: ch, Err: err})
		ch.Close()
	}
}

func (m *Memory) channelsTo(peerID string) []*memChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*memChannel
	for ch := range m.channels {
		if ch.peerID == peerID {
			out = append(out, ch)
		}
	}
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	channels := make([]*memChannel, 0, len(m.channels))
	for ch := range m.channels {
		channels = append(channels, ch)
	}
	id := m.id
	m.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	if id != "" {
		m.network.remove(id)
	}
	m.events.close()
	return nil
}

// memLink is the state shared by both ends of a channel.
type memLink struct {
	mu    sync.Mutex
	state int
}

const (
	linkPending = iota
	linkOpen
	linkClosed
)

func (l *memLink) open() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == linkPending {
		l.state = linkOpen
	}
}

func (l *memLink) isOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == linkOpen
}

// shut reports whether this call closed the link.
func (l *memLink) shut() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == linkClosed {
		return false
	}
	l.state = linkClosed
	return true
}

type memChannel struct {
	owner  *Memory
	peerID string
	md     Metadata
	link   *memLink
	other  *memChannel
}

func (c *memChannel) PeerID() string     { return c.peerID }
func (c *memChannel) Metadata() Metadata { return c.md }
func (c *memChannel) Reliable() bool     { return true }

func (c *memChannel) Open() bool {
	return c.link != nil && c.link.isOpen()
}

func (c *memChannel) Send(data []byte) error {
	if !c.Open() {
		return ErrChannelNotOpen
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.other.owner.events.push(Event{Kind: EventData, PeerID: c.other.peerID, Channel: c.other, Data: buf})
	return nil
}

func (c *memChannel) Close() error {
	if c.link == nil {
		return nil
	}
	if !c.link.shut() {
		return nil
	}
	for _, end := range []*memChannel{c, c.other} {
		end.owner.detach(end)
		end.owner.events.push(Event{Kind: EventClose, PeerID: end.peerID, Channel: end})
	}
	return nil
}
