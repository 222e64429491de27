// Package session owns the local participant's transport handle and runs
// every reaction to it on one event loop: identity assignment, inbound and
// outbound connections, the host's join approval and the lobby protocol.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/SIgmaboy6796/game2/internal/config"
	"github.com/SIgmaboy6796/game2/internal/lobby"
	"github.com/SIgmaboy6796/game2/internal/registry"
	"github.com/SIgmaboy6796/game2/internal/transport"
)

// Policy decides what happens to inbound connections on the host.
type Policy int

const (
	// PolicyApproval holds joiners as pending until accepted or declined.
	PolicyApproval Policy = iota
	// PolicyOpen accepts every joiner.
	PolicyOpen
)

const defaultEventBuffer = 64

type Options struct {
	Policy Policy

	// Codec defaults to the msgpack codec.
	Codec lobby.Codec

	// EventBuffer is the capacity of the Events channel.
	EventBuffer int

	// Now defaults to time.Now.
	Now func() time.Time
}

type pending struct {
	ch      transport.Channel
	nametag string
	open    bool
	since   time.Time
	seq     int
}

// Session is one participant. All state below cmds is owned by Run.
type Session struct {
	tr     transport.Transport
	opts   Options
	events chan Event
	cmds   chan func()
	done   chan struct{}

	reg     *registry.Registry
	proto   *lobby.Protocol
	hooks   registry.Hooks
	outbox  []Event
	started bool
	id      string
	nametag string
	host    bool
	hostID  string
	// hostErr is set once an error for the host link has been surfaced.
	hostErr bool
	pending map[string]*pending
	seq     int
	waiters []chan error
}

func New(tr transport.Transport, opts Options) *Session {
	if opts.Codec == nil {
		opts.Codec = lobby.BinaryCodec{}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		tr:      tr,
		opts:    opts,
		events:  make(chan Event, opts.EventBuffer),
		cmds:    make(chan func()),
		done:    make(chan struct{}),
		reg:     registry.New(),
		pending: make(map[string]*pending),
	}
	s.reg.Now = opts.Now
	s.proto = lobby.NewProtocol(opts.Codec, s.reg)
	s.hooks = registry.Hooks{
		OnData:  s.onData,
		OnClose: s.onClose,
		OnError: s.onError,
	}
	return s
}

// Events delivers notifications in the order they happened. It is closed
// when Run returns.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run processes commands and transport events until ctx is cancelled or
// the transport shuts down. The transport is closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	incoming := s.tr.Events()
	for {
		var out chan Event
		var next Event
		if len(s.outbox) > 0 {
			out = s.events
			next = s.outbox[0]
		}

		select {
		case out <- next:
			s.outbox[0] = Event{}
			s.outbox = s.outbox[1:]

		case fn := <-s.cmds:
			fn()

		case ev, ok := <-incoming:
			if !ok {
				slog.Debug("transport events closed")
				return nil
			}
			s.handleTransport(ev)

		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) shutdown() {
	for _, p := range s.pending {
		p.ch.Close()
	}
	s.reg.CloseAll()
	if err := s.tr.Close(); err != nil {
		slog.Debug("close transport", "err", err)
	}
	for _, w := range s.waiters {
		w <- ErrClosed
	}
	s.waiters = nil
	close(s.done)
	close(s.events)
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
	case <-s.done:
		return ErrClosed
	}
	<-ran
	return nil
}

// post runs fn on the loop without waiting.
func (s *Session) post(fn func()) {
	go func() {
		select {
		case s.cmds <- fn:
		case <-s.done:
		}
	}()
}

func (s *Session) emit(ev Event) {
	s.outbox = append(s.outbox, ev)
}

func (s *Session) emitError(err error) {
	s.emit(Event{Kind: EventError, PeerID: peerOf(err), Err: err})
}

func peerOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.PeerID
	}
	return ""
}

// Initialize brings the transport online under nametag and returns
// without waiting for the identity; EventIdentityReady follows.
func (s *Session) Initialize(ctx context.Context, nametag string) error {
	var result error
	err := s.do(func() {
		if s.started {
			result = ErrAlreadyInitialized
			return
		}
		if nametag == "" {
			nametag = config.DefaultNametag
		}
		s.started = true
		s.nametag = nametag

		go func() {
			if err := s.tr.Open(ctx); err != nil {
				s.post(func() { s.openFailed(err) })
			}
		}()
	})
	if err != nil {
		return err
	}
	return result
}

func (s *Session) openFailed(err error) {
	s.started = false
	err = NewError("initialize", err)
	slog.Error("transport failed to open", "err", err)
	for _, w := range s.waiters {
		w <- err
	}
	s.waiters = nil
	s.emitError(err)
}

// WaitIdentity blocks until the identity is assigned.
func (s *Session) WaitIdentity(ctx context.Context) (string, error) {
	w := make(chan error, 1)
	var id string
	err := s.do(func() {
		if s.id != "" {
			id = s.id
			w <- nil
			return
		}
		s.waiters = append(s.waiters, w)
	})
	if err != nil {
		return "", err
	}

	select {
	case err := <-w:
		if err != nil {
			return "", err
		}
		if id == "" {
			id = s.ID()
		}
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SetHost makes this participant the host of its room.
func (s *Session) SetHost() error {
	var result error
	err := s.do(func() {
		if s.hostID != "" {
			result = NewPeerError("host", s.hostID, errors.New("already joined a host"))
			return
		}
		s.host = true
		s.proto.SetHost(true)
	})
	if err != nil {
		return err
	}
	return result
}

// ConnectToHost opens a link to hostPeerID carrying the local nametag.
// The returned connection is Pending; EventConnectionOpen follows.
func (s *Session) ConnectToHost(hostPeerID string) (registry.Connection, error) {
	var conn registry.Connection
	var result error
	err := s.do(func() {
		if s.id == "" {
			result = ErrNotReady
			return
		}
		if s.host {
			result = ErrHosting
			return
		}
		ch, err := s.tr.Connect(hostPeerID, transport.Metadata{Nametag: s.nametag})
		if err != nil {
			result = NewPeerError("connect", hostPeerID, err)
			return
		}
		s.hostID = hostPeerID
		s.hostErr = false
		conn = *s.reg.Register(ch, "", s.hooks)
		slog.Info("connecting to host", "peer", hostPeerID)
	})
	if err != nil {
		return registry.Connection{}, err
	}
	return conn, result
}

// AcceptConnection admits a pending joiner.
func (s *Session) AcceptConnection(peerID string) error {
	return s.resolve(peerID, true)
}

// DeclineConnection closes a pending joiner's link.
func (s *Session) DeclineConnection(peerID string) error {
	return s.resolve(peerID, false)
}

func (s *Session) resolve(peerID string, accept bool) error {
	var result error
	err := s.do(func() {
		if !s.host {
			result = ErrNotHost
			return
		}
		p, ok := s.pending[peerID]
		if !ok {
			result = NewPeerError("resolve", peerID, ErrNoPendingConnection)
			return
		}
		delete(s.pending, peerID)

		if !accept {
			slog.Info("connection declined", "peer", peerID)
			p.ch.Close()
			return
		}
		s.admit(p.ch, p.nametag, p.open)
	})
	if err != nil {
		return err
	}
	return result
}

// admit moves ch into the registry and, if it is already usable, runs
// the join.
func (s *Session) admit(ch transport.Channel, nametag string, open bool) {
	s.reg.Register(ch, nametag, s.hooks)
	if open || ch.Open() {
		if conn := s.reg.Open(ch); conn != nil {
			s.connectionOpen(conn)
		}
	}
}

// Send broadcasts a gameplay message. It returns the number of links
// written to.
func (s *Session) Send(msg lobby.Message) (int, error) {
	var n int
	var result error
	err := s.do(func() {
		if s.id == "" {
			result = ErrNotReady
			return
		}
		n, result = s.proto.Send(msg)
	})
	if err != nil {
		return 0, err
	}
	return n, result
}

// Connections returns every tracked link in registration order.
func (s *Session) Connections() []registry.Connection {
	var out []registry.Connection
	s.do(func() { out = s.reg.List() })
	return out
}

// Pending returns inbound links awaiting a decision, oldest first.
func (s *Session) Pending() []Pending {
	var out []Pending
	s.do(func() {
		ps := make([]*pending, 0, len(s.pending))
		for _, p := range s.pending {
			ps = append(ps, p)
		}
		sort.Slice(ps, func(i, j int) bool { return ps[i].seq < ps[j].seq })
		for _, p := range ps {
			out = append(out, Pending{PeerID: p.ch.PeerID(), Nametag: p.nametag, Open: p.open, Since: p.since})
		}
	})
	return out
}

func (s *Session) Roster() []lobby.Player {
	var out []lobby.Player
	s.do(func() { out = s.proto.Roster() })
	return out
}

func (s *Session) ID() string {
	var id string
	s.do(func() { id = s.id })
	return id
}

func (s *Session) Nametag() string {
	var name string
	s.do(func() { name = s.nametag })
	return name
}

func (s *Session) IsHost() bool {
	var host bool
	s.do(func() { host = s.host })
	return host
}

func (s *Session) handleTransport(ev transport.Event) {
	switch ev.Kind {
	case transport.EventIdentity:
		s.identity(ev.PeerID)

	case transport.EventIncoming:
		s.incoming(ev.Channel)

	case transport.EventOpen:
		if p, ok := s.pending[ev.PeerID]; ok && p.ch == ev.Channel {
			p.open = true
			return
		}
		if conn := s.reg.Open(ev.Channel); conn != nil {
			s.connectionOpen(conn)
		}

	case transport.EventData:
		if !s.reg.Deliver(ev.Channel, ev.Data) {
			slog.Debug("dropping data on unknown or unopened link", "peer", ev.PeerID)
		}

	case transport.EventClose:
		if p, ok := s.pending[ev.PeerID]; ok && p.ch == ev.Channel {
			delete(s.pending, ev.PeerID)
			slog.Info("pending connection went away", "peer", ev.PeerID)
			s.emit(Event{Kind: EventPendingCancelled, PeerID: ev.PeerID, Nametag: p.nametag})
			return
		}
		s.reg.Drop(ev.Channel)

	case transport.EventError:
		s.transportError(ev)
	}
}

func (s *Session) identity(id string) {
	if s.id != "" {
		return
	}
	s.id = id
	s.proto.SetSelf(lobby.Player{PeerID: id, Nametag: s.nametag})
	slog.Info("identity assigned", "peer", id, "nametag", s.nametag)

	for _, w := range s.waiters {
		w <- nil
	}
	s.waiters = nil
	s.emit(Event{Kind: EventIdentityReady, PeerID: id, Nametag: s.nametag})
}

func (s *Session) incoming(ch transport.Channel) {
	peerID := ch.PeerID()
	if !s.host {
		slog.Warn("closing inbound connection", "peer", peerID, "err", ErrUnexpectedConnection)
		ch.Close()
		return
	}

	nametag := ch.Metadata().Nametag
	if nametag == "" {
		nametag = config.DefaultNametag
	}

	if s.opts.Policy == PolicyOpen {
		s.admit(ch, nametag, false)
		return
	}

	if old, ok := s.pending[peerID]; ok {
		old.ch.Close()
	}
	s.seq++
	s.pending[peerID] = &pending{ch: ch, nametag: nametag, since: s.opts.Now(), open: ch.Open(), seq: s.seq}
	slog.Info("connection awaiting approval", "peer", peerID, "nametag", nametag)
	s.emit(Event{Kind: EventPendingConnection, PeerID: peerID, Nametag: nametag})
}

func (s *Session) connectionOpen(conn *registry.Connection) {
	s.emit(Event{Kind: EventConnectionOpen, PeerID: conn.PeerID, Nametag: conn.Nametag})
	if !s.host {
		return
	}

	joiner := lobby.Player{PeerID: conn.PeerID, Nametag: conn.Nametag}
	players, err := s.proto.Admit(joiner)
	if err != nil {
		s.emitError(NewPeerError("welcome", conn.PeerID, err))
	}
	s.emit(Event{Kind: EventPlayerJoined, PeerID: joiner.PeerID, Nametag: joiner.Nametag})
	s.emit(Event{Kind: EventRosterUpdated, Players: players})
}

func (s *Session) transportError(ev transport.Event) {
	err := NewPeerError("connection", ev.PeerID, ev.Err)
	if ev.PeerID == "" {
		err = NewError("transport", ev.Err)
	}

	if p, ok := s.pending[ev.PeerID]; ok && ev.Channel != nil && p.ch == ev.Channel {
		s.emitError(err)
		return
	}

	conn := s.reg.Fail(ev.Channel, ev.Err)
	if conn == nil {
		s.emitError(err)
		return
	}
	// A link that never opened will not see a close event.
	if conn.State == registry.StatePending && errors.Is(ev.Err, transport.ErrPeerUnavailable) {
		ev.Channel.Close()
		s.reg.Drop(ev.Channel)
	}
}

func (s *Session) onData(conn *registry.Connection, data []byte) {
	res, err := s.proto.Handle(conn.PeerID, data)
	if err != nil {
		slog.Warn("dropping malformed message", "peer", conn.PeerID, "err", err)
		return
	}

	if res.Joined != nil {
		s.emit(Event{Kind: EventPlayerJoined, PeerID: res.Joined.PeerID, Nametag: res.Joined.Nametag})
	}
	if res.Left != "" {
		s.emit(Event{Kind: EventPlayerLeft, PeerID: res.Left})
	}
	if res.RosterChanged {
		roster := s.proto.Roster()
		if conn.Nametag == "" && conn.PeerID == s.hostID {
			s.learnHostNametag(conn, roster)
		}
		s.emit(Event{Kind: EventRosterUpdated, Players: roster})
	}
	if lobby.IsGameplay(res.Message) {
		s.emit(Event{Kind: EventData, PeerID: lobby.Origin(res.Message), Message: res.Message})
	}
}

// learnHostNametag fills in the host link's name, which the client does not
// know until the host lists itself.
func (s *Session) learnHostNametag(conn *registry.Connection, roster []lobby.Player) {
	for _, p := range roster {
		if p.PeerID == conn.PeerID {
			conn.Nametag = p.Nametag
			return
		}
	}
}

func (s *Session) onClose(conn *registry.Connection) {
	if s.host {
		if s.proto.Depart(conn.PeerID) {
			s.emit(Event{Kind: EventPlayerLeft, PeerID: conn.PeerID, Nametag: conn.Nametag})
			s.emit(Event{Kind: EventRosterUpdated, Players: s.proto.Roster()})
		}
		return
	}

	if conn.PeerID != s.hostID {
		return
	}
	s.hostID = ""
	if conn.OpenedAt.IsZero() {
		slog.Info("host link closed before opening", "peer", conn.PeerID)
		if !s.hostErr {
			s.emitError(NewPeerError("connect", conn.PeerID, ErrHostClosed))
		}
		return
	}
	slog.Info("host connection closed", "peer", conn.PeerID)
	s.proto.Reset()
	s.emit(Event{Kind: EventPlayerLeft, PeerID: conn.PeerID, Nametag: conn.Nametag})
	s.emit(Event{Kind: EventRosterUpdated, Players: s.proto.Roster()})
}

func (s *Session) onError(conn *registry.Connection, err error) {
	if !s.host && conn.PeerID == s.hostID && conn.OpenedAt.IsZero() {
		s.hostErr = true
	}
	s.emitError(NewPeerError("connection", conn.PeerID, err))
}
