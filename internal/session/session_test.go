package session

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/SIgmaboy6796/game2/internal/lobby"
	"github.com/SIgmaboy6796/game2/internal/registry"
	"github.com/SIgmaboy6796/game2/internal/transport"
)

const waitTimeout = 2 * time.Second

func start(t *testing.T, network *transport.Network, opts Options) (*Session, context.CancelFunc) {
	t.Helper()
	s := New(network.Transport(), opts)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return s, cancel
}

func online(t *testing.T, network *transport.Network, nametag string, opts Options) *Session {
	t.Helper()
	s, _ := start(t, network, opts)
	if err := s.Initialize(context.Background(), nametag); err != nil {
		t.Fatalf("initialize %s: %v", nametag, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if _, err := s.WaitIdentity(ctx); err != nil {
		t.Fatalf("identity for %s: %v", nametag, err)
	}
	return s
}

func hosting(t *testing.T, network *transport.Network, nametag string, policy Policy) *Session {
	t.Helper()
	s, _ := start(t, network, Options{Policy: policy})
	if err := s.SetHost(); err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(context.Background(), nametag); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, EventIdentityReady)
	return s
}

// waitFor skips events until one of kind arrives.
func waitFor(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("events closed waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// collect gathers every event that arrives within d.
func collect(s *Session, d time.Duration) []Event {
	var out []Event
	timeout := time.After(d)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			return out
		}
	}
}

func count(events []Event, kind EventKind, peerID string) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind && ev.PeerID == peerID {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func names(players []lobby.Player) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.Nametag
	}
	return out
}

func rosterIs(s *Session, want ...string) func() bool {
	return func() bool { return slices.Equal(names(s.Roster()), want) }
}

func TestInitializeAssignsIdentity(t *testing.T) {
	network := transport.NewNetwork()
	s, _ := start(t, network, Options{})

	if err := s.Initialize(context.Background(), "Alice"); err != nil {
		t.Fatal(err)
	}
	ev := waitFor(t, s, EventIdentityReady)
	if ev.PeerID == "" || ev.Nametag != "Alice" {
		t.Fatalf("identity event %+v", ev)
	}
	if s.ID() != ev.PeerID {
		t.Fatalf("ID() = %q, event said %q", s.ID(), ev.PeerID)
	}
	if got := names(s.Roster()); !slices.Equal(got, []string{"Alice"}) {
		t.Fatalf("roster = %v", got)
	}

	if err := s.Initialize(context.Background(), "Alice"); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second initialize: %v", err)
	}
}

func TestDefaultNametag(t *testing.T) {
	s := online(t, transport.NewNetwork(), "", Options{})
	if s.Nametag() != "Guest" {
		t.Fatalf("nametag = %q", s.Nametag())
	}
}

func TestConnectBeforeIdentity(t *testing.T) {
	s, _ := start(t, transport.NewNetwork(), Options{})
	if _, err := s.ConnectToHost("peer-1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if _, err := s.Send(lobby.Shoot{}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("send before identity: %v", err)
	}
}

func TestApprovalJoin(t *testing.T) {
	network := transport.NewNetwork()
	alice := hosting(t, network, "Alice", PolicyApproval)
	bob := online(t, network, "Bob", Options{})

	conn, err := bob.ConnectToHost(alice.ID())
	if err != nil {
		t.Fatal(err)
	}
	if conn.State != registry.StatePending || conn.PeerID != alice.ID() {
		t.Fatalf("outbound connection %+v", conn)
	}

	req := waitFor(t, alice, EventPendingConnection)
	if req.PeerID != bob.ID() || req.Nametag != "Bob" {
		t.Fatalf("pending event %+v", req)
	}
	if p := alice.Pending(); len(p) != 1 || p[0].PeerID != bob.ID() {
		t.Fatalf("Pending() = %+v", p)
	}
	if len(alice.Roster()) != 1 {
		t.Fatal("joiner added before approval")
	}

	if err := alice.AcceptConnection(bob.ID()); err != nil {
		t.Fatal(err)
	}
	joined := waitFor(t, alice, EventPlayerJoined)
	if joined.PeerID != bob.ID() || joined.Nametag != "Bob" {
		t.Fatalf("joined event %+v", joined)
	}
	update := waitFor(t, alice, EventRosterUpdated)
	if got := names(update.Players); !slices.Equal(got, []string{"Alice", "Bob"}) {
		t.Fatalf("host roster = %v", got)
	}

	eventually(t, "joiner roster", rosterIs(bob, "Alice", "Bob"))
	if conns := bob.Connections(); len(conns) != 1 || conns[0].PeerID != alice.ID() || conns[0].Nametag != "Alice" {
		t.Fatalf("joiner's host link %+v", conns)
	}
	if len(alice.Pending()) != 0 {
		t.Fatal("accepted connection still pending")
	}
	if err := alice.AcceptConnection(bob.ID()); !errors.Is(err, ErrNoPendingConnection) {
		t.Fatalf("second accept: %v", err)
	}
}

func TestOpenPolicyAnnouncesOnce(t *testing.T) {
	network := transport.NewNetwork()
	alice := hosting(t, network, "Alice", PolicyOpen)
	bob := online(t, network, "Bob", Options{})
	carol := online(t, network, "Carol", Options{})

	if _, err := bob.ConnectToHost(alice.ID()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "bob admitted", rosterIs(bob, "Alice", "Bob"))

	if _, err := carol.ConnectToHost(alice.ID()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "carol roster", rosterIs(carol, "Alice", "Bob", "Carol"))
	eventually(t, "bob roster", rosterIs(bob, "Alice", "Bob", "Carol"))
	eventually(t, "host roster", rosterIs(alice, "Alice", "Bob", "Carol"))

	events := collect(bob, 100*time.Millisecond)
	if n := count(events, EventPlayerJoined, carol.ID()); n != 1 {
		t.Fatalf("bob saw carol join %d times", n)
	}
}

func TestDepartureAnnouncedOncePerPeer(t *testing.T) {
	network := transport.NewNetwork()
	alice := hosting(t, network, "Alice", PolicyOpen)
	bob := online(t, network, "Bob", Options{})
	carol, stopCarol := start(t, network, Options{})
	carol.Initialize(context.Background(), "Carol")
	carolID := waitFor(t, carol, EventIdentityReady).PeerID

	bob.ConnectToHost(alice.ID())
	eventually(t, "bob admitted", rosterIs(bob, "Alice", "Bob"))
	carol.ConnectToHost(alice.ID())
	eventually(t, "carol admitted", rosterIs(bob, "Alice", "Bob", "Carol"))
	collect(bob, 50*time.Millisecond)

	stopCarol()
	eventually(t, "carol gone", rosterIs(bob, "Alice", "Bob"))

	events := collect(bob, 100*time.Millisecond)
	if n := count(events, EventPlayerLeft, carolID); n != 1 {
		t.Fatalf("bob saw carol leave %d times", n)
	}
	eventually(t, "host roster", rosterIs(alice, "Alice", "Bob"))
}

func TestDeclineClosesLink(t *testing.T) {
	network := transport.NewNetwork()
	alice := hosting(t, network, "Alice", PolicyApproval)
	bob := online(t, network, "Bob", Options{})

	bob.ConnectToHost(alice.ID())
	waitFor(t, alice, EventPendingConnection)

	if err := alice.DeclineConnection(bob.ID()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "joiner link closed", func() bool { return len(bob.Connections()) == 0 })
	if len(alice.Connections()) != 0 || len(alice.Roster()) != 1 {
		t.Fatal("declined joiner reached the host registry")
	}
	if err := alice.DeclineConnection(bob.ID()); !errors.Is(err, ErrNoPendingConnection) {
		t.Fatalf("second decline: %v", err)
	}
}

func TestPendingCancelled(t *testing.T) {
	network := transport.NewNetwork()
	alice := hosting(t, network, "Alice", PolicyApproval)
	bob, stopBob := start(t, network, Options{})
	bob.Initialize(context.Background(), "Bob")
	waitFor(t, bob, EventIdentityReady)

	bob.ConnectToHost(alice.ID())
	req := waitFor(t, alice, EventPendingConnection)
	stopBob()

	ev := waitFor(t, alice, EventPendingCancelled)
	if ev.PeerID != req.PeerID {
		t.Fatalf("cancelled %q, pending was %q", ev.PeerID, req.PeerID)
	}
	if len(alice.Pending()) != 0 {
		t.Fatal("cancelled connection still pending")
	}
}

func TestNonHostClosesInbound(t *testing.T) {
	network := transport.NewNetwork()
	a := online(t, network, "A", Options{})
	b := online(t, network, "B", Options{})

	if _, err := b.ConnectToHost(a.ID()); err != nil {
		t.Fatal(err)
	}
	eventually(t, "inbound link closed", func() bool { return len(b.Connections()) == 0 })
	if len(a.Connections()) != 0 || len(a.Pending()) != 0 {
		t.Fatal("non-host kept an inbound connection")
	}
}

func TestConnectUnknownHost(t *testing.T) {
	bob := online(t, transport.NewNetwork(), "Bob", Options{})

	if _, err := bob.ConnectToHost("peer-404"); err != nil {
		t.Fatal(err)
	}
	ev := waitFor(t, bob, EventError)
	if !errors.Is(ev.Err, transport.ErrPeerUnavailable) || ev.PeerID != "peer-404" {
		t.Fatalf("error event %+v", ev)
	}
	eventually(t, "failed link dropped", func() bool { return len(bob.Connections()) == 0 })

	// still usable
	if bob.ID() == "" {
		t.Fatal("session lost its identity")
	}
}

func TestGameplayRelayedByHost(t *testing.T) {
	network := transport.NewNetwork()
	alice := hosting(t, network, "Alice", PolicyOpen)
	bob := online(t, network, "Bob", Options{})
	carol := online(t, network, "Carol", Options{})

	bob.ConnectToHost(alice.ID())
	carol.ConnectToHost(alice.ID())
	eventually(t, "lobby formed", rosterIs(alice, "Alice", "Bob", "Carol"))
	eventually(t, "bob sees carol", rosterIs(bob, "Alice", "Bob", "Carol"))

	if _, err := bob.Send(lobby.Shoot{Origin: lobby.Vec3{X: 1}, Direction: lobby.Vec3{Z: 1}, WeaponID: "rifle"}); err != nil {
		t.Fatal(err)
	}

	got := waitFor(t, carol, EventData)
	shot, ok := got.Message.(lobby.Shoot)
	if !ok || got.PeerID != bob.ID() || shot.PeerID != bob.ID() || shot.WeaponID != "rifle" {
		t.Fatalf("carol received %+v", got)
	}
	if ev := waitFor(t, alice, EventData); ev.PeerID != bob.ID() {
		t.Fatalf("host saw gameplay from %q", ev.PeerID)
	}
}

func TestHostOnlyOperations(t *testing.T) {
	network := transport.NewNetwork()
	bob := online(t, network, "Bob", Options{})
	if err := bob.AcceptConnection("peer-9"); !errors.Is(err, ErrNotHost) {
		t.Fatalf("accept on non-host: %v", err)
	}

	alice := hosting(t, network, "Alice", PolicyOpen)
	if _, err := alice.ConnectToHost(bob.ID()); !errors.Is(err, ErrHosting) {
		t.Fatalf("host joining another host: %v", err)
	}
}

func TestClosedSession(t *testing.T) {
	s, stop := start(t, transport.NewNetwork(), Options{})
	stop()
	<-s.Done()

	if err := s.Initialize(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("initialize after close: %v", err)
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("events channel still open")
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewPeerError("connect", "peer-2", transport.ErrPeerUnavailable)
	if err.Error() != "connect peer-2: peer unavailable" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, transport.ErrPeerUnavailable) {
		t.Fatal("Unwrap lost the cause")
	}
	if got := WrapError("initialize", ErrClosed, "broker").Error(); got != "initialize: session closed (broker)" {
		t.Fatalf("wrapped = %q", got)
	}
}
