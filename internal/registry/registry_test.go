package registry

import (
	"errors"
	"testing"

	"github.com/SIgmaboy6796/game2/internal/transport"
)

type fakeChannel struct {
	peer    string
	open    bool
	sendErr error
	sent    [][]byte
	closed  int
}

func (f *fakeChannel) PeerID() string               { return f.peer }
func (f *fakeChannel) Metadata() transport.Metadata { return transport.Metadata{} }
func (f *fakeChannel) Reliable() bool               { return true }
func (f *fakeChannel) Open() bool                   { return f.open }
func (f *fakeChannel) Close() error                 { f.closed++; f.open = false; return nil }

func (f *fakeChannel) Send(data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func openConn(t *testing.T, r *Registry, peer string, hooks Hooks) *fakeChannel {
	t.Helper()
	ch := &fakeChannel{peer: peer, open: true}
	r.Register(ch, peer+"-name", hooks)
	if r.Open(ch) == nil {
		t.Fatalf("open %s failed", peer)
	}
	return ch
}

func TestStateOnlyMovesForward(t *testing.T) {
	r := New()
	ch := &fakeChannel{peer: "a"}
	conn := r.Register(ch, "Alice", Hooks{})
	if conn.State != StatePending {
		t.Fatalf("new connection state %s", conn.State)
	}

	if r.Open(ch) == nil || conn.State != StateOpen {
		t.Fatal("pending -> open failed")
	}
	if r.Open(ch) != nil {
		t.Fatal("open twice succeeded")
	}

	if r.Drop(ch) == nil || conn.State != StateClosed {
		t.Fatal("open -> closed failed")
	}
	if conn.advance(StateOpen) || conn.advance(StatePending) {
		t.Fatal("closed connection regressed")
	}
	if r.Open(ch) != nil {
		t.Fatal("closed connection reopened")
	}
}

func TestDropRunsOnCloseOnce(t *testing.T) {
	r := New()
	var closed []string
	ch := openConn(t, r, "a", Hooks{OnClose: func(c *Connection) { closed = append(closed, c.PeerID) }})

	r.Drop(ch)
	r.Drop(ch)

	if len(closed) != 1 || closed[0] != "a" {
		t.Fatalf("OnClose calls = %v", closed)
	}
	if r.Len() != 0 {
		t.Fatal("connection still registered")
	}
}

func TestPendingCloseRunsOnClose(t *testing.T) {
	r := New()
	calls := 0
	ch := &fakeChannel{peer: "a"}
	r.Register(ch, "", Hooks{OnClose: func(*Connection) { calls++ }})

	if r.Drop(ch) == nil || calls != 1 {
		t.Fatalf("pending drop: calls=%d", calls)
	}
}

func TestStaleHandleIgnored(t *testing.T) {
	r := New()
	closes := 0
	hooks := Hooks{OnClose: func(*Connection) { closes++ }}

	old := openConn(t, r, "a", hooks)
	fresh := openConn(t, r, "a", hooks)

	if old.closed != 1 {
		t.Fatalf("replaced channel closed %d times", old.closed)
	}
	if r.Drop(old) != nil || r.Deliver(old, []byte("x")) || r.Fail(old, errors.New("boom")) != nil {
		t.Fatal("stale handle affected the registry")
	}
	if closes != 0 {
		t.Fatal("stale close ran OnClose")
	}

	conn, ok := r.Get("a")
	if !ok || conn.State != StateOpen || conn.Channel() != fresh {
		t.Fatalf("fresh connection lost: %+v %v", conn, ok)
	}
}

func TestDeliverOnlyWhenOpen(t *testing.T) {
	r := New()
	var got []string
	ch := &fakeChannel{peer: "a", open: true}
	r.Register(ch, "", Hooks{OnData: func(_ *Connection, data []byte) { got = append(got, string(data)) }})

	if r.Deliver(ch, []byte("early")) {
		t.Fatal("data delivered while pending")
	}
	r.Open(ch)
	r.Deliver(ch, []byte("hello"))

	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("delivered %v", got)
	}
}

func TestBroadcast(t *testing.T) {
	r := New()
	var failures []string
	hooks := Hooks{OnError: func(c *Connection, err error) { failures = append(failures, c.PeerID) }}

	a := openConn(t, r, "a", hooks)
	b := openConn(t, r, "b", hooks)
	c := openConn(t, r, "c", hooks)
	notReady := openConn(t, r, "d", hooks)
	notReady.open = false
	pending := &fakeChannel{peer: "e", open: true}
	r.Register(pending, "", hooks)
	broken := openConn(t, r, "f", hooks)
	broken.sendErr = errors.New("sctp closed")

	n := r.Broadcast([]byte("hi"), "b")

	if n != 2 {
		t.Fatalf("sent to %d connections, want 2", n)
	}
	if len(a.sent) != 1 || len(c.sent) != 1 {
		t.Fatal("open connections missed the broadcast")
	}
	if len(b.sent) != 0 || len(notReady.sent) != 0 || len(pending.sent) != 0 {
		t.Fatal("broadcast reached excluded, not-ready or pending connection")
	}
	if len(failures) != 1 || failures[0] != "f" {
		t.Fatalf("send failures routed to %v", failures)
	}
}

func TestListOpenSnapshot(t *testing.T) {
	r := New()
	openConn(t, r, "a", Hooks{})
	r.Register(&fakeChannel{peer: "b"}, "", Hooks{})
	openConn(t, r, "c", Hooks{})

	open := r.ListOpen()
	if len(open) != 2 || open[0].PeerID != "a" || open[1].PeerID != "c" {
		t.Fatalf("ListOpen = %+v", open)
	}

	// Snapshots are copies.
	open[0].Nametag = "changed"
	if conn, _ := r.Get("a"); conn.Nametag != "a-name" {
		t.Fatal("snapshot aliased registry state")
	}
	if len(r.List()) != 3 {
		t.Fatal("List should include pending connections")
	}
}

func TestSendTo(t *testing.T) {
	r := New()
	a := openConn(t, r, "a", Hooks{})
	if err := r.SendTo("a", []byte("x")); err != nil || len(a.sent) != 1 {
		t.Fatalf("SendTo: %v", err)
	}
	if err := r.SendTo("nobody", []byte("x")); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
}
