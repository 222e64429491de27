package signaling

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SIgmaboy6796/game2/internal/relay"
	"github.com/SIgmaboy6796/game2/internal/server"
)

func startRelay(t *testing.T) (relayURL, brokerURL string) {
	t.Helper()
	hub, err := relay.NewHub(relay.Options{TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	broker := relay.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	go broker.Run(ctx)

	srv := httptest.NewServer(server.NewRouter(server.Options{Relay: hub, Broker: broker}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	return base + "/ws", base + "/peer"
}

func connect(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(url)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func matchmaker(t *testing.T, url string) *Matchmaker {
	t.Helper()
	m := NewMatchmaker(connect(t, url))
	go m.Start()
	return m
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHostAndResolve(t *testing.T) {
	relayURL, _ := startRelay(t)
	host := matchmaker(t, relayURL)
	joiner := matchmaker(t, relayURL)
	ctx := testContext(t)

	code, err := host.AwaitRoomCode(ctx, "host-peer", "Alice")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case added := <-joiner.RoomAdded:
		if added.RoomCode != code || added.PeerID != "host-peer" {
			t.Fatalf("unexpected room announcement: %+v", added)
		}
	case <-ctx.Done():
		t.Fatal("no new-room broadcast")
	}

	peerID, err := joiner.AwaitPeerID(ctx, strings.ToLower(code))
	if err != nil {
		t.Fatal(err)
	}
	if peerID != "host-peer" {
		t.Fatalf("peer id = %q", peerID)
	}

	games, err := joiner.AwaitGames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(games) != 1 || games[0].Nametag != "Alice" {
		t.Fatalf("unexpected games: %+v", games)
	}
}

func TestResolveUnknownRoom(t *testing.T) {
	relayURL, _ := startRelay(t)
	joiner := matchmaker(t, relayURL)

	_, err := joiner.AwaitPeerID(testContext(t), "ZZZZ")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRoomClosedNotification(t *testing.T) {
	relayURL, _ := startRelay(t)
	hostClient := connect(t, relayURL)
	host := NewMatchmaker(hostClient)
	go host.Start()
	watcher := matchmaker(t, relayURL)
	ctx := testContext(t)

	code, err := host.AwaitRoomCode(ctx, "host-peer", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	hostClient.Close()

	for {
		select {
		case closed := <-watcher.RoomClosed:
			if closed == code {
				return
			}
		case <-ctx.Done():
			t.Fatal("no room-closed broadcast after host left")
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	relayURL, _ := startRelay(t)
	c := connect(t, relayURL)
	c.Close()
	c.Close()

	if err := c.Send(&relay.Message{Type: relay.TypeGetGames}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBrokerOpen(t *testing.T) {
	_, brokerURL := startRelay(t)
	c := connect(t, brokerURL)

	select {
	case msg := <-c.Incoming():
		if msg.Type != relay.TypeOpen || msg.PeerID == "" {
			t.Fatalf("unexpected first broker message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no open message from broker")
	}
}
