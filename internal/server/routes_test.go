package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SIgmaboy6796/game2/internal/relay"
	"github.com/SIgmaboy6796/game2/internal/roomlog"
)

type testServer struct {
	srv   *httptest.Server
	wsURL string
}

func startTestServer(t *testing.T, allowed []string) *testServer {
	t.Helper()

	store, err := roomlog.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	hub, err := relay.NewHub(relay.Options{TTL: time.Hour, Recorder: store})
	if err != nil {
		t.Fatal(err)
	}
	broker := relay.NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	go broker.Run(ctx)

	srv := httptest.NewServer(NewRouter(Options{
		Relay:          hub,
		Broker:         broker,
		History:        store,
		AllowedOrigins: allowed,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
		<-broker.Done()
	})

	return &testServer{srv: srv, wsURL: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func dialWS(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) relay.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg relay.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read WS: %v", err)
	}
	return msg
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	ts := startTestServer(t, nil)
	resp, err := http.Get(ts.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "healthy") {
		t.Fatalf("health: %d %q", resp.StatusCode, body)
	}
}

func TestGamesAndHistoryEndpoints(t *testing.T) {
	ts := startTestServer(t, nil)

	var empty struct {
		Games []relay.Game `json:"games"`
	}
	getJSON(t, ts.srv.URL+"/api/games", &empty)
	if empty.Games == nil || len(empty.Games) != 0 {
		t.Fatalf("expected empty games array, got %#v", empty.Games)
	}

	host := dialWS(t, ts.wsURL+"/ws", nil)
	readMsg(t, host) // initial game-list
	host.WriteJSON(relay.Message{Type: relay.TypeHostGame, PeerID: "host-peer", Nametag: "Alice"})
	hosted := readMsg(t, host)
	if hosted.Type != relay.TypeGameHosted {
		t.Fatalf("expected game-hosted, got %+v", hosted)
	}

	var games struct {
		Games []relay.Game `json:"games"`
	}
	getJSON(t, ts.srv.URL+"/api/games", &games)
	if len(games.Games) != 1 || games.Games[0].RoomCode != hosted.RoomCode || games.Games[0].Nametag != "Alice" {
		t.Fatalf("unexpected games: %+v", games.Games)
	}

	var history struct {
		Rooms []roomlog.Entry `json:"rooms"`
	}
	getJSON(t, ts.srv.URL+"/api/history?limit=5", &history)
	if len(history.Rooms) != 1 || history.Rooms[0].HostPeerID != "host-peer" {
		t.Fatalf("unexpected history: %+v", history.Rooms)
	}
}

func TestGamesRejectsPost(t *testing.T) {
	ts := startTestServer(t, nil)
	resp, err := http.Post(ts.srv.URL+"/api/games", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestBrokerRoute(t *testing.T) {
	ts := startTestServer(t, nil)
	conn := dialWS(t, ts.wsURL+"/peer", nil)
	if msg := readMsg(t, conn); msg.Type != relay.TypeOpen || msg.PeerID == "" {
		t.Fatalf("expected open with id, got %+v", msg)
	}
}

func TestOriginCheck(t *testing.T) {
	ts := startTestServer(t, []string{"https://play.example.com"})

	ok := http.Header{"Origin": []string{"https://play.example.com"}}
	dialWS(t, ts.wsURL+"/ws", ok)

	// Native clients send no Origin.
	dialWS(t, ts.wsURL+"/ws", nil)

	bad := http.Header{"Origin": []string{"https://evil.example.net"}}
	if _, resp, err := websocket.DefaultDialer.Dial(ts.wsURL+"/ws", bad); err == nil {
		t.Fatal("foreign origin was accepted")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}
}
