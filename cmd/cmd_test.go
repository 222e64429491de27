package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/SIgmaboy6796/game2/internal/config"
	"github.com/SIgmaboy6796/game2/internal/relay"
	"github.com/SIgmaboy6796/game2/internal/roomlog"
	"github.com/SIgmaboy6796/game2/internal/server"
)

func TestParseRoomInput(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "QX7M", want: "QX7M"},
		{in: " qx7m ", want: "QX7M"},
		{in: "https://pewshoot.fly.dev/join/QX7M", want: "QX7M"},
		{in: "http://localhost:8080/join/ab12/", want: "AB12"},
		{in: "pewshoot.fly.dev/join/zz99", want: "ZZ99"},
		{in: "https://pewshoot.fly.dev/rooms", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseRoomInput(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseRoomInput(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("parseRoomInput(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

// startRelay serves the full relay router with a history store.
func startRelay(t *testing.T) *config.Config {
	t.Helper()

	store, err := roomlog.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	hub, err := relay.NewHub(relay.Options{TTL: time.Hour, MaxRooms: 10, Recorder: store})
	if err != nil {
		t.Fatal(err)
	}
	broker := relay.NewBroker()

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	go broker.Run(ctx)

	srv := httptest.NewServer(server.NewRouter(server.Options{Relay: hub, Broker: broker, History: store}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.Done()
		store.Close()
	})

	u, _ := url.Parse(srv.URL)
	cfg, err := config.Load(config.Options{Domain: u.Host, Insecure: true})
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestHostAndResolveThroughRelay(t *testing.T) {
	cfg := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rc, err := NewRelayContext(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	code, err := rc.Matchmaker.AwaitRoomCode(ctx, "host-peer", "Alice")
	if err != nil {
		t.Fatal(err)
	}

	hostID, err := resolveRoom(ctx, cfg, code)
	if err != nil || hostID != "host-peer" {
		t.Fatalf("resolveRoom = %q, %v", hostID, err)
	}
	if _, err := resolveRoom(ctx, cfg, "ZZZZ"); err == nil {
		t.Fatal("unknown room resolved")
	}

	if err := listGames(ctx, cfg, false); err != nil {
		t.Fatalf("listGames: %v", err)
	}
	if err := showHistory(ctx, cfg); err != nil {
		t.Fatalf("showHistory: %v", err)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	cfg := &config.Config{Domain: u.Host, Insecure: true}
	if err := showHistory(context.Background(), cfg); err == nil {
		t.Fatal("expected an error for a relay without history")
	}
}

func TestHistoryURL(t *testing.T) {
	if got := historyURL(&config.Config{Domain: "pewshoot.fly.dev"}); got != "https://pewshoot.fly.dev/api/history" {
		t.Fatalf("historyURL = %q", got)
	}
}
