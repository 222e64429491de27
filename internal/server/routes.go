package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/SIgmaboy6796/game2/internal/relay"
	"github.com/SIgmaboy6796/game2/internal/roomlog"
)

// Acceptor takes ownership of an upgraded websocket connection.
type Acceptor interface {
	Accept(conn *websocket.Conn)
}

// Relay is the matchmaking hub as seen by the HTTP layer.
type Relay interface {
	Acceptor
	Games(ctx context.Context) ([]relay.Game, error)
}

// History answers /api/history. Optional.
type History interface {
	Recent(limit int) ([]roomlog.Entry, error)
}

// Options wires the handlers to their backends.
type Options struct {
	Relay   Relay
	Broker  Acceptor
	History History

	// AllowedOrigins restricts browser websocket origins by host.
	// Empty allows everything. Requests without an Origin header (native
	// clients) are always accepted.
	AllowedOrigins []string
}

// NewRouter registers every relay route on a fresh mux.
func NewRouter(opts Options) *http.ServeMux {
	upgrader := newUpgrader(opts.AllowedOrigins)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthCheckHandler)
	mux.HandleFunc("/ws", ServeWs(upgrader, opts.Relay))
	if opts.Broker != nil {
		mux.HandleFunc("/peer", ServeWs(upgrader, opts.Broker))
	}
	mux.HandleFunc("/api/games", gamesHandler(opts.Relay))
	if opts.History != nil {
		mux.HandleFunc("/api/history", historyHandler(opts.History))
	}
	return mux
}

func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     originChecker(allowed),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	hosts := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		if o != "" {
			hosts[strings.ToLower(o)] = true
		}
	}

	return func(r *http.Request) bool {
		if len(hosts) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return hosts[strings.ToLower(u.Host)]
	}
}

// ServeWs returns an http.HandlerFunc that upgrades the request and hands
// the connection to hub.
func ServeWs(upgrader *websocket.Upgrader, hub Acceptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("failed to upgrade connection", "path", r.URL.Path, "err", err)
			return
		}
		hub.Accept(conn)
	}
}

// Health Check endpoint
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Relay server is healthy."))
}

func gamesHandler(hub Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		games, err := hub.Games(r.Context())
		if err != nil {
			http.Error(w, "relay unavailable", http.StatusServiceUnavailable)
			return
		}
		if games == nil {
			games = []relay.Game{}
		}
		writeJSON(w, map[string]any{"games": games})
	}
}

func historyHandler(h History) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := h.Recent(limit)
		if err != nil {
			slog.Error("room history query failed", "err", err)
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []roomlog.Entry{}
		}
		writeJSON(w, map[string]any{"rooms": entries})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}
