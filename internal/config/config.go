package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values (production)
const (
	DefaultDomain        = "pewshoot.fly.dev"
	DefaultSTUN          = "stun:stun.l.google.com:19302"
	DefaultSTUNFallback  = "stun:stun1.l.google.com:19302"
	DefaultNametag       = "Guest"
	DefaultSerialization = SerializationBinary
)

// Serialization names accepted for the peer-to-peer lobby protocol.
const (
	SerializationBinary = "binary"
	SerializationJSON   = "json"
)

// Config holds client configuration
type Config struct {
	// Domain is the relay server domain
	Domain string

	// Insecure selects ws:// and http:// instead of wss:// and https://
	Insecure bool

	// RelayURL is the matchmaking endpoint, BrokerURL the peer broker endpoint.
	// Both are constructed from Domain unless overridden.
	RelayURL  string
	BrokerURL string

	// ICE servers for WebRTC
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string

	// ForceRelay restricts ICE to TURN candidates
	ForceRelay bool

	Nametag       string
	Serialization string

	// Unreliable opens data channels without retransmission
	Unreliable bool
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain        string
	Insecure      bool
	RelayURL      string
	BrokerURL     string
	STUNServer    string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	ForceRelay    bool
	Nametag       string
	Serialization string
	Unreliable    bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := firstNonEmpty(opts.Domain, os.Getenv("PEWSHOOT_DOMAIN"), DefaultDomain)
	insecure := opts.Insecure || envBool("PEWSHOOT_INSECURE")

	wsScheme := "wss"
	if insecure {
		wsScheme = "ws"
	}

	relayURL := firstNonEmpty(opts.RelayURL, os.Getenv("PEWSHOOT_RELAY_URL"), fmt.Sprintf("%s://%s/ws", wsScheme, domain))
	brokerURL := firstNonEmpty(opts.BrokerURL, os.Getenv("PEWSHOOT_BROKER_URL"), fmt.Sprintf("%s://%s/peer", wsScheme, domain))

	stun := []string{DefaultSTUN, DefaultSTUNFallback}
	if s := firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER")); s != "" {
		stun = splitList(s)
	}

	// TURN is optional; without one, relay mode cannot be forced
	turnServer := firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER"))
	turnUser := firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME"))
	turnPass := firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD"))

	nametag := strings.TrimSpace(firstNonEmpty(opts.Nametag, os.Getenv("PEWSHOOT_NAMETAG")))
	if nametag == "" {
		nametag = DefaultNametag
	}

	serialization := strings.ToLower(firstNonEmpty(opts.Serialization, os.Getenv("PEWSHOOT_SERIALIZATION"), DefaultSerialization))
	if serialization != SerializationBinary && serialization != SerializationJSON {
		return nil, fmt.Errorf("unknown serialization %q (want %s or %s)", serialization, SerializationBinary, SerializationJSON)
	}

	cfg := &Config{
		Domain:        domain,
		Insecure:      insecure,
		RelayURL:      relayURL,
		BrokerURL:     brokerURL,
		STUNServers:   stun,
		TURNServer:    turnServer,
		TURNUser:      turnUser,
		TURNPass:      turnPass,
		ForceRelay:    opts.ForceRelay || envBool("PEWSHOOT_FORCE_RELAY"),
		Nametag:       nametag,
		Serialization: serialization,
		Unreliable:    opts.Unreliable,
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// GetJoinLink returns the web URL that opens the game with a room code
func (c *Config) GetJoinLink(roomCode string) string {
	scheme := "https"
	if c.Insecure {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/join/%s", scheme, c.Domain, roomCode)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return c.STUNServers
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// Server defaults
const (
	DefaultListenAddr    = ":8080"
	DefaultRoomTTL       = time.Hour
	DefaultMaxRooms      = 10000
	DefaultCodeStyle     = "alnum"
	DefaultSweepInterval = time.Duration(0)
	DefaultMaxRoomAge    = 2 * time.Hour
)

// ServerConfig holds relay server configuration
type ServerConfig struct {
	ListenAddr string

	// RoomTTL evicts a room this long after creation; 0 disables the timer.
	RoomTTL time.Duration

	// SweepInterval runs a periodic sweep removing rooms older than MaxRoomAge.
	// 0 disables the sweep.
	SweepInterval time.Duration
	MaxRoomAge    time.Duration

	MaxRooms  int
	CodeStyle string

	// HistoryDB is the sqlite path for the room log; empty disables it.
	HistoryDB string

	// AllowedOrigins restricts browser websocket origins; empty allows all.
	AllowedOrigins []string
}

// ServerOptions for loading server config with CLI flag overrides
type ServerOptions struct {
	ListenAddr     string
	RoomTTL        time.Duration
	SweepInterval  time.Duration
	MaxRoomAge     time.Duration
	MaxRooms       int
	CodeStyle      string
	HistoryDB      string
	AllowedOrigins string
}

// LoadServer applies the same flag > env > default priority as Load.
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	listen := opts.ListenAddr
	if listen == "" {
		if port := os.Getenv("PORT"); port != "" {
			listen = ":" + port
		}
	}
	if listen == "" {
		listen = DefaultListenAddr
	}

	ttl, err := durationSetting(opts.RoomTTL, "ROOM_TTL", DefaultRoomTTL)
	if err != nil {
		return nil, err
	}
	sweep, err := durationSetting(opts.SweepInterval, "SWEEP_INTERVAL", DefaultSweepInterval)
	if err != nil {
		return nil, err
	}
	maxAge, err := durationSetting(opts.MaxRoomAge, "MAX_ROOM_AGE", DefaultMaxRoomAge)
	if err != nil {
		return nil, err
	}

	maxRooms := opts.MaxRooms
	if maxRooms == 0 {
		if v := os.Getenv("MAX_ROOMS"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid MAX_ROOMS %q: %w", v, err)
			}
			maxRooms = n
		}
	}
	if maxRooms <= 0 {
		maxRooms = DefaultMaxRooms
	}

	style := strings.ToLower(firstNonEmpty(opts.CodeStyle, os.Getenv("ROOM_CODE_STYLE"), DefaultCodeStyle))

	return &ServerConfig{
		ListenAddr:     listen,
		RoomTTL:        ttl,
		SweepInterval:  sweep,
		MaxRoomAge:     maxAge,
		MaxRooms:       maxRooms,
		CodeStyle:      style,
		HistoryDB:      firstNonEmpty(opts.HistoryDB, os.Getenv("HISTORY_DB")),
		AllowedOrigins: splitList(firstNonEmpty(opts.AllowedOrigins, os.Getenv("ALLOWED_ORIGINS"))),
	}, nil
}

func durationSetting(flag time.Duration, env string, def time.Duration) (time.Duration, error) {
	if flag != 0 {
		return flag, nil
	}
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		return d, nil
	}
	return def, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
