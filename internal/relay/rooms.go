package relay

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrNoCodesAvailable = errors.New("no room codes available")
	ErrTooManyRooms     = errors.New("room limit reached")
)

// maxCodeAttempts bounds the rejection sampling before falling back to a scan.
const maxCodeAttempts = 64

// Room maps a shareable code to the hosting peer.
type Room struct {
	Code       string
	HostPeerID string
	Nametag    string
	CreatedAt  time.Time

	// host is the relay connection that created the room, nil when the
	// table is used outside a hub.
	host  *Client
	timer *time.Timer
}

// Game returns the lobby browser view of the room.
func (r *Room) Game() Game {
	return Game{RoomCode: r.Code, Nametag: r.Nametag}
}

// Rooms is the live room table. It is not safe for concurrent use; the hub
// owns it and touches it only from its run loop.
type Rooms struct {
	codes    CodeGenerator
	maxRooms int
	byCode   map[string]*Room
}

// NewRooms creates an empty table. maxRooms <= 0 means unlimited.
func NewRooms(codes CodeGenerator, maxRooms int) *Rooms {
	return &Rooms{
		codes:    codes,
		maxRooms: maxRooms,
		byCode:   make(map[string]*Room),
	}
}

// Allocate stores a new room under a code unused by any live room.
func (r *Rooms) Allocate(peerID, nametag string, now time.Time) (*Room, error) {
	if r.maxRooms > 0 && len(r.byCode) >= r.maxRooms {
		return nil, ErrTooManyRooms
	}
	if len(r.byCode) >= r.codes.Space() {
		return nil, ErrNoCodesAvailable
	}

	code, err := r.freeCode()
	if err != nil {
		return nil, err
	}

	room := &Room{
		Code:       code,
		HostPeerID: peerID,
		Nametag:    nametag,
		CreatedAt:  now,
	}
	r.byCode[code] = room
	return room, nil
}

func (r *Rooms) freeCode() (string, error) {
	// Keep generating until we find one that's not in use
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := r.codes.Next()
		if err != nil {
			return "", err
		}
		if _, taken := r.byCode[code]; !taken {
			return code, nil
		}
	}

	// Nearly full table: walk the code space from a random offset.
	space := r.codes.Space()
	start, err := r.codes.intn(space)
	if err != nil {
		return "", err
	}
	for i := 0; i < space; i++ {
		code := r.codes.nth((start + i) % space)
		if _, taken := r.byCode[code]; !taken {
			return code, nil
		}
	}
	return "", ErrNoCodesAvailable
}

// Lookup finds a live room by code, case-insensitively.
func (r *Rooms) Lookup(code string) (*Room, bool) {
	room, ok := r.byCode[NormalizeCode(code)]
	return room, ok
}

// Remove deletes room if it is still the live entry for its code.
// It reports whether anything was removed.
func (r *Rooms) Remove(room *Room) bool {
	if room == nil {
		return false
	}
	current, ok := r.byCode[room.Code]
	if !ok || current != room {
		return false
	}
	delete(r.byCode, room.Code)
	if room.timer != nil {
		room.timer.Stop()
	}
	return true
}

// List returns live rooms ordered by creation time.
func (r *Rooms) List() []Game {
	rooms := r.sorted()
	games := make([]Game, len(rooms))
	for i, room := range rooms {
		games[i] = room.Game()
	}
	return games
}

// Expired returns rooms created more than maxAge before now.
func (r *Rooms) Expired(now time.Time, maxAge time.Duration) []*Room {
	var out []*Room
	for _, room := range r.sorted() {
		if now.Sub(room.CreatedAt) > maxAge {
			out = append(out, room)
		}
	}
	return out
}

// HostedBy returns the rooms created over the given relay connection.
func (r *Rooms) HostedBy(c *Client) []*Room {
	var out []*Room
	for _, room := range r.sorted() {
		if room.host == c {
			out = append(out, room)
		}
	}
	return out
}

func (r *Rooms) Len() int {
	return len(r.byCode)
}

func (r *Rooms) sorted() []*Room {
	rooms := make([]*Room, 0, len(r.byCode))
	for _, room := range r.byCode {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].Code < rooms[j].Code
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms
}
