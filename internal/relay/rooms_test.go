package relay

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// scripted returns an intn that replays idx, then repeats the last value.
func scripted(idx ...int) func(int) (int, error) {
	i := 0
	return func(n int) (int, error) {
		v := idx[len(idx)-1]
		if i < len(idx) {
			v = idx[i]
			i++
		}
		return v % n, nil
	}
}

func TestCodeStyles(t *testing.T) {
	tests := []struct {
		style string
		space int
		valid func(byte) bool
	}{
		{"", 36 * 36 * 36 * 36, func(c byte) bool { return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') }},
		{CodeStyleAlpha, 26 * 26 * 26 * 26, func(c byte) bool { return c >= 'A' && c <= 'Z' }},
		{CodeStyleNumeric, 10000, func(c byte) bool { return c >= '0' && c <= '9' }},
	}

	for _, tt := range tests {
		g, err := NewCodeGenerator(tt.style)
		if err != nil {
			t.Fatalf("style %q: %v", tt.style, err)
		}
		if g.Space() != tt.space {
			t.Errorf("style %q: space = %d, want %d", tt.style, g.Space(), tt.space)
		}
		for i := 0; i < 50; i++ {
			code, err := g.Next()
			if err != nil {
				t.Fatal(err)
			}
			if len(code) != codeLength {
				t.Fatalf("style %q: code %q has wrong length", tt.style, code)
			}
			for j := 0; j < len(code); j++ {
				if !tt.valid(code[j]) {
					t.Fatalf("style %q: code %q has invalid char", tt.style, code)
				}
			}
		}
	}

	if _, err := NewCodeGenerator("emoji"); err == nil {
		t.Error("expected error for unknown style")
	}
}

func TestAllocateRejectsLiveCodes(t *testing.T) {
	g, _ := NewCodeGenerator(CodeStyleAlpha)
	// First allocation draws AAAA, second draws AAAA again and then AAAB.
	g.intn = scripted(0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1)
	rooms := NewRooms(g, 0)
	now := time.Now()

	first, err := rooms.Allocate("host-1", "Alice", now)
	if err != nil {
		t.Fatal(err)
	}
	second, err := rooms.Allocate("host-2", "Bob", now)
	if err != nil {
		t.Fatal(err)
	}

	if first.Code != "AAAA" || second.Code != "AAAB" {
		t.Fatalf("codes = %q, %q", first.Code, second.Code)
	}
}

func TestAllocateFallsBackToScan(t *testing.T) {
	g, _ := NewCodeGenerator(CodeStyleNumeric)
	g.intn = scripted(0) // always "0000"
	rooms := NewRooms(g, 0)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		room, err := rooms.Allocate("host", "", time.Now())
		if err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
		if seen[room.Code] {
			t.Fatalf("duplicate live code %q", room.Code)
		}
		seen[room.Code] = true
	}
}

func TestAllocateLimits(t *testing.T) {
	g, _ := NewCodeGenerator(CodeStyleAlnum)
	rooms := NewRooms(g, 2)
	for i := 0; i < 2; i++ {
		if _, err := rooms.Allocate("p", "", time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := rooms.Allocate("p", "", time.Now()); !errors.Is(err, ErrTooManyRooms) {
		t.Fatalf("expected ErrTooManyRooms, got %v", err)
	}

	tiny := CodeGenerator{alphabet: "AB", length: 1, intn: randomIndex}
	rooms = NewRooms(tiny, 0)
	rooms.Allocate("p", "", time.Now())
	rooms.Allocate("p", "", time.Now())
	if _, err := rooms.Allocate("p", "", time.Now()); !errors.Is(err, ErrNoCodesAvailable) {
		t.Fatalf("expected ErrNoCodesAvailable, got %v", err)
	}
}

func TestLookupAndRemove(t *testing.T) {
	g, _ := NewCodeGenerator(CodeStyleAlnum)
	rooms := NewRooms(g, 0)
	room, _ := rooms.Allocate("host-peer", "Alice", time.Now())

	got, ok := rooms.Lookup(" " + strings.ToLower(room.Code) + " ")
	if !ok || got.HostPeerID != "host-peer" {
		t.Fatalf("lookup by normalized code failed: %v %v", got, ok)
	}

	if _, ok := rooms.Lookup("ZZZZ!"); ok {
		t.Fatal("lookup of unknown code succeeded")
	}

	stale := &Room{Code: room.Code}
	if rooms.Remove(stale) {
		t.Fatal("removed a room through a stale handle")
	}
	if !rooms.Remove(room) {
		t.Fatal("remove failed")
	}
	if rooms.Remove(room) {
		t.Fatal("second remove reported success")
	}
	if _, ok := rooms.Lookup(room.Code); ok {
		t.Fatal("room still visible after removal")
	}
}

func TestListAndExpired(t *testing.T) {
	g, _ := NewCodeGenerator(CodeStyleAlnum)
	rooms := NewRooms(g, 0)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	old, _ := rooms.Allocate("a", "old", base)
	fresh, _ := rooms.Allocate("b", "fresh", base.Add(90*time.Minute))

	list := rooms.List()
	if len(list) != 2 || list[0].RoomCode != old.Code || list[1].RoomCode != fresh.Code {
		t.Fatalf("unexpected list order: %+v", list)
	}
	if list[0].PeerID != "" {
		t.Error("game list must not expose the host peer id")
	}

	expired := rooms.Expired(base.Add(2*time.Hour+time.Minute), 2*time.Hour)
	if len(expired) != 1 || expired[0] != old {
		t.Fatalf("expected only the old room to expire, got %v", expired)
	}
}
