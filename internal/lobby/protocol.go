package lobby

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

var (
	ErrNotHost     = errors.New("only the host can do that")
	ErrNotGameplay = errors.New("not a gameplay message")
)

// Links is the outbound half of the connection registry.
type Links interface {
	Broadcast(payload []byte, exclude ...string) int
	SendTo(peerID string, payload []byte) error
}

// Result describes what an inbound message changed.
type Result struct {
	Message Message

	RosterChanged bool
	Joined        *Player
	Left          string
}

// Protocol keeps the local roster consistent with the host's. It is not
// safe for concurrent use.
type Protocol struct {
	codec  Codec
	links  Links
	self   Player
	host   bool
	roster Roster
}

func NewProtocol(codec Codec, links Links) *Protocol {
	return &Protocol{codec: codec, links: links}
}

// SetSelf records the local identity; the roster always contains it.
func (p *Protocol) SetSelf(self Player) {
	if p.self.PeerID != "" {
		p.roster.Remove(p.self.PeerID)
	}
	p.self = self
	p.ensureSelf()
}

// SetHost makes the local participant authoritative.
func (p *Protocol) SetHost(host bool) {
	p.host = host
}

func (p *Protocol) IsHost() bool {
	return p.host
}

func (p *Protocol) Self() Player {
	return p.self
}

// Roster returns a snapshot of the local roster.
func (p *Protocol) Roster() []Player {
	return p.roster.Snapshot()
}

// Admit runs the host side of a join once the joiner's connection is
// Open: welcome to the joiner first, then new-player to everyone else,
// then the full player-list to all. It returns the updated roster.
func (p *Protocol) Admit(joiner Player) ([]Player, error) {
	if !p.host {
		return nil, ErrNotHost
	}

	welcome := Welcome{Players: p.welcomeRoster(joiner.PeerID)}
	p.roster.Add(joiner)

	var welcomeErr error
	if payload, err := p.codec.Marshal(welcome); err != nil {
		welcomeErr = err
	} else if err := p.links.SendTo(joiner.PeerID, payload); err != nil {
		// The joiner is going away; its close runs Depart.
		welcomeErr = fmt.Errorf("welcome %s: %w", joiner.PeerID, err)
	}

	p.broadcast(NewPlayer{Player: joiner}, joiner.PeerID)
	p.broadcast(PlayerList{Players: p.roster.Snapshot()})

	slog.Info("player admitted", "peer", joiner.PeerID, "nametag", joiner.Nametag, "players", p.roster.Len())
	return p.roster.Snapshot(), welcomeErr
}

// welcomeRoster is everyone already admitted, host last.
func (p *Protocol) welcomeRoster(joinerID string) []Player {
	var out []Player
	for _, pl := range p.roster.Snapshot() {
		if pl.PeerID != p.self.PeerID && pl.PeerID != joinerID {
			out = append(out, pl)
		}
	}
	return append(out, p.self)
}

// Depart runs the host side of a leave: one player-left, then the
// player-list. It reports false when peerID was not in the roster.
func (p *Protocol) Depart(peerID string) bool {
	if !p.host || peerID == p.self.PeerID || !p.roster.Remove(peerID) {
		return false
	}
	p.broadcast(PlayerLeft{PeerID: peerID})
	p.broadcast(PlayerList{Players: p.roster.Snapshot()})
	slog.Info("player left", "peer", peerID, "players", p.roster.Len())
	return true
}

// Reset drops everyone but the local participant.
func (p *Protocol) Reset() {
	p.roster.Replace(nil)
	p.ensureSelf()
}

// Handle applies a message received from peer from.
func (p *Protocol) Handle(from string, data []byte) (Result, error) {
	msg, err := p.codec.Unmarshal(data)
	if err != nil {
		return Result{}, err
	}
	res := Result{Message: msg}

	switch m := msg.(type) {
	case Welcome, PlayerList, NewPlayer, PlayerLeft:
		if p.host {
			slog.Debug("ignoring roster message sent to host", "peer", from, "type", msg.Type())
			return res, nil
		}
		p.apply(m, &res)

	case PlayerState, Shoot:
		if Origin(m) == "" || p.host {
			m = withOrigin(m, from)
			res.Message = m
		}
		if p.host {
			p.broadcast(m, from)
		}

	case Unknown:
		slog.Debug("ignoring unknown lobby message", "peer", from, "type", m.Kind)
	}

	return res, nil
}

func (p *Protocol) apply(msg Message, res *Result) {
	before := p.roster.Snapshot()

	switch m := msg.(type) {
	case Welcome:
		p.roster.Replace(m.Players)
		p.ensureSelf()
	case PlayerList:
		p.roster.Replace(m.Players)
		p.ensureSelf()
	case NewPlayer:
		if m.Player.PeerID != p.self.PeerID && p.roster.Add(m.Player) {
			joined := m.Player
			res.Joined = &joined
		}
	case PlayerLeft:
		if m.PeerID != p.self.PeerID && p.roster.Remove(m.PeerID) {
			res.Left = m.PeerID
		}
	}

	res.RosterChanged = !slices.Equal(before, p.roster.players)
}

// Send stamps a gameplay message with the local identity and broadcasts
// it. Clients only hold the host link; the host relays to the rest.
func (p *Protocol) Send(msg Message) (int, error) {
	if !IsGameplay(msg) {
		return 0, fmt.Errorf("%w: %s", ErrNotGameplay, msg.Type())
	}
	payload, err := p.codec.Marshal(withOrigin(msg, p.self.PeerID))
	if err != nil {
		return 0, err
	}
	return p.links.Broadcast(payload), nil
}

func (p *Protocol) broadcast(msg Message, exclude ...string) int {
	payload, err := p.codec.Marshal(msg)
	if err != nil {
		slog.Error("encode lobby message", "type", msg.Type(), "err", err)
		return 0
	}
	return p.links.Broadcast(payload, exclude...)
}

func (p *Protocol) ensureSelf() {
	if p.self.PeerID != "" {
		p.roster.Add(p.self)
	}
}
