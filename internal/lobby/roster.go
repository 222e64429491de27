package lobby

// Roster is an ordered set of players keyed by peer id. Adding a known
// peer and removing an absent one are no-ops, so replayed announcements
// are harmless.
type Roster struct {
	players []Player
}

// Add appends p unless its peer is already present.
func (r *Roster) Add(p Player) bool {
	if r.index(p.PeerID) >= 0 {
		return false
	}
	r.players = append(r.players, p)
	return true
}

// Remove deletes peerID if present.
func (r *Roster) Remove(peerID string) bool {
	i := r.index(peerID)
	if i < 0 {
		return false
	}
	r.players = append(r.players[:i], r.players[i+1:]...)
	return true
}

// Replace sets the roster to players, dropping duplicate entries.
func (r *Roster) Replace(players []Player) {
	r.players = make([]Player, 0, len(players))
	for _, p := range players {
		r.Add(p)
	}
}

func (r *Roster) Has(peerID string) bool {
	return r.index(peerID) >= 0
}

// Nametag returns the display name recorded for peerID.
func (r *Roster) Nametag(peerID string) (string, bool) {
	if i := r.index(peerID); i >= 0 {
		return r.players[i].Nametag, true
	}
	return "", false
}

func (r *Roster) Len() int {
	return len(r.players)
}

// Snapshot returns a copy safe to hand to other goroutines.
func (r *Roster) Snapshot() []Player {
	out := make([]Player, len(r.players))
	copy(out, r.players)
	return out
}

func (r *Roster) index(peerID string) int {
	for i, p := range r.players {
		if p.PeerID == peerID {
			return i
		}
	}
	return -1
}
