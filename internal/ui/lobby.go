package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/SIgmaboy6796/game2/internal/lobby"
	"github.com/SIgmaboy6796/game2/internal/registry"
	"github.com/SIgmaboy6796/game2/internal/session"
)

const logLines = 6

// Lobby is the part of a session the lobby screen drives.
type Lobby interface {
	Events() <-chan session.Event
	AcceptConnection(peerID string) error
	DeclineConnection(peerID string) error
	Pending() []session.Pending
	Roster() []lobby.Player
	Connections() []registry.Connection
	ID() string
	IsHost() bool
}

type LobbyOptions struct {
	Room   string
	HostID string
}

type (
	sessionEventMsg  session.Event
	sessionClosedMsg struct{}
	decisionMsg      struct {
		peerID string
		accept bool
		err    error
	}
)

// LobbyModel is the interactive lobby screen.
type LobbyModel struct {
	sess    Lobby
	room    string
	hostID  string
	selfID  string
	host    bool
	players []lobby.Player
	pending []session.Pending
	conns   []registry.Connection
	log     []string
	frames  int
	spinner spinner.Model
	debug   bool
	closed  bool
	now     func() time.Time
}

func NewLobbyModel(sess Lobby, opts LobbyOptions) *LobbyModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	m := &LobbyModel{
		sess:    sess,
		room:    opts.Room,
		hostID:  opts.HostID,
		selfID:  sess.ID(),
		host:    sess.IsHost(),
		players: sess.Roster(),
		spinner: s,
		now:     time.Now,
	}
	if m.host {
		m.hostID = m.selfID
	}
	return m
}

func (m *LobbyModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

func (m *LobbyModel) listen() tea.Cmd {
	events := m.sess.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return sessionClosedMsg{}
		}
		return sessionEventMsg(ev)
	}
}

func (m *LobbyModel) decide(accept bool) tea.Cmd {
	if !m.host || len(m.pending) == 0 {
		return nil
	}
	peerID := m.pending[0].PeerID
	return func() tea.Msg {
		var err error
		if accept {
			err = m.sess.AcceptConnection(peerID)
		} else {
			err = m.sess.DeclineConnection(peerID)
		}
		return decisionMsg{peerID: peerID, accept: accept, err: err}
	}
}

func (m *LobbyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "a":
			return m, m.decide(true)
		case "d":
			return m, m.decide(false)
		case "i":
			m.debug = !m.debug
			if m.debug {
				m.conns = m.sess.Connections()
			}
		}

	case sessionEventMsg:
		m.apply(session.Event(msg))
		return m, m.listen()

	case sessionClosedMsg:
		m.closed = true
		return m, tea.Quit

	case decisionMsg:
		if msg.err != nil {
			m.addLog(ErrorStyle.Render(msg.err.Error()))
		} else if !msg.accept {
			m.addLog(fmt.Sprintf("%s declined %s", IconWarning, m.nametag(msg.peerID)))
		}
		m.pending = m.sess.Pending()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *LobbyModel) apply(ev session.Event) {
	switch ev.Kind {
	case session.EventIdentityReady:
		m.selfID = ev.PeerID

	case session.EventPendingConnection:
		m.pending = m.sess.Pending()
		m.addLog(fmt.Sprintf("%s %s wants to join", IconWaiting, ev.Nametag))

	case session.EventPendingCancelled:
		m.pending = m.sess.Pending()
		m.addLog(MutedStyle.Render(ev.Nametag + " gave up waiting"))

	case session.EventConnectionOpen:
		if !m.host {
			m.addLog(fmt.Sprintf("%s connected to host", IconConnect))
		}

	case session.EventPlayerJoined:
		m.addLog(fmt.Sprintf("%s %s joined", IconPeer, ev.Nametag))

	case session.EventPlayerLeft:
		if !m.host && ev.PeerID == m.hostID {
			m.addLog(WarningStyle.Render("host closed the room"))
		} else {
			m.addLog(fmt.Sprintf("%s left", m.nametag(ev.PeerID)))
		}

	case session.EventRosterUpdated:
		m.players = ev.Players

	case session.EventData:
		m.frames++

	case session.EventError:
		m.addLog(ErrorStyle.Render(ev.Err.Error()))
	}

	if m.debug {
		m.conns = m.sess.Connections()
	}
}

// nametag looks a peer up in the last roster seen.
func (m *LobbyModel) nametag(peerID string) string {
	for _, p := range m.players {
		if p.PeerID == peerID {
			return p.Nametag
		}
	}
	for _, p := range m.pending {
		if p.PeerID == peerID {
			return p.Nametag
		}
	}
	return peerID
}

func (m *LobbyModel) addLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

// Players returns the roster currently on screen.
func (m *LobbyModel) Players() []lobby.Player {
	return m.players
}

// Closed reports whether the screen ended because the session did.
func (m *LobbyModel) Closed() bool {
	return m.closed
}

func (m *LobbyModel) View() string {
	var b strings.Builder

	title := fmt.Sprintf("%s pewshoot lobby", IconGame)
	if m.room != "" {
		title += " · room " + m.room
	}
	b.WriteString(HeaderStyle.Render(title) + "\n")

	b.WriteString(RosterView(m.players, m.selfID, m.hostID) + "\n")

	if m.host && len(m.pending) > 0 {
		var lines []string
		for _, p := range m.pending {
			state := "negotiating"
			if p.Open {
				state = "ready"
			}
			lines = append(lines, fmt.Sprintf("%s %s (%s)", IconPeer, p.Nametag, state))
		}
		b.WriteString(PendingBoxStyle.Render("Waiting to join\n"+strings.Join(lines, "\n")) + "\n")
	} else if len(m.players) <= 1 {
		b.WriteString(fmt.Sprintf("%s Waiting for players...\n", m.spinner.View()))
	}

	for _, line := range m.log {
		b.WriteString(line + "\n")
	}

	if m.debug {
		b.WriteString("\n" + DebugPlayers(m.players) + "\n")
		b.WriteString(DebugConnections(m.conns, m.now()) + "\n")
		b.WriteString(MutedStyle.Render(fmt.Sprintf("gameplay messages: %d", m.frames)) + "\n")
	}

	help := "i debug · q quit"
	if m.host {
		help = "a accept · d decline · " + help
	}
	b.WriteString(FooterStyle.Render(help))
	return b.String()
}
