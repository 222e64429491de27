package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/skip2/go-qrcode"

	"github.com/SIgmaboy6796/game2/internal/lobby"
	"github.com/SIgmaboy6796/game2/internal/relay"
)

func styled(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// RosterView renders the lobby roster, marking the host and the local
// player.
func RosterView(players []lobby.Player, selfID, hostID string) string {
	if len(players) == 0 {
		return MutedStyle.Render("No players")
	}

	rows := make([][]string, 0, len(players))
	for i, p := range players {
		var tags []string
		if p.PeerID == hostID {
			tags = append(tags, IconHost+" host")
		}
		if p.PeerID == selfID {
			tags = append(tags, "you")
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncate(p.Nametag, 24),
			strings.Join(tags, ", "),
		})
	}
	return styled([]string{"#", "Player", ""}, rows).Render()
}

// GamesView renders the relay's open rooms.
func GamesView(games []relay.Game) string {
	if len(games) == 0 {
		return MutedStyle.Render("No open games")
	}

	rows := make([][]string, 0, len(games))
	for _, g := range games {
		rows = append(rows, []string{g.RoomCode, truncate(g.Nametag, 24)})
	}
	return styled([]string{"Room", "Host"}, rows).Render()
}

// HistoryRow is one closed or open room from the relay's history.
type HistoryRow struct {
	RoomCode  string
	Nametag   string
	CreatedAt time.Time
	Closed    string
}

func HistoryView(rows []HistoryRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No rooms recorded")
	}

	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{r.RoomCode, truncate(r.Nametag, 24), r.CreatedAt.Format(time.DateTime), r.Closed})
	}
	return styled([]string{"Room", "Host", "Created", "Closed"}, out).Render()
}

// RoomCard is the box shown to a host once the relay assigned a code.
type RoomCard struct {
	Code string
	Link string
	QR   bool
}

func (r RoomCard) View() string {
	content := fmt.Sprintf("%s Room Created!\n\n%s Room Code:  %s\n%s Join Link:  %s",
		IconSuccess,
		IconRoom, BoldStyle.Foreground(Primary).Render(r.Code),
		IconLink, MutedStyle.Render(r.Link),
	)

	if r.QR && r.Link != "" {
		if code, err := QRCode(r.Link); err == nil {
			content += fmt.Sprintf("\n\n%s Scan to join:\n%s", IconQR, code)
		}
	}
	return RoomBoxStyle.Render(content)
}

// QRCode renders content as a terminal QR code.
func QRCode(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(q.ToSmallString(false), "\n"), nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
