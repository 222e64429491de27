package ui

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/SIgmaboy6796/game2/internal/lobby"
	"github.com/SIgmaboy6796/game2/internal/registry"
)

func debugWriter(title string) table.Writer {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// DebugPlayers dumps the roster with peer ids.
func DebugPlayers(players []lobby.Player) string {
	t := debugWriter("Players")
	t.AppendHeader(table.Row{"Peer ID", "Nametag"})
	for _, p := range players {
		t.AppendRow(table.Row{p.PeerID, p.Nametag})
	}
	t.AppendFooter(table.Row{"Total", len(players)})
	return t.Render()
}

// DebugConnections dumps every tracked link with its transport flags.
func DebugConnections(conns []registry.Connection, now time.Time) string {
	t := debugWriter("Connections")
	t.AppendHeader(table.Row{"Peer ID", "Nametag", "State", "Open", "Reliable", "Age"})
	for _, c := range conns {
		age := "-"
		if !c.OpenedAt.IsZero() {
			age = now.Sub(c.OpenedAt).Truncate(time.Second).String()
		}
		t.AppendRow(table.Row{c.PeerID, c.Nametag, c.State, c.TransportOpen(), c.Reliable, age})
	}
	t.AppendFooter(table.Row{"Total", fmt.Sprint(len(conns))})
	return t.Render()
}
