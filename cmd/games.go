package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/SIgmaboy6796/game2/internal/config"
	"github.com/SIgmaboy6796/game2/internal/roomlog"
	"github.com/SIgmaboy6796/game2/internal/session"
	"github.com/SIgmaboy6796/game2/internal/ui"
)

var (
	gamesFlags  clientFlags
	flagWatch   bool
	flagHistory bool
)

var gamesCmd = &cobra.Command{
	Use:     "games",
	Aliases: []string{"ls"},
	Short:   "List open lobbies",
	Long: `List the rooms the relay currently knows about.

Examples:
  pewshoot games
  pewshoot games --watch
  pewshoot games --history`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(gamesFlags.options())
		if err != nil {
			return err
		}
		if flagHistory {
			return showHistory(cmd.Context(), cfg)
		}
		return listGames(cmd.Context(), cfg, flagWatch)
	},
}

func listGames(ctx context.Context, cfg *config.Config, watch bool) error {
	sp := ui.NewConnectionSpinner("Connecting to relay...")
	sp.Start()
	rc, err := NewRelayContext(ctx, cfg)
	if err != nil {
		sp.Stop()
		return err
	}
	defer rc.Close()

	games, err := rc.Matchmaker.AwaitGames(ctx)
	sp.Stop()
	if err != nil {
		return session.NewError("list games", err)
	}
	fmt.Println(ui.GamesView(games))
	if !watch {
		return nil
	}

	ui.PrintInfo("Watching for changes, Ctrl+C to stop")
	mm := rc.Matchmaker
	for {
		select {
		case g := <-mm.RoomAdded:
			ui.PrintSuccessf("%s opened by %s", g.RoomCode, g.Nametag)
		case code := <-mm.RoomClosed:
			ui.PrintWarning(code + " closed")
		case <-mm.Done():
			return session.NewError("watch games", session.ErrClosed)
		case <-ctx.Done():
			return nil
		}

		games, err := mm.AwaitGames(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return session.NewError("list games", err)
		}
		fmt.Println(ui.GamesView(games))
	}
}

func historyURL(cfg *config.Config) string {
	scheme := "https"
	if cfg.Insecure {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/api/history", scheme, cfg.Domain)
}

func showHistory(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, historyURL(cfg), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return session.NewError("fetch history", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("relay at %s keeps no room history", cfg.Domain)
	}
	if resp.StatusCode != http.StatusOK {
		return session.WrapError("fetch history", fmt.Errorf("status %d", resp.StatusCode), cfg.Domain)
	}

	var body struct {
		Rooms []roomlog.Entry `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return session.NewError("decode history", err)
	}

	rows := make([]ui.HistoryRow, 0, len(body.Rooms))
	for _, e := range body.Rooms {
		closed := "open"
		if e.ClosedAt != nil {
			closed = fmt.Sprintf("%s (%s)", e.ClosedAt.Format(time.TimeOnly), e.CloseReason)
		}
		rows = append(rows, ui.HistoryRow{RoomCode: e.RoomCode, Nametag: e.Nametag, CreatedAt: e.CreatedAt, Closed: closed})
	}
	fmt.Println(ui.HistoryView(rows))
	return nil
}

func init() {
	rootCmd.AddCommand(gamesCmd)

	gamesFlags.register(gamesCmd)
	gamesCmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "Keep listening for rooms opening and closing")
	gamesCmd.Flags().BoolVar(&flagHistory, "history", false, "Show the relay's recent room history")
}
