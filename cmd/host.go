package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SIgmaboy6796/game2/internal/session"
	"github.com/SIgmaboy6796/game2/internal/ui"
)

var (
	hostFlags clientFlags
	flagOpen  bool
	flagQR    bool
)

var hostCmd = &cobra.Command{
	Use:     "host",
	Aliases: []string{"h"},
	Short:   "Host a lobby and get a room code",
	Long: `Host a lobby. The relay assigns a short room code that other players
use to find you; they then connect to you directly.

By default every joiner waits until you accept (a) or decline (d) them.

Examples:
  pewshoot host --name Alice
  pewshoot host --open --qr
  pewshoot host --domain localhost:8080 --insecure`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostLobby(cmd.Context())
	},
}

func hostLobby(ctx context.Context) error {
	cfg, err := LoadConfig(hostFlags.options())
	if err != nil {
		return err
	}

	policy := session.PolicyApproval
	if flagOpen {
		policy = session.PolicyOpen
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, wait, err := startSession(ctx, cfg, policy)
	if err != nil {
		return err
	}
	defer wait()
	defer cancel()

	if err := sess.SetHost(); err != nil {
		return err
	}
	peerID, err := bringOnline(ctx, sess, cfg.Nametag)
	if err != nil {
		return err
	}

	sp := ui.NewConnectionSpinner("Registering room with relay...")
	sp.Start()
	rc, err := NewRelayContext(ctx, cfg)
	if err != nil {
		sp.Stop()
		return err
	}
	// The relay drops the room when this connection closes.
	defer rc.Close()

	code, err := rc.Matchmaker.AwaitRoomCode(ctx, peerID, cfg.Nametag)
	sp.Stop()
	if err != nil {
		return session.NewError("host game", err)
	}

	fmt.Println(ui.RoomCard{Code: code, Link: cfg.GetJoinLink(code), QR: flagQR}.View())
	fmt.Println()

	return runLobby(ctx, sess, ui.LobbyOptions{Room: code, HostID: peerID})
}

func init() {
	rootCmd.AddCommand(hostCmd)

	hostFlags.register(hostCmd)
	hostCmd.Flags().BoolVar(&flagOpen, "open", false, "Admit joiners without asking")
	hostCmd.Flags().BoolVar(&flagQR, "qr", false, "Show a QR code for the join link")
}
