package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SIgmaboy6796/game2/internal/config"
	"github.com/SIgmaboy6796/game2/internal/relay"
	"github.com/SIgmaboy6796/game2/internal/session"
	"github.com/SIgmaboy6796/game2/internal/signaling"
	"github.com/SIgmaboy6796/game2/internal/ui"
)

const connectTimeout = 45 * time.Second

var joinFlags clientFlags

var joinCmd = &cobra.Command{
	Use:     "join <room-code|link>",
	Aliases: []string{"j"},
	Short:   "Join a lobby by room code",
	Long: `Join a hosted lobby. The relay resolves the room code to the host,
then you connect to the host directly.

Examples:
  pewshoot join QX7M
  pewshoot join https://pewshoot.fly.dev/join/QX7M
  pewshoot join qx7m --name Bob --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinLobby(cmd.Context(), code)
	},
}

func joinLobby(ctx context.Context, code string) error {
	cfg, err := LoadConfig(joinFlags.options())
	if err != nil {
		return err
	}

	hostID, err := resolveRoom(ctx, cfg, code)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, wait, err := startSession(ctx, cfg, session.PolicyApproval)
	if err != nil {
		return err
	}
	defer wait()
	defer cancel()

	if _, err := bringOnline(ctx, sess, cfg.Nametag); err != nil {
		return err
	}

	if _, err := sess.ConnectToHost(hostID); err != nil {
		return err
	}
	if err := awaitHostLink(ctx, sess, hostID); err != nil {
		return err
	}

	return runLobby(ctx, sess, ui.LobbyOptions{Room: code, HostID: hostID})
}

func resolveRoom(ctx context.Context, cfg *config.Config, code string) (string, error) {
	sp := ui.NewConnectionSpinner(fmt.Sprintf("Looking up room %s...", code))
	sp.Start()
	defer sp.Stop()

	rc, err := NewRelayContext(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	hostID, err := rc.Matchmaker.AwaitPeerID(ctx, code)
	if errors.Is(err, signaling.ErrRoomNotFound) {
		return "", fmt.Errorf("room %s not found, check the code or ask the host for a new one", code)
	}
	if err != nil {
		return "", session.NewError("look up room", err)
	}
	return hostID, nil
}

// awaitHostLink waits until the direct link to the host is usable.
func awaitHostLink(ctx context.Context, sess *session.Session, hostID string) error {
	sp := ui.NewWaitingSpinner("Connecting to host...")
	sp.Start()
	defer sp.Stop()

	timeout := time.NewTimer(connectTimeout)
	defer timeout.Stop()

	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return session.ErrClosed
			}
			switch {
			case ev.Kind == session.EventConnectionOpen && ev.PeerID == hostID:
				return nil
			case ev.Kind == session.EventError && ev.PeerID == hostID:
				if errors.Is(ev.Err, session.ErrHostClosed) {
					return fmt.Errorf("host declined or closed the connection")
				}
				return ev.Err
			}
		case <-timeout.C:
			return session.NewPeerError("connect", hostID, errors.New("timed out"))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room code cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		return extractRoomCodeFromURL(input)
	}
	return relay.NormalizeCode(input), nil
}

func extractRoomCodeFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", session.NewError("parse URL", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "join" && i+1 < len(parts) && parts[i+1] != "" {
			return relay.NormalizeCode(parts[i+1]), nil
		}
	}
	return "", fmt.Errorf("could not extract room code from URL: %s", urlStr)
}

func init() {
	rootCmd.AddCommand(joinCmd)
	joinFlags.register(joinCmd)
}
