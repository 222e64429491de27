package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SIgmaboy6796/game2/internal/ui"
	"github.com/SIgmaboy6796/game2/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "pewshoot",
	Short:   "Peer-to-peer FPS lobby: host a room, share the code, play over WebRTC",
	Long:    `pewshoot runs the lobby side of a peer-to-peer shooter. One player hosts a room and gets a short code from the matchmaking relay; others join with the code and connect straight to the host over WebRTC data channels. The same binary also runs the relay itself.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
