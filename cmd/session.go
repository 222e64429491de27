package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/SIgmaboy6796/game2/internal/config"
	"github.com/SIgmaboy6796/game2/internal/lobby"
	"github.com/SIgmaboy6796/game2/internal/session"
	"github.com/SIgmaboy6796/game2/internal/signaling"
	"github.com/SIgmaboy6796/game2/internal/transport"
	"github.com/SIgmaboy6796/game2/internal/ui"
)

// clientFlags are shared by every command that talks to the relay.
type clientFlags struct {
	domain        string
	insecure      bool
	stun          string
	turn          string
	turnUser      string
	turnPass      string
	relay         bool
	nametag       string
	serialization string
	unreliable    bool
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.domain, "domain", "", "Relay domain")
	cmd.Flags().BoolVar(&f.insecure, "insecure", false, "Use ws:// and http:// (local relays)")
	cmd.Flags().StringVarP(&f.stun, "stun", "s", "", "Custom STUN server(s), comma separated")
	cmd.Flags().StringVarP(&f.turn, "turn", "t", "", "Custom TURN server")
	cmd.Flags().StringVarP(&f.turnUser, "turn-user", "u", "", "TURN username")
	cmd.Flags().StringVarP(&f.turnPass, "turn-pass", "p", "", "TURN password")
	cmd.Flags().BoolVarP(&f.relay, "relay", "r", false, "Force relay mode")
	cmd.Flags().StringVarP(&f.nametag, "name", "n", "", "Display name in the lobby")
	cmd.Flags().StringVar(&f.serialization, "serialization", "", "Lobby wire format: binary or json")
	cmd.Flags().BoolVar(&f.unreliable, "unreliable", false, "Open unordered data channels without retransmits")
}

func (f *clientFlags) options() config.Options {
	return config.Options{
		Domain:        f.domain,
		Insecure:      f.insecure,
		STUNServer:    f.stun,
		TURNServer:    f.turn,
		TURNUser:      f.turnUser,
		TURNPass:      f.turnPass,
		ForceRelay:    f.relay,
		Nametag:       f.nametag,
		Serialization: f.serialization,
		Unreliable:    f.unreliable,
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, session.NewError("load config", err)
	}
	return cfg, nil
}

// RelayContext is an open matchmaking relay connection.
type RelayContext struct {
	Client     *signaling.Client
	Matchmaker *signaling.Matchmaker
	Config     *config.Config
}

func NewRelayContext(ctx context.Context, cfg *config.Config) (*RelayContext, error) {
	client := signaling.NewClient(cfg.RelayURL)
	if err := client.Connect(ctx); err != nil {
		return nil, session.NewError("connect to relay", err)
	}

	mm := signaling.NewMatchmaker(client)
	go mm.Start()

	return &RelayContext{
		Client:     client,
		Matchmaker: mm,
		Config:     cfg,
	}, nil
}

func (c *RelayContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

// startSession runs a WebRTC-backed session until ctx ends. The returned
// wait function blocks until the session has shut down.
func startSession(ctx context.Context, cfg *config.Config, policy session.Policy) (*session.Session, func(), error) {
	codec, err := lobby.NewCodec(cfg.Serialization)
	if err != nil {
		return nil, nil, err
	}

	sess := session.New(transport.NewWebRTC(cfg), session.Options{Policy: policy, Codec: codec})
	go sess.Run(ctx)
	return sess, func() { <-sess.Done() }, nil
}

// bringOnline initializes sess and waits for the broker to assign an identity.
func bringOnline(ctx context.Context, sess *session.Session, nametag string) (string, error) {
	sp := ui.NewConnectionSpinner("Connecting to peer network...")
	sp.Start()
	defer sp.Stop()

	if err := sess.Initialize(ctx, nametag); err != nil {
		return "", err
	}
	id, err := sess.WaitIdentity(ctx)
	if err != nil {
		return "", session.NewError("initialize", err)
	}
	return id, nil
}

// runLobby shows the lobby screen until the user quits or the session ends.
func runLobby(ctx context.Context, sess *session.Session, opts ui.LobbyOptions) error {
	model := ui.NewLobbyModel(sess, opts)
	final, err := tea.NewProgram(model, tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("lobby screen: %w", err)
	}
	if m, ok := final.(*ui.LobbyModel); ok && m.Closed() {
		ui.PrintWarning("Session ended")
	}
	return nil
}
