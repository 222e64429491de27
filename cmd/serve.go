package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/SIgmaboy6796/game2/internal/config"
	"github.com/SIgmaboy6796/game2/internal/logging"
	"github.com/SIgmaboy6796/game2/internal/relay"
	"github.com/SIgmaboy6796/game2/internal/roomlog"
	"github.com/SIgmaboy6796/game2/internal/server"
)

const shutdownWait = 5 * time.Second

var serveOpts config.ServerOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the matchmaking relay and peer broker",
	Long: `Run the matchmaking relay (/ws), the WebRTC peer broker (/peer) and
the JSON endpoints (/health, /api/games, /api/history).

Every flag can also be set from the environment: PORT, ROOM_TTL,
SWEEP_INTERVAL, MAX_ROOM_AGE, MAX_ROOMS, ROOM_CODE_STYLE, HISTORY_DB,
ALLOWED_ORIGINS.

Examples:
  pewshoot serve
  pewshoot serve --listen :9000 --room-ttl 30m --history rooms.db
  pewshoot serve --sweep 1m --max-age 2h --code-style numeric`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(logging.LevelFromEnv(logging.DefaultServerLevel))
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	cfg, err := config.LoadServer(serveOpts)
	if err != nil {
		return err
	}

	opts := relay.Options{
		TTL:           cfg.RoomTTL,
		SweepInterval: cfg.SweepInterval,
		MaxRoomAge:    cfg.MaxRoomAge,
		MaxRooms:      cfg.MaxRooms,
		CodeStyle:     cfg.CodeStyle,
	}
	routes := server.Options{AllowedOrigins: cfg.AllowedOrigins}

	if cfg.HistoryDB != "" {
		store, err := roomlog.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Recorder = store
		routes.History = store
	}

	hub, err := relay.NewHub(opts)
	if err != nil {
		return err
	}
	broker := relay.NewBroker()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go hub.Run(ctx)
	go broker.Run(ctx)
	routes.Relay = hub
	routes.Broker = broker

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewRouter(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("relay listening", "addr", cfg.ListenAddr, "ttl", cfg.RoomTTL, "codes", cfg.CodeStyle, "history", cfg.HistoryDB != "")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down relay")
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownWait)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
	}

	// Let the hub record closing rooms before the history store closes.
	cancel()
	<-hub.Done()
	<-broker.Done()
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVarP(&serveOpts.ListenAddr, "listen", "l", "", "Listen address (default :8080, or :$PORT)")
	f.DurationVar(&serveOpts.RoomTTL, "room-ttl", 0, "Evict rooms this long after creation (default 1h)")
	f.DurationVar(&serveOpts.SweepInterval, "sweep", 0, "Interval of the stale room sweep (disabled by default)")
	f.DurationVar(&serveOpts.MaxRoomAge, "max-age", 0, "Age at which the sweep evicts a room (default 2h)")
	f.IntVar(&serveOpts.MaxRooms, "max-rooms", 0, "Maximum number of live rooms")
	f.StringVar(&serveOpts.CodeStyle, "code-style", "", "Room code alphabet: alnum, alpha or numeric")
	f.StringVar(&serveOpts.HistoryDB, "history", "", "SQLite file for the room history")
	f.StringVar(&serveOpts.AllowedOrigins, "origins", "", "Allowed browser origins, comma separated")
}
