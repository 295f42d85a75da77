package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoState/pkg/feed"
	"github.com/willibrandon/ChronoState/pkg/metrics"
	"github.com/willibrandon/ChronoState/pkg/replay"
	"github.com/willibrandon/ChronoState/pkg/sim"
	"github.com/willibrandon/ChronoState/pkg/version"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr     string
		session  string
		interval time.Duration
		world    worldFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live divergence feed and metrics",
		Long: `Starts an HTTP server with a websocket feed of divergences and a
prometheus endpoint.

Endpoints:
  GET /          Build information
  WS  /ws        Divergences and validation summaries as JSON
  GET /metrics   Prometheus metrics (path set by metrics.path)

With --session the server validates the demo world against that session,
once or every --interval, and publishes the results on the feed.`,
		Example: `  chronostate serve
  chronostate serve --addr :9090 --session nightly --interval 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Feed.Addr
			}
			if err := world.validate(); err != nil {
				return err
			}

			hub := feed.NewHub(a.logger)
			hub.Session = session
			defer hub.Close()

			var m *metrics.Metrics
			mux := http.NewServeMux()
			mux.HandleFunc("/ws", hub.HandleWebSocket)
			if a.cfg.Metrics.Enabled {
				var err error
				if m, err = metrics.New(nil); err != nil {
					return err
				}
				mux.Handle(a.cfg.Metrics.Path, m.Handler())
			}
			mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/" {
					http.NotFound(w, r)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_ = writeJSON(w, map[string]any{
					"version": version.Get(),
					"clients": hub.Clients(),
					"session": session,
				})
			})

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			a.logger.Printf("feed:    ws://%s/ws", ln.Addr())
			if m != nil {
				a.logger.Printf("metrics: http://%s%s", ln.Addr(), a.cfg.Metrics.Path)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", ln.Addr())

			ctx := cmd.Context()
			errCh := make(chan error, 2)
			go func() {
				if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
			if session != "" {
				go func() {
					if err := a.validateLoop(ctx, hub, m, session, world, interval); err != nil {
						errCh <- err
					}
				}()
			}

			select {
			case err = <-errCh:
			case <-ctx.Done():
				a.logger.Println("shutting down...")
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); err == nil {
				err = serr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "address to listen on (default feed.addr)")
	cmd.Flags().StringVar(&session, "session", "", "session to validate and publish")
	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat validation at this interval (0 = once)")
	world.register(cmd, 0)

	return cmd
}

func (a *app) validateLoop(ctx context.Context, hub *feed.Hub, m *metrics.Metrics, session string, world worldFlags, interval time.Duration) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts, err := a.replayOptions(m, hub)
	if err != nil {
		return err
	}
	s := replay.NewSession(session, store, opts)

	for {
		summary, err := s.Validate(ctx, sim.NewDemoWorld(world.bodies), world.steps, world.dt)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		hub.Broadcast(feed.Message{Type: "summary", Summary: summary})

		if interval <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
