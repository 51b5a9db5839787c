package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/etlgraph/internal/metrics"
	"github.com/leapstack-labs/etlgraph/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var watchPaths bool

	cmd := &cobra.Command{
		Use:   "serve [paths...]",
		Short: "Serve the stored graph over HTTP",
		Long: `Start a read-only HTTP API over the state database:

  GET /graph              the merged graph (?kind=table|operation)
  GET /nodes/{id}         one node with its incoming and outgoing edges
  GET /impact/{id}        upstream and downstream impact (?direction=up|down|both)
  GET /diagnostics        stored diagnostics (?severity=, ?source=)
  GET /runs               recent extraction runs (?limit=)
  GET /metrics            Prometheus metrics

Node ids contain "/" and "#"; escape them in the path. With --watch, the
given paths are watched and re-extracted into the store while serving.`,
		Example: `  etlgraph serve --addr :8766
  etlgraph serve --watch etl/
  curl localhost:8766/impact/table:staging_water?direction=down`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := cc.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			reg := metrics.NewRegistry()
			if nodes, edges, err := store.Counts(ctx); err == nil {
				reg.SetStored(nodes, edges)
			}

			cfg := server.Config{
				Store:   store,
				Metrics: reg,
				Addr:    cc.Cfg.Serve.Addr,
				Logger:  cc.Logger,
			}
			if watchPaths {
				w, err := cc.newWatcher(store, reg, args, nil)
				if err != nil {
					return err
				}
				cfg.Watch = w.Run
			}

			_, _ = fmt.Fprintf(cc.ErrOut, "Serving %s on http://%s\n", cc.Cfg.StatePath, cc.Cfg.Serve.Addr)
			return server.NewServer(cfg).Serve(ctx)
		},
	}

	cmd.Flags().String("addr", "", "Address to listen on (default 127.0.0.1:8766)")
	cmd.Flags().BoolVar(&watchPaths, "watch", false, "Watch the given paths and keep the store up to date")
	cmd.Flags().StringSlice("include", nil, "File name patterns of scripts when watching")
	cmd.Flags().StringSlice("exclude", nil, "File and directory name patterns to skip when watching")
	return cmd
}
