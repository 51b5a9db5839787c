package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/etlgraph/internal/engine"
	"github.com/leapstack-labs/etlgraph/internal/metrics"
	"github.com/leapstack-labs/etlgraph/internal/state"
	"github.com/leapstack-labs/etlgraph/internal/watch"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Keep the stored graph up to date as scripts change",
		Long: `Extract every script once, then watch the paths and re-extract scripts
as they are written, created or removed. Each change is applied to the state
database as a new run. Stop with Ctrl-C.`,
		Example: `  etlgraph watch etl/
  etlgraph watch etl/ --debounce 500ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContext(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := cc.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			w, err := cc.newWatcher(store, nil, args, func(b graph.Batch) {
				_, _ = fmt.Fprintf(cc.ErrOut, "Graph updated: %d nodes, %d edges, %d diagnostics\n",
					len(b.Nodes), len(b.Edges), len(b.Diagnostics))
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cc.ErrOut, "Watching %v (Ctrl-C to stop)\n", cc.Paths(args))
			return w.Run(ctx)
		},
	}

	cmd.Flags().Duration("debounce", 0, "Quiet period before changed scripts are re-extracted")
	cmd.Flags().StringSlice("include", nil, "File name patterns of scripts (default *.sql,*.pks,*.pkb)")
	cmd.Flags().StringSlice("exclude", nil, "File and directory name patterns to skip")
	return cmd
}

func (c *CommandContext) newWatcher(store *state.SQLiteStore, reg *metrics.Registry, args []string, onApply func(graph.Batch)) (*watch.Watcher, error) {
	pack, err := c.Rules("")
	if err != nil {
		return nil, err
	}
	return watch.New(watch.Config{
		Roots:      c.Paths(args),
		Discover:   c.DiscoverOptions(),
		Engine:     engine.New(engine.Config{Logger: c.Logger, Metrics: reg, Workers: c.Cfg.Workers}),
		Rules:      pack,
		Technology: c.Cfg.Technology,
		Store:      store,
		Debounce:   c.Cfg.Watch.Debounce,
		Logger:     c.Logger,
		OnApply:    onApply,
	}), nil
}
