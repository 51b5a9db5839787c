package commands

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/etlgraph/internal/dag"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// ImpactOptions holds options for the impact command.
type ImpactOptions struct {
	Upstream   bool
	Downstream bool
}

// NewImpactCommand creates the impact command.
func NewImpactCommand() *cobra.Command {
	opts := &ImpactOptions{}

	cmd := &cobra.Command{
		Use:   "impact <table>",
		Short: "Show what a table feeds, or is fed by",
		Long: `Walk the stored lineage graph from a table and list every operation and
table downstream of it. With --upstream, also list everything it is built from.

The argument is a table name or a node id (table:... or operation:...).
Run "etlgraph extract --store" first to populate the state database.`,
		Example: `  # Everything built from staging_water
  etlgraph impact staging_water

  # Both directions, as JSON
  etlgraph impact dw.fact_water --upstream -o json

  # Only what fact_water is built from
  etlgraph impact fact_water --upstream --downstream=false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImpact(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Upstream, "upstream", false, "Include upstream dependencies")
	cmd.Flags().BoolVar(&opts.Downstream, "downstream", true, "Include downstream dependents")

	return cmd
}

// nodeID turns a table name into its node id; ids pass through.
func nodeID(arg string) string {
	if graph.IsTableID(arg) || strings.HasPrefix(arg, "operation:") {
		return arg
	}
	return graph.TableID(arg)
}

func runImpact(cmd *cobra.Command, arg string, opts *ImpactOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	store, err := cc.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	b, err := store.Load(ctx)
	if err != nil {
		return err
	}

	id := nodeID(arg)
	flow, err := dag.FromBatch(b)
	if err != nil {
		cc.Logger.Warn("stored graph has invalid data-flow edges", "error", err)
	}
	imp, err := flow.Impact(id, opts.Upstream, opts.Downstream)
	if errors.Is(err, dag.ErrUnknownNode) {
		return fmt.Errorf("%s is not in the stored graph (run extract --store first)", id)
	}
	if err != nil {
		return err
	}

	if cc.Mode == ModeJSON {
		return renderJSON(cc.Out, imp)
	}

	t := newTable(cc.Out, "Impact of "+imp.Root, table.Row{"Direction", "ID", "Kind"})
	for _, u := range imp.Upstream {
		t.AppendRow(table.Row{direction("upstream", u, imp.Parents), u, kindOf(u)})
	}
	for _, d := range imp.Downstream {
		t.AppendRow(table.Row{direction("downstream", d, imp.Children), d, kindOf(d)})
	}
	t.Render()
	_, _ = fmt.Fprintf(cc.Out, "%d upstream, %d downstream\n", len(imp.Upstream), len(imp.Downstream))
	return nil
}

func direction(dir, id string, direct []string) string {
	if slices.Contains(direct, id) {
		return dir + " (direct)"
	}
	return dir
}

func kindOf(id string) graph.NodeKind {
	if graph.IsTableID(id) {
		return graph.KindTable
	}
	return graph.KindOperation
}
