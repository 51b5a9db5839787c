package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/etlgraph/internal/assemble"
	"github.com/leapstack-labs/etlgraph/internal/dag"
	"github.com/leapstack-labs/etlgraph/internal/discover"
	"github.com/leapstack-labs/etlgraph/internal/engine"
	"github.com/leapstack-labs/etlgraph/internal/metrics"
	"github.com/leapstack-labs/etlgraph/internal/state"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// ExtractOptions holds options for the extract command.
type ExtractOptions struct {
	Store  bool
	FailOn string
}

// extractOutput is the json output of the extract command.
type extractOutput struct {
	Graph  graph.Batch       `json:"graph"`
	Errors []discover.Error `json:"errors,omitempty"`
}

// NewExtractCommand creates the extract command.
func NewExtractCommand() *cobra.Command {
	opts := &ExtractOptions{}

	cmd := &cobra.Command{
		Use:   "extract [paths...]",
		Short: "Extract lineage from ETL scripts",
		Long: `Discover ETL scripts, extract their table and column lineage concurrently,
and print the merged graph with its diagnostics.

Paths may be files or directories. Directories are searched recursively for
*.sql, *.pks and *.pkb files unless --include says otherwise.`,
		Example: `  # Extract every script under etl/ and print a table view
  etlgraph extract etl -o text

  # Extract T-SQL scripts and persist the graph
  etlgraph extract --dialect tsql --store sql/

  # Fail when any script produced a warning
  etlgraph extract etl --fail-on warning`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Store, "store", false, "Apply the extracted graph to the state database")
	cmd.Flags().StringVar(&opts.FailOn, "fail-on", "", "Exit with an error if a diagnostic at this severity or above is reported (error|warning|info)")
	cmd.Flags().StringSlice("include", nil, "File name patterns of scripts (default *.sql,*.pks,*.pkb)")
	cmd.Flags().StringSlice("exclude", nil, "File and directory name patterns to skip")

	return cmd
}

func runExtract(cmd *cobra.Command, args []string, opts *ExtractOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	failOn := graph.Severity(-1)
	if opts.FailOn != "" {
		sev, ok := graph.ParseSeverity(opts.FailOn)
		if !ok {
			return fmt.Errorf("invalid --fail-on severity %q", opts.FailOn)
		}
		failOn = sev
	}

	pack, err := cc.Rules("")
	if err != nil {
		return err
	}

	start := time.Now()
	found, err := discover.Discover(cc.Paths(args), cc.DiscoverOptions())
	if err != nil {
		return err
	}
	for _, e := range found.Errors {
		cc.Logger.Warn("failed to read script", "path", e.Path, "error", e.Message)
	}
	cc.Logger.Debug("discovered scripts", "scripts", len(found.Scripts), "duration", found.Duration)

	reg := metrics.NewRegistry()
	eng := engine.New(engine.Config{Logger: cc.Logger, Metrics: reg, Workers: cc.Cfg.Workers})

	inputs := make([]engine.Input, 0, len(found.Scripts))
	for _, sc := range found.Scripts {
		inputs = append(inputs, engine.Input{
			ScriptText: sc.Text,
			SourceID:   sc.SourceID,
			Technology: cc.Cfg.Technology,
			Rules:      pack,
		})
	}
	results, err := eng.ExtractAll(ctx, inputs)
	if err != nil {
		return err
	}

	batches := make([]graph.Batch, 0, len(results))
	applied := make([]state.SourceBatch, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			found.Errors = append(found.Errors, discover.Error{Path: r.SourceID, Message: r.Err.Error()})
			continue
		}
		batches = append(batches, r.Batch)
		applied = append(applied, state.SourceBatch{SourceID: r.SourceID, Batch: r.Batch})
	}
	merged := assemble.Merge(batches...)
	elapsed := time.Since(start)

	if opts.Store {
		store, err := cc.OpenStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		stored, err := store.Apply(ctx, applied)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cc.ErrOut, "Stored %d scripts in %s (%d nodes, %d edges)\n",
			len(applied), cc.Cfg.StatePath, len(stored.Nodes), len(stored.Edges))
	}

	switch cc.Mode {
	case ModeJSON:
		if err := renderJSON(cc.Out, extractOutput{Graph: merged, Errors: found.Errors}); err != nil {
			return err
		}
	default:
		renderGraph(cc.Out, merged)
		renderDiagnostics(cc.Out, merged.Diagnostics)
		flow, err := dag.FromBatch(merged)
		if err != nil {
			cc.Logger.Warn("extracted graph has invalid data-flow edges", "error", err)
		}
		renderFlow(cc.Out, flow.Summarize())
		summary, err := reg.Summary()
		if err != nil {
			return err
		}
		renderSummary(cc.Out, summary, elapsed)
		if found.HasErrors() {
			for _, e := range found.Errors {
				_, _ = fmt.Fprintf(cc.ErrOut, "Warning: %s: %s\n", e.Path, e.Message)
			}
		}
	}

	if failOn >= 0 {
		for _, d := range merged.Diagnostics {
			if d.Severity <= failOn {
				return fmt.Errorf("extraction reported %s diagnostics", d.Severity)
			}
		}
	}
	return nil
}
