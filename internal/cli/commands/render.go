package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/etlgraph/internal/dag"
	"github.com/leapstack-labs/etlgraph/internal/metrics"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, title string, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	t.AppendHeader(header)
	return t
}

// renderGraph prints the nodes and edges of b as tables.
func renderGraph(w io.Writer, b graph.Batch) {
	if len(b.Nodes) == 0 {
		_, _ = fmt.Fprintln(w, "(empty graph)")
		return
	}

	nodes := newTable(w, fmt.Sprintf("Nodes (%d)", len(b.Nodes)), table.Row{"ID", "Kind", "Technology", "Detail"})
	for _, n := range b.Nodes {
		nodes.AppendRow(table.Row{n.ID, n.Kind, n.Technology, nodeDetail(n)})
	}
	nodes.Render()

	if len(b.Edges) == 0 {
		return
	}
	edges := newTable(w, fmt.Sprintf("Edges (%d)", len(b.Edges)), table.Row{"Source", "Kind", "Target", "Detail"})
	for _, e := range b.Edges {
		edges.AppendRow(table.Row{e.Source, e.Kind, e.Target, edgeDetail(e)})
	}
	edges.Render()
}

func nodeDetail(n graph.Node) string {
	var parts []string
	if op := n.Operation; op != nil {
		if op.HasExplicitTaskName {
			parts = append(parts, "explicit task")
		}
		if op.BlockKind != "" {
			parts = append(parts, op.BlockKind)
		}
		parts = append(parts, fmt.Sprintf("%d statements", op.StatementCount))
		if op.ExtractionPath != "" {
			parts = append(parts, op.ExtractionPath)
		}
		if op.ErrorHandling {
			parts = append(parts, "error handling")
		}
	}
	if t := n.Table; t != nil && len(t.Columns) > 0 {
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			if c.CanonicalType != "" {
				cols = append(cols, c.Name+" "+c.CanonicalType)
			} else {
				cols = append(cols, c.Name)
			}
		}
		parts = append(parts, strings.Join(cols, ", "))
	}
	return strings.Join(parts, "; ")
}

func edgeDetail(e graph.Edge) string {
	switch e.Kind {
	case graph.EdgeJoins:
		return strings.Join(e.JoinTypes, ", ")
	case graph.EdgeWrites:
		lines := make([]string, 0, len(e.ColumnLineage))
		for _, l := range e.ColumnLineage {
			line := fmt.Sprintf("%s <- %s [%s]", l.TargetColumn, l.SourceExpression, l.TransformationKind)
			if l.Label != "" {
				line += " " + l.Label
			}
			if l.LowConfidence {
				line += " (low confidence)"
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	}
	return ""
}

// renderDiagnostics prints diagnostics as a table.
func renderDiagnostics(w io.Writer, diags []graph.Diagnostic) {
	if len(diags) == 0 {
		_, _ = fmt.Fprintln(w, "No diagnostics")
		return
	}
	t := newTable(w, fmt.Sprintf("Diagnostics (%d)", len(diags)), table.Row{"Source", "Severity", "Message"})
	for _, d := range diags {
		t.AppendRow(table.Row{d.SourceID, d.Severity, d.Message})
	}
	t.Render()
}

// renderSummary prints the processing summary gathered while extracting.
func renderSummary(w io.Writer, s metrics.Summary, elapsed time.Duration) {
	t := newTable(w, "Summary", table.Row{"Metric", "Value"})
	addCounts := func(prefix string, m map[string]int) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.AppendRow(table.Row{prefix + " (" + k + ")", m[k]})
		}
	}
	addCounts("scripts", s.Scripts)
	if s.ScriptErrors > 0 {
		t.AppendRow(table.Row{"script errors", s.ScriptErrors})
	}
	addCounts("statements", s.Statements)
	addCounts("nodes", s.Nodes)
	addCounts("edges", s.Edges)
	addCounts("lineage entries", s.Lineage)
	addCounts("diagnostics", s.Diagnostics)
	t.AppendSeparator()
	t.AppendRow(table.Row{"elapsed", elapsed.Round(time.Millisecond)})
	t.Render()
}

// renderFlow prints the sources, sinks and cycle of the data flow.
func renderFlow(w io.Writer, s dag.Summary) {
	t := newTable(w, "Data flow", table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"sources", strings.Join(s.Sources, ", ")})
	t.AppendRow(table.Row{"sinks", strings.Join(s.Sinks, ", ")})
	if len(s.Cycle) > 0 {
		t.AppendRow(table.Row{"cycle", strings.Join(s.Cycle, " -> ")})
	}
	t.Render()
}
