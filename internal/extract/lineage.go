package extract

import (
	"fmt"

	"github.com/leapstack-labs/etlgraph/internal/script"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// item is one projected value of a select list, VALUES row or SET clause.
type item struct {
	expr string // comment-free, whitespace-collapsed source text
	name string // alias or bare column name as written, "" when none
	kind graph.TransformKind
	low  bool
	star bool
}

func (it item) entry(target string) graph.ColumnLineage {
	return graph.ColumnLineage{
		SourceExpression:   it.expr,
		TargetColumn:       target,
		TransformationKind: it.kind,
		LowConfidence:      it.low,
	}
}

// assignment is one SET item. A tuple assignment has several columns.
type assignment struct {
	columns []string
	value   item
}

// cleanText strips comments and collapses whitespace.
func cleanText(s string) string {
	return script.CollapseSpace(script.StripComments(s))
}

// targetName normalizes a target column, dropping any qualifier.
func targetName(raw string) string {
	return graph.ShortName(graph.NormalizeName(raw))
}

// addEntry appends e, or merges it into the entry for the same target.
func addEntry(list []graph.ColumnLineage, e graph.ColumnLineage) []graph.ColumnLineage {
	for i := range list {
		if list[i].TargetColumn == e.TargetColumn {
			list[i] = graph.MergeLineageEntry(list[i], e)
			return list
		}
	}
	return append(list, e)
}

// lineageBuilder accumulates diagnostics while building lineage for one
// written table.
type lineageBuilder struct {
	table string
	diags *[]graph.Diagnostic
}

// project maps the branches of a query (one per set-operation term) onto
// the target columns. Without an explicit column list the targets come from
// the first branch: alias, bare column name, or column<N>.
func (b lineageBuilder) project(columns []string, branches [][]item) []graph.ColumnLineage {
	if len(branches) == 0 {
		return nil
	}
	explicit := len(columns) > 0
	targets := make([]string, 0, len(columns))
	if explicit {
		for _, c := range columns {
			targets = append(targets, targetName(c))
		}
	} else {
		for i, it := range branches[0] {
			switch {
			case it.star:
				*b.diags = append(*b.diags, info("%s: %s cannot be expanded without a column list and was skipped", b.table, it.expr))
				targets = append(targets, "")
			case it.name != "":
				targets = append(targets, targetName(it.name))
			default:
				targets = append(targets, fmt.Sprintf("column%d", i+1))
			}
		}
	}

	var out []graph.ColumnLineage
	for i, items := range branches {
		list := b.pair(targets, explicit, items)
		if i == 0 {
			out = list
			continue
		}
		out = graph.MergeLineage(out, list)
	}
	return out
}

// pair matches items to targets by position.
func (b lineageBuilder) pair(targets []string, explicit bool, items []item) []graph.ColumnLineage {
	var out []graph.ColumnLineage
	if explicit {
		for _, it := range items {
			if !it.star {
				continue
			}
			kind := graph.Transformed
			if len(items) == 1 {
				kind = graph.Direct
			}
			*b.diags = append(*b.diags, info("%s: %s mapped onto %d target columns with low confidence", b.table, it.expr, len(targets)))
			for _, t := range targets {
				out = addEntry(out, graph.ColumnLineage{
					SourceExpression:   it.expr,
					TargetColumn:       t,
					TransformationKind: kind,
					LowConfidence:      true,
				})
			}
			return out
		}
	}

	if len(items) != len(targets) {
		*b.diags = append(*b.diags, warning("column count mismatch writing %s: %d target columns, %d expressions",
			b.table, len(targets), len(items)))
	}
	for i, t := range targets {
		switch {
		case t == "":
		case i >= len(items):
			out = addEntry(out, graph.ColumnLineage{
				TargetColumn:       t,
				TransformationKind: graph.Transformed,
				LowConfidence:      true,
			})
		case items[i].star:
		default:
			out = addEntry(out, items[i].entry(t))
		}
	}
	return out
}

// assign builds the lineage of SET assignments. A tuple assignment gives
// every column the whole right-hand side with low confidence.
func (b lineageBuilder) assign(set []assignment) []graph.ColumnLineage {
	var out []graph.ColumnLineage
	for _, a := range set {
		if len(a.columns) == 1 {
			out = addEntry(out, a.value.entry(targetName(a.columns[0])))
			continue
		}
		for _, c := range a.columns {
			out = addEntry(out, graph.ColumnLineage{
				SourceExpression:   a.value.expr,
				TargetColumn:       targetName(c),
				TransformationKind: graph.Transformed,
				LowConfidence:      true,
			})
		}
	}
	return out
}

// combine merges more lineage into list entry by entry.
func combine(list, more []graph.ColumnLineage) []graph.ColumnLineage {
	for _, e := range more {
		list = addEntry(list, e)
	}
	return list
}
