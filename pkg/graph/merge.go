package graph

import (
	"slices"
	"sort"
	"strings"
)

// Every merge function below is commutative and idempotent: merging a value
// with itself returns it unchanged, and argument order never matters.
// Inputs are never mutated.

// MergeTechnology combines two technology tags into a sorted,
// comma-separated set.
func MergeTechnology(a, b string) string {
	if a == b {
		return a
	}
	var tags []string
	for _, s := range []string{a, b} {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return strings.Join(sortedUnique(tags), ",")
}

// MergeNode combines two nodes with the same id.
func MergeNode(a, b Node) Node {
	out := Node{
		ID:         a.ID,
		Kind:       a.Kind,
		Name:       minNonEmpty(a.Name, b.Name),
		Technology: MergeTechnology(a.Technology, b.Technology),
		Operation:  mergeOperation(a.Operation, b.Operation),
		Table:      mergeTable(a.Table, b.Table),
	}
	return out
}

func mergeOperation(a, b *OperationInfo) *OperationInfo {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		c := *b
		return &c
	case b == nil:
		c := *a
		return &c
	}
	return &OperationInfo{
		TaskName:            minNonEmpty(a.TaskName, b.TaskName),
		HasExplicitTaskName: a.HasExplicitTaskName || b.HasExplicitTaskName,
		ErrorHandling:       a.ErrorHandling || b.ErrorHandling,
		SourceID:            minNonEmpty(a.SourceID, b.SourceID),
		BlockKind:           minNonEmpty(a.BlockKind, b.BlockKind),
		StatementCount:      max(a.StatementCount, b.StatementCount),
		ExtractionPath:      minNonEmpty(a.ExtractionPath, b.ExtractionPath),
	}
}

func mergeTable(a, b *TableInfo) *TableInfo {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return &TableInfo{Schema: b.Schema, Columns: slices.Clone(b.Columns)}
	case b == nil:
		return &TableInfo{Schema: a.Schema, Columns: slices.Clone(a.Columns)}
	}
	return &TableInfo{
		Schema:  minNonEmpty(a.Schema, b.Schema),
		Columns: mergeColumns(a.Columns, b.Columns),
	}
}

func mergeColumns(a, b []Column) []Column {
	switch {
	case slices.Equal(a, b), len(b) == 0:
		return slices.Clone(a)
	case len(a) == 0:
		return slices.Clone(b)
	}
	byName := make(map[string]Column, len(a)+len(b))
	for _, c := range append(slices.Clone(a), b...) {
		prev, ok := byName[c.Name]
		if !ok {
			byName[c.Name] = c
			continue
		}
		byName[c.Name] = Column{
			Name:          c.Name,
			DeclaredType:  minNonEmpty(prev.DeclaredType, c.DeclaredType),
			CanonicalType: minNonEmpty(prev.CanonicalType, c.CanonicalType),
		}
	}
	out := make([]Column, 0, len(byName))
	for _, c := range byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MergeEdge combines two edges with the same key.
func MergeEdge(a, b Edge) Edge {
	return Edge{
		Source:        a.Source,
		Target:        a.Target,
		Kind:          a.Kind,
		Technology:    MergeTechnology(a.Technology, b.Technology),
		ColumnLineage: MergeLineage(a.ColumnLineage, b.ColumnLineage),
		JoinTypes:     sortedUnique(append(slices.Clone(a.JoinTypes), b.JoinTypes...)),
		Conditions:    sortedUnique(append(slices.Clone(a.Conditions), b.Conditions...)),
	}
}

// MergeLineage accumulates two column lineage lists keyed by target column.
// When both lists name the same targets in the same order that order is
// kept, otherwise the result is sorted by target column.
func MergeLineage(a, b []ColumnLineage) []ColumnLineage {
	if len(b) == 0 {
		return cloneLineage(a)
	}
	if len(a) == 0 {
		return cloneLineage(b)
	}

	byTarget := make(map[string]ColumnLineage, len(a)+len(b))
	for _, list := range [][]ColumnLineage{a, b} {
		for _, e := range list {
			if prev, ok := byTarget[e.TargetColumn]; ok {
				byTarget[e.TargetColumn] = MergeLineageEntry(prev, e)
			} else {
				byTarget[e.TargetColumn] = cloneEntry(e)
			}
		}
	}

	var order []string
	if ta, tb := targets(a), targets(b); slices.Equal(ta, tb) {
		order = ta
	} else {
		order = make([]string, 0, len(byTarget))
		for t := range byTarget {
			order = append(order, t)
		}
		sort.Strings(order)
	}

	out := make([]ColumnLineage, 0, len(order))
	for _, t := range order {
		out = append(out, byTarget[t])
	}
	return out
}

// MergeLineageEntry combines two entries for the same target column.
// The strongest kind wins; the lexicographically smallest non-empty
// expression becomes primary and the others are kept as alternates.
func MergeLineageEntry(x, y ColumnLineage) ColumnLineage {
	var exprs []string
	for _, e := range []ColumnLineage{x, y} {
		exprs = append(exprs, e.SourceExpression)
		exprs = append(exprs, e.AlternateExpressions...)
	}
	exprs = sortedUnique(exprs)
	var nonEmpty []string
	for _, e := range exprs {
		if e != "" {
			nonEmpty = append(nonEmpty, e)
		}
	}

	primary := ""
	var alternates []string
	if len(nonEmpty) > 0 {
		primary = nonEmpty[0]
		alternates = nonEmpty[1:]
	}
	if len(alternates) == 0 {
		alternates = nil
	}

	label := ""
	switch {
	case x.SourceExpression == primary && y.SourceExpression == primary:
		label = minNonEmpty(x.Label, y.Label)
	case x.SourceExpression == primary:
		label = x.Label
	case y.SourceExpression == primary:
		label = y.Label
	}

	return ColumnLineage{
		SourceExpression:     primary,
		TargetColumn:         x.TargetColumn,
		TransformationKind:   Stronger(x.TransformationKind, y.TransformationKind),
		Label:                label,
		LowConfidence:        x.LowConfidence || y.LowConfidence,
		AlternateExpressions: alternates,
	}
}

func targets(list []ColumnLineage) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.TargetColumn
	}
	return out
}

func cloneLineage(list []ColumnLineage) []ColumnLineage {
	if list == nil {
		return nil
	}
	out := make([]ColumnLineage, len(list))
	for i, e := range list {
		out[i] = cloneEntry(e)
	}
	return out
}

func cloneEntry(e ColumnLineage) ColumnLineage {
	e.AlternateExpressions = slices.Clone(e.AlternateExpressions)
	return e
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	sort.Strings(out)
	return slices.Compact(out)
}

func minNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case b < a:
		return b
	default:
		return a
	}
}
