// Package assemble turns extracted facts into graph batches and combines
// batches.
//
// A Builder collects the nodes and edges of one script. Nodes are
// deduplicated by id and edges by (source, target, kind); repeated writes
// accumulate column lineage per target column instead of replacing it.
// Build checks referential integrity and returns a sorted, immutable batch.
//
// Merge and Graph combine batches from many scripts. Both are commutative
// and idempotent, so batches may be merged in any order and merging the
// same batch again has no effect.
package assemble

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// Builder assembles the batch of one script. It is not safe for concurrent
// use.
type Builder struct {
	sourceID   string
	technology string
	logger     *slog.Logger

	nodes map[string]graph.Node
	edges map[graph.EdgeKey]graph.Edge
	order []graph.EdgeKey
	diags []graph.Diagnostic
}

// NewBuilder creates a builder. Every node and edge is stamped with
// technology and every diagnostic with sourceID.
func NewBuilder(sourceID, technology string, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{
		sourceID:   sourceID,
		technology: technology,
		logger:     logger,
		nodes:      make(map[string]graph.Node),
		edges:      make(map[graph.EdgeKey]graph.Edge),
	}
}

// Table adds a table node, or merges columns into an existing one, and
// returns its id.
func (b *Builder) Table(name string, columns []graph.Column) string {
	norm := graph.NormalizeName(name)
	node := graph.Node{
		ID:         graph.TableID(norm),
		Kind:       graph.KindTable,
		Name:       norm,
		Technology: b.technology,
	}
	if schema := graph.SchemaOf(norm); schema != "" || len(columns) > 0 {
		node.Table = &graph.TableInfo{Schema: schema, Columns: slices.Clone(columns)}
	}
	b.addNode(node)
	return node.ID
}

// Operation adds an operation node for a task and returns its id. A task
// name seen before in the same script merges into the existing node.
func (b *Builder) Operation(taskName string, info graph.OperationInfo) string {
	info.TaskName = taskName
	info.SourceID = b.sourceID
	node := graph.Node{
		ID:         graph.OperationID(b.sourceID, taskName),
		Kind:       graph.KindOperation,
		Name:       taskName,
		Technology: b.technology,
		Operation:  &info,
	}
	count := info.StatementCount
	if prev, ok := b.nodes[node.ID]; ok && prev.Operation != nil {
		// Blocks sharing an explicit task name add up.
		count += prev.Operation.StatementCount
	}
	b.addNode(node)
	b.nodes[node.ID].Operation.StatementCount = count
	return node.ID
}

func (b *Builder) addNode(n graph.Node) {
	if prev, ok := b.nodes[n.ID]; ok {
		n = graph.MergeNode(prev, n)
	}
	b.nodes[n.ID] = n
}

// Reads adds a reads edge from an operation to a table.
func (b *Builder) Reads(operationID, tableID string) {
	b.Edge(graph.Edge{Source: operationID, Target: tableID, Kind: graph.EdgeReads})
}

// Writes adds a writes edge carrying column lineage. Lineage for a target
// column already written by the same operation is accumulated.
func (b *Builder) Writes(operationID, tableID string, lineage []graph.ColumnLineage) {
	b.Edge(graph.Edge{Source: operationID, Target: tableID, Kind: graph.EdgeWrites, ColumnLineage: lineage})
}

// Joins adds a joins edge between two tables.
func (b *Builder) Joins(leftID, rightID, joinType, condition string) {
	e := graph.Edge{Source: leftID, Target: rightID, Kind: graph.EdgeJoins}
	if joinType != "" {
		e.JoinTypes = []string{joinType}
	}
	if condition != "" {
		e.Conditions = []string{condition}
	}
	b.Edge(e)
}

// Edge adds an edge, merging it with an existing edge of the same key.
// Endpoints are checked by Build.
func (b *Builder) Edge(e graph.Edge) {
	e.Technology = b.technology
	key := e.Key()
	prev, ok := b.edges[key]
	if !ok {
		b.order = append(b.order, key)
		b.edges[key] = graph.MergeEdge(e, e)
		return
	}
	b.edges[key] = accumulate(prev, e)
}

// accumulate merges a later edge into an earlier one. Lineage keeps the
// order in which target columns were first written.
func accumulate(prev, next graph.Edge) graph.Edge {
	lineage := slices.Clone(prev.ColumnLineage)
	for _, e := range next.ColumnLineage {
		i := slices.IndexFunc(lineage, func(x graph.ColumnLineage) bool { return x.TargetColumn == e.TargetColumn })
		if i < 0 {
			lineage = append(lineage, e)
			continue
		}
		lineage[i] = graph.MergeLineageEntry(lineage[i], e)
	}
	merged := graph.MergeEdge(prev, next)
	merged.ColumnLineage = lineage
	return merged
}

// Diagnose records a diagnostic for the script.
func (b *Builder) Diagnose(severity graph.Severity, format string, args ...any) {
	b.diags = append(b.diags, graph.Diagnostic{Severity: severity, Message: fmt.Sprintf(format, args...)})
}

// AddDiagnostics records diagnostics produced elsewhere.
func (b *Builder) AddDiagnostics(diags ...graph.Diagnostic) {
	b.diags = append(b.diags, diags...)
}

// Build returns the batch. Edges whose endpoints are not nodes of the batch
// are dropped with an error diagnostic.
func (b *Builder) Build() graph.Batch {
	batch := graph.Batch{
		Nodes: make([]graph.Node, 0, len(b.nodes)),
		Edges: make([]graph.Edge, 0, len(b.edges)),
	}
	for _, n := range b.nodes {
		batch.Nodes = append(batch.Nodes, n)
	}

	diags := slices.Clone(b.diags)
	for _, key := range b.order {
		e := b.edges[key]
		missing := ""
		switch {
		case !b.has(e.Source):
			missing = e.Source
		case !b.has(e.Target):
			missing = e.Target
		}
		if missing != "" {
			b.logger.Debug("dropping edge with unknown endpoint",
				"source_id", b.sourceID, "edge_source", e.Source, "edge_target", e.Target, "kind", e.Kind)
			diags = append(diags, graph.Diagnostic{
				Severity: graph.SeverityError,
				Message:  fmt.Sprintf("%s edge %s -> %s dropped: unknown node %s", e.Kind, e.Source, e.Target, missing),
			})
			continue
		}
		batch.Edges = append(batch.Edges, e)
	}

	for i := range diags {
		diags[i].SourceID = b.sourceID
	}
	batch.Diagnostics = graph.SortDiagnostics(diags)
	sortBatch(&batch)
	return batch
}

func (b *Builder) has(id string) bool {
	_, ok := b.nodes[id]
	return ok
}

func sortBatch(batch *graph.Batch) {
	slices.SortFunc(batch.Nodes, func(a, b graph.Node) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	slices.SortFunc(batch.Edges, func(a, b graph.Edge) int {
		ka, kb := a.Key(), b.Key()
		switch {
		case ka.Less(kb):
			return -1
		case kb.Less(ka):
			return 1
		}
		return 0
	})
}
