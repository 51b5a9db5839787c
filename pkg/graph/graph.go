// Package graph defines the lineage metadata graph produced by extraction:
// table and operation nodes, reads/writes/joins edges, column lineage and
// the diagnostics that accompany every batch.
//
// A Batch is immutable once returned by the assembler. Batches from many
// scripts are combined with the merge rules in this package, which are
// commutative and idempotent so that batches can be merged in any order
// and re-merged without effect.
package graph

// NodeKind identifies what a node represents.
type NodeKind string

// Node kinds.
const (
	KindTable     NodeKind = "table"
	KindOperation NodeKind = "operation"
)

// EdgeKind identifies the relationship between two nodes.
type EdgeKind string

// Edge kinds.
//
//	reads:  operation -> table
//	writes: operation -> table
//	joins:  left table -> right table
const (
	EdgeReads  EdgeKind = "reads"
	EdgeWrites EdgeKind = "writes"
	EdgeJoins  EdgeKind = "joins"
)

// TransformKind classifies how a target column is derived.
type TransformKind string

// Transformation kinds, weakest first.
const (
	Direct      TransformKind = "DIRECT"
	Transformed TransformKind = "TRANSFORMED"
	Aggregate   TransformKind = "AGGREGATE"
)

func (k TransformKind) rank() int {
	switch k {
	case Direct:
		return 1
	case Transformed:
		return 2
	case Aggregate:
		return 3
	default:
		return 0
	}
}

// Stronger returns the stronger of two transformation kinds.
// AGGREGATE > TRANSFORMED > DIRECT.
func Stronger(a, b TransformKind) TransformKind {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Node is a graph vertex: a table or a procedural operation.
type Node struct {
	ID         string         `json:"id"`
	Kind       NodeKind       `json:"kind"`
	Name       string         `json:"name"`
	Technology string         `json:"technology"`
	Operation  *OperationInfo `json:"operation,omitempty"`
	Table      *TableInfo     `json:"table,omitempty"`
}

// OperationInfo holds the attributes of an operation node.
type OperationInfo struct {
	TaskName            string `json:"task_name"`
	HasExplicitTaskName bool   `json:"has_explicit_task_name"`
	ErrorHandling       bool   `json:"error_handling"`
	SourceID            string `json:"source_id"`
	BlockKind           string `json:"block_kind,omitempty"`
	StatementCount      int    `json:"statement_count"`
	ExtractionPath      string `json:"extraction_path,omitempty"`
}

// TableInfo holds the attributes of a table node.
type TableInfo struct {
	Schema  string   `json:"schema,omitempty"`
	Columns []Column `json:"columns,omitempty"`
}

// Column is a declared table column.
type Column struct {
	Name          string `json:"name"`
	DeclaredType  string `json:"declared_type,omitempty"`
	CanonicalType string `json:"canonical_type,omitempty"`
}

// Edge is a directed relationship between two nodes of the same batch.
type Edge struct {
	Source        string          `json:"source_id"`
	Target        string          `json:"target_id"`
	Kind          EdgeKind        `json:"kind"`
	Technology    string          `json:"technology"`
	ColumnLineage []ColumnLineage `json:"column_lineage,omitempty"`
	JoinTypes     []string        `json:"join_types,omitempty"`
	Conditions    []string        `json:"conditions,omitempty"`
}

// Key returns the identity of the edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Kind: e.Kind}
}

// EdgeKey identifies an edge by its endpoints and kind.
type EdgeKey struct {
	Source string
	Target string
	Kind   EdgeKind
}

// Less orders edge keys by source, target, then kind.
func (k EdgeKey) Less(o EdgeKey) bool {
	if k.Source != o.Source {
		return k.Source < o.Source
	}
	if k.Target != o.Target {
		return k.Target < o.Target
	}
	return k.Kind < o.Kind
}

// ColumnLineage records how one target column is produced.
type ColumnLineage struct {
	SourceExpression     string        `json:"source_expression"`
	TargetColumn         string        `json:"target_column"`
	TransformationKind   TransformKind `json:"transformation_kind"`
	Label                string        `json:"label,omitempty"`
	LowConfidence        bool          `json:"low_confidence,omitempty"`
	AlternateExpressions []string      `json:"alternate_expressions,omitempty"`
}

// Batch is the result of one extraction invocation.
type Batch struct {
	Nodes       []Node       `json:"nodes"`
	Edges       []Edge       `json:"edges"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Empty reports whether the batch has no nodes, edges or diagnostics.
func (b Batch) Empty() bool {
	return len(b.Nodes) == 0 && len(b.Edges) == 0 && len(b.Diagnostics) == 0
}

// Node returns the node with the given id.
func (b Batch) Node(id string) (Node, bool) {
	for _, n := range b.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Edge returns the edge with the given key.
func (b Batch) Edge(key EdgeKey) (Edge, bool) {
	for _, e := range b.Edges {
		if e.Key() == key {
			return e, true
		}
	}
	return Edge{}, false
}

// NodesOfKind returns the nodes of one kind, in batch order.
func (b Batch) NodesOfKind(kind NodeKind) []Node {
	var out []Node
	for _, n := range b.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// EdgesOfKind returns the edges of one kind, in batch order.
func (b Batch) EdgesOfKind(kind EdgeKind) []Edge {
	var out []Edge
	for _, e := range b.Edges {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
