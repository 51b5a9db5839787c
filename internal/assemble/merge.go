package assemble

import (
	"slices"
	"sync"

	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// Merge combines batches into one. Nodes with the same id and edges with
// the same key are merged with the rules of package graph.
func Merge(batches ...graph.Batch) graph.Batch {
	acc := newAccumulator()
	for _, b := range batches {
		acc.add(b)
	}
	return acc.batch()
}

type accumulator struct {
	nodes map[string]graph.Node
	edges map[graph.EdgeKey]graph.Edge
	diags []graph.Diagnostic
}

func newAccumulator() *accumulator {
	return &accumulator{
		nodes: make(map[string]graph.Node),
		edges: make(map[graph.EdgeKey]graph.Edge),
	}
}

func (a *accumulator) add(b graph.Batch) {
	for _, n := range b.Nodes {
		if prev, ok := a.nodes[n.ID]; ok {
			n = graph.MergeNode(prev, n)
		}
		a.nodes[n.ID] = n
	}
	for _, e := range b.Edges {
		key := e.Key()
		if prev, ok := a.edges[key]; ok {
			e = graph.MergeEdge(prev, e)
		}
		a.edges[key] = e
	}
	a.diags = graph.SortDiagnostics(append(a.diags, b.Diagnostics...))
}

func (a *accumulator) batch() graph.Batch {
	out := graph.Batch{
		Nodes:       make([]graph.Node, 0, len(a.nodes)),
		Edges:       make([]graph.Edge, 0, len(a.edges)),
		Diagnostics: graph.SortDiagnostics(a.diags),
	}
	for _, n := range a.nodes {
		out.Nodes = append(out.Nodes, n)
	}
	for _, e := range a.edges {
		out.Edges = append(out.Edges, e)
	}
	sortBatch(&out)
	return out
}

// Graph accumulates batches from concurrent extractions. It is safe for
// concurrent use.
//
// Every batch is recorded as part of the contribution of the script it came
// from, so one script can be replaced without leaving behind tables, joins
// or columns only it produced.
type Graph struct {
	mu      sync.Mutex
	sources map[string]graph.Batch
	acc     *accumulator
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{sources: make(map[string]graph.Batch), acc: newAccumulator()}
}

// Merge adds batches to the graph.
func (g *Graph) Merge(batches ...graph.Batch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range batches {
		key := sourceOf(b)
		g.sources[key] = Merge(g.sources[key], b)
		if g.acc != nil {
			g.acc.add(b)
		}
	}
}

// Replace swaps the contribution of one source for a new batch. An empty
// batch removes the source. Nodes and edges no other source contributes go
// with it.
func (g *Graph) Replace(sourceID string, b graph.Batch) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b.Empty() {
		delete(g.sources, sourceID)
	} else {
		g.sources[sourceID] = Merge(b)
	}
	// rebuilt on the next Snapshot
	g.acc = nil
}

// Snapshot returns the merged batch.
func (g *Graph) Snapshot() graph.Batch {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.acc == nil {
		keys := make([]string, 0, len(g.sources))
		for k := range g.sources {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		g.acc = newAccumulator()
		for _, k := range keys {
			g.acc.add(g.sources[k])
		}
	}
	return g.acc.batch()
}

// sourceOf returns the script a batch was extracted from: the source of its
// first operation, or of its first diagnostic when it has none.
func sourceOf(b graph.Batch) string {
	for _, n := range b.Nodes {
		if n.Operation != nil {
			return n.Operation.SourceID
		}
	}
	if len(b.Diagnostics) > 0 {
		return b.Diagnostics[0].SourceID
	}
	return ""
}
