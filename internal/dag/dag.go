// Package dag provides data-flow graph operations over an assembled lineage
// graph: upstream and downstream impact, sources and sinks, and cycle
// detection.
//
// Data flows from a table to the operations that read it and from an
// operation to the tables it writes. Joins carry no data flow and are not
// part of the graph. Scripts that read and write the same table create
// cycles, so the graph is not required to be acyclic.
package dag

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// ErrUnknownNode is returned for ids that are not in the graph.
var ErrUnknownNode = errors.New("unknown node")

// ErrSelfLoop is returned for an edge from a node to itself.
var ErrSelfLoop = errors.New("self-loop")

// Node represents a node in the graph.
type Node struct {
	// ID is the lineage node id
	ID   string
	Data graph.Node
}

// Graph is a directed data-flow graph.
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]string // upstream -> downstream
	parents map[string][]string // downstream -> upstream
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// FromBatch builds the data-flow graph of an assembled batch. Edges that
// cannot be added are skipped and reported in the joined error; the graph
// is usable either way.
func FromBatch(b graph.Batch) (*Graph, error) {
	g := NewGraph()
	for _, n := range b.Nodes {
		g.AddNode(n.ID, n)
	}
	var errs []error
	for _, e := range b.Edges {
		var err error
		switch e.Kind {
		case graph.EdgeReads:
			err = g.AddEdge(e.Target, e.Source)
		case graph.EdgeWrites:
			err = g.AddEdge(e.Source, e.Target)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s edge %s -> %s: %w", e.Kind, e.Source, e.Target, err))
		}
	}
	return g, errors.Join(errs...)
}

// AddNode adds a node, replacing the data of an existing one.
func (g *Graph) AddNode(id string, data graph.Node) {
	if n, exists := g.nodes[id]; exists {
		n.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
}

// AddEdge adds a data-flow edge from upstream to downstream.
func (g *Graph) AddEdge(upstreamID, downstreamID string) error {
	if _, exists := g.nodes[upstreamID]; !exists {
		return fmt.Errorf("upstream node %q: %w", upstreamID, ErrUnknownNode)
	}
	if _, exists := g.nodes[downstreamID]; !exists {
		return fmt.Errorf("downstream node %q: %w", downstreamID, ErrUnknownNode)
	}
	if upstreamID == downstreamID {
		return fmt.Errorf("%s: %w", upstreamID, ErrSelfLoop)
	}

	if !slices.Contains(g.edges[upstreamID], downstreamID) {
		g.edges[upstreamID] = append(g.edges[upstreamID], downstreamID)
	}
	if !slices.Contains(g.parents[downstreamID], upstreamID) {
		g.parents[downstreamID] = append(g.parents[downstreamID], upstreamID)
	}
	return nil
}

// Node returns a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Parents returns the direct upstream ids of a node, sorted.
func (g *Graph) Parents(id string) []string {
	return sorted(g.parents[id])
}

// Children returns the direct downstream ids of a node, sorted.
func (g *Graph) Children(id string) []string {
	return sorted(g.edges[id])
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// Downstream returns every node reachable from id, excluding id itself
// unless it lies on a cycle.
func (g *Graph) Downstream(id string) []string {
	return g.walk(id, g.edges)
}

// Upstream returns every node id is reachable from, excluding id itself
// unless it lies on a cycle.
func (g *Graph) Upstream(id string) []string {
	return g.walk(id, g.parents)
}

func (g *Graph) walk(id string, next map[string][]string) []string {
	seen := make(map[string]bool)
	stack := slices.Clone(next[id])
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, next[cur]...)
	}
	if len(seen) == 0 {
		return nil
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Impact is the set of nodes connected to one node by data flow. Parents
// and Children are the direct neighbours within Upstream and Downstream.
type Impact struct {
	Root       string   `json:"root"`
	Parents    []string `json:"parents,omitempty"`
	Children   []string `json:"children,omitempty"`
	Upstream   []string `json:"upstream,omitempty"`
	Downstream []string `json:"downstream,omitempty"`
}

// Impact returns the upstream and downstream nodes of id.
func (g *Graph) Impact(id string, upstream, downstream bool) (Impact, error) {
	if _, ok := g.nodes[id]; !ok {
		return Impact{}, fmt.Errorf("%s: %w", id, ErrUnknownNode)
	}
	imp := Impact{Root: id}
	if upstream {
		imp.Parents = g.Parents(id)
		imp.Upstream = g.Upstream(id)
	}
	if downstream {
		imp.Children = g.Children(id)
		imp.Downstream = g.Downstream(id)
	}
	return imp, nil
}

// IDs returns the root and every impacted node, sorted and unique.
func (i Impact) IDs() []string {
	ids := append([]string{i.Root}, i.Upstream...)
	ids = append(ids, i.Downstream...)
	return sorted(ids)
}

// HasCycle returns true if the graph contains a cycle, along with the cycle
// path.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, childID := range sorted(g.edges[id]) {
			if !visited[childID] {
				path[childID] = id
				if dfs(childID) {
					return true
				}
			} else if recStack[childID] {
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range g.ids() {
		if !visited[id] {
			if dfs(id) {
				return true, cyclePath
			}
		}
	}
	return false, nil
}

// Sources returns the tables no operation writes.
func (g *Graph) Sources() []string {
	var out []string
	for _, id := range g.ids() {
		if graph.IsTableID(id) && len(g.parents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Sinks returns the tables no operation reads.
func (g *Graph) Sinks() []string {
	var out []string
	for _, id := range g.ids() {
		if graph.IsTableID(id) && len(g.edges[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// Summary describes the shape of a data-flow graph.
type Summary struct {
	Nodes   int      `json:"nodes"`
	Edges   int      `json:"edges"`
	Sources []string `json:"sources"`
	Sinks   []string `json:"sinks"`
	// Cycle is one cycle of the graph, first node repeated at the end.
	Cycle []string `json:"cycle,omitempty"`
}

// Summarize returns the counts, sources, sinks and a cycle of the graph.
func (g *Graph) Summarize() Summary {
	s := Summary{
		Nodes:   g.NodeCount(),
		Edges:   g.EdgeCount(),
		Sources: g.Sources(),
		Sinks:   g.Sinks(),
	}
	if s.Sources == nil {
		s.Sources = []string{}
	}
	if s.Sinks == nil {
		s.Sinks = []string{}
	}
	if ok, cycle := g.HasCycle(); ok {
		s.Cycle = cycle
	}
	return s
}

func (g *Graph) ids() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Restrict returns the part of b made of the given nodes and the edges
// between them, joins included.
func Restrict(b graph.Batch, ids []string) graph.Batch {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	var out graph.Batch
	for _, n := range b.Nodes {
		if keep[n.ID] {
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, e := range b.Edges {
		if keep[e.Source] && keep[e.Target] {
			out.Edges = append(out.Edges, e)
		}
	}
	sources := make(map[string]bool)
	for _, n := range out.Nodes {
		if n.Operation != nil {
			sources[n.Operation.SourceID] = true
		}
	}
	for _, d := range b.Diagnostics {
		if sources[d.SourceID] {
			out.Diagnostics = append(out.Diagnostics, d)
		}
	}
	return out
}

func sorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	sort.Strings(out)
	return slices.Compact(out)
}
