package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/etlgraph/internal/dag"
	"github.com/leapstack-labs/etlgraph/internal/state"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// NodeView is a node with the edges that touch it.
type NodeView struct {
	Node     graph.Node   `json:"node"`
	Incoming []graph.Edge `json:"incoming"`
	Outgoing []graph.Edge `json:"outgoing"`
}

// ImpactView is an impact analysis with the subgraph it covers.
type ImpactView struct {
	Impact dag.Impact  `json:"impact"`
	Graph  graph.Batch `json:"graph"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// pathID returns the node id of a wildcard route. Ids contain "/" and "#",
// so clients escape them.
func pathID(r *http.Request) string {
	id := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) (graph.Batch, bool) {
	b, err := s.store.Load(r.Context())
	if err != nil {
		s.logger.Error("failed to load graph", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return graph.Batch{}, false
	}
	s.metrics.SetStored(len(b.Nodes), len(b.Edges))
	return b, true
}

// handleGraph returns the stored graph. The kind query parameter keeps only
// nodes of one kind and the edges between them.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	b, ok := s.load(w, r)
	if !ok {
		return
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		var ids []string
		for _, n := range b.NodesOfKind(graph.NodeKind(kind)) {
			ids = append(ids, n.ID)
		}
		b = dag.Restrict(b, ids)
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	n, err := s.store.Node(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	b, ok := s.load(w, r)
	if !ok {
		return
	}
	view := NodeView{Node: n, Incoming: []graph.Edge{}, Outgoing: []graph.Edge{}}
	for _, e := range b.Edges {
		if e.Source == id {
			view.Outgoing = append(view.Outgoing, e)
		}
		if e.Target == id {
			view.Incoming = append(view.Incoming, e)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// flow builds the data-flow graph of b. Edges that do not fit are logged
// and left out.
func (s *Server) flow(b graph.Batch) *dag.Graph {
	g, err := dag.FromBatch(b)
	if err != nil {
		s.logger.Warn("stored graph has invalid data-flow edges", "error", err)
	}
	return g
}

// handleSummary returns the sources, sinks and node counts of the data
// flow, with a cycle when there is one.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	b, ok := s.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.flow(b).Summarize())
}

// handleImpact returns the nodes connected to one node by data flow. The
// direction query parameter is up, down or both (the default).
func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	up, down := true, true
	switch r.URL.Query().Get("direction") {
	case "", "both":
	case "up":
		down = false
	case "down":
		up = false
	default:
		writeError(w, http.StatusBadRequest, errors.New("direction must be up, down or both"))
		return
	}

	b, ok := s.load(w, r)
	if !ok {
		return
	}
	imp, err := s.flow(b).Impact(pathID(r), up, down)
	if errors.Is(err, dag.ErrUnknownNode) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ImpactView{Impact: imp, Graph: dag.Restrict(b, imp.IDs())})
}

// handleDiagnostics returns stored diagnostics, optionally filtered by
// source and minimum severity.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maxSeverity := graph.SeverityInfo
	if v := q.Get("severity"); v != "" {
		sev, ok := graph.ParseSeverity(v)
		if !ok {
			writeError(w, http.StatusBadRequest, errors.New("severity must be error, warning or info"))
			return
		}
		maxSeverity = sev
	}
	b, ok := s.load(w, r)
	if !ok {
		return
	}
	out := []graph.Diagnostic{}
	for _, d := range b.Diagnostics {
		if d.Severity > maxSeverity {
			continue
		}
		if src := q.Get("source"); src != "" && d.SourceID != src {
			continue
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []*state.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}
