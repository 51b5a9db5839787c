// Package metrics exposes Prometheus metrics for extraction runs: scripts
// processed per extraction path, statements, graph size, lineage kinds and
// diagnostics. It doubles as the processing summary printed by the CLI.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// Registry holds the extraction metrics. A nil *Registry is valid and
// records nothing.
type Registry struct {
	ScriptsTotal        *prometheus.CounterVec
	ScriptErrorsTotal   prometheus.Counter
	StatementsTotal     *prometheus.CounterVec
	NodesTotal          *prometheus.CounterVec
	EdgesTotal          *prometheus.CounterVec
	LineageEntriesTotal *prometheus.CounterVec
	DiagnosticsTotal    *prometheus.CounterVec
	ExtractDuration     *prometheus.HistogramVec

	StoredNodes prometheus.Gauge
	StoredEdges prometheus.Gauge

	HTTPRequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRegistry creates a registry with every metric registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	f := promauto.With(reg)

	r.ScriptsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "etlgraph_scripts_total",
		Help: "Scripts extracted, by extraction path",
	}, []string{"path"})
	r.ScriptErrorsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "etlgraph_script_errors_total",
		Help: "Scripts that could not be extracted at all",
	})
	r.StatementsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "etlgraph_statements_total",
		Help: "Data statements extracted, by kind",
	}, []string{"kind"})
	r.NodesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "etlgraph_nodes_total",
		Help: "Nodes emitted in batches, by kind",
	}, []string{"kind"})
	r.EdgesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "etlgraph_edges_total",
		Help: "Edges emitted in batches, by kind",
	}, []string{"kind"})
	r.LineageEntriesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "etlgraph_lineage_entries_total",
		Help: "Column lineage entries emitted, by transformation kind",
	}, []string{"transformation"})
	r.DiagnosticsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "etlgraph_diagnostics_total",
		Help: "Diagnostics emitted, by severity",
	}, []string{"severity"})
	r.ExtractDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etlgraph_extract_duration_seconds",
		Help:    "Time to extract one script",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"path"})

	r.StoredNodes = f.NewGauge(prometheus.GaugeOpts{
		Name: "etlgraph_stored_nodes",
		Help: "Nodes in the persisted graph",
	})
	r.StoredEdges = f.NewGauge(prometheus.GaugeOpts{
		Name: "etlgraph_stored_edges",
		Help: "Edges in the persisted graph",
	})

	r.HTTPRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "etlgraph_http_requests_total",
		Help: "API requests, by route and status",
	}, []string{"route", "status"})

	return r
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordScript records one extracted script.
func (r *Registry) RecordScript(path string, statements map[string]int, batch graph.Batch, d time.Duration) {
	if r == nil {
		return
	}
	r.ScriptsTotal.WithLabelValues(path).Inc()
	r.ExtractDuration.WithLabelValues(path).Observe(d.Seconds())
	for kind, n := range statements {
		r.StatementsTotal.WithLabelValues(kind).Add(float64(n))
	}
	for _, n := range batch.Nodes {
		r.NodesTotal.WithLabelValues(string(n.Kind)).Inc()
	}
	for _, e := range batch.Edges {
		r.EdgesTotal.WithLabelValues(string(e.Kind)).Inc()
		for _, l := range e.ColumnLineage {
			r.LineageEntriesTotal.WithLabelValues(string(l.TransformationKind)).Inc()
		}
	}
	for _, d := range batch.Diagnostics {
		r.DiagnosticsTotal.WithLabelValues(d.Severity.String()).Inc()
	}
}

// RecordScriptError records a script that failed before extraction.
func (r *Registry) RecordScriptError() {
	if r == nil {
		return
	}
	r.ScriptErrorsTotal.Inc()
}

// SetStored updates the size of the persisted graph.
func (r *Registry) SetStored(nodes, edges int) {
	if r == nil {
		return
	}
	r.StoredNodes.Set(float64(nodes))
	r.StoredEdges.Set(float64(edges))
}

// RecordHTTPRequest records one API request.
func (r *Registry) RecordHTTPRequest(route, status string) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
}

// Summary is a snapshot of the extraction counters, keyed by label value.
type Summary struct {
	Scripts      map[string]int
	ScriptErrors int
	Statements   map[string]int
	Nodes        map[string]int
	Edges        map[string]int
	Lineage      map[string]int
	Diagnostics  map[string]int
}

// Summary gathers the current counter values.
func (r *Registry) Summary() (Summary, error) {
	s := Summary{
		Scripts:     make(map[string]int),
		Statements:  make(map[string]int),
		Nodes:       make(map[string]int),
		Edges:       make(map[string]int),
		Lineage:     make(map[string]int),
		Diagnostics: make(map[string]int),
	}
	families, err := r.registry.Gather()
	if err != nil {
		return s, fmt.Errorf("failed to gather metrics: %w", err)
	}
	targets := map[string]map[string]int{
		"etlgraph_scripts_total":         s.Scripts,
		"etlgraph_statements_total":      s.Statements,
		"etlgraph_nodes_total":           s.Nodes,
		"etlgraph_edges_total":           s.Edges,
		"etlgraph_lineage_entries_total": s.Lineage,
		"etlgraph_diagnostics_total":     s.Diagnostics,
	}
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		if mf.GetName() == "etlgraph_script_errors_total" {
			for _, m := range mf.GetMetric() {
				s.ScriptErrors += int(m.GetCounter().GetValue())
			}
			continue
		}
		into, ok := targets[mf.GetName()]
		if !ok {
			continue
		}
		for _, m := range mf.GetMetric() {
			label := ""
			if pairs := m.GetLabel(); len(pairs) > 0 {
				label = pairs[0].GetValue()
			}
			into[label] += int(m.GetCounter().GetValue())
		}
	}
	return s, nil
}
