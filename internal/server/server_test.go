package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/etlgraph/internal/dag"
	"github.com/leapstack-labs/etlgraph/internal/engine"
	"github.com/leapstack-labs/etlgraph/internal/metrics"
	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/state"
	"github.com/leapstack-labs/etlgraph/internal/testutil"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

const martScript = `INSERT INTO mart_water (sensor_id, avg_value)
SELECT f.sensor_id, f.avg_value FROM fact_water f JOIN sensors s ON s.id = f.sensor_id;`

type fixture struct {
	srv     *httptest.Server
	metrics *metrics.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := state.NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(ctx, ":memory:"))
	t.Cleanup(func() { _ = store.Close() })

	eng := engine.New(engine.Config{Logger: testutil.NewTestLogger(t)})
	pack := rules.MustBuiltin("oracle")
	var batches []state.SourceBatch
	for id, src := range map[string]string{"etl/water.sql": testutil.FactWater, "etl/mart.sql": martScript} {
		b, err := eng.Extract(engine.Input{ScriptText: src, SourceID: id, Rules: pack})
		require.NoError(t, err)
		batches = append(batches, state.SourceBatch{SourceID: id, Batch: b})
	}
	_, err := store.Apply(ctx, batches)
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	s := NewServer(Config{Store: store, Metrics: reg, Logger: testutil.NewTestLogger(t)})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, metrics: reg}
}

func (f *fixture) get(t *testing.T, path string, into any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestGraph(t *testing.T) {
	f := newFixture(t)

	var b graph.Batch
	require.Equal(t, http.StatusOK, f.get(t, "/graph", &b))
	assert.Len(t, b.NodesOfKind(graph.KindOperation), 2)
	assert.Len(t, b.NodesOfKind(graph.KindTable), 4)

	var tables graph.Batch
	require.Equal(t, http.StatusOK, f.get(t, "/graph?kind=table", &tables))
	assert.Len(t, tables.Nodes, 4)
	require.Len(t, tables.Edges, 1)
	assert.Equal(t, graph.EdgeJoins, tables.Edges[0].Kind)
}

func TestNode(t *testing.T) {
	f := newFixture(t)

	var view NodeView
	require.Equal(t, http.StatusOK, f.get(t, "/nodes/table:fact_water", &view))
	assert.Equal(t, "fact_water", view.Node.Name)
	assert.Len(t, view.Incoming, 2, "written by the load, read by the mart")
	assert.Len(t, view.Outgoing, 1, "joined to sensors")

	opID := graph.OperationID("etl/water.sql", "aggregate_load_fact_water")
	view = NodeView{}
	require.Equal(t, http.StatusOK, f.get(t, "/nodes/"+url.PathEscape(opID), &view))
	assert.Equal(t, opID, view.Node.ID)
	assert.NotNil(t, view.Node.Operation)
	assert.Len(t, view.Outgoing, 2)

	var body map[string]string
	assert.Equal(t, http.StatusNotFound, f.get(t, "/nodes/table:nope", &body))
	assert.Contains(t, body["error"], "not found")
}

func TestImpact(t *testing.T) {
	f := newFixture(t)

	var view ImpactView
	require.Equal(t, http.StatusOK, f.get(t, "/impact/table:staging_water?direction=down", &view))
	assert.Empty(t, view.Impact.Upstream)
	assert.Equal(t, []string{
		graph.OperationID("etl/mart.sql", "load_mart_water"),
		graph.OperationID("etl/water.sql", "aggregate_load_fact_water"),
		"table:fact_water",
		"table:mart_water",
	}, view.Impact.Downstream)
	assert.Len(t, view.Graph.Nodes, 5)
	assert.Equal(t, []string{graph.OperationID("etl/water.sql", "aggregate_load_fact_water")}, view.Impact.Children)
	assert.Empty(t, view.Impact.Parents)

	view = ImpactView{}
	require.Equal(t, http.StatusOK, f.get(t, "/impact/table:mart_water?direction=up", &view))
	assert.Contains(t, view.Impact.Upstream, "table:sensors")
	assert.Contains(t, view.Impact.Upstream, "table:staging_water")

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/impact/table:mart_water?direction=sideways", nil))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/impact/table:nope", nil))
}

func TestSummary(t *testing.T) {
	f := newFixture(t)

	var sum dag.Summary
	require.Equal(t, http.StatusOK, f.get(t, "/summary", &sum))
	assert.Equal(t, dag.Summary{
		Nodes:   6,
		Edges:   5,
		Sources: []string{"table:sensors", "table:staging_water"},
		Sinks:   []string{"table:mart_water"},
	}, sum)
}

func TestDiagnosticsAndRuns(t *testing.T) {
	f := newFixture(t)

	var diags []graph.Diagnostic
	require.Equal(t, http.StatusOK, f.get(t, "/diagnostics?severity=warning", &diags))
	for _, d := range diags {
		assert.LessOrEqual(t, d.Severity, graph.SeverityWarning)
	}
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/diagnostics?severity=loud", nil))

	var runs []state.Run
	require.Equal(t, http.StatusOK, f.get(t, "/runs?limit=5", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 2, runs[0].Scripts)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/runs?limit=0", nil))
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.get(t, "/graph", &graph.Batch{}))
	assert.Equal(t, http.StatusNotFound, f.get(t, "/nodes/table:nope", nil))

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `etlgraph_http_requests_total{route="/graph",status="200"} 1`)
	assert.Contains(t, string(body), `etlgraph_http_requests_total{route="/nodes/*",status="404"} 1`)
	assert.Contains(t, string(body), "etlgraph_stored_nodes 6")
}

func TestServeListener_Shutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	watched := make(chan struct{})
	s := NewServer(Config{
		Store: stubStore{},
		Watch: func(ctx context.Context) error {
			close(watched)
			<-ctx.Done()
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	select {
	case <-watched:
	case <-time.After(5 * time.Second):
		t.Fatal("watch never started")
	}

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

type stubStore struct{}

func (stubStore) Load(context.Context) (graph.Batch, error) { return graph.Batch{}, nil }
func (stubStore) Node(context.Context, string) (graph.Node, error) {
	return graph.Node{}, state.ErrNotFound
}
func (stubStore) ListRuns(context.Context, int) ([]*state.Run, error) { return nil, nil }
