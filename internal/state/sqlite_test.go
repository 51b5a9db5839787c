package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/etlgraph/internal/assemble"
	"github.com/leapstack-labs/etlgraph/internal/testutil"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, s.Open(context.Background(), ":memory:"))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func loadBatch(sourceID, task, target string, reads ...string) graph.Batch {
	op := graph.OperationID(sourceID, task)
	b := graph.Batch{
		Nodes: []graph.Node{{
			ID: op, Kind: graph.KindOperation, Name: task, Technology: "ORACLE",
			Operation: &graph.OperationInfo{
				TaskName: task, SourceID: sourceID, BlockKind: "statement",
				StatementCount: 1, ExtractionPath: "structured",
			},
		}},
		Diagnostics: []graph.Diagnostic{{SourceID: sourceID, Severity: graph.SeverityInfo, Message: "seen " + target}},
	}
	tables := append([]string{target}, reads...)
	for _, name := range tables {
		b.Nodes = append(b.Nodes, graph.Node{ID: graph.TableID(name), Kind: graph.KindTable, Name: name, Technology: "ORACLE"})
	}
	for _, name := range reads {
		b.Edges = append(b.Edges, graph.Edge{Source: op, Target: graph.TableID(name), Kind: graph.EdgeReads, Technology: "ORACLE"})
	}
	b.Edges = append(b.Edges, graph.Edge{
		Source: op, Target: graph.TableID(target), Kind: graph.EdgeWrites, Technology: "ORACLE",
		ColumnLineage: []graph.ColumnLineage{{SourceExpression: "a", TargetColumn: "a", TransformationKind: graph.Direct}},
	})
	return b
}

func sampleGraph() graph.Batch {
	op := graph.OperationID("etl/water.sql", "load_water")
	return graph.Batch{
		Nodes: []graph.Node{
			{ID: op, Kind: graph.KindOperation, Name: "load_water", Technology: "ORACLE", Operation: &graph.OperationInfo{
				TaskName: "load_water", HasExplicitTaskName: true, ErrorHandling: true, SourceID: "etl/water.sql",
				BlockKind: "procedure", StatementCount: 2, ExtractionPath: "pattern",
			}},
			{ID: "table:dw.fact_water", Kind: graph.KindTable, Name: "dw.fact_water", Technology: "ORACLE", Table: &graph.TableInfo{
				Schema: "dw",
				Columns: []graph.Column{
					{Name: "sensor_id", DeclaredType: "NUMBER(10)", CanonicalType: "integer"},
					{Name: "avg_value", DeclaredType: "NUMBER(12,2)", CanonicalType: "decimal"},
				},
			}},
			{ID: "table:sensors", Kind: graph.KindTable, Name: "sensors", Technology: "ORACLE"},
			{ID: "table:staging_water", Kind: graph.KindTable, Name: "staging_water", Technology: "ORACLE"},
		},
		Edges: []graph.Edge{
			{Source: op, Target: "table:dw.fact_water", Kind: graph.EdgeWrites, Technology: "ORACLE", ColumnLineage: []graph.ColumnLineage{
				{SourceExpression: "sensor_id", TargetColumn: "sensor_id", TransformationKind: graph.Direct},
				{
					SourceExpression: "ROUND(AVG(measure_value),2)", TargetColumn: "avg_value",
					TransformationKind: graph.Aggregate, Label: "rounded aggregate",
					AlternateExpressions: []string{"AVG(measure_value)"},
				},
			}},
			{Source: op, Target: "table:staging_water", Kind: graph.EdgeReads, Technology: "ORACLE"},
			{Source: "table:staging_water", Target: "table:sensors", Kind: graph.EdgeJoins, Technology: "ORACLE",
				JoinTypes: []string{"LEFT"}, Conditions: []string{"s.id = w.sensor_id"}},
		},
		Diagnostics: []graph.Diagnostic{
			{SourceID: "etl/water.sql", Severity: graph.SeverityWarning, Message: "fell back to pattern extraction"},
			{SourceID: "etl/water.sql", Severity: graph.SeverityInfo, Message: "unknown function f"},
		},
	}
}

func TestMigrationVersion(t *testing.T) {
	s := newTestStore(t)
	v, err := s.MigrationVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestApplyLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	want := sampleGraph()

	merged, err := s.Apply(ctx, []SourceBatch{{SourceID: "etl/water.sql", Batch: want}})
	require.NoError(t, err)
	assert.Equal(t, assemble.Merge(want), merged)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, merged, got)

	nodes, edges, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, nodes)
	assert.Equal(t, 3, edges)
}

func TestApply_RemovedScriptTakesItsTables(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	next := loadBatch("b.sql", "load_b", "b", "src")
	_, err := s.Apply(ctx, []SourceBatch{
		{SourceID: "etl/water.sql", Batch: sampleGraph()},
		{SourceID: "b.sql", Batch: next},
	})
	require.NoError(t, err)

	merged, err := s.Apply(ctx, []SourceBatch{{SourceID: "etl/water.sql"}})
	require.NoError(t, err)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, merged, got)
	assert.Len(t, got.Nodes, 3)
	assert.Len(t, got.Edges, 2)
	assert.Equal(t, next.Diagnostics, got.Diagnostics)
	for _, id := range []string{"table:dw.fact_water", "table:sensors", "table:staging_water"} {
		_, ok := got.Node(id)
		assert.False(t, ok, id)
	}
	_, ok := got.Edge(graph.EdgeKey{Source: "table:staging_water", Target: "table:sensors", Kind: graph.EdgeJoins})
	assert.False(t, ok, "join edge of the removed script")
}

func TestApply_ReplacedScriptDropsStaleColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Apply(ctx, []SourceBatch{{SourceID: "etl/water.sql", Batch: sampleGraph()}})
	require.NoError(t, err)

	next := sampleGraph()
	next.Nodes[1].Table.Columns = next.Nodes[1].Table.Columns[:1]
	_, err = s.Apply(ctx, []SourceBatch{{SourceID: "etl/water.sql", Batch: next}})
	require.NoError(t, err)

	n, err := s.Node(ctx, "table:dw.fact_water")
	require.NoError(t, err)
	require.Len(t, n.Table.Columns, 1)
	assert.Equal(t, "sensor_id", n.Table.Columns[0].Name)
}

func TestNode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.Apply(ctx, []SourceBatch{{SourceID: "etl/water.sql", Batch: sampleGraph()}})
	require.NoError(t, err)

	n, err := s.Node(ctx, "table:dw.fact_water")
	require.NoError(t, err)
	assert.Equal(t, "dw", n.Table.Schema)
	assert.Len(t, n.Table.Columns, 2)

	_, err = s.Node(ctx, "table:missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestApply_ReplacesBySource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Apply(ctx, []SourceBatch{
		{SourceID: "a.sql", Batch: loadBatch("a.sql", "load_a", "dst_a", "shared")},
		{SourceID: "b.sql", Batch: loadBatch("b.sql", "load_b", "dst_b", "shared")},
	})
	require.NoError(t, err)

	merged, err := s.Apply(ctx, []SourceBatch{
		{SourceID: "a.sql", Batch: loadBatch("a.sql", "reload_a", "dst_a2", "shared")},
	})
	require.NoError(t, err)

	_, ok := merged.Node(graph.OperationID("a.sql", "load_a"))
	assert.False(t, ok, "old operation of a.sql is replaced")
	_, ok = merged.Node(graph.OperationID("a.sql", "reload_a"))
	assert.True(t, ok)
	_, ok = merged.Node(graph.OperationID("b.sql", "load_b"))
	assert.True(t, ok, "b.sql is untouched")
	_, ok = merged.Node(graph.TableID("dst_a"))
	assert.False(t, ok, "only the old load_a wrote dst_a")
	_, ok = merged.Node(graph.TableID("shared"))
	assert.True(t, ok, "shared is still read by both scripts")

	_, ok = merged.Edge(graph.EdgeKey{Source: graph.OperationID("a.sql", "load_a"), Target: graph.TableID("dst_a"), Kind: graph.EdgeWrites})
	assert.False(t, ok)

	for _, d := range merged.Diagnostics {
		if d.SourceID == "a.sql" {
			assert.Equal(t, "seen dst_a2", d.Message)
		}
	}

	stored, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, merged, stored)
}

func TestApply_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	batches := []SourceBatch{
		{SourceID: "b.sql", Batch: loadBatch("b.sql", "load_b", "dst_b", "shared")},
		{SourceID: "a.sql", Batch: loadBatch("a.sql", "load_a", "dst_a", "shared")},
	}

	first, err := s.Apply(ctx, batches)
	require.NoError(t, err)
	second, err := s.Apply(ctx, batches)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = s.Apply(ctx, []SourceBatch{{SourceID: "a.sql", Batch: loadBatch("a.sql", "t", "x")}})
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].Scripts)
	assert.NotNil(t, runs[0].CompletedAt)
	assert.Empty(t, runs[0].Error)
	assert.Len(t, runs[0].ID, 36)

	err = s.CompleteRun(ctx, "no-such-run", RunStatusFailed, 0, "boom")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotOpened(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(nil)

	_, err := s.Load(ctx)
	assert.Error(t, err)
	_, err = s.Apply(ctx, nil)
	assert.Error(t, err)
	_, err = s.CreateRun(ctx)
	assert.Error(t, err)
	assert.Error(t, s.Migrate(ctx))
	assert.NoError(t, s.Close())
}
