package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/state"
	"github.com/leapstack-labs/etlgraph/internal/testutil"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

const martScript = `INSERT INTO mart_water (sensor_id, avg_value)
SELECT sensor_id, avg_value FROM fact_water;`

const reportScript = `INSERT INTO report (id, name)
SELECT o.id, c.name FROM orders o JOIN customers c ON o.customer_id = c.id;`

func newStore(t *testing.T) *state.SQLiteStore {
	t.Helper()
	store := state.NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(context.Background(), ":memory:"))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newWatcher(t *testing.T, root string, store *state.SQLiteStore, onApply func(graph.Batch)) *Watcher {
	t.Helper()
	return New(Config{
		Roots:    []string{root},
		Rules:    rules.MustBuiltin("oracle"),
		Store:    store,
		Debounce: 20 * time.Millisecond,
		Logger:   testutil.NewTestLogger(t),
		OnApply:  onApply,
	})
}

func TestSyncAndUpdate(t *testing.T) {
	ctx := context.Background()
	dir := testutil.WriteScripts(t, t.TempDir(), map[string]string{
		"load/water.sql": testutil.FactWater,
		"mart/mart.sql":  martScript,
		"notes.txt":      "INSERT INTO ignored SELECT * FROM nothing;",
	})
	store := newStore(t)
	w := newWatcher(t, dir, store, nil)

	b, err := w.Sync(ctx)
	require.NoError(t, err)
	assert.Len(t, b.NodesOfKind(graph.KindOperation), 2)
	_, ok := b.Node(graph.TableID("ignored"))
	assert.False(t, ok, "non-script files are not extracted")

	// rewrite the mart to read from a different table
	mart := filepath.Join(dir, "mart", "mart.sql")
	require.NoError(t, os.WriteFile(mart, []byte(`INSERT INTO mart_water (sensor_id) SELECT sensor_id FROM sensors;`), 0o644))
	b, err = w.Update(ctx, []string{mart})
	require.NoError(t, err)

	martOp := graph.OperationID(filepath.ToSlash(mart), "load_mart_water")
	_, ok = b.Edge(graph.EdgeKey{Source: martOp, Target: graph.TableID("sensors"), Kind: graph.EdgeReads})
	assert.True(t, ok, "new read edge")
	_, ok = b.Edge(graph.EdgeKey{Source: martOp, Target: graph.TableID("fact_water"), Kind: graph.EdgeReads})
	assert.False(t, ok, "old read edge replaced")

	// remove it
	require.NoError(t, os.Remove(mart))
	b, err = w.Update(ctx, []string{mart})
	require.NoError(t, err)
	_, ok = b.Node(martOp)
	assert.False(t, ok, "removed script's operation dropped")
	assert.Len(t, b.NodesOfKind(graph.KindOperation), 1)
	for _, table := range []string{"mart_water", "sensors"} {
		_, ok = b.Node(graph.TableID(table))
		assert.False(t, ok, "%s was only used by the removed script", table)
	}
	_, ok = b.Node(graph.TableID("fact_water"))
	assert.True(t, ok, "fact_water is still written by water.sql")

	stored, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, stored)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestUpdate_SkipsUnchangedScripts(t *testing.T) {
	ctx := context.Background()
	dir := testutil.WriteScripts(t, t.TempDir(), map[string]string{"water.sql": testutil.FactWater})
	store := newStore(t)
	w := newWatcher(t, dir, store, nil)

	_, err := w.Sync(ctx)
	require.NoError(t, err)

	path := filepath.Join(dir, "water.sql")
	b, err := w.Update(ctx, []string{path})
	require.NoError(t, err)
	assert.True(t, b.Empty(), "nothing to apply")

	require.NoError(t, os.WriteFile(path, []byte(martScript), 0o644))
	b, err = w.Update(ctx, []string{path})
	require.NoError(t, err)
	_, ok := b.Node(graph.TableID("mart_water"))
	assert.True(t, ok)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestUpdate_RemovedScriptTakesItsJoins(t *testing.T) {
	ctx := context.Background()
	dir := testutil.WriteScripts(t, t.TempDir(), map[string]string{
		"water.sql":  testutil.FactWater,
		"report.sql": reportScript,
	})
	w := newWatcher(t, dir, newStore(t), nil)

	b, err := w.Sync(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, b.EdgesOfKind(graph.EdgeJoins))

	report := filepath.Join(dir, "report.sql")
	require.NoError(t, os.Remove(report))
	b, err = w.Update(ctx, []string{report})
	require.NoError(t, err)

	assert.Empty(t, b.EdgesOfKind(graph.EdgeJoins))
	for _, table := range []string{"report", "orders", "customers"} {
		_, ok := b.Node(graph.TableID(table))
		assert.False(t, ok, table)
	}
	assert.Len(t, b.NodesOfKind(graph.KindOperation), 1)
}

func TestSync_MissingRoot(t *testing.T) {
	w := newWatcher(t, filepath.Join(t.TempDir(), "nope"), newStore(t), nil)
	_, err := w.Sync(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_ReextractsChangedScripts(t *testing.T) {
	dir := testutil.WriteScripts(t, t.TempDir(), map[string]string{
		"water.sql": testutil.FactWater,
	})
	applied := make(chan graph.Batch, 8)
	w := newWatcher(t, dir, newStore(t), func(b graph.Batch) { applied <- b })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	next := func() graph.Batch {
		t.Helper()
		select {
		case b := <-applied:
			return b
		case <-time.After(10 * time.Second):
			t.Fatal("no graph update")
			return graph.Batch{}
		}
	}

	b := next()
	assert.Len(t, b.NodesOfKind(graph.KindOperation), 1)

	testutil.WriteScripts(t, dir, map[string]string{"mart.sql": martScript})
	for {
		b = next()
		if len(b.NodesOfKind(graph.KindOperation)) == 2 {
			break
		}
	}
	_, ok := b.Node(graph.TableID("mart_water"))
	assert.True(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
