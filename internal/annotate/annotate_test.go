package annotate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/etlgraph/internal/extract"
	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/script"
)

func blocks(t *testing.T, src string, pack *rules.Pack) []Block {
	t.Helper()
	sc := script.Segment(src)
	path, _ := extract.Choose(sc, pack)
	out := make([]Block, 0, len(sc.Blocks))
	for _, b := range sc.Blocks {
		blk := Block{Block: b}
		for _, st := range b.Statements {
			blk.Facts = append(blk.Facts, path.Extract(st))
		}
		out = append(out, blk)
	}
	return out
}

func names(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Name
	}
	return out
}

const loadWater = `INSERT INTO fact_water (sensor_id, avg_value)
SELECT sensor_id, ROUND(AVG(measure_value),2) FROM staging_water GROUP BY sensor_id;`

func TestName_MarkerVersusSynthesized(t *testing.T) {
	pack := rules.MustBuiltin("oracle")

	marked := blocks(t, "-- Task: load_water_daily\n"+loadWater, pack)
	tasks := Name(marked, "etl/water.sql", pack)
	require.Len(t, tasks, 1)
	assert.Equal(t, Task{Name: "load_water_daily", Explicit: true}, tasks[0])

	plain := blocks(t, loadWater, pack)
	tasks = Name(plain, "etl/water.sql", pack)
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].Explicit)
	assert.Equal(t, "aggregate_load_fact_water", tasks[0].Name)
	assert.Equal(t, rules.MatchAggregateLoad, tasks[0].Rule)

	assert.Equal(t, tasks, Name(plain, "etl/water.sql", pack), "naming must be deterministic")
}

func TestName_MarkerPlacement(t *testing.T) {
	pack := rules.MustBuiltin("oracle")

	// The comment closest to the block wins.
	bs := blocks(t, "-- Task: first\n/* @task second */\n"+loadWater, pack)
	assert.Equal(t, "second", Name(bs, "", pack)[0].Name)

	bs = blocks(t, `CREATE OR REPLACE PROCEDURE load_water IS
  -- task: nightly_water
BEGIN
  DELETE FROM fact_water;
END;
/`, pack)
	tasks := Name(bs, "", pack)
	require.Len(t, tasks, 1)
	assert.Equal(t, Task{Name: "nightly_water", Explicit: true}, tasks[0])

	// A marker inside a string literal is not a comment.
	bs = blocks(t, "INSERT INTO notes (txt) VALUES ('Task: fake');", pack)
	assert.Equal(t, "load_notes", Name(bs, "", pack)[0].Name)
}

func TestName_Rules(t *testing.T) {
	pack := rules.MustBuiltin("oracle")

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"declared", "CREATE PROCEDURE etl.refresh_dims IS BEGIN DELETE FROM dim_x; END;\n/", "refresh_dims"},
		{"cursor loop", `DECLARE
  CURSOR c IS SELECT id FROM src;
BEGIN
  FOR r IN c LOOP
    INSERT INTO dst (id) VALUES (r.id);
  END LOOP;
END;
/`, "cursor_load_dst"},
		{"create table", "CREATE TABLE tmp_x AS SELECT id FROM src;", "create_tmp_x"},
		{"merge", "MERGE INTO dw.dim_a d USING src s ON (d.id = s.id) WHEN MATCHED THEN UPDATE SET d.v = s.v;", "merge_into_dim_a"},
		{"load", "INSERT INTO dw.stage (id) SELECT id FROM src;", "load_stage"},
		{"update", "UPDATE accounts SET flag = 1;", "update_accounts"},
		{"delete", "DELETE FROM audit_log WHERE id < 10;", "purge_audit_log"},
		{"analytical query", "SELECT region, SUM(x) FROM sales GROUP BY region;", "analyze_sales"},
		{"query", "SELECT id FROM customers;", "query_customers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := Name(blocks(t, tt.src, pack), "script.sql", pack)
			require.Len(t, tasks, 1)
			assert.Equal(t, tt.want, tasks[0].Name)
			assert.False(t, tasks[0].Explicit)
		})
	}
}

func TestName_StemAndFallback(t *testing.T) {
	pack := rules.MustBuiltin("oracle")
	src := "SELECT SYSDATE FROM dual;\nSELECT 1 FROM dual;"

	bs := blocks(t, src, pack)
	require.Len(t, bs, 2)

	tasks := Name(bs, `C:\etl\daily_load.sql`, pack)
	assert.Equal(t, []string{"daily_load", "daily_load_2"}, names(tasks))
	assert.Equal(t, OriginStem, tasks[0].Rule)

	tasks = Name(bs, "", pack)
	assert.Equal(t, []string{"unnamed_task_1", "unnamed_task_2"}, names(tasks))
	assert.Equal(t, OriginFallback, tasks[1].Rule)
}

func TestName_Uniqueness(t *testing.T) {
	pack := rules.MustBuiltin("oracle")
	src := `-- Task: load_dst
INSERT INTO other (id) SELECT id FROM a;
INSERT INTO dst (id) SELECT id FROM a;
INSERT INTO dst (id) SELECT id FROM b;
-- Task: load_dst
INSERT INTO dst (id) SELECT id FROM c;`

	tasks := Name(blocks(t, src, pack), "", pack)
	assert.Equal(t, []string{"load_dst", "load_dst_2", "load_dst_3", "load_dst"}, names(tasks))
	assert.True(t, tasks[0].Explicit)
	assert.True(t, tasks[3].Explicit)
}

func TestName_TemplateNeedsAllPlaceholders(t *testing.T) {
	pack := rules.MustBuiltin("oracle")
	pack.TaskRules = []rules.TaskRule{
		{Match: rules.MatchDelete, Template: "purge_{target}_from_{source}"},
		{Match: rules.MatchDelete, Template: "purge_{target}"},
	}
	tasks := Name(blocks(t, "DELETE FROM t;", pack), "", pack)
	assert.Equal(t, "purge_t", tasks[0].Name)

	tasks = Name(blocks(t, "DELETE FROM t WHERE id IN (SELECT id FROM s);", pack), "", pack)
	assert.Equal(t, "purge_t_from_s", tasks[0].Name)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "water", Stem("etl/water.sql"))
	assert.Equal(t, "pkg_load", Stem("pkg_load.pkb"))
	assert.Equal(t, "README", Stem("README"))
	assert.Equal(t, ".profile", Stem("/home/u/.profile"))
	assert.Empty(t, Stem(""))
}

func TestHasErrorHandling(t *testing.T) {
	oracle := rules.MustBuiltin("oracle")

	with := script.Segment(`BEGIN
  INSERT INTO t (a) SELECT a FROM s;
EXCEPTION
  WHEN OTHERS THEN ROLLBACK;
END;
/`)
	without := script.Segment(`BEGIN
  INSERT INTO t (a) SELECT a FROM s;
END;
/`)
	require.Len(t, with.Blocks, 1)
	require.Len(t, without.Blocks, 1)
	assert.True(t, HasErrorHandling(with.Blocks[0], oracle))
	assert.False(t, HasErrorHandling(without.Blocks[0], oracle))

	commented := script.Segment("-- EXCEPTION WHEN OTHERS\nINSERT INTO t (a) VALUES ('EXCEPTION WHEN x');")
	require.Len(t, commented.Blocks, 1)
	assert.False(t, HasErrorHandling(commented.Blocks[0], oracle))

	sqlplus := script.Segment("WHENEVER SQLERROR EXIT FAILURE\nINSERT INTO t (a) SELECT a FROM s;")
	require.Len(t, sqlplus.Blocks, 1)
	assert.True(t, HasErrorHandling(sqlplus.Blocks[0], oracle))

	tsql := rules.MustBuiltin("tsql")
	try := script.Segment(`BEGIN TRY
  INSERT INTO t (a) SELECT a FROM s;
END TRY
BEGIN CATCH
  SELECT ERROR_MESSAGE();
END CATCH`)
	require.NotEmpty(t, try.Blocks)
	found := false
	for _, b := range try.Blocks {
		found = found || HasErrorHandling(b, tsql)
	}
	assert.True(t, found)
}
