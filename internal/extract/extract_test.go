package extract

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/script"
	"github.com/leapstack-labs/etlgraph/internal/typemap"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

const factWater = `INSERT INTO dw.fact_water (station_id, measure_date, avg_value, sample_count)
SELECT s.station_id, TRUNC(w.measured_at), ROUND(AVG(w.measure_value), 2), COUNT(*)
  FROM staging_water w
  JOIN dim_station s ON s.station_code = w.station_code
 WHERE w.measured_at >= SYSDATE - 1
 GROUP BY s.station_id, TRUNC(w.measured_at);`

// both runs fn once per extraction path.
func both(t *testing.T, fn func(t *testing.T, p Path)) {
	t.Helper()
	pack := rules.MustBuiltin("oracle")
	for _, p := range []Path{NewStructured(pack), NewPattern(pack)} {
		t.Run(p.Name(), func(t *testing.T) { fn(t, p) })
	}
}

func single(t *testing.T, p Path, sql string) Facts {
	t.Helper()
	stmts := script.Segment(sql).Statements()
	require.Len(t, stmts, 1)
	return p.Extract(stmts[0])
}

func lineageOf(t *testing.T, f Facts, table string) []graph.ColumnLineage {
	t.Helper()
	for _, w := range f.Writes {
		if w.Table == table {
			return w.Lineage
		}
	}
	t.Fatalf("no write to %s in %+v", table, f.Writes)
	return nil
}

func hasDiagnostic(diags []graph.Diagnostic, sev graph.Severity, substr string) bool {
	for _, d := range diags {
		if d.Severity == sev && strings.Contains(d.Message, substr) {
			return true
		}
	}
	return false
}

func TestExtract_FactWater(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, factWater)

		assert.Equal(t, script.StmtInsert, f.Kind)
		assert.Equal(t, []string{"dim_station", "staging_water"}, f.Reads)
		assert.True(t, f.Aggregating)
		assert.Equal(t, []Join{{
			Left:      "staging_water",
			Right:     "dim_station",
			Type:      "INNER",
			Condition: "s.station_code = w.station_code",
		}}, f.Joins)
		assert.Equal(t, []graph.ColumnLineage{
			{SourceExpression: "s.station_id", TargetColumn: "station_id", TransformationKind: graph.Direct},
			{SourceExpression: "TRUNC(w.measured_at)", TargetColumn: "measure_date", TransformationKind: graph.Transformed},
			{SourceExpression: "ROUND(AVG(w.measure_value), 2)", TargetColumn: "avg_value", TransformationKind: graph.Aggregate},
			{SourceExpression: "COUNT(*)", TargetColumn: "sample_count", TransformationKind: graph.Aggregate},
		}, lineageOf(t, f, "dw.fact_water"))
	})
}

func TestExtract_BlacklistOnlyFrom(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, "SELECT SYSDATE, USER FROM dual;")
		assert.Empty(t, f.Reads)
		assert.Empty(t, f.Writes)
		assert.Empty(t, f.Joins)
	})
}

func TestExtract_OneEntryPerColumn(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, `INSERT INTO t (a, b, c)
			SELECT x, y + 1, MAX(z) FROM s GROUP BY x, y;`)
		lineage := lineageOf(t, f, "t")
		require.Len(t, lineage, 3)
		assert.Equal(t, graph.Direct, lineage[0].TransformationKind)
		assert.Equal(t, graph.Transformed, lineage[1].TransformationKind)
		assert.Equal(t, graph.Aggregate, lineage[2].TransformationKind)
	})
}

func TestExtract_NestedAggregateIsOneEntry(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, "INSERT INTO daily (avg_value) SELECT ROUND(AVG(measure_value),2) FROM readings;")
		assert.Equal(t, []graph.ColumnLineage{{
			SourceExpression:   "ROUND(AVG(measure_value),2)",
			TargetColumn:       "avg_value",
			TransformationKind: graph.Aggregate,
		}}, lineageOf(t, f, "daily"))
	})
}

func TestExtract_TargetNames(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, `INSERT INTO summary
			SELECT region, SUM(amount) AS total, COUNT(DISTINCT customer_id) customers, 42
			  FROM sales GROUP BY region;`)
		lineage := lineageOf(t, f, "summary")
		var targets []string
		for _, e := range lineage {
			targets = append(targets, e.TargetColumn)
		}
		assert.Equal(t, []string{"region", "total", "customers", "column4"}, targets)
		assert.Equal(t, "42", lineage[3].SourceExpression)
	})
}

func TestExtract_Star(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, "INSERT INTO archive SELECT * FROM live;")
		assert.Empty(t, lineageOf(t, f, "archive"))
		assert.True(t, hasDiagnostic(f.Diagnostics, graph.SeverityInfo, "cannot be expanded"))

		f = single(t, p, "INSERT INTO archive (id, name) SELECT * FROM live;")
		assert.Equal(t, []graph.ColumnLineage{
			{SourceExpression: "*", TargetColumn: "id", TransformationKind: graph.Direct, LowConfidence: true},
			{SourceExpression: "*", TargetColumn: "name", TransformationKind: graph.Direct, LowConfidence: true},
		}, lineageOf(t, f, "archive"))
	})
}

func TestExtract_ColumnCountMismatch(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, "INSERT INTO t (a, b, c) SELECT x, y FROM s;")
		lineage := lineageOf(t, f, "t")
		require.Len(t, lineage, 3)
		assert.Equal(t, graph.ColumnLineage{
			TargetColumn:       "c",
			TransformationKind: graph.Transformed,
			LowConfidence:      true,
		}, lineage[2])
		assert.True(t, hasDiagnostic(f.Diagnostics, graph.SeverityWarning, "column count mismatch writing t"))
	})
}

func TestExtract_Values(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, "INSERT INTO etl_log (run_id, started_at, note) VALUES (:run_id, SYSDATE, 'start');")
		assert.Empty(t, f.Reads)
		assert.Equal(t, []graph.ColumnLineage{
			{SourceExpression: ":run_id", TargetColumn: "run_id", TransformationKind: graph.Transformed},
			{SourceExpression: "SYSDATE", TargetColumn: "started_at", TransformationKind: graph.Transformed},
			{SourceExpression: "'start'", TargetColumn: "note", TransformationKind: graph.Transformed},
		}, lineageOf(t, f, "etl_log"))
	})
}

func TestExtract_Update(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, `UPDATE accounts a
			   SET a.balance = a.balance * 1.05,
			       (tier, flag) = (SELECT t.tier, t.flag FROM tiers t WHERE t.id = a.tier_id)
			 WHERE a.status = 'A';`)
		assert.Equal(t, []string{"tiers"}, f.Reads)
		assert.Equal(t, []graph.ColumnLineage{
			{SourceExpression: "a.balance * 1.05", TargetColumn: "balance", TransformationKind: graph.Transformed},
			{SourceExpression: "(SELECT t.tier, t.flag FROM tiers t WHERE t.id = a.tier_id)", TargetColumn: "tier", TransformationKind: graph.Transformed, LowConfidence: true},
			{SourceExpression: "(SELECT t.tier, t.flag FROM tiers t WHERE t.id = a.tier_id)", TargetColumn: "flag", TransformationKind: graph.Transformed, LowConfidence: true},
		}, lineageOf(t, f, "accounts"))
	})
}

func TestExtract_Delete(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, "DELETE FROM audit_log WHERE id IN (SELECT log_id FROM purge_queue);")
		assert.Equal(t, []string{"purge_queue"}, f.Reads)
		require.Len(t, f.Writes, 1)
		assert.Equal(t, "audit_log", f.Writes[0].Table)
		assert.Empty(t, f.Writes[0].Lineage)
	})
}

func TestExtract_Merge(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, `MERGE INTO dim_station d
			USING (SELECT station_code, station_name FROM staging_station) s
			   ON (d.station_code = s.station_code)
			 WHEN MATCHED THEN UPDATE SET d.station_name = s.station_name
			 WHEN NOT MATCHED THEN INSERT (station_code, station_name)
			      VALUES (s.station_code, UPPER(s.station_name));`)
		assert.Equal(t, []string{"staging_station"}, f.Reads)
		lineage := lineageOf(t, f, "dim_station")
		require.Len(t, lineage, 2)

		assert.Equal(t, "station_name", lineage[0].TargetColumn)
		assert.Equal(t, graph.Transformed, lineage[0].TransformationKind)
		assert.Equal(t, "UPPER(s.station_name)", lineage[0].SourceExpression)
		assert.Equal(t, []string{"s.station_name"}, lineage[0].AlternateExpressions)

		assert.Equal(t, graph.ColumnLineage{
			SourceExpression:   "s.station_code",
			TargetColumn:       "station_code",
			TransformationKind: graph.Direct,
		}, lineage[1])
	})
}

func TestExtract_CreateTable(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, `CREATE TABLE dim_customer (
			id       NUMBER(10) NOT NULL,
			name     VARCHAR2(100),
			created  DATE DEFAULT SYSDATE,
			CONSTRAINT pk_dim_customer PRIMARY KEY (id)
		);`)
		require.Len(t, f.Writes, 1)
		assert.Equal(t, "dim_customer", f.Writes[0].Table)
		assert.Equal(t, []graph.Column{
			{Name: "id", DeclaredType: "NUMBER(10)", CanonicalType: typemap.Canonical("NUMBER(10)")},
			{Name: "name", DeclaredType: "VARCHAR2(100)", CanonicalType: typemap.Canonical("VARCHAR2(100)")},
			{Name: "created", DeclaredType: "DATE", CanonicalType: typemap.Canonical("DATE")},
		}, f.Writes[0].Columns)
		assert.Empty(t, f.Writes[0].Lineage)
	})
}

func TestExtract_CreateTableAsSelect(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, "CREATE TABLE tmp_sales AS SELECT region, SUM(amount) total FROM sales GROUP BY region;")
		assert.Equal(t, []string{"sales"}, f.Reads)
		assert.True(t, f.Aggregating)
		assert.Equal(t, []graph.ColumnLineage{
			{SourceExpression: "region", TargetColumn: "region", TransformationKind: graph.Direct},
			{SourceExpression: "SUM(amount)", TargetColumn: "total", TransformationKind: graph.Aggregate},
		}, lineageOf(t, f, "tmp_sales"))

		f = single(t, p, "CREATE TABLE tmp_ids (id, src) AS SELECT customer_id, 'crm' FROM customers;")
		lineage := lineageOf(t, f, "tmp_ids")
		require.Len(t, lineage, 2)
		assert.Equal(t, "id", lineage[0].TargetColumn)
		assert.Equal(t, "src", lineage[1].TargetColumn)
	})
}

func TestExtract_WindowIsNotAggregate(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, `INSERT INTO running (id, total)
			SELECT id, SUM(amount) OVER (PARTITION BY account_id ORDER BY posted_at) FROM ledger;`)
		assert.True(t, f.Aggregating)
		lineage := lineageOf(t, f, "running")
		require.Len(t, lineage, 2)
		assert.Equal(t, graph.Transformed, lineage[1].TransformationKind)
	})
}

func TestExtract_CTENamesAreNotTables(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, `INSERT INTO recent_users (id)
			WITH recent AS (SELECT user_id FROM events WHERE ts > SYSDATE - 7)
			SELECT r.user_id FROM recent r JOIN users u ON u.id = r.user_id;`)
		assert.Equal(t, []string{"events", "users"}, f.Reads)
		assert.Empty(t, f.Joins)
	})
}

func TestExtract_UnknownFunction(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, "INSERT INTO t (a) SELECT my_udf(x) FROM s;")
		assert.Equal(t, []string{"s"}, f.Reads)
		assert.True(t, hasDiagnostic(f.Diagnostics, graph.SeverityInfo, "my_udf"))
	})
}

func TestExtract_SelectIntoTable(t *testing.T) {
	pack := rules.MustBuiltin("tsql")
	for _, p := range []Path{NewStructured(pack), NewPattern(pack)} {
		t.Run(p.Name(), func(t *testing.T) {
			f := single(t, p, "SELECT id, name INTO #staging FROM customers;")
			assert.Equal(t, []string{"customers"}, f.Reads)
			assert.Len(t, lineageOf(t, f, "#staging"), 2)

			f = single(t, p, "SELECT @total = SUM(amount) FROM orders;")
			assert.Empty(t, f.Writes)
		})
	}

	both(t, func(t *testing.T, p Path) {
		f := single(t, p, "SELECT COUNT(*) INTO v_count FROM orders;")
		assert.Empty(t, f.Writes)
		assert.Equal(t, []string{"orders"}, f.Reads)
	})
}

func TestExtract_TSQLUpdateAlias(t *testing.T) {
	pack := rules.MustBuiltin("tsql")
	for _, p := range []Path{NewStructured(pack), NewPattern(pack)} {
		t.Run(p.Name(), func(t *testing.T) {
			f := single(t, p, `UPDATE o SET o.status = 'late', o.checked_at = GETDATE()
				FROM dbo.orders o JOIN dbo.shipments s ON s.order_id = o.id
				WHERE s.shipped_at IS NULL;`)
			assert.Equal(t, []string{"dbo.orders", "dbo.shipments"}, f.Reads)
			assert.Equal(t, []graph.ColumnLineage{
				{SourceExpression: "'late'", TargetColumn: "status", TransformationKind: graph.Transformed},
				{SourceExpression: "GETDATE()", TargetColumn: "checked_at", TransformationKind: graph.Transformed},
			}, lineageOf(t, f, "dbo.orders"))
			assert.Equal(t, []Join{{Left: "dbo.orders", Right: "dbo.shipments", Type: "INNER", Condition: "s.order_id = o.id"}}, f.Joins)
		})
	}
}

func TestExtract_QuotedNamesKeepCase(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, `INSERT INTO "Fact_T" (a) SELECT a FROM "Stage"."Src_X";`)
		assert.Equal(t, []string{`"Stage"."Src_X"`}, f.Reads)
		require.Len(t, f.Writes, 1)
		assert.Equal(t, `"Fact_T"`, f.Writes[0].Table)
	})
}

func TestExtract_SchemaQualifiedBuiltinNames(t *testing.T) {
	both(t, func(t *testing.T, p Path) {
		f := single(t, p, `INSERT INTO etl.audit (id, name)
			SELECT l.id, u.name FROM etl.log l JOIN app.user u ON u.id = l.user_id;`)
		assert.Equal(t, []string{"app.user", "etl.log"}, f.Reads)
	})
}

func TestPattern_MalformedExpression(t *testing.T) {
	p := NewPattern(rules.MustBuiltin("oracle"))
	f := single(t, p, "INSERT INTO t (a) SELECT ROUND(AVG(x), 2, FROM s;")

	lineage := lineageOf(t, f, "t")
	require.Len(t, lineage, 1)
	assert.Equal(t, "a", lineage[0].TargetColumn)
	assert.Equal(t, graph.Transformed, lineage[0].TransformationKind)
	assert.True(t, lineage[0].LowConfidence)
	assert.True(t, hasDiagnostic(f.Diagnostics, graph.SeverityWarning, "malformed expression"), "%v", f.Diagnostics)
	assert.Empty(t, f.Reads)
}

func TestPattern_FromInsideFunctionArguments(t *testing.T) {
	p := NewPattern(rules.MustBuiltin("oracle"))
	f := single(t, p, "SELECT TRIM(BOTH ' ' FROM name), EXTRACT(YEAR FROM created_at) FROM customers;")
	assert.Equal(t, []string{"customers"}, f.Reads)
}

func TestPattern_Hierarchical(t *testing.T) {
	p := NewPattern(rules.MustBuiltin("oracle"))
	f := single(t, p, `INSERT INTO org_tree (id, parent_id, lvl)
		SELECT id, manager_id, LEVEL FROM employees
		START WITH manager_id IS NULL CONNECT BY PRIOR id = manager_id;`)
	assert.Equal(t, []string{"employees"}, f.Reads)
	assert.Equal(t, []graph.ColumnLineage{
		{SourceExpression: "id", TargetColumn: "id", TransformationKind: graph.Direct},
		{SourceExpression: "manager_id", TargetColumn: "parent_id", TransformationKind: graph.Direct},
		{SourceExpression: "LEVEL", TargetColumn: "lvl", TransformationKind: graph.Transformed},
	}, lineageOf(t, f, "org_tree"))
}

func TestPattern_MultiTableInsert(t *testing.T) {
	p := NewPattern(rules.MustBuiltin("oracle"))
	f := single(t, p, `INSERT ALL
		INTO ids (x) VALUES (id)
		INTO names (y) VALUES (UPPER(name))
		SELECT id, name FROM src;`)
	assert.Equal(t, []string{"src"}, f.Reads)
	assert.Equal(t, []graph.ColumnLineage{
		{SourceExpression: "id", TargetColumn: "x", TransformationKind: graph.Direct},
	}, lineageOf(t, f, "ids"))
	assert.Equal(t, []graph.ColumnLineage{
		{SourceExpression: "UPPER(name)", TargetColumn: "y", TransformationKind: graph.Transformed},
	}, lineageOf(t, f, "names"))
}

func TestChoose(t *testing.T) {
	pack := rules.MustBuiltin("oracle")

	p, diags := Choose(script.Segment(factWater), pack)
	assert.Equal(t, PathStructured, p.Name())
	assert.Empty(t, diags)

	sc := script.Segment(factWater + "\nSELECT id FROM emp START WITH mgr IS NULL CONNECT BY PRIOR id = mgr;")
	p, diags = Choose(sc, pack)
	assert.Equal(t, PathPattern, p.Name())
	require.Len(t, diags, 1)
	assert.Equal(t, graph.SeverityWarning, diags[0].Severity)
	assert.Contains(t, diags[0].Message, "statement 2 (select)")
}

// Both paths must agree on everything but diagnostics for statements the
// parser accepts.
func TestPathEquivalence(t *testing.T) {
	corpus := []string{
		factWater,
		"SELECT e.name, d.name FROM emp e, dept d WHERE e.dept_id = d.id(+);",
		"INSERT INTO t (x, y) VALUES (1, 'a');",
		"UPDATE accounts SET balance = balance * 1.05, updated_at = SYSDATE WHERE status = 'A';",
		"DELETE FROM audit_log WHERE created_at < ADD_MONTHS(SYSDATE, -12);",
		`INSERT INTO sales_summary
		 SELECT region, product, SUM(amount) AS total, COUNT(DISTINCT customer_id) customers
		   FROM sales s LEFT OUTER JOIN regions r USING (region_id)
		  WHERE EXTRACT(YEAR FROM sale_date) = 2024
		  GROUP BY region, product;`,
		`INSERT INTO active_customers (id)
		 SELECT c.id FROM customers c
		  WHERE EXISTS (SELECT 1 FROM orders o WHERE o.customer_id = c.id);`,
		"INSERT INTO t (m) SELECT (SELECT MAX(x) FROM y) FROM z;",
		"INSERT INTO all_ids (id) SELECT id FROM a UNION ALL SELECT id FROM b;",
		`INSERT INTO ranked (id, score_total)
		 SELECT id, SUM(score) OVER (PARTITION BY grp) FROM scores;`,
		`SELECT o.id, c.name, p.title
		   FROM orders o
		   JOIN customers c ON c.id = o.customer_id
		   LEFT JOIN products p ON p.id = o.product_id AND p.active = 1
		  CROSS JOIN calendar k;`,
		`MERGE INTO dim_station d
		 USING staging_station s ON (d.station_code = s.station_code)
		 WHEN MATCHED THEN UPDATE SET d.station_name = s.station_name, d.updated_at = SYSDATE
		 WHEN NOT MATCHED THEN INSERT (station_code, station_name) VALUES (s.station_code, s.station_name);`,
		"CREATE TABLE tmp_sales AS SELECT region, SUM(amount) total FROM sales GROUP BY region;",
		"CREATE TABLE dim_x (id NUMBER(10) NOT NULL, name VARCHAR2(100), CONSTRAINT pk PRIMARY KEY (id));",
		`INSERT INTO recent_users (id)
		 WITH recent AS (SELECT user_id FROM events WHERE ts > SYSDATE - 7)
		 SELECT r.user_id FROM recent r JOIN users u ON u.id = r.user_id;`,
		`INSERT INTO labels (code, label)
		 SELECT code, CASE WHEN kind = 'A' THEN 'alpha' ELSE 'other' END label FROM codes;`,
	}

	pack := rules.MustBuiltin("oracle")
	structured, pattern := NewStructured(pack), NewPattern(pack)
	for _, sql := range corpus {
		sc := script.Segment(sql)
		p, _ := Choose(sc, pack)
		require.Equal(t, PathStructured, p.Name(), "corpus statement must parse: %s", sql)
		for _, stmt := range sc.Statements() {
			want := comparable(structured.Extract(stmt))
			got := comparable(pattern.Extract(stmt))
			assert.Equal(t, want, got, sql)
		}
	}
}

func comparable(f Facts) Facts {
	f.Diagnostics = nil
	f.Joins = slices.Clone(f.Joins)
	slices.SortFunc(f.Joins, func(a, b Join) int {
		return strings.Compare(a.Left+"\x00"+a.Right, b.Left+"\x00"+b.Right)
	})
	return f
}
