package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"STAGING_WATER", "staging_water"},
		{"Dw.Fact_Water", "dw.fact_water"},
		{`"MixedCase"`, `"MixedCase"`},
		{`"lower_case"`, "lower_case"},
		{`dw . "Fact""X"`, `dw."Fact""X"`},
		{"[dbo].[Orders]", `dbo."Orders"`},
		{"[orders]", "orders"},
		{`"a.b".c`, `"a.b".c`},
		{`"with space"`, `"with space"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeName(got), "normalizing twice changes the name")
		})
	}
}

func TestNormalizeName_QuotedCaseIsDistinct(t *testing.T) {
	quoted := NormalizeName(`"Fact_T"`)
	plain := NormalizeName("fact_t")
	assert.NotEqual(t, TableID(quoted), TableID(plain))
	assert.Equal(t, `table:"Fact_T"`, TableID(quoted))
	assert.Equal(t, TableID(quoted), TableID(`"Fact_T"`))
	assert.Equal(t, "table:fact_t", TableID("FACT_T"))
}

func TestIDs(t *testing.T) {
	assert.Equal(t, "table:dw.fact_water", TableID("DW.FACT_WATER"))
	assert.Equal(t, "operation:etl/load.sql#load_fact_water", OperationID("etl/load.sql", "load_fact_water"))
	assert.True(t, IsTableID(TableID("x")))
	assert.False(t, IsTableID(OperationID("a", "b")))
	assert.Equal(t, "fact_water", ShortName("dw.fact_water"))
	assert.Equal(t, "dw", SchemaOf("dw.fact_water"))
	assert.Equal(t, "", SchemaOf("fact_water"))
	assert.Equal(t, "c", ShortName(`"a.b".c`))
	assert.Equal(t, `"a.b"`, SchemaOf(`"a.b".c`))
	assert.Equal(t, `"Fact.X"`, ShortName(`dw."Fact.X"`))
	assert.Equal(t, []string{"dw", `"Fact.X"`}, SplitName(`dw."Fact.X"`))
	assert.Equal(t, `Fact"X`, Unquote(`"Fact""X"`))
	assert.Equal(t, "plain", Unquote("plain"))
}

func TestStronger(t *testing.T) {
	assert.Equal(t, Aggregate, Stronger(Direct, Aggregate))
	assert.Equal(t, Aggregate, Stronger(Aggregate, Transformed))
	assert.Equal(t, Transformed, Stronger(Direct, Transformed))
	assert.Equal(t, Direct, Stronger(Direct, Direct))
}

func TestMergeTechnology(t *testing.T) {
	assert.Equal(t, "ORACLE", MergeTechnology("ORACLE", "ORACLE"))
	assert.Equal(t, "ORACLE,SSIS", MergeTechnology("SSIS", "ORACLE"))
	assert.Equal(t, "ORACLE,SSIS", MergeTechnology("ORACLE,SSIS", "SSIS"))
	assert.Equal(t, "ORACLE", MergeTechnology("", "ORACLE"))
}

func TestMergeLineageEntry(t *testing.T) {
	x := ColumnLineage{SourceExpression: "b.total", TargetColumn: "total", TransformationKind: Direct, Label: "b.total"}
	y := ColumnLineage{SourceExpression: "SUM(a.amount)", TargetColumn: "total", TransformationKind: Aggregate, Label: "sum of a.amount"}

	got := MergeLineageEntry(x, y)
	assert.Equal(t, "SUM(a.amount)", got.SourceExpression)
	assert.Equal(t, []string{"b.total"}, got.AlternateExpressions)
	assert.Equal(t, Aggregate, got.TransformationKind)
	assert.Equal(t, "sum of a.amount", got.Label)

	assert.Equal(t, got, MergeLineageEntry(y, x))
	assert.Equal(t, got, MergeLineageEntry(got, got))
	assert.Equal(t, got, MergeLineageEntry(got, x))
}

func TestMergeLineage_EmptyExpressionNeverPrimary(t *testing.T) {
	a := []ColumnLineage{{TargetColumn: "c", TransformationKind: Transformed, LowConfidence: true}}
	b := []ColumnLineage{{SourceExpression: "x", TargetColumn: "c", TransformationKind: Direct}}

	got := MergeLineage(a, b)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].SourceExpression)
	assert.Nil(t, got[0].AlternateExpressions)
	assert.True(t, got[0].LowConfidence)
	assert.Equal(t, Transformed, got[0].TransformationKind)
}

func TestMergeLineage_Order(t *testing.T) {
	a := []ColumnLineage{
		{SourceExpression: "s.id", TargetColumn: "sensor_id", TransformationKind: Direct},
		{SourceExpression: "AVG(v)", TargetColumn: "avg_value", TransformationKind: Aggregate},
	}

	t.Run("same targets keep order", func(t *testing.T) {
		got := MergeLineage(a, a)
		assert.Equal(t, a, got)
	})

	t.Run("different targets sort", func(t *testing.T) {
		b := []ColumnLineage{{SourceExpression: "SYSDATE", TargetColumn: "loaded_at", TransformationKind: Transformed}}
		ab := MergeLineage(a, b)
		ba := MergeLineage(b, a)
		assert.Equal(t, ab, ba)
		require.Len(t, ab, 3)
		assert.Equal(t, "avg_value", ab[0].TargetColumn)
		assert.Equal(t, "loaded_at", ab[1].TargetColumn)
		assert.Equal(t, "sensor_id", ab[2].TargetColumn)
		assert.Equal(t, ab, MergeLineage(ab, b))
	})
}

func TestMergeNode(t *testing.T) {
	a := Node{
		ID: "operation:s#t", Kind: KindOperation, Name: "t", Technology: "ORACLE",
		Operation: &OperationInfo{TaskName: "t", SourceID: "s", StatementCount: 2},
	}
	b := Node{
		ID: "operation:s#t", Kind: KindOperation, Name: "t", Technology: "SSIS",
		Operation: &OperationInfo{TaskName: "t", SourceID: "s", ErrorHandling: true, StatementCount: 1, HasExplicitTaskName: true},
	}

	ab := MergeNode(a, b)
	assert.Equal(t, ab, MergeNode(b, a))
	assert.Equal(t, "ORACLE,SSIS", ab.Technology)
	assert.True(t, ab.Operation.ErrorHandling)
	assert.True(t, ab.Operation.HasExplicitTaskName)
	assert.Equal(t, 2, ab.Operation.StatementCount)
	assert.Equal(t, a, MergeNode(a, a))
}

func TestMergeNode_TableColumns(t *testing.T) {
	a := Node{ID: "table:t", Kind: KindTable, Name: "t", Table: &TableInfo{Columns: []Column{
		{Name: "id", DeclaredType: "NUMBER(10)", CanonicalType: "INTEGER"},
		{Name: "name", DeclaredType: "VARCHAR2(50)", CanonicalType: "STRING"},
	}}}
	b := Node{ID: "table:t", Kind: KindTable, Name: "t", Table: &TableInfo{Columns: []Column{
		{Name: "created", DeclaredType: "DATE", CanonicalType: "TIMESTAMP"},
	}}}

	ab := MergeNode(a, b)
	assert.Equal(t, ab, MergeNode(b, a))
	require.Len(t, ab.Table.Columns, 3)
	assert.Equal(t, "created", ab.Table.Columns[0].Name)
	assert.Equal(t, a, MergeNode(a, a))
	assert.Equal(t, a, MergeNode(a, Node{ID: "table:t", Kind: KindTable, Name: "t"}))
}

func TestMergeEdge(t *testing.T) {
	a := Edge{Source: "table:a", Target: "table:b", Kind: EdgeJoins, Technology: "ORACLE",
		JoinTypes: []string{"INNER"}, Conditions: []string{"a.id = b.id"}}
	b := Edge{Source: "table:a", Target: "table:b", Kind: EdgeJoins, Technology: "ORACLE",
		JoinTypes: []string{"LEFT OUTER"}, Conditions: []string{"a.id = b.a_id"}}

	ab := MergeEdge(a, b)
	assert.Equal(t, ab, MergeEdge(b, a))
	assert.Equal(t, []string{"INNER", "LEFT OUTER"}, ab.JoinTypes)
	assert.Equal(t, []string{"a.id = b.a_id", "a.id = b.id"}, ab.Conditions)
	assert.Equal(t, a, MergeEdge(a, a))
}

func TestSeverityText(t *testing.T) {
	b, err := SeverityWarning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "warning", string(b))

	var s Severity
	require.NoError(t, s.UnmarshalText([]byte("INFO")))
	assert.Equal(t, SeverityInfo, s)
	assert.Error(t, s.UnmarshalText([]byte("fatal")))
}
