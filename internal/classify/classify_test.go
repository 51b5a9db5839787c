package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/etlgraph/internal/rules"
)

func TestClassify(t *testing.T) {
	c := New(rules.MustBuiltin("oracle"))

	tests := []struct {
		name  string
		ident string
		pos   Position
		want  Result
	}{
		{"table in from", "staging_water", TableRef, Result{Kind: Table}},
		{"qualified table", "dw.fact_water", TableRef, Result{Kind: Table}},
		{"dual in from", "DUAL", TableRef, Result{Kind: Builtin}},
		{"qualified dual", "sys.dual", TableRef, Result{Kind: Builtin}},
		{"public dual", "PUBLIC.DUAL", TableRef, Result{Kind: Builtin}},
		{"user schema shadows function name", "etl.log", TableRef, Result{Kind: Table}},
		{"user schema shadows pseudo column", "app.user", TableRef, Result{Kind: Table}},
		{"bare function name in from", "log", TableRef, Result{Kind: Builtin}},
		{"package call", "dbms_output.put_line", Call, Result{Kind: Builtin}},
		{"known function", "ROUND", Call, Result{Kind: Builtin}},
		{"aggregate", "avg", Call, Result{Kind: Builtin}},
		{"unknown call", "my_udf", Call, Result{Kind: Builtin, LowConfidence: true}},
		{"blacklisted in table position", "sysdate", TableRef, Result{Kind: Builtin}},
		{"empty", "", TableRef, Result{Kind: Builtin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.ident, tt.pos))
		})
	}
}

func TestClassify_DialectSpecific(t *testing.T) {
	oracle := New(rules.MustBuiltin("oracle"))
	tsql := New(rules.MustBuiltin("tsql"))

	assert.False(t, oracle.IsTable("dual"))
	assert.True(t, tsql.IsTable("dual"))
	assert.True(t, oracle.IsTable("getdate"))
	assert.False(t, tsql.IsTable("GETDATE"))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "TABLE", Table.String())
	assert.Equal(t, "BUILTIN", Builtin.String())
	assert.Equal(t, "call", Call.String())
}
