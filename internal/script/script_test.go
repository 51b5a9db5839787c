package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(stmts []Statement) []StmtKind {
	out := make([]StmtKind, len(stmts))
	for i, s := range stmts {
		out[i] = s.Kind
	}
	return out
}

func TestSegment_Standalone(t *testing.T) {
	src := "INSERT INTO t (a) SELECT a FROM s;\nUPDATE t SET a = 1;\nDELETE FROM t;"
	sc := Segment(src)

	require.Len(t, sc.Blocks, 3)
	for i, b := range sc.Blocks {
		assert.Equal(t, BlockStatement, b.Kind)
		assert.Equal(t, i+1, b.Ordinal)
		require.Len(t, b.Statements, 1)
	}
	assert.Equal(t, []StmtKind{StmtInsert, StmtUpdate, StmtDelete}, kinds(sc.Statements()))

	first := sc.Statements()[0]
	assert.Equal(t, "INSERT INTO t (a) SELECT a FROM s", first.Text)
	assert.Equal(t, first.Text, src[first.Start:first.End])
	assert.False(t, first.Cursor)
}

const procedure = `-- loads the fact table
CREATE OR REPLACE PROCEDURE etl.load_fact IS
  -- header
  CURSOR c IS SELECT id FROM src;
BEGIN
  INSERT INTO fact (id) SELECT id FROM stage;
  IF x > 1 THEN
    UPDATE fact SET id = 2;
  END IF;
END load_fact;
/
SELECT 1 FROM dual;
`

func TestSegment_Procedure(t *testing.T) {
	sc := Segment(procedure)
	require.Len(t, sc.Blocks, 2)

	proc := sc.Blocks[0]
	assert.Equal(t, BlockProcedure, proc.Kind)
	assert.Equal(t, "etl.load_fact", proc.Name)
	assert.True(t, proc.HasCursor)
	assert.Equal(t, []StmtKind{StmtSelect, StmtInsert, StmtUpdate}, kinds(proc.Statements))
	assert.True(t, proc.Statements[0].Cursor)
	assert.False(t, proc.Statements[1].Cursor)
	assert.Contains(t, proc.Text, "END load_fact;")
	assert.Len(t, proc.Code, len(proc.Text))

	require.Len(t, proc.Leading, 1)
	assert.Equal(t, "loads the fact table", proc.Leading[0].Body())
	require.Len(t, proc.Header, 1)
	assert.Equal(t, "header", proc.Header[0].Body())

	tail := sc.Blocks[1]
	assert.Equal(t, BlockStatement, tail.Kind)
	assert.Equal(t, 2, tail.Ordinal)
	assert.Equal(t, []StmtKind{StmtSelect}, kinds(tail.Statements))

	assert.Len(t, sc.Statements(), 4)
	assert.Len(t, sc.Comments, 2)
}

func TestSegment_AnonymousAndTrigger(t *testing.T) {
	sc := Segment("DECLARE\n  v NUMBER;\nBEGIN\n  DELETE FROM t;\nEND;\n/\n" +
		"CREATE TRIGGER trg BEFORE INSERT ON t FOR EACH ROW\nBEGIN\n  INSERT INTO audit (id) VALUES (1);\nEND;\n")
	require.Len(t, sc.Blocks, 2)

	anon := sc.Blocks[0]
	assert.Equal(t, BlockAnonymous, anon.Kind)
	assert.Empty(t, anon.Name)
	assert.Equal(t, []StmtKind{StmtDelete}, kinds(anon.Statements))

	trg := sc.Blocks[1]
	assert.Equal(t, BlockTrigger, trg.Kind)
	assert.Equal(t, "trg", trg.Name)
	require.Len(t, trg.Statements, 1)
	assert.Equal(t, "INSERT INTO audit (id) VALUES (1)", trg.Statements[0].Text)
}

func TestSegment_BatchTerminators(t *testing.T) {
	sc := Segment("INSERT INTO a (x) SELECT x FROM b\nGO\nUPDATE a SET x = 1\nGO\n")

	stmts := sc.Statements()
	require.Len(t, stmts, 2)
	assert.Equal(t, "INSERT INTO a (x) SELECT x FROM b", stmts[0].Text)
	assert.Equal(t, "UPDATE a SET x = 1", stmts[1].Text)
}

func TestSegment_Context(t *testing.T) {
	sc := Segment("WHENEVER SQLERROR EXIT FAILURE\nINSERT INTO t (a) SELECT a FROM s;")
	require.Len(t, sc.Blocks, 1)
	assert.Contains(t, sc.Blocks[0].Context, "WHENEVER SQLERROR")
	assert.Equal(t, 1, sc.Blocks[0].Ordinal)
}

func TestSegment_LexErrors(t *testing.T) {
	sc := Segment("INSERT INTO t (a) SELECT a FROM s;\nSELECT 'open FROM x;")
	assert.Len(t, sc.LexErrors, 1)
	assert.NotEmpty(t, sc.Statements())

	assert.Empty(t, Segment("").Blocks)
}

func TestCodeOnly(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 'a,b' -- c\nFROM t", "SELECT '   '     \nFROM t"},
		{"/* a\nb */x", "    \n    x"},
		{"x q'[a'b]'", "x q'[    '"},
		{`SELECT "Quoted Col" FROM t`, `SELECT "Quoted Col" FROM t`},
		{"'it''s'", "'     '"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := CodeOnly(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, len(tt.in))
		})
	}
}

func TestMatchParen(t *testing.T) {
	assert.Equal(t, 8, MatchParen("f(a, (b)) c", 1))
	assert.Equal(t, 7, MatchParen("f(a, (b)) c", 5))
	assert.Equal(t, -1, MatchParen("f(a", 1))
}

func TestBalanced(t *testing.T) {
	assert.True(t, Balanced("f(a, ')')"))
	assert.True(t, Balanced("f(a) -- )"))
	assert.False(t, Balanced("f(a"))
	assert.False(t, Balanced("a)"))
	assert.False(t, Balanced("'open"))
	assert.False(t, Balanced(`"open`))
	assert.False(t, Balanced("a /* open"))
}

func TestSplitTopLevel(t *testing.T) {
	src := "a, f(b, c),  'x,y' "
	var parts []string
	for _, r := range SplitTopLevel(CodeOnly(src)) {
		parts = append(parts, r.Of(src))
	}
	assert.Equal(t, []string{"a", "f(b, c)", "'x,y'"}, parts)
}

func TestTextHelpers(t *testing.T) {
	assert.Equal(t, Range{Start: 2, End: 4}, Trim("  ab  ", Range{Start: 0, End: 6}))
	assert.Equal(t, Range{Start: 3, End: 3}, Trim("   ", Range{Start: 0, End: 3}))
	assert.Equal(t, "a b", CollapseSpace(" a \n\t b "))
	assert.Equal(t, "SELECT a  \nFROM t   WHERE b = '--not'",
		StripComments("SELECT a -- note\nFROM t /* x */ WHERE b = '--not'"))
}
