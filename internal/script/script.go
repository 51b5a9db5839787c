// Package script segments a procedural SQL script into blocks and the data
// statements inside them.
//
// A block is a CREATE PROCEDURE/FUNCTION/PACKAGE/TRIGGER unit, an anonymous
// DECLARE/BEGIN block, or a standalone data statement. Segmentation works on
// the token stream and never fails: malformed input yields fewer or shorter
// statements, and parsing problems are left to the parser.
package script

import "github.com/leapstack-labs/etlgraph/internal/lexer"

// BlockKind classifies a procedural block.
type BlockKind string

// Block kinds.
const (
	BlockProcedure BlockKind = "procedure"
	BlockFunction  BlockKind = "function"
	BlockPackage   BlockKind = "package"
	BlockTrigger   BlockKind = "trigger"
	BlockAnonymous BlockKind = "anonymous"
	BlockStatement BlockKind = "statement"
)

// StmtKind is the closed set of data statements the extractor understands.
type StmtKind string

// Statement kinds.
const (
	StmtSelect      StmtKind = "select"
	StmtInsert      StmtKind = "insert"
	StmtUpdate      StmtKind = "update"
	StmtDelete      StmtKind = "delete"
	StmtMerge       StmtKind = "merge"
	StmtCreateTable StmtKind = "create_table"
)

// Script is a segmented script.
type Script struct {
	Text     string
	Blocks   []*Block
	Comments []lexer.Comment
	// LexErrors holds unterminated literals and comments.
	LexErrors []error
}

// Statements returns every statement of every block, in source order.
func (s *Script) Statements() []Statement {
	var out []Statement
	for _, b := range s.Blocks {
		out = append(out, b.Statements...)
	}
	return out
}

// Block is one procedural unit of a script.
type Block struct {
	Ordinal int // 1-based position in the script
	Kind    BlockKind
	Name    string // declared name for CREATE blocks, as written
	Start   int
	End     int
	Text    string
	Code    string // Text with comments and literal contents blanked

	// Leading holds the comments between the previous block and this one.
	Leading []lexer.Comment
	// Header holds comments inside the block before its first statement.
	Header []lexer.Comment
	// Context is the code-only text of the top-level directives that precede
	// the block, such as WHENEVER SQLERROR.
	Context string

	HasCursor  bool
	Statements []Statement
}

// Statement is one data statement inside a block.
type Statement struct {
	Kind   StmtKind
	Text   string
	Start  int // byte offset in the script
	End    int
	Cursor bool // feeds a cursor or a cursor FOR loop
}
