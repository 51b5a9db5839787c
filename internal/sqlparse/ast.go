package sqlparse

// Span is a half-open byte range [Start, End) in the parsed text.
type Span struct {
	Start int
	End   int
}

// Of returns the source text covered by the span.
func (s Span) Of(src string) string {
	if s.Start < 0 || s.End > len(src) || s.Start > s.End {
		return ""
	}
	return src[s.Start:s.End]
}

// NodeInfo provides the source span of a node.
type NodeInfo struct {
	Span Span
}

// GetSpan returns the node's source span.
func (n *NodeInfo) GetSpan() Span {
	return n.Span
}

// Statement is one of the closed set of data statements.
type Statement interface {
	stmtNode()
}

// Expr represents an expression.
type Expr interface {
	exprNode()
	GetSpan() Span
}

// TableRef represents a source in a FROM list.
type TableRef interface {
	tableRefNode()
}

// ---------- Statements ----------

// SelectStmt is a query with an optional WITH clause.
type SelectStmt struct {
	NodeInfo
	With    []*CTE
	Body    *SelectBody
	OrderBy []Expr
}

func (*SelectStmt) stmtNode() {}

// CTE is a common table expression.
type CTE struct {
	NodeInfo
	Name    string
	Columns []string
	Select  *SelectStmt
}

// SetOpType is a set operator between query terms.
type SetOpType string

// Set operators.
const (
	SetOpUnion     SetOpType = "UNION"
	SetOpUnionAll  SetOpType = "UNION ALL"
	SetOpIntersect SetOpType = "INTERSECT"
	SetOpExcept    SetOpType = "EXCEPT"
	SetOpMinus     SetOpType = "MINUS"
)

// SelectBody is a chain of query terms joined by set operators.
type SelectBody struct {
	NodeInfo
	Left  *SelectCore
	Op    SetOpType
	Right *SelectBody
}

// Cores returns the query terms of the chain in order.
func (b *SelectBody) Cores() []*SelectCore {
	var out []*SelectCore
	for cur := b; cur != nil; cur = cur.Right {
		if cur.Left != nil {
			out = append(out, cur.Left)
		}
	}
	return out
}

// SelectCore is a single SELECT ... FROM ... term.
type SelectCore struct {
	NodeInfo
	Distinct bool
	Columns  []*SelectItem
	// Into holds the targets of SELECT ... INTO (host variables in PL/SQL,
	// a new table in T-SQL).
	Into    []string
	Bulk    bool // BULK COLLECT INTO
	From    *FromClause
	Where   Expr
	GroupBy []Expr
	Having  Expr
	// Nested holds the parenthesized query when the term is "( query )".
	Nested *SelectStmt
}

// SelectItem is one projection of a select list.
type SelectItem struct {
	NodeInfo
	Expr  Expr
	Alias string
	// Star is set for "*" and "t.*"; TableName holds the qualifier.
	Star      bool
	TableName string
}

// FromClause is a FROM list: a first source followed by joins.
type FromClause struct {
	NodeInfo
	Source TableRef
	Joins  []*Join
}

// JoinType describes how a source is joined.
type JoinType string

// Join types.
const (
	JoinInner    JoinType = "INNER"
	JoinLeft     JoinType = "LEFT OUTER"
	JoinRight    JoinType = "RIGHT OUTER"
	JoinFull     JoinType = "FULL OUTER"
	JoinCross    JoinType = "CROSS"
	JoinNatural  JoinType = "NATURAL"
	JoinImplicit JoinType = "IMPLICIT" // comma join
)

// Join is one join clause of a FROM list.
type Join struct {
	NodeInfo
	Type      JoinType
	Right     TableRef
	Condition Expr
	Using     []string
	// UsingSpan covers "USING (...)" when present.
	UsingSpan Span
}

// TableName is a named table reference.
type TableName struct {
	NodeInfo
	// Name is the qualified name as written.
	Name  string
	Alias string
}

func (*TableName) tableRefNode() {}

// DerivedTable is a parenthesized query in a FROM list.
type DerivedTable struct {
	NodeInfo
	Select *SelectStmt
	Alias  string
}

func (*DerivedTable) tableRefNode() {}

// TableFunction is a function call used as a source, such as TABLE(...).
type TableFunction struct {
	NodeInfo
	Call  *FuncCall
	Alias string
}

func (*TableFunction) tableRefNode() {}

// InsertStmt is INSERT INTO ... VALUES or INSERT INTO ... query.
type InsertStmt struct {
	NodeInfo
	With    []*CTE // T-SQL WITH ... INSERT
	Table   *TableName
	Columns []string
	Values  [][]Expr
	Select  *SelectStmt
}

func (*InsertStmt) stmtNode() {}

// Assignment is one SET item. Columns has more than one entry for a tuple
// assignment "(a, b) = (subquery)".
type Assignment struct {
	NodeInfo
	Columns []string
	Value   Expr
}

// UpdateStmt is UPDATE ... SET.
type UpdateStmt struct {
	NodeInfo
	Table *TableName
	Set   []*Assignment
	From  *FromClause
	Where Expr
}

func (*UpdateStmt) stmtNode() {}

// DeleteStmt is DELETE [FROM] ....
type DeleteStmt struct {
	NodeInfo
	Table *TableName
	Where Expr
}

func (*DeleteStmt) stmtNode() {}

// MergeStmt is MERGE INTO ... USING ... ON ....
type MergeStmt struct {
	NodeInfo
	Target    *TableName
	Source    TableRef
	Condition Expr
	// Update holds the WHEN MATCHED THEN UPDATE SET assignments.
	Update []*Assignment
	// DeleteWhere is the optional DELETE WHERE of the matched branch.
	DeleteWhere Expr
	// InsertColumns and InsertValues describe WHEN NOT MATCHED THEN INSERT.
	InsertColumns []string
	InsertValues  []Expr
	Where         []Expr // branch filters
}

func (*MergeStmt) stmtNode() {}

// ColumnDef is a column definition of CREATE TABLE.
type ColumnDef struct {
	NodeInfo
	Name string
	Type string
}

// CreateTableStmt is CREATE TABLE with column definitions or AS query.
type CreateTableStmt struct {
	NodeInfo
	Table     *TableName
	Temporary bool
	Columns   []*ColumnDef
	// ColumnNames is the optional column list of CREATE TABLE t (a, b) AS ....
	ColumnNames []string
	AsSelect    *SelectStmt
}

func (*CreateTableStmt) stmtNode() {}

// ---------- Expressions ----------

// ColumnRef is a possibly qualified column reference.
type ColumnRef struct {
	NodeInfo
	Parts []string
	// OuterJoin marks the Oracle (+) operator.
	OuterJoin bool
}

func (*ColumnRef) exprNode() {}

// Name returns the dotted name as written.
func (c *ColumnRef) Name() string {
	name := ""
	for i, p := range c.Parts {
		if i > 0 {
			name += "."
		}
		name += p
	}
	return name
}

// LiteralKind distinguishes literal types.
type LiteralKind int

// Literal kinds.
const (
	LiteralString LiteralKind = iota
	LiteralNumber
	LiteralNull
	LiteralTyped // DATE '...', TIMESTAMP '...'
)

// Literal is a constant.
type Literal struct {
	NodeInfo
	Kind  LiteralKind
	Value string
}

func (*Literal) exprNode() {}

// BindParam is a :name placeholder.
type BindParam struct {
	NodeInfo
	Name string
}

func (*BindParam) exprNode() {}

// StarExpr is "*" as a function argument.
type StarExpr struct {
	NodeInfo
}

func (*StarExpr) exprNode() {}

// FuncCall is a function call, possibly with an analytic clause.
type FuncCall struct {
	NodeInfo
	Name     string
	Args     []Expr
	Distinct bool
	// Over is set when the call carries OVER (...).
	Over bool
	// Within is set for WITHIN GROUP (...) and KEEP (...).
	Within bool
}

func (*FuncCall) exprNode() {}

// BinaryExpr is an infix operation.
type BinaryExpr struct {
	NodeInfo
	Left  Expr
	Op    string
	Right Expr
}

func (*BinaryExpr) exprNode() {}

// UnaryExpr is a prefix operation.
type UnaryExpr struct {
	NodeInfo
	Op   string
	Expr Expr
}

func (*UnaryExpr) exprNode() {}

// ParenExpr is a parenthesized expression or tuple.
type ParenExpr struct {
	NodeInfo
	Exprs []Expr
}

func (*ParenExpr) exprNode() {}

// WhenClause is one WHEN ... THEN ... of a CASE.
type WhenClause struct {
	Condition Expr
	Result    Expr
}

// CaseExpr is a simple or searched CASE.
type CaseExpr struct {
	NodeInfo
	Operand Expr
	Whens   []WhenClause
	Else    Expr
}

func (*CaseExpr) exprNode() {}

// SubqueryExpr is a scalar subquery.
type SubqueryExpr struct {
	NodeInfo
	Select *SelectStmt
}

func (*SubqueryExpr) exprNode() {}

// ExistsExpr is [NOT] EXISTS (subquery).
type ExistsExpr struct {
	NodeInfo
	Not    bool
	Select *SelectStmt
}

func (*ExistsExpr) exprNode() {}

// InExpr is expr [NOT] IN (list | subquery).
type InExpr struct {
	NodeInfo
	Expr   Expr
	Not    bool
	Values []Expr
	Query  *SelectStmt
}

func (*InExpr) exprNode() {}

// BetweenExpr is expr [NOT] BETWEEN low AND high.
type BetweenExpr struct {
	NodeInfo
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

func (*BetweenExpr) exprNode() {}

// IsExpr is expr IS [NOT] NULL.
type IsExpr struct {
	NodeInfo
	Expr Expr
	Not  bool
}

func (*IsExpr) exprNode() {}

// TypeExpr is the target type of CAST(x AS type).
type TypeExpr struct {
	NodeInfo
	Name string
}

func (*TypeExpr) exprNode() {}
