package extract

import (
	"strings"

	"github.com/leapstack-labs/etlgraph/internal/classify"
	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/script"
	"github.com/leapstack-labs/etlgraph/internal/sqlparse"
	"github.com/leapstack-labs/etlgraph/internal/typemap"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// Structured extracts facts from parsed statements.
type Structured struct {
	pack   *rules.Pack
	cls    *classify.Classifier
	parsed map[int]parsedStatement
}

type parsedStatement struct {
	text string
	ast  sqlparse.Statement
}

// NewStructured creates a structured path.
func NewStructured(pack *rules.Pack) *Structured {
	return &Structured{pack: pack, cls: classify.New(pack), parsed: make(map[int]parsedStatement)}
}

// Name returns "structured".
func (s *Structured) Name() string {
	return PathStructured
}

// Extract parses stmt (or reuses the parse made by Choose) and walks it.
func (s *Structured) Extract(stmt script.Statement) Facts {
	var ast sqlparse.Statement
	if p, ok := s.parsed[stmt.Start]; ok && p.text == stmt.Text {
		ast = p.ast
	} else {
		var err error
		ast, err = sqlparse.Parse(stmt.Text)
		if err != nil {
			return Facts{Kind: stmt.Kind, Diagnostics: []graph.Diagnostic{warning("statement could not be parsed: %v", err)}}
		}
	}

	w := &walker{
		collector: newCollector(s.cls),
		pack:      s.pack,
		src:       stmt.Text,
		ctes:      make(map[string]bool),
	}
	w.statement(ast)
	return w.facts(stmt.Kind)
}

// walker collects facts from one statement's AST.
type walker struct {
	collector
	pack *rules.Pack
	src  string
	ctes map[string]bool
}

func (w *walker) text(span sqlparse.Span) string {
	return cleanText(span.Of(w.src))
}

// ---------- Statements ----------

func (w *walker) statement(stmt sqlparse.Statement) {
	switch st := stmt.(type) {
	case *sqlparse.SelectStmt:
		w.selectStmt(st)
	case *sqlparse.InsertStmt:
		w.insert(st)
	case *sqlparse.UpdateStmt:
		w.update(st)
	case *sqlparse.DeleteStmt:
		if target, ok := w.target(st.Table.Name); ok {
			w.writes = append(w.writes, Write{Table: target})
		}
		w.expr(st.Where)
	case *sqlparse.MergeStmt:
		w.merge(st)
	case *sqlparse.CreateTableStmt:
		w.createTable(st)
	}
}

func (w *walker) selectStmt(st *sqlparse.SelectStmt) {
	w.query(st)
	w.aggregating = w.isAggregating(st)

	cores := flatCores(st)
	if len(cores) == 0 || !w.pack.SelectIntoCreatesTable {
		return
	}
	first := cores[0]
	if len(first.Into) != 1 || first.Bulk || isVariable(first.Into[0]) {
		return
	}
	if target, ok := w.target(first.Into[0]); ok {
		lb := lineageBuilder{table: target, diags: &w.diags}
		w.writes = append(w.writes, Write{Table: target, Lineage: lb.project(nil, w.branches(st))})
	}
}

func (w *walker) insert(st *sqlparse.InsertStmt) {
	w.with(st.With)
	target, ok := w.target(st.Table.Name)
	lb := lineageBuilder{table: target, diags: &w.diags}

	var lineage []graph.ColumnLineage
	switch {
	case st.Select != nil:
		w.query(st.Select)
		w.aggregating = w.isAggregating(st.Select)
		lineage = lb.project(st.Columns, w.branches(st.Select))
	case len(st.Values) > 0:
		for _, row := range st.Values {
			for _, e := range row {
				w.expr(e)
			}
		}
		lineage = lb.project(st.Columns, [][]item{w.exprItems(st.Values[0])})
	}
	if ok {
		w.writes = append(w.writes, Write{Table: target, Lineage: lineage})
	}
}

func (w *walker) update(st *sqlparse.UpdateStmt) {
	raw := st.Table.Name
	if st.From != nil {
		// T-SQL: UPDATE alias SET ... FROM table alias
		for _, ref := range fromTables(st.From) {
			if ref.Alias != "" && graph.NormalizeName(ref.Alias) == graph.NormalizeName(raw) {
				raw = ref.Name
				break
			}
		}
		w.from(st.From)
	}

	set := make([]assignment, 0, len(st.Set))
	for _, a := range st.Set {
		w.expr(a.Value)
		set = append(set, assignment{columns: a.Columns, value: w.exprItem(a.Value)})
	}
	w.expr(st.Where)

	if target, ok := w.target(raw); ok {
		lb := lineageBuilder{table: target, diags: &w.diags}
		w.writes = append(w.writes, Write{Table: target, Lineage: lb.assign(set)})
	}
}

func (w *walker) merge(st *sqlparse.MergeStmt) {
	w.tableRef(st.Source)
	w.expr(st.Condition)

	set := make([]assignment, 0, len(st.Update))
	for _, a := range st.Update {
		w.expr(a.Value)
		set = append(set, assignment{columns: a.Columns, value: w.exprItem(a.Value)})
	}
	for _, e := range st.InsertValues {
		w.expr(e)
	}
	for _, e := range st.Where {
		w.expr(e)
	}
	w.expr(st.DeleteWhere)

	target, ok := w.target(st.Target.Name)
	if !ok {
		return
	}
	lb := lineageBuilder{table: target, diags: &w.diags}
	lineage := lb.assign(set)
	if len(st.InsertValues) > 0 {
		lineage = combine(lineage, lb.project(st.InsertColumns, [][]item{w.exprItems(st.InsertValues)}))
	}
	w.writes = append(w.writes, Write{Table: target, Lineage: lineage})
}

func (w *walker) createTable(st *sqlparse.CreateTableStmt) {
	target, ok := w.target(st.Table.Name)
	write := Write{Table: target}
	for _, def := range st.Columns {
		write.Columns = append(write.Columns, graph.Column{
			Name:          targetName(def.Name),
			DeclaredType:  def.Type,
			CanonicalType: typemap.Canonical(def.Type),
		})
	}
	if st.AsSelect != nil {
		w.query(st.AsSelect)
		w.aggregating = w.isAggregating(st.AsSelect)
		lb := lineageBuilder{table: target, diags: &w.diags}
		write.Lineage = lb.project(st.ColumnNames, w.branches(st.AsSelect))
	}
	if ok {
		w.writes = append(w.writes, write)
	}
}

// isVariable reports whether an INTO target is a host or local variable.
func isVariable(name string) bool {
	return strings.HasPrefix(name, ":") || strings.HasPrefix(name, "@")
}

// ---------- Queries ----------

func (w *walker) with(ctes []*sqlparse.CTE) {
	for _, c := range ctes {
		w.ctes[graph.NormalizeName(c.Name)] = true
	}
	for _, c := range ctes {
		w.query(c.Select)
	}
}

// query records the reads and joins of a query and of every query nested in
// it.
func (w *walker) query(st *sqlparse.SelectStmt) {
	if st == nil {
		return
	}
	w.with(st.With)
	if st.Body != nil {
		for _, core := range st.Body.Cores() {
			w.core(core)
		}
	}
	for _, e := range st.OrderBy {
		w.expr(e)
	}
}

func (w *walker) core(c *sqlparse.SelectCore) {
	if c.Nested != nil {
		w.query(c.Nested)
		return
	}
	for _, it := range c.Columns {
		w.expr(it.Expr)
	}
	if c.From != nil {
		w.from(c.From)
	}
	w.expr(c.Where)
	for _, e := range c.GroupBy {
		w.expr(e)
	}
	w.expr(c.Having)
}

// from records the tables of a FROM list and one join per join clause. The
// left side of every join is the first source of the list.
func (w *walker) from(f *sqlparse.FromClause) {
	left := w.tableRef(f.Source)
	for _, j := range f.Joins {
		right := w.tableRef(j.Right)
		w.expr(j.Condition)
		if left == "" || right == "" {
			continue
		}
		cond := ""
		switch {
		case j.Condition != nil:
			cond = w.text(j.Condition.GetSpan())
		case len(j.Using) > 0:
			cond = w.text(j.UsingSpan)
		}
		w.joins = append(w.joins, Join{Left: left, Right: right, Type: string(j.Type), Condition: cond})
	}
}

// tableRef records a table read and returns its normalized name, or "" when
// the source is not a table.
func (w *walker) tableRef(ref sqlparse.TableRef) string {
	switch r := ref.(type) {
	case *sqlparse.TableName:
		name := graph.NormalizeName(r.Name)
		if w.ctes[name] || !w.cls.IsTable(r.Name) {
			return ""
		}
		w.reads[name] = true
		return name
	case *sqlparse.DerivedTable:
		w.query(r.Select)
	case *sqlparse.TableFunction:
		w.expr(r.Call)
	}
	return ""
}

// fromTables returns the named tables of a FROM list.
func fromTables(f *sqlparse.FromClause) []*sqlparse.TableName {
	var out []*sqlparse.TableName
	if t, ok := f.Source.(*sqlparse.TableName); ok {
		out = append(out, t)
	}
	for _, j := range f.Joins {
		if t, ok := j.Right.(*sqlparse.TableName); ok {
			out = append(out, t)
		}
	}
	return out
}

// flatCores returns the SELECT terms of a query, expanding parenthesized
// terms.
func flatCores(st *sqlparse.SelectStmt) []*sqlparse.SelectCore {
	if st == nil || st.Body == nil {
		return nil
	}
	var out []*sqlparse.SelectCore
	for _, c := range st.Body.Cores() {
		if c.Nested != nil {
			out = append(out, flatCores(c.Nested)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

// branches returns the projected items of every term of a query.
func (w *walker) branches(st *sqlparse.SelectStmt) [][]item {
	var out [][]item
	for _, c := range flatCores(st) {
		items := make([]item, 0, len(c.Columns))
		for _, si := range c.Columns {
			items = append(items, w.selectItem(si))
		}
		out = append(out, items)
	}
	return out
}

func (w *walker) isAggregating(st *sqlparse.SelectStmt) bool {
	for _, c := range flatCores(st) {
		if len(c.GroupBy) > 0 {
			return true
		}
		for _, si := range c.Columns {
			if si.Expr != nil && (w.classify(si.Expr) == graph.Aggregate || hasWindow(si.Expr)) {
				return true
			}
		}
	}
	return false
}

// ---------- Expressions ----------

func (w *walker) selectItem(si *sqlparse.SelectItem) item {
	if si.Star {
		return item{expr: w.text(si.Span), star: true}
	}
	it := w.exprItem(si.Expr)
	it.name = si.Alias
	if it.name == "" {
		if ref, ok := si.Expr.(*sqlparse.ColumnRef); ok {
			it.name = ref.Parts[len(ref.Parts)-1]
		}
	}
	return it
}

func (w *walker) exprItem(e sqlparse.Expr) item {
	return item{expr: w.text(e.GetSpan()), kind: w.classify(e)}
}

func (w *walker) exprItems(exprs []sqlparse.Expr) []item {
	items := make([]item, 0, len(exprs))
	for _, e := range exprs {
		items = append(items, w.exprItem(e))
	}
	return items
}

// classify returns the transformation kind of a projected expression.
func (w *walker) classify(e sqlparse.Expr) graph.TransformKind {
	if ref, ok := e.(*sqlparse.ColumnRef); ok {
		if w.pack.IsBuiltin(ref.Name()) {
			return graph.Transformed
		}
		return graph.Direct
	}
	aggregate := false
	visit(e, func(x sqlparse.Expr) {
		if call, ok := x.(*sqlparse.FuncCall); ok && !call.Over && w.pack.IsAggregate(call.Name) {
			aggregate = true
		}
	}, nil)
	if aggregate {
		return graph.Aggregate
	}
	return graph.Transformed
}

// expr records the reads of nested queries and notes unknown functions.
func (w *walker) expr(e sqlparse.Expr) {
	visit(e, func(x sqlparse.Expr) {
		call, ok := x.(*sqlparse.FuncCall)
		if !ok || w.pack.IsAggregate(call.Name) {
			return
		}
		if res := w.cls.Classify(call.Name, classify.Call); res.LowConfidence {
			w.noteCall(call.Name)
		}
	}, w.query)
}

func hasWindow(e sqlparse.Expr) bool {
	found := false
	visit(e, func(x sqlparse.Expr) {
		if call, ok := x.(*sqlparse.FuncCall); ok && call.Over {
			found = true
		}
	}, nil)
	return found
}

// visit calls fn for e and every expression nested in it. Nested queries are
// passed to sub, when set, instead of being descended into.
func visit(e sqlparse.Expr, fn func(sqlparse.Expr), sub func(*sqlparse.SelectStmt)) {
	if e == nil {
		return
	}
	fn(e)
	query := func(st *sqlparse.SelectStmt) {
		if sub != nil && st != nil {
			sub(st)
		}
	}
	switch x := e.(type) {
	case *sqlparse.FuncCall:
		for _, a := range x.Args {
			visit(a, fn, sub)
		}
	case *sqlparse.BinaryExpr:
		visit(x.Left, fn, sub)
		visit(x.Right, fn, sub)
	case *sqlparse.UnaryExpr:
		visit(x.Expr, fn, sub)
	case *sqlparse.ParenExpr:
		for _, a := range x.Exprs {
			visit(a, fn, sub)
		}
	case *sqlparse.CaseExpr:
		visit(x.Operand, fn, sub)
		for _, wc := range x.Whens {
			visit(wc.Condition, fn, sub)
			visit(wc.Result, fn, sub)
		}
		visit(x.Else, fn, sub)
	case *sqlparse.SubqueryExpr:
		query(x.Select)
	case *sqlparse.ExistsExpr:
		query(x.Select)
	case *sqlparse.InExpr:
		visit(x.Expr, fn, sub)
		for _, a := range x.Values {
			visit(a, fn, sub)
		}
		query(x.Query)
	case *sqlparse.BetweenExpr:
		visit(x.Expr, fn, sub)
		visit(x.Low, fn, sub)
		visit(x.High, fn, sub)
	case *sqlparse.IsExpr:
		visit(x.Expr, fn, sub)
	}
}
