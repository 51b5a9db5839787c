package sqlparse

import (
	"fmt"

	"github.com/leapstack-labs/etlgraph/internal/lexer"
)

// Query parsing: WITH, set operations, SELECT cores, FROM lists and joins.
//
// Grammar:
//
//	cte           → name ["(" columns ")"] AS "(" select_stmt ")"
//	from_clause   → table_ref (join)*
//	table_ref     → table_name [alias] | "(" select_stmt ")" [alias] | TABLE "(" expr ")" [alias]
//	join          → join_type JOIN table_ref [ON expr | USING "(" columns ")"] | "," table_ref
//	join_type     → [NATURAL] [INNER | LEFT [OUTER] | RIGHT [OUTER] | FULL [OUTER] | CROSS]

// parseStatement parses one statement of the closed statement set.
func (p *Parser) parseStatement() Statement {
	switch {
	case p.check(lexer.WITH):
		return p.parseWithStatement()
	case p.check(lexer.SELECT), p.check(lexer.LPAREN):
		return p.parseSelectStmt()
	case p.check(lexer.INSERT):
		return p.parseInsert()
	case p.check(lexer.UPDATE):
		return p.parseUpdate()
	case p.check(lexer.DELETE):
		return p.parseDelete()
	case p.check(lexer.MERGE):
		return p.parseMerge()
	case p.check(lexer.CREATE):
		return p.parseCreateTable()
	default:
		p.addError(fmt.Sprintf(ErrUnsupported, p.describe()))
		return nil
	}
}

// parseWithStatement parses WITH ctes followed by a query or an INSERT.
func (p *Parser) parseWithStatement() Statement {
	start := p.start()
	ctes := p.parseWithClause()
	if p.failed() {
		return nil
	}
	if p.check(lexer.INSERT) {
		ins := p.parseInsert()
		if ins != nil {
			ins.With = ctes
			ins.Span = p.spanFrom(start)
		}
		return ins
	}
	stmt := p.parseSelectStmt()
	if stmt != nil {
		stmt.With = append(ctes, stmt.With...)
		stmt.Span = p.spanFrom(start)
	}
	return stmt
}

// parseWithClause parses WITH cte {, cte}.
func (p *Parser) parseWithClause() []*CTE {
	p.expect(lexer.WITH)
	p.matchWord("RECURSIVE")
	var ctes []*CTE
	for !p.failed() {
		start := p.start()
		name, ok := p.parseQualifiedName()
		if !ok {
			return nil
		}
		cte := &CTE{Name: name}
		if p.check(lexer.LPAREN) {
			cte.Columns = p.parseColumnList()
		}
		p.expect(lexer.AS)
		p.expect(lexer.LPAREN)
		cte.Select = p.parseSelectStmt()
		p.expect(lexer.RPAREN)
		cte.Span = p.spanFrom(start)
		ctes = append(ctes, cte)
		if !p.match(lexer.COMMA) {
			break
		}
	}
	return ctes
}

// parseSelectStmt parses a complete query.
func (p *Parser) parseSelectStmt() *SelectStmt {
	start := p.start()
	stmt := &SelectStmt{}
	if p.check(lexer.WITH) {
		stmt.With = p.parseWithClause()
	}
	stmt.Body = p.parseSelectBody()
	if p.failed() {
		return stmt
	}
	if p.check(lexer.ORDER) {
		stmt.OrderBy = p.parseOrderBy()
	}
	p.parseQueryTail()
	stmt.Span = p.spanFrom(start)
	return stmt
}

// parseSelectBody parses query terms joined by set operators.
func (p *Parser) parseSelectBody() *SelectBody {
	start := p.start()
	body := &SelectBody{Left: p.parseSelectTerm()}
	if p.failed() {
		return body
	}

	switch {
	case p.match(lexer.UNION):
		body.Op = SetOpUnion
		if p.match(lexer.ALL) {
			body.Op = SetOpUnionAll
		} else {
			p.match(lexer.DISTINCT)
		}
	case p.match(lexer.INTERSECT):
		body.Op = SetOpIntersect
	case p.match(lexer.EXCEPT):
		body.Op = SetOpExcept
	case p.match(lexer.MINUS_KW):
		body.Op = SetOpMinus
	}
	if body.Op != "" {
		body.Right = p.parseSelectBody()
	}
	body.Span = p.spanFrom(start)
	return body
}

// parseSelectTerm parses a SELECT core or a parenthesized query.
func (p *Parser) parseSelectTerm() *SelectCore {
	if p.check(lexer.LPAREN) {
		start := p.start()
		p.nextToken()
		nested := p.parseSelectStmt()
		p.expect(lexer.RPAREN)
		return &SelectCore{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Nested: nested}
	}
	return p.parseSelectCore()
}

// parseSelectCore parses SELECT ... [INTO ...] [FROM ...] [WHERE ...]
// [GROUP BY ...] [HAVING ...].
func (p *Parser) parseSelectCore() *SelectCore {
	start := p.start()
	core := &SelectCore{}
	if !p.expect(lexer.SELECT) {
		return core
	}

	switch {
	case p.match(lexer.DISTINCT), p.matchWord("UNIQUE"):
		core.Distinct = true
	case p.match(lexer.ALL):
	}
	if p.matchWord("TOP") {
		p.parseTop()
	}

	core.Columns = p.parseSelectList()

	if p.matchWord("BULK") {
		p.expectWord("COLLECT")
		core.Bulk = true
		p.expect(lexer.INTO)
		core.Into = p.parseIntoTargets()
	} else if p.match(lexer.INTO) {
		core.Into = p.parseIntoTargets()
	}

	if p.match(lexer.FROM) {
		core.From = p.parseFromClause()
	}
	if p.match(lexer.WHERE) {
		core.Where = p.parseExpression()
	}
	if p.checkWord("START") || p.checkWord("CONNECT") {
		p.addError(fmt.Sprintf(ErrUnsupportedSyntax, "hierarchical query"))
		return core
	}
	if p.match(lexer.GROUP) {
		p.expect(lexer.BY)
		if p.checkWord("GROUPING") {
			p.addError(fmt.Sprintf(ErrUnsupportedSyntax, "GROUPING SETS"))
			return core
		}
		core.GroupBy = p.parseExpressionList()
	}
	if p.match(lexer.HAVING) {
		core.Having = p.parseExpression()
	}
	core.Span = p.spanFrom(start)
	return core
}

// parseTop parses the T-SQL TOP clause after the TOP keyword.
func (p *Parser) parseTop() {
	if p.check(lexer.LPAREN) {
		p.skipBalanced()
	} else {
		p.expect(lexer.NUMBER)
	}
	p.matchWord("PERCENT")
	if p.check(lexer.WITH) && p.peek.Is("TIES") {
		p.nextToken()
		p.nextToken()
	}
}

// parseIntoTargets parses the comma-separated targets of SELECT ... INTO.
func (p *Parser) parseIntoTargets() []string {
	var targets []string
	for !p.failed() {
		if p.check(lexer.BIND) {
			targets = append(targets, p.token.Literal)
			p.nextToken()
		} else {
			name, ok := p.parseQualifiedName()
			if !ok {
				return nil
			}
			targets = append(targets, name)
		}
		if !p.match(lexer.COMMA) {
			break
		}
	}
	return targets
}

// parseSelectList parses the projection list.
func (p *Parser) parseSelectList() []*SelectItem {
	var items []*SelectItem
	for !p.failed() {
		items = append(items, p.parseSelectItem())
		if !p.match(lexer.COMMA) {
			break
		}
	}
	return items
}

// parseSelectItem parses "*", "t.*", "alias = expr" or "expr [[AS] alias]".
func (p *Parser) parseSelectItem() *SelectItem {
	start := p.start()
	item := &SelectItem{}

	switch {
	case p.check(lexer.STAR):
		p.nextToken()
		item.Star = true
	case isName(p.token) && p.peek.Type == lexer.DOT && p.peek2.Type == lexer.STAR:
		item.TableName = p.raw(p.token)
		p.nextToken()
		p.nextToken()
		p.nextToken()
		item.Star = true
	case isName(p.token) && p.peek.Type == lexer.EQ:
		// T-SQL "alias = expr"
		item.Alias = p.raw(p.token)
		p.nextToken()
		p.nextToken()
		item.Expr = p.parseExpression()
	default:
		item.Expr = p.parseExpression()
		item.Alias = p.parseAlias()
	}
	item.Span = p.spanFrom(start)
	return item
}

// parseOrderBy parses ORDER BY expr [ASC|DESC] [NULLS FIRST|LAST] {, ...}.
func (p *Parser) parseOrderBy() []Expr {
	p.expect(lexer.ORDER)
	p.matchWord("SIBLINGS")
	p.expect(lexer.BY)
	var exprs []Expr
	for !p.failed() {
		exprs = append(exprs, p.parseExpression())
		if !p.matchWord("ASC") {
			p.matchWord("DESC")
		}
		if p.matchWord("NULLS") {
			if !p.matchWord("FIRST") {
				p.expectWord("LAST")
			}
		}
		if !p.match(lexer.COMMA) {
			break
		}
	}
	return exprs
}

// parseQueryTail consumes row limiting and locking clauses.
func (p *Parser) parseQueryTail() {
	for !p.failed() {
		switch {
		case p.checkWord("FOR") && p.peek.Type == lexer.UPDATE:
			p.nextToken()
			p.nextToken()
			if p.matchWord("OF") {
				for !p.failed() {
					p.parseQualifiedName()
					if !p.match(lexer.COMMA) {
						break
					}
				}
			}
			switch {
			case p.matchWord("NOWAIT"):
			case p.matchWord("WAIT"):
				p.expect(lexer.NUMBER)
			case p.matchWord("SKIP"):
				p.expectWord("LOCKED")
			}
		case p.matchWord("OFFSET"):
			p.parseExpression()
			if !p.matchWord("ROWS") {
				p.matchWord("ROW")
			}
		case p.matchWord("FETCH"):
			if !p.matchWord("FIRST") {
				p.expectWord("NEXT")
			}
			if !p.checkWord("ROW") && !p.checkWord("ROWS") {
				p.parseExpression()
				p.matchWord("PERCENT")
			}
			if !p.matchWord("ROWS") {
				p.expectWord("ROW")
			}
			if p.check(lexer.WITH) {
				p.nextToken()
				p.expectWord("TIES")
			} else {
				p.expectWord("ONLY")
			}
		case p.checkWord("OPTION") && p.peek.Type == lexer.LPAREN:
			p.nextToken()
			p.skipBalanced()
		default:
			return
		}
	}
}

// ---------- FROM ----------

// parseFromClause parses the FROM list.
func (p *Parser) parseFromClause() *FromClause {
	start := p.start()
	from := &FromClause{Source: p.parseTableRef()}
	for !p.failed() {
		join := p.parseJoin()
		if join == nil {
			break
		}
		from.Joins = append(from.Joins, join)
	}
	from.Span = p.spanFrom(start)
	return from
}

// parseJoin parses a join clause, or returns nil when none follows.
func (p *Parser) parseJoin() *Join {
	start := p.start()
	if p.match(lexer.COMMA) {
		right := p.parseTableRef()
		return &Join{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Type: JoinImplicit, Right: right}
	}

	var jt JoinType
	natural := p.match(lexer.NATURAL)
	switch {
	case p.match(lexer.INNER):
		jt = JoinInner
	case p.match(lexer.LEFT):
		p.match(lexer.OUTER)
		jt = JoinLeft
	case p.match(lexer.RIGHT):
		p.match(lexer.OUTER)
		jt = JoinRight
	case p.match(lexer.FULL):
		p.match(lexer.OUTER)
		jt = JoinFull
	case p.check(lexer.CROSS) && p.peek.Is("APPLY"), p.check(lexer.OUTER) && p.peek.Is("APPLY"):
		p.addError(fmt.Sprintf(ErrUnsupportedSyntax, "APPLY"))
		return nil
	case p.match(lexer.CROSS):
		jt = JoinCross
	case p.check(lexer.JOIN):
		jt = JoinInner
	default:
		if natural {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, p.describe(), "JOIN"))
		}
		return nil
	}
	if natural {
		jt = JoinNatural
	}
	if !p.expect(lexer.JOIN) {
		return nil
	}

	join := &Join{Type: jt, Right: p.parseTableRef()}
	switch {
	case p.match(lexer.ON):
		join.Condition = p.parseExpression()
	case p.check(lexer.USING):
		usingStart := p.start()
		p.nextToken()
		join.Using = p.parseColumnList()
		join.UsingSpan = p.spanFrom(usingStart)
	}
	join.Span = p.spanFrom(start)
	return join
}

// parseTableRef parses a table reference.
func (p *Parser) parseTableRef() TableRef {
	start := p.start()

	// Derived table (subquery)
	if p.check(lexer.LPAREN) {
		if p.peek.Type != lexer.SELECT && p.peek.Type != lexer.WITH && p.peek.Type != lexer.LPAREN {
			p.addError(fmt.Sprintf(ErrUnsupportedSyntax, "parenthesized join"))
			return nil
		}
		p.nextToken()
		sel := p.parseSelectStmt()
		p.expect(lexer.RPAREN)
		dt := &DerivedTable{Select: sel, Alias: p.parseAlias()}
		dt.Span = p.spanFrom(start)
		return dt
	}

	// TABLE(collection) and pipelined functions
	if p.check(lexer.TABLE) && p.peek.Type == lexer.LPAREN {
		p.nextToken()
		call := &FuncCall{Name: "TABLE"}
		call.Args = p.parseCallArgs(call)
		call.Span = p.spanFrom(start)
		tf := &TableFunction{Call: call, Alias: p.parseAlias()}
		tf.Span = p.spanFrom(start)
		return tf
	}

	name, ok := p.parseQualifiedName()
	if !ok {
		return nil
	}
	if p.check(lexer.LPAREN) {
		call := &FuncCall{Name: name}
		call.Args = p.parseCallArgs(call)
		call.Span = p.spanFrom(start)
		tf := &TableFunction{Call: call, Alias: p.parseAlias()}
		tf.Span = p.spanFrom(start)
		return tf
	}

	t := &TableName{Name: name}
	p.skipTableOptions()
	t.Alias = p.parseAlias()
	p.skipTableOptions()
	t.Span = p.spanFrom(start)
	return t
}

// skipTableOptions consumes PARTITION (...), SAMPLE (...) and T-SQL
// WITH (hints) after a table name.
func (p *Parser) skipTableOptions() {
	for {
		switch {
		case (p.checkWord("PARTITION") || p.checkWord("SAMPLE")) && p.peek.Type == lexer.LPAREN:
			p.nextToken()
			p.skipBalanced()
		case p.check(lexer.WITH) && p.peek.Type == lexer.LPAREN:
			p.nextToken()
			p.skipBalanced()
		default:
			return
		}
	}
}
