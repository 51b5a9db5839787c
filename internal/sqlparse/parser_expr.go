package sqlparse

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/etlgraph/internal/lexer"
)

// Expression parsing by precedence climbing.
//
// Precedence levels:
//
//	precedenceOr         = 1
//	precedenceAnd        = 2
//	precedenceNot        = 3
//	precedenceComparison = 4  (=, <>, <, >, <=, >=, IS, IN, BETWEEN, LIKE)
//	precedenceAddition   = 5  (+, -, ||)
//	precedenceMultiply   = 6  (*, /, %)
//	precedenceUnary      = 7  (-, +)
const (
	precedenceNone = iota
	precedenceOr
	precedenceAnd
	precedenceNot
	precedenceComparison
	precedenceAddition
	precedenceMultiply
	precedenceUnary
)

// parseExpression parses an expression.
func (p *Parser) parseExpression() Expr {
	return p.parseExpressionWithPrecedence(precedenceOr)
}

// parseExpressionWithPrecedence implements precedence climbing.
func (p *Parser) parseExpressionWithPrecedence(minPrecedence int) Expr {
	left := p.parsePrefixExpr()
	if left == nil {
		return nil
	}
	for !p.failed() {
		prec := p.infixPrecedence()
		if prec == precedenceNone || prec < minPrecedence {
			break
		}
		left = p.parseInfixExpr(left, prec)
		if left == nil {
			return nil
		}
	}
	return left
}

// infixPrecedence returns the precedence of the current token as an infix
// operator, or precedenceNone.
func (p *Parser) infixPrecedence() int {
	switch p.token.Type {
	case lexer.OR:
		return precedenceOr
	case lexer.AND:
		return precedenceAnd
	case lexer.EQ, lexer.NE, lexer.LT, lexer.GT, lexer.LE, lexer.GE,
		lexer.IS, lexer.IN, lexer.BETWEEN, lexer.LIKE:
		return precedenceComparison
	case lexer.NOT:
		switch p.peek.Type {
		case lexer.IN, lexer.BETWEEN, lexer.LIKE:
			return precedenceComparison
		}
	case lexer.PLUS, lexer.MINUS, lexer.DPIPE:
		return precedenceAddition
	case lexer.STAR, lexer.SLASH, lexer.PERCENT:
		return precedenceMultiply
	}
	return precedenceNone
}

// parsePrefixExpr parses unary operators and primary expressions.
func (p *Parser) parsePrefixExpr() Expr {
	start := p.start()
	switch p.token.Type {
	case lexer.NOT:
		if p.peek.Type == lexer.EXISTS {
			p.nextToken()
			e := p.parseExists()
			if e == nil {
				return nil
			}
			e.Not = true
			e.Span = p.spanFrom(start)
			return e
		}
		p.nextToken()
		operand := p.parseExpressionWithPrecedence(precedenceNot)
		return &UnaryExpr{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Op: "NOT", Expr: operand}
	case lexer.MINUS, lexer.PLUS:
		op := p.token.Literal
		p.nextToken()
		operand := p.parseExpressionWithPrecedence(precedenceUnary)
		return &UnaryExpr{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Op: op, Expr: operand}
	case lexer.EXISTS:
		if e := p.parseExists(); e != nil {
			return e
		}
		return nil
	default:
		return p.parsePrimary()
	}
}

// parseExists parses EXISTS (subquery).
func (p *Parser) parseExists() *ExistsExpr {
	start := p.start()
	p.expect(lexer.EXISTS)
	if !p.expect(lexer.LPAREN) {
		return nil
	}
	sel := p.parseSelectStmt()
	p.expect(lexer.RPAREN)
	return &ExistsExpr{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Select: sel}
}

// parseInfixExpr parses the operator at the current token applied to left.
func (p *Parser) parseInfixExpr(left Expr, prec int) Expr {
	start := left.GetSpan().Start
	not := false
	if p.check(lexer.NOT) {
		not = true
		p.nextToken()
	}

	switch p.token.Type {
	case lexer.IS:
		p.nextToken()
		isNot := p.match(lexer.NOT)
		if !p.expect(lexer.NULL) {
			return nil
		}
		return &IsExpr{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Expr: left, Not: isNot}

	case lexer.IN:
		p.nextToken()
		return p.parseIn(left, not, start)

	case lexer.BETWEEN:
		p.nextToken()
		low := p.parseExpressionWithPrecedence(precedenceAddition)
		if !p.expect(lexer.AND) {
			return nil
		}
		high := p.parseExpressionWithPrecedence(precedenceAddition)
		return &BetweenExpr{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Expr: left, Not: not, Low: low, High: high}

	case lexer.LIKE:
		p.nextToken()
		right := p.parseExpressionWithPrecedence(precedenceAddition)
		if p.matchWord("ESCAPE") {
			p.parsePrimary()
		}
		op := "LIKE"
		if not {
			op = "NOT LIKE"
		}
		return &BinaryExpr{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Left: left, Op: op, Right: right}

	default:
		op := strings.ToUpper(p.token.Literal)
		p.nextToken()
		right := p.parseExpressionWithPrecedence(prec + 1)
		if right == nil {
			return nil
		}
		return &BinaryExpr{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Left: left, Op: op, Right: right}
	}
}

// parseIn parses the list or subquery after IN.
func (p *Parser) parseIn(left Expr, not bool, start int) Expr {
	if !p.expect(lexer.LPAREN) {
		return nil
	}
	in := &InExpr{Expr: left, Not: not}
	if p.check(lexer.SELECT) || p.check(lexer.WITH) {
		in.Query = p.parseSelectStmt()
	} else {
		in.Values = p.parseExpressionList()
	}
	p.expect(lexer.RPAREN)
	in.Span = p.spanFrom(start)
	return in
}

// parseExpressionList parses expr {, expr}.
func (p *Parser) parseExpressionList() []Expr {
	var exprs []Expr
	for !p.failed() {
		e := p.parseExpression()
		if e == nil {
			return exprs
		}
		exprs = append(exprs, e)
		if !p.match(lexer.COMMA) {
			break
		}
	}
	return exprs
}

// parsePrimary parses literals, references, calls, CASE and parenthesized
// expressions.
func (p *Parser) parsePrimary() Expr {
	start := p.start()
	tok := p.token

	switch tok.Type {
	case lexer.NUMBER:
		p.nextToken()
		return &Literal{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Kind: LiteralNumber, Value: tok.Literal}
	case lexer.STRING:
		p.nextToken()
		return &Literal{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Kind: LiteralString, Value: tok.Literal}
	case lexer.NULL:
		p.nextToken()
		return &Literal{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Kind: LiteralNull, Value: "NULL"}
	case lexer.BIND:
		p.nextToken()
		return &BindParam{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Name: tok.Literal}
	case lexer.LPAREN:
		return p.parseParenExpr()
	case lexer.CASE:
		return p.parseCase()
	case lexer.LEFT, lexer.RIGHT:
		// T-SQL LEFT(s, n) / RIGHT(s, n)
		if p.peek.Type == lexer.LPAREN {
			p.nextToken()
			return p.parseFuncCall(strings.ToUpper(tok.Literal), start)
		}
	case lexer.IDENT, lexer.QIDENT:
		return p.parseReference()
	}

	p.addError(fmt.Sprintf(ErrExpectedExpr, p.describe()))
	return nil
}

// parseParenExpr parses "(" subquery ")" or "(" expr {, expr} ")".
func (p *Parser) parseParenExpr() Expr {
	start := p.start()
	p.nextToken()
	if p.check(lexer.SELECT) || p.check(lexer.WITH) {
		sel := p.parseSelectStmt()
		p.expect(lexer.RPAREN)
		return &SubqueryExpr{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Select: sel}
	}
	exprs := p.parseExpressionList()
	if !p.expect(lexer.RPAREN) {
		return nil
	}
	return &ParenExpr{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Exprs: exprs}
}

// parseReference parses a typed literal, a column reference or a function
// call.
func (p *Parser) parseReference() Expr {
	start := p.start()
	tok := p.token

	if tok.Type == lexer.IDENT && p.peek.Type == lexer.STRING {
		switch {
		case tok.Is("DATE"), tok.Is("TIMESTAMP"), tok.Is("TIME"):
			p.nextToken()
			p.nextToken()
			return &Literal{NodeInfo: NodeInfo{Span: p.spanFrom(start)}, Kind: LiteralTyped, Value: p.src[start:p.prevEnd]}
		case tok.Is("INTERVAL"):
			p.addError(fmt.Sprintf(ErrUnsupportedSyntax, "INTERVAL literal"))
			return nil
		}
	}

	parts := []string{p.raw(tok)}
	p.nextToken()
	for p.check(lexer.DOT) && (isName(p.peek) || lexer.IsKeyword(p.peek.Type)) {
		p.nextToken()
		parts = append(parts, p.raw(p.token))
		p.nextToken()
	}

	if p.check(lexer.LPAREN) {
		return p.parseFuncCall(strings.Join(parts, "."), start)
	}

	ref := &ColumnRef{Parts: parts}
	if p.match(lexer.OUTERJ) {
		ref.OuterJoin = true
	}
	ref.Span = p.spanFrom(start)
	return ref
}

// parseFuncCall parses the argument list and analytic suffixes of a call
// whose name has been consumed.
func (p *Parser) parseFuncCall(name string, start int) Expr {
	call := &FuncCall{Name: name}
	call.Args = p.parseCallArgs(call)
	if p.failed() {
		return nil
	}

	for {
		switch {
		case p.checkWord("WITHIN") && p.peek.Type == lexer.GROUP:
			p.nextToken()
			p.nextToken()
			p.skipBalanced()
			call.Within = true
			continue
		case p.checkWord("KEEP") && p.peek.Type == lexer.LPAREN:
			p.nextToken()
			p.skipBalanced()
			call.Within = true
			continue
		case (p.checkWord("IGNORE") || p.checkWord("RESPECT")) && p.peek.Is("NULLS"):
			p.nextToken()
			p.nextToken()
			continue
		}
		break
	}
	if p.matchWord("OVER") {
		call.Over = true
		if p.check(lexer.LPAREN) {
			p.skipBalanced()
		} else if isName(p.token) {
			p.nextToken()
		}
	}
	call.Span = p.spanFrom(start)
	return call
}

// parseCallArgs parses "(" [DISTINCT] args ")". Besides plain expressions it
// accepts "*", named arguments (name => expr), CAST-style "expr AS type",
// EXTRACT/TRIM-style "a FROM b" and an ORDER BY inside the parentheses.
func (p *Parser) parseCallArgs(call *FuncCall) []Expr {
	if !p.expect(lexer.LPAREN) {
		return nil
	}
	if p.match(lexer.RPAREN) {
		return nil
	}
	if p.match(lexer.DISTINCT) || p.matchWord("UNIQUE") {
		call.Distinct = true
	} else {
		p.match(lexer.ALL)
	}

	var args []Expr
	for !p.failed() {
		if p.check(lexer.STAR) {
			start := p.start()
			p.nextToken()
			args = append(args, &StarExpr{NodeInfo: NodeInfo{Span: p.spanFrom(start)}})
		} else {
			if (p.checkWord("LEADING") || p.checkWord("TRAILING") || p.checkWord("BOTH")) &&
				p.peek.Type != lexer.COMMA && p.peek.Type != lexer.RPAREN {
				p.nextToken()
			}
			if isName(p.token) && p.peek.Type == lexer.ARROW {
				p.nextToken()
				p.nextToken()
			}
			if !p.check(lexer.FROM) {
				arg := p.parseExpression()
				if arg == nil {
					return nil
				}
				args = append(args, arg)
			}
			if p.match(lexer.AS) {
				args = append(args, p.parseTypeName())
			}
			if p.match(lexer.FROM) {
				arg := p.parseExpression()
				if arg == nil {
					return nil
				}
				args = append(args, arg)
			}
		}
		if p.check(lexer.ORDER) {
			args = append(args, p.parseOrderBy()...)
		}
		if !p.match(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN)
	return args
}

// parseTypeName consumes a type such as NUMBER(10,2) or TIMESTAMP WITH
// TIME ZONE up to the closing parenthesis or comma of the enclosing call.
func (p *Parser) parseTypeName() Expr {
	start := p.start()
	depth := 0
	for !p.check(lexer.EOF) {
		if depth == 0 && (p.check(lexer.RPAREN) || p.check(lexer.COMMA)) {
			break
		}
		switch p.token.Type {
		case lexer.LPAREN:
			depth++
		case lexer.RPAREN:
			depth--
		}
		p.nextToken()
	}
	span := p.spanFrom(start)
	if span.End == span.Start {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, p.describe(), "type name"))
	}
	return &TypeExpr{NodeInfo: NodeInfo{Span: span}, Name: span.Of(p.src)}
}

// parseCase parses a simple or searched CASE expression.
func (p *Parser) parseCase() Expr {
	start := p.start()
	p.expect(lexer.CASE)
	c := &CaseExpr{}
	if !p.check(lexer.WHEN) {
		c.Operand = p.parseExpression()
	}
	for p.match(lexer.WHEN) {
		cond := p.parseExpression()
		if !p.expect(lexer.THEN) {
			return nil
		}
		result := p.parseExpression()
		c.Whens = append(c.Whens, WhenClause{Condition: cond, Result: result})
	}
	if len(c.Whens) == 0 {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, p.describe(), "WHEN"))
		return nil
	}
	if p.match(lexer.ELSE) {
		c.Else = p.parseExpression()
	}
	if !p.expect(lexer.END) {
		return nil
	}
	c.Span = p.spanFrom(start)
	return c
}
