// Package sqlparse parses the closed set of data statements that lineage
// extraction understands: SELECT, INSERT, UPDATE, DELETE, MERGE and
// CREATE TABLE, in the Oracle and T-SQL flavours found in ETL scripts.
//
// # Usage
//
//	stmt, err := sqlparse.Parse("INSERT INTO t (a) SELECT a FROM s")
//	if err != nil {
//	    // fall back to pattern extraction
//	}
//
// # Grammar Overview
//
//	statement    → select_stmt | insert | update | delete | merge | create_table
//	select_stmt  → [WITH cte_list] select_body [ORDER BY expr_list] [tail]
//	select_body  → select_term [(UNION [ALL]|INTERSECT|EXCEPT|MINUS) select_body]
//	select_term  → select_core | "(" select_stmt ")"
//	select_core  → SELECT [DISTINCT|ALL|UNIQUE] [TOP n] select_list
//	               [[BULK COLLECT] INTO targets] [FROM from_clause]
//	               [WHERE expr] [GROUP BY expr_list] [HAVING expr]
//
// Anything outside this grammar is reported as a ParseError; callers are
// expected to fall back to a less precise extraction path.
package sqlparse

import (
	"fmt"

	"github.com/leapstack-labs/etlgraph/internal/lexer"
)

// Parser parses SQL into an AST.
type Parser struct {
	src     string
	toks    []lexer.Token
	idx     int
	token   lexer.Token // current token
	peek    lexer.Token // lookahead token
	peek2   lexer.Token // second lookahead token
	prevEnd int         // end offset of the last consumed token
	errors  []error
}

// NewParser creates a new parser for the given SQL input.
func NewParser(sql string) *Parser {
	toks, _, lexErrs := lexer.Tokenize(sql)
	p := &Parser{src: sql, toks: toks, idx: -1}
	for _, err := range lexErrs {
		if le, ok := err.(*lexer.Error); ok {
			p.errors = append(p.errors, &ParseError{Pos: le.Pos, Message: le.Message})
		}
	}
	p.nextToken()
	return p
}

// Parse parses a single statement. Trailing semicolons are allowed.
func Parse(sql string) (Statement, error) {
	p := NewParser(sql)
	stmt := p.parseStatement()
	for p.check(lexer.SEMI) {
		p.nextToken()
	}
	if !p.check(lexer.EOF) && len(p.errors) == 0 {
		p.addError(fmt.Sprintf(ErrTrailingInput, p.token.Literal))
	}
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	return stmt, nil
}

// Source returns the text being parsed.
func (p *Parser) Source() string {
	return p.src
}

// ---------- Token Helpers ----------

// at returns token i, or the final EOF token.
func (p *Parser) at(i int) lexer.Token {
	if i >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[i]
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	if p.idx >= 0 {
		p.prevEnd = p.token.End
	}
	if p.idx < len(p.toks)-1 {
		p.idx++
	}
	p.token = p.at(p.idx)
	p.peek = p.at(p.idx + 1)
	p.peek2 = p.at(p.idx + 2)
}

// check returns true if the current token is of the given type.
func (p *Parser) check(t lexer.TokenType) bool {
	return p.token.Type == t
}

// checkWord returns true if the current token is the given word.
func (p *Parser) checkWord(word string) bool {
	return p.token.Is(word)
}

// match consumes the current token if it matches and returns true.
func (p *Parser) match(t lexer.TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	return false
}

// matchWord consumes the current token if it is the given word.
func (p *Parser) matchWord(word string) bool {
	if p.checkWord(word) {
		p.nextToken()
		return true
	}
	return false
}

// expect consumes the current token if it matches, otherwise adds an error.
func (p *Parser) expect(t lexer.TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, p.describe(), t))
	return false
}

// expectWord is expect for unreserved words.
func (p *Parser) expectWord(word string) bool {
	if p.matchWord(word) {
		return true
	}
	p.addError(fmt.Sprintf(ErrUnexpectedToken, p.describe(), word))
	return false
}

func (p *Parser) describe() string {
	if p.check(lexer.EOF) {
		return "end of input"
	}
	return fmt.Sprintf("%q", p.token.Literal)
}

// addError adds a parse error.
func (p *Parser) addError(msg string) {
	p.errors = append(p.errors, &ParseError{
		Pos:     p.token.Pos,
		Message: msg,
	})
}

// failed reports whether any error has been recorded. Parsing stops
// descending once it has.
func (p *Parser) failed() bool {
	return len(p.errors) > 0
}

// start returns the offset of the current token.
func (p *Parser) start() int {
	return p.token.Pos.Offset
}

// spanFrom returns the span from start to the end of the last consumed token.
func (p *Parser) spanFrom(start int) Span {
	return Span{Start: start, End: max(p.prevEnd, start)}
}

// ---------- Identifier Helpers ----------

// nonAliasWords are unreserved words that may follow a table or expression
// but never act as an alias.
var nonAliasWords = []string{
	"BULK", "COLLECT", "CONNECT", "START", "PIVOT", "UNPIVOT", "SAMPLE",
	"PARTITION", "LOG", "RETURNING", "RETURN", "FOR", "FETCH", "OFFSET",
	"LIMIT", "LOOP", "OPTION", "WINDOW", "QUALIFY", "MODEL", "KEEP",
	"OVER", "WITHIN", "APPLY",
}

func isNonAlias(tok lexer.Token) bool {
	for _, w := range nonAliasWords {
		if tok.Is(w) {
			return true
		}
	}
	return false
}

// CanBeAlias reports whether an unquoted word may act as an alias after an
// expression or table name.
func CanBeAlias(word string) bool {
	tok := lexer.Token{Type: lexer.LookupIdent(word), Literal: word}
	return tok.Type == lexer.IDENT && !isNonAlias(tok)
}

// isName reports whether tok can name an object.
func isName(tok lexer.Token) bool {
	return tok.Type == lexer.IDENT || tok.Type == lexer.QIDENT
}

// raw returns the source text of tok, keeping quotes.
func (p *Parser) raw(tok lexer.Token) string {
	return p.src[tok.Pos.Offset:tok.End]
}

// parseAlias parses an optional [AS] alias.
func (p *Parser) parseAlias() string {
	if p.match(lexer.AS) {
		if !isName(p.token) {
			p.addError(fmt.Sprintf(ErrUnexpectedToken, p.describe(), "alias"))
			return ""
		}
		alias := p.raw(p.token)
		p.nextToken()
		return alias
	}
	if isName(p.token) && !isNonAlias(p.token) {
		alias := p.raw(p.token)
		p.nextToken()
		return alias
	}
	return ""
}

// parseQualifiedName parses name[.name]* and returns it as written.
func (p *Parser) parseQualifiedName() (string, bool) {
	if !isName(p.token) {
		p.addError(fmt.Sprintf(ErrUnexpectedToken, p.describe(), "name"))
		return "", false
	}
	start := p.start()
	p.nextToken()
	for p.check(lexer.DOT) && (isName(p.peek) || lexer.IsKeyword(p.peek.Type)) {
		p.nextToken()
		p.nextToken()
	}
	return p.src[start:p.prevEnd], true
}

// parseTableName parses a qualified table name with optional alias.
func (p *Parser) parseTableName(withAlias bool) *TableName {
	start := p.start()
	name, ok := p.parseQualifiedName()
	if !ok {
		return nil
	}
	t := &TableName{Name: name}
	if withAlias {
		t.Alias = p.parseAlias()
	}
	t.Span = p.spanFrom(start)
	return t
}

// parseColumnList parses "(" name {"," name} ")" and returns the names.
func (p *Parser) parseColumnList() []string {
	if !p.expect(lexer.LPAREN) {
		return nil
	}
	var cols []string
	for !p.failed() {
		name, ok := p.parseQualifiedName()
		if !ok {
			return nil
		}
		cols = append(cols, name)
		if !p.match(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN)
	return cols
}

// skipBalanced consumes a parenthesized group starting at the current "(".
func (p *Parser) skipBalanced() {
	if !p.expect(lexer.LPAREN) {
		return
	}
	depth := 1
	for depth > 0 && !p.check(lexer.EOF) {
		switch p.token.Type {
		case lexer.LPAREN:
			depth++
		case lexer.RPAREN:
			depth--
		}
		p.nextToken()
	}
	if depth > 0 {
		p.addError(ErrUnbalanced)
	}
}
