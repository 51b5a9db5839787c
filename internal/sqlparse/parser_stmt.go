package sqlparse

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/etlgraph/internal/lexer"
)

// Data modification and DDL statements.
//
// Grammar:
//
//	insert       → INSERT [INTO] table_name [alias] ["(" columns ")"]
//	               (VALUES row {"," row} | select_stmt)
//	update       → UPDATE table_name [alias] SET assignment {"," assignment}
//	               [FROM from_clause] [WHERE expr]
//	delete       → DELETE [FROM] table_name [alias] [WHERE expr]
//	merge        → MERGE [INTO] table_name [alias] USING table_ref ON expr
//	               (WHEN [NOT] MATCHED [BY TARGET|BY SOURCE] [AND expr] THEN action)+
//	create_table → CREATE [GLOBAL|LOCAL|PRIVATE] [TEMPORARY] TABLE table_name
//	               ("(" column_defs ")" [options] | ["(" columns ")"] [options] AS select_stmt)

// parseInsert parses an INSERT statement.
func (p *Parser) parseInsert() *InsertStmt {
	start := p.start()
	p.expect(lexer.INSERT)
	if p.check(lexer.ALL) || p.checkWord("FIRST") {
		p.addError(fmt.Sprintf(ErrUnsupportedSyntax, "multi-table INSERT"))
		return nil
	}
	p.match(lexer.INTO)

	stmt := &InsertStmt{Table: p.parseTableName(true)}
	if stmt.Table == nil {
		return nil
	}
	p.skipTableOptions()

	if p.check(lexer.LPAREN) && p.peek.Type != lexer.SELECT && p.peek.Type != lexer.WITH {
		stmt.Columns = p.parseColumnList()
	}

	switch {
	case p.match(lexer.VALUES):
		for !p.failed() {
			if !p.expect(lexer.LPAREN) {
				return nil
			}
			row := p.parseExpressionList()
			p.expect(lexer.RPAREN)
			stmt.Values = append(stmt.Values, row)
			if !p.match(lexer.COMMA) {
				break
			}
		}
	case p.check(lexer.SELECT), p.check(lexer.WITH), p.check(lexer.LPAREN):
		stmt.Select = p.parseSelectStmt()
	default:
		p.addError(fmt.Sprintf(ErrUnexpectedToken, p.describe(), "VALUES or query"))
		return nil
	}
	stmt.Span = p.spanFrom(start)
	return stmt
}

// parseUpdate parses an UPDATE statement.
func (p *Parser) parseUpdate() *UpdateStmt {
	start := p.start()
	p.expect(lexer.UPDATE)
	stmt := &UpdateStmt{Table: p.parseTableName(true)}
	if stmt.Table == nil {
		return nil
	}
	p.skipTableOptions()
	if !p.expect(lexer.SET) {
		return nil
	}
	stmt.Set = p.parseAssignments()
	if p.match(lexer.FROM) {
		stmt.From = p.parseFromClause()
	}
	if p.match(lexer.WHERE) {
		if p.checkWord("CURRENT") && p.peek.Is("OF") {
			p.nextToken()
			p.nextToken()
			p.parseQualifiedName()
		} else {
			stmt.Where = p.parseExpression()
		}
	}
	if p.checkWord("RETURNING") || p.checkWord("OUTPUT") {
		p.addError(fmt.Sprintf(ErrUnsupportedSyntax, strings.ToUpper(p.token.Literal)))
		return nil
	}
	stmt.Span = p.spanFrom(start)
	return stmt
}

// parseAssignments parses col = expr {, col = expr}, including tuple
// assignments (a, b) = (subquery).
func (p *Parser) parseAssignments() []*Assignment {
	var set []*Assignment
	for !p.failed() {
		start := p.start()
		a := &Assignment{}
		if p.check(lexer.LPAREN) {
			a.Columns = p.parseColumnList()
		} else {
			name, ok := p.parseQualifiedName()
			if !ok {
				return nil
			}
			a.Columns = []string{name}
		}
		if !p.expect(lexer.EQ) {
			return nil
		}
		a.Value = p.parseExpression()
		a.Span = p.spanFrom(start)
		set = append(set, a)
		if !p.match(lexer.COMMA) {
			break
		}
	}
	return set
}

// parseDelete parses a DELETE statement.
func (p *Parser) parseDelete() *DeleteStmt {
	start := p.start()
	p.expect(lexer.DELETE)
	p.match(lexer.FROM)
	stmt := &DeleteStmt{Table: p.parseTableName(true)}
	if stmt.Table == nil {
		return nil
	}
	if p.check(lexer.FROM) {
		p.addError(fmt.Sprintf(ErrUnsupportedSyntax, "DELETE ... FROM join"))
		return nil
	}
	if p.match(lexer.WHERE) {
		if p.checkWord("CURRENT") && p.peek.Is("OF") {
			p.nextToken()
			p.nextToken()
			p.parseQualifiedName()
		} else {
			stmt.Where = p.parseExpression()
		}
	}
	stmt.Span = p.spanFrom(start)
	return stmt
}

// parseMerge parses a MERGE statement.
func (p *Parser) parseMerge() *MergeStmt {
	start := p.start()
	p.expect(lexer.MERGE)
	p.match(lexer.INTO)
	stmt := &MergeStmt{Target: p.parseTableName(true)}
	if stmt.Target == nil || !p.expect(lexer.USING) {
		return nil
	}
	stmt.Source = p.parseTableRef()
	if !p.expect(lexer.ON) {
		return nil
	}
	stmt.Condition = p.parseExpression()

	for !p.failed() && p.match(lexer.WHEN) {
		matched := !p.match(lexer.NOT)
		if !p.expectWord("MATCHED") {
			return nil
		}
		if p.match(lexer.BY) {
			if !p.matchWord("TARGET") {
				p.expectWord("SOURCE")
			}
		}
		if p.match(lexer.AND) {
			stmt.Where = append(stmt.Where, p.parseExpression())
		}
		if !p.expect(lexer.THEN) {
			return nil
		}

		switch {
		case matched && p.match(lexer.UPDATE):
			if !p.expect(lexer.SET) {
				return nil
			}
			stmt.Update = append(stmt.Update, p.parseAssignments()...)
			if p.match(lexer.WHERE) {
				stmt.Where = append(stmt.Where, p.parseExpression())
			}
			if p.match(lexer.DELETE) {
				p.expect(lexer.WHERE)
				stmt.DeleteWhere = p.parseExpression()
			}
		case matched && p.match(lexer.DELETE):
		case !matched && p.match(lexer.INSERT):
			if p.check(lexer.LPAREN) {
				stmt.InsertColumns = p.parseColumnList()
			}
			if !p.expect(lexer.VALUES) || !p.expect(lexer.LPAREN) {
				return nil
			}
			stmt.InsertValues = p.parseExpressionList()
			p.expect(lexer.RPAREN)
			if p.match(lexer.WHERE) {
				stmt.Where = append(stmt.Where, p.parseExpression())
			}
		default:
			p.addError(fmt.Sprintf(ErrUnexpectedToken, p.describe(), "MERGE action"))
			return nil
		}
	}
	if p.checkWord("OUTPUT") || p.checkWord("LOG") {
		p.addError(fmt.Sprintf(ErrUnsupportedSyntax, strings.ToUpper(p.token.Literal)))
		return nil
	}
	stmt.Span = p.spanFrom(start)
	return stmt
}

// columnConstraintWords end the type part of a column definition.
var columnConstraintWords = []string{
	"DEFAULT", "CONSTRAINT", "PRIMARY", "UNIQUE", "REFERENCES", "CHECK",
	"IDENTITY", "GENERATED", "COLLATE", "ENABLE", "DISABLE", "VISIBLE",
	"INVISIBLE", "ENCRYPT", "SORT",
}

func isConstraintStart(tok lexer.Token) bool {
	if tok.Type == lexer.NOT || tok.Type == lexer.NULL {
		return true
	}
	for _, w := range columnConstraintWords {
		if tok.Is(w) {
			return true
		}
	}
	return false
}

// tableConstraintWords start an out-of-line constraint in a column list.
var tableConstraintWords = []string{"CONSTRAINT", "PRIMARY", "UNIQUE", "FOREIGN", "CHECK", "INDEX", "KEY"}

func isTableConstraint(tok lexer.Token) bool {
	for _, w := range tableConstraintWords {
		if tok.Is(w) {
			return true
		}
	}
	return false
}

// parseCreateTable parses CREATE TABLE with column definitions or AS query.
func (p *Parser) parseCreateTable() *CreateTableStmt {
	start := p.start()
	p.expect(lexer.CREATE)
	stmt := &CreateTableStmt{}
	if p.matchWord("GLOBAL") || p.matchWord("LOCAL") || p.matchWord("PRIVATE") {
		stmt.Temporary = true
	}
	if p.matchWord("TEMPORARY") || p.matchWord("TEMP") {
		stmt.Temporary = true
	}
	if !p.expect(lexer.TABLE) {
		return nil
	}
	stmt.Table = p.parseTableName(false)
	if stmt.Table == nil {
		return nil
	}

	if p.check(lexer.LPAREN) {
		stmt.Columns = p.parseColumnDefs()
	}

	// Storage and temporary table options up to AS or the end.
	depth := 0
	for !p.failed() && !p.check(lexer.EOF) && !p.check(lexer.SEMI) {
		if depth == 0 && p.check(lexer.AS) {
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

	if p.match(lexer.AS) {
		for _, c := range stmt.Columns {
			if c.Type != "" {
				p.addError(fmt.Sprintf(ErrUnsupportedSyntax, "typed column list with AS query"))
				return nil
			}
			stmt.ColumnNames = append(stmt.ColumnNames, c.Name)
		}
		stmt.Columns = nil
		stmt.AsSelect = p.parseSelectStmt()
	}
	stmt.Span = p.spanFrom(start)
	return stmt
}

// parseColumnDefs parses "(" column_def {"," column_def} ")" and skips
// out-of-line constraints.
func (p *Parser) parseColumnDefs() []*ColumnDef {
	p.expect(lexer.LPAREN)
	var defs []*ColumnDef
	for !p.failed() {
		if isTableConstraint(p.token) {
			p.skipToListEnd()
		} else {
			start := p.start()
			name, ok := p.parseQualifiedName()
			if !ok {
				return nil
			}
			def := &ColumnDef{Name: name, Type: p.parseColumnType()}
			p.skipToListEnd()
			def.Span = p.spanFrom(start)
			defs = append(defs, def)
		}
		if !p.match(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN)
	return defs
}

// parseColumnType consumes the data type of a column definition and returns
// it with whitespace collapsed.
func (p *Parser) parseColumnType() string {
	start := p.start()
	end := start
	depth := 0
	for !p.check(lexer.EOF) {
		if depth == 0 && (p.check(lexer.COMMA) || p.check(lexer.RPAREN) || isConstraintStart(p.token)) {
			break
		}
		switch p.token.Type {
		case lexer.LPAREN:
			depth++
		case lexer.RPAREN:
			depth--
		}
		p.nextToken()
		end = p.prevEnd
	}
	return strings.Join(strings.Fields(p.src[start:end]), " ")
}

// skipToListEnd consumes tokens up to the next comma or closing parenthesis
// at the current nesting level.
func (p *Parser) skipToListEnd() {
	depth := 0
	for !p.check(lexer.EOF) {
		if depth == 0 && (p.check(lexer.COMMA) || p.check(lexer.RPAREN)) {
			return
		}
		switch p.token.Type {
		case lexer.LPAREN:
			depth++
		case lexer.RPAREN:
			depth--
		}
		p.nextToken()
	}
}
