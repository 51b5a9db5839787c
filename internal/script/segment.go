package script

import (
	"strings"

	"github.com/leapstack-labs/etlgraph/internal/lexer"
)

// Segment splits script text into blocks and statements.
func Segment(text string) *Script {
	toks, comments, errs := lexer.Tokenize(text)
	s := &segmenter{
		src:      text,
		toks:     toks[:len(toks)-1], // drop EOF
		comments: comments,
	}
	s.markTerminators()
	s.run()
	return &Script{
		Text:      text,
		Blocks:    s.blocks,
		Comments:  comments,
		LexErrors: errs,
	}
}

type segmenter struct {
	src      string
	toks     []lexer.Token
	comments []lexer.Comment
	term     []bool // token is a "/" or GO line terminator
	context  strings.Builder
	lastEnd  int
	blocks   []*Block
}

// tok returns token i, or EOF when i is out of range.
func (s *segmenter) tok(i int) lexer.Token {
	if i < 0 || i >= len(s.toks) {
		return lexer.Token{Type: lexer.EOF, Pos: lexer.Position{Offset: len(s.src)}, End: len(s.src)}
	}
	return s.toks[i]
}

func (s *segmenter) markTerminators() {
	s.term = make([]bool, len(s.toks))
	for i, t := range s.toks {
		if t.Type == lexer.SLASH || t.Is("GO") {
			s.term[i] = aloneOnLine(s.src, t.Pos.Offset, t.End)
		}
	}
}

func aloneOnLine(src string, start, end int) bool {
	for i := start - 1; i >= 0 && src[i] != '\n'; i-- {
		if src[i] != ' ' && src[i] != '\t' {
			return false
		}
	}
	for i := end; i < len(src) && src[i] != '\n'; i++ {
		if src[i] != ' ' && src[i] != '\t' && src[i] != '\r' {
			return false
		}
	}
	return true
}

func (s *segmenter) run() {
	for i := 0; i < len(s.toks); {
		t := s.toks[i]
		switch {
		case s.term[i] || t.Type == lexer.SEMI:
			i++
		case t.Type == lexer.CREATE || t.Is("ALTER"):
			if kind, name, body, ok := s.createHeader(i); ok {
				i = s.procedural(i, body, kind, name)
			} else {
				i = s.standalone(i)
			}
		case t.Is("DECLARE") && !strings.HasPrefix(s.tok(i+1).Literal, "@"):
			i = s.procedural(i, i+1, BlockAnonymous, "")
		case t.Is("BEGIN") && !s.transactionBegin(i):
			i = s.procedural(i, i, BlockAnonymous, "")
		default:
			i = s.standalone(i)
		}
	}
}

// createHeader recognizes CREATE [OR REPLACE|OR ALTER] PROCEDURE|FUNCTION|
// PACKAGE [BODY]|TRIGGER name and returns the index just past the name.
func (s *segmenter) createHeader(i int) (BlockKind, string, int, bool) {
	j := i + 1
	if s.tok(j).Type == lexer.OR && (s.tok(j+1).Is("REPLACE") || s.tok(j+1).Is("ALTER")) {
		j += 2
	}
	if s.tok(j).Is("EDITIONABLE") || s.tok(j).Is("NONEDITIONABLE") {
		j++
	}

	var kind BlockKind
	switch t := s.tok(j); {
	case t.Is("PROCEDURE") || t.Is("PROC"):
		kind = BlockProcedure
	case t.Is("FUNCTION"):
		kind = BlockFunction
	case t.Is("PACKAGE"):
		kind = BlockPackage
		if s.tok(j + 1).Is("BODY") {
			j++
		}
	case t.Is("TRIGGER"):
		kind = BlockTrigger
	default:
		return "", "", 0, false
	}
	j++

	var name strings.Builder
	for {
		t := s.tok(j)
		switch {
		case t.Type == lexer.QIDENT:
			name.WriteString(`"` + t.Literal + `"`)
		case t.Type == lexer.IDENT || lexer.IsKeyword(t.Type):
			name.WriteString(t.Literal)
		default:
			return kind, name.String(), j, true
		}
		j++
		if s.tok(j).Type != lexer.DOT {
			return kind, name.String(), j, true
		}
		name.WriteByte('.')
		j++
	}
}

// transactionBegin reports whether BEGIN at i starts a transaction rather
// than a block.
func (s *segmenter) transactionBegin(i int) bool {
	next := s.tok(i + 1)
	return next.Is("TRAN") || next.Is("TRANSACTION") || next.Is("DISTRIBUTED") ||
		next.Is("WORK") || next.Type == lexer.SEMI
}

// procedural emits a procedural block starting at token start whose body
// scan begins at body, and returns the index to resume at.
func (s *segmenter) procedural(start, body int, kind BlockKind, name string) int {
	last, next := s.blockEnd(body, kind)
	if last < start {
		last = start
	}
	b := s.newBlock(start, last, kind, name)
	s.collectStatements(b, body, last+1)
	s.finishBlock(b)
	return next
}

// blockEnd finds the last token of a procedural block. It tracks BEGIN/CASE
// nesting, treats END IF / END LOOP as non-closing, and counts nested
// procedure and function bodies so their END does not close the block.
func (s *segmenter) blockEnd(from int, kind BlockKind) (last, next int) {
	var stack []byte
	nested := 0
	started := false

	for j := from; j < len(s.toks); j++ {
		if s.term[j] {
			return j - 1, j + 1
		}
		t := s.toks[j]
		switch {
		case t.Is("BEGIN"):
			if !s.transactionBegin(j) {
				stack = append(stack, 'b')
				started = true
			}
		case t.Type == lexer.CASE:
			stack = append(stack, 'c')
		case t.Type == lexer.END:
			nxt := s.tok(j + 1)
			if nxt.Is("LOOP") || nxt.Is("IF") && s.tok(j+2).Type == lexer.SEMI {
				j++
				continue
			}
			if nxt.Type == lexer.CASE || nxt.Is("TRY") || nxt.Is("CATCH") {
				j++
			}
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top == 'c' || len(stack) > 0 {
					continue
				}
				if nested > 0 {
					nested--
					continue
				}
				return s.endWithName(j)
			}
			if started || kind == BlockPackage {
				return s.endWithName(j)
			}
		case (t.Is("PROCEDURE") || t.Is("FUNCTION")) && len(stack) == 0:
			if s.hasBody(j) {
				nested++
			}
		}
	}
	return len(s.toks) - 1, len(s.toks)
}

// endWithName extends a closing END over "name ;" when present.
func (s *segmenter) endWithName(end int) (last, next int) {
	k := end + 1
	for k < len(s.toks) && !s.term[k] {
		t := s.toks[k]
		if t.Type != lexer.IDENT && t.Type != lexer.QIDENT && t.Type != lexer.DOT {
			break
		}
		k++
	}
	if s.tok(k).Type == lexer.SEMI {
		return k, k + 1
	}
	if s.tok(end+1).Type == lexer.SEMI {
		return end + 1, end + 2
	}
	return end, end + 1
}

// hasBody reports whether the PROCEDURE/FUNCTION at i is a definition
// (reaches IS/AS) rather than a forward declaration.
func (s *segmenter) hasBody(i int) bool {
	depth := 0
	for j := i + 1; j < len(s.toks) && !s.term[j]; j++ {
		switch s.toks[j].Type {
		case lexer.LPAREN:
			depth++
		case lexer.RPAREN:
			depth--
		case lexer.IS, lexer.AS:
			if depth == 0 {
				return true
			}
		case lexer.SEMI:
			if depth == 0 {
				return false
			}
		}
	}
	return false
}

// standalone handles one top-level statement outside any block.
func (s *segmenter) standalone(i int) int {
	kind, ok := s.statementKind(i)
	end := s.statementEnd(i, kind)
	if end <= i {
		end = i + 1
	}
	if !ok {
		text := s.src[s.toks[i].Pos.Offset:s.toks[end-1].End]
		s.context.WriteString(CodeOnly(text))
		s.context.WriteByte('\n')
		s.lastEnd = s.toks[end-1].End
		return end
	}

	b := s.newBlock(i, end-1, BlockStatement, "")
	b.Statements = append(b.Statements, s.statement(i, end, kind, false))
	s.finishBlock(b)
	return end
}

// statementKind classifies the statement starting at token i.
func (s *segmenter) statementKind(i int) (StmtKind, bool) {
	switch t := s.tok(i); t.Type {
	case lexer.SELECT:
		return StmtSelect, true
	case lexer.INSERT:
		return StmtInsert, true
	case lexer.UPDATE:
		return StmtUpdate, true
	case lexer.DELETE:
		return StmtDelete, true
	case lexer.MERGE:
		return StmtMerge, true
	case lexer.CREATE:
		j := i + 1
		if s.tok(j).Is("GLOBAL") || s.tok(j).Is("LOCAL") || s.tok(j).Is("PRIVATE") {
			j++
		}
		if s.tok(j).Is("TEMPORARY") || s.tok(j).Is("TEMP") {
			j++
		}
		if s.tok(j).Type == lexer.TABLE {
			return StmtCreateTable, true
		}
	case lexer.WITH:
		depth := 0
		for j := i + 1; j < len(s.toks) && !s.term[j]; j++ {
			switch s.toks[j].Type {
			case lexer.LPAREN:
				depth++
			case lexer.RPAREN:
				depth--
			case lexer.SEMI:
				if depth == 0 {
					return "", false
				}
			case lexer.SELECT, lexer.INSERT, lexer.UPDATE, lexer.DELETE, lexer.MERGE:
				if depth == 0 {
					return s.statementKind(j)
				}
			}
		}
	}
	return "", false
}

// statementEnd returns the exclusive index of the token that ends the
// statement starting at i: a semicolon or closing parenthesis at depth zero,
// a line terminator, or the start of the next statement.
func (s *segmenter) statementEnd(i int, kind StmtKind) int {
	depth, caseDepth := 0, 0
	withPending := s.toks[i].Type == lexer.WITH
	topSelects := 0
	if s.toks[i].Type == lexer.SELECT {
		topSelects = 1
	}
	startsCreate := s.toks[i].Type == lexer.CREATE

	for j := i + 1; j < len(s.toks); j++ {
		if s.term[j] {
			return j
		}
		t, prev := s.toks[j], s.toks[j-1]
		switch t.Type {
		case lexer.LPAREN:
			depth++
			continue
		case lexer.RPAREN:
			depth--
			if depth < 0 {
				return j
			}
			continue
		case lexer.SEMI:
			if depth == 0 {
				return j
			}
			continue
		case lexer.CASE:
			caseDepth++
			continue
		case lexer.END:
			if caseDepth > 0 {
				caseDepth--
				continue
			}
			if depth == 0 {
				return j
			}
			continue
		}
		if depth != 0 || caseDepth != 0 {
			continue
		}

		switch {
		case t.Type == lexer.SELECT:
			switch {
			case withPending:
				withPending = false
			case isSetOperator(prev):
			case startsCreate && prev.Type == lexer.AS:
			case (kind == StmtInsert || kind == StmtCreateTable) && topSelects == 0:
			default:
				return j
			}
			topSelects++
		case t.Type == lexer.INSERT || t.Type == lexer.UPDATE || t.Type == lexer.DELETE || t.Type == lexer.MERGE:
			switch {
			case withPending:
				withPending = false
			case kind == StmtMerge && (prev.Type == lexer.THEN || t.Type == lexer.DELETE):
			case t.Type == lexer.UPDATE && prev.Is("FOR"):
			case prev.Type == lexer.ON:
			default:
				return j
			}
		case t.Type == lexer.CREATE, t.Type == lexer.ELSE:
			return j
		case t.Is("IF") && s.tok(j+1).Type != lexer.LPAREN:
			return j
		case isStatementKeyword(t):
			return j
		}
	}
	return len(s.toks)
}

func isSetOperator(t lexer.Token) bool {
	switch t.Type {
	case lexer.UNION, lexer.ALL, lexer.INTERSECT, lexer.MINUS_KW, lexer.EXCEPT, lexer.DISTINCT:
		return true
	}
	return false
}

var statementKeywords = []string{
	"BEGIN", "DECLARE", "EXCEPTION", "ELSIF", "LOOP", "COMMIT", "ROLLBACK",
	"EXEC", "EXECUTE", "PRINT", "RETURN", "RAISERROR", "THROW", "TRUNCATE",
	"OPEN", "FETCH", "CLOSE", "WHENEVER", "PROMPT", "SPOOL",
}

func isStatementKeyword(t lexer.Token) bool {
	if t.Type != lexer.IDENT {
		return false
	}
	for _, w := range statementKeywords {
		if t.Is(w) {
			return true
		}
	}
	return false
}

// collectStatements finds the data statements between tokens from and to.
func (s *segmenter) collectStatements(b *Block, from, to int) {
	boundary := true
	for j := from; j < to; {
		if s.term[j] {
			boundary = true
			j++
			continue
		}
		t := s.toks[j]
		if kind, cursor, ok := s.startsStatement(j, from, boundary); ok {
			end := min(s.statementEnd(j, kind), to)
			b.Statements = append(b.Statements, s.statement(j, end, kind, cursor))
			if cursor {
				b.HasCursor = true
			}
			j = end
			boundary = true
			continue
		}
		if t.Is("CURSOR") || t.Is("FETCH") {
			b.HasCursor = true
		}
		boundary = isBoundary(t)
		j++
	}
}

func isBoundary(t lexer.Token) bool {
	switch t.Type {
	case lexer.SEMI, lexer.THEN, lexer.ELSE, lexer.IS, lexer.AS:
		return true
	}
	return t.Is("BEGIN") || t.Is("LOOP") || t.Is("DECLARE") || t.Is("EXCEPTION") || t.Is("GO")
}

// startsStatement reports whether a data statement starts at token j.
func (s *segmenter) startsStatement(j, from int, boundary bool) (StmtKind, bool, bool) {
	t := s.toks[j]
	var prev lexer.Token
	if j > from {
		prev = s.toks[j-1]
	}

	switch t.Type {
	case lexer.SELECT:
		switch {
		case prev.Type == lexer.LPAREN && j-2 >= from && s.toks[j-2].Type == lexer.IN:
			return StmtSelect, true, true
		case prev.Is("FOR") && (j-3 >= from && s.toks[j-3].Is("OPEN") || s.cursorDeclaration(j, from)):
			return StmtSelect, true, true
		case prev.Type == lexer.IS && s.cursorDeclaration(j, from):
			return StmtSelect, true, true
		case boundary:
			return StmtSelect, false, true
		}
	case lexer.WITH:
		if boundary && s.tok(j+1).IsWord() {
			if kind, ok := s.statementKind(j); ok {
				return kind, s.cursorDeclaration(j, from), true
			}
		}
	case lexer.INSERT, lexer.DELETE, lexer.MERGE, lexer.UPDATE:
		if prev.Is("BEFORE") || prev.Is("AFTER") || prev.Type == lexer.OR || prev.Type == lexer.ON || prev.Is("OF") {
			return "", false, false
		}
		if t.Type == lexer.UPDATE && prev.Is("FOR") {
			return "", false, false
		}
		kind, ok := s.statementKind(j)
		return kind, false, ok
	case lexer.CREATE:
		if boundary {
			kind, ok := s.statementKind(j)
			return kind, false, ok
		}
	}
	return "", false, false
}

// cursorDeclaration reports whether the query at j follows CURSOR name IS.
func (s *segmenter) cursorDeclaration(j, from int) bool {
	for k := j - 1; k >= from && k >= j-16; k-- {
		t := s.toks[k]
		if t.Is("CURSOR") {
			return true
		}
		if t.Type == lexer.SEMI || t.Is("BEGIN") {
			return false
		}
	}
	return false
}

func (s *segmenter) statement(start, end int, kind StmtKind, cursor bool) Statement {
	from := s.toks[start].Pos.Offset
	to := s.toks[end-1].End
	return Statement{
		Kind:   kind,
		Text:   s.src[from:to],
		Start:  from,
		End:    to,
		Cursor: cursor,
	}
}

func (s *segmenter) newBlock(first, last int, kind BlockKind, name string) *Block {
	start := s.toks[first].Pos.Offset
	end := s.toks[last].End
	b := &Block{
		Ordinal: len(s.blocks) + 1,
		Kind:    kind,
		Name:    name,
		Start:   start,
		End:     end,
		Text:    s.src[start:end],
		Context: s.context.String(),
	}
	b.Code = CodeOnly(b.Text)
	for _, c := range s.comments {
		if c.Start >= s.lastEnd && c.End <= start {
			b.Leading = append(b.Leading, c)
		}
	}
	s.lastEnd = end
	s.blocks = append(s.blocks, b)
	return b
}

func (s *segmenter) finishBlock(b *Block) {
	headerEnd := b.End
	if len(b.Statements) > 0 {
		headerEnd = b.Statements[0].Start
	}
	for _, c := range s.comments {
		if c.Start >= b.Start && c.End <= headerEnd {
			b.Header = append(b.Header, c)
		}
	}
}
