package lexer

import (
	"fmt"
	"strings"
)

// Error is a lexical error with position information.
type Error struct {
	Pos     Position
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lexer error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Common error messages
const (
	ErrUnterminatedString  = "unterminated string literal"
	ErrUnterminatedQuoted  = "unterminated quoted identifier"
	ErrUnterminatedComment = "unterminated block comment"
)

// Lexer tokenizes SQL input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)

	// Comments collected during lexing
	Comments []Comment
	// Errors collected during lexing; the token stream is still complete
	Errors []error
}

// New creates a new Lexer for the given input.
func New(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// peekAt returns the character n bytes after the current one.
func (l *Lexer) peekAt(n int) byte {
	if l.pos+n >= len(l.input) {
		return 0
	}
	return l.input[l.pos+n]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// currentPos returns the current position.
func (l *Lexer) currentPos() Position {
	return Position{
		Line:   l.line,
		Column: l.col,
		Offset: l.pos,
	}
}

func (l *Lexer) addError(pos Position, msg string) {
	l.Errors = append(l.Errors, &Error{Pos: pos, Message: msg})
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	tok := Token{Pos: l.currentPos()}
	if l.atEOF() {
		tok.Type = EOF
		tok.End = len(l.input)
		return tok
	}

	switch l.ch {
	case '+':
		l.single(&tok, PLUS)
	case '-':
		l.single(&tok, MINUS)
	case '*':
		l.single(&tok, STAR)
	case '/':
		l.single(&tok, SLASH)
	case '%':
		l.single(&tok, PERCENT)
	case ',':
		l.single(&tok, COMMA)
	case ';':
		l.single(&tok, SEMI)
	case ')':
		l.single(&tok, RPAREN)
	case '.':
		if isDigit(l.peekChar()) {
			tok.Type = NUMBER
			tok.Literal = l.readNumber()
		} else {
			l.single(&tok, DOT)
		}
	case '(':
		if l.peekAt(1) == '+' && l.peekAt(2) == ')' {
			l.multi(&tok, OUTERJ, 3)
		} else {
			l.single(&tok, LPAREN)
		}
	case '=':
		if l.peekChar() == '>' {
			l.multi(&tok, ARROW, 2)
		} else {
			l.single(&tok, EQ)
		}
	case '<':
		switch l.peekChar() {
		case '=':
			l.multi(&tok, LE, 2)
		case '>':
			l.multi(&tok, NE, 2)
		default:
			l.single(&tok, LT)
		}
	case '>':
		if l.peekChar() == '=' {
			l.multi(&tok, GE, 2)
		} else {
			l.single(&tok, GT)
		}
	case '!', '^':
		if l.peekChar() == '=' {
			l.multi(&tok, NE, 2)
		} else {
			l.single(&tok, ILLEGAL)
		}
	case '|':
		if l.peekChar() == '|' {
			l.multi(&tok, DPIPE, 2)
		} else {
			l.single(&tok, ILLEGAL)
		}
	case ':':
		switch next := l.peekChar(); {
		case next == '=':
			l.multi(&tok, ASSIGN, 2)
		case isIdentStart(next) || isDigit(next):
			start := l.pos
			l.readChar() // skip ':'
			for isIdentPart(l.ch) {
				l.readChar()
			}
			tok.Type = BIND
			tok.Literal = l.input[start:l.pos]
		default:
			l.single(&tok, ILLEGAL)
		}
	case '\'':
		tok.Type = STRING
		tok.Literal = l.readString()
	case '"':
		tok.Type = QIDENT
		tok.Literal = l.readQuoted('"')
	case '[':
		tok.Type = QIDENT
		tok.Literal = l.readQuoted(']')
	default:
		switch {
		case (l.ch == 'n' || l.ch == 'N') && l.peekChar() == '\'':
			l.readChar() // skip N prefix
			tok.Type = STRING
			tok.Literal = l.readString()
		case (l.ch == 'q' || l.ch == 'Q') && l.peekChar() == '\'' && l.peekAt(2) != 0:
			tok.Type = STRING
			tok.Literal = l.readQuoteLiteral()
		case isIdentStart(l.ch):
			tok.Literal = l.readIdentifier()
			tok.Type = LookupIdent(tok.Literal)
		case isDigit(l.ch):
			tok.Type = NUMBER
			tok.Literal = l.readNumber()
		default:
			l.single(&tok, ILLEGAL)
		}
	}

	tok.End = l.pos
	return tok
}

// single consumes one character as a token of type t.
func (l *Lexer) single(tok *Token, t TokenType) {
	tok.Type = t
	tok.Literal = string(l.ch)
	l.readChar()
}

// multi consumes n characters as a token of type t.
func (l *Lexer) multi(tok *Token, t TokenType, n int) {
	start := l.pos
	for range n {
		l.readChar()
	}
	tok.Type = t
	tok.Literal = l.input[start:l.pos]
}

// skipWhitespaceAndComments skips whitespace and collects comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' {
			l.readChar()
		}

		// Collect line comment (-- ...)
		if l.ch == '-' && l.peekChar() == '-' {
			l.collectLineComment()
			continue
		}

		// Collect block comment (/* ... */)
		if l.ch == '/' && l.peekChar() == '*' {
			l.collectBlockComment()
			continue
		}

		break
	}
}

// collectLineComment collects a line comment.
func (l *Lexer) collectLineComment() {
	start := l.currentPos()

	// Consume until end of line
	for l.ch != '\n' && !l.atEOF() {
		l.readChar()
	}

	l.Comments = append(l.Comments, Comment{
		Kind:  LineComment,
		Text:  strings.TrimRight(l.input[start.Offset:l.pos], "\r"),
		Start: start.Offset,
		End:   l.pos,
		Line:  start.Line,
	})
}

// collectBlockComment collects a block comment.
func (l *Lexer) collectBlockComment() {
	start := l.currentPos()

	l.readChar() // skip '/'
	l.readChar() // skip '*'

	closed := false
	for !l.atEOF() {
		if l.ch == '*' && l.peekChar() == '/' {
			l.readChar() // skip '*'
			l.readChar() // skip '/'
			closed = true
			break
		}
		l.readChar()
	}
	if !closed {
		l.addError(start, ErrUnterminatedComment)
	}

	l.Comments = append(l.Comments, Comment{
		Kind:  BlockComment,
		Text:  l.input[start.Offset:l.pos],
		Start: start.Offset,
		End:   l.pos,
		Line:  start.Line,
	})
}

// readString reads a single-quoted string literal.
// Handles doubled single quotes as escape: 'it''s' -> it's
func (l *Lexer) readString() string {
	start := l.currentPos()
	l.readChar() // skip opening quote

	var result strings.Builder
	for !l.atEOF() {
		if l.ch == '\'' {
			if l.peekChar() == '\'' {
				result.WriteByte('\'')
				l.readChar() // skip first quote
				l.readChar() // skip second quote
				continue
			}
			l.readChar() // skip closing quote
			return result.String()
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	l.addError(start, ErrUnterminatedString)
	return result.String()
}

// readQuoteLiteral reads an Oracle alternative quoting literal such as
// q'[it's]' or q'{...}'.
func (l *Lexer) readQuoteLiteral() string {
	start := l.currentPos()
	l.readChar() // skip q
	l.readChar() // skip '
	open := l.ch
	closer := open
	switch open {
	case '[':
		closer = ']'
	case '{':
		closer = '}'
	case '(':
		closer = ')'
	case '<':
		closer = '>'
	}
	l.readChar() // skip delimiter

	bodyStart := l.pos
	for !l.atEOF() {
		if l.ch == closer && l.peekChar() == '\'' {
			body := l.input[bodyStart:l.pos]
			l.readChar() // skip delimiter
			l.readChar() // skip '
			return body
		}
		l.readChar()
	}
	l.addError(start, ErrUnterminatedString)
	return l.input[bodyStart:l.pos]
}

// readQuoted reads a quoted identifier ending at closer. A doubled closer
// is an escape.
func (l *Lexer) readQuoted(closer byte) string {
	start := l.currentPos()
	l.readChar() // skip opening delimiter

	var result strings.Builder
	for !l.atEOF() {
		if l.ch == closer {
			if l.peekChar() == closer {
				result.WriteByte(closer)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing delimiter
			return result.String()
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
	l.addError(start, ErrUnterminatedQuoted)
	return result.String()
}

// readIdentifier reads an unquoted identifier.
func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isIdentPart(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads a numeric literal (integer, decimal, or scientific).
func (l *Lexer) readNumber() string {
	start := l.pos

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // skip '.'
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	// Exponent part (e.g., 1e10, 1E-5)
	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	return l.input[start:l.pos]
}

// isIdentStart reports whether ch can start an unquoted identifier.
// Bytes of multi-byte UTF-8 sequences are treated as letters.
func isIdentStart(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_' || ch == '@' || ch == '#' || ch >= 0x80
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}

// isDigit returns true if ch is a digit.
func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens (ending with EOF), the comments and any lexical
// errors found in the input.
func Tokenize(input string) ([]Token, []Comment, []error) {
	l := New(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			break
		}
	}
	return tokens, l.Comments, l.Errors
}
