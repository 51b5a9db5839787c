// Package lexer tokenizes procedural SQL scripts (SQL, PL/SQL and T-SQL
// style batches) into a flat token stream with byte offsets, collecting
// comments on the side.
//
// Only a small set of words is reserved. Everything else, including
// procedural keywords such as BEGIN or LOOP, is returned as IDENT and
// matched by callers with Token.Is.
package lexer

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a lexical token.
//
//nolint:revive // Accept stutter as lexer.TokenType reads clearly at call sites
type TokenType int

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL

	// Literals
	IDENT  // identifier or unreserved keyword
	QIDENT // "quoted" or [bracketed] identifier
	NUMBER // 123, 45.67, 1e10
	STRING // 'hello', N'hello'
	BIND   // :name, :1

	// Operators
	PLUS     // +
	MINUS    // -
	STAR     // *
	SLASH    // /
	PERCENT  // %
	DPIPE    // ||
	EQ       // =
	NE       // != or <> or ^=
	LT       // <
	GT       // >
	LE       // <=
	GE       // >=
	DOT      // .
	COMMA    // ,
	SEMI     // ;
	LPAREN   // (
	RPAREN   // )
	ASSIGN   // :=
	ARROW    // =>
	OUTERJ   // (+)
	keywordStart

	// Reserved keywords (alphabetical)
	ALL
	AND
	AS
	BETWEEN
	BY
	CASE
	CREATE
	CROSS
	DELETE
	DISTINCT
	ELSE
	END
	EXCEPT
	EXISTS
	FROM
	FULL
	GROUP
	HAVING
	IN
	INNER
	INSERT
	INTERSECT
	INTO
	IS
	JOIN
	LEFT
	LIKE
	MERGE
	MINUS_KW
	NATURAL
	NOT
	NULL
	ON
	OR
	ORDER
	OUTER
	RIGHT
	SELECT
	SET
	TABLE
	THEN
	UNION
	UPDATE
	USING
	VALUES
	WHEN
	WHERE
	WITH
	keywordEnd
)

var tokenNames = map[TokenType]string{
	EOF:     "EOF",
	ILLEGAL: "ILLEGAL",
	IDENT:   "IDENT",
	QIDENT:  "QIDENT",
	NUMBER:  "NUMBER",
	STRING:  "STRING",
	BIND:    "BIND",
	PLUS:    "+",
	MINUS:   "-",
	STAR:    "*",
	SLASH:   "/",
	PERCENT: "%",
	DPIPE:   "||",
	EQ:      "=",
	NE:      "!=",
	LT:      "<",
	GT:      ">",
	LE:      "<=",
	GE:      ">=",
	DOT:     ".",
	COMMA:   ",",
	SEMI:    ";",
	LPAREN:  "(",
	RPAREN:  ")",
	ASSIGN:  ":=",
	ARROW:   "=>",
	OUTERJ:  "(+)",
}

// keywords maps lowercase reserved words to their token types.
var keywords = map[string]TokenType{
	"all":       ALL,
	"and":       AND,
	"as":        AS,
	"between":   BETWEEN,
	"by":        BY,
	"case":      CASE,
	"create":    CREATE,
	"cross":     CROSS,
	"delete":    DELETE,
	"distinct":  DISTINCT,
	"else":      ELSE,
	"end":       END,
	"except":    EXCEPT,
	"exists":    EXISTS,
	"from":      FROM,
	"full":      FULL,
	"group":     GROUP,
	"having":    HAVING,
	"in":        IN,
	"inner":     INNER,
	"insert":    INSERT,
	"intersect": INTERSECT,
	"into":      INTO,
	"is":        IS,
	"join":      JOIN,
	"left":      LEFT,
	"like":      LIKE,
	"merge":     MERGE,
	"minus":     MINUS_KW,
	"natural":   NATURAL,
	"not":       NOT,
	"null":      NULL,
	"on":        ON,
	"or":        OR,
	"order":     ORDER,
	"outer":     OUTER,
	"right":     RIGHT,
	"select":    SELECT,
	"set":       SET,
	"table":     TABLE,
	"then":      THEN,
	"union":     UNION,
	"update":    UPDATE,
	"using":     USING,
	"values":    VALUES,
	"when":      WHEN,
	"where":     WHERE,
	"with":      WITH,
}

func init() {
	for word, t := range keywords {
		tokenNames[t] = strings.ToUpper(word)
	}
}

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", int(t))
}

// LookupIdent returns the keyword token type for a word, or IDENT.
func LookupIdent(word string) TokenType {
	if t, ok := keywords[strings.ToLower(word)]; ok {
		return t
	}
	return IDENT
}

// IsKeyword reports whether t is a reserved keyword.
func IsKeyword(t TokenType) bool {
	return t > keywordStart && t < keywordEnd
}

// Position represents a location in the source.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

// Token represents a lexical token. End is the byte offset just past the
// token's source text, so input[Pos.Offset:End] is the raw token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
	End     int
}

// Is reports whether the token is the given word, ignoring case. It matches
// both reserved keywords and plain identifiers.
func (t Token) Is(word string) bool {
	if t.Type != IDENT && !IsKeyword(t.Type) {
		return false
	}
	return strings.EqualFold(t.Literal, word)
}

// IsWord reports whether the token is an identifier-like word.
func (t Token) IsWord() bool {
	return t.Type == IDENT || t.Type == QIDENT || IsKeyword(t.Type)
}

// CommentKind distinguishes line vs block comments.
type CommentKind int

// Comment kinds.
const (
	LineComment  CommentKind = iota // -- comment
	BlockComment                    // /* comment */
)

// Comment represents a SQL comment with its byte range.
type Comment struct {
	Kind  CommentKind
	Text  string // includes delimiters (-- or /* */)
	Start int
	End   int
	Line  int
}

// Body returns the comment text without its delimiters.
func (c Comment) Body() string {
	switch c.Kind {
	case LineComment:
		return strings.TrimSpace(strings.TrimPrefix(c.Text, "--"))
	default:
		s := strings.TrimPrefix(c.Text, "/*")
		s = strings.TrimSuffix(s, "*/")
		return strings.TrimSpace(s)
	}
}
