package sqlparse

import (
	"fmt"

	"github.com/leapstack-labs/etlgraph/internal/lexer"
)

// ParseError represents a parsing error with position information.
type ParseError struct {
	Pos     lexer.Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Common error messages
const (
	ErrUnexpectedToken   = "unexpected token %s, expected %s"
	ErrUnsupported       = "unsupported statement starting with %s"
	ErrUnsupportedSyntax = "unsupported syntax %s"
	ErrTrailingInput     = "unexpected trailing input %q"
	ErrUnbalanced        = "unbalanced parentheses"
	ErrExpectedExpr      = "expected expression, got %s"
)
