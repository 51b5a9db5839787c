// Package classify decides whether an identifier names a table or a
// built-in function.
//
// The decision depends on the rule pack's blacklist and on where the
// identifier appears. Blacklisted names are built-ins everywhere. Unknown
// names in a table position default to tables; unknown names in call
// position default to built-ins with low confidence, so that function
// artifacts never become table nodes.
package classify

import "github.com/leapstack-labs/etlgraph/internal/rules"

// Position is the syntactic context of an identifier.
type Position int

const (
	// TableRef is a FROM/JOIN/INTO/UPDATE/MERGE/USING/CREATE TABLE target.
	TableRef Position = iota
	// Call is an identifier immediately followed by "(" outside a table list.
	Call
)

func (p Position) String() string {
	if p == Call {
		return "call"
	}
	return "table reference"
}

// Kind is the classification outcome.
type Kind int

// Classification outcomes.
const (
	Table Kind = iota
	Builtin
)

func (k Kind) String() string {
	if k == Builtin {
		return "BUILTIN"
	}
	return "TABLE"
}

// Result is the outcome of classifying one identifier.
type Result struct {
	Kind Kind
	// LowConfidence is set when the result comes from the positional
	// default rather than the blacklist.
	LowConfidence bool
}

// Classifier classifies identifiers against one rule pack.
type Classifier struct {
	rules *rules.Pack
}

// New creates a classifier for a rule pack.
func New(pack *rules.Pack) *Classifier {
	return &Classifier{rules: pack}
}

// Classify returns the classification of ident at pos.
func (c *Classifier) Classify(ident string, pos Position) Result {
	if ident == "" {
		return Result{Kind: Builtin}
	}
	if pos == TableRef && c.rules.IsBuiltinTable(ident) || pos == Call && c.rules.IsBuiltin(ident) {
		return Result{Kind: Builtin}
	}
	if pos == Call {
		return Result{Kind: Builtin, LowConfidence: true}
	}
	return Result{Kind: Table}
}

// IsTable is shorthand for a TableRef classification that yields a table.
func (c *Classifier) IsTable(ident string) bool {
	return c.Classify(ident, TableRef).Kind == Table
}
