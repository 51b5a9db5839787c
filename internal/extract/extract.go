// Package extract turns the data statements of a segmented script into
// facts: the tables a statement reads and writes, the joins between them and
// the column lineage of every write.
//
// Two paths produce the same facts. The structured path walks the AST of
// internal/sqlparse; the pattern path scans comment- and literal-blanked
// text. Choose picks one path for a whole script: structured when every
// statement parses, pattern otherwise.
package extract

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/etlgraph/internal/classify"
	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/script"
	"github.com/leapstack-labs/etlgraph/internal/sqlparse"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// Path names.
const (
	PathStructured = "structured"
	PathPattern    = "pattern"
)

// Path extracts facts from one data statement.
type Path interface {
	Name() string
	Extract(stmt script.Statement) Facts
}

// Facts is what one statement contributes to the graph. Table names are
// normalized (see graph.NormalizeName).
type Facts struct {
	Kind  script.StmtKind
	Reads []string // sorted, unique
	// Writes holds one entry per written table, in statement order.
	Writes []Write
	Joins  []Join
	// Aggregating is set for queries with GROUP BY, aggregate calls or
	// analytic functions in their projection.
	Aggregating bool
	// Diagnostics carry no source id; the caller stamps it.
	Diagnostics []graph.Diagnostic
}

// Write is a table written by a statement.
type Write struct {
	Table   string
	Lineage []graph.ColumnLineage
	// Columns holds CREATE TABLE column definitions.
	Columns []graph.Column
}

// Join is one join clause between two tables.
type Join struct {
	Left      string
	Right     string
	Type      string
	Condition string
}

// Choose returns the path for a script. Every statement is parsed; if any
// fails the pattern path is used for the whole script and a warning explains
// why.
func Choose(sc *script.Script, pack *rules.Pack) (Path, []graph.Diagnostic) {
	parsed := make(map[int]parsedStatement)
	for i, stmt := range sc.Statements() {
		ast, err := sqlparse.Parse(stmt.Text)
		if err != nil {
			diag := graph.Diagnostic{
				Severity: graph.SeverityWarning,
				Message: fmt.Sprintf("statement %d (%s) could not be parsed, using pattern extraction for the whole script: %v",
					i+1, stmt.Kind, err),
			}
			return NewPattern(pack), []graph.Diagnostic{diag}
		}
		parsed[stmt.Start] = parsedStatement{text: stmt.Text, ast: ast}
	}
	s := NewStructured(pack)
	s.parsed = parsed
	return s, nil
}

func info(format string, args ...any) graph.Diagnostic {
	return graph.Diagnostic{Severity: graph.SeverityInfo, Message: fmt.Sprintf(format, args...)}
}

func warning(format string, args ...any) graph.Diagnostic {
	return graph.Diagnostic{Severity: graph.SeverityWarning, Message: fmt.Sprintf(format, args...)}
}

// collector accumulates the facts of one statement.
type collector struct {
	cls         *classify.Classifier
	reads       map[string]bool
	joins       []Join
	writes      []Write
	aggregating bool
	diags       []graph.Diagnostic
	calls       map[string]bool
}

func newCollector(cls *classify.Classifier) collector {
	return collector{cls: cls, reads: make(map[string]bool), calls: make(map[string]bool)}
}

func (c *collector) facts(kind script.StmtKind) Facts {
	reads := make([]string, 0, len(c.reads))
	for r := range c.reads {
		reads = append(reads, r)
	}
	slices.Sort(reads)
	return Facts{
		Kind:        kind,
		Reads:       reads,
		Writes:      c.writes,
		Joins:       c.joins,
		Aggregating: c.aggregating,
		Diagnostics: c.diags,
	}
}

// target classifies a written table.
func (c *collector) target(raw string) (string, bool) {
	name := graph.NormalizeName(raw)
	if !c.cls.IsTable(raw) {
		c.diags = append(c.diags, info("write target %s is a built-in and was ignored", name))
		return name, false
	}
	return name, true
}

// noteCall records an info diagnostic for a function the rule pack does not
// know, once per name.
func (c *collector) noteCall(name string) {
	norm := graph.NormalizeName(name)
	if c.calls[norm] {
		return
	}
	c.calls[norm] = true
	c.diags = append(c.diags, info("function %s is not in the rule pack and was classified as a built-in with low confidence", norm))
}
