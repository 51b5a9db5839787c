// Package rules holds the configuration that drives extraction: which
// identifiers are built-ins rather than tables, which functions aggregate,
// how expressions are labelled, how tasks are named and how error handling
// is recognized.
//
// A Pack is immutable once compiled and is safe to share between
// goroutines.
package rules

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// Shape wildcards used in expression patterns.
const (
	AnyFunction       = "*"
	AggregateFunction = "@aggregate"
	CaseExpression    = "case"
	CastExpression    = "cast"
	NoInner           = "none"
)

// Argument shapes of an expression pattern.
const (
	ArgAny        = "any"
	ArgColumn     = "column"
	ArgLiteral    = "literal"
	ArgStar       = "star"
	ArgExpression = "expression"
	ArgNone       = "none"
)

// Task rule matchers, evaluated in the order the pack lists them.
const (
	MatchDeclared        = "declared"
	MatchCursorLoop      = "cursor_loop"
	MatchCreateTable     = "create_table"
	MatchMerge           = "merge"
	MatchAggregateLoad   = "aggregate_load"
	MatchLoad            = "load"
	MatchUpdate          = "update"
	MatchDelete          = "delete"
	MatchAnalyticalQuery = "analytical_query"
	MatchQuery           = "query"
)

// ExpressionPattern maps an expression shape to a label template.
//
// Outer names the outermost function (or one of the wildcards "*",
// "@aggregate", "case", "cast"). Inner optionally names the function
// nested directly inside it; "none" requires that there is none. Arg
// constrains the innermost argument. Label may reference {outer}, {inner}
// and {arg}.
type ExpressionPattern struct {
	Outer string `yaml:"outer" validate:"required"`
	Inner string `yaml:"inner,omitempty"`
	Arg   string `yaml:"arg,omitempty" validate:"omitempty,oneof=any column literal star expression none"`
	Label string `yaml:"label" validate:"required"`
}

// TaskRule names a block from its structure. Template may reference
// {name} (declared block name), {target} (first written table) and
// {source} (first read table).
type TaskRule struct {
	Match    string `yaml:"match" validate:"required,oneof=declared cursor_loop create_table merge aggregate_load load update delete analytical_query query"`
	Template string `yaml:"template" validate:"required"`
}

// Pack is a named set of extraction rules.
type Pack struct {
	Name              string `yaml:"name" validate:"required"`
	Extends           string `yaml:"extends,omitempty"`
	DefaultTechnology string `yaml:"default_technology" validate:"required"`
	// SelectIntoCreatesTable treats SELECT ... INTO <table> FROM as a write
	// (T-SQL). Otherwise INTO names host variables (PL/SQL).
	SelectIntoCreatesTable bool `yaml:"select_into_creates_table,omitempty"`

	Blacklist          []string            `yaml:"blacklist"`
	// SystemSchemas qualify blacklisted names in table position, as in
	// SYS.DUAL. Other qualified table names must match the blacklist in full.
	SystemSchemas      []string            `yaml:"system_schemas,omitempty"`
	Aggregates         []string            `yaml:"aggregates" validate:"required,min=1,dive,required"`
	ExpressionPatterns []ExpressionPattern `yaml:"expression_patterns" validate:"dive"`
	TaskMarkers        []string            `yaml:"task_markers" validate:"dive,required"`
	TaskRules          []TaskRule          `yaml:"task_rules" validate:"dive"`
	HandlerPatterns    []string            `yaml:"handler_patterns" validate:"dive,required"`

	blacklist  map[string]struct{}
	system     map[string]struct{}
	aggregates map[string]struct{}
	markers    []*regexp.Regexp
	handlers   []*regexp.Regexp
}

// Fold returns the case-folded form of an identifier.
func Fold(s string) string {
	// A Caser is stateful, so each call gets its own.
	return cases.Fold().String(s)
}

// compile builds the lookup sets and regular expressions.
func (p *Pack) compile() error {
	p.blacklist = make(map[string]struct{}, len(p.Blacklist))
	for _, w := range p.Blacklist {
		p.blacklist[nameKey(graph.NormalizeName(w))] = struct{}{}
	}
	p.system = make(map[string]struct{}, len(p.SystemSchemas))
	for _, w := range p.SystemSchemas {
		p.system[nameKey(graph.NormalizeName(w))] = struct{}{}
	}
	p.aggregates = make(map[string]struct{}, len(p.Aggregates))
	for _, w := range p.Aggregates {
		p.aggregates[Fold(w)] = struct{}{}
	}

	p.markers = p.markers[:0]
	for _, expr := range p.TaskMarkers {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("invalid task marker %q: %w", expr, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("task marker %q must capture the task name", expr)
		}
		p.markers = append(p.markers, re)
	}

	p.handlers = p.handlers[:0]
	for _, expr := range p.HandlerPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("invalid handler pattern %q: %w", expr, err)
		}
		p.handlers = append(p.handlers, re)
	}
	return nil
}

// nameKey folds a normalized name with its quotes removed, so that "DUAL"
// and dual share a key.
func nameKey(norm string) string {
	parts := graph.SplitName(norm)
	for i, part := range parts {
		parts[i] = graph.Unquote(part)
	}
	return Fold(strings.Join(parts, "."))
}

// IsBuiltin reports whether a possibly qualified identifier is blacklisted.
// Both the full name and its last segment are checked, which suits
// package-qualified calls such as DBMS_OUTPUT.PUT_LINE.
func (p *Pack) IsBuiltin(name string) bool {
	norm := graph.NormalizeName(name)
	if _, ok := p.blacklist[nameKey(norm)]; ok {
		return true
	}
	_, ok := p.blacklist[nameKey(graph.ShortName(norm))]
	return ok
}

// IsBuiltinTable reports whether a name in table position is blacklisted.
// A qualified name matches in full, or by its last segment when its schema
// is a system schema.
func (p *Pack) IsBuiltinTable(name string) bool {
	norm := graph.NormalizeName(name)
	if _, ok := p.blacklist[nameKey(norm)]; ok {
		return true
	}
	schema := graph.SchemaOf(norm)
	if schema == "" {
		return false
	}
	if _, ok := p.system[nameKey(schema)]; !ok {
		return false
	}
	_, ok := p.blacklist[nameKey(graph.ShortName(norm))]
	return ok
}

// IsAggregate reports whether a function name is an aggregate.
func (p *Pack) IsAggregate(name string) bool {
	_, ok := p.aggregates[nameKey(graph.ShortName(graph.NormalizeName(name)))]
	return ok
}

// Markers returns the compiled task marker expressions.
func (p *Pack) Markers() []*regexp.Regexp {
	return p.markers
}

// Handlers returns the compiled error handler expressions.
func (p *Pack) Handlers() []*regexp.Regexp {
	return p.handlers
}

// overlay returns p layered on top of base. List-valued sets are unioned;
// ordered rules of p take precedence over those of base.
func (p *Pack) overlay(base *Pack) *Pack {
	out := &Pack{
		Name:                   p.Name,
		Extends:                p.Extends,
		DefaultTechnology:      p.DefaultTechnology,
		SelectIntoCreatesTable: p.SelectIntoCreatesTable || base.SelectIntoCreatesTable,
		Blacklist:              union(base.Blacklist, p.Blacklist),
		SystemSchemas:          union(base.SystemSchemas, p.SystemSchemas),
		Aggregates:             union(base.Aggregates, p.Aggregates),
		ExpressionPatterns:     append(slices.Clone(p.ExpressionPatterns), base.ExpressionPatterns...),
		TaskMarkers:            union(p.TaskMarkers, base.TaskMarkers),
		TaskRules:              append(slices.Clone(p.TaskRules), base.TaskRules...),
		HandlerPatterns:        union(base.HandlerPatterns, p.HandlerPatterns),
	}
	if out.DefaultTechnology == "" {
		out.DefaultTechnology = base.DefaultTechnology
	}
	return out
}

// union appends b to a, keeping the first occurrence of every value.
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(slices.Clone(a), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
