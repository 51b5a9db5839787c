// Package normalize labels column lineage expressions with a short,
// human-readable description of their shape, driven by the expression
// patterns of a rule pack.
//
// A shape is the outermost function of an expression, the function nested
// directly in its first argument, and the innermost argument. Patterns are
// tried in pack order and the first match wins; an expression that matches
// no pattern is labelled with its own text.
package normalize

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/script"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

var (
	callRe     = regexp.MustCompile(`^([\p{L}_][\p{L}\p{N}_$#]*(?:\s*\.\s*[\p{L}_][\p{L}\p{N}_$#]*)*)\s*\(`)
	caseRe     = regexp.MustCompile(`(?i)^CASE\b[\s\S]*\bEND$`)
	quantRe    = regexp.MustCompile(`(?i)^(?:DISTINCT|ALL|UNIQUE)\s+`)
	columnRe   = regexp.MustCompile(`^(?:[\p{L}_][\p{L}\p{N}_$#]*|"[^"]+")(?:\s*\.\s*(?:[\p{L}_][\p{L}\p{N}_$#]*|"[^"]+"))*$`)
	numberRe   = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?$`)
	stringRe   = regexp.MustCompile(`^[nN]?'[\s\S]*'$`)
	nullWordRe = regexp.MustCompile(`(?i)^NULL$`)
)

// Shape describes the structure of one expression.
type Shape struct {
	// Outer is the folded name of the outermost function, "case" for a
	// CASE expression, or "" when the expression is not a call.
	Outer string
	// Inner is the folded name of the call that forms the whole first
	// argument of Outer, or "".
	Inner string
	// Arg is the kind of the first argument of the innermost call (see the
	// rules.Arg* constants) and ArgText its text.
	Arg     string
	ArgText string

	outerAggregate bool
	innerAggregate bool
}

// Normalizer labels expressions. It is safe for concurrent use.
type Normalizer struct {
	pack *rules.Pack
}

// New creates a normalizer for a rule pack.
func New(pack *rules.Pack) *Normalizer {
	return &Normalizer{pack: pack}
}

// Shape analyses an expression. The second result is false when the
// expression is neither a function call nor a CASE expression.
func (n *Normalizer) Shape(expr string) (Shape, bool) {
	src := strings.TrimSpace(expr)
	code := script.CodeOnly(src)

	var s Shape
	if caseRe.MatchString(code) {
		s.Outer = rules.CaseExpression
		s.Arg = rules.ArgExpression
		s.ArgText = src
		return s, true
	}

	name, first, ok := wholeCall(src, code)
	if !ok {
		return s, false
	}
	s.Outer = fold(name)
	s.outerAggregate = n.pack.IsAggregate(name)

	if inner, innerFirst, ok := wholeCall(first.Of(src), first.Of(code)); ok {
		s.Inner = fold(inner)
		s.innerAggregate = n.pack.IsAggregate(inner)
		// Descend to the innermost call for the argument.
		src, code, first = first.Of(src), first.Of(code), innerFirst
		for {
			_, next, ok := wholeCall(first.Of(src), first.Of(code))
			if !ok {
				break
			}
			src, code, first = first.Of(src), first.Of(code), next
		}
	} else if caseRe.MatchString(first.Of(code)) {
		s.Inner = rules.CaseExpression
	}

	s.ArgText = first.Of(src)
	s.Arg = n.argKind(s.ArgText, first.Of(code))
	return s, true
}

// wholeCall reports whether the expression is exactly one function call and
// returns the function name and the range of its first argument, with any
// DISTINCT or ALL quantifier removed.
func wholeCall(src, code string) (string, script.Range, bool) {
	m := callRe.FindStringSubmatchIndex(code)
	if m == nil {
		return "", script.Range{}, false
	}
	open := m[1] - 1
	if script.MatchParen(code, open) != len(code)-1 {
		return "", script.Range{}, false
	}
	name := src[m[2]:m[3]]

	body := script.Range{Start: open + 1, End: len(code) - 1}
	parts := script.SplitTopLevel(body.Of(code))
	first := script.Range{Start: body.Start + parts[0].Start, End: body.Start + parts[0].End}
	if q := quantRe.FindStringIndex(first.Of(code)); q != nil {
		first.Start += q[1]
	}
	return name, first, true
}

func (n *Normalizer) argKind(src, code string) string {
	switch {
	case src == "":
		return rules.ArgNone
	case src == "*":
		return rules.ArgStar
	case numberRe.MatchString(src), stringRe.MatchString(code), nullWordRe.MatchString(src):
		return rules.ArgLiteral
	case columnRe.MatchString(src) && !n.pack.IsBuiltin(src):
		return rules.ArgColumn
	default:
		return rules.ArgExpression
	}
}

// Label returns the label of the first matching pattern, or the expression
// itself.
func (n *Normalizer) Label(expr string) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ""
	}
	s, ok := n.Shape(expr)
	if !ok {
		return expr
	}
	for _, p := range n.pack.ExpressionPatterns {
		if matches(p, s) {
			return expand(p.Label, s)
		}
	}
	return expr
}

// Apply returns a copy of lineage with every entry labelled.
func (n *Normalizer) Apply(lineage []graph.ColumnLineage) []graph.ColumnLineage {
	if lineage == nil {
		return nil
	}
	out := make([]graph.ColumnLineage, len(lineage))
	for i, e := range lineage {
		e.Label = n.Label(e.SourceExpression)
		out[i] = e
	}
	return out
}

func matches(p rules.ExpressionPattern, s Shape) bool {
	switch outer := fold(p.Outer); outer {
	case rules.AnyFunction:
	case rules.AggregateFunction:
		if !s.outerAggregate {
			return false
		}
	default:
		if outer != s.Outer {
			return false
		}
	}

	switch inner := fold(p.Inner); inner {
	case "":
	case rules.NoInner:
		if s.Inner != "" {
			return false
		}
	case rules.AnyFunction:
		if s.Inner == "" {
			return false
		}
	case rules.AggregateFunction:
		if !s.innerAggregate {
			return false
		}
	default:
		if inner != s.Inner {
			return false
		}
	}

	switch arg := strings.ToLower(p.Arg); arg {
	case "", rules.ArgAny:
		return true
	default:
		return arg == s.Arg
	}
}

func expand(template string, s Shape) string {
	return strings.NewReplacer(
		"{outer}", s.Outer,
		"{inner}", s.Inner,
		"{arg}", s.ArgText,
	).Replace(template)
}

func fold(name string) string {
	return rules.Fold(graph.ShortName(graph.NormalizeName(name)))
}
