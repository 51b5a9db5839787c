package extract

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/etlgraph/internal/lexer"
	"github.com/leapstack-labs/etlgraph/internal/script"
	"github.com/leapstack-labs/etlgraph/internal/sqlparse"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// Identifier patterns. A part is a plain word, a "quoted" or a [bracketed]
// identifier.
const (
	identPart = `(?:[\p{L}_#@][\p{L}\p{N}_$#@]*|"[^"]*"|\[[^\]]*\])`
	qualified = identPart + `(?:\s*\.\s*` + identPart + `)*`
)

var (
	identRe      = regexp.MustCompile(`^` + identPart)
	qualifiedRe  = regexp.MustCompile(`^` + qualified)
	bareNameRe   = regexp.MustCompile(`^` + qualified + `$`)
	queryStartRe = regexp.MustCompile(`(?i)^\s*(?:SELECT|WITH)\b`)
	withRe       = regexp.MustCompile(`(?i)\bWITH\s+(?:RECURSIVE\s+)?`)
	withStartRe  = regexp.MustCompile(`(?i)^WITH\s+(?:RECURSIVE\s+)?`)
	cteRe        = regexp.MustCompile(`(?i)^(` + identPart + `)\s*(?:\([^()]*\)\s*)?AS\s*\(`)
	outerJoinRe  = regexp.MustCompile(`^\(\s*\+\s*\)`)
)

// text is one statement with a code-only copy (see script.CodeOnly) and the
// parenthesis depth of every byte. An opening parenthesis and its match
// carry the depth outside them.
type text struct {
	src   string
	code  string
	depth []int
}

func newText(src string) *text {
	code := script.CodeOnly(src)
	depth := make([]int, len(code)+1)
	d := 0
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case '(':
			depth[i] = d
			d++
		case ')':
			if d > 0 {
				d--
			}
			depth[i] = d
		default:
			depth[i] = d
		}
	}
	depth[len(code)] = d
	return &text{src: src, code: code, depth: depth}
}

func (t *text) len() int {
	return len(t.code)
}

// find returns the bounds of the first match of re in [from, to) that
// starts at depth d, or -1, -1.
func (t *text) find(re *regexp.Regexp, from, to, d int) (int, int) {
	if from >= to {
		return -1, -1
	}
	for _, m := range re.FindAllStringIndex(t.code[from:to], -1) {
		if t.depth[from+m[0]] == d {
			return from + m[0], from + m[1]
		}
	}
	return -1, -1
}

// at matches an anchored re at i, bounded by to, and returns the submatch
// indexes in statement coordinates.
func (t *text) at(re *regexp.Regexp, i, to int) []int {
	if i > to {
		return nil
	}
	m := re.FindStringSubmatchIndex(t.code[i:to])
	if m == nil {
		return nil
	}
	for k := range m {
		if m[k] >= 0 {
			m[k] += i
		}
	}
	return m
}

func (t *text) skipSpace(i, to int) int {
	for i < to && isSpaceByte(t.code[i]) {
		i++
	}
	return i
}

// closing returns the parenthesis matching the one at open, or -1 when it
// is missing or at or beyond to.
func (t *text) closing(open, to int) int {
	c := script.MatchParen(t.code, open)
	if c < 0 || c >= to {
		return -1
	}
	return c
}

// enclosing returns the innermost opening parenthesis around i, or -1.
func (t *text) enclosing(i int) int {
	d := t.depth[i]
	if d == 0 {
		return -1
	}
	for j := i - 1; j >= 0; j-- {
		if t.code[j] == '(' && t.depth[j] == d-1 {
			return j
		}
	}
	return -1
}

// isQuery reports whether the parenthesis at open starts a subquery.
func (t *text) isQuery(open int) bool {
	return queryStartRe.MatchString(t.code[open+1:])
}

// wordBefore returns the word ending just before i, skipping whitespace.
func (t *text) wordBefore(i int) string {
	j := i
	for j > 0 && isSpaceByte(t.code[j-1]) {
		j--
	}
	k := j
	for k > 0 && isIdentByte(t.code[k-1]) {
		k--
	}
	return t.code[k:j]
}

// boundary returns the first comma or join keyword at depth d in
// [from, to), or to.
func (t *text) boundary(from, to, d int) int {
	for i := from; i < to; i++ {
		if t.depth[i] != d {
			continue
		}
		c := t.code[i]
		if c == ',' {
			return i
		}
		if isIdentByte(c) && (i == 0 || !isIdentByte(t.code[i-1])) && joinRe.MatchString(t.code[i:to]) {
			return i
		}
	}
	return to
}

// cteList parses "name [(cols)] AS (query) {, ...}" starting at i, adds the
// names to into and returns the offset after the last query.
func (t *text) cteList(i int, into map[string]bool) int {
	n := t.len()
	end := i
	for {
		i = t.skipSpace(i, n)
		m := t.at(cteRe, i, n)
		if m == nil {
			return end
		}
		c := t.closing(m[1]-1, n)
		if c < 0 {
			return end
		}
		if into != nil {
			into[graph.NormalizeName(t.src[m[2]:m[3]])] = true
		}
		end = c + 1
		i = t.skipSpace(end, n)
		if i >= n || t.code[i] != ',' {
			return end
		}
		i++
	}
}

// ctes collects the names of every common table expression in the
// statement.
func (t *text) ctes() map[string]bool {
	names := make(map[string]bool)
	for _, m := range withRe.FindAllStringIndex(t.code, -1) {
		t.cteList(m[1], names)
	}
	return names
}

// parts splits [from, to) at top-level commas and returns the non-empty
// parts in statement coordinates.
func (t *text) parts(from, to int) []script.Range {
	var out []script.Range
	for _, r := range script.SplitTopLevel(t.code[from:to]) {
		if r.Start < r.End {
			out = append(out, script.Range{Start: from + r.Start, End: from + r.End})
		}
	}
	return out
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '$' || c == '#' || c == '@' || c >= 0x80
}

// reserved reports whether word is a reserved keyword.
func reserved(word string) bool {
	return lexer.IsKeyword(lexer.LookupIdent(word))
}

func quotedIdent(w string) bool {
	return strings.HasPrefix(w, `"`) || strings.HasPrefix(w, "[")
}

// canAlias reports whether w may act as an alias.
func canAlias(w string) bool {
	return quotedIdent(w) || sqlparse.CanBeAlias(w)
}
