// Package annotate derives the metadata of operation nodes from procedural
// blocks: the task name and whether the block handles errors. Neither
// annotation changes the facts extracted from the block.
package annotate

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/leapstack-labs/etlgraph/internal/extract"
	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/script"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// Task is the name given to one block.
type Task struct {
	Name     string
	Explicit bool
	// Rule is the task rule that produced a synthesized name, "stem" or
	// "fallback". Empty for explicit names.
	Rule string
}

// Origins of synthesized names that do not come from a task rule.
const (
	OriginStem     = "stem"
	OriginFallback = "fallback"
)

// Block pairs a block with the facts of its statements, in statement order.
type Block struct {
	Block *script.Block
	Facts []extract.Facts
}

var placeholderRe = regexp.MustCompile(`\{(name|target|source)\}`)

// Name assigns a task name to every block of one script, in order:
//
//  1. a marker comment just before the block or in its header;
//  2. the first task rule of the pack whose construct is present and whose
//     template placeholders can all be filled;
//  3. the stem of sourceID;
//  4. unnamed_task_<ordinal>.
//
// Synthesized names are made unique within the script with _2, _3, ...
// suffixes. Explicit names are never changed, so blocks sharing one explicit
// name share one operation.
func Name(blocks []Block, sourceID string, pack *rules.Pack) []Task {
	tasks := make([]Task, len(blocks))
	used := make(map[string]bool)
	for i, b := range blocks {
		if name, ok := marker(b.Block, pack); ok {
			tasks[i] = Task{Name: name, Explicit: true}
			used[name] = true
		}
	}

	stem := Stem(sourceID)
	for i, b := range blocks {
		if tasks[i].Explicit {
			continue
		}
		name, rule := synthesize(b, pack)
		switch {
		case name != "":
		case stem != "":
			name, rule = stem, OriginStem
		default:
			name, rule = fmt.Sprintf("unnamed_task_%d", b.Block.Ordinal), OriginFallback
		}
		tasks[i] = Task{Name: unique(name, used), Rule: rule}
	}
	return tasks
}

// unique returns name, or name_<n> for the smallest n >= 2 not yet used,
// and marks the result as used.
func unique(name string, used map[string]bool) string {
	out := name
	for n := 2; used[out]; n++ {
		out = fmt.Sprintf("%s_%d", name, n)
	}
	used[out] = true
	return out
}

// marker returns the task name declared by a marker comment. Leading
// comments are searched from the one closest to the block; header comments
// from the top.
func marker(b *script.Block, pack *rules.Pack) (string, bool) {
	for i := len(b.Leading) - 1; i >= 0; i-- {
		if name, ok := matchMarker(b.Leading[i].Text, pack); ok {
			return name, true
		}
	}
	for _, c := range b.Header {
		if name, ok := matchMarker(c.Text, pack); ok {
			return name, true
		}
	}
	return "", false
}

func matchMarker(text string, pack *rules.Pack) (string, bool) {
	for _, re := range pack.Markers() {
		if m := re.FindStringSubmatch(text); m != nil && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}

// Stem returns the file name of sourceID without directory or extension.
func Stem(sourceID string) string {
	if sourceID == "" {
		return ""
	}
	base := path.Base(strings.ReplaceAll(sourceID, `\`, "/"))
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// synthesize applies the task rules of the pack.
func synthesize(b Block, pack *rules.Pack) (string, string) {
	for _, r := range pack.TaskRules {
		vars, ok := construct(r.Match, b)
		if !ok {
			continue
		}
		if name, ok := fill(r.Template, vars); ok {
			return name, r.Match
		}
	}
	return "", ""
}

// fill expands a template. It fails when a placeholder has no value.
func fill(template string, vars map[string]string) (string, bool) {
	ok := true
	out := placeholderRe.ReplaceAllStringFunc(template, func(p string) string {
		v := vars[p[1:len(p)-1]]
		if v == "" {
			ok = false
		}
		return v
	})
	return out, ok
}

// construct reports whether a block contains the construct a task rule
// matches, and returns the placeholder values it provides.
func construct(match string, b Block) (map[string]string, bool) {
	switch match {
	case rules.MatchDeclared:
		if b.Block.Name == "" {
			return nil, false
		}
		return map[string]string{"name": graph.Unquote(graph.ShortName(graph.NormalizeName(b.Block.Name)))}, true
	case rules.MatchCursorLoop:
		if !b.Block.HasCursor && !anyCursor(b.Block) {
			return nil, false
		}
		return firstWrite(b.Facts, func(extract.Facts) bool { return true })
	case rules.MatchCreateTable:
		return firstWrite(b.Facts, kindIs(script.StmtCreateTable))
	case rules.MatchMerge:
		return firstWrite(b.Facts, kindIs(script.StmtMerge))
	case rules.MatchAggregateLoad:
		return firstWrite(b.Facts, func(f extract.Facts) bool {
			return f.Kind == script.StmtInsert && f.Aggregating
		})
	case rules.MatchLoad:
		return firstWrite(b.Facts, func(f extract.Facts) bool {
			return f.Kind == script.StmtInsert || f.Kind == script.StmtSelect
		})
	case rules.MatchUpdate:
		return firstWrite(b.Facts, kindIs(script.StmtUpdate))
	case rules.MatchDelete:
		return firstWrite(b.Facts, kindIs(script.StmtDelete))
	case rules.MatchAnalyticalQuery:
		return firstRead(b.Facts, func(f extract.Facts) bool {
			return f.Kind == script.StmtSelect && f.Aggregating
		})
	case rules.MatchQuery:
		return firstRead(b.Facts, kindIs(script.StmtSelect))
	}
	return nil, false
}

func kindIs(kind script.StmtKind) func(extract.Facts) bool {
	return func(f extract.Facts) bool { return f.Kind == kind }
}

func anyCursor(b *script.Block) bool {
	for _, s := range b.Statements {
		if s.Cursor {
			return true
		}
	}
	return false
}

// firstWrite finds the first statement accepted by keep and provides its
// first written table as {target} and first read table as {source}.
func firstWrite(facts []extract.Facts, keep func(extract.Facts) bool) (map[string]string, bool) {
	for _, f := range facts {
		if !keep(f) || len(f.Writes) == 0 {
			continue
		}
		vars := map[string]string{"target": graph.Unquote(graph.ShortName(f.Writes[0].Table))}
		if len(f.Reads) > 0 {
			vars["source"] = graph.Unquote(graph.ShortName(f.Reads[0]))
		}
		return vars, true
	}
	return nil, false
}

// firstRead is firstWrite for statements that only read.
func firstRead(facts []extract.Facts, keep func(extract.Facts) bool) (map[string]string, bool) {
	for _, f := range facts {
		if !keep(f) || len(f.Reads) == 0 {
			continue
		}
		vars := map[string]string{"source": graph.Unquote(graph.ShortName(f.Reads[0]))}
		if len(f.Writes) > 0 {
			vars["target"] = graph.Unquote(graph.ShortName(f.Writes[0].Table))
		}
		return vars, true
	}
	return nil, false
}
