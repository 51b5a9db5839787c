package extract

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/etlgraph/internal/classify"
	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/script"
	"github.com/leapstack-labs/etlgraph/internal/sqlparse"
	"github.com/leapstack-labs/etlgraph/internal/typemap"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

var (
	fromRe    = regexp.MustCompile(`(?i)\bFROM\b`)
	fromEndRe = regexp.MustCompile(`(?i)\b(?:WHERE|GROUP|HAVING|ORDER|UNION|INTERSECT|EXCEPT|MINUS|CONNECT\s+BY|START\s+WITH|MODEL|WINDOW|QUALIFY|FETCH|OFFSET|LIMIT|FOR\s+UPDATE|INTO|RETURNING|OPTION\s*\(|LOG\s+ERRORS|PIVOT|UNPIVOT|SELECT|INSERT|UPDATE|DELETE|MERGE)\b|;`)
	joinRe    = regexp.MustCompile(`(?i)^(NATURAL\s+)?(?:(INNER|CROSS|LEFT|RIGHT|FULL)(?:\s+OUTER)?\s+)?JOIN\b`)
	onRe      = regexp.MustCompile(`(?i)^ON\b`)
	usingRe   = regexp.MustCompile(`(?i)^USING\s*\(`)
	asAliasRe = regexp.MustCompile(`(?i)^AS\s+(` + identPart + `)`)
	optionRe  = regexp.MustCompile(`(?i)^(?:PARTITION|SAMPLE|WITH)\s*\(`)

	setOpRe     = regexp.MustCompile(`(?i)\b(?:UNION(?:\s+(?:ALL|DISTINCT))?|INTERSECT|EXCEPT|MINUS)\b`)
	selectRe    = regexp.MustCompile(`(?i)^SELECT\b`)
	quantRe     = regexp.MustCompile(`(?i)^\s*(?:DISTINCT|UNIQUE|ALL)\b`)
	topRe       = regexp.MustCompile(`(?i)^\s*TOP\s*(?:\([^()]*\)|\d+)(?:\s+PERCENT)?(?:\s+WITH\s+TIES)?`)
	selectEndRe = regexp.MustCompile(`(?i)\b(?:BULK\s+COLLECT\s+INTO|INTO|FROM|WHERE|GROUP\s+BY|HAVING|ORDER\s+BY|UNION|INTERSECT|EXCEPT|MINUS|CONNECT\s+BY|START\s+WITH|FOR\s+UPDATE|OFFSET|FETCH|OPTION)\b`)
	intoEndRe   = regexp.MustCompile(`(?i)\bFROM\b`)
	groupByRe   = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)

	starRe         = regexp.MustCompile(`^(?:` + qualified + `\s*\.\s*)?\*$`)
	eqAliasRe      = regexp.MustCompile(`^(` + identPart + `)\s*=`)
	asSuffixRe     = regexp.MustCompile(`(?i)\s+AS\s+(` + identPart + `)\s*$`)
	trailingNameRe = regexp.MustCompile(`\s(` + identPart + `)\s*$`)

	callRe   = regexp.MustCompile(qualified + `\s*\(`)
	suffixRe = regexp.MustCompile(`(?i)^\s*(?:(KEEP)\s*\(|(WITHIN)\s+GROUP\s*\(|(?:IGNORE|RESPECT)\s+NULLS\b|(OVER)\s*(\(|` + identPart + `))`)

	insertRe      = regexp.MustCompile(`(?i)^INSERT\s+(?:INTO\s+)?(` + qualified + `)`)
	insertMultiRe = regexp.MustCompile(`(?i)^INSERT\s+(?:ALL|FIRST)\b`)
	intoClauseRe  = regexp.MustCompile(`(?i)\bINTO\s+(` + qualified + `)`)
	queryKwRe     = regexp.MustCompile(`(?i)\b(?:SELECT|WITH)\b`)
	valuesRe      = regexp.MustCompile(`(?i)^VALUES\s*\(`)
	updateRe      = regexp.MustCompile(`(?i)^UPDATE\s+(` + qualified + `)`)
	setRe         = regexp.MustCompile(`(?i)^SET\b`)
	setEndRe      = regexp.MustCompile(`(?i)\b(?:FROM|WHERE|RETURNING|OUTPUT)\b`)
	tupleSetRe    = regexp.MustCompile(`^\(([^()]*)\)\s*=`)
	columnSetRe   = regexp.MustCompile(`^(` + qualified + `)\s*=`)
	deleteRe      = regexp.MustCompile(`(?i)^DELETE\s+(?:FROM\s+)?(` + qualified + `)`)
	mergeRe       = regexp.MustCompile(`(?i)^MERGE\s+(?:INTO\s+)?(` + qualified + `)`)
	mergeUsingRe  = regexp.MustCompile(`(?i)^USING\b`)
	whenMatchedRe = regexp.MustCompile(`(?i)\bWHEN\s+(?:NOT\s+)?MATCHED\b`)
	thenRe        = regexp.MustCompile(`(?i)\bTHEN\b`)
	updateSetRe   = regexp.MustCompile(`(?i)^UPDATE\s+SET\b`)
	mergeInsRe    = regexp.MustCompile(`(?i)^INSERT\b`)
	mergeSetEndRe = regexp.MustCompile(`(?i)\b(?:WHERE|DELETE)\b|\bWHEN\s+(?:NOT\s+)?MATCHED\b`)

	createRe           = regexp.MustCompile(`(?i)^CREATE\s+(?:(?:GLOBAL|LOCAL|PRIVATE)\s+)?(?:(?:TEMPORARY|TEMP)\s+)?TABLE\s+(` + qualified + `)`)
	ctasRe             = regexp.MustCompile(`(?i)\bAS\s*(?:SELECT\b|WITH\b|\()`)
	tableConstraintRe  = regexp.MustCompile(`(?i)^(?:CONSTRAINT|PRIMARY|UNIQUE|FOREIGN|CHECK|INDEX|KEY)\b`)
	columnConstraintRe = regexp.MustCompile(`(?i)\b(?:NOT|NULL|DEFAULT|CONSTRAINT|PRIMARY|UNIQUE|REFERENCES|CHECK|IDENTITY|GENERATED|COLLATE|ENABLE|DISABLE|VISIBLE|INVISIBLE|ENCRYPT|SORT)\b`)
)

// Pattern extracts facts from statement text with regular expressions over
// the comment- and literal-blanked code. It serves scripts the structured
// parser rejects.
type Pattern struct {
	pack *rules.Pack
	cls  *classify.Classifier
}

// NewPattern creates a pattern path.
func NewPattern(pack *rules.Pack) *Pattern {
	return &Pattern{pack: pack, cls: classify.New(pack)}
}

// Name returns "pattern".
func (p *Pattern) Name() string {
	return PathPattern
}

// Extract scans one statement.
func (p *Pattern) Extract(stmt script.Statement) Facts {
	t := newText(stmt.Text)
	s := &scanner{
		collector: newCollector(p.cls),
		pack:      p.pack,
		t:         t,
		ctes:      t.ctes(),
		aliases:   make(map[string]string),
		tablePos:  make(map[int]bool),
		callsTo:   t.len(),
	}

	n := t.len()
	start := t.skipSpace(0, n)
	if stmt.Kind != script.StmtSelect {
		// T-SQL: WITH ... INSERT/UPDATE/DELETE/MERGE
		if m := t.at(withStartRe, start, n); m != nil {
			start = t.skipSpace(t.cteList(m[1], nil), n)
		}
	}

	s.froms()
	switch stmt.Kind {
	case script.StmtSelect:
		s.selectStmt(start)
	case script.StmtInsert:
		s.insert(start)
	case script.StmtUpdate:
		s.update(start)
	case script.StmtDelete:
		s.delete(start)
	case script.StmtMerge:
		s.merge(start)
	case script.StmtCreateTable:
		s.createTable(start)
	}
	s.noteCalls()
	return s.facts(stmt.Kind)
}

// scanner collects facts from one statement's text.
type scanner struct {
	collector
	pack *rules.Pack
	t    *text
	ctes map[string]bool
	// aliases maps aliases of top-level FROM lists to the table name as
	// written.
	aliases map[string]string
	// tablePos holds the offsets of names in table position, which are never
	// function calls.
	tablePos map[int]bool
	callsTo  int
}

// ---------- FROM lists ----------

// froms records the tables and joins of every FROM list. FROM inside
// function arguments (EXTRACT, TRIM) and the FROM of DELETE FROM are
// skipped.
func (s *scanner) froms() {
	t := s.t
	for _, m := range fromRe.FindAllStringIndex(t.code, -1) {
		pos := m[0]
		if strings.EqualFold(t.wordBefore(pos), "DELETE") {
			continue
		}
		d := t.depth[pos]
		end := t.len()
		if d > 0 {
			open := t.enclosing(pos)
			if open < 0 || !t.isQuery(open) {
				continue
			}
			if c := script.MatchParen(t.code, open); c >= 0 {
				end = c
			}
		}
		if a, _ := t.find(fromEndRe, m[1], end, d); a >= 0 {
			end = a
		}
		s.fromList(m[1], end, d)
	}
}

// fromList reads "source {(, | join) source [ON cond | USING (cols)]}" in
// [from, to) at depth d.
func (s *scanner) fromList(from, to, d int) {
	t := s.t
	left, i := s.tableRef(from, to)
	for {
		i = t.skipSpace(i, to)
		if i >= to {
			return
		}
		var joinType string
		if t.code[i] == ',' {
			joinType = string(sqlparse.JoinImplicit)
			i++
		} else if m := t.at(joinRe, i, to); m != nil {
			joinType = joinTypeOf(t.code, m)
			i = m[1]
		} else {
			i = t.boundary(i+1, to, d)
			continue
		}

		right, j := s.tableRef(i, to)
		j = t.skipSpace(j, to)
		cond := ""
		if m := t.at(onRe, j, to); m != nil {
			end := t.boundary(m[1], to, d)
			cond = cleanText(t.src[m[1]:end])
			j = end
		} else if m := t.at(usingRe, j, to); m != nil {
			if c := t.closing(m[1]-1, to); c >= 0 {
				cond = cleanText(t.src[j : c+1])
				j = c + 1
			}
		}
		i = j
		if left != "" && right != "" {
			s.joins = append(s.joins, Join{Left: left, Right: right, Type: joinType, Condition: cond})
		}
	}
}

func joinTypeOf(code string, m []int) string {
	jt := sqlparse.JoinInner
	switch {
	case m[2] >= 0:
		jt = sqlparse.JoinNatural
	case m[4] < 0:
	case strings.EqualFold(code[m[4]:m[5]], "LEFT"):
		jt = sqlparse.JoinLeft
	case strings.EqualFold(code[m[4]:m[5]], "RIGHT"):
		jt = sqlparse.JoinRight
	case strings.EqualFold(code[m[4]:m[5]], "FULL"):
		jt = sqlparse.JoinFull
	case strings.EqualFold(code[m[4]:m[5]], "CROSS"):
		jt = sqlparse.JoinCross
	}
	return string(jt)
}

// tableRef reads one source of a FROM list and returns the normalized table
// name, or "" for derived tables, table functions, CTEs and built-ins.
func (s *scanner) tableRef(i, to int) (string, int) {
	t := s.t
	i = t.skipSpace(i, to)
	if i >= to {
		return "", to
	}
	if t.code[i] == '(' {
		c := t.closing(i, to)
		if c < 0 {
			return "", to
		}
		_, next := s.alias(c+1, to)
		return "", next
	}
	m := t.at(qualifiedRe, i, to)
	if m == nil {
		return "", i
	}
	raw := t.src[m[0]:m[1]]
	if j := t.skipSpace(m[1], to); j < to && t.code[j] == '(' {
		c := t.closing(j, to)
		if c < 0 {
			return "", to
		}
		_, next := s.alias(c+1, to)
		return "", next
	}
	s.tablePos[m[0]] = true

	j := s.skipOptions(m[1], to)
	alias, j := s.alias(j, to)
	j = s.skipOptions(j, to)
	if alias != "" && t.depth[i] == 0 {
		s.aliases[graph.NormalizeName(alias)] = raw
	}

	name := graph.NormalizeName(raw)
	if s.ctes[name] || !s.cls.IsTable(raw) {
		return "", j
	}
	s.reads[name] = true
	return name, j
}

// alias reads an optional [AS] alias.
func (s *scanner) alias(i, to int) (string, int) {
	t := s.t
	i = t.skipSpace(i, to)
	if m := t.at(asAliasRe, i, to); m != nil {
		return t.src[m[2]:m[3]], m[1]
	}
	if m := t.at(identRe, i, to); m != nil {
		if w := t.src[m[0]:m[1]]; canAlias(w) {
			return w, m[1]
		}
	}
	return "", i
}

// skipOptions skips PARTITION (...), SAMPLE (...) and WITH (hints).
func (s *scanner) skipOptions(i, to int) int {
	t := s.t
	for {
		m := t.at(optionRe, t.skipSpace(i, to), to)
		if m == nil {
			return i
		}
		c := t.closing(m[1]-1, to)
		if c < 0 {
			return to
		}
		i = c + 1
	}
}

// ---------- Queries ----------

// query is what a query contributes to a write.
type query struct {
	branches    [][]item
	into        []string
	bulk        bool
	aggregating bool
	seen        bool
}

// query reads the query in [from, to) at depth d: an optional WITH clause
// and one or more terms joined by set operators.
func (s *scanner) query(from, to, d int) query {
	t := s.t
	from = t.skipSpace(from, to)
	if m := t.at(withStartRe, from, to); m != nil {
		from = t.cteList(m[1], nil)
	}
	var q query
	for start := from; start < to; {
		end, next := to, to
		if a, b := t.find(setOpRe, start, to, d); a >= 0 {
			end, next = a, b
		}
		s.term(start, end, d, &q)
		start = next
	}
	return q
}

// term reads one SELECT of a query, or a parenthesized query.
func (s *scanner) term(from, to, d int, q *query) {
	t := s.t
	r := script.Trim(t.code, script.Range{Start: from, End: to})
	if r.Start >= r.End {
		return
	}
	if t.code[r.Start] == '(' {
		if c := t.closing(r.Start, r.End); c >= 0 {
			sub := s.query(r.Start+1, c, d+1)
			if !q.seen {
				q.into, q.bulk = sub.into, sub.bulk
			}
			q.seen = q.seen || sub.seen
			q.branches = append(q.branches, sub.branches...)
			q.aggregating = q.aggregating || sub.aggregating
			return
		}
	}
	m := t.at(selectRe, r.Start, r.End)
	if m == nil {
		return
	}
	i := m[1]
	if qm := t.at(quantRe, i, r.End); qm != nil {
		i = qm[1]
	}
	if tm := t.at(topRe, i, r.End); tm != nil {
		i = tm[1]
	}

	listEnd := r.End
	a, b := t.find(selectEndRe, i, r.End, d)
	if a >= 0 {
		listEnd = a
	}
	var items []item
	for _, p := range t.parts(i, listEnd) {
		it, window := s.selectItem(p.Start, p.End)
		items = append(items, it)
		if it.kind == graph.Aggregate || window {
			q.aggregating = true
		}
	}

	if a >= 0 && strings.HasSuffix(strings.ToUpper(t.code[a:b]), "INTO") && !q.seen {
		q.bulk = strings.HasPrefix(strings.ToUpper(t.code[a:b]), "BULK")
		intoEnd := r.End
		if x, _ := t.find(intoEndRe, b, r.End, d); x >= 0 {
			intoEnd = x
		}
		for _, p := range t.parts(b, intoEnd) {
			q.into = append(q.into, t.src[p.Start:p.End])
		}
	}
	if x, _ := t.find(groupByRe, listEnd, r.End, d); x >= 0 {
		q.aggregating = true
	}
	q.seen = true
	q.branches = append(q.branches, items)
}

// selectItem reads "*", "t.*", "alias = expr" or "expr [[AS] alias]".
func (s *scanner) selectItem(a, b int) (item, bool) {
	t := s.t
	code := t.code[a:b]
	if starRe.MatchString(code) {
		return item{expr: cleanText(t.src[a:b]), star: true}, false
	}
	if m := t.at(eqAliasRe, a, b); m != nil && !reserved(t.src[m[2]:m[3]]) {
		it, window := s.exprItem(m[1], b)
		it.name = t.src[m[2]:m[3]]
		return it, window
	}

	end, name := b, ""
	if m := asSuffixRe.FindStringSubmatchIndex(code); m != nil {
		end, name = a+m[0], t.src[a+m[2]:a+m[3]]
	} else if m := trailingNameRe.FindStringSubmatchIndex(code); m != nil {
		w := t.src[a+m[2] : a+m[3]]
		before := strings.TrimRight(code[:m[2]], " \t\r\n\f")
		if before != "" && canAlias(w) && aliasFollows(before) {
			end, name = a+len(before), w
		}
	}
	it, window := s.exprItem(a, end)
	if name != "" {
		it.name = name
	}
	return it, window
}

// aliasFollows reports whether an alias may follow expression text ending in
// before: a word that is not a reserved keyword (END and NULL excepted), a
// number, a closing parenthesis, a quoted identifier or a string.
func aliasFollows(before string) bool {
	last := before[len(before)-1]
	if strings.IndexByte(`)"]'`, last) >= 0 {
		return true
	}
	if !isIdentByte(last) {
		return false
	}
	k := len(before)
	for k > 0 && isIdentByte(before[k-1]) {
		k--
	}
	word := before[k:]
	return !reserved(word) || strings.EqualFold(word, "END") || strings.EqualFold(word, "NULL")
}

// exprItem classifies the expression in [a, b). The second result reports an
// analytic call.
func (s *scanner) exprItem(a, b int) (item, bool) {
	t := s.t
	src := t.src[a:b]
	it := item{expr: cleanText(src), kind: graph.Transformed}
	if !script.Balanced(src) {
		it.low = true
		s.diags = append(s.diags, warning("malformed expression %q treated as opaque", it.expr))
		return it, false
	}
	code := strings.TrimSpace(t.code[a:b])
	if bareNameRe.MatchString(code) && !reserved(identRe.FindString(code)) {
		it.name = code
		if !s.pack.IsBuiltin(code) {
			it.kind = graph.Direct
		}
		return it, false
	}
	window := false
	for _, c := range s.calls(a, b, false) {
		switch {
		case c.over:
			window = true
		case s.pack.IsAggregate(c.name):
			it.kind = graph.Aggregate
		}
	}
	return it, window
}

func (s *scanner) exprItems(a, b int) []item {
	var items []item
	for _, p := range s.t.parts(a, b) {
		it, _ := s.exprItem(p.Start, p.End)
		items = append(items, it)
	}
	return items
}

// names returns the trimmed comma-separated names in [a, b).
func (s *scanner) names(a, b int) []string {
	var out []string
	for _, p := range s.t.parts(a, b) {
		out = append(out, s.t.src[p.Start:p.End])
	}
	return out
}

// ---------- Calls ----------

type call struct {
	name string
	over bool
}

// calls finds the function calls in [a, b). Subqueries are skipped unless
// descend is set; analytic clauses are always skipped.
func (s *scanner) calls(a, b int, descend bool) []call {
	t := s.t
	var skips []script.Range
	if !descend {
		for i := a; i < b; i++ {
			if t.code[i] == '(' && t.isQuery(i) {
				if c := t.closing(i, b); c >= 0 {
					skips = append(skips, script.Range{Start: i, End: c})
				}
			}
		}
	}
	skipped := func(i int) bool {
		for _, r := range skips {
			if i >= r.Start && i <= r.End {
				return true
			}
		}
		return false
	}

	var out []call
	for _, m := range callRe.FindAllStringIndex(t.code[a:b], -1) {
		start, open := a+m[0], a+m[1]-1
		if skipped(start) || s.tablePos[start] || (start > 0 && t.code[start-1] == '.') {
			continue
		}
		name := strings.TrimRight(t.src[start:open], " \t\r\n\f")
		if first := identRe.FindString(name); first == name && reserved(name) &&
			!strings.EqualFold(name, "LEFT") && !strings.EqualFold(name, "RIGHT") {
			continue
		}
		if t.at(outerJoinRe, open, b) != nil || strings.EqualFold(t.wordBefore(start), "AS") ||
			s.ctes[graph.NormalizeName(name)] {
			continue
		}

		c := call{name: name}
		j := t.closing(open, b)
		for j >= 0 {
			sm := t.at(suffixRe, j+1, b)
			if sm == nil {
				break
			}
			switch {
			case sm[2] >= 0 || sm[4] >= 0:
				cl := t.closing(sm[1]-1, b)
				if cl >= 0 {
					skips = append(skips, script.Range{Start: sm[0], End: cl})
				}
				j = cl
			case sm[6] >= 0:
				c.over = true
				if t.code[sm[8]] == '(' {
					cl := t.closing(sm[8], b)
					if cl >= 0 {
						skips = append(skips, script.Range{Start: sm[0], End: cl})
					}
					j = cl
				} else {
					j = sm[1] - 1
				}
			default:
				j = sm[1] - 1
			}
		}
		out = append(out, c)
	}
	return out
}

// noteCalls reports functions the rule pack does not know.
func (s *scanner) noteCalls() {
	for _, c := range s.calls(0, s.callsTo, true) {
		if s.pack.IsAggregate(c.name) {
			continue
		}
		if s.cls.Classify(c.name, classify.Call).LowConfidence {
			s.noteCall(c.name)
		}
	}
}

// ---------- Statements ----------

func (s *scanner) selectStmt(i int) {
	q := s.query(i, s.t.len(), 0)
	s.aggregating = q.aggregating
	if !s.pack.SelectIntoCreatesTable || len(q.into) != 1 || q.bulk {
		return
	}
	raw := strings.TrimSpace(q.into[0])
	if isVariable(raw) {
		return
	}
	if target, ok := s.target(raw); ok {
		lb := lineageBuilder{table: target, diags: &s.diags}
		s.writes = append(s.writes, Write{Table: target, Lineage: lb.project(nil, q.branches)})
	}
}

// columnList reads an optional "(col, ...)" at i that is not a subquery.
func (s *scanner) columnList(i, to int) ([]string, int) {
	t := s.t
	i = t.skipSpace(i, to)
	if i >= to || t.code[i] != '(' || t.isQuery(i) {
		return nil, i
	}
	c := t.closing(i, to)
	if c < 0 {
		return nil, i
	}
	return s.names(i+1, c), t.skipSpace(c+1, to)
}

// values reads "VALUES (row)" at i and returns the first row.
func (s *scanner) values(i, to int) ([]item, int, bool) {
	t := s.t
	m := t.at(valuesRe, i, to)
	if m == nil {
		return nil, i, false
	}
	c := t.closing(m[1]-1, to)
	if c < 0 {
		return nil, to, false
	}
	return s.exprItems(m[1], c), c + 1, true
}

func (s *scanner) insert(i int) {
	t := s.t
	n := t.len()
	if t.at(insertMultiRe, i, n) != nil {
		s.insertMulti(i)
		return
	}
	m := t.at(insertRe, i, n)
	if m == nil {
		return
	}
	raw := t.src[m[2]:m[3]]
	s.tablePos[m[2]] = true
	j := s.skipOptions(m[1], n)
	_, j = s.alias(j, n)
	columns, j := s.columnList(j, n)

	target, ok := s.target(raw)
	lb := lineageBuilder{table: target, diags: &s.diags}
	var lineage []graph.ColumnLineage
	if row, _, found := s.values(j, n); found {
		lineage = lb.project(columns, [][]item{row})
	} else {
		q := s.query(j, n, 0)
		s.aggregating = q.aggregating
		lineage = lb.project(columns, q.branches)
	}
	if ok {
		s.writes = append(s.writes, Write{Table: target, Lineage: lineage})
	}
}

// insertMulti handles INSERT ALL / INSERT FIRST: one write per INTO clause,
// fed by the query that follows the last clause.
func (s *scanner) insertMulti(i int) {
	t := s.t
	n := t.len()
	type clause struct {
		raw     string
		columns []string
		row     []item
		values  bool
	}
	var clauses []clause
	pos := i
	for {
		a, _ := t.find(intoClauseRe, pos, n, 0)
		if a < 0 {
			break
		}
		m := t.at(intoClauseRe, a, n)
		s.tablePos[m[2]] = true
		cl := clause{raw: t.src[m[2]:m[3]]}
		var j int
		cl.columns, j = s.columnList(m[1], n)
		cl.row, j, cl.values = s.values(j, n)
		clauses = append(clauses, cl)
		pos = max(j, m[1])
	}

	var q query
	if a, _ := t.find(queryKwRe, pos, n, 0); a >= 0 {
		q = s.query(a, n, 0)
		s.aggregating = q.aggregating
	}
	for _, cl := range clauses {
		target, ok := s.target(cl.raw)
		if !ok {
			continue
		}
		lb := lineageBuilder{table: target, diags: &s.diags}
		branches := q.branches
		if cl.values {
			branches = [][]item{cl.row}
		}
		s.writes = append(s.writes, Write{Table: target, Lineage: lb.project(cl.columns, branches)})
	}
}

func (s *scanner) update(i int) {
	t := s.t
	n := t.len()
	m := t.at(updateRe, i, n)
	if m == nil {
		return
	}
	raw := t.src[m[2]:m[3]]
	s.tablePos[m[2]] = true
	j := s.skipOptions(m[1], n)
	_, j = s.alias(j, n)
	sm := t.at(setRe, t.skipSpace(j, n), n)
	if sm == nil {
		return
	}
	end := n
	if a, _ := t.find(setEndRe, sm[1], n, 0); a >= 0 {
		end = a
	}
	set := s.assignments(sm[1], end)

	// T-SQL: UPDATE alias SET ... FROM table alias
	if resolved, ok := s.aliases[graph.NormalizeName(raw)]; ok {
		raw = resolved
	}
	if target, ok := s.target(raw); ok {
		lb := lineageBuilder{table: target, diags: &s.diags}
		s.writes = append(s.writes, Write{Table: target, Lineage: lb.assign(set)})
	}
}

// assignments reads "col = expr" and "(a, b) = expr" items in [a, b).
func (s *scanner) assignments(a, b int) []assignment {
	t := s.t
	var set []assignment
	for _, p := range t.parts(a, b) {
		if m := t.at(tupleSetRe, p.Start, p.End); m != nil {
			value, _ := s.exprItem(m[1], p.End)
			set = append(set, assignment{columns: s.names(m[2], m[3]), value: value})
			continue
		}
		if m := t.at(columnSetRe, p.Start, p.End); m != nil {
			value, _ := s.exprItem(m[1], p.End)
			set = append(set, assignment{columns: []string{t.src[m[2]:m[3]]}, value: value})
		}
	}
	return set
}

func (s *scanner) delete(i int) {
	t := s.t
	m := t.at(deleteRe, i, t.len())
	if m == nil {
		return
	}
	s.tablePos[m[2]] = true
	if target, ok := s.target(t.src[m[2]:m[3]]); ok {
		s.writes = append(s.writes, Write{Table: target})
	}
}

func (s *scanner) merge(i int) {
	t := s.t
	n := t.len()
	m := t.at(mergeRe, i, n)
	if m == nil {
		return
	}
	raw := t.src[m[2]:m[3]]
	s.tablePos[m[2]] = true
	j := s.skipOptions(m[1], n)
	_, j = s.alias(j, n)
	if um := t.at(mergeUsingRe, t.skipSpace(j, n), n); um != nil {
		_, j = s.tableRef(um[1], n)
	}

	var set []assignment
	var insertColumns []string
	var insertRow []item
	pos := j
	for {
		_, b := t.find(whenMatchedRe, pos, n, 0)
		if b < 0 {
			break
		}
		end := n
		if a, _ := t.find(whenMatchedRe, b, n, 0); a >= 0 {
			end = a
		}
		pos = end
		_, th := t.find(thenRe, b, end, 0)
		if th < 0 {
			continue
		}
		k := t.skipSpace(th, end)
		if um := t.at(updateSetRe, k, end); um != nil {
			setEnd := end
			if a, _ := t.find(mergeSetEndRe, um[1], end, 0); a >= 0 {
				setEnd = a
			}
			set = append(set, s.assignments(um[1], setEnd)...)
		} else if im := t.at(mergeInsRe, k, end); im != nil {
			columns, v := s.columnList(im[1], end)
			if row, _, ok := s.values(v, end); ok {
				insertColumns, insertRow = columns, row
			}
		}
	}

	target, ok := s.target(raw)
	if !ok {
		return
	}
	lb := lineageBuilder{table: target, diags: &s.diags}
	lineage := lb.assign(set)
	if len(insertRow) > 0 {
		lineage = combine(lineage, lb.project(insertColumns, [][]item{insertRow}))
	}
	s.writes = append(s.writes, Write{Table: target, Lineage: lineage})
}

func (s *scanner) createTable(i int) {
	t := s.t
	n := t.len()
	m := t.at(createRe, i, n)
	if m == nil {
		return
	}
	raw := t.src[m[2]:m[3]]
	s.tablePos[m[2]] = true
	target, ok := s.target(raw)
	write := Write{Table: target}
	lb := lineageBuilder{table: target, diags: &s.diags}

	from := m[1]
	j := t.skipSpace(from, n)
	var names []string
	if j < n && t.code[j] == '(' {
		c := t.closing(j, n)
		if c < 0 {
			return
		}
		from = c + 1
		if a, _ := t.find(ctasRe, from, n, 0); a < 0 {
			write.Columns = s.columnDefs(j+1, c, t.depth[j]+1)
			s.callsTo = 0
		} else {
			for _, p := range t.parts(j+1, c) {
				if nm := t.at(qualifiedRe, p.Start, p.End); nm != nil {
					names = append(names, t.src[nm[0]:nm[1]])
				}
			}
		}
	}
	if a, _ := t.find(ctasRe, from, n, 0); a >= 0 {
		q := s.query(a+len("AS"), n, 0)
		s.aggregating = q.aggregating
		write.Lineage = lb.project(names, q.branches)
	}
	if ok {
		s.writes = append(s.writes, write)
	}
}

// columnDefs reads the column definitions of CREATE TABLE, skipping
// out-of-line constraints.
func (s *scanner) columnDefs(a, b, d int) []graph.Column {
	t := s.t
	var cols []graph.Column
	for _, p := range t.parts(a, b) {
		if t.at(tableConstraintRe, p.Start, p.End) != nil {
			continue
		}
		m := t.at(qualifiedRe, p.Start, p.End)
		if m == nil {
			continue
		}
		typeEnd := p.End
		if x, _ := t.find(columnConstraintRe, m[1], p.End, d); x >= 0 {
			typeEnd = x
		}
		declared := strings.Join(strings.Fields(t.src[m[1]:typeEnd]), " ")
		cols = append(cols, graph.Column{
			Name:          targetName(t.src[m[0]:m[1]]),
			DeclaredType:  declared,
			CanonicalType: typemap.Canonical(declared),
		})
	}
	return cols
}
