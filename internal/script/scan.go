package script

import "strings"

// Range is a half-open byte range [Start, End).
type Range struct {
	Start int
	End   int
}

// Of returns the text covered by r.
func (r Range) Of(s string) string {
	return s[r.Start:r.End]
}

// CodeOnly blanks comments and the contents of string literals with spaces,
// keeping newlines and quote characters so that every byte offset in the
// result matches the input. Quoted identifiers are left intact.
func CodeOnly(s string) string {
	b := []byte(s)
	n := len(b)
	for i := 0; i < n; {
		c := b[i]
		switch {
		case c == '-' && i+1 < n && b[i+1] == '-':
			for i < n && b[i] != '\n' {
				b[i] = ' '
				i++
			}
		case c == '/' && i+1 < n && b[i+1] == '*':
			b[i], b[i+1] = ' ', ' '
			i += 2
			for i < n && !(b[i] == '*' && i+1 < n && b[i+1] == '/') {
				blank(b, i)
				i++
			}
			if i < n {
				b[i], b[i+1] = ' ', ' '
				i += 2
			}
		case (c == 'q' || c == 'Q') && i+2 < n && b[i+1] == '\'' && (i == 0 || !isWordByte(b[i-1])):
			closer := closingDelimiter(b[i+2])
			i += 3
			for i < n && !(b[i] == closer && i+1 < n && b[i+1] == '\'') {
				blank(b, i)
				i++
			}
			if i < n {
				blank(b, i)
				i += 2
			}
		case c == '\'':
			i++
			for i < n {
				if b[i] == '\'' {
					if i+1 < n && b[i+1] == '\'' {
						b[i], b[i+1] = ' ', ' '
						i += 2
						continue
					}
					break
				}
				blank(b, i)
				i++
			}
			i++ // closing quote
		case c == '"':
			i++
			for i < n && b[i] != '"' {
				i++
			}
			i++
		default:
			i++
		}
	}
	return string(b)
}

func blank(b []byte, i int) {
	if b[i] != '\n' {
		b[i] = ' '
	}
}

func closingDelimiter(open byte) byte {
	switch open {
	case '[':
		return ']'
	case '{':
		return '}'
	case '(':
		return ')'
	case '<':
		return '>'
	default:
		return open
	}
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '$' || c == '#' || c == '@' || c >= 0x80
}

// MatchParen returns the index of the parenthesis closing the one at open,
// or -1 when it is unbalanced. code must be comment- and string-free (see
// CodeOnly).
func MatchParen(code string, open int) int {
	depth := 0
	for i := open; i < len(code); i++ {
		switch code[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Balanced reports whether every parenthesis in s is matched and every
// string literal and quoted identifier is closed.
func Balanced(s string) bool {
	if !quotesClosed(s) {
		return false
	}
	depth := 0
	for _, c := range []byte(CodeOnly(s)) {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func quotesClosed(s string) bool {
	inString, inIdent := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			if c == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					i++
					continue
				}
				inString = false
			}
		case inIdent:
			if c == '"' {
				inIdent = false
			}
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 3
		case c == '\'':
			inString = true
		case c == '"':
			inIdent = true
		}
	}
	return !inString && !inIdent
}

// SplitTopLevel splits code at commas that are outside parentheses and
// returns the trimmed ranges of each part. code must come from CodeOnly so
// that commas inside literals are already blanked.
func SplitTopLevel(code string) []Range {
	var parts []Range
	depth, start := 0, 0
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, Trim(code, Range{start, i}))
				start = i + 1
			}
		}
	}
	return append(parts, Trim(code, Range{start, len(code)}))
}

// Trim shrinks r so that it excludes leading and trailing whitespace.
func Trim(s string, r Range) Range {
	for r.Start < r.End && isSpace(s[r.Start]) {
		r.Start++
	}
	for r.End > r.Start && isSpace(s[r.End-1]) {
		r.End--
	}
	return r
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// CollapseSpace replaces every run of whitespace with one space and trims.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripComments removes line and block comments, replacing each with a
// single space. String literals and quoted identifiers are kept verbatim.
func StripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	n := len(s)
	for i := 0; i < n; {
		c := s[i]
		switch {
		case c == '-' && i+1 < n && s[i+1] == '-':
			for i < n && s[i] != '\n' {
				i++
			}
			b.WriteByte(' ')
		case c == '/' && i+1 < n && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				i = n
			} else {
				i += end + 4
			}
			b.WriteByte(' ')
		case c == '\'' || c == '"':
			j := i + 1
			for j < n && s[j] != c {
				j++
			}
			j = min(j+1, n)
			b.WriteString(s[i:j])
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}
