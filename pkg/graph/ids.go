package graph

import "strings"

// ID prefixes.
const (
	tablePrefix     = "table:"
	operationPrefix = "operation:"
)

// NormalizeName canonicalizes a possibly qualified identifier.
// Unquoted parts are lower-cased. Parts quoted with double quotes or
// brackets keep their case: they are written bare when they read the same
// as an unquoted lower-case word, and in double quotes otherwise. Whitespace
// around the dots is dropped. NormalizeName is idempotent.
func NormalizeName(raw string) string {
	parts := splitQualified(strings.TrimSpace(raw))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		switch {
		case len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"':
			parts[i] = quoteIfNeeded(strings.ReplaceAll(p[1:len(p)-1], `""`, `"`))
		case len(p) >= 2 && p[0] == '[' && p[len(p)-1] == ']':
			parts[i] = quoteIfNeeded(p[1 : len(p)-1])
		default:
			parts[i] = strings.ToLower(p)
		}
	}
	return strings.Join(parts, ".")
}

func quoteIfNeeded(part string) string {
	if plainWord(part) {
		return part
	}
	return `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
}

// plainWord reports whether s is a non-empty lower-case identifier that
// needs no quoting.
func plainWord(s string) bool {
	if s == "" || s[0] >= '0' && s[0] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '$' || c == '#') {
			return false
		}
	}
	return true
}

// Unquote returns one normalized name part without its double quotes.
func Unquote(part string) string {
	if len(part) >= 2 && part[0] == '"' && part[len(part)-1] == '"' {
		return strings.ReplaceAll(part[1:len(part)-1], `""`, `"`)
	}
	return part
}

// splitQualified splits on dots that are not inside quotes or brackets.
func splitQualified(s string) []string {
	var parts []string
	start := 0
	inQuote, inBracket := false, false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"' && !inBracket:
			inQuote = !inQuote
		case c == '[' && !inQuote:
			inBracket = true
		case c == ']' && !inQuote:
			inBracket = false
		case c == '.' && !inQuote && !inBracket:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// SplitName returns the parts of a normalized qualified name.
func SplitName(normalized string) []string {
	return splitQualified(normalized)
}

// ShortName returns the last segment of a normalized qualified name.
func ShortName(normalized string) string {
	parts := splitQualified(normalized)
	return parts[len(parts)-1]
}

// SchemaOf returns everything before the last segment, or "".
func SchemaOf(normalized string) string {
	parts := splitQualified(normalized)
	return strings.Join(parts[:len(parts)-1], ".")
}

// TableID returns the deterministic id of a table node. name may be raw or
// already normalized.
func TableID(name string) string {
	return tablePrefix + NormalizeName(name)
}

// OperationID returns the deterministic id of an operation node.
func OperationID(sourceID, taskName string) string {
	return operationPrefix + sourceID + "#" + taskName
}

// IsTableID reports whether id names a table node.
func IsTableID(id string) bool {
	return strings.HasPrefix(id, tablePrefix)
}
