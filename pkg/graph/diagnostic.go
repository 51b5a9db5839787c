package graph

import (
	"fmt"
	"slices"
	"strings"
)

// Severity indicates the importance of a diagnostic.
type Severity int

// Severity levels for diagnostics.
const (
	// SeverityError marks a caller-level problem such as a dropped edge.
	SeverityError Severity = iota
	// SeverityWarning marks degraded extraction.
	SeverityWarning
	// SeverityInfo marks low-confidence classifications.
	SeverityInfo
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a string to a Severity value.
// Returns the severity and true if valid, or SeverityWarning and false if invalid.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(s) {
	case "error":
		return SeverityError, true
	case "warning":
		return SeverityWarning, true
	case "info":
		return SeverityInfo, true
	default:
		return SeverityWarning, false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, ok := ParseSeverity(string(b))
	if !ok {
		return fmt.Errorf("unknown severity %q", string(b))
	}
	*s = v
	return nil
}

// Diagnostic reports degraded or suspicious extraction for one script.
type Diagnostic struct {
	SourceID string   `json:"source_id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.SourceID, d.Severity, d.Message)
}

func (d Diagnostic) less(o Diagnostic) bool {
	if d.SourceID != o.SourceID {
		return d.SourceID < o.SourceID
	}
	if d.Severity != o.Severity {
		return d.Severity < o.Severity
	}
	return d.Message < o.Message
}

// CountBySeverity tallies diagnostics per severity.
func CountBySeverity(diags []Diagnostic) map[Severity]int {
	out := make(map[Severity]int)
	for _, d := range diags {
		out[d.Severity]++
	}
	return out
}

// SortDiagnostics returns a copy of diags ordered by source, severity and
// message, with exact duplicates removed.
func SortDiagnostics(diags []Diagnostic) []Diagnostic {
	if len(diags) == 0 {
		return nil
	}
	out := slices.Clone(diags)
	slices.SortFunc(out, func(a, b Diagnostic) int {
		switch {
		case a.less(b):
			return -1
		case b.less(a):
			return 1
		}
		return 0
	})
	return slices.Compact(out)
}
