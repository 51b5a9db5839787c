// Package discover finds ETL scripts on disk.
package discover

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DefaultPatterns are the file name patterns of SQL scripts and Oracle
// package specs and bodies.
var DefaultPatterns = []string{"*.sql", "*.pks", "*.pkb"}

// Options configures discovery.
type Options struct {
	// Patterns are matched against base names, ignoring case. Empty means
	// DefaultPatterns.
	Patterns []string
	// Exclude patterns are matched against base names of files and
	// directories.
	Exclude []string
}

// Script is one discovered script.
type Script struct {
	Path string
	// SourceID is the slash-separated path, stable across platforms.
	SourceID string
	Text     string
	Hash     string
}

// Error is a non-fatal problem with one file.
type Error struct {
	Path    string
	Message string
}

// Result is the outcome of a discovery run.
type Result struct {
	Scripts  []Script
	Errors   []Error
	Duration time.Duration
}

// HasErrors returns true if any file could not be read.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Discover walks roots and reads every matching script. A root may be a
// file, which is read whatever its name. Hidden directories are skipped.
// Scripts are returned sorted by source id, each once.
func Discover(roots []string, opts Options) (*Result, error) {
	start := time.Now()
	result := &Result{}
	seen := make(map[string]bool)

	add := func(path string) {
		sc, err := Read(path)
		if err != nil {
			result.Errors = append(result.Errors, Error{Path: path, Message: err.Error()})
			return
		}
		if !seen[sc.SourceID] {
			seen[sc.SourceID] = true
			result.Scripts = append(result.Scripts, sc)
		}
	}

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", root, err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				result.Errors = append(result.Errors, Error{Path: path, Message: walkErr.Error()})
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			name := d.Name()
			if d.IsDir() {
				if path != root && (strings.HasPrefix(name, ".") || matchAny(name, opts.Exclude)) {
					return filepath.SkipDir
				}
				return nil
			}
			if Matches(path, opts) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	slices.SortFunc(result.Scripts, func(a, b Script) int { return strings.Compare(a.SourceID, b.SourceID) })
	result.Duration = time.Since(start)
	return result, nil
}

// Matches reports whether a file is a script under opts.
func Matches(path string, opts Options) bool {
	name := filepath.Base(path)
	if matchAny(name, opts.Exclude) {
		return false
	}
	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	return matchAny(name, patterns)
}

func matchAny(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), lower); ok {
			return true
		}
	}
	return false
}

// Read reads one script.
func Read(path string) (Script, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: paths come from the caller or WalkDir
	if err != nil {
		return Script{}, fmt.Errorf("failed to read script: %w", err)
	}
	sum := sha256.Sum256(content)
	return Script{
		Path:     path,
		SourceID: SourceID(path),
		Text:     string(content),
		Hash:     hex.EncodeToString(sum[:]),
	}, nil
}

// SourceID returns the source id of a path.
func SourceID(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}
