package discover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/etlgraph/internal/testutil"
)

func sourceIDs(r *Result) []string {
	out := make([]string, len(r.Scripts))
	for i, s := range r.Scripts {
		out[i] = s.SourceID
	}
	return out
}

func TestDiscover(t *testing.T) {
	dir := testutil.WriteScripts(t, t.TempDir(), map[string]string{
		"load_water.sql":          testutil.FactWater,
		"pkg/water_pkg.pks":       "CREATE OR REPLACE PACKAGE water_pkg AS END;",
		"pkg/water_pkg.PKB":       "CREATE OR REPLACE PACKAGE BODY water_pkg AS END;",
		"notes.txt":               "not a script",
		".git/hooks/pre.sql":      "SELECT 1 FROM dual;",
		"archive/old_load.sql":    "SELECT 1 FROM dual;",
		"nested/deeper/daily.sql": "SELECT 1 FROM dual;",
	})

	r, err := Discover([]string{dir}, Options{Exclude: []string{"archive"}})
	require.NoError(t, err)
	assert.False(t, r.HasErrors())

	rel := make([]string, 0, len(r.Scripts))
	for _, s := range r.Scripts {
		p, err := filepath.Rel(dir, s.Path)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(p))
	}
	assert.Equal(t, []string{"load_water.sql", "nested/deeper/daily.sql", "pkg/water_pkg.PKB", "pkg/water_pkg.pks"}, rel)

	water := r.Scripts[0]
	assert.Equal(t, testutil.FactWater, water.Text)
	assert.Len(t, water.Hash, 64)
	assert.Equal(t, SourceID(water.Path), water.SourceID)
}

func TestDiscover_CustomPatternsAndFiles(t *testing.T) {
	dir := testutil.WriteScripts(t, t.TempDir(), map[string]string{
		"a.sql":    "SELECT 1 FROM dual;",
		"b.ddl":    "CREATE TABLE b (x NUMBER);",
		"c.script": "SELECT 1 FROM dual;",
	})

	r, err := Discover([]string{dir}, Options{Patterns: []string{"*.ddl"}})
	require.NoError(t, err)
	require.Len(t, r.Scripts, 1)
	assert.Equal(t, "b.ddl", filepath.Base(r.Scripts[0].Path))

	// explicit files are read whatever their name, and only once
	file := filepath.Join(dir, "c.script")
	r, err = Discover([]string{file, file}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{SourceID(file)}, sourceIDs(r))
}

func TestDiscover_MissingRoot(t *testing.T) {
	_, err := Discover([]string{filepath.Join(t.TempDir(), "missing")}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMatches(t *testing.T) {
	tests := []struct {
		path string
		opts Options
		want bool
	}{
		{"etl/load.sql", Options{}, true},
		{"etl/LOAD.SQL", Options{}, true},
		{"etl/pkg.pkb", Options{}, true},
		{"etl/readme.md", Options{}, false},
		{"etl/load.sql", Options{Exclude: []string{"load*"}}, false},
		{"etl/load.ddl", Options{Patterns: []string{"*.ddl"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.path, tt.opts))
		})
	}
}

func TestRead_HashChangesWithContent(t *testing.T) {
	dir := testutil.WriteScripts(t, t.TempDir(), map[string]string{"a.sql": "SELECT 1 FROM dual;"})
	path := filepath.Join(dir, "a.sql")

	first, err := Read(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("SELECT 2 FROM dual;"), 0o644))
	second, err := Read(path)
	require.NoError(t, err)

	assert.NotEqual(t, first.Hash, second.Hash)
	assert.Equal(t, first.SourceID, second.SourceID)
}

func TestSourceID_IsPathAsGiven(t *testing.T) {
	assert.Equal(t, "etl/a.sql", SourceID(filepath.Join("etl", ".", "a.sql")))
	assert.Equal(t, "../etl/a.sql", SourceID(filepath.Join("..", "etl", "x", "..", "a.sql")))

	abs := filepath.Join(t.TempDir(), "a.sql")
	assert.Equal(t, filepath.ToSlash(abs), SourceID(abs))
}
