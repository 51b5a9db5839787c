package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteScripts writes files under dir, creating parent directories, and
// returns dir. Keys are slash-separated paths relative to dir.
func WriteScripts(t testing.TB, dir string, files map[string]string) string {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

// FactWater is a one-statement aggregate load used across package tests.
const FactWater = `INSERT INTO fact_water (sensor_id, avg_value)
SELECT sensor_id, ROUND(AVG(measure_value),2) FROM staging_water GROUP BY sensor_id;`
