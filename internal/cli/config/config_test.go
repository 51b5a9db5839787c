package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("dialect", "", "")
	fs.String("state", "", "")
	fs.Int("workers", 0, "")
	fs.StringP("output", "o", "", "")
	fs.String("addr", "", "")
	fs.Duration("debounce", 0, "")
	fs.Bool("upstream", false, "")
	return fs
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "etlgraph.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, used, err := Load("", nil)
	require.NoError(t, err)

	assert.Empty(t, used)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
dialect: tsql
state_path: from-file.db
workers: 2
paths: [etl, scripts/load.sql]
exclude: [archive]
serve:
  addr: 0.0.0.0:9000
watch:
  debounce: 250ms
`)

	t.Run("file over defaults", func(t *testing.T) {
		cfg, used, err := Load(path, nil)
		require.NoError(t, err)

		assert.Equal(t, path, used)
		assert.Equal(t, "tsql", cfg.Dialect)
		assert.Equal(t, "from-file.db", cfg.StatePath)
		assert.Equal(t, 2, cfg.Workers)
		assert.Equal(t, []string{"etl", "scripts/load.sql"}, cfg.Paths)
		assert.Equal(t, []string{"archive"}, cfg.Exclude)
		assert.Equal(t, "0.0.0.0:9000", cfg.Serve.Addr)
		assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
		assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	})

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("ETLGRAPH_STATE_PATH", "from-env.db")
		t.Setenv("ETLGRAPH_SERVE__ADDR", "127.0.0.1:1")

		cfg, _, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "from-env.db", cfg.StatePath)
		assert.Equal(t, "127.0.0.1:1", cfg.Serve.Addr)
	})

	t.Run("flags over env", func(t *testing.T) {
		t.Setenv("ETLGRAPH_STATE_PATH", "from-env.db")
		fs := newFlags()
		require.NoError(t, fs.Parse([]string{"--state", "from-flag.db", "-o", "json", "--debounce", "1s", "--upstream"}))

		cfg, _, err := Load(path, fs)
		require.NoError(t, err)
		assert.Equal(t, "from-flag.db", cfg.StatePath)
		assert.Equal(t, "json", cfg.OutputFormat)
		assert.Equal(t, time.Second, cfg.Watch.Debounce)
		assert.Equal(t, "tsql", cfg.Dialect, "unset flags do not override")
	})
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad output", "output: xml\n", "Config.OutputFormat: must be one of"},
		{"bad log level", "log_level: loud\n", "Config.LogLevel"},
		{"negative workers", "workers: -1\n", "Config.Workers: must not be negative"},
		{"empty dialect", "dialect: \"\"\n", "Config.Dialect: field is required"},
		{"malformed yaml", "dialect: [\n", "error reading config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Defaults(), FromContext(ctx))
	assert.NotNil(t, GetLogger(ctx))

	cfg := Defaults()
	cfg.Dialect = "tsql"
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json")
	ctx = WithContext(ctx, cfg, logger)

	assert.Same(t, cfg, FromContext(ctx))
	GetLogger(ctx).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")
	logger.Info("quiet")
	logger.Warn("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "msg=loud")
}
