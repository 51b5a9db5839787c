// Package commands implements the etlgraph subcommands.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/etlgraph/internal/cli/config"
	"github.com/leapstack-labs/etlgraph/internal/discover"
	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/state"
)

// Output modes.
const (
	ModeAuto = "auto"
	ModeText = "text"
	ModeJSON = "json"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Out    io.Writer
	ErrOut io.Writer
	// Mode is the resolved output mode, text or json.
	Mode string
}

// NewCommandContext creates a CommandContext from the command's context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.FromContext(cmd.Context())
	return &CommandContext{
		Cfg:    cfg,
		Logger: config.GetLogger(cmd.Context()),
		Out:    cmd.OutOrStdout(),
		ErrOut: cmd.ErrOrStderr(),
		Mode:   resolveMode(cfg.OutputFormat, cmd.OutOrStdout()),
	}
}

// resolveMode turns auto into text on a terminal and json otherwise.
func resolveMode(mode string, w io.Writer) string {
	if mode != ModeAuto && mode != "" {
		return mode
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // fd fits in int
		return ModeText
	}
	return ModeJSON
}

// Rules resolves the rule pack: ref when given, the configured dialect
// otherwise.
func (c *CommandContext) Rules(ref string) (*rules.Pack, error) {
	if ref == "" {
		ref = c.Cfg.Dialect
	}
	pack, err := rules.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return pack, nil
}

// Paths returns args, the configured paths, or the working directory.
func (c *CommandContext) Paths(args []string) []string {
	if len(args) > 0 {
		return args
	}
	if len(c.Cfg.Paths) > 0 {
		return c.Cfg.Paths
	}
	return []string{"."}
}

// DiscoverOptions returns the configured discovery options.
func (c *CommandContext) DiscoverOptions() discover.Options {
	return discover.Options{Patterns: c.Cfg.Include, Exclude: c.Cfg.Exclude}
}

// OpenStore opens the state database, creating its directory. The caller
// closes the store.
func (c *CommandContext) OpenStore(ctx context.Context) (*state.SQLiteStore, error) {
	if dir := filepath.Dir(c.Cfg.StatePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(ctx, c.Cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return store, nil
}
