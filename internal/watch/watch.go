// Package watch keeps the stored lineage graph in step with scripts on disk.
//
// A Watcher extracts every script under its roots once, then re-extracts
// the scripts fsnotify reports as changed and applies the new batches to the
// store. A removed script is dropped from the graph with every node and edge
// only it contributed.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leapstack-labs/etlgraph/internal/discover"
	"github.com/leapstack-labs/etlgraph/internal/engine"
	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/state"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// DefaultDebounce is how long a burst of file events is collected before
// scripts are re-extracted.
const DefaultDebounce = 100 * time.Millisecond

// Applier receives the re-extracted batches.
type Applier interface {
	Apply(ctx context.Context, batches []state.SourceBatch) (graph.Batch, error)
}

// Config holds configuration for a Watcher.
type Config struct {
	Roots      []string
	Discover   discover.Options
	Engine     *engine.Engine
	Rules      *rules.Pack
	Technology string
	Store      Applier
	Debounce   time.Duration
	Logger     *slog.Logger
	// OnApply, when set, is called with the merged graph after every apply.
	OnApply func(graph.Batch)
}

// Watcher re-extracts changed scripts into a store.
type Watcher struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	hashes map[string]string // source id -> content hash last applied
}

// New creates a watcher.
func New(cfg Config) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Engine == nil {
		cfg.Engine = engine.New(engine.Config{Logger: cfg.Logger})
	}
	return &Watcher{cfg: cfg, logger: cfg.Logger, hashes: make(map[string]string)}
}

// Sync extracts every script under the roots and applies them.
func (w *Watcher) Sync(ctx context.Context) (graph.Batch, error) {
	res, err := discover.Discover(w.cfg.Roots, w.cfg.Discover)
	if err != nil {
		return graph.Batch{}, err
	}
	if res.HasErrors() {
		for _, e := range res.Errors {
			w.logger.Warn("failed to read script", "path", e.Path, "error", e.Message)
		}
	}
	w.logger.Debug("discovered scripts", "scripts", len(res.Scripts), "duration", res.Duration)
	return w.apply(ctx, res.Scripts, nil)
}

// Update re-extracts the given paths. Scripts whose content has not changed
// since they were last applied are skipped. Paths that no longer exist
// remove their script from the graph.
func (w *Watcher) Update(ctx context.Context, paths []string) (graph.Batch, error) {
	var (
		scripts []discover.Script
		removed []string
	)
	for _, p := range paths {
		sc, err := discover.Read(p)
		if errors.Is(err, fs.ErrNotExist) {
			removed = append(removed, discover.SourceID(p))
			continue
		}
		if err != nil {
			w.logger.Warn("failed to read script", "path", p, "error", err)
			continue
		}
		if w.unchanged(sc) {
			w.logger.Debug("script unchanged", "path", p)
			continue
		}
		scripts = append(scripts, sc)
	}
	return w.apply(ctx, scripts, removed)
}

func (w *Watcher) unchanged(sc discover.Script) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hashes[sc.SourceID] == sc.Hash
}

func (w *Watcher) apply(ctx context.Context, scripts []discover.Script, removed []string) (graph.Batch, error) {
	inputs := make([]engine.Input, 0, len(scripts))
	for _, sc := range scripts {
		inputs = append(inputs, engine.Input{
			ScriptText: sc.Text,
			SourceID:   sc.SourceID,
			Technology: w.cfg.Technology,
			Rules:      w.cfg.Rules,
		})
	}
	results, err := w.cfg.Engine.ExtractAll(ctx, inputs)
	if err != nil {
		return graph.Batch{}, err
	}

	batches := make([]state.SourceBatch, 0, len(results)+len(removed))
	failed := make(map[string]bool)
	for _, r := range results {
		if r.Err != nil {
			failed[r.SourceID] = true
			continue
		}
		batches = append(batches, state.SourceBatch{SourceID: r.SourceID, Batch: r.Batch})
	}
	for _, id := range removed {
		batches = append(batches, state.SourceBatch{SourceID: id})
	}
	if len(batches) == 0 {
		return graph.Batch{}, nil
	}

	merged, err := w.cfg.Store.Apply(ctx, batches)
	if err != nil {
		return graph.Batch{}, fmt.Errorf("failed to apply scripts: %w", err)
	}

	w.mu.Lock()
	for _, sc := range scripts {
		if !failed[sc.SourceID] {
			w.hashes[sc.SourceID] = sc.Hash
		}
	}
	for _, id := range removed {
		delete(w.hashes, id)
	}
	w.mu.Unlock()
	w.logger.Info("graph updated",
		"scripts", len(scripts), "removed", len(removed), "nodes", len(merged.Nodes), "edges", len(merged.Edges))
	if w.cfg.OnApply != nil {
		w.cfg.OnApply(merged)
	}
	return merged, nil
}

// Run syncs once and then watches the roots until ctx is cancelled. Apply
// failures are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, root := range w.cfg.Roots {
		if err := w.watchRecursive(watcher, root); err != nil {
			return fmt.Errorf("failed to watch %s: %w", root, err)
		}
	}

	if _, err := w.Sync(ctx); err != nil {
		w.logger.Error("initial sync failed", "error", err)
	}

	pending := make(map[string]bool)
	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watchRecursive(watcher, event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if !discover.Matches(event.Name, w.cfg.Discover) {
				continue
			}
			pending[event.Name] = true
			timer.Reset(w.cfg.Debounce)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)

			w.logger.Debug("scripts changed, re-extracting", "paths", paths)
			if _, err := w.Update(ctx, paths); err != nil {
				w.logger.Error("update failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// watchRecursive adds a directory and all its non-hidden subdirectories to
// the watcher. A file root is watched directly.
func (w *Watcher) watchRecursive(watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (d.Name()[0] == '.' || slices.ContainsFunc(w.cfg.Discover.Exclude, func(p string) bool {
			ok, _ := filepath.Match(p, d.Name())
			return ok
		})) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
