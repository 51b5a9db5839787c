// Package engine is the extraction boundary: one script in, one graph batch
// out. ExtractAll runs many scripts concurrently on a bounded worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/etlgraph/internal/annotate"
	"github.com/leapstack-labs/etlgraph/internal/assemble"
	"github.com/leapstack-labs/etlgraph/internal/extract"
	"github.com/leapstack-labs/etlgraph/internal/metrics"
	"github.com/leapstack-labs/etlgraph/internal/normalize"
	"github.com/leapstack-labs/etlgraph/internal/rules"
	"github.com/leapstack-labs/etlgraph/internal/script"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// ErrNoRules is returned when an input carries no rule pack.
var ErrNoRules = errors.New("no rule pack")

// Input is one script to extract.
type Input struct {
	ScriptText string
	// SourceID identifies the script in operation ids and diagnostics,
	// usually its path.
	SourceID string
	// Technology is stamped on every node and edge. Empty means the rule
	// pack's default technology.
	Technology string
	Rules      *rules.Pack
}

// Config holds engine configuration.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Registry
	// Workers bounds ExtractAll. Zero means GOMAXPROCS.
	Workers int
}

// Engine extracts graph batches from scripts. It holds no per-script state
// and is safe for concurrent use.
type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Registry
	workers int
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{logger: logger, metrics: cfg.Metrics, workers: workers}
}

// Extract runs a default engine on one script.
func Extract(in Input) (graph.Batch, error) {
	return New(Config{}).Extract(in)
}

// Extract turns one script into a batch. Problems inside the script become
// diagnostics; only a missing rule pack is an error.
func (e *Engine) Extract(in Input) (graph.Batch, error) {
	if in.Rules == nil {
		e.metrics.RecordScriptError()
		return graph.Batch{}, fmt.Errorf("failed to extract %s: %w", in.SourceID, ErrNoRules)
	}
	start := time.Now()
	pack := in.Rules
	technology := in.Technology
	if technology == "" {
		technology = pack.DefaultTechnology
	}

	sc := script.Segment(in.ScriptText)
	b := assemble.NewBuilder(in.SourceID, technology, e.logger)
	for _, err := range sc.LexErrors {
		b.Diagnose(graph.SeverityWarning, "%v", err)
	}

	path, diags := extract.Choose(sc, pack)
	b.AddDiagnostics(diags...)

	norm := normalize.New(pack)
	var blocks []annotate.Block
	statements := make(map[string]int)
	for _, blk := range sc.Blocks {
		if len(blk.Statements) == 0 {
			continue
		}
		ab := annotate.Block{Block: blk, Facts: make([]extract.Facts, 0, len(blk.Statements))}
		for _, stmt := range blk.Statements {
			facts := path.Extract(stmt)
			for i := range facts.Writes {
				facts.Writes[i].Lineage = norm.Apply(facts.Writes[i].Lineage)
			}
			ab.Facts = append(ab.Facts, facts)
			statements[string(stmt.Kind)]++
		}
		blocks = append(blocks, ab)
	}

	tasks := annotate.Name(blocks, in.SourceID, pack)
	for i, blk := range blocks {
		task := tasks[i]
		op := b.Operation(task.Name, graph.OperationInfo{
			HasExplicitTaskName: task.Explicit,
			ErrorHandling:       annotate.HasErrorHandling(blk.Block, pack),
			BlockKind:           string(blk.Block.Kind),
			StatementCount:      len(blk.Block.Statements),
			ExtractionPath:      path.Name(),
		})
		for _, f := range blk.Facts {
			addFacts(b, op, f)
		}
	}

	batch := b.Build()
	elapsed := time.Since(start)
	e.metrics.RecordScript(path.Name(), statements, batch, elapsed)
	e.logger.Debug("extracted script",
		"source_id", in.SourceID,
		"path", path.Name(),
		"blocks", len(blocks),
		"nodes", len(batch.Nodes),
		"edges", len(batch.Edges),
		"diagnostics", len(batch.Diagnostics),
		"duration", elapsed)
	return batch, nil
}

func addFacts(b *assemble.Builder, op string, f extract.Facts) {
	for _, name := range f.Reads {
		b.Reads(op, b.Table(name, nil))
	}
	for _, w := range f.Writes {
		b.Writes(op, b.Table(w.Table, w.Columns), w.Lineage)
	}
	for _, j := range f.Joins {
		b.Joins(b.Table(j.Left, nil), b.Table(j.Right, nil), j.Type, j.Condition)
	}
	b.AddDiagnostics(f.Diagnostics...)
}

// Result is the outcome of one input of ExtractAll.
type Result struct {
	SourceID string
	Batch    graph.Batch
	Err      error
}

// ExtractAll extracts inputs concurrently and returns one result per input,
// in input order. A failing script does not stop the others. Cancelling ctx
// stops scheduling new scripts and returns the context error.
func (e *Engine) ExtractAll(ctx context.Context, inputs []Input) ([]Result, error) {
	results := make([]Result, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, in := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch, err := e.Extract(in)
			if err != nil {
				e.logger.Warn("script extraction failed", "source_id", in.SourceID, "error", err)
			}
			results[i] = Result{SourceID: in.SourceID, Batch: batch, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("extraction cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("extraction cancelled: %w", err)
	}
	return results, nil
}
