package state

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/etlgraph/internal/assemble"
	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

// SourceBatch is the extraction batch of one script.
type SourceBatch struct {
	SourceID string
	Batch    graph.Batch
}

// Apply replaces the stored contribution of every given source with its new
// batch and saves the result under a new run. An empty batch removes its
// source. Sources not named keep their contributions, and nodes and edges
// no remaining source contributes are dropped. The merged graph is returned.
func (s *SQLiteStore) Apply(ctx context.Context, batches []SourceBatch) (graph.Batch, error) {
	run, err := s.CreateRun(ctx)
	if err != nil {
		return graph.Batch{}, err
	}

	merged, err := s.apply(ctx, batches)
	if err != nil {
		if cerr := s.CompleteRun(ctx, run.ID, RunStatusFailed, len(batches), err.Error()); cerr != nil {
			s.logger.Warn("failed to record failed run", "run_id", run.ID, "error", cerr)
		}
		return graph.Batch{}, err
	}
	if err := s.CompleteRun(ctx, run.ID, RunStatusCompleted, len(batches), ""); err != nil {
		return merged, err
	}
	s.logger.Info("applied extraction run",
		"run_id", run.ID, "scripts", len(batches), "nodes", len(merged.Nodes), "edges", len(merged.Edges))
	return merged, nil
}

func (s *SQLiteStore) apply(ctx context.Context, batches []SourceBatch) (merged graph.Batch, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return graph.Batch{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stored, err := loadContributions(ctx, tx)
	if err != nil {
		return graph.Batch{}, err
	}
	g := assemble.NewGraph()
	for id, b := range stored {
		g.Replace(id, b)
	}

	// Replace in source order so the result does not depend on the caller's.
	ordered := slices.Clone(batches)
	slices.SortStableFunc(ordered, func(a, b SourceBatch) int {
		return strings.Compare(a.SourceID, b.SourceID)
	})
	for _, sb := range ordered {
		g.Replace(sb.SourceID, sb.Batch)
		if err = saveContribution(ctx, tx, sb.SourceID, sb.Batch); err != nil {
			return graph.Batch{}, err
		}
	}

	merged = g.Snapshot()
	if err = saveGraph(ctx, tx, merged); err != nil {
		return graph.Batch{}, err
	}
	if err = tx.Commit(); err != nil {
		return graph.Batch{}, fmt.Errorf("failed to commit graph: %w", err)
	}
	s.logger.Debug("saved graph",
		"nodes", len(merged.Nodes), "edges", len(merged.Edges), "diagnostics", len(merged.Diagnostics))
	return merged, nil
}
