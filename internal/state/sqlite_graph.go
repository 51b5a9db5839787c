package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leapstack-labs/etlgraph/pkg/graph"
)

type nodeAttributes struct {
	Operation *graph.OperationInfo `json:"operation,omitempty"`
	Table     *graph.TableInfo     `json:"table,omitempty"`
}

type edgeAttributes struct {
	ColumnLineage []graph.ColumnLineage `json:"column_lineage,omitempty"`
	JoinTypes     []string              `json:"join_types,omitempty"`
	Conditions    []string              `json:"conditions,omitempty"`
}

// saveGraph replaces the merged graph tables with batch.
func saveGraph(ctx context.Context, tx *sql.Tx, batch graph.Batch) error {
	for _, table := range []string{"diagnostics", "edges", "nodes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, n := range batch.Nodes {
		if err := insertNode(ctx, tx, n); err != nil {
			return err
		}
	}
	for _, e := range batch.Edges {
		if err := insertEdge(ctx, tx, e); err != nil {
			return err
		}
	}
	for _, d := range batch.Diagnostics {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO diagnostics (source_id, severity, message) VALUES (?, ?, ?)`,
			d.SourceID, d.Severity.String(), d.Message,
		); err != nil {
			return fmt.Errorf("failed to insert diagnostic: %w", err)
		}
	}
	return nil
}

// loadContributions returns the stored batch of every script.
func loadContributions(ctx context.Context, tx *sql.Tx) (map[string]graph.Batch, error) {
	rows, err := tx.QueryContext(ctx, `SELECT source_id, batch FROM contributions ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load contributions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]graph.Batch)
	for rows.Next() {
		var (
			sourceID string
			raw      string
		)
		if err := rows.Scan(&sourceID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		var b graph.Batch
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("failed to decode contribution %s: %w", sourceID, err)
		}
		out[sourceID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read contributions: %w", err)
	}
	return out, nil
}

// saveContribution stores the batch of one script. An empty batch deletes
// it.
func saveContribution(ctx context.Context, tx *sql.Tx, sourceID string, b graph.Batch) error {
	if b.Empty() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM contributions WHERE source_id = ?`, sourceID); err != nil {
			return fmt.Errorf("failed to delete contribution %s: %w", sourceID, err)
		}
		return nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode contribution %s: %w", sourceID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO contributions (source_id, batch) VALUES (?, ?)
		 ON CONFLICT(source_id) DO UPDATE SET batch = excluded.batch`,
		sourceID, string(raw),
	); err != nil {
		return fmt.Errorf("failed to save contribution %s: %w", sourceID, err)
	}
	return nil
}

func insertNode(ctx context.Context, tx *sql.Tx, n graph.Node) error {
	attrs, err := json.Marshal(nodeAttributes{Operation: n.Operation, Table: n.Table})
	if err != nil {
		return fmt.Errorf("failed to encode node %s: %w", n.ID, err)
	}
	var sourceID *string
	if n.Operation != nil {
		sourceID = &n.Operation.SourceID
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (id, kind, name, technology, source_id, attributes) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.Kind), n.Name, n.Technology, sourceID, string(attrs),
	); err != nil {
		return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
	}
	return nil
}

func insertEdge(ctx context.Context, tx *sql.Tx, e graph.Edge) error {
	attrs, err := json.Marshal(edgeAttributes{
		ColumnLineage: e.ColumnLineage,
		JoinTypes:     e.JoinTypes,
		Conditions:    e.Conditions,
	})
	if err != nil {
		return fmt.Errorf("failed to encode edge %s -> %s: %w", e.Source, e.Target, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO edges (source_id, target_id, kind, technology, attributes) VALUES (?, ?, ?, ?, ?)`,
		e.Source, e.Target, string(e.Kind), e.Technology, string(attrs),
	); err != nil {
		return fmt.Errorf("failed to insert edge %s -> %s: %w", e.Source, e.Target, err)
	}
	return nil
}

// Load returns the stored graph, sorted like an assembled batch.
func (s *SQLiteStore) Load(ctx context.Context) (graph.Batch, error) {
	var batch graph.Batch
	if s.db == nil {
		return batch, errNotOpened
	}

	nodes, err := s.queryNodes(ctx, `SELECT id, kind, name, technology, attributes FROM nodes ORDER BY id`)
	if err != nil {
		return batch, err
	}
	batch.Nodes = nodes

	edges, err := s.queryEdges(ctx)
	if err != nil {
		return batch, err
	}
	batch.Edges = edges

	diags, err := s.Diagnostics(ctx)
	if err != nil {
		return batch, err
	}
	batch.Diagnostics = diags
	return batch, nil
}

func (s *SQLiteStore) queryEdges(ctx context.Context) ([]graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id, kind, technology, attributes FROM edges ORDER BY source_id, target_id, kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []graph.Edge
	for rows.Next() {
		var (
			e     graph.Edge
			kind  string
			attrs string
		)
		if err := rows.Scan(&e.Source, &e.Target, &kind, &e.Technology, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Kind = graph.EdgeKind(kind)
		var a edgeAttributes
		if err := json.Unmarshal([]byte(attrs), &a); err != nil {
			return nil, fmt.Errorf("failed to decode edge %s -> %s: %w", e.Source, e.Target, err)
		}
		e.ColumnLineage, e.JoinTypes, e.Conditions = a.ColumnLineage, a.JoinTypes, a.Conditions
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read edges: %w", err)
	}
	return out, nil
}

// Node returns one stored node.
func (s *SQLiteStore) Node(ctx context.Context, id string) (graph.Node, error) {
	if s.db == nil {
		return graph.Node{}, errNotOpened
	}
	nodes, err := s.queryNodes(ctx, `SELECT id, kind, name, technology, attributes FROM nodes WHERE id = ?`, id)
	if err != nil {
		return graph.Node{}, err
	}
	if len(nodes) == 0 {
		return graph.Node{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return nodes[0], nil
}

func (s *SQLiteStore) queryNodes(ctx context.Context, query string, args ...any) ([]graph.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []graph.Node
	for rows.Next() {
		var (
			n     graph.Node
			kind  string
			attrs string
		)
		if err := rows.Scan(&n.ID, &kind, &n.Name, &n.Technology, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		n.Kind = graph.NodeKind(kind)
		var a nodeAttributes
		if err := json.Unmarshal([]byte(attrs), &a); err != nil {
			return nil, fmt.Errorf("failed to decode node %s: %w", n.ID, err)
		}
		n.Operation, n.Table = a.Operation, a.Table
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}
	return out, nil
}

// Diagnostics returns the stored diagnostics in sorted order.
func (s *SQLiteStore) Diagnostics(ctx context.Context) ([]graph.Diagnostic, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, severity, message FROM diagnostics`)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []graph.Diagnostic
	for rows.Next() {
		var (
			d        graph.Diagnostic
			severity string
		)
		if err := rows.Scan(&d.SourceID, &severity, &d.Message); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		d.Severity, _ = graph.ParseSeverity(severity)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read diagnostics: %w", err)
	}
	return graph.SortDiagnostics(out), nil
}

// Counts returns the number of stored nodes and edges.
func (s *SQLiteStore) Counts(ctx context.Context) (nodes, edges int, err error) {
	if s.db == nil {
		return 0, 0, errNotOpened
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM nodes), (SELECT COUNT(*) FROM edges)`,
	).Scan(&nodes, &edges)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count graph: %w", err)
	}
	return nodes, edges, nil
}
