// Package graph is Wyvern's task dependency DAG (§4.7): a per-analysis
// SQLite database (typically in-memory) recording task nodes and
// dependency edges, rejecting cycles on insert via a recursive-CTE
// reachability check, and computing dependency levels by repeated
// relaxation.
package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS edges (
	from_id TEXT NOT NULL,
	to_id   TEXT NOT NULL,
	PRIMARY KEY (from_id, to_id),
	FOREIGN KEY (from_id) REFERENCES nodes(id) ON DELETE CASCADE,
	FOREIGN KEY (to_id) REFERENCES nodes(id) ON DELETE CASCADE
);
`

// cycleCheckSQL mirrors the teacher's internal/graph/dag.go
// ensureNoCycle query: it asks "is `from` reachable from `to`?" — if so,
// adding the edge from->to would close a cycle.
const cycleCheckSQL = `
WITH RECURSIVE reachable(node_id) AS (
	SELECT to_id FROM edges WHERE from_id = ?
	UNION ALL
	SELECT e.to_id
	FROM edges e
	INNER JOIN reachable r ON e.from_id = r.node_id
)
SELECT 1 FROM reachable WHERE node_id = ? LIMIT 1;`

// ErrCycle is returned when adding an edge would create a cycle (§4.7:
// "cycle detection aborts the analysis with an explicit error").
type ErrCycle struct{ From, To string }

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("graph: edge %s -> %s would create a cycle", e.From, e.To)
}

// DAG is one analysis's dependency graph, backed by its own SQLite
// connection (opened in-memory per analysis; never shared across
// projects).
type DAG struct {
	db *sql.DB
}

// Open opens a fresh in-memory DAG and ensures its schema.
func Open(ctx context.Context) (*DAG, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open task graph: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create task graph schema: %w", err)
	}
	return &DAG{db: db}, nil
}

// Close releases the underlying connection.
func (d *DAG) Close() error { return d.db.Close() }

// AddNode registers a task id with no dependencies yet.
func (d *DAG) AddNode(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `INSERT OR IGNORE INTO nodes (id) VALUES (?);`, id)
	if err != nil {
		return fmt.Errorf("add node %s: %w", id, err)
	}
	return nil
}

// AddEdge records that `from` depends on `to`, rejecting the edge with
// *ErrCycle if it would close a cycle.
func (d *DAG) AddEdge(ctx context.Context, from, to string) error {
	if from == to {
		return &ErrCycle{From: from, To: to}
	}
	var marker int
	err := d.db.QueryRowContext(ctx, cycleCheckSQL, to, from).Scan(&marker)
	if err == nil {
		return &ErrCycle{From: from, To: to}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("cycle check %s->%s: %w", from, to, err)
	}
	if _, err := d.db.ExecContext(ctx, `INSERT OR IGNORE INTO edges (from_id, to_id) VALUES (?, ?);`, from, to); err != nil {
		return fmt.Errorf("add edge %s->%s: %w", from, to, err)
	}
	return nil
}

// Levels computes level(t) = 1 + max(level(dep)) over t's dependencies
// by repeated relaxation, with tasks that have no dependencies at level
// 0 (§4.7). Because AddEdge refuses cycle-forming edges at insert time,
// relaxation over the resulting DAG is guaranteed to converge within
// len(nodes) passes; a pass count beyond that bound indicates a bug
// upstream rather than a real cycle, and is reported the same way so the
// analysis still aborts with an explicit error instead of looping
// forever.
func (d *DAG) Levels(ctx context.Context) (map[string]int, error) {
	ids, err := d.nodeIDs(ctx)
	if err != nil {
		return nil, err
	}
	deps, err := d.allEdges(ctx)
	if err != nil {
		return nil, err
	}

	levels := make(map[string]int, len(ids))
	for _, id := range ids {
		levels[id] = 0
	}

	maxPasses := len(ids) + 1
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		for _, id := range ids {
			want := 0
			for _, dep := range deps[id] {
				if levels[dep]+1 > want {
					want = levels[dep] + 1
				}
			}
			if want != levels[id] {
				levels[id] = want
				changed = true
			}
		}
		if !changed {
			return levels, nil
		}
	}
	return nil, fmt.Errorf("graph: dependency levels did not converge after %d passes (unexpected cycle)", maxPasses)
}

func (d *DAG) nodeIDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM nodes;`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (d *DAG) allEdges(ctx context.Context) (map[string][]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT from_id, to_id FROM edges;`)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out[from] = append(out[from], to)
	}
	return out, rows.Err()
}
