// Package store provides the SQLite-backed operational cache named in
// §1's non-goals ("an optional persistent cache frontier") and SPEC_FULL's
// domain stack: derived, regenerable history over periodic-worker ticks,
// Kobold task runs, and verification runs. Nothing here is a source of
// truth — projects.json, task files, and plan-index.json remain that — so
// a missing or corrupted database only degrades the /metrics surface,
// never the orchestrator's own state machine.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the operational SQLite cache.
type Store struct {
	db *sql.DB
}

// TickRecord is one periodic-worker cycle (§4.6): which service ran, how
// many eligible items it found, how long the cycle took, and whether the
// tick was dropped because a prior cycle was still active (§8 scenario 5).
type TickRecord struct {
	ID        int64
	Service   string
	StartedAt time.Time
	DurationMS int64
	ItemCount int
	Dropped   bool
}

// KoboldRunRecord is one completed Kobold task execution (§3 "Kobold",
// §4.9 "PlanningInsight"), mirrored here purely for cross-project
// aggregate queries the in-memory planningctx.Context LRU doesn't keep
// once a project is evicted.
type KoboldRunRecord struct {
	ID              int64
	ProjectID       string
	TaskID          string
	KoboldID        string
	AgentType       string
	Success         bool
	DurationSeconds float64
	CompletedAt     time.Time
	ErrorMessage    string
}

// VerificationRunRecord is one verifier pass (§4.8) over a project.
type VerificationRunRecord struct {
	ID            int64
	ProjectID     string
	Status        string
	ChecksPassed  int
	ChecksFailed  int
	StartedAt     time.Time
	CompletedAt   time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS tick_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT NOT NULL,
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	duration_ms INTEGER NOT NULL DEFAULT 0,
	item_count INTEGER NOT NULL DEFAULT 0,
	dropped BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS kobold_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	kobold_id TEXT NOT NULL,
	agent_type TEXT NOT NULL,
	success BOOLEAN NOT NULL DEFAULT 0,
	duration_seconds REAL NOT NULL DEFAULT 0,
	completed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS verification_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	status TEXT NOT NULL,
	checks_passed INTEGER NOT NULL DEFAULT 0,
	checks_failed INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tick_history_service ON tick_history(service, started_at);
CREATE INDEX IF NOT EXISTS idx_kobold_runs_project ON kobold_runs(project_id, completed_at);
CREATE INDEX IF NOT EXISTS idx_kobold_runs_agent_type ON kobold_runs(agent_type);
CREATE INDEX IF NOT EXISTS idx_verification_runs_project ON verification_runs(project_id, started_at);
`

// Open creates or opens a SQLite database at dbPath and ensures the
// schema exists, matching the teacher's WAL + busy-timeout pragma dial
// string (internal/store.Open in the pre-transformation tree).
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordTick appends one periodic-worker cycle outcome (§4.6, §8 scenario 5).
func (s *Store) RecordTick(r TickRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO tick_history (service, started_at, duration_ms, item_count, dropped) VALUES (?, ?, ?, ?, ?)`,
		r.Service, r.StartedAt, r.DurationMS, r.ItemCount, r.Dropped,
	)
	return err
}

// RecordKoboldRun appends one completed Kobold task execution.
func (s *Store) RecordKoboldRun(r KoboldRunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO kobold_runs (project_id, task_id, kobold_id, agent_type, success, duration_seconds, completed_at, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ProjectID, r.TaskID, r.KoboldID, r.AgentType, r.Success, r.DurationSeconds, r.CompletedAt, r.ErrorMessage,
	)
	return err
}

// RecordVerificationRun appends one verifier pass outcome (§4.8).
func (s *Store) RecordVerificationRun(r VerificationRunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO verification_runs (project_id, status, checks_passed, checks_failed, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ProjectID, r.Status, r.ChecksPassed, r.ChecksFailed, r.StartedAt, r.CompletedAt,
	)
	return err
}

// ProjectVelocity aggregates kobold_runs for /metrics: success rate and
// average duration over the last `window`, mirroring the shape
// planningctx.Context.GetProjectStatistics exposes for live projects.
type ProjectVelocity struct {
	ProjectID   string
	RunCount    int
	SuccessRate float64
	AvgDuration float64
}

// Velocity computes ProjectVelocity for every project with at least one
// recorded Kobold run since cutoff.
func (s *Store) Velocity(cutoff time.Time) ([]ProjectVelocity, error) {
	rows, err := s.db.Query(
		`SELECT project_id, COUNT(*), AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END), AVG(duration_seconds)
		 FROM kobold_runs WHERE completed_at >= ? GROUP BY project_id ORDER BY project_id`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectVelocity
	for rows.Next() {
		var v ProjectVelocity
		if err := rows.Scan(&v.ProjectID, &v.RunCount, &v.SuccessRate, &v.AvgDuration); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// RecentTicks returns the most recent n tick_history rows for a service,
// newest first, for a health/status surface.
func (s *Store) RecentTicks(service string, n int) ([]TickRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, service, started_at, duration_ms, item_count, dropped FROM tick_history
		 WHERE service = ? ORDER BY started_at DESC LIMIT ?`,
		service, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickRecord
	for rows.Next() {
		var r TickRecord
		if err := rows.Scan(&r.ID, &r.Service, &r.StartedAt, &r.DurationMS, &r.ItemCount, &r.Dropped); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
