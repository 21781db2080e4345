// Package history records every phase run (captures and comparisons) in a
// SQLite database so earlier outcomes can be listed and inspected.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/visreg/compare"
	"github.com/hazyhaar/visreg/internal/dbopen"
	"github.com/hazyhaar/visreg/internal/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	phase       TEXT NOT NULL,
	site        TEXT NOT NULL DEFAULT '',
	suite       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	total       INTEGER NOT NULL DEFAULT 0,
	passed      INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	errors      INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

CREATE TABLE IF NOT EXISTS comparisons (
	run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	filename        TEXT NOT NULL,
	page            TEXT NOT NULL,
	device          TEXT NOT NULL,
	diff_percentage REAL NOT NULL DEFAULT 0,
	pixel_diff      INTEGER NOT NULL DEFAULT 0,
	severity        TEXT,
	passed          INTEGER NOT NULL DEFAULT 0,
	success         INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, filename)
);
`

// Run statuses.
const (
	StatusOK      = "ok"
	StatusChanges = "changes"
	StatusFailed  = "failed"
)

// Run is one recorded phase execution. For capture phases Passed and
// Failed hold successful and failed captures.
type Run struct {
	ID         string    `json:"id"`
	Phase      string    `json:"phase"`
	Site       string    `json:"site"`
	Suite      string    `json:"suite,omitempty"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Errors     int       `json:"errors"`
	Error      string    `json:"error,omitempty"`
}

// Store is the history database.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return &Store{db: db, newID: idgen.Prefixed("run_", idgen.UUIDv7())}, nil
}

// New wraps an open database, creating the tables if needed.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("history: schema: %w", err)
	}
	return &Store{db: db, newID: idgen.Prefixed("run_", idgen.UUIDv7())}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record stores run and, for comparison phases, its per-pair results.
// run.ID is assigned when empty. It returns the run ID.
func (s *Store) Record(ctx context.Context, run Run, results []compare.Result) (string, error) {
	if run.ID == "" {
		run.ID = s.newID()
	}
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, phase, site, suite, status, started_at, finished_at, total, passed, failed, errors, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Phase, run.Site, run.Suite, run.Status,
			run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
			run.Total, run.Passed, run.Failed, run.Errors, run.Error,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO comparisons (run_id, filename, page, device, diff_percentage, pixel_diff, severity, passed, success, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare comparison: %w", err)
		}
		defer stmt.Close()
		for _, r := range results {
			if _, err := stmt.ExecContext(ctx,
				run.ID, r.Filename, r.Page, r.Device, r.DiffPercentage, r.PixelDiff,
				severityColumn(r), r.Passed, r.Success, r.Error,
			); err != nil {
				return fmt.Errorf("insert comparison %s: %w", r.Filename, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("history: record: %w", err)
	}
	return run.ID, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phase, site, suite, status, started_at, finished_at, total, passed, failed, errors, error
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Phase, &r.Site, &r.Suite, &r.Status, &started, &finished,
			&r.Total, &r.Passed, &r.Failed, &r.Errors, &r.Error); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ErrNotFound is returned for an unknown run ID.
var ErrNotFound = errors.New("history: run not found")

// RunComparisons returns the pair results recorded for a run, in
// filename order.
func (s *Store) RunComparisons(ctx context.Context, runID string) ([]compare.Result, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: lookup run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, page, device, diff_percentage, pixel_diff, severity, passed, success, error
		 FROM comparisons WHERE run_id = ? ORDER BY filename`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: list comparisons: %w", err)
	}
	defer rows.Close()

	results := []compare.Result{}
	for rows.Next() {
		var r compare.Result
		var sev sql.NullString
		if err := rows.Scan(&r.Filename, &r.Page, &r.Device, &r.DiffPercentage, &r.PixelDiff,
			&sev, &r.Passed, &r.Success, &r.Error); err != nil {
			return nil, fmt.Errorf("history: scan comparison: %w", err)
		}
		if sev.Valid {
			if r.Severity, err = compare.ParseSeverity(sev.String); err != nil {
				return nil, fmt.Errorf("history: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// severityColumn is NULL for pairs that could not be compared.
func severityColumn(r compare.Result) any {
	if !r.Success {
		return nil
	}
	return r.Severity.String()
}
