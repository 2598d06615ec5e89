// Package sqlite is the durable RunStore backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conveyorci/conveyor/internal/storage"
)

// Store is a SQLite implementation of storage.RunStore.
type Store struct {
	db *sql.DB
}

var _ storage.RunStore = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			branch TEXT NOT NULL,
			commit_sha TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stage_results (
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			parent TEXT,
			state TEXT NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT 0,
			stdout TEXT,
			stderr TEXT,
			reason TEXT,
			artifacts TEXT,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL,
			PRIMARY KEY (run_id, name),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_results_run ON stage_results(run_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run *storage.RunRecord) error {
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt

	query := `INSERT INTO runs (id, pipeline, branch, commit_sha, status, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Pipeline, run.Branch, run.Commit, run.Status, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, id, status string) error {
	query := `UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	query := `SELECT id, pipeline, branch, commit_sha, status, created_at, updated_at
	          FROM runs WHERE id = ?`

	var run storage.RunRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Pipeline, &run.Branch, &run.Commit, &run.Status,
		&run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, opts storage.ListOptions) ([]*storage.RunRecord, error) {
	query := `SELECT id, pipeline, branch, commit_sha, status, created_at, updated_at FROM runs`
	args := []any{}

	if opts.Pipeline != "" {
		query += ` WHERE pipeline = ?`
		args = append(args, opts.Pipeline)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var result []*storage.RunRecord
	for rows.Next() {
		var run storage.RunRecord
		if err := rows.Scan(&run.ID, &run.Pipeline, &run.Branch, &run.Commit,
			&run.Status, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		result = append(result, &run)
	}
	return result, rows.Err()
}

func (s *Store) SaveStageResults(ctx context.Context, runID string, stages []storage.StageRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT OR REPLACE INTO stage_results
	          (run_id, name, parent, state, exit_code, stdout, stderr, reason, artifacts, duration_ns, position)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, st := range stages {
		_, err := tx.ExecContext(ctx, query,
			runID, st.Name, st.Parent, st.State, st.ExitCode,
			st.Stdout, st.Stderr, st.Reason, st.Artifacts,
			int64(st.Duration), st.Position)
		if err != nil {
			return fmt.Errorf("failed to save stage result %q: %w", st.Name, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListStageResults(ctx context.Context, runID string) ([]storage.StageRecord, error) {
	query := `SELECT run_id, name, parent, state, exit_code, stdout, stderr, reason, artifacts, duration_ns, position
	          FROM stage_results WHERE run_id = ? ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage results: %w", err)
	}
	defer rows.Close()

	var result []storage.StageRecord
	for rows.Next() {
		var st storage.StageRecord
		var parent, stdout, stderr, reason, artifacts sql.NullString
		var durationNS int64
		if err := rows.Scan(&st.RunID, &st.Name, &parent, &st.State, &st.ExitCode,
			&stdout, &stderr, &reason, &artifacts, &durationNS, &st.Position); err != nil {
			return nil, fmt.Errorf("failed to scan stage result: %w", err)
		}
		st.Parent = parent.String
		st.Stdout = stdout.String
		st.Stderr = stderr.String
		st.Reason = reason.String
		st.Artifacts = artifacts.String
		st.Duration = time.Duration(durationNS)
		result = append(result, st)
	}
	return result, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
