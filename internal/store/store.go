package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store wraps SQLite access for pipeline bookkeeping: tracked input files,
// pipeline runs with their logs, and poller state. Sensor data itself never
// lands in the database; it stays in the CSV artifacts.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS files (
			filename TEXT PRIMARY KEY,
			origin TEXT,
			status TEXT,
			last_stage TEXT,
			last_error TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			source TEXT,
			status TEXT,
			created_at TIMESTAMP,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS run_logs (
			run_id TEXT,
			line TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS fetch_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMP
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// File status values.
const (
	FileStatusSeen      = "seen"
	FileStatusProcessed = "processed"
	FileStatusSkipped   = "skipped"
	FileStatusError     = "error"
)

// Run status values.
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// File records one tracked input file.
type File struct {
	Filename  string    `json:"filename"`
	Origin    string    `json:"origin"`
	Status    string    `json:"status"`
	LastStage string    `json:"last_stage"`
	LastError *string   `json:"last_error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Run records one pipeline execution.
type Run struct {
	RunID      string     `json:"run_id"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

func (s *Store) UpsertFile(ctx context.Context, filename, origin, stage, status string, errMsg *string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO files(filename, origin, status, last_stage, last_error, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET origin=excluded.origin, status=excluded.status, last_stage=excluded.last_stage, last_error=excluded.last_error, updated_at=excluded.updated_at`,
		filename, origin, status, stage, errMsg, ts, ts)
	return err
}

func (s *Store) ListFiles(ctx context.Context, limit int) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename, origin, status, last_stage, last_error, created_at, updated_at FROM files ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []File
	for rows.Next() {
		var f File
		var errMsg sql.NullString
		if err := rows.Scan(&f.Filename, &f.Origin, &f.Status, &f.LastStage, &errMsg, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			f.LastError = &errMsg.String
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FileStatuses returns filename -> status for the whole table, used by the
// reprocess helper to skip files already handled.
func (s *Store) FileStatuses(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename, status FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	statuses := make(map[string]string)
	for rows.Next() {
		var name, status string
		if err := rows.Scan(&name, &status); err != nil {
			return nil, err
		}
		statuses[name] = status
	}
	return statuses, rows.Err()
}

// CreateRun records a queued run and returns it with a fresh run ID.
func (s *Store) CreateRun(ctx context.Context, trigger string, ts time.Time) (*Run, error) {
	run := &Run{RunID: uuid.NewString(), Trigger: trigger, Status: RunStatusQueued, CreatedAt: ts}
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs(run_id, source, status, created_at) VALUES(?,?,?,?)`,
		run.RunID, run.Trigger, run.Status, run.CreatedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) MarkRunStarted(ctx context.Context, runID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET status=?, started_at=? WHERE run_id=?`, RunStatusRunning, ts, runID)
	return err
}

func (s *Store) MarkRunFinished(ctx context.Context, runID, status string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET status=?, finished_at=? WHERE run_id=?`, status, ts, runID)
	return err
}

func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, source, status, created_at, started_at, finished_at FROM runs WHERE run_id=?`, runID)
	var r Run
	var started, finished sql.NullTime
	switch err := row.Scan(&r.RunID, &r.Trigger, &r.Status, &r.CreatedAt, &started, &finished); err {
	case nil:
		if started.Valid {
			r.StartedAt = &started.Time
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		return &r, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, err
	}
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, source, status, created_at, started_at, finished_at FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished sql.NullTime
		if err := rows.Scan(&r.RunID, &r.Trigger, &r.Status, &r.CreatedAt, &started, &finished); err != nil {
			return nil, err
		}
		if started.Valid {
			r.StartedAt = &started.Time
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) AppendRunLog(ctx context.Context, runID, line string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO run_logs(run_id, line, created_at) VALUES(?,?,?)`, runID, line, ts)
	return err
}

func (s *Store) RunLogs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT line FROM run_logs WHERE run_id=? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// GetState returns the stored value for a poller state key, "" if absent.
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM fetch_state WHERE key=?`, key)
	var v string
	switch err := row.Scan(&v); err {
	case nil:
		return v, nil
	case sql.ErrNoRows:
		return "", nil
	default:
		return "", err
	}
}

func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO fetch_state(key, value, updated_at) VALUES(?,?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC())
	return err
}

// Health returns err if the database is not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}
