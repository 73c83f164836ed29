// Package jobs persists submitted backend jobs in a local SQLite ledger, so
// the CLI can list recent submissions and re-attach polling to a job after
// a restart. The ledger is a cache of client-side knowledge — the backend
// remains the source of truth for job status.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Job kinds recorded in the ledger.
const (
	KindOptimize = "optimize"
	KindAgent    = "agent"
)

// ErrNotFound is returned when a job ID has no ledger entry.
var ErrNotFound = errors.New("jobs: not found")

// Job is one ledger row.
type Job struct {
	JobID     string
	Kind      string // KindOptimize or KindAgent
	Params    json.RawMessage
	Status    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ledger is the SQLite-backed job ledger. Single-writer: the CLI runs one
// process at a time against it (SetMaxOpenConns(1) enforces serialization
// within the process too).
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger database at dbPath and applies
// pending schema migrations. Use ":memory:" for tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("jobs: opening ledger %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record inserts a newly submitted job. The params echo is stored as JSON
// so `jobs list` can show what each job was started with.
func (l *Ledger) Record(ctx context.Context, jobID, kind string, params any, status string) error {
	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("jobs: encoding params for %s: %w", jobID, err)
	}

	now := time.Now().UTC()

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, kind, params, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, kind, string(encoded), status, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("jobs: recording %s: %w", jobID, err)
	}

	l.logger.Debug("job recorded",
		slog.String("job_id", jobID),
		slog.String("kind", kind),
		slog.String("status", status),
	)

	return nil
}

// UpdateStatus advances the stored status (and error message) for a job.
// Unknown job IDs are ignored — a status update for a job submitted from
// another machine is not an error.
func (l *Ledger) UpdateStatus(ctx context.Context, jobID, status, errMsg string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE job_id = ?`,
		status, errMsg, time.Now().UTC().Unix(), jobID,
	)
	if err != nil {
		return fmt.Errorf("jobs: updating %s: %w", jobID, err)
	}

	return nil
}

// Get returns the ledger entry for a job ID, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, jobID string) (*Job, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT job_id, kind, params, status, error, created_at, updated_at
		 FROM jobs WHERE job_id = ?`, jobID)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("jobs: reading %s: %w", jobID, err)
	}

	return job, nil
}

// Recent returns up to limit jobs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Job, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT job_id, kind, params, status, error, created_at, updated_at
		 FROM jobs ORDER BY created_at DESC, job_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("jobs: listing: %w", err)
	}
	defer rows.Close()

	var out []Job

	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobs: scanning row: %w", scanErr)
		}

		out = append(out, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobs: iterating rows: %w", err)
	}

	return out, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanJob reads one ledger row.
func scanJob(s scanner) (*Job, error) {
	var (
		job                  Job
		params, errMsg       sql.NullString
		createdAt, updatedAt int64
	)

	if err := s.Scan(&job.JobID, &job.Kind, &params, &job.Status, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if params.Valid {
		job.Params = json.RawMessage(params.String)
	}

	job.Error = errMsg.String
	job.CreatedAt = time.Unix(createdAt, 0).UTC()
	job.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &job, nil
}
