// Package state keeps local pipeline bookkeeping: run history and the newest
// message seen per channel.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID         string
	Trigger    string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    string
}

// Checkpoint is the newest message extracted from a channel.
type Checkpoint struct {
	Channel  string
	LastID   int64
	LastDate time.Time
}

type runRow struct {
	ID         string         `db:"id"`
	Trigger    string         `db:"origin"`
	Status     string         `db:"status"`
	StartedAt  string         `db:"started_at"`
	FinishedAt sql.NullString `db:"finished_at"`
	Summary    sql.NullString `db:"summary"`
}

type checkpointRow struct {
	Channel  string `db:"channel"`
	LastID   int64  `db:"last_id"`
	LastDate string `db:"last_date"`
}

// Store is the sqlite-backed state repository.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the state database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate state database: %w", err)
	}

	logger.Info("State store initialized", zap.String("path", path))
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		origin TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		summary TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS checkpoints (
		channel TEXT PRIMARY KEY,
		last_id INTEGER NOT NULL,
		last_date TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a new running pipeline execution.
func (s *Store) StartRun(ctx context.Context, trigger string) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, origin, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Trigger, run.Status, run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Run{}, fmt.Errorf("failed to record run start: %w", err)
	}
	return run, nil
}

// FinishRun closes a run with its final status and a summary.
func (s *Store) FinishRun(ctx context.Context, id, status, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, summary = ? WHERE id = ?`,
		status, s.now().UTC().Format(time.RFC3339Nano), summary, id)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// LastRuns returns the n most recent runs, newest first.
func (s *Store) LastRuns(ctx context.Context, n int) ([]Run, error) {
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, origin, status, started_at, finished_at, summary
		 FROM runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		run := Run{ID: r.ID, Trigger: r.Trigger, Status: r.Status, Summary: r.Summary.String}
		if run.StartedAt, err = time.Parse(time.RFC3339Nano, r.StartedAt); err != nil {
			return nil, fmt.Errorf("invalid started_at for run %s: %w", r.ID, err)
		}
		if r.FinishedAt.Valid {
			if run.FinishedAt, err = time.Parse(time.RFC3339Nano, r.FinishedAt.String); err != nil {
				return nil, fmt.Errorf("invalid finished_at for run %s: %w", r.ID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Checkpoint returns the stored checkpoint of channel, if any.
func (s *Store) Checkpoint(ctx context.Context, channel string) (Checkpoint, bool, error) {
	var row checkpointRow
	err := s.db.GetContext(ctx, &row,
		`SELECT channel, last_id, last_date FROM checkpoints WHERE channel = ?`, channel)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("failed to query checkpoint: %w", err)
	}

	date, err := time.Parse(time.RFC3339Nano, row.LastDate)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("invalid checkpoint date for %s: %w", channel, err)
	}
	return Checkpoint{Channel: row.Channel, LastID: row.LastID, LastDate: date}, true, nil
}

// SaveCheckpoint upserts a channel checkpoint. A checkpoint never moves
// backwards.
func (s *Store) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (channel, last_id, last_date) VALUES (?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
			last_id = excluded.last_id,
			last_date = excluded.last_date
		WHERE excluded.last_id > checkpoints.last_id`,
		cp.Channel, cp.LastID, cp.LastDate.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	s.logger.Debug("Checkpoint saved", zap.String("channel", cp.Channel), zap.Int64("last_id", cp.LastID))
	return nil
}
