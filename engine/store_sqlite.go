package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const cycleSQLiteSchema = `
CREATE TABLE IF NOT EXISTS cycles (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	cycle_number INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	window_start TEXT,
	window_end TEXT,
	outcome TEXT NOT NULL,
	failure_reason TEXT,
	next_run_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_cycles_number ON cycles(cycle_number);`

// SQLiteCycleStoreConfig configures the SQLite-backed cycle store.
type SQLiteCycleStoreConfig struct {
	DSN string

	// Retention caps retained rows; oldest rows are pruned on append.
	// <= 0 uses DefaultHistoryLimit.
	Retention int
}

// SQLiteCycleStore persists cycle records in SQLite with the same capped
// FIFO contract as MemoryCycleStore, surviving process restarts.
type SQLiteCycleStore struct {
	db        *sql.DB
	retention int
}

// NewSQLiteCycleStore opens (or creates) a SQLite-backed cycle store.
func NewSQLiteCycleStore(cfg SQLiteCycleStoreConfig) (*SQLiteCycleStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("cycle store sqlite dsn is required")
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultHistoryLimit
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("cycle sqlite store open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cycle sqlite store pragma: %w", err)
	}
	if _, err := db.Exec(cycleSQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cycle sqlite store schema: %w", err)
	}

	return &SQLiteCycleStore{db: db, retention: retention}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteCycleStore) Close() error {
	return s.db.Close()
}

// Append records one finished cycle and prunes rows beyond the retention cap.
func (s *SQLiteCycleStore) Append(ctx context.Context, rec CycleRecord) error {
	var windowStart, windowEnd any
	if rec.Window != nil {
		windowStart = rec.Window.Start.UTC().Format(time.RFC3339Nano)
		windowEnd = rec.Window.End.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO cycles
	(run_id, cycle_number, started_at, finished_at, window_start, window_end, outcome, failure_reason, next_run_at)
VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.CycleNumber,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		windowStart,
		windowEnd,
		string(rec.Outcome),
		nullIfEmptyString(rec.FailureReason),
		formatNullableTime(rec.NextRunAt),
	)
	if err != nil {
		return fmt.Errorf("cycle sqlite store append: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
DELETE FROM cycles
WHERE seq NOT IN (SELECT seq FROM cycles ORDER BY seq DESC LIMIT ?)`,
		s.retention,
	)
	if err != nil {
		return fmt.Errorf("cycle sqlite store prune: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteCycleStore) Recent(ctx context.Context, limit int) ([]CycleRecord, error) {
	if limit <= 0 || limit > s.retention {
		limit = s.retention
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, cycle_number, started_at, finished_at, window_start, window_end, outcome, failure_reason, next_run_at
FROM cycles
ORDER BY seq DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("cycle sqlite store recent: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make([]CycleRecord, 0, limit)
	for rows.Next() {
		rec, err := scanCycleRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cycle sqlite store recent rows: %w", err)
	}
	return out, nil
}

// Latest returns the most recently appended record.
func (s *SQLiteCycleStore) Latest(ctx context.Context) (CycleRecord, bool, error) {
	recs, err := s.Recent(ctx, 1)
	if err != nil {
		return CycleRecord{}, false, err
	}
	if len(recs) == 0 {
		return CycleRecord{}, false, nil
	}
	return recs[0], true, nil
}

func scanCycleRecord(rows *sql.Rows) (CycleRecord, error) {
	var (
		rec           CycleRecord
		startedAt     string
		finishedAt    string
		windowStart   sql.NullString
		windowEnd     sql.NullString
		outcome       string
		failureReason sql.NullString
		nextRunAt     sql.NullString
	)
	if err := rows.Scan(
		&rec.RunID,
		&rec.CycleNumber,
		&startedAt,
		&finishedAt,
		&windowStart,
		&windowEnd,
		&outcome,
		&failureReason,
		&nextRunAt,
	); err != nil {
		return CycleRecord{}, fmt.Errorf("cycle sqlite store scan: %w", err)
	}

	started, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("cycle sqlite store parse started_at: %w", err)
	}
	finished, err := time.Parse(time.RFC3339Nano, finishedAt)
	if err != nil {
		return CycleRecord{}, fmt.Errorf("cycle sqlite store parse finished_at: %w", err)
	}
	rec.StartedAt = started
	rec.FinishedAt = finished
	rec.Outcome = Outcome(outcome)
	rec.FailureReason = failureReason.String

	if windowStart.Valid && windowEnd.Valid {
		ws, err := time.Parse(time.RFC3339Nano, windowStart.String)
		if err != nil {
			return CycleRecord{}, fmt.Errorf("cycle sqlite store parse window_start: %w", err)
		}
		we, err := time.Parse(time.RFC3339Nano, windowEnd.String)
		if err != nil {
			return CycleRecord{}, fmt.Errorf("cycle sqlite store parse window_end: %w", err)
		}
		rec.Window = &Window{Start: ws, End: we}
	}
	if nextRunAt.Valid {
		next, err := time.Parse(time.RFC3339Nano, nextRunAt.String)
		if err != nil {
			return CycleRecord{}, fmt.Errorf("cycle sqlite store parse next_run_at: %w", err)
		}
		rec.NextRunAt = &next
	}
	return rec, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullIfEmptyString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
