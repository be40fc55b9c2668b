package store

import (
	"database/sql"
	"fmt"
	"time"
)

// BeginRun records the start of a run
func (s *Store) BeginRun(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, command, started_at, dry_run, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Command, run.StartedAt, boolToInt(run.DryRun), run.Status)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// FinishRun records a run's outcome and totals
func (s *Store) FinishRun(run *Run) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}

	res, err := s.db.Exec(`
		UPDATE runs
		SET finished_at = ?, status = ?, transfers = ?, renames = ?, prunes = ?,
		    warnings = ?, failures = ?, bytes_written = ?, error = ?
		WHERE id = ?
	`, run.FinishedAt, run.Status, run.Transfers, run.Renames, run.Prunes,
		run.Warnings, run.Failures, run.BytesWritten, nullString(run.Error), run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

const runColumns = `id, command, started_at, finished_at, dry_run, status, transfers, renames,
	prunes, warnings, failures, bytes_written, COALESCE(error, '')`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var run Run
	var finished sql.NullTime
	var dryRun int

	err := row.Scan(&run.ID, &run.Command, &run.StartedAt, &finished, &dryRun, &run.Status,
		&run.Transfers, &run.Renames, &run.Prunes, &run.Warnings, &run.Failures,
		&run.BytesWritten, &run.Error)
	if err != nil {
		return nil, err
	}
	run.DryRun = dryRun == 1
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return &run, nil
}

// GetRun returns a run by id, or nil if it does not exist
func (s *Store) GetRun(id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// RecentRuns returns the most recent runs, newest first
func (s *Store) RecentRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
