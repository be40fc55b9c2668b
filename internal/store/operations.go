package store

import (
	"database/sql"
	"fmt"
	"time"
)

// BeginOperation records an operation as pending and returns its id
func (s *Store) BeginOperation(op *Operation) (int64, error) {
	if op.StartedAt.IsZero() {
		op.StartedAt = time.Now()
	}
	op.Status = StatusPending

	res, err := s.db.Exec(`
		INSERT INTO operations (run_id, backend, kind, song, src, dest, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, op.RunID, op.Backend, op.Kind, op.Song, op.Src, op.Dest, op.Status, op.StartedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to record operation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	op.ID = id
	return id, nil
}

// FinishOperation records an operation's outcome
func (s *Store) FinishOperation(id int64, status string, bytesWritten int64, opErr error) error {
	errMsg := ""
	if opErr != nil {
		errMsg = opErr.Error()
	}

	_, err := s.db.Exec(`
		UPDATE operations
		SET status = ?, bytes_written = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, bytesWritten, nullString(errMsg), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish operation: %w", err)
	}
	return nil
}

// GetOperations returns a run's operations in the order they were recorded
func (s *Store) GetOperations(runID string) ([]*Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, backend, kind, COALESCE(song, 0), COALESCE(src, ''), COALESCE(dest, ''),
		       status, bytes_written, COALESCE(error, ''), started_at, finished_at
		FROM operations
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		var finished sql.NullTime
		err := rows.Scan(&op.ID, &op.RunID, &op.Backend, &op.Kind, &op.Song, &op.Src, &op.Dest,
			&op.Status, &op.BytesWritten, &op.Error, &op.StartedAt, &finished)
		if err != nil {
			return nil, err
		}
		if finished.Valid {
			op.FinishedAt = finished.Time
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// CountOperationsByStatus returns how many of a run's operations are in each status
func (s *Store) CountOperationsByStatus(runID string) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM operations WHERE run_id = ? GROUP BY status
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
