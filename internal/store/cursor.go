package store

import (
	"database/sql"
	"fmt"
)

// CursorGet returns the last checkpointed time_us for source, if any.
func (s *Store) CursorGet(source string) (int64, bool, error) {
	var timeUs int64
	err := s.db.QueryRow(`SELECT time_us FROM consumer_control WHERE source = ?`, source).Scan(&timeUs)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cursor get: %w", err)
	}
	return timeUs, true, nil
}

// CursorPut checkpoints the running-max time_us for source.
func (s *Store) CursorPut(source string, timeUs, updatedAt int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cursor put: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO consumer_control (source, time_us, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET time_us = excluded.time_us, updated_at = excluded.updated_at`,
		source, timeUs, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("cursor put: %w", err)
	}

	return tx.Commit()
}
