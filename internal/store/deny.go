package store

import (
	"fmt"
	"strings"
)

// DenyUpsert adds or replaces subject's deny-list entry.
func (s *Store) DenyUpsert(subject, reason string, updatedAt int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("deny upsert: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO denylist (subject, reason, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(subject) DO UPDATE SET reason = excluded.reason, updated_at = excluded.updated_at`,
		subject, reason, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("deny upsert: %w", err)
	}

	return tx.Commit()
}

// DenyRemove deletes subject's deny-list entry, if any.
func (s *Store) DenyRemove(subject string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("deny remove: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM denylist WHERE subject = ?`, subject); err != nil {
		return fmt.Errorf("deny remove: %w", err)
	}

	return tx.Commit()
}

// DenyExists reports whether any of subjects is deny-listed.
func (s *Store) DenyExists(subjects ...string) (bool, error) {
	if len(subjects) == 0 {
		return false, nil
	}

	placeholders := make([]string, len(subjects))
	args := make([]any, len(subjects))
	for i, subject := range subjects {
		placeholders[i] = "?"
		args[i] = subject
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM denylist WHERE subject IN (%s)`, strings.Join(placeholders, ", "))

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("deny exists: %w", err)
	}

	return count > 0, nil
}
