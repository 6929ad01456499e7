package store

import (
	"database/sql"
	"fmt"
)

// VerificationGet returns the cached multikey for did, if present and not
// older than maxAge seconds relative to now.
func (s *Store) VerificationGet(did string, now, maxAge int64) (string, bool, error) {
	var multikey string
	var updatedAt int64
	err := s.db.QueryRow(
		`SELECT multikey, updated_at FROM verification_method_cache WHERE did = ?`, did,
	).Scan(&multikey, &updatedAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("verification get: %w", err)
	}
	if now-updatedAt > maxAge {
		return "", false, nil
	}
	return multikey, true, nil
}

// VerificationPut caches multikey for did.
func (s *Store) VerificationPut(did, multikey string, updatedAt int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("verification put: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO verification_method_cache (did, multikey, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(did) DO UPDATE SET multikey = excluded.multikey, updated_at = excluded.updated_at`,
		did, multikey, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("verification put: %w", err)
	}

	return tx.Commit()
}

// VerificationCleanup deletes cache entries older than before (a 7-day
// TTL is the original's convention).
func (s *Store) VerificationCleanup(before int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("verification cleanup: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM verification_method_cache WHERE updated_at < ?`, before); err != nil {
		return fmt.Errorf("verification cleanup: %w", err)
	}

	return tx.Commit()
}
