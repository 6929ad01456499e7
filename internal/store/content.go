package store

import (
	"fmt"
)

// ContentRow is one row of the feed_content table.
type ContentRow struct {
	FeedID    string
	URI       string
	IndexedAt int64
	UpdatedAt int64
	Score     int32
	IsRepost  bool
	RepostURI *string
}

// ContentUpsert inserts row if (feed_id, uri) is absent, returning true.
// If the key is already present, it makes no mutation and returns false
// (duplicate) — the Upsert semantic matchers rely on.
func (s *Store) ContentUpsert(row ContentRow) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("content upsert: begin: %w", err)
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRow(
		`SELECT COUNT(*) FROM feed_content WHERE feed_id = ? AND uri = ?`,
		row.FeedID, row.URI,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("content upsert: checking existence: %w", err)
	}
	if count > 0 {
		return false, tx.Commit()
	}

	score := row.Score
	if score == 0 {
		score = 1
	}
	_, err = tx.Exec(
		`INSERT INTO feed_content (feed_id, uri, indexed_at, updated_at, score, is_repost, repost_uri)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.FeedID, row.URI, row.IndexedAt, row.UpdatedAt, score, boolToInt(row.IsRepost), row.RepostURI,
	)
	if err != nil {
		return false, fmt.Errorf("content upsert: inserting: %w", err)
	}

	return true, tx.Commit()
}

// ContentUpdate adds delta to the row's score and advances updated_at.
// It fails silently (no error, no insert) if the row is absent.
func (s *Store) ContentUpdate(feedID, uri string, delta int32, updatedAt int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("content update: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE feed_content SET score = score + ?, updated_at = ? WHERE feed_id = ? AND uri = ?`,
		delta, updatedAt, feedID, uri,
	)
	if err != nil {
		return fmt.Errorf("content update: %w", err)
	}

	return tx.Commit()
}

// ContentTruncate deletes every row with updated_at < before. Running it
// twice in succession with the same cutoff is a no-op the second time.
func (s *Store) ContentTruncate(before int64) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("content truncate: begin: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`DELETE FROM feed_content WHERE updated_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("content truncate: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("content truncate: rows affected: %w", err)
	}

	return rows, tx.Commit()
}

// ContentPurge deletes rows by uri, optionally scoped to a single feed.
func (s *Store) ContentPurge(uri string, feedID *string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("content purge: begin: %w", err)
	}
	defer tx.Rollback()

	if feedID != nil {
		_, err = tx.Exec(`DELETE FROM feed_content WHERE uri = ? AND feed_id = ?`, uri, *feedID)
	} else {
		_, err = tx.Exec(`DELETE FROM feed_content WHERE uri = ?`, uri)
	}
	if err != nil {
		return fmt.Errorf("content purge: %w", err)
	}

	return tx.Commit()
}

// FeedPage returns up to limit uris for feedURI ordered by indexed_at
// descending, skipping the first offset rows.
func (s *Store) FeedPage(feedURI string, limit, offset int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT uri FROM feed_content WHERE feed_id = ? ORDER BY indexed_at DESC, uri DESC LIMIT ? OFFSET ?`,
		feedURI, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("feed page: %w", err)
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("feed page: scanning: %w", err)
		}
		uris = append(uris, uri)
	}
	return uris, rows.Err()
}

// FeedPageItem is one FeedPage row plus its repost metadata, used by
// the timeline-feed HTTP branch to tag reposts in the response.
type FeedPageItem struct {
	URI       string
	IsRepost  bool
	RepostURI *string
	IndexedAt int64
}

// FeedPageItems returns up to limit rows for feedURI ordered by
// indexed_at descending, skipping the first offset rows, carrying each
// row's repost metadata.
func (s *Store) FeedPageItems(feedURI string, limit, offset int) ([]FeedPageItem, error) {
	rows, err := s.db.Query(
		`SELECT uri, is_repost, repost_uri, indexed_at FROM feed_content
		 WHERE feed_id = ? ORDER BY indexed_at DESC, uri DESC LIMIT ? OFFSET ?`,
		feedURI, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("feed page items: %w", err)
	}
	defer rows.Close()

	var items []FeedPageItem
	for rows.Next() {
		var item FeedPageItem
		var isRepost int
		if err := rows.Scan(&item.URI, &isRepost, &item.RepostURI, &item.IndexedAt); err != nil {
			return nil, fmt.Errorf("feed page items: scanning: %w", err)
		}
		item.IsRepost = isRepost != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

// PopularRow is a feed_content row plus the fields needed to compute a
// popular-sort score.
type PopularRow struct {
	URI       string
	Score     int32
	IndexedAt int64
}

// RecentRows returns the most recent limit rows for feedURI, ordered by
// indexed_at descending, used as the input set for both the simple and
// popular scoring cache builders.
func (s *Store) RecentRows(feedURI string, limit int) ([]PopularRow, error) {
	rows, err := s.db.Query(
		`SELECT uri, score, indexed_at FROM feed_content
		 WHERE feed_id = ? ORDER BY indexed_at DESC LIMIT ?`,
		feedURI, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent rows: %w", err)
	}
	defer rows.Close()

	var out []PopularRow
	for rows.Next() {
		var row PopularRow
		if err := rows.Scan(&row.URI, &row.Score, &row.IndexedAt); err != nil {
			return nil, fmt.Errorf("recent rows: scanning: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
