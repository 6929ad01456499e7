package store

import (
	"database/sql"
	"fmt"

	"github.com/blackmichael/feedgen/internal/config"
)

// TimelineUserConfig is a row of the timeline_user_config table.
type TimelineUserConfig struct {
	DID                     string
	FeedURI                 string
	Name                    string
	Description             string
	PDSURL                  string
	AccessToken             string
	RefreshToken            sql.NullString
	ExpiresAt               sql.NullString
	PollIntervalSeconds     sql.NullInt64
	BackfillIntervalSeconds sql.NullInt64
	MaxPostsPerPoll         int64
	BackfillLimit           sql.NullInt64
}

// SyncTimelineConfig upserts every configured timeline feed's user config
// and filter rows, mirroring the YAML file into the database so restarts
// pick up edits without requiring a migration.
func (s *Store) SyncTimelineConfig(feeds *config.TimelineFeeds, now int64) error {
	for _, feed := range feeds.TimelineFeeds {
		if err := s.syncTimelineUser(feed, now); err != nil {
			return fmt.Errorf("syncing user config for %s: %w", feed.DID, err)
		}
		if err := s.syncTimelineFilters(feed.DID, feed.Filters); err != nil {
			return fmt.Errorf("syncing filters for %s: %w", feed.DID, err)
		}
	}
	return nil
}

func (s *Store) syncTimelineUser(feed config.TimelineFeed, now int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var pollSeconds, backfillSeconds sql.NullInt64
	if d, ok := feed.PollIntervalDuration(); ok {
		pollSeconds = sql.NullInt64{Int64: int64(d.Seconds()), Valid: true}
	}
	if d, ok := feed.BackfillIntervalDuration(); ok {
		backfillSeconds = sql.NullInt64{Int64: int64(d.Seconds()), Valid: true}
	}

	var backfillLimit sql.NullInt64
	if limit := feed.EffectiveBackfillLimit(); limit != nil {
		backfillLimit = sql.NullInt64{Int64: int64(*limit), Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO timeline_user_config (
			did, feed_uri, name, description, pds_url,
			access_token, refresh_token, expires_at,
			poll_interval_seconds, backfill_interval_seconds, max_posts_per_poll, backfill_limit, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET
			feed_uri = excluded.feed_uri,
			name = excluded.name,
			description = excluded.description,
			pds_url = excluded.pds_url,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			poll_interval_seconds = excluded.poll_interval_seconds,
			backfill_interval_seconds = excluded.backfill_interval_seconds,
			max_posts_per_poll = excluded.max_posts_per_poll,
			backfill_limit = excluded.backfill_limit,
			updated_at = excluded.updated_at`,
		feed.DID, feed.FeedURI, feed.Name, feed.Description, feed.OAuth.PDSURL,
		feed.OAuth.AccessToken, nullString(feed.OAuth.RefreshToken), nullString(feed.OAuth.ExpiresAt),
		pollSeconds, backfillSeconds, feed.EffectiveMaxPosts(), backfillLimit, now,
	)
	if err != nil {
		return fmt.Errorf("upserting user config: %w", err)
	}

	return tx.Commit()
}

func (s *Store) syncTimelineFilters(did string, filters config.FilterConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM timeline_user_filters WHERE did = ?`, did); err != nil {
		return fmt.Errorf("clearing filters: %w", err)
	}
	for _, blocked := range filters.BlockedReposters {
		if _, err := tx.Exec(
			`INSERT INTO timeline_user_filters (did, blocked_reposter) VALUES (?, ?)`, did, blocked,
		); err != nil {
			return fmt.Errorf("inserting filter: %w", err)
		}
	}

	return tx.Commit()
}

// TimelineUserConfigGet loads a user's persisted configuration.
func (s *Store) TimelineUserConfigGet(did string) (*TimelineUserConfig, error) {
	var c TimelineUserConfig
	err := s.db.QueryRow(`
		SELECT did, feed_uri, name, description, pds_url, access_token, refresh_token,
		       expires_at, poll_interval_seconds, backfill_interval_seconds, max_posts_per_poll, backfill_limit
		FROM timeline_user_config WHERE did = ?`, did,
	).Scan(&c.DID, &c.FeedURI, &c.Name, &c.Description, &c.PDSURL, &c.AccessToken, &c.RefreshToken,
		&c.ExpiresAt, &c.PollIntervalSeconds, &c.BackfillIntervalSeconds, &c.MaxPostsPerPoll, &c.BackfillLimit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("timeline user config get: %w", err)
	}
	return &c, nil
}

// TimelineUserFilters returns the set of DIDs whose reposts are filtered
// for did.
func (s *Store) TimelineUserFilters(did string) ([]string, error) {
	rows, err := s.db.Query(`SELECT blocked_reposter FROM timeline_user_filters WHERE did = ?`, did)
	if err != nil {
		return nil, fmt.Errorf("timeline user filters: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("timeline user filters: scanning: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateAccessToken persists a refreshed access/refresh token pair (and
// optionally a replaced pds_url) after a successful refreshSession call.
func (s *Store) UpdateAccessToken(did, accessToken, refreshToken, expiresAt string, pdsURL *string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("update access token: begin: %w", err)
	}
	defer tx.Rollback()

	if pdsURL != nil {
		_, err = tx.Exec(
			`UPDATE timeline_user_config SET access_token = ?, refresh_token = ?, expires_at = ?, pds_url = ? WHERE did = ?`,
			accessToken, refreshToken, expiresAt, *pdsURL, did,
		)
	} else {
		_, err = tx.Exec(
			`UPDATE timeline_user_config SET access_token = ?, refresh_token = ?, expires_at = ? WHERE did = ?`,
			accessToken, refreshToken, expiresAt, did,
		)
	}
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}

	return tx.Commit()
}

// TimelinePollState is a row of the timeline_poll_state table.
type TimelinePollState struct {
	DID                string
	LastCursor         sql.NullString
	LastPollAt         sql.NullInt64
	LastBackfillPollAt sql.NullInt64
	TotalPostsIndexed  int64
	NeedsBackfill      bool
}

// TimelinePollStateGet loads a user's poll state, defaulting NeedsBackfill
// to true when no row exists yet (matching a never-polled user).
func (s *Store) TimelinePollStateGet(did string) (TimelinePollState, error) {
	var st TimelinePollState
	st.DID = did
	var needsBackfill sql.NullInt64
	err := s.db.QueryRow(`
		SELECT last_cursor, last_poll_at, last_backfill_poll_at, total_posts_indexed, needs_backfill
		FROM timeline_poll_state WHERE did = ?`, did,
	).Scan(&st.LastCursor, &st.LastPollAt, &st.LastBackfillPollAt, &st.TotalPostsIndexed, &needsBackfill)
	if err == sql.ErrNoRows {
		st.NeedsBackfill = true
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("timeline poll state get: %w", err)
	}
	st.NeedsBackfill = needsBackfill.Int64 != 0
	return st, nil
}

// UpdateFreshPollState persists only last_poll_at after a fresh-track
// poll, per the rule that fresh polls never touch the cursor.
func (s *Store) UpdateFreshPollState(did string, now int64) error {
	return s.upsertPollState(did, func(tx txExecer) error {
		_, err := tx.Exec(`
			INSERT INTO timeline_poll_state (did, last_poll_at, needs_backfill) VALUES (?, ?, 1)
			ON CONFLICT(did) DO UPDATE SET last_poll_at = excluded.last_poll_at`,
			did, now)
		return err
	})
}

// UpdateBackfillPollState persists cursor, last_backfill_poll_at, and
// accumulates total_posts_indexed after a backfill-track poll. needsBackfill
// is recomputed by the caller (it turns false once the backfill limit is
// reached or the upstream stops returning a cursor).
func (s *Store) UpdateBackfillPollState(did string, cursor *string, now int64, newPosts int, needsBackfill bool) error {
	return s.upsertPollState(did, func(tx txExecer) error {
		_, err := tx.Exec(`
			INSERT INTO timeline_poll_state (did, last_cursor, last_backfill_poll_at, total_posts_indexed, needs_backfill)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(did) DO UPDATE SET
				last_cursor = excluded.last_cursor,
				last_backfill_poll_at = excluded.last_backfill_poll_at,
				total_posts_indexed = timeline_poll_state.total_posts_indexed + ?,
				needs_backfill = excluded.needs_backfill`,
			did, cursor, now, newPosts, boolToInt(needsBackfill), newPosts)
		return err
	})
}

type txExecer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) upsertPollState(did string, fn func(tx txExecer) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("did=%s: %w", did, err)
	}

	return tx.Commit()
}

// TimelineAllFeedURIs returns every configured timeline feed's URI, used
// by describeFeedGenerator to advertise them alongside ranked feeds.
func (s *Store) TimelineAllFeedURIs() ([]string, error) {
	rows, err := s.db.Query(`SELECT feed_uri FROM timeline_user_config`)
	if err != nil {
		return nil, fmt.Errorf("timeline all feed uris: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("timeline all feed uris: scanning: %w", err)
		}
		out = append(out, uri)
	}
	return out, rows.Err()
}

// TimelineUserConfigByFeedURI reports whether feedURI belongs to a
// configured timeline user, returning it unchanged if so or "" if not.
func (s *Store) TimelineUserConfigByFeedURI(feedURI string) (string, error) {
	var uri string
	err := s.db.QueryRow(`SELECT feed_uri FROM timeline_user_config WHERE feed_uri = ? LIMIT 1`, feedURI).Scan(&uri)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("timeline user config by feed uri: %w", err)
	}
	return uri, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
