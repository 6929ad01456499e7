// Package timeline polls per-user BlueSky timelines on a dual-track
// cadence (fresh + backfill), applying each user's repost filters and
// indexing surviving entries into the shared content store.
package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackmichael/feedgen/internal/bluesky"
	"github.com/blackmichael/feedgen/internal/config"
	"github.com/blackmichael/feedgen/internal/store"
)

const (
	cycleInterval         = 5 * time.Second
	freshTrackInterval    = 60 * time.Second
	defaultBackfillPeriod = 10 * time.Second
	tokenRefreshWindow    = 5 * time.Minute
	refreshedTokenTTL     = 2 * time.Hour
)

// Consumer runs the fresh and backfill polling tracks for every
// configured user. Each track's due-time is tracked independently per
// user so the two never clobber one another's schedule.
type Consumer struct {
	client          *bluesky.TimelineClient
	store           *store.Store
	feeds           *config.TimelineFeeds
	defaultBackfill time.Duration
	logger          *slog.Logger

	freshDueAt    map[string]time.Time
	backfillDueAt map[string]time.Time
}

// New builds a Consumer over the users described by feeds.
// defaultBackfill is the backfill cadence for users without their own;
// zero falls back to 10s. The caller must have already persisted feeds
// into the store via Store.SyncTimelineConfig.
func New(feeds *config.TimelineFeeds, defaultBackfill time.Duration, s *store.Store, logger *slog.Logger) *Consumer {
	if defaultBackfill <= 0 {
		defaultBackfill = defaultBackfillPeriod
	}
	return &Consumer{
		client:          bluesky.NewTimelineClient(),
		store:           s,
		feeds:           feeds,
		defaultBackfill: defaultBackfill,
		logger:          logger,
		freshDueAt:      make(map[string]time.Time),
		backfillDueAt:   make(map[string]time.Time),
	}
}

// Run drives one poll cycle every 5s until ctx is cancelled. Within a
// cycle, every configured user is visited once; each track is invoked
// independently of the other, based on its own due-time.
func (c *Consumer) Run(ctx context.Context) error {
	if c.feeds == nil || len(c.feeds.TimelineFeeds) == 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(cycleInterval)
	defer ticker.Stop()

	c.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

func (c *Consumer) runCycle(ctx context.Context) {
	now := time.Now()
	for _, feed := range c.feeds.TimelineFeeds {
		if ctx.Err() != nil {
			return
		}

		if due, ok := c.freshDueAt[feed.DID]; !ok || !now.Before(due) {
			if err := c.pollFresh(ctx, feed, now); err != nil {
				c.logger.Error("fresh poll failed", "did", feed.DID, "error", err)
			}
			c.freshDueAt[feed.DID] = now.Add(freshTrackInterval)
		}

		state, err := c.store.TimelinePollStateGet(feed.DID)
		if err != nil {
			c.logger.Error("loading poll state failed", "did", feed.DID, "error", err)
			continue
		}
		if !state.NeedsBackfill {
			continue
		}
		if due, ok := c.backfillDueAt[feed.DID]; ok && now.Before(due) {
			continue
		}
		if err := c.pollBackfill(ctx, feed, state, now); err != nil {
			c.logger.Error("backfill poll failed", "did", feed.DID, "error", err)
		}
		c.backfillDueAt[feed.DID] = now.Add(c.backfillInterval(feed))
	}
}

func (c *Consumer) backfillInterval(feed config.TimelineFeed) time.Duration {
	if d, ok := feed.BackfillIntervalDuration(); ok {
		return d
	}
	if d, ok := feed.PollIntervalDuration(); ok {
		return d
	}
	return c.defaultBackfill
}

// pollFresh calls getTimeline without a cursor and persists only
// last_poll_at, never the cursor, per the dual-track disjointness rule.
func (c *Consumer) pollFresh(ctx context.Context, feed config.TimelineFeed, now time.Time) error {
	cfg, err := c.authenticatedConfig(ctx, feed)
	if err != nil {
		return fmt.Errorf("refreshing credentials: %w", err)
	}

	resp, err := c.client.GetTimeline(ctx, cfg.PDSURL, cfg.AccessToken, int(feed.EffectiveMaxPosts()), "")
	if err != nil {
		return fmt.Errorf("getTimeline: %w", err)
	}

	filters, err := c.store.TimelineUserFilters(feed.DID)
	if err != nil {
		return fmt.Errorf("loading filters: %w", err)
	}

	stats, err := c.indexEntries(cfg.FeedURI, filters, resp.Feed)
	if err != nil {
		return fmt.Errorf("indexing entries: %w", err)
	}
	c.logger.Info("fresh poll complete", "did", feed.DID,
		"new", stats.newPosts, "duplicates", stats.duplicates, "blocked", stats.blocked)

	return c.store.UpdateFreshPollState(feed.DID, now.Unix())
}

// pollBackfill calls getTimeline with the persisted cursor and persists
// the cursor, last_backfill_poll_at, and the accumulated post count.
func (c *Consumer) pollBackfill(ctx context.Context, feed config.TimelineFeed, state store.TimelinePollState, now time.Time) error {
	cfg, err := c.authenticatedConfig(ctx, feed)
	if err != nil {
		return fmt.Errorf("refreshing credentials: %w", err)
	}

	cursor := ""
	if state.LastCursor.Valid {
		cursor = state.LastCursor.String
	}

	resp, err := c.client.GetTimeline(ctx, cfg.PDSURL, cfg.AccessToken, int(feed.EffectiveMaxPosts()), cursor)
	if err != nil {
		return fmt.Errorf("getTimeline: %w", err)
	}

	filters, err := c.store.TimelineUserFilters(feed.DID)
	if err != nil {
		return fmt.Errorf("loading filters: %w", err)
	}

	stats, err := c.indexEntries(cfg.FeedURI, filters, resp.Feed)
	if err != nil {
		return fmt.Errorf("indexing entries: %w", err)
	}
	c.logger.Info("backfill poll complete", "did", feed.DID,
		"new", stats.newPosts, "duplicates", stats.duplicates, "blocked", stats.blocked)

	totalIndexed := state.TotalPostsIndexed + int64(stats.newPosts)
	needsBackfill := resp.Cursor != ""
	if limit := feed.EffectiveBackfillLimit(); needsBackfill && limit != nil && totalIndexed >= int64(*limit) {
		needsBackfill = false
	}

	var nextCursor *string
	if resp.Cursor != "" {
		c := resp.Cursor
		nextCursor = &c
	}

	return c.store.UpdateBackfillPollState(feed.DID, nextCursor, now.Unix(), stats.newPosts, needsBackfill)
}

// pollStats summarizes what one getTimeline response contributed to the
// index.
type pollStats struct {
	newPosts   int
	duplicates int
	blocked    int
}

// indexEntries filters and indexes one getTimeline response's entries.
func (c *Consumer) indexEntries(feedURI string, blockedReposters []string, entries []bluesky.FeedViewPost) (pollStats, error) {
	blocked := make(map[string]struct{}, len(blockedReposters))
	for _, did := range blockedReposters {
		blocked[did] = struct{}{}
	}

	var stats pollStats
	now := time.Now().Unix()
	for _, entry := range entries {
		if entry.Post.Author.DID == "" {
			continue
		}
		if entry.Reason != nil && entry.Reason.Type == bluesky.ReasonRepost {
			if _, isBlocked := blocked[entry.Reason.By.DID]; isBlocked {
				stats.blocked++
				continue
			}
		}

		row, ok := contentRowFor(feedURI, entry, now)
		if !ok {
			c.logger.Warn("dropping timeline entry with missing indexed_at", "uri", entry.Post.URI)
			continue
		}

		created, err := c.store.ContentUpsert(row)
		if err != nil {
			return stats, fmt.Errorf("upserting %s: %w", row.URI, err)
		}
		if created {
			stats.newPosts++
		} else {
			stats.duplicates++
		}
	}
	return stats, nil
}

func contentRowFor(feedURI string, entry bluesky.FeedViewPost, updatedAt int64) (store.ContentRow, bool) {
	row := store.ContentRow{FeedID: feedURI, URI: entry.Post.URI, UpdatedAt: updatedAt, Score: 1}

	if entry.Reason != nil && entry.Reason.Type == bluesky.ReasonRepost {
		indexedAt, ok := parseIndexedAtMicros(entry.Reason.IndexedAt)
		if !ok {
			return row, false
		}
		repostURI := entry.Post.URI
		row.RepostURI = &repostURI
		row.IsRepost = true
		row.IndexedAt = indexedAt
		return row, true
	}

	indexedAt, ok := parseIndexedAtMicros(entry.Post.IndexedAt)
	if !ok {
		return row, false
	}
	row.IndexedAt = indexedAt
	return row, true
}

func parseIndexedAtMicros(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, false
	}
	return t.UnixMicro(), true
}

// userConfig is the subset of a stored TimelineUserConfig the poll
// tracks need after credentials have been confirmed fresh.
type userConfig struct {
	FeedURI     string
	PDSURL      string
	AccessToken string
}

// authenticatedConfig loads did's persisted config, refreshing its
// access token first if it is within the expiry window (or missing with
// a refresh token present).
func (c *Consumer) authenticatedConfig(ctx context.Context, feed config.TimelineFeed) (userConfig, error) {
	cfg, err := c.store.TimelineUserConfigGet(feed.DID)
	if err != nil {
		return userConfig{}, fmt.Errorf("loading user config: %w", err)
	}
	if cfg == nil {
		return userConfig{}, fmt.Errorf("no persisted config for %s", feed.DID)
	}

	if c.needsRefresh(*cfg) {
		if err := c.refresh(ctx, feed.DID, *cfg); err != nil {
			return userConfig{}, err
		}
		cfg, err = c.store.TimelineUserConfigGet(feed.DID)
		if err != nil {
			return userConfig{}, fmt.Errorf("reloading user config: %w", err)
		}
	}

	return userConfig{FeedURI: cfg.FeedURI, PDSURL: cfg.PDSURL, AccessToken: cfg.AccessToken}, nil
}

func (c *Consumer) needsRefresh(cfg store.TimelineUserConfig) bool {
	if !cfg.ExpiresAt.Valid || cfg.ExpiresAt.String == "" {
		return cfg.RefreshToken.Valid && cfg.RefreshToken.String != ""
	}
	expiresAt, err := time.Parse(time.RFC3339, cfg.ExpiresAt.String)
	if err != nil {
		return cfg.RefreshToken.Valid && cfg.RefreshToken.String != ""
	}
	return time.Now().Add(tokenRefreshWindow).After(expiresAt)
}

func (c *Consumer) refresh(ctx context.Context, did string, cfg store.TimelineUserConfig) error {
	if !cfg.RefreshToken.Valid || cfg.RefreshToken.String == "" {
		return fmt.Errorf("access token expired and no refresh token available for %s", did)
	}

	resp, err := c.client.RefreshSession(ctx, cfg.PDSURL, cfg.RefreshToken.String)
	if err != nil {
		return fmt.Errorf("refreshSession: %w", err)
	}
	if resp.DID != did {
		return fmt.Errorf("refreshSession returned mismatched did %q for user %s", resp.DID, did)
	}

	expiresAt := time.Now().Add(refreshedTokenTTL).Format(time.RFC3339)

	var pdsURL *string
	if endpoint, ok := resp.PDSEndpoint(); ok {
		pdsURL = &endpoint
	}

	if err := c.store.UpdateAccessToken(did, resp.AccessJwt, resp.RefreshJwt, expiresAt, pdsURL); err != nil {
		return fmt.Errorf("persisting refreshed token: %w", err)
	}

	c.logger.Info("refreshed timeline session", "did", did, "pds_changed", pdsURL != nil)
	return nil
}
