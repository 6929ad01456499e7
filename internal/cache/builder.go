package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/blackmichael/feedgen/internal/config"
	"github.com/blackmichael/feedgen/internal/store"
)

// Builder periodically rebuilds the scored pages for every ranked feed
// from the index store.
type Builder struct {
	cache    *Cache
	store    *store.Store
	feeds    []config.Feed
	interval time.Duration
	logger   *slog.Logger
}

// NewBuilder constructs a Builder over feeds' ranked-feed definitions,
// loading any prior on-disk snapshot for each before the first rebuild.
func NewBuilder(c *Cache, s *store.Store, feeds *config.Feeds, interval time.Duration, logger *slog.Logger) *Builder {
	b := &Builder{cache: c, store: s, feeds: feeds.Feeds, interval: interval, logger: logger}
	for _, f := range b.feeds {
		if err := c.Load(f.URI); err != nil {
			logger.Warn("loading cached snapshot failed", "feed", f.URI, "error", err)
		}
	}
	return b
}

// Run rebuilds immediately, then on every tick, until ctx is cancelled.
func (b *Builder) Run(ctx context.Context) {
	b.rebuildAll()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.rebuildAll()
		}
	}
}

func (b *Builder) rebuildAll() {
	for _, f := range b.feeds {
		if err := b.rebuildOne(f); err != nil {
			b.logger.Error("rebuilding scored page failed", "feed", f.URI, "error", err)
		}
	}
}

func (b *Builder) rebuildOne(f config.Feed) error {
	limit := int(f.Query.Limit)
	if limit <= 0 {
		limit = 500
	}

	recent, err := b.store.RecentRows(f.URI, limit)
	if err != nil {
		return err
	}

	rows := make([]Row, len(recent))
	for i, r := range recent {
		rows[i] = Row{URI: r.URI, Score: r.Score, IndexedAt: r.IndexedAt}
	}

	var uris []string
	switch f.Query.Type {
	case "popular":
		uris = Popular(rows, f.Query.Gravity, time.Now())
	default:
		uris = Simple(rows)
	}

	return b.cache.Update(f.URI, uris)
}
