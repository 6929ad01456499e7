package timeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blackmichael/feedgen/internal/bluesky"
	"github.com/blackmichael/feedgen/internal/config"
	"github.com/blackmichael/feedgen/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIndexEntriesFiltersBlockedReposters(t *testing.T) {
	s := newTestStore(t)
	c := &Consumer{store: s, logger: testLogger(), freshDueAt: map[string]time.Time{}, backfillDueAt: map[string]time.Time{}}

	entries := []bluesky.FeedViewPost{
		{Post: bluesky.FeedPost{URI: "at://did:plc:A/app.bsky.feed.post/1", Author: bluesky.Author{DID: "did:plc:A"}, IndexedAt: "2024-01-01T00:00:00Z"}},
		{
			Post:   bluesky.FeedPost{URI: "at://did:plc:B/app.bsky.feed.post/2", Author: bluesky.Author{DID: "did:plc:B"}, IndexedAt: "2024-01-01T00:01:00Z"},
			Reason: &bluesky.FeedReason{Type: bluesky.ReasonRepost, By: bluesky.Author{DID: "did:plc:X"}, IndexedAt: "2024-01-01T00:02:00Z"},
		},
		{
			Post:   bluesky.FeedPost{URI: "at://did:plc:C/app.bsky.feed.post/3", Author: bluesky.Author{DID: "did:plc:C"}, IndexedAt: "2024-01-01T00:03:00Z"},
			Reason: &bluesky.FeedReason{Type: bluesky.ReasonRepost, By: bluesky.Author{DID: "did:plc:Y"}, IndexedAt: "2024-01-01T00:04:00Z"},
		},
	}

	stats, err := c.indexEntries("at://feed/1", []string{"did:plc:X"}, entries)
	if err != nil {
		t.Fatalf("indexEntries: %v", err)
	}
	if stats.newPosts != 2 || stats.duplicates != 0 {
		t.Fatalf("expected 2 new rows, got new=%d dup=%d", stats.newPosts, stats.duplicates)
	}
	if stats.blocked != 1 {
		t.Fatalf("expected 1 blocked repost, got %d", stats.blocked)
	}

	items, err := s.FeedPageItems("at://feed/1", 10, 0)
	if err != nil {
		t.Fatalf("FeedPageItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 indexed rows (repost by blocked X excluded), got %d", len(items))
	}

	var reposts int
	for _, item := range items {
		if item.IsRepost {
			reposts++
			if item.RepostURI == nil || *item.RepostURI == "" {
				t.Error("expected the surviving repost to carry a repost uri")
			}
		}
	}
	if reposts != 1 {
		t.Fatalf("expected exactly one repost row (the one by Y), got %d", reposts)
	}
}

func TestDualTrackDisjointness(t *testing.T) {
	s := newTestStore(t)

	feeds := &config.TimelineFeeds{TimelineFeeds: []config.TimelineFeed{{
		DID:     "did:plc:A",
		FeedURI: "at://feed/1",
		OAuth:   config.OAuthConfig{AccessToken: "tok", PDSURL: "http://example.invalid"},
	}}}
	if err := s.SyncTimelineConfig(feeds, 1); err != nil {
		t.Fatalf("SyncTimelineConfig: %v", err)
	}

	if err := s.UpdateFreshPollState("did:plc:A", 100); err != nil {
		t.Fatalf("UpdateFreshPollState: %v", err)
	}

	state, err := s.TimelinePollStateGet("did:plc:A")
	if err != nil {
		t.Fatalf("TimelinePollStateGet: %v", err)
	}
	if state.LastCursor.Valid {
		t.Error("fresh-track poll must never persist a cursor")
	}
	if !state.LastPollAt.Valid || state.LastPollAt.Int64 != 100 {
		t.Error("fresh-track poll must persist last_poll_at")
	}
	if state.LastBackfillPollAt.Valid {
		t.Error("fresh-track poll must never touch the backfill due-time record")
	}

	cursor := "cursor-1"
	if err := s.UpdateBackfillPollState("did:plc:A", &cursor, 200, 3, true); err != nil {
		t.Fatalf("UpdateBackfillPollState: %v", err)
	}

	state, err = s.TimelinePollStateGet("did:plc:A")
	if err != nil {
		t.Fatalf("TimelinePollStateGet: %v", err)
	}
	if !state.LastCursor.Valid || state.LastCursor.String != cursor {
		t.Error("backfill-track poll must persist the cursor")
	}
	if state.LastPollAt.Int64 != 100 {
		t.Error("backfill-track poll must not touch last_poll_at")
	}
	if state.TotalPostsIndexed != 3 {
		t.Errorf("expected total_posts_indexed=3, got %d", state.TotalPostsIndexed)
	}
}

func TestBackfillStopsAtLimit(t *testing.T) {
	s := newTestStore(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/app.bsky.feed.getTimeline", func(w http.ResponseWriter, r *http.Request) {
		resp := bluesky.GetTimelineResponse{
			Cursor: "more",
			Feed: []bluesky.FeedViewPost{
				{Post: bluesky.FeedPost{URI: "at://did:plc:A/app.bsky.feed.post/1", Author: bluesky.Author{DID: "did:plc:A"}, IndexedAt: "2024-01-01T00:00:00Z"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	feed := config.TimelineFeed{
		DID:     "did:plc:A",
		FeedURI: "at://feed/1",
		OAuth:   config.OAuthConfig{AccessToken: "tok", PDSURL: srv.URL},
	}
	feeds := &config.TimelineFeeds{TimelineFeeds: []config.TimelineFeed{feed}}
	if err := s.SyncTimelineConfig(feeds, 1); err != nil {
		t.Fatalf("SyncTimelineConfig: %v", err)
	}
	// Seed total_posts_indexed just below the default 500 limit.
	if err := s.UpdateBackfillPollState("did:plc:A", nil, 1, 499, true); err != nil {
		t.Fatalf("seeding poll state: %v", err)
	}

	c := New(feeds, 0, s, testLogger())
	state, err := s.TimelinePollStateGet("did:plc:A")
	if err != nil {
		t.Fatalf("TimelinePollStateGet: %v", err)
	}

	if err := c.pollBackfill(context.Background(), feed, state, time.Unix(1000, 0)); err != nil {
		t.Fatalf("pollBackfill: %v", err)
	}

	state, err = s.TimelinePollStateGet("did:plc:A")
	if err != nil {
		t.Fatalf("TimelinePollStateGet: %v", err)
	}
	if state.NeedsBackfill {
		t.Error("expected needs_backfill to turn false once the default limit is reached")
	}
}
