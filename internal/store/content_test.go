package store

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContentUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)

	row := ContentRow{FeedID: "feed-a", URI: "at://did:plc:A/app.bsky.feed.post/r1", IndexedAt: 100, UpdatedAt: 100, Score: 1}

	for i := 0; i < 3; i++ {
		created, err := s.ContentUpsert(row)
		if err != nil {
			t.Fatalf("ContentUpsert: %v", err)
		}
		if i == 0 && !created {
			t.Fatal("expected first upsert to create a row")
		}
		if i > 0 && created {
			t.Fatal("expected subsequent upserts to report duplicate")
		}
	}

	rows, err := s.RecentRows("feed-a", 10)
	if err != nil {
		t.Fatalf("RecentRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(rows))
	}
	if rows[0].Score != 1 {
		t.Fatalf("expected original score to survive, got %d", rows[0].Score)
	}
}

func TestContentUpdateNonCreating(t *testing.T) {
	s := newTestStore(t)

	if err := s.ContentUpdate("feed-a", "at://did:plc:A/app.bsky.feed.post/missing", 1, 100); err != nil {
		t.Fatalf("ContentUpdate on absent row should not error: %v", err)
	}

	rows, err := s.RecentRows("feed-a", 10)
	if err != nil {
		t.Fatalf("RecentRows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no row to be created, got %d", len(rows))
	}
}

func TestContentTruncateIdempotent(t *testing.T) {
	s := newTestStore(t)

	row := ContentRow{FeedID: "feed-a", URI: "at://did:plc:A/app.bsky.feed.post/r1", IndexedAt: 100, UpdatedAt: 100, Score: 1}
	if _, err := s.ContentUpsert(row); err != nil {
		t.Fatalf("ContentUpsert: %v", err)
	}

	first, err := s.ContentTruncate(200)
	if err != nil {
		t.Fatalf("ContentTruncate: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected 1 row deleted, got %d", first)
	}

	second, err := s.ContentTruncate(200)
	if err != nil {
		t.Fatalf("ContentTruncate (second): %v", err)
	}
	if second != 0 {
		t.Fatalf("expected idempotent truncate to delete nothing, got %d", second)
	}
}

func TestContentUpsertUniquePerKey(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.ContentUpsert(ContentRow{FeedID: "feed-a", URI: "at://x/app.bsky.feed.post/1", IndexedAt: 1, UpdatedAt: 1, Score: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ContentUpsert(ContentRow{FeedID: "feed-b", URI: "at://x/app.bsky.feed.post/1", IndexedAt: 1, UpdatedAt: 1, Score: 1}); err != nil {
		t.Fatal(err)
	}

	rowsA, _ := s.RecentRows("feed-a", 10)
	rowsB, _ := s.RecentRows("feed-b", 10)
	if len(rowsA) != 1 || len(rowsB) != 1 {
		t.Fatalf("expected one row per feed, got feed-a=%d feed-b=%d", len(rowsA), len(rowsB))
	}
}

func TestDenyExistsShortCircuits(t *testing.T) {
	s := newTestStore(t)

	if err := s.DenyUpsert("did:plc:A", "spam", 100); err != nil {
		t.Fatalf("DenyUpsert: %v", err)
	}

	exists, err := s.DenyExists("did:plc:A", "did:plc:B")
	if err != nil {
		t.Fatalf("DenyExists: %v", err)
	}
	if !exists {
		t.Fatal("expected deny-listed subject to be found")
	}

	exists, err = s.DenyExists("did:plc:C")
	if err != nil {
		t.Fatalf("DenyExists: %v", err)
	}
	if exists {
		t.Fatal("expected no match for unlisted subject")
	}
}
