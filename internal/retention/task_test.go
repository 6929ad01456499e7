package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/blackmichael/feedgen/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceDeletesAgedRows(t *testing.T) {
	s, err := store.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	now := time.Now().Unix()
	old := now - int64((72 * time.Hour).Seconds())

	if _, err := s.ContentUpsert(store.ContentRow{
		FeedID: "at://feed/1", URI: "at://old", IndexedAt: old, UpdatedAt: old, Score: 1,
	}); err != nil {
		t.Fatalf("ContentUpsert: %v", err)
	}
	if _, err := s.ContentUpsert(store.ContentRow{
		FeedID: "at://feed/1", URI: "at://fresh", IndexedAt: now, UpdatedAt: now, Score: 1,
	}); err != nil {
		t.Fatalf("ContentUpsert: %v", err)
	}

	task := New(s, time.Minute, 48*time.Hour, testLogger())
	task.runOnce()

	uris, err := s.FeedPage("at://feed/1", 10, 0)
	if err != nil {
		t.Fatalf("FeedPage: %v", err)
	}
	if len(uris) != 1 || uris[0] != "at://fresh" {
		t.Fatalf("expected only the fresh row to survive, got %v", uris)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s, err := store.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer s.Close()

	task := New(s, time.Millisecond, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		task.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
