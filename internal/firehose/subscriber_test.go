package firehose

import (
	"io"
	"log/slog"
	"testing"

	"github.com/blackmichael/feedgen/internal/config"
	"github.com/blackmichael/feedgen/internal/matcher"
	"github.com/blackmichael/feedgen/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSubscriber(t *testing.T, feedURI, path, value string) (*Subscriber, *store.Store) {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	feeds, err := matcher.FromConfig(&config.Feeds{Feeds: []config.Feed{
		{URI: feedURI, Matchers: []config.MatcherDef{{Type: "equal", Path: path, Value: value}}},
	}}, testLogger())
	if err != nil {
		t.Fatalf("matcher.FromConfig: %v", err)
	}

	sub := New(Config{Hostname: "jetstream.example", Collections: []string{"app.bsky.feed.post"}, UserAgent: "test"}, feeds, s, testLogger())
	return sub, s
}

func TestAuthorDIDFromATURI(t *testing.T) {
	tests := map[string]string{
		"at://did:plc:A/app.bsky.feed.post/r1": "did:plc:A",
		"at://did:plc:B":                        "did:plc:B",
		"not-an-at-uri":                          "",
	}
	for in, want := range tests {
		if got := authorDIDFromATURI(in); got != want {
			t.Errorf("authorDIDFromATURI(%q) = %q, want %q", in, got, want)
		}
	}
}

const equalsMatchEvent = `{"did":"did:plc:A","time_us":100,"kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.post","rkey":"r1","record":{"$type":"app.bsky.feed.post"}}}`

func TestHandleCommitInsertsOnMatch(t *testing.T) {
	sub, s := newTestSubscriber(t, "feed-a", "did", "did:plc:a")

	env, err := parseEnvelope([]byte(equalsMatchEvent))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}

	if matched := sub.handleCommit([]byte(equalsMatchEvent), env); !matched {
		t.Fatal("expected a match")
	}

	rows, err := s.RecentRows("feed-a", 10)
	if err != nil {
		t.Fatalf("RecentRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if rows[0].URI != "at://did:plc:A/app.bsky.feed.post/r1" {
		t.Errorf("unexpected uri: %s", rows[0].URI)
	}
	if rows[0].IndexedAt != 100 {
		t.Errorf("expected indexed_at=100, got %d", rows[0].IndexedAt)
	}
	if rows[0].Score != 1 {
		t.Errorf("expected score=1, got %d", rows[0].Score)
	}
}

func TestHandleCommitDenyShortCircuit(t *testing.T) {
	sub, s := newTestSubscriber(t, "feed-a", "did", "did:plc:a")

	if err := s.DenyUpsert("did:plc:A", "spam", 1); err != nil {
		t.Fatalf("DenyUpsert: %v", err)
	}

	env, err := parseEnvelope([]byte(equalsMatchEvent))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}

	if matched := sub.handleCommit([]byte(equalsMatchEvent), env); matched {
		t.Fatal("expected deny-listed author to produce no match")
	}

	rows, err := s.RecentRows("feed-a", 10)
	if err != nil {
		t.Fatalf("RecentRows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected zero rows after deny short-circuit, got %d", len(rows))
	}
}
