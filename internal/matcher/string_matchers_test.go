package matcher

import "testing"

const equalsTestEvent = `{
	"did": "did:plc:tgudj2fjm77pzkuawquqhsxm",
	"time_us": 1730491093829414,
	"kind": "commit",
	"commit": {
		"rev": "3l7vxhiuibq2u",
		"operation": "create",
		"collection": "app.bsky.feed.post",
		"rkey": "3l7vxhiu4kq2u",
		"record": {
			"$type": "app.bsky.feed.post",
			"createdAt": "2024-11-01T19:58:12.980Z",
			"langs": ["en", "es"],
			"text": "hey dnd question, what does a 45 on a stealth check look like"
		},
		"cid": "bafyreide7jpu67vvkn4p2iznph6frbwv6vamt7yg5duppqjqggz4sdfik4"
	}
}`

func TestEqualsMatcher(t *testing.T) {
	tests := []struct {
		path, expected string
		wantMatch      bool
	}{
		{"did", "did:plc:tgudj2fjm77pzkuawquqhsxm", true},
		{"commit.record.$type", "app.bsky.feed.post", true},
		{"commit.record.langs", "en", true},
		{"commit.record.text", "hey dnd question, what does a 45 on a stealth check look like", true},
		{"did", "did:plc:tgudj2fjm77pzkuawquqhsxn", false},
		{"commit.record.notreal", "value", false},
	}

	for _, tt := range tests {
		m, err := NewEqualsMatcher(tt.expected, tt.path, "")
		if err != nil {
			t.Fatalf("NewEqualsMatcher: %v", err)
		}
		match, err := m.Match([]byte(equalsTestEvent))
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if (match != nil) != tt.wantMatch {
			t.Errorf("path=%s expected=%s: got match=%v want=%v", tt.path, tt.expected, match != nil, tt.wantMatch)
		}
	}
}

const prefixTestEvent = `{
	"did": "did:plc:tgudj2fjm77pzkuawquqhsxm",
	"commit": {
		"collection": "app.bsky.feed.post",
		"rkey": "3l7vxhiu4kq2u",
		"record": {
			"$type": "app.bsky.feed.post",
			"langs": ["en"],
			"text": "hey dnd question, what does a 45 on a stealth check look like",
			"facets": [
				{"features": [{"$type": "app.bsky.richtext.facet#tag", "tag": "dungeonsanddragons"}]},
				{"features": [{"$type": "app.bsky.richtext.facet#tag", "tag": "gaming"}]}
			]
		}
	}
}`

func TestPrefixMatcher(t *testing.T) {
	tests := []struct {
		path, prefix string
		wantMatch    bool
	}{
		{"commit.record.$type", "app.bsky.", true},
		{"commit.record.langs", "e", true},
		{"commit.record.text", "hey dnd question", true},
		{"commit.record.facets.#.features.0.tag", "dungeons", true},
		{"commit.record.notreal", "value", false},
		{"commit.record.$type", "com.bsky.", false},
	}

	for _, tt := range tests {
		m, err := NewPrefixMatcher(tt.prefix, tt.path, "")
		if err != nil {
			t.Fatalf("NewPrefixMatcher: %v", err)
		}
		match, err := m.Match([]byte(prefixTestEvent))
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if (match != nil) != tt.wantMatch {
			t.Errorf("path=%s prefix=%s: got match=%v want=%v", tt.path, tt.prefix, match != nil, tt.wantMatch)
		}
	}
}

const sequenceTestEvent = `{
	"commit": {
		"record": {
			"text": "hey dnd question, what does a 45 on a stealth check look like",
			"operation": "create"
		}
	}
}`

func TestSequenceMatcher(t *testing.T) {
	tests := []struct {
		path      string
		values    []string
		wantMatch bool
	}{
		{"commit.record.text", []string{"hey", "dnd", "question"}, true},
		{"commit.record.text", []string{"hey", "question", "dnd"}, false},
		{"commit.record.operation", []string{"hey", "dnd", "question"}, false},
		{"commit.record.text", []string{"hey", "nick"}, false},
	}

	for _, tt := range tests {
		m, err := NewSequenceMatcher(tt.values, tt.path, "")
		if err != nil {
			t.Fatalf("NewSequenceMatcher: %v", err)
		}
		match, err := m.Match([]byte(sequenceTestEvent))
		if err != nil {
			t.Fatalf("Match: %v", err)
		}
		if (match != nil) != tt.wantMatch {
			t.Errorf("values=%v: got match=%v want=%v", tt.values, match != nil, tt.wantMatch)
		}
	}
}

// TestSequenceMatcherGermanEdgeCase guards the known edge case where a
// naive substring scan could wrongly match "signal" inside
// "Signalstörung" immediately after "smoke" fails to precede it.
func TestSequenceMatcherGermanEdgeCase(t *testing.T) {
	event := `{"text": "Stellwerkstörung. Und Signalstörung.  Und der Alternativzug ist auch ausgefallen. Und überhaupt."}`
	m, err := NewSequenceMatcher([]string{"smoke", "signal"}, "text", "")
	if err != nil {
		t.Fatalf("NewSequenceMatcher: %v", err)
	}
	match, err := m.Match([]byte(event))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match != nil {
		t.Errorf("expected no match, got %+v", match)
	}
}

func TestSequenceMatches(t *testing.T) {
	if !SequenceMatches([]string{"a", "b"}, "xaxbx") {
		t.Error("expected match")
	}
	if SequenceMatches([]string{"b", "a"}, "xaxbx") {
		t.Error("expected no match for out-of-order sequence")
	}
}
