package matcher

import (
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matcher.js")
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}

const scriptTestEvent = `{
	"did": "did:plc:abc",
	"kind": "commit",
	"commit": {
		"collection": "app.bsky.feed.post",
		"rkey": "r1",
		"record": {
			"$type": "app.bsky.feed.post",
			"text": "the smoke rose before the signal fire"
		}
	}
}`

func TestScriptMatcherReturnsBool(t *testing.T) {
	m, err := NewScriptMatcher(writeScript(t, `event.kind === "commit"`))
	if err != nil {
		t.Fatalf("NewScriptMatcher: %v", err)
	}
	match, err := m.Match([]byte(scriptTestEvent))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match != nil {
		t.Fatalf("a bare boolean return is not a match, got %+v", match)
	}
}

func TestScriptMatcherReturnsStringAsUpsert(t *testing.T) {
	m, err := NewScriptMatcher(writeScript(t, `buildAturi(event)`))
	if err != nil {
		t.Fatalf("NewScriptMatcher: %v", err)
	}
	match, err := m.Match([]byte(scriptTestEvent))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil {
		t.Fatal("expected a match from a returned at-uri string")
	}
	if match.Op != Upsert {
		t.Errorf("expected Upsert, got %v", match.Op)
	}
	if match.ATURI != "at://did:plc:abc/app.bsky.feed.post/r1" {
		t.Errorf("unexpected at-uri: %s", match.ATURI)
	}
}

func TestScriptMatcherSequenceHelper(t *testing.T) {
	source := `
		sequenceMatches(["smoke", "signal"], event.commit.record.text)
			? upsertMatch(buildAturi(event))
			: false
	`
	m, err := NewScriptMatcher(writeScript(t, source))
	if err != nil {
		t.Fatalf("NewScriptMatcher: %v", err)
	}
	match, err := m.Match([]byte(scriptTestEvent))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil || match.Op != Upsert {
		t.Fatalf("expected an upsert match, got %+v", match)
	}
}

func TestScriptMatcherUpdateMatch(t *testing.T) {
	m, err := NewScriptMatcher(writeScript(t, `updateMatch("at://did:plc:abc/app.bsky.feed.post/liked")`))
	if err != nil {
		t.Fatalf("NewScriptMatcher: %v", err)
	}
	match, err := m.Match([]byte(scriptTestEvent))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil || match.Op != Update {
		t.Fatalf("expected an update match, got %+v", match)
	}
}

func TestScriptMatcherUnsupportedReturn(t *testing.T) {
	m, err := NewScriptMatcher(writeScript(t, `["not", "a", "match"]`))
	if err != nil {
		t.Fatalf("NewScriptMatcher: %v", err)
	}
	if _, err := m.Match([]byte(scriptTestEvent)); err == nil {
		t.Fatal("expected an evaluation error for an unsupported return type")
	}
}

func TestScriptMatcherCompileError(t *testing.T) {
	if _, err := NewScriptMatcher(writeScript(t, `this is not javascript (`)); err == nil {
		t.Fatal("expected a compile error at load time")
	}
}
