// Package matcher evaluates a feed's configured matchers against a
// firehose or timeline event and decides whether, and how, the event
// should be indexed.
package matcher

import (
	"fmt"
	"log/slog"

	"github.com/blackmichael/feedgen/internal/config"
)

// Operation describes how a Match should be applied to the index store.
type Operation int

const (
	// Upsert inserts the matched at-uri if it is not already indexed,
	// leaving existing rows untouched.
	Upsert Operation = iota
	// Update increments the score and advances updated_at of an at-uri
	// already indexed, without inserting it if absent.
	Update
)

// Match is the result of a successful matcher evaluation: what operation
// to run, against which at-uri.
type Match struct {
	Op    Operation
	ATURI string
}

func upsertMatch(aturi string) Match { return Match{Op: Upsert, ATURI: aturi} }
func updateMatch(aturi string) Match { return Match{Op: Update, ATURI: aturi} }

// Matcher evaluates a single event and reports whether, and how, it
// should be indexed.
type Matcher interface {
	Match(event []byte) (*Match, error)
}

// Feed bundles a feed's configured matchers, evaluated in order with the
// first match winning.
type Feed struct {
	URI      string
	matchers []Matcher
	logger   *slog.Logger
}

// Match runs every configured matcher in order and returns the first
// non-nil result. A matcher that errors is logged and skipped, never
// aborting evaluation of the remaining matchers.
func (f *Feed) Match(event []byte) *Match {
	for _, m := range f.matchers {
		result, err := m.Match(event)
		if err != nil {
			f.logger.Error("matcher returned error", "feed", f.URI, "error", err)
			continue
		}
		if result != nil {
			return result
		}
	}
	return nil
}

// FromConfig builds a Feed for each configured feed, compiling its
// matchers once at load time.
func FromConfig(feeds *config.Feeds, logger *slog.Logger) ([]*Feed, error) {
	var out []*Feed
	for _, cf := range feeds.Feeds {
		feed := &Feed{URI: cf.URI, logger: logger}
		for _, md := range cf.Matchers {
			m, err := buildMatcher(md)
			if err != nil {
				return nil, fmt.Errorf("feed %s: matcher %s: %w", cf.URI, md.Type, err)
			}
			feed.matchers = append(feed.matchers, m)
		}
		out = append(out, feed)
	}
	return out, nil
}

func buildMatcher(md config.MatcherDef) (Matcher, error) {
	switch md.Type {
	case "equal":
		return NewEqualsMatcher(md.Value, md.Path, md.ATURI)
	case "prefix":
		return NewPrefixMatcher(md.Value, md.Path, md.ATURI)
	case "sequence":
		return NewSequenceMatcher(md.Values, md.Path, md.ATURI)
	case "script":
		return NewScriptMatcher(md.Script)
	default:
		return nil, fmt.Errorf("unsupported matcher type %q", md.Type)
	}
}
