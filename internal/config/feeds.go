package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Feeds is the root of the FEEDS YAML file: the set of ranked feeds this
// instance serves out of the content-addressed index.
type Feeds struct {
	Feeds []Feed `yaml:"feeds"`
}

// Feed describes one ranked feed: its generator metadata, the matchers
// that decide which firehose events belong to it, and how its scored
// pages are built.
type Feed struct {
	URI         string       `yaml:"uri"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	ATURI       string       `yaml:"aturi,omitempty"`
	Allow       []string     `yaml:"allow,omitempty"`
	Deny        string       `yaml:"deny,omitempty"`
	Query       FeedQuery    `yaml:"query,omitempty"`
	Matchers    []MatcherDef `yaml:"matchers"`
}

// FeedQuery selects how a feed's scored pages are produced: Simple keeps
// the most-recent-first (indexed_at descending) order, Popular applies
// age-decayed scoring.
type FeedQuery struct {
	Type    string  `yaml:"type"`
	Gravity float64 `yaml:"gravity,omitempty"`
	Limit   uint32  `yaml:"limit,omitempty"`
}

const defaultFeedQueryLimit = 500

// UnmarshalYAML accepts either a bare "simple"/"popular" scalar or a full
// mapping, mirroring the original config's string-or-struct deserializer.
func (q *FeedQuery) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		switch value.Value {
		case "simple", "":
			*q = FeedQuery{Type: "simple", Limit: defaultFeedQueryLimit}
			return nil
		case "popular":
			*q = FeedQuery{Type: "popular", Gravity: 1.8, Limit: defaultFeedQueryLimit}
			return nil
		default:
			return fmt.Errorf("unsupported query %q", value.Value)
		}
	}

	type rawFeedQuery FeedQuery
	var raw rawFeedQuery
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Limit == 0 {
		raw.Limit = defaultFeedQueryLimit
	}
	if raw.Type == "popular" && raw.Gravity == 0 {
		raw.Gravity = 1.8
	}
	if raw.Type == "" {
		raw.Type = "simple"
	}
	*q = FeedQuery(raw)
	return nil
}

// MatcherDef is one matcher entry in a feed's YAML definition. Exactly one
// of Equal/Prefix/Sequence/Script semantics applies, selected by Type.
type MatcherDef struct {
	Type   string   `yaml:"type"`
	Path   string   `yaml:"path,omitempty"`
	Value  string   `yaml:"value,omitempty"`
	Values []string `yaml:"values,omitempty"`
	ATURI  string   `yaml:"aturi,omitempty"`
	Script string   `yaml:"script,omitempty"`
}

// LoadFeeds reads and parses the FEEDS YAML file at path.
func LoadFeeds(path string) (*Feeds, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feed config file: %w", err)
	}

	var feeds Feeds
	if err := yaml.Unmarshal(content, &feeds); err != nil {
		return nil, fmt.Errorf("parsing feeds config: %w", err)
	}
	return &feeds, nil
}
