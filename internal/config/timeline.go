package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TimelineFeeds is the root of the TIMELINE_FEEDS YAML file: the set of
// per-user filtered timelines this instance polls on behalf of.
type TimelineFeeds struct {
	TimelineFeeds []TimelineFeed `yaml:"timeline_feeds"`
}

// TimelineFeed configures polling and filtering of a single user's timeline.
type TimelineFeed struct {
	DID              string       `yaml:"did"`
	FeedURI          string       `yaml:"feed_uri"`
	Name             string       `yaml:"name"`
	Description      string       `yaml:"description"`
	OAuth            OAuthConfig  `yaml:"oauth"`
	Filters          FilterConfig `yaml:"filters"`
	PollInterval     string       `yaml:"poll_interval,omitempty"`
	MaxPostsPerPoll  uint32       `yaml:"max_posts_per_poll,omitempty"`
	BackfillInterval string       `yaml:"backfill_interval,omitempty"`
	// BackfillLimit caps how many posts the backfill track will index
	// before needs_backfill turns false. Absent means the default of 500;
	// an explicit 0 means unlimited.
	BackfillLimit *uint32 `yaml:"backfill_limit,omitempty"`
}

const (
	defaultMaxPostsPerPoll   = 50
	defaultBackfillPostLimit = 500
)

// OAuthConfig carries the session the timeline consumer uses to poll a
// single user's PDS.
type OAuthConfig struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
	ExpiresAt    string `yaml:"expires_at,omitempty"`
	PDSURL       string `yaml:"pds_url"`
}

// FilterConfig holds the filtering rules applied to a user's timeline.
type FilterConfig struct {
	BlockedReposters []string `yaml:"blocked_reposters,omitempty"`
}

// IsReposterBlocked reports whether did appears in BlockedReposters.
func (f FilterConfig) IsReposterBlocked(did string) bool {
	for _, b := range f.BlockedReposters {
		if b == did {
			return true
		}
	}
	return false
}

// IsExpired reports whether ExpiresAt has passed. A missing or
// unparseable ExpiresAt is treated as not expired.
func (o OAuthConfig) IsExpired() bool {
	if o.ExpiresAt == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, o.ExpiresAt)
	if err != nil {
		return false
	}
	return !time.Now().Before(t)
}

// PollIntervalDuration parses PollInterval, returning ok=false when it is
// absent or malformed (the caller then falls back to its own default).
func (t TimelineFeed) PollIntervalDuration() (d time.Duration, ok bool) {
	if t.PollInterval == "" {
		return 0, false
	}
	d, err := time.ParseDuration(t.PollInterval)
	if err != nil {
		return 0, false
	}
	return d, true
}

// BackfillIntervalDuration parses BackfillInterval, same contract as
// PollIntervalDuration.
func (t TimelineFeed) BackfillIntervalDuration() (d time.Duration, ok bool) {
	if t.BackfillInterval == "" {
		return 0, false
	}
	d, err := time.ParseDuration(t.BackfillInterval)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate checks the structural invariants a TimelineFeed must satisfy
// before it can be polled.
func (t TimelineFeed) Validate() error {
	if !strings.HasPrefix(t.DID, "did:") {
		return fmt.Errorf("invalid DID format: %s", t.DID)
	}
	if !strings.HasPrefix(t.FeedURI, "at://") {
		return fmt.Errorf("invalid feed_uri format: %s", t.FeedURI)
	}
	if strings.TrimSpace(t.OAuth.AccessToken) == "" {
		return fmt.Errorf("access_token cannot be empty")
	}
	if !strings.HasPrefix(t.OAuth.PDSURL, "http://") && !strings.HasPrefix(t.OAuth.PDSURL, "https://") {
		return fmt.Errorf("invalid pds_url format: %s", t.OAuth.PDSURL)
	}
	if t.OAuth.ExpiresAt != "" {
		if _, err := time.Parse(time.RFC3339, t.OAuth.ExpiresAt); err != nil {
			return fmt.Errorf("invalid expires_at format: %s: %w", t.OAuth.ExpiresAt, err)
		}
	}
	if t.PollInterval != "" {
		if _, err := time.ParseDuration(t.PollInterval); err != nil {
			return fmt.Errorf("invalid poll_interval %q: %w", t.PollInterval, err)
		}
	}
	if t.MaxPostsPerPoll > 100 {
		return fmt.Errorf("max_posts_per_poll cannot exceed 100")
	}
	for _, did := range t.Filters.BlockedReposters {
		if !strings.HasPrefix(did, "did:") {
			return fmt.Errorf("invalid DID in blocked_reposters: %s", did)
		}
	}
	return nil
}

// EffectiveMaxPosts returns MaxPostsPerPoll, defaulted when unset.
func (t TimelineFeed) EffectiveMaxPosts() uint32 {
	if t.MaxPostsPerPoll == 0 {
		return defaultMaxPostsPerPoll
	}
	return t.MaxPostsPerPoll
}

// EffectiveBackfillLimit returns the post count at which needs_backfill
// turns false, or nil for unlimited. Absent configuration defaults to
// 500; an explicit 0 means unlimited.
func (t TimelineFeed) EffectiveBackfillLimit() *uint32 {
	if t.BackfillLimit == nil {
		limit := uint32(defaultBackfillPostLimit)
		return &limit
	}
	if *t.BackfillLimit == 0 {
		return nil
	}
	return t.BackfillLimit
}

// LoadTimelineFeeds reads and validates the TIMELINE_FEEDS YAML file at
// path. An empty path yields a zero-value (no users configured) result.
func LoadTimelineFeeds(path string) (*TimelineFeeds, error) {
	if path == "" {
		return &TimelineFeeds{}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading timeline feeds config file %s: %w", path, err)
	}

	var feeds TimelineFeeds
	if err := yaml.Unmarshal(content, &feeds); err != nil {
		return nil, fmt.Errorf("parsing timeline feeds config %s: %w", path, err)
	}

	for idx, feed := range feeds.TimelineFeeds {
		if err := feed.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration for feed #%d (%s): %w", idx, feed.DID, err)
		}
	}

	return &feeds, nil
}

// GetByDID returns the feed configured for did, if any.
func (t *TimelineFeeds) GetByDID(did string) (TimelineFeed, bool) {
	for _, f := range t.TimelineFeeds {
		if f.DID == did {
			return f, true
		}
	}
	return TimelineFeed{}, false
}
