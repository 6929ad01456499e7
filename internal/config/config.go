// Package config loads the environment and YAML configuration surfaces
// this service is built from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// GitHash is set at build time via -ldflags "-X .../config.GitHash=...".
var GitHash = "dev"

// Version returns the running build's identifier.
func Version() string {
	return GitHash
}

// Config holds process-wide configuration read once at startup.
type Config struct {
	// HTTPPort is the port the feed-skeleton HTTP server listens on.
	HTTPPort int

	// ExternalBase is the externally reachable base URL (scheme + host),
	// used to build did:web identifiers and the describeFeedGenerator response.
	ExternalBase string

	// DatabaseURL is a sqlite DSN, e.g. "file:feedgen.db?_pragma=foreign_keys(1)".
	DatabaseURL string

	// CertificateBundles is an optional list of extra CA bundle paths,
	// parsed from CERTIFICATE_BUNDLES. Nothing in this module loads them
	// into a TLS configuration; outbound connections use the system roots.
	CertificateBundles []string

	// ConsumerTaskEnable toggles the firehose consumer.
	ConsumerTaskEnable bool

	// CacheTaskEnable toggles the scoring cache rebuild loop.
	CacheTaskEnable bool

	// CacheTaskInterval is how often the scoring cache rebuilds.
	CacheTaskInterval time.Duration

	// CleanupTaskEnable toggles the age-based cleanup loop.
	CleanupTaskEnable bool

	// CleanupTaskInterval is how often cleanup runs.
	CleanupTaskInterval time.Duration

	// CleanupTaskMaxAge is the oldest a content row may be before it is purged.
	CleanupTaskMaxAge time.Duration

	// PollInterval is the default backfill polling cadence for timeline
	// users that do not configure their own.
	PollInterval time.Duration

	// PLCHostname is the DID PLC directory hostname (storage shape only; no
	// refresh loop is implemented against it).
	PLCHostname string

	// UserAgent is sent on every outbound HTTP/websocket request.
	UserAgent string

	// ZstdDictionary is a path to the zstd dictionary used to decompress
	// firehose frames. Required when Compression is true.
	ZstdDictionary string

	// JetstreamHostname is the firehose host, e.g. "jetstream1.us-east.bsky.network".
	JetstreamHostname string

	// Compression toggles zstd-compressed firehose frames.
	Compression bool

	// Collections is the set of NSIDs subscribed to on the firehose.
	Collections []string

	// FeedsPath is the YAML file describing ranked feeds and their matchers.
	FeedsPath string

	// TimelineFeedsPath is the YAML file describing per-user timeline feeds.
	// Empty means no timeline consumer users are configured.
	TimelineFeedsPath string

	// CacheDir is where rendered scored pages are persisted between restarts.
	CacheDir string
}

// Load reads configuration from the environment, applying the same
// defaults and required-variable rules as the rest of this stack's
// services.
func Load() (*Config, error) {
	httpPort, err := intEnv("HTTP_PORT", 4050)
	if err != nil {
		return nil, err
	}

	externalBase, err := requireEnv("EXTERNAL_BASE")
	if err != nil {
		return nil, err
	}

	databaseURL := defaultEnv("DATABASE_URL", "file:feedgen.db")

	certificateBundles := splitNonEmpty(optionalEnv("CERTIFICATE_BUNDLES"), ";")

	jetstreamHostname, err := requireEnv("JETSTREAM_HOSTNAME")
	if err != nil {
		return nil, err
	}

	compression, err := boolEnv("COMPRESSION", false)
	if err != nil {
		return nil, fmt.Errorf("parsing COMPRESSION: %w", err)
	}

	zstdDictionary := ""
	if compression {
		zstdDictionary, err = requireEnv("ZSTD_DICTIONARY")
		if err != nil {
			return nil, err
		}
	}

	consumerTaskEnable, err := boolEnv("CONSUMER_TASK_ENABLE", true)
	if err != nil {
		return nil, fmt.Errorf("parsing CONSUMER_TASK_ENABLE: %w", err)
	}

	cacheTaskEnable, err := boolEnv("CACHE_TASK_ENABLE", true)
	if err != nil {
		return nil, fmt.Errorf("parsing CACHE_TASK_ENABLE: %w", err)
	}

	cacheTaskInterval, err := durationEnv("CACHE_TASK_INTERVAL", 3*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("parsing CACHE_TASK_INTERVAL: %w", err)
	}

	cleanupTaskEnable, err := boolEnv("CLEANUP_TASK_ENABLE", true)
	if err != nil {
		return nil, fmt.Errorf("parsing CLEANUP_TASK_ENABLE: %w", err)
	}

	cleanupTaskInterval, err := durationEnv("CLEANUP_TASK_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("parsing CLEANUP_TASK_INTERVAL: %w", err)
	}

	cleanupTaskMaxAge, err := durationEnv("CLEANUP_TASK_MAX_AGE", 48*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("parsing CLEANUP_TASK_MAX_AGE: %w", err)
	}

	pollInterval, err := durationEnv("POLL_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("parsing POLL_INTERVAL: %w", err)
	}

	plcHostname := defaultEnv("PLC_HOSTNAME", "plc.directory")

	defaultUserAgent := fmt.Sprintf("feedgen (%s; +https://github.com/blackmichael/feedgen)", Version())
	userAgent := defaultEnv("USER_AGENT", defaultUserAgent)

	feedsPath, err := requireEnv("FEEDS")
	if err != nil {
		return nil, err
	}

	timelineFeedsPath := optionalEnv("TIMELINE_FEEDS")

	collections := splitNonEmpty(defaultEnv("COLLECTIONS", "app.bsky.feed.post"), ",")

	cacheDir := defaultEnv("CACHE_DIR", "./cache")

	return &Config{
		HTTPPort:            httpPort,
		ExternalBase:        externalBase,
		DatabaseURL:         databaseURL,
		CertificateBundles:  certificateBundles,
		ConsumerTaskEnable:  consumerTaskEnable,
		CacheTaskEnable:     cacheTaskEnable,
		CacheTaskInterval:   cacheTaskInterval,
		CleanupTaskEnable:   cleanupTaskEnable,
		CleanupTaskInterval: cleanupTaskInterval,
		CleanupTaskMaxAge:   cleanupTaskMaxAge,
		PollInterval:        pollInterval,
		PLCHostname:         plcHostname,
		UserAgent:           userAgent,
		ZstdDictionary:      zstdDictionary,
		JetstreamHostname:   jetstreamHostname,
		Compression:         compression,
		Collections:         collections,
		FeedsPath:           feedsPath,
		TimelineFeedsPath:   timelineFeedsPath,
		CacheDir:            cacheDir,
	}, nil
}

// ServiceDID returns the did:web identifier derived from ExternalBase.
func (c *Config) ServiceDID() string {
	hostname := strings.TrimPrefix(strings.TrimPrefix(c.ExternalBase, "https://"), "http://")
	return "did:web:" + hostname
}

// ServiceEndpoint returns ExternalBase with a scheme: an existing http://
// or https:// prefix is kept as is, otherwise https:// is prepended.
func (c *Config) ServiceEndpoint() string {
	if strings.HasPrefix(c.ExternalBase, "http://") || strings.HasPrefix(c.ExternalBase, "https://") {
		return c.ExternalBase
	}
	return "https://" + c.ExternalBase
}

func requireEnv(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("%s must be set", name)
	}
	return v, nil
}

func optionalEnv(name string) string {
	return os.Getenv(name)
}

func defaultEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return n, nil
}

func boolEnv(name string, fallback bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func durationEnv(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
