// Package cache periodically ranks index rows into paginated URI pages
// held in memory, serving ranked-feed HTTP reads without touching the
// index store on every request.
package cache

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const defaultPageSize = 20

// Cache is the in-memory scored-page store: one ordered set of chunks
// per ranked feed, replaced wholesale on each rebuild.
type Cache struct {
	mu       sync.RWMutex
	pages    map[string][][]string
	pageSize int
	dir      string
}

// New constructs an empty Cache persisting snapshots under dir, creating
// dir if needed. It does not read prior snapshots; Load does that per
// feed (NewBuilder calls it for every ranked feed).
func New(dir string) (*Cache, error) {
	c := &Cache{pages: make(map[string][][]string), pageSize: defaultPageSize, dir: dir}
	if dir == "" {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return c, nil
}

// Load reads a previously persisted snapshot for feedURI, if any.
func (c *Cache) Load(feedURI string) error {
	if c.dir == "" {
		return nil
	}
	path := c.snapshotPath(feedURI)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var uris []string
	if err := json.Unmarshal(data, &uris); err != nil {
		return fmt.Errorf("parsing snapshot %s: %w", path, err)
	}

	c.mu.Lock()
	c.pages[feedURI] = chunk(uris, c.pageSize)
	c.mu.Unlock()
	return nil
}

// Update replaces feedURI's pages wholesale and persists the flattened
// URI list to disk.
func (c *Cache) Update(feedURI string, uris []string) error {
	pages := chunk(uris, c.pageSize)

	c.mu.Lock()
	c.pages[feedURI] = pages
	c.mu.Unlock()

	if c.dir == "" {
		return nil
	}
	data, err := json.Marshal(uris)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.WriteFile(c.snapshotPath(feedURI), data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// GetPage returns page (0-indexed) of feedURI's cached results. ok is
// false when the feed is unknown or page is out of range — callers must
// never synthesize an empty page for an out-of-range index, matching the
// corrected pagination boundary: page >= number of chunks means no page,
// never an empty slice.
func (c *Cache) GetPage(feedURI string, page int) (uris []string, fullPage, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	chunks, found := c.pages[feedURI]
	if !found || page < 0 || page >= len(chunks) {
		return nil, false, false
	}
	return chunks[page], len(chunks[page]) == c.pageSize, true
}

func (c *Cache) snapshotPath(feedURI string) string {
	h := fnv.New64()
	_, _ = h.Write([]byte(feedURI))
	return filepath.Join(c.dir, fmt.Sprintf("%x.json", h.Sum64()))
}

func chunk(uris []string, size int) [][]string {
	if len(uris) == 0 {
		return nil
	}
	var chunks [][]string
	for i := 0; i < len(uris); i += size {
		end := i + size
		if end > len(uris) {
			end = len(uris)
		}
		chunks = append(chunks, uris[i:end])
	}
	return chunks
}

// Row is one candidate for a ranked feed's scored page, the minimal
// projection of a feed_content row the ranking functions need.
// IndexedAt carries the event's original timestamp in microseconds, as
// stored in the index.
type Row struct {
	URI       string
	Score     int32
	IndexedAt int64
}

// Simple returns the rows' URIs in the order given, without sorting; the
// caller's RecentRows query already returns them by IndexedAt descending.
// Simple exists to make the query policy explicit and keep the two
// builders symmetric.
func Simple(rows []Row) []string {
	uris := make([]string, len(rows))
	for i, r := range rows {
		uris[i] = r.URI
	}
	return uris
}

// Popular ranks rows by an age-decayed score:
//
//	age_hours = max(1, (now-indexed_at)/3600 + 1)
//	score     = max(0, row.score-1) / (2+age_hours)^gravity
//
// descending. The max(0, ...) branch is the corrected definition; the
// alternate min(0, ...) definition (always non-positive, producing
// nonsense rankings) is never implemented here.
func Popular(rows []Row, gravity float64, now time.Time) []string {
	type scored struct {
		uri   string
		score float64
	}

	scoredRows := make([]scored, len(rows))
	nowSeconds := now.Unix()
	for i, r := range rows {
		indexedAtSeconds := r.IndexedAt / 1_000_000
		ageHours := float64((nowSeconds-indexedAtSeconds)/3600 + 1)
		if ageHours < 1 {
			ageHours = 1
		}
		numerator := float64(r.Score - 1)
		if numerator < 0 {
			numerator = 0
		}
		scoredRows[i] = scored{uri: r.URI, score: numerator / math.Pow(2+ageHours, gravity)}
	}

	sort.SliceStable(scoredRows, func(i, j int) bool {
		return scoredRows[i].score > scoredRows[j].score
	})

	uris := make([]string, len(scoredRows))
	for i, r := range scoredRows {
		uris[i] = r.uri
	}
	return uris
}
