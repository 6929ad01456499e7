// Package firehose consumes the upstream Jetstream websocket, matching
// each commit event against every configured feed and indexing the
// results.
package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"github.com/blackmichael/feedgen/internal/matcher"
	"github.com/blackmichael/feedgen/internal/store"
)

const (
	cursorSource       = "jetstream"
	cursorSaveInterval = 120 * time.Second
	maxMessageSize     = 25_000
	statsLogInterval   = 30 * time.Second
)

// Subscriber is the firehose consumer: one websocket connection, a
// configured set of feed matchers, and the shared index store.
type Subscriber struct {
	hostname    string
	compression bool
	collections []string
	userAgent   string
	dictionary  []byte

	feeds  []*matcher.Feed
	store  *store.Store
	logger *slog.Logger
}

// Config bundles Subscriber's construction parameters.
type Config struct {
	Hostname    string
	Compression bool
	Collections []string
	UserAgent   string
	Dictionary  []byte
}

// New builds a Subscriber against feeds, persisting matches into s.
func New(cfg Config, feeds []*matcher.Feed, s *store.Store, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		hostname:    cfg.Hostname,
		compression: cfg.Compression,
		collections: cfg.Collections,
		userAgent:   cfg.UserAgent,
		dictionary:  cfg.Dictionary,
		feeds:       feeds,
		store:       s,
		logger:      logger,
	}
}

// Run connects once and processes events until ctx is cancelled or the
// connection closes. A closed connection is a task-fatal error: this
// consumer does not reconnect, leaving that policy to whatever
// supervises the process.
func (s *Subscriber) Run(ctx context.Context) error {
	cursor, hasCursor, err := s.store.CursorGet(cursorSource)
	if err != nil {
		s.logger.Warn("failed to load firehose cursor, starting from live", "error", err)
	}

	wsURL := s.buildURL()
	s.logger.Info("connecting to firehose", "url", wsURL)

	header := http.Header{}
	header.Set("User-Agent", s.userAgent)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	if err := s.sendOptionsUpdate(conn, hasCursor, cursor); err != nil {
		return fmt.Errorf("send options_update: %w", err)
	}

	var decoder *zstd.Decoder
	if s.compression {
		decoder, err = zstd.NewReader(nil, zstd.WithDecoderDicts(s.dictionary))
		if err != nil {
			return fmt.Errorf("building zstd decoder: %w", err)
		}
		defer decoder.Close()
	}

	s.logger.Info("connected to firehose")

	// A separate goroutine pumps frames off the socket so the main loop
	// can race messages against the cursor timer and cancellation.
	type frame struct {
		messageType int
		payload     []byte
		err         error
	}
	frames := make(chan frame)
	go func() {
		defer close(frames)
		for {
			messageType, payload, err := conn.ReadMessage()
			select {
			case frames <- frame{messageType, payload, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	checkpoint := time.NewTicker(cursorSaveInterval)
	defer checkpoint.Stop()
	stats := time.NewTicker(statsLogInterval)
	defer stats.Stop()

	var runningMaxTimeUs int64
	var eventsSeen, commitsSeen, matchesFound int64

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-checkpoint.C:
			if err := s.store.CursorPut(cursorSource, runningMaxTimeUs, time.Now().Unix()); err != nil {
				s.logger.Error("failed to checkpoint firehose cursor", "error", err)
			}

		case <-stats.C:
			s.logger.Info("firehose stats", "events", eventsSeen, "commits", commitsSeen, "matches", matchesFound)

		case f, open := <-frames:
			if !open {
				return fmt.Errorf("firehose connection closed")
			}
			if f.err != nil {
				return fmt.Errorf("read firehose message: %w", f.err)
			}

			raw, ok := s.decodeFrame(decoder, f.messageType, f.payload)
			if !ok {
				continue
			}

			env, err := parseEnvelope(raw)
			if err != nil {
				s.logger.Error("failed to parse firehose event", "error", err)
				continue
			}
			eventsSeen++
			if env.TimeUS > runningMaxTimeUs {
				runningMaxTimeUs = env.TimeUS
			}

			if env.Kind != "commit" || env.Commit == nil {
				continue
			}
			commitsSeen++

			if matched := s.handleCommit(raw, env); matched {
				matchesFound++
			}
		}
	}
}

func (s *Subscriber) buildURL() string {
	u := &url.URL{Scheme: "wss", Host: s.hostname, Path: "/subscribe"}
	q := u.Query()
	q.Set("compress", strconv.FormatBool(s.compression))
	q.Set("requireHello", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subscriber) sendOptionsUpdate(conn *websocket.Conn, hasCursor bool, cursor int64) error {
	payload := optionsUpdatePayload{
		WantedCollections:   s.collections,
		WantedDIDs:          []string{},
		MaxMessageSizeBytes: maxMessageSize,
	}
	if hasCursor {
		payload.Cursor = &cursor
	}
	msg := optionsUpdate{Type: "options_update", Payload: payload}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// decodeFrame returns the decoded JSON payload and whether the frame
// kind matched the configured compression mode. Mismatches (binary
// frame while uncompressed, text frame while compressed) are logged and
// skipped rather than treated as fatal.
func (s *Subscriber) decodeFrame(decoder *zstd.Decoder, messageType int, payload []byte) ([]byte, bool) {
	if s.compression {
		if messageType != websocket.BinaryMessage {
			s.logger.Warn("expected binary frame while compression enabled, skipping")
			return nil, false
		}
		decoded, err := decoder.DecodeAll(payload, make([]byte, 0, len(payload)*4))
		if err != nil {
			s.logger.Error("failed to decompress firehose frame", "error", err)
			return nil, false
		}
		if len(decoded) > 3*maxMessageSize {
			decoded = decoded[:3*maxMessageSize]
		}
		return decoded, true
	}

	if messageType != websocket.TextMessage {
		s.logger.Warn("expected text frame while compression disabled, skipping")
		return nil, false
	}
	return payload, true
}

// handleCommit evaluates every feed's matchers against raw and indexes
// any result, applying the deny-list short circuit before the first
// successful write.
func (s *Subscriber) handleCommit(raw []byte, env *envelope) bool {
	matched := false

	for _, feed := range s.feeds {
		result := feed.Match(raw)
		if result == nil {
			continue
		}

		// A deny-listed event producer or at-uri owner stops evaluation
		// of every remaining feed, not just this one.
		subjects := []string{env.DID}
		if authorDID := authorDIDFromATURI(result.ATURI); authorDID != "" && authorDID != env.DID {
			subjects = append(subjects, authorDID)
		}
		denied, err := s.store.DenyExists(subjects...)
		if err != nil {
			s.logger.Error("deny-list lookup failed", "error", err)
			denied = false
		}
		if denied {
			return false
		}

		now := time.Now().Unix()
		switch result.Op {
		case matcher.Upsert:
			created, err := s.store.ContentUpsert(store.ContentRow{
				FeedID:    feed.URI,
				URI:       result.ATURI,
				IndexedAt: env.TimeUS,
				UpdatedAt: now,
				Score:     1,
			})
			if err != nil {
				s.logger.Error("content upsert failed", "feed", feed.URI, "uri", result.ATURI, "error", err)
				continue
			}
			if created {
				matched = true
			}
		case matcher.Update:
			if err := s.store.ContentUpdate(feed.URI, result.ATURI, 1, now); err != nil {
				s.logger.Error("content update failed", "feed", feed.URI, "uri", result.ATURI, "error", err)
				continue
			}
			matched = true
		}
	}

	return matched
}

// authorDIDFromATURI extracts the did segment from an at://did/collection/rkey uri.
func authorDIDFromATURI(aturi string) string {
	rest, ok := strings.CutPrefix(aturi, "at://")
	if !ok {
		return ""
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[:idx]
	}
	return rest
}
