// Package httpapi serves the feed generator's HTTP surface: paginated
// feed skeletons, generator metadata, the did:web descriptor, and a
// narrow admin endpoint over the index store.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/blackmichael/feedgen/internal/cache"
	"github.com/blackmichael/feedgen/internal/config"
	"github.com/blackmichael/feedgen/internal/store"
)

const (
	defaultTimelineLimit = 50
	maxTimelineLimit     = 100
	skeletonRepostReason = "app.bsky.feed.defs#skeletonReasonRepost"
)

// Server is the feed generator's HTTP surface.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	cache       *cache.Cache
	rankedFeeds map[string]struct{}
	logger      *slog.Logger
	httpServer  *http.Server
}

// New builds a Server. feeds names the ranked feeds served out of the
// scoring cache; any other feed URI is looked up against the timeline
// consumer's configured users.
func New(cfg *config.Config, s *store.Store, c *cache.Cache, feeds *config.Feeds, logger *slog.Logger) *Server {
	ranked := make(map[string]struct{}, len(feeds.Feeds))
	for _, f := range feeds.Feeds {
		ranked[f.URI] = struct{}{}
	}

	srv := &Server{cfg: cfg, store: s, cache: c, rankedFeeds: ranked, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", srv.handleRoot)
	mux.HandleFunc("GET /.well-known/did.json", srv.handleDIDDoc)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.describeFeedGenerator", srv.handleDescribeFeedGenerator)
	mux.HandleFunc("GET /xrpc/app.bsky.feed.getFeedSkeleton", srv.handleGetFeedSkeleton)
	mux.HandleFunc("POST /admin", srv.handleAdmin)

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv
}

// Start blocks, serving HTTP until Shutdown is called or a fatal error
// occurs.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDIDDoc(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"@context": []string{"https://www.w3.org/ns/did/v1"},
		"id":       s.cfg.ServiceDID(),
		"service": []map[string]any{
			{
				"id":              "#bsky_fg",
				"type":            "BskyFeedGenerator",
				"serviceEndpoint": s.cfg.ServiceEndpoint(),
			},
		},
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDescribeFeedGenerator(w http.ResponseWriter, _ *http.Request) {
	seen := make(map[string]struct{}, len(s.rankedFeeds))
	var uris []string
	for uri := range s.rankedFeeds {
		seen[uri] = struct{}{}
		uris = append(uris, uri)
	}

	timelineFeeds, err := s.store.TimelineAllFeedURIs()
	if err != nil {
		s.logger.Error("loading timeline feed uris failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to describe feeds")
		return
	}
	for _, uri := range timelineFeeds {
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}
		uris = append(uris, uri)
	}

	feeds := make([]map[string]string, 0, len(uris))
	for _, uri := range uris {
		feeds = append(feeds, map[string]string{"uri": uri})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"did":   s.cfg.ServiceDID(),
		"feeds": feeds,
	})
}

func (s *Server) handleGetFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	feedURI := r.URL.Query().Get("feed")
	if feedURI == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "feed parameter is required")
		return
	}

	if _, ok := s.rankedFeeds[feedURI]; ok {
		s.serveRankedFeed(w, r, feedURI)
		return
	}

	timelineFeed, err := s.store.TimelineUserConfigByFeedURI(feedURI)
	if err != nil {
		s.logger.Error("looking up timeline feed failed", "feed", feedURI, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to get feed")
		return
	}
	if timelineFeed == "" {
		writeError(w, http.StatusBadRequest, "UnknownFeed", fmt.Sprintf("unknown feed: %s", feedURI))
		return
	}

	s.serveTimelineFeed(w, r, feedURI)
}

func (s *Server) serveRankedFeed(w http.ResponseWriter, r *http.Request, feedURI string) {
	page := 0
	if c := r.URL.Query().Get("cursor"); c != "" {
		parsed, err := strconv.Atoi(c)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "cursor must be a non-negative integer")
			return
		}
		page = parsed
	}

	uris, fullPage, ok := s.cache.GetPage(feedURI, page)
	resp := map[string]any{"feed": toSkeletonFeed(uris)}
	if ok && fullPage {
		resp["cursor"] = strconv.Itoa(page + 1)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) serveTimelineFeed(w http.ResponseWriter, r *http.Request, feedURI string) {
	limit := defaultTimelineLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxTimelineLimit {
		limit = maxTimelineLimit
	}

	offset := 0
	if c := r.URL.Query().Get("cursor"); c != "" {
		parsed, err := strconv.Atoi(c)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "cursor must be a non-negative integer")
			return
		}
		offset = parsed
	}

	items, err := s.store.FeedPageItems(feedURI, limit, offset)
	if err != nil {
		s.logger.Error("loading timeline feed page failed", "feed", feedURI, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to get feed")
		return
	}

	resp := map[string]any{"feed": toSkeletonFeedItems(items)}
	if len(items) > 0 {
		resp["cursor"] = strconv.Itoa(offset + len(items))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toSkeletonFeed(uris []string) []map[string]string {
	out := make([]map[string]string, len(uris))
	for i, u := range uris {
		out[i] = map[string]string{"post": u}
	}
	return out
}

func toSkeletonFeedItems(items []store.FeedPageItem) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, item := range items {
		entry := map[string]any{"post": item.URI}
		if item.RepostURI != nil {
			entry["reason"] = map[string]string{"$type": skeletonRepostReason}
		}
		out[i] = entry
	}
	return out
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "could not parse form")
		return
	}

	action := r.FormValue("action")
	subject := r.FormValue("subject")
	reason := r.FormValue("reason")

	switch action {
	case "purge":
		uri := r.FormValue("uri")
		if uri == "" {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "uri is required for purge")
			return
		}
		var feedID *string
		if feed := r.FormValue("feed"); feed != "" {
			feedID = &feed
		}
		if err := s.store.ContentPurge(uri, feedID); err != nil {
			s.logger.Error("admin purge failed", "uri", uri, "error", err)
			writeError(w, http.StatusInternalServerError, "InternalError", "purge failed")
			return
		}
	case "deny":
		if subject == "" {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "subject is required for deny")
			return
		}
		if err := s.store.DenyUpsert(subject, reason, time.Now().Unix()); err != nil {
			s.logger.Error("admin deny failed", "subject", subject, "error", err)
			writeError(w, http.StatusInternalServerError, "InternalError", "deny failed")
			return
		}
	case "allow":
		if subject == "" {
			writeError(w, http.StatusBadRequest, "InvalidRequest", "subject is required for allow")
			return
		}
		if err := s.store.DenyRemove(subject); err != nil {
			s.logger.Error("admin allow failed", "subject", subject, "error", err)
			writeError(w, http.StatusInternalServerError, "InternalError", "allow failed")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "InvalidRequest", "action must be one of purge, deny, allow")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{"error": errType, "message": message})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
