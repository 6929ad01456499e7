package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TimelineClient talks to per-user PDS endpoints on behalf of the
// timeline consumer. Unlike Client, it carries no session state of its
// own: every call takes the pds URL and bearer token explicitly, since a
// single process polls many users' timelines concurrently.
type TimelineClient struct {
	httpClient *http.Client
}

// NewTimelineClient builds a TimelineClient with the standard 30s
// per-request timeout.
func NewTimelineClient() *TimelineClient {
	return &TimelineClient{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Author is the minimal author projection used by timeline responses.
type Author struct {
	DID string `json:"did"`
}

// FeedReason describes why a feed entry appears, e.g. a repost.
type FeedReason struct {
	Type      string `json:"$type"`
	By        Author `json:"by"`
	IndexedAt string `json:"indexedAt"`
}

// ReasonRepost is the $type value marking a repost reason.
const ReasonRepost = "app.bsky.feed.defs#reasonRepost"

// FeedPost is the post projection inside a FeedViewPost.
type FeedPost struct {
	URI       string `json:"uri"`
	CID       string `json:"cid"`
	Author    Author `json:"author"`
	IndexedAt string `json:"indexedAt"`
}

// FeedViewPost is one entry of getTimeline's feed array.
type FeedViewPost struct {
	Post   FeedPost    `json:"post"`
	Reason *FeedReason `json:"reason,omitempty"`
}

// GetTimelineResponse is the body of app.bsky.feed.getTimeline.
type GetTimelineResponse struct {
	Cursor string         `json:"cursor,omitempty"`
	Feed   []FeedViewPost `json:"feed"`
}

// GetTimeline calls GET {pdsURL}/xrpc/app.bsky.feed.getTimeline with the
// given bearer token, limit (1..100) and optional cursor.
func (c *TimelineClient) GetTimeline(ctx context.Context, pdsURL, accessToken string, limit int, cursor string) (*GetTimelineResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := fmt.Sprintf("%s/xrpc/app.bsky.feed.getTimeline?%s", pdsURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get timeline: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}

	var out GetTimelineResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal getTimeline response: %w", err)
	}
	return &out, nil
}

// DIDService is one entry of a refreshSession response's didDoc.service.
type DIDService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// DIDDoc is the subset of a did document refreshSession may return.
type DIDDoc struct {
	Service []DIDService `json:"service"`
}

// RefreshSessionResponse is the body of com.atproto.server.refreshSession.
type RefreshSessionResponse struct {
	AccessJwt  string  `json:"accessJwt"`
	RefreshJwt string  `json:"refreshJwt"`
	DID        string  `json:"did"`
	Handle     string  `json:"handle"`
	DIDDoc     *DIDDoc `json:"didDoc,omitempty"`
}

// PDSEndpoint returns the serviceEndpoint of the didDoc entry whose id
// ends in "#atproto_pds" and whose type is AtprotoPersonalDataServer, if
// present.
func (r *RefreshSessionResponse) PDSEndpoint() (string, bool) {
	if r.DIDDoc == nil {
		return "", false
	}
	for _, svc := range r.DIDDoc.Service {
		if svc.Type == "AtprotoPersonalDataServer" && strings.HasSuffix(svc.ID, "#atproto_pds") {
			return svc.ServiceEndpoint, true
		}
	}
	return "", false
}

// RefreshSession calls POST {pdsURL}/xrpc/com.atproto.server.refreshSession
// with refreshToken as the bearer credential.
func (c *TimelineClient) RefreshSession(ctx context.Context, pdsURL, refreshToken string) (*RefreshSessionResponse, error) {
	endpoint := pdsURL + "/xrpc/com.atproto.server.refreshSession"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(nil))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}

	var out RefreshSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal refreshSession response: %w", err)
	}
	return &out, nil
}

// StatusError is returned when an upstream PDS responds with a non-2xx
// status, carrying enough of the body for logging.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pds returned status %d: %s", e.StatusCode, e.Body)
}

const maxLoggedBodyBytes = 1024

func truncateBody(body []byte) string {
	if len(body) > maxLoggedBodyBytes {
		return string(body[:maxLoggedBodyBytes])
	}
	return string(body)
}
