// Package bluesky holds the AT Protocol HTTP clients this service uses:
// a session-carrying Client for managing feed generator records, and a
// stateless TimelineClient for the per-user timeline polling tracks.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultPDS         = "https://bsky.social"
	generatorNSID      = "app.bsky.feed.generator"
	maxResponseBytes   = 1 << 20
	defaultHTTPTimeout = 30 * time.Second
)

// Client manages feed generator records in a single authenticated repo.
// It holds the session obtained by Login; use TimelineClient for calls
// that take per-user credentials explicitly.
type Client struct {
	pds        string
	httpClient *http.Client

	accessJwt string
	did       string
}

// NewClient builds a Client against pds, defaulting to bsky.social.
func NewClient(pds string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	return &Client{
		pds:        pds,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Login creates a session with an identifier and app password, storing
// the access token and DID for subsequent record operations.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{"identifier": identifier, "password": password}

	var resp struct {
		AccessJwt string `json:"accessJwt"`
		DID       string `json:"did"`
	}
	if err := c.xrpcPost(ctx, "com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	return nil
}

// DID returns the authenticated repo's DID. Empty before Login.
func (c *Client) DID() string {
	return c.did
}

// BlobRef is an AT Protocol blob reference, as returned by uploadBlob.
type BlobRef struct {
	Type string `json:"$type"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// FeedGeneratorRecord is the record body for app.bsky.feed.generator.
type FeedGeneratorRecord struct {
	DID         string   `json:"did"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description,omitempty"`
	Avatar      *BlobRef `json:"avatar,omitempty"`
	CreatedAt   string   `json:"createdAt"`
}

// PublishFeedGenerator writes record under rkey in the authenticated
// repo via com.atproto.repo.putRecord, creating or replacing it.
func (c *Client) PublishFeedGenerator(ctx context.Context, rkey string, record FeedGeneratorRecord) error {
	if err := c.requireSession(); err != nil {
		return err
	}

	body := map[string]any{
		"repo":       c.did,
		"collection": generatorNSID,
		"rkey":       rkey,
		"record":     record,
	}
	if err := c.xrpcPost(ctx, "com.atproto.repo.putRecord", body, nil); err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// UnpublishFeedGenerator deletes the rkey record from the authenticated
// repo via com.atproto.repo.deleteRecord.
func (c *Client) UnpublishFeedGenerator(ctx context.Context, rkey string) error {
	if err := c.requireSession(); err != nil {
		return err
	}

	body := map[string]any{
		"repo":       c.did,
		"collection": generatorNSID,
		"rkey":       rkey,
	}
	if err := c.xrpcPost(ctx, "com.atproto.repo.deleteRecord", body, nil); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// UploadBlob uploads raw image bytes and returns the blob reference to
// embed in a record. Unreferenced blobs are garbage-collected upstream.
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (*BlobRef, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+c.accessJwt)

	var result struct {
		Blob BlobRef `json:"blob"`
	}
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}
	return &result.Blob, nil
}

func (c *Client) requireSession() error {
	if c.accessJwt == "" {
		return fmt.Errorf("not authenticated: call Login first")
	}
	return nil
}

// xrpcPost sends a JSON body to /xrpc/{method}, decoding the response
// into result when non-nil.
func (c *Client) xrpcPost(ctx context.Context, method string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+"/xrpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
