// Package transport carries the sync protocol over HTTP JSON.
//
// Endpoints (POST, JSON bodies from package wire):
//
//	/sync/pull   wire.PullRequest  -> wire.PullResponse
//	/sync/push   wire.PushRequest  -> wire.PushResponse
//
// Every request carries "Authorization: Bearer <jwt>" whose subject must
// match the request's site_id.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/syncerr"
	"github.com/roach88/storesync/internal/wire"
)

const (
	PullPath = "/sync/pull"
	PushPath = "/sync/push"

	// DefaultTimeout bounds one request, including reading the response.
	DefaultTimeout = 60 * time.Second

	// maxBodyBytes caps request and response bodies.
	maxBodyBytes = 64 << 20
)

var _ engine.Peer = (*Client)(nil)

// Client is a remote site's connection to the central server.
// Every failure, including HTTP error statuses, is a TransportError.
type Client struct {
	baseURL string
	siteID  string
	auth    *Authenticator
	http    *http.Client
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a Client for the server at baseURL, identifying as siteID.
func NewClient(baseURL, siteID string, auth *Authenticator, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		siteID:  siteID,
		auth:    auth,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "transport", "peer", c.baseURL)
	return c
}

// Pull implements engine.Peer.
func (c *Client) Pull(ctx context.Context, req wire.PullRequest) (wire.PullResponse, error) {
	var resp wire.PullResponse
	if err := c.post(ctx, PullPath, req, &resp); err != nil {
		return wire.PullResponse{}, err
	}
	return resp, nil
}

// Push implements engine.Peer.
func (c *Client) Push(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error) {
	var resp wire.PushResponse
	if err := c.post(ctx, PushPath, req, &resp); err != nil {
		return wire.PushResponse{}, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return syncerr.Transport("marshal request", err)
	}
	token, err := c.auth.Token(c.siteID)
	if err != nil {
		return syncerr.Transport("sign request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return syncerr.Transport("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return syncerr.Transport("POST "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return syncerr.Transport(
			fmt.Sprintf("POST %s returned HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return syncerr.Transport("decode response of "+path, err)
	}
	c.logger.Debug("request done", "path", path, "bytes", len(payload), "elapsed", time.Since(start))
	return nil
}
