// Package origin implements the client for the origin system, which
// receives status callbacks as packages complete pipeline milestones.
package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tributary/internal/config"
	"tributary/internal/services"
)

// HTTPDoer is the subset of http.Client the origin client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client sends updates back to the origin system.
type Client struct {
	httpClient HTTPDoer
	baseURL    string
	username   string
	apiKey     string
}

// New constructs an origin client from configuration.
func New(cfg config.Origin) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "origin", "new", "base URL is required", nil)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		apiKey:     cfg.APIKey,
	}, nil
}

// SetHTTPClient replaces the transport.
func (c *Client) SetHTTPClient(doer HTTPDoer) {
	c.httpClient = doer
}

// Update patches a record on the origin system. Stored record URLs may
// carry the hostname of an older deployment, so only the path is used and
// the request always targets the configured base URL.
func (c *Client) Update(ctx context.Context, uri string, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return services.Wrap(services.ErrCollaborator, "origin", "update", "encode payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+normalizePath(uri), bytes.NewReader(encoded))
	if err != nil {
		return services.Wrap(services.ErrCollaborator, "origin", "update", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("ApiKey %s:%s", c.username, c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrCollaborator, "origin", "update", "send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return services.Wrap(services.ErrCollaborator, "origin", "update",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	return nil
}

func normalizePath(uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		if parsed, err := url.Parse(uri); err == nil {
			return parsed.Path
		}
	}
	if !strings.HasPrefix(uri, "/") {
		return "/" + uri
	}
	return uri
}
