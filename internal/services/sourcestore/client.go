// Package sourcestore implements the client for the source record store,
// which holds raw transfer and accession records produced during ingest.
package sourcestore

import (
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

// HTTPDoer is the subset of http.Client the store client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the source record store API using token authentication.
type Client struct {
	httpClient HTTPDoer
	baseURL    string
	apiKey     string
}

// New constructs a source store client from configuration.
func New(cfg config.SourceStore) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "sourcestore", "new", "base URL is required", nil)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}, nil
}

// SetHTTPClient replaces the transport.
func (c *Client) SetHTTPClient(doer HTTPDoer) {
	c.httpClient = doer
}

func (c *Client) get(ctx context.Context, path string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+normalizePath(path), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "sourcestore", "get", "build request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "sourcestore", "get", "send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, services.Wrap(services.ErrNotFound, "sourcestore", "get", path, nil)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, services.Wrap(services.ErrCollaborator, "sourcestore", "get",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var record map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "sourcestore", "get", "decode response", err)
	}
	return record, nil
}

// FindBagByID locates the single stored bag record matching the identifier.
// Zero or multiple matches mean the store's data is inconsistent with ours
// and processing for this package must not continue.
func (c *Client) FindBagByID(ctx context.Context, bagIdentifier string) (map[string]any, error) {
	query := url.Values{"id": {bagIdentifier}}
	listing, err := c.get(ctx, "/bags/?"+query.Encode())
	if err != nil {
		return nil, err
	}

	count, _ := listing["count"].(float64)
	if int(count) != 1 {
		return nil, services.Wrap(services.ErrAmbiguous, "sourcestore", "find bag",
			fmt.Sprintf("expected exactly one bag for %q, found %d", bagIdentifier, int(count)), nil)
	}

	results, _ := listing["results"].([]any)
	if len(results) == 0 {
		return nil, services.Wrap(services.ErrAmbiguous, "sourcestore", "find bag",
			fmt.Sprintf("bag listing for %q reported one match but returned none", bagIdentifier), nil)
	}
	entry, _ := results[0].(map[string]any)
	bagURL, _ := entry["url"].(string)
	if bagURL == "" {
		return nil, services.Wrap(services.ErrCollaborator, "sourcestore", "find bag", "bag entry missing url", nil)
	}

	return c.get(ctx, bagURL)
}

// Retrieve fetches a record by its URL or path.
func (c *Client) Retrieve(ctx context.Context, uri string) (map[string]any, error) {
	return c.get(ctx, uri)
}

// RetrievePaged walks a paginated listing, following next links until
// exhausted, and returns the combined results.
func (c *Client) RetrievePaged(ctx context.Context, path string) ([]map[string]any, error) {
	var combined []map[string]any
	next := path
	for next != "" {
		page, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		results, _ := page["results"].([]any)
		for _, item := range results {
			if record, ok := item.(map[string]any); ok {
				combined = append(combined, record)
			}
		}
		next, _ = page["next"].(string)
	}
	return combined, nil
}

// normalizePath makes absolute record URLs relative to the configured base.
// Stored records may carry hostnames from a different deployment.
func normalizePath(uri string) string {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		if parsed, err := url.Parse(uri); err == nil {
			path := parsed.Path
			if parsed.RawQuery != "" {
				path += "?" + parsed.RawQuery
			}
			return path
		}
	}
	if !strings.HasPrefix(uri, "/") {
		return "/" + uri
	}
	return uri
}
