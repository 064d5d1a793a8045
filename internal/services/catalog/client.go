// Package catalog implements the archival catalog client. The catalog is
// the authoritative system of record: accessions, components, and digital
// objects are created here and referenced by URI everywhere else.
package catalog

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
	"sync"
	"time"

	"tributary/internal/config"
	"tributary/internal/services"
)

// Kind identifies a catalog record type and selects its endpoint.
type Kind string

const (
	KindAccession     Kind = "accession"
	KindComponent     Kind = "component"
	KindDigitalObject Kind = "digital_object"
	KindPerson        Kind = "agent_person"
	KindOrganization  Kind = "agent_organization"
	KindFamily        Kind = "agent_family"
	KindSoftware      Kind = "agent_software"
)

const sessionHeader = "X-Catalog-Session"

// HTTPDoer is the subset of http.Client the catalog client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the catalog API. Sessions are acquired lazily and
// refreshed once when the catalog reports them expired.
type Client struct {
	httpClient   HTTPDoer
	baseURL      string
	username     string
	password     string
	repositoryID int

	mu      sync.Mutex
	session string
}

// New constructs a catalog client from configuration.
func New(cfg config.Catalog) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "new", "base URL is required", nil)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "new", "username and password are required", nil)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		username:     cfg.Username,
		password:     cfg.Password,
		repositoryID: cfg.RepositoryID,
	}, nil
}

// SetHTTPClient replaces the transport. Tests use it to point the client at
// an httptest server with a custom doer.
func (c *Client) SetHTTPClient(doer HTTPDoer) {
	c.httpClient = doer
}

func (c *Client) endpointFor(kind Kind) (string, error) {
	switch kind {
	case KindAccession:
		return fmt.Sprintf("/repositories/%d/accessions", c.repositoryID), nil
	case KindComponent:
		return fmt.Sprintf("/repositories/%d/archival_objects", c.repositoryID), nil
	case KindDigitalObject:
		return fmt.Sprintf("/repositories/%d/digital_objects", c.repositoryID), nil
	case KindPerson:
		return "/agents/people", nil
	case KindOrganization:
		return "/agents/corporate_entities", nil
	case KindFamily:
		return "/agents/families", nil
	case KindSoftware:
		return "/agents/software", nil
	default:
		return "", services.Wrap(services.ErrConfiguration, "catalog", "endpoint", fmt.Sprintf("unknown record kind %q", kind), nil)
	}
}

func (c *Client) ensureSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != "" {
		return c.session, nil
	}
	return c.loginLocked(ctx)
}

func (c *Client) refreshSession(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != "" && c.session != stale {
		return c.session, nil
	}
	c.session = ""
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) (string, error) {
	loginURL := fmt.Sprintf("%s/users/%s/login", c.baseURL, url.PathEscape(c.username))
	form := url.Values{"password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", services.Wrap(services.ErrCollaborator, "catalog", "login", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrCollaborator, "catalog", "login", "send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", services.Wrap(services.ErrCollaborator, "catalog", "login",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var payload struct {
		Session string `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", services.Wrap(services.ErrCollaborator, "catalog", "login", "decode response", err)
	}
	if payload.Session == "" {
		return "", services.Wrap(services.ErrCollaborator, "catalog", "login", "empty session token", nil)
	}
	c.session = payload.Session
	return c.session, nil
}

// do sends an authenticated request, refreshing the session once if the
// catalog rejects it.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, path, body, session)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusPreconditionFailed {
		_ = resp.Body.Close()
		session, err = c.refreshSession(ctx, session)
		if err != nil {
			return nil, err
		}
		return c.send(ctx, method, path, body, session)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, session string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "catalog", method, "build request", err)
	}
	req.Header.Set(sessionHeader, session)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "catalog", method, "send request", err)
	}
	return resp, nil
}

// Create posts a new record and returns its URI. A rejection caused by an
// identifier already in use surfaces as ErrConflict so the accession
// allocator can retry with the next number.
func (c *Client) Create(ctx context.Context, kind Kind, payload map[string]any) (string, error) {
	endpoint, err := c.endpointFor(kind)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrCollaborator, "catalog", "create", "encode payload", err)
	}

	resp, err := c.do(ctx, http.MethodPost, endpoint, encoded)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusBadRequest && isIdentifierConflict(raw) {
		return "", services.Wrap(services.ErrConflict, "catalog", "create",
			fmt.Sprintf("%s identifier already in use", kind), nil)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", services.Wrap(services.ErrCollaborator, "catalog", "create",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))), nil)
	}

	var created struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		return "", services.Wrap(services.ErrCollaborator, "catalog", "create", "decode response", err)
	}
	if created.URI == "" {
		return "", services.Wrap(services.ErrCollaborator, "catalog", "create", "response missing uri", nil)
	}
	return created.URI, nil
}

// isIdentifierConflict inspects a 400 body for identifier-in-use errors,
// reported per identifier segment (id_0, id_1, ...).
func isIdentifierConflict(raw []byte) bool {
	var payload struct {
		Error map[string]any `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false
	}
	for key := range payload.Error {
		if strings.HasPrefix(key, "id_") {
			return true
		}
	}
	return false
}

// Retrieve fetches a record by URI.
func (c *Client) Retrieve(ctx context.Context, uri string) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, normalizePath(uri), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, services.Wrap(services.ErrNotFound, "catalog", "retrieve", uri, nil)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, services.Wrap(services.ErrCollaborator, "catalog", "retrieve",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var record map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "catalog", "retrieve", "decode response", err)
	}
	return record, nil
}

// Update posts a full record back to its URI.
func (c *Client) Update(ctx context.Context, uri string, payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return services.Wrap(services.ErrCollaborator, "catalog", "update", "encode payload", err)
	}
	resp, err := c.do(ctx, http.MethodPost, normalizePath(uri), encoded)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return services.Wrap(services.ErrCollaborator, "catalog", "update",
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	return nil
}

// Search returns records of a kind whose field exactly matches value.
func (c *Client) Search(ctx context.Context, kind Kind, field, value string) ([]map[string]any, error) {
	endpoint, err := c.endpointFor(kind)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("field", field)
	query.Set("value", value)

	return c.list(ctx, "search", endpoint+"/search?"+query.Encode())
}

// ListModifiedSince returns records of a kind modified at or after the
// given time.
func (c *Client) ListModifiedSince(ctx context.Context, kind Kind, since time.Time) ([]map[string]any, error) {
	endpoint, err := c.endpointFor(kind)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("modified_since", strconv.FormatInt(since.UTC().Unix(), 10))

	return c.list(ctx, "list", endpoint+"?"+query.Encode())
}

func (c *Client) list(ctx context.Context, operation, path string) ([]map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, services.Wrap(services.ErrCollaborator, "catalog", operation,
			fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var payload struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "catalog", operation, "decode response", err)
	}
	return payload.Results, nil
}

// GetOrCreate resolves a record in three tiers: exact field search, a scan
// of records modified since the given time, then creation. The modified
// window catches records created by an earlier run whose search index has
// not caught up yet.
func (c *Client) GetOrCreate(ctx context.Context, kind Kind, field, value string, modifiedSince time.Time, payload map[string]any) (string, error) {
	matches, err := c.Search(ctx, kind, field, value)
	if err != nil {
		return "", err
	}
	if len(matches) > 0 {
		if uri := recordURI(matches[0]); uri != "" {
			return uri, nil
		}
	}

	if !modifiedSince.IsZero() {
		recent, err := c.ListModifiedSince(ctx, kind, modifiedSince)
		if err != nil {
			return "", err
		}
		for _, record := range recent {
			if fieldMatches(record, field, value) {
				if uri := recordURI(record); uri != "" {
					return uri, nil
				}
			}
		}
	}

	return c.Create(ctx, kind, payload)
}

// HighestAccessionSuffix returns the largest numeric suffix among accessions
// whose leading identifier segment matches the given year, or 0 when the
// year has no accessions yet.
func (c *Client) HighestAccessionSuffix(ctx context.Context, year string) (int, error) {
	matches, err := c.Search(ctx, KindAccession, "id_0", year)
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, record := range matches {
		raw, ok := record["id_1"].(string)
		if !ok {
			continue
		}
		suffix, err := strconv.Atoi(strings.TrimLeft(raw, "0"))
		if err != nil {
			continue
		}
		if suffix > highest {
			highest = suffix
		}
	}
	return highest, nil
}

func recordURI(record map[string]any) string {
	if uri, ok := record["uri"].(string); ok {
		return uri
	}
	return ""
}

func fieldMatches(record map[string]any, field, value string) bool {
	raw, ok := record[field].(string)
	return ok && raw == value
}

// normalizePath ensures catalog URIs are addressed relative to the base URL.
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
