// Package canvas is an HTTP client for the Canvas LMS REST API.
//
// The client handles Link-header pagination, maps HTTP status codes to
// the engine's error taxonomy, caches list responses in an LRU, and
// fails fast through a circuit breaker when the instance is down.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	syncerrors "github.com/Deyu-Zhang/canvas-ai/internal/errors"
)

const (
	// DefaultPageSize is the per_page value sent to paginated endpoints.
	DefaultPageSize = 100
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultCacheSize is the number of list responses kept in the LRU.
	DefaultCacheSize = 256
	// maxPages caps pagination to guard against a broken Link header loop.
	maxPages = 1000
)

// Client talks to a single Canvas instance.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
	breaker  *syncerrors.CircuitBreaker
	cache    *lru.Cache[string, []byte]
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPageSize sets the per_page parameter for list endpoints.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithCacheSize sets the LRU response cache capacity. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(c *Client) {
		if n <= 0 {
			c.cache = nil
			return
		}
		cache, err := lru.New[string, []byte](n)
		if err == nil {
			c.cache = cache
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Canvas API client.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, syncerrors.New(syncerrors.ErrCodeConfigInvalid, "canvas base URL is empty", nil)
	}
	if token == "" {
		return nil, syncerrors.New(syncerrors.ErrCodeConfigInvalid, "canvas access token is empty", nil)
	}

	cache, err := lru.New[string, []byte](DefaultCacheSize)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		pageSize: DefaultPageSize,
		http:     &http.Client{Timeout: DefaultTimeout},
		breaker:  syncerrors.NewCircuitBreaker("canvas"),
		cache:    cache,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BaseURL returns the configured instance root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListCourses returns all active courses visible to the token holder.
func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	var courses []Course
	q := url.Values{"enrollment_state": {"active"}}
	if err := c.getPaginated(ctx, "/api/v1/courses", q, &courses); err != nil {
		return nil, err
	}

	// Canvas sometimes returns restricted enrollments as entries with no
	// name. They cannot be synced, so drop them here.
	out := courses[:0]
	for _, course := range courses {
		if course.Name != "" {
			out = append(out, course)
		}
	}
	return out, nil
}

// ListFiles returns every file in the course's Files area.
func (c *Client) ListFiles(ctx context.Context, courseID int64) ([]File, error) {
	var files []File
	path := fmt.Sprintf("/api/v1/courses/%d/files", courseID)
	if err := c.getPaginated(ctx, path, nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// ListModules returns the course's content modules.
func (c *Client) ListModules(ctx context.Context, courseID int64) ([]Module, error) {
	var modules []Module
	path := fmt.Sprintf("/api/v1/courses/%d/modules", courseID)
	if err := c.getPaginated(ctx, path, nil, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// ListModuleItems returns the items of one module.
func (c *Client) ListModuleItems(ctx context.Context, courseID, moduleID int64) ([]ModuleItem, error) {
	var items []ModuleItem
	path := fmt.Sprintf("/api/v1/courses/%d/modules/%d/items", courseID, moduleID)
	if err := c.getPaginated(ctx, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ListPages returns the course's published wiki pages (without bodies).
func (c *Client) ListPages(ctx context.Context, courseID int64) ([]Page, error) {
	var pages []Page
	path := fmt.Sprintf("/api/v1/courses/%d/pages", courseID)
	if err := c.getPaginated(ctx, path, nil, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

// GetPage fetches one wiki page including its HTML body.
func (c *Client) GetPage(ctx context.Context, courseID int64, pageURL string) (*Page, error) {
	var page Page
	path := fmt.Sprintf("/api/v1/courses/%d/pages/%s", courseID, url.PathEscape(pageURL))
	if err := c.getJSON(ctx, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAssignments returns the course's assignments including descriptions.
func (c *Client) ListAssignments(ctx context.Context, courseID int64) ([]Assignment, error) {
	var assignments []Assignment
	path := fmt.Sprintf("/api/v1/courses/%d/assignments", courseID)
	if err := c.getPaginated(ctx, path, nil, &assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

// GetFile fetches metadata for a single file by ID. Used to resolve
// files referenced from page and assignment HTML.
func (c *Client) GetFile(ctx context.Context, fileID int64) (*File, error) {
	var file File
	path := fmt.Sprintf("/api/v1/files/%d", fileID)
	if err := c.getJSON(ctx, path, nil, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// Download streams a file's content. The url comes from File.URL and is
// already signed; the Authorization header is still attached for
// instances that require it. The caller must close the reader.
func (c *Client) Download(ctx context.Context, fileURL string) (io.ReadCloser, error) {
	if !c.breaker.Allow() {
		return nil, syncerrors.Wrap(syncerrors.ErrCodeRemoteUnavailable, syncerrors.ErrCircuitOpen)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, syncerrors.Wrap(syncerrors.ErrCodeInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		mapped := c.mapTransportError(err)
		if syncerrors.IsRetryable(mapped) {
			c.breaker.RecordFailure()
		}
		return nil, mapped
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		mapped := c.mapStatusError(resp.StatusCode, fileURL, body)
		if syncerrors.IsRetryable(mapped) {
			c.breaker.RecordFailure()
		}
		return nil, mapped
	}

	c.breaker.RecordSuccess()
	return resp.Body, nil
}

// getPaginated fetches all pages of a list endpoint, following the Link
// header's rel="next" until exhausted.
func (c *Client) getPaginated(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", strconv.Itoa(c.pageSize))

	next := c.baseURL + path + "?" + query.Encode()
	var all []json.RawMessage

	for page := 0; next != "" && page < maxPages; page++ {
		body, links, err := c.doGet(ctx, next)
		if err != nil {
			return err
		}

		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return syncerrors.Wrap(syncerrors.ErrCodeInternal, fmt.Errorf("decode %s: %w", path, err))
		}
		all = append(all, items...)

		next = links["next"]
	}

	merged, err := json.Marshal(all)
	if err != nil {
		return syncerrors.Wrap(syncerrors.ErrCodeInternal, err)
	}
	if err := json.Unmarshal(merged, out); err != nil {
		return syncerrors.Wrap(syncerrors.ErrCodeInternal, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// getJSON fetches a single object endpoint.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	body, _, err := c.doGet(ctx, u)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return syncerrors.Wrap(syncerrors.ErrCodeInternal, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// doGet performs one GET, consulting the LRU cache and circuit breaker.
// Returns the body and the parsed Link header relations.
func (c *Client) doGet(ctx context.Context, fullURL string) ([]byte, map[string]string, error) {
	if c.cache != nil {
		if body, ok := c.cache.Get(fullURL); ok {
			c.logger.Debug("canvas_cache_hit", "url", fullURL)
			return body, parseLinkFromCache(body), nil
		}
	}

	if !c.breaker.Allow() {
		return nil, nil, syncerrors.Wrap(syncerrors.ErrCodeRemoteUnavailable, syncerrors.ErrCircuitOpen)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, nil, syncerrors.Wrap(syncerrors.ErrCodeInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		mapped := c.mapTransportError(err)
		if syncerrors.IsRetryable(mapped) {
			c.breaker.RecordFailure()
		}
		return nil, nil, mapped
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, nil, syncerrors.Wrap(syncerrors.ErrCodeRemoteUnavailable, err)
	}

	c.logger.Debug("canvas_request",
		"url", fullURL,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		mapped := c.mapStatusError(resp.StatusCode, fullURL, body)
		if syncerrors.IsRetryable(mapped) {
			c.breaker.RecordFailure()
		}
		return nil, nil, mapped
	}

	c.breaker.RecordSuccess()

	links := parseLinkHeader(resp.Header.Get("Link"))
	// Only cache terminal pages to keep pagination links out of the cache.
	// List responses are cached per-URL, so intermediate pages still hit.
	if c.cache != nil && links["next"] == "" {
		c.cache.Add(fullURL, body)
	}

	return body, links, nil
}

// mapStatusError converts an HTTP status into the error taxonomy.
func (c *Client) mapStatusError(status int, u string, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return syncerrors.PermissionDenied(
			fmt.Sprintf("canvas returned %d", status), nil).
			WithDetail("url", u).
			WithDetail("body", msg)
	case status == http.StatusNotFound:
		return syncerrors.New(syncerrors.ErrCodeRemoteNotFound,
			fmt.Sprintf("canvas returned 404 for %s", u), nil)
	case status == http.StatusTooManyRequests:
		return syncerrors.New(syncerrors.ErrCodeRateLimited,
			"canvas rate limit exceeded", nil).WithDetail("url", u)
	case status >= 500:
		return syncerrors.New(syncerrors.ErrCodeRemoteUnavailable,
			fmt.Sprintf("canvas returned %d", status), nil).
			WithDetail("url", u).
			WithDetail("body", msg)
	default:
		return syncerrors.New(syncerrors.ErrCodeInternal,
			fmt.Sprintf("unexpected canvas status %d", status), nil).
			WithDetail("url", u)
	}
}

// mapTransportError classifies connection-level failures.
func (c *Client) mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return syncerrors.Wrap(syncerrors.ErrCodeRemoteTimeout, err)
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return syncerrors.Wrap(syncerrors.ErrCodeRemoteTimeout, err)
	}
	return syncerrors.Wrap(syncerrors.ErrCodeRemoteUnavailable, err)
}

// parseLinkHeader parses an RFC 5988 Link header into rel -> url.
// Canvas sends: <https://host/api/v1/...?page=2>; rel="next", <...>; rel="last"
func parseLinkHeader(header string) map[string]string {
	links := make(map[string]string)
	if header == "" {
		return links
	}

	for _, part := range strings.Split(header, ",") {
		sections := strings.Split(strings.TrimSpace(part), ";")
		if len(sections) < 2 {
			continue
		}

		u := strings.Trim(strings.TrimSpace(sections[0]), "<>")
		for _, attr := range sections[1:] {
			attr = strings.TrimSpace(attr)
			if rel, ok := strings.CutPrefix(attr, `rel="`); ok {
				links[strings.TrimSuffix(rel, `"`)] = u
			}
		}
	}

	return links
}

// parseLinkFromCache always returns no links: cached entries are
// terminal pages by construction.
func parseLinkFromCache([]byte) map[string]string {
	return map[string]string{}
}
