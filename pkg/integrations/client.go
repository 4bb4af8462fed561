package integrations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/observability"
)

// memoSize bounds the in-process response memo shared by one Client.
const memoSize = 512

// Client provides shared HTTP functionality for the mirror clients.
// It handles caching, retry logic, and common request headers.
//
// Responses go through two cache layers: an in-memory LRU memo, consulted
// first, and an optional [httputil.Cache] on disk that survives restarts.
type Client struct {
	http    *http.Client
	cache   *httputil.Cache
	memo    *lru.Cache[string, []byte]
	headers map[string]string
	backoff httputil.Backoff
}

// Response is a raw registry response.
type Response struct {
	URL         string // Final request URL, used to resolve relative links
	ContentType string
	Body        []byte
}

// NewClient creates a Client with the given cache and default headers.
// Headers are applied to all requests made through this client.
// A nil cache keeps responses in memory only.
func NewClient(cache *httputil.Cache, headers map[string]string) *Client {
	memo, _ := lru.New[string, []byte](memoSize)
	return &Client{
		http:    NewHTTPClient(),
		cache:   cache,
		memo:    memo,
		headers: headers,
		backoff: httputil.DefaultBackoff(),
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(h *http.Client) { c.http = h }

// SetBackoff replaces the retry policy used by [Client.Cached].
func (c *Client) SetBackoff(b httputil.Backoff) { c.backoff = b }

// Cached retrieves a value from cache or executes fetch and caches the result.
// If refresh is true, both cache layers are bypassed and fetch is always called.
// The fetch function should populate v; on success, v is stored in the cache.
func (c *Client) Cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	if !refresh {
		if data, ok := c.memo.Get(key); ok && json.Unmarshal(data, v) == nil {
			return nil
		}
		if c.cache != nil {
			if ok, _ := c.cache.Get(key, v); ok {
				c.remember(key, v)
				return nil
			}
		}
	}
	if err := c.backoff.Do(ctx, func(int) error { return fetch() }); err != nil {
		return err
	}
	c.remember(key, v)
	if c.cache != nil {
		_ = c.cache.Set(key, v)
	}
	return nil
}

func (c *Client) remember(key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		c.memo.Add(key, data)
	}
}

// Get performs an HTTP GET request and JSON-decodes the response into v.
func (c *Client) Get(ctx context.Context, url string, v any) error {
	return c.GetWithHeaders(ctx, url, nil, v)
}

// GetWithHeaders performs an HTTP GET with additional headers merged with defaults.
// Request-specific headers override client defaults for the same key.
func (c *Client) GetWithHeaders(ctx context.Context, url string, headers map[string]string, v any) error {
	resp, err := c.Fetch(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

// GetText performs an HTTP GET request and returns the response body as a string.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	resp, err := c.Fetch(ctx, url, nil)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// Fetch performs an HTTP GET and returns the body with its content type.
// Mirrors that answer with HTML or JSON depending on Accept use this to
// decide how to decode.
func (c *Client) Fetch(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	host, path := hostPath(rawURL)
	hooks := observability.HTTP()
	hooks.OnRequest(ctx, req.Method, host, path)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		hooks.OnError(ctx, req.Method, host, path, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, httputil.Retryable(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	defer resp.Body.Close()
	hooks.OnResponse(ctx, req.Method, host, path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("%w: GET %s", err, rawURL)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, httputil.Retryable(fmt.Errorf("%w: read %s: %v", ErrNetwork, rawURL, err))
	}
	return &Response{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone:
		return ErrNotFound
	case code == http.StatusTooManyRequests, code >= 500:
		return httputil.Retryable(fmt.Errorf("%w: status %d", ErrNetwork, code))
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}

func hostPath(raw string) (string, string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", raw
	}
	return u.Host, u.Path
}
