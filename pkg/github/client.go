// Package github is the origin client: authenticated requests against the
// GitHub contents API, response classification into the pkg/e taxonomy, and
// rate-limit bookkeeping. One Client is scoped to one job and one credential;
// there are no package-level singletons.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ghzip/github-zip-server/pkg/cache"
	"github.com/ghzip/github-zip-server/pkg/e"
	"github.com/ghzip/github-zip-server/pkg/s"
	"github.com/ghzip/github-zip-server/pkg/utils/retry"
)

const (
	defaultBaseURL = "https://api.github.com"
	acceptHeader   = "application/vnd.github.v3+json"
)

// RateLimit is the origin-reported remaining quota and reset time, updated
// after every response. It decides whether a 403 means throttled or forbidden.
type RateLimit struct {
	Remaining int
	ResetAt   time.Time
}

// Client issues requests to the GitHub API through one pooled transport.
// A large tree issues hundreds of requests, so connections are reused.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cache   *cache.Cache
	retry   retry.Config

	mu     sync.Mutex
	limits RateLimit
}

// Option tweaks a Client, mainly for tests.
type Option func(*Client)

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetry overrides the transient-failure retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a client. An empty token falls back to the GITHUB_TOKEN
// environment variable; if that is empty too, requests go unauthenticated.
func New(token string, store *cache.Cache, opts ...Option) *Client {
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	if store == nil {
		store = cache.New(cache.DefaultTTL)
	}

	c := &Client{
		baseURL: defaultBaseURL,
		token:   token,
		cache:   store,
		retry:   retry.DefaultConfig(),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limits: RateLimit{Remaining: 5000},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RateLimit returns the last observed rate-limit state.
func (c *Client) RateLimit() RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

// ListDirectory fetches the contents of a repository path as an ordered
// sequence of entries. Results are cached per (owner, repo, path).
func (c *Client) ListDirectory(ctx context.Context, owner, repo, path string) ([]s.PathEntry, error) {
	key := fmt.Sprintf("contents:%s:%s:%s", owner, repo, path)
	if v, ok := c.cache.Get(key); ok {
		return v.([]s.PathEntry), nil
	}

	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL,
		url.PathEscape(owner), url.PathEscape(repo), escapePath(path))

	body, err := c.do(ctx, u)
	if err != nil {
		return nil, err
	}

	var entries []s.PathEntry
	if err = json.Unmarshal(body, &entries); err != nil {
		// A file path returns a single object rather than an array.
		var single s.PathEntry
		if err2 := json.Unmarshal(body, &single); err2 != nil || single.Path == "" {
			return nil, e.Upstream(fmt.Sprintf("unexpected contents response for %s: %s", path, err))
		}
		entries = []s.PathEntry{single}
	}

	c.cache.Put(key, entries)
	return entries, nil
}

// FetchFile downloads raw file bytes from a download URL produced by a
// directory listing. Results are cached per URL.
func (c *Client) FetchFile(ctx context.Context, downloadURL string) ([]byte, error) {
	key := "file:" + downloadURL
	if v, ok := c.cache.Get(key); ok {
		return v.([]byte), nil
	}

	body, err := c.do(ctx, downloadURL)
	if err != nil {
		return nil, err
	}

	c.cache.Put(key, body)
	return body, nil
}

// do performs one GET with auth headers, retrying connection-level failures.
// Non-2xx statuses are classified and never retried.
func (c *Client) do(ctx context.Context, u string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retry, e.IsTransient, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", acceptHeader)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, e.Transient(err)
		}
		defer resp.Body.Close()

		c.updateRateLimit(resp.Header)

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, e.Transient(err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, c.classify(resp.StatusCode, body)
		}
		return body, nil
	})
}

// classify turns a non-2xx response into a taxonomy error. The 403 split
// depends on the rate-limit state updated from the same response.
func (c *Client) classify(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return e.Authentication("Authentication failed. Please provide a valid GitHub token with sufficient permissions.")
	case http.StatusForbidden:
		limits := c.RateLimit()
		if limits.Remaining == 0 {
			return e.RateLimited(limits.ResetAt)
		}
		return e.Permission("Insufficient permissions. Try using a GitHub token with 'repo' scope.")
	case http.StatusNotFound:
		return e.PathNotFound("Repository or path not found. Check if the repository is private and you have access to it.")
	default:
		return e.Upstream(originMessage(status, body))
	}
}

// updateRateLimit consumes the rate-limit headers. A missing or garbled
// header leaves the previous value untouched.
func (c *Client) updateRateLimit(h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if remaining, err := strconv.Atoi(v); err == nil && remaining >= 0 {
			c.limits.Remaining = remaining
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.limits.ResetAt = time.Unix(epoch, 0)
		}
	}
}

func originMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return fmt.Sprintf("Error fetching from GitHub (HTTP %d): %s", status, payload.Message)
	}
	return fmt.Sprintf("Error fetching from GitHub (HTTP %d)", status)
}

// escapePath escapes each segment of a repo path while keeping separators.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
