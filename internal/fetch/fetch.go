// Package fetch provides the outbound HTTP client used by all source
// adapters: GET with bounded retries, exponential backoff with jitter and a
// rotating browser-like User-Agent pool.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trendwatch/internal/logger"
)

// userAgents is the rotation pool. Upstream portals block obvious bots, so
// every attempt identifies as a mainstream browser.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/90.0.4430.212 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Mobile/15E148 Safari/604.1",
}

// retryableStatus lists the HTTP statuses worth another attempt. Other 4xx
// responses are treated as final.
var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// NetworkError is returned once retries are exhausted. Status is zero when
// the failure was at the transport level.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d after retries", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Options carries per-request parameters for Get.
type Options struct {
	Params  url.Values
	Headers map[string]string
	Cookies []*http.Cookie
}

// Response is the decoded result of a successful Get.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Result pairs a response with its error for GetMany.
type Result struct {
	URL      string
	Response *Response
	Err      error
}

// Client issues GET requests with retry, backoff and UA rotation.
type Client struct {
	http       *http.Client
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Client.
type Option func(*Client)

// WithMaxRetries overrides the default retry cap of 3.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay overrides the default base backoff of 1s.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithTimeout overrides the default per-attempt timeout of 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithProxy routes all requests through the given proxy URL.
func WithProxy(proxy string) Option {
	return func(c *Client) {
		if proxy == "" {
			return
		}
		if u, err := url.Parse(proxy); err == nil {
			c.http.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
		}
	}
}

// NewClient builds a fetcher with the default policy: 3 retries, 1s base
// backoff, 10s per-attempt timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:       &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		retryDelay: time.Second,
		log:        logger.With("fetch"),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET request, retrying transport errors and retryable HTTP
// statuses with exponential backoff and jitter. The User-Agent is rotated
// on every attempt.
func (c *Client) Get(ctx context.Context, rawURL string, opts *Options) (*Response, error) {
	var lastStatus int
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay*time.Duration(1<<uint(attempt-1)) + c.jitter()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &NetworkError{URL: rawURL, Status: lastStatus, Err: ctx.Err()}
			}
		}

		resp, status, err := c.attempt(ctx, rawURL, opts)
		if err == nil {
			if attempt > 0 {
				c.log.Warn().Str("url", rawURL).Int("attempt", attempt+1).Msg("request succeeded after retry")
			}
			return resp, nil
		}
		lastStatus, lastErr = status, err

		if status != 0 && !retryableStatus[status] {
			// Final client error; retrying will not help.
			break
		}
		if ctx.Err() != nil {
			break
		}
		c.log.Warn().Str("url", rawURL).Int("attempt", attempt+1).Int("max", c.maxRetries).Err(err).Msg("request failed")
	}

	c.log.Error().Str("url", rawURL).Int("status", lastStatus).Msg("retries exhausted")
	return nil, &NetworkError{URL: rawURL, Status: lastStatus, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, rawURL string, opts *Options) (*Response, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}

	if opts != nil && len(opts.Params) > 0 {
		q := req.URL.Query()
		for key, vals := range opts.Params {
			for _, v := range vals {
				q.Add(key, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}

	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("User-Agent", c.pickUserAgent())
	if opts != nil {
		for key, v := range opts.Headers {
			req.Header.Set(key, v)
		}
		for _, ck := range opts.Cookies {
			req.AddCookie(ck)
		}
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, 0, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, httpResp.StatusCode, fmt.Errorf("status %d for %s", httpResp.StatusCode, rawURL)
	}

	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}, httpResp.StatusCode, nil
}

// GetMany fetches all URLs concurrently and returns results in input order.
// Individual failures are reported per entry, never as a whole.
func (c *Client) GetMany(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			resp, err := c.Get(ctx, u, nil)
			results[i] = Result{URL: u, Response: resp, Err: err}
		}(i, u)
	}
	wg.Wait()
	return results
}

func (c *Client) pickUserAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return userAgents[c.rng.Intn(len(userAgents))]
}

func (c *Client) jitter() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.rng.Int63n(int64(500 * time.Millisecond)))
}
