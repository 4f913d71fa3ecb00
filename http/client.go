// Package http provides the HTTP client used to talk to the Photos Library
// API and to fetch media content, with request pacing, error
// classification and per-read timeouts for streamed bodies.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Client wraps an HTTP client with per-host pacing and typed errors. It makes
// a single attempt per call; retry policy belongs to the caller.
type Client struct {
	base      *http.Client
	transport *http.Transport
	config    *Config
	pacer     *Pacer
}

// Config holds HTTP client configuration.
type Config struct {
	// Timeout bounds a whole request for buffered calls (Get, GetJSON).
	// Zero means no overall limit.
	Timeout time.Duration

	// ReadTimeout bounds connecting, waiting for response headers and every
	// individual body read of a streamed call.
	ReadTimeout time.Duration

	// User agent for HTTP requests
	UserAgent string

	// TokenSource authorizes requests when set; nil sends them anonymously.
	TokenSource oauth2.TokenSource

	// Per-host pacing
	Pacing PacingConfig

	// Connection pool configuration
	Transport TransportConfig
}

// TransportConfig configures the HTTP transport (connection pooling).
type TransportConfig struct {
	// MaxIdleConns is the maximum number of idle connections across all hosts.
	// Default: 20
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections per host.
	// Default: 10
	MaxIdleConnsPerHost int

	// MaxConnsPerHost is the maximum concurrent connections per host.
	// Default: 20
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle connection can remain open.
	// Default: 90 seconds
	IdleConnTimeout time.Duration

	// ForceAttemptHTTP2 forces HTTP/2 for connections to servers that don't explicitly support it.
	// Default: true
	ForceAttemptHTTP2 bool

	// DisableKeepAlives disables HTTP keep-alives (connection reuse).
	// Default: false (keep-alives enabled)
	DisableKeepAlives bool
}

// DefaultConfig returns sensible defaults for HTTP client configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:     60 * time.Second,
		ReadTimeout: 30 * time.Second,
		UserAgent:   "photosync/1.0",
		Pacing:      DefaultPacingConfig(),
		Transport:   DefaultTransportConfig(),
	}
}

// DefaultTransportConfig returns sensible defaults for HTTP transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		DisableKeepAlives:   false,
	}
}

// New creates a new HTTP client with the given configuration.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dialer := &net.Dialer{Timeout: cfg.ReadTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		TLSHandshakeTimeout:   cfg.ReadTimeout,

		MaxIdleConns:        cfg.Transport.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.Transport.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Transport.IdleConnTimeout,
		ForceAttemptHTTP2:   cfg.Transport.ForceAttemptHTTP2,
		DisableKeepAlives:   cfg.Transport.DisableKeepAlives,
	}

	var rt http.RoundTripper = otelhttp.NewTransport(transport)
	if cfg.TokenSource != nil {
		rt = &oauth2.Transport{Source: cfg.TokenSource, Base: rt}
	}

	return &Client{
		base:      &http.Client{Transport: rt},
		transport: transport,
		config:    cfg,
		pacer:     NewPacer(cfg.Pacing),
	}
}

// Response represents a buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Get performs a GET request and buffers the response body.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	resp, err := c.do(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// GetJSON performs a GET request and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Stream performs a GET request and returns the response with its body
// still open. Every Read on the body must make progress within
// Config.ReadTimeout or the transfer is aborted. The caller must close the
// body.
func (c *Client) Stream(ctx context.Context, url string) (*http.Response, error) {
	ctx, cancel := context.WithCancel(ctx)

	resp, err := c.do(ctx, url)
	if err != nil {
		cancel()
		return nil, err
	}

	resp.Body = newIdleTimeoutBody(resp.Body, c.config.ReadTimeout, cancel)
	return resp, nil
}

// do sends one paced GET and converts non-2xx responses into typed errors.
func (c *Client) do(ctx context.Context, urlStr string) (*http.Response, error) {
	if err := c.pacer.Wait(ctx, urlStr); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.base.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	if err := googleapi.CheckResponse(resp); err != nil {
		resp.Body.Close()
		return nil, c.classify(urlStr, resp, err)
	}

	c.pacer.Succeeded(urlStr)
	return resp, nil
}

// classify maps a failed API response onto RateLimitError or HTTPError.
func (c *Client) classify(urlStr string, resp *http.Response, err error) error {
	var apiErr *googleapi.Error
	message := ""
	var body []byte
	if errors.As(err, &apiErr) {
		message = apiErr.Message
		body = []byte(apiErr.Body)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		retryAfter := parseRetryAfter(resp.Header)
		c.pacer.Throttled(urlStr, retryAfter)
		return &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Message:    message,
		}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: message, Body: body}
}

// parseRetryAfter extracts the Retry-After header value.
// Returns the duration to wait, or 0 if not present.
func parseRetryAfter(header http.Header) time.Duration {
	retryAfter := header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		return time.Until(t)
	}

	return 0
}

// Close closes idle connections.
func (c *Client) Close() error {
	c.base.CloseIdleConnections()
	return nil
}

// idleTimeoutBody cancels the request when no Read completes within
// timeout. Reads failing after that report ErrReadTimeout rather than the
// cancellation.
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	fired   atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) io.ReadCloser {
	b := &idleTimeoutBody{rc: rc, timeout: timeout, cancel: cancel}
	if timeout > 0 {
		b.timer = time.AfterFunc(timeout, func() {
			b.fired.Store(true)
			cancel()
		})
	}
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && err != io.EOF && b.fired.Load() {
		return n, fmt.Errorf("%w: no data for %s", ErrReadTimeout, b.timeout)
	}
	if n > 0 {
		b.mu.Lock()
		if b.timer != nil {
			b.timer.Reset(b.timeout)
		}
		b.mu.Unlock()
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	err := b.rc.Close()
	b.cancel()
	return err
}
