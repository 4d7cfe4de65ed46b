// Package backchannel wraps the server-to-server HTTP client used for token
// exchange, user-info retrieval and metadata fetches. One client is created
// per provider registration and reused across requests; responses are
// size-capped and time-bounded so a slow or malicious provider cannot exhaust
// local resources.
package backchannel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds any single backchannel call.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBytes caps how much of a provider response is
	// buffered.
	DefaultMaxResponseBytes = 10 << 20 // 10 MB
)

// Response is a fully buffered backchannel response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports whether the response carries a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Diagnostic renders the response for failure messages: status, headers and a
// body snippet. Intended for provider errors, which are routine and must be
// diagnosable.
func (r *Response) Diagnostic() string {
	body := r.Body
	if len(body) > 1024 {
		body = body[:1024]
	}
	var headers bytes.Buffer
	if err := r.Header.Write(&headers); err != nil {
		headers.Reset()
	}
	return fmt.Sprintf("Status: %d; Headers: %s; Body: %s", r.StatusCode, headers.String(), body)
}

// Client is a pooled, bounded backchannel HTTP client. Safe for concurrent
// use.
type Client struct {
	http     *http.Client
	maxBytes int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client, for example to pin
// TLS configuration.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Client) {
		if c != nil {
			b.http = c
		}
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Client) {
		if d > 0 {
			b.http.Timeout = d
		}
	}
}

// WithMaxResponseBytes overrides the response size cap.
func WithMaxResponseBytes(n int64) Option {
	return func(b *Client) {
		if n > 0 {
			b.maxBytes = n
		}
	}
}

// New creates a backchannel client with the default timeout and size cap.
func New(opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: DefaultTimeout},
		maxBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request and buffers the response up to the size cap. The
// request must carry the inbound request's context so a client disconnect
// cancels the outbound call. A non-2xx status is not an error here; callers
// decide what a provider failure means.
func (c *Client) Do(req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backchannel request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("backchannel response read failed: %w", err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("backchannel response exceeds %d bytes", c.maxBytes)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Get issues a GET with the given bearer token, if any.
func (c *Client) Get(ctx context.Context, rawURL, bearer string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("backchannel request construction failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.Do(req)
}

// PostForm issues an application/x-www-form-urlencoded POST.
func (c *Client) PostForm(ctx context.Context, rawURL string, form io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, form)
	if err != nil {
		return nil, fmt.Errorf("backchannel request construction failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return c.Do(req)
}
