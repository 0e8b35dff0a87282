// Package httpx provides a bounded retry helper shared by the HTTP clients
// that talk to the GPU service, remote vector backends, and GraphQL upstreams.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Retry defaults. Transient gateway statuses are retried with linear backoff.
const (
	DefaultAttempts = 3
	DefaultBackoff  = 300 * time.Millisecond
)

// transientStatuses are HTTP statuses treated as retryable.
var transientStatuses = map[int]bool{
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// Transient reports whether an HTTP status code is retryable.
func Transient(status int) bool {
	return transientStatuses[status]
}

// Client wraps an http.Client with bounded linear-backoff retries.
type Client struct {
	http     *http.Client
	attempts int
	backoff  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithAttempts sets the maximum attempt count.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithBackoff sets the base backoff; attempt n sleeps n*backoff.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// NewClient creates a retrying client around the given http.Client.
// A nil inner client uses http.DefaultClient.
func NewClient(inner *http.Client, opts ...Option) *Client {
	if inner == nil {
		inner = http.DefaultClient
	}
	c := &Client{
		http:     inner,
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON posts body to url with Content-Type application/json, retrying
// transient statuses and transport errors. The response body is fully read
// and returned. Non-2xx terminal statuses produce an error carrying the
// status and a body excerpt.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	return c.sendJSON(ctx, http.MethodPost, url, body, headers)
}

// PutJSON performs a PUT with the same retry policy as PostJSON.
func (c *Client) PutJSON(ctx context.Context, url string, body []byte, headers map[string]string) ([]byte, error) {
	return c.sendJSON(ctx, http.MethodPut, url, body, headers)
}

func (c *Client) sendJSON(ctx context.Context, method, url string, body []byte, headers map[string]string) ([]byte, error) {
	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if !c.sleep(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if Transient(resp.StatusCode) {
			lastStatus = resp.StatusCode
			lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
			if !c.sleep(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}
		if readErr != nil {
			lastErr = readErr
			if !c.sleep(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{Status: resp.StatusCode, URL: url, Body: excerpt(data)}
		}
		return data, nil
	}

	suffix := ""
	if lastStatus != 0 {
		suffix = fmt.Sprintf(" status=%d", lastStatus)
	}
	return nil, fmt.Errorf("request failed after %d attempts: %s %s%s: %w", c.attempts, method, url, suffix, lastErr)
}

// GetJSON performs a GET with the same retry policy as PostJSON.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if !c.sleep(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if Transient(resp.StatusCode) {
			lastErr = fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
			if !c.sleep(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}
		if readErr != nil {
			lastErr = readErr
			if !c.sleep(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{Status: resp.StatusCode, URL: url, Body: excerpt(data)}
		}
		return data, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: GET %s: %w", c.attempts, url, lastErr)
}

// sleep waits attempt*backoff, honouring ctx. Returns false when ctx expired.
func (c *Client) sleep(ctx context.Context, attempt int) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(time.Duration(attempt) * c.backoff):
		return true
	}
}

// StatusError is a terminal (non-retryable) HTTP status failure.
type StatusError struct {
	Status int
	URL    string
	Body   string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d from %s: %s", e.Status, e.URL, e.Body)
	}
	return fmt.Sprintf("HTTP %d from %s", e.Status, e.URL)
}

// IsNotFound reports whether err is a terminal 404 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

func excerpt(data []byte) string {
	const limit = 512
	if len(data) > limit {
		return string(data[:limit])
	}
	return string(data)
}
