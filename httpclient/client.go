// Package httpclient is the HTTP implementation of hal.Transport. It speaks
// application/hal+json, resolves relative hrefs against a base URL and turns
// request options into query parameters.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/knaydenov/hal"
)

// Media types.
const (
	ContentTypeHAL  = "application/hal+json"
	ContentTypeJSON = "application/json"
)

// HeaderRequestID carries a unique id per logical request; retries reuse it.
const HeaderRequestID = "X-Request-Id"

// StatusError is returned for responses with a status of 400 or above.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("httpclient: status %d", e.StatusCode)
	}
	return fmt.Sprintf("httpclient: status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client handles HTTP communication with a HAL API.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	cfg        *config
}

var _ hal.Transport = (*Client)(nil)

// New creates a Client resolving relative URLs against baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpclient: parse base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("httpclient: base URL %q is not absolute", baseURL)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Client{base: base, httpClient: cfg.httpClient, cfg: cfg}, nil
}

// Resolve returns ref resolved against the base URL with opts merged into
// its query string.
func (c *Client) Resolve(ref string, opts hal.RequestOptions) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("httpclient: parse %q: %w", ref, err)
	}
	u = c.base.ResolveReference(u)

	if len(opts) > 0 {
		q := u.Query()
		keys := make([]string, 0, len(opts))
		for k := range opts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			addParam(q, k, opts[k])
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func addParam(q url.Values, key string, v any) {
	switch val := v.(type) {
	case nil:
	case []any:
		q.Del(key + "[]")
		for _, item := range val {
			q.Add(key+"[]", formatValue(item))
		}
	case []string:
		q.Del(key + "[]")
		for _, item := range val {
			q.Add(key+"[]", item)
		}
	default:
		q.Set(key, formatValue(val))
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// Get implements hal.Transport.
func (c *Client) Get(ctx context.Context, ref string, opts hal.RequestOptions) (hal.Payload, error) {
	return c.do(ctx, http.MethodGet, ref, nil, opts)
}

// Post implements hal.Transport.
func (c *Client) Post(ctx context.Context, ref string, body any, opts hal.RequestOptions) (hal.Payload, error) {
	return c.do(ctx, http.MethodPost, ref, body, opts)
}

// Patch implements hal.Transport.
func (c *Client) Patch(ctx context.Context, ref string, body any, opts hal.RequestOptions) (hal.Payload, error) {
	return c.do(ctx, http.MethodPatch, ref, body, opts)
}

// Delete implements hal.Transport. Any response body is discarded.
func (c *Client) Delete(ctx context.Context, ref string, opts hal.RequestOptions) error {
	_, err := c.do(ctx, http.MethodDelete, ref, nil, opts)
	return err
}

func (c *Client) do(ctx context.Context, method, ref string, body any, opts hal.RequestOptions) (hal.Payload, error) {
	target, err := c.Resolve(ref, opts)
	if err != nil {
		return nil, err
	}

	var encoded []byte
	if body != nil {
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: encode body: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	// POST and PATCH are not idempotent and are sent once.
	attempts := c.cfg.retryAttempts
	if method == http.MethodPost || method == http.MethodPatch {
		attempts = 0
	}

	requestID := uuid.NewString()
	resp, err := c.doWithRetry(ctx, attempts, func() (*http.Request, error) {
		var r io.Reader
		if encoded != nil {
			r = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, r)
		if err != nil {
			return nil, fmt.Errorf("httpclient: create request: %w", err)
		}
		for k, vs := range c.cfg.headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept", ContentTypeHAL+", "+ContentTypeJSON)
		req.Header.Set(HeaderRequestID, requestID)
		if encoded != nil {
			req.Header.Set("Content-Type", ContentTypeJSON)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	if c.cfg.logger != nil {
		c.cfg.logger.Debug("http response", "method", method, "url", target, "status", resp.StatusCode, "request_id", requestID, "bytes", len(raw))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var payload hal.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("httpclient: decode %s %s: %w", method, target, err)
	}
	return payload, nil
}

// doWithRetry executes the request, retrying up to attempts times.
func (c *Client) doWithRetry(ctx context.Context, attempts int, newRequest func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.retryBackoff * time.Duration(attempt)):
			}
		}

		if c.cfg.limiter != nil {
			if err := c.cfg.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("httpclient: rate limit: %w", err)
			}
		}

		req, err := newRequest()
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if c.cfg.logger != nil {
				c.cfg.logger.Debug("http request failed", "method", req.Method, "url", req.URL.String(), "attempt", attempt, "error", err)
			}
			continue
		}

		// Retry on 5xx errors
		if resp.StatusCode >= 500 && attempt < attempts {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}

		return resp, nil
	}

	if attempts == 0 {
		return nil, fmt.Errorf("httpclient: %w", lastErr)
	}
	return nil, fmt.Errorf("httpclient: after %d retries: %w", attempts, lastErr)
}
