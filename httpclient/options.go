package httpclient

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Logger is an interface for logging operations
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Client.
type Option func(*config)

type config struct {
	httpClient    *http.Client
	timeout       time.Duration
	retryAttempts int
	retryBackoff  time.Duration
	headers       http.Header
	limiter       *rate.Limiter
	logger        Logger
}

func defaultConfig() *config {
	return &config{
		httpClient:    http.DefaultClient,
		timeout:       30 * time.Second,
		retryAttempts: 0,
		retryBackoff:  100 * time.Millisecond,
		headers:       make(http.Header),
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout.
// Default is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry configures how often GET and DELETE requests failing with a
// network error or a 5xx status are retried, waiting backoff times the
// attempt number between tries. POST and PATCH are never retried. Retries are
// off by default.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *config) {
		if attempts >= 0 {
			c.retryAttempts = attempts
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithHeader adds a header sent with every request, such as Authorization.
func WithHeader(key, value string) Option {
	return func(c *config) {
		c.headers.Add(key, value)
	}
}

// WithRateLimit limits outgoing requests to r per second with the given
// burst. Requests wait for a token or their context.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *config) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithLogger sets a logger for request tracing.
func WithLogger(logger Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
