package hal

import (
	"time"
)

// Logger is an interface for logging operations. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Hal
type Option func(*config)

// config holds all configuration options
type config struct {
	prefix             string
	dumpInterval       time.Duration
	autoDump           bool
	quietWindow        time.Duration
	handleCacheSize    int
	maxEmbeddedAliases int
	logger             Logger
	observability      Observability
}

// defaultConfig returns the default configuration
func defaultConfig() *config {
	return &config{
		autoDump:           true,
		quietWindow:        time.Second,
		maxEmbeddedAliases: 64,
		observability:      noopObservability{},
	}
}

// WithPrefix sets the key prefix of the persisted blobs
// Default is empty, giving the keys "origins" and "aliases"
func WithPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// WithDumpInterval enables a periodic dump at the given interval
// Default is disabled
func WithDumpInterval(interval time.Duration) Option {
	return func(c *config) {
		c.dumpInterval = interval
	}
}

// WithAutoDump enables or disables dumping after store mutations
// Default is true
func WithAutoDump(enabled bool) Option {
	return func(c *config) {
		c.autoDump = enabled
	}
}

// WithQuietWindow sets how long auto-dump coalesces mutations
// Default is 1 second
func WithQuietWindow(window time.Duration) Option {
	return func(c *config) {
		c.quietWindow = window
	}
}

// WithHandleCache enables the handle cache holding up to size handles.
// Default is disabled.
func WithHandleCache(size int) Option {
	return func(c *config) {
		c.handleCacheSize = size
	}
}

// WithMaxEmbeddedAliases bounds how many parent aliases are propagated to an
// embedded child per relation. Zero or negative means unbounded.
// Default is 64
func WithMaxEmbeddedAliases(n int) Option {
	return func(c *config) {
		c.maxEmbeddedAliases = n
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithObservability sets the tracing and metrics hooks
func WithObservability(obs Observability) Option {
	return func(c *config) {
		if obs != nil {
			c.observability = obs
		}
	}
}
