// Package redis persists the hal cache in Redis. Every key is stored under a
// namespace so that Clear only touches this cache's entries.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/knaydenov/hal"
)

// Logger is an interface for logging operations
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures the Store
type Option func(*config)

type config struct {
	namespace  string
	expiration time.Duration
	scanCount  int64
	logger     Logger
}

func defaultConfig() *config {
	return &config{
		namespace: "hal:",
		scanCount: 100,
	}
}

// WithNamespace sets the prefix of every Redis key
// Default is "hal:"
func WithNamespace(namespace string) Option {
	return func(c *config) {
		c.namespace = namespace
	}
}

// WithExpiration sets a TTL on every written key
// Default is 0 (no expiration)
func WithExpiration(d time.Duration) Option {
	return func(c *config) {
		c.expiration = d
	}
}

// WithScanCount sets the SCAN batch hint used by Clear
// Default is 100
func WithScanCount(n int64) Option {
	return func(c *config) {
		if n > 0 {
			c.scanCount = n
		}
	}
}

// WithLogger sets the logger for the store
func WithLogger(logger Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Store implements hal.KeyValueStore on a Redis client.
type Store struct {
	client goredis.UniversalClient
	cfg    *config
	owned  bool
}

var _ hal.KeyValueStore = (*Store)(nil)

// New creates a Store using client. The client is not closed by the Store.
func New(client goredis.UniversalClient, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis: client is required")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Store{client: client, cfg: cfg}, nil
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	s, err := New(client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close closes the client if it was created by Dial.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(k string) string {
	return s.cfg.namespace + k
}

// GetItem implements hal.KeyValueStore
func (s *Store) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get %q: %w", key, err)
	}
	return v, true, nil
}

// SetItem implements hal.KeyValueStore
func (s *Store) SetItem(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, s.cfg.expiration).Err(); err != nil {
		return fmt.Errorf("redis: set %q: %w", key, err)
	}
	if s.cfg.logger != nil {
		s.cfg.logger.Debug("stored value", "key", s.key(key), "bytes", len(value))
	}
	return nil
}

// RemoveItem implements hal.KeyValueStore
func (s *Store) RemoveItem(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: del %q: %w", key, err)
	}
	return nil
}

// Clear deletes every key in the namespace.
func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: clear: %w", err)
	}
	if s.cfg.logger != nil {
		s.cfg.logger.Debug("cleared namespace", "namespace", s.cfg.namespace, "keys", len(keys))
	}
	return nil
}

// Keys returns the keys in the namespace without the namespace prefix.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, s.cfg.namespace)
	}
	return keys, nil
}

func (s *Store) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	pattern := escapeGlob(s.cfg.namespace) + "*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, s.cfg.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan %q: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
