package hal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Hal is the entry point shared by every handle of one cache: it owns the
// transport, the identity Storage and the optional handle cache.
type Hal struct {
	transport Transport
	storage   *Storage
	cfg       *config

	group singleflight.Group

	handlesMu sync.Mutex
	handles   *lru.Cache[string, any] // nil when disabled

	ticketsMu sync.Mutex
	issued    map[string]uint64
	applied   map[string]uint64

	closed atomic.Bool
}

// New creates a Hal using transport for requests and kv for persistence.
// Both maps are restored from kv before New returns.
func New(ctx context.Context, transport Transport, kv KeyValueStore, opts ...Option) (*Hal, error) {
	if transport == nil {
		return nil, errors.New("hal: transport is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	storage, err := newStorage(ctx, kv, cfg)
	if err != nil {
		return nil, err
	}

	h := &Hal{
		transport: transport,
		storage:   storage,
		cfg:       cfg,
		issued:    make(map[string]uint64),
		applied:   make(map[string]uint64),
	}

	if cfg.handleCacheSize > 0 {
		h.handles, err = lru.New[string, any](cfg.handleCacheSize)
		if err != nil {
			return nil, fmt.Errorf("hal: handle cache: %w", err)
		}
	}

	if cfg.logger != nil {
		cfg.logger.Info("hal initialized",
			"prefix", cfg.prefix,
			"auto_dump", cfg.autoDump,
			"dump_interval", cfg.dumpInterval,
			"handle_cache", cfg.handleCacheSize,
		)
	}
	return h, nil
}

// Storage returns the identity store.
func (h *Hal) Storage() *Storage {
	return h.storage
}

// Logger returns the configured logger, or nil.
func (h *Hal) Logger() Logger {
	return h.cfg.logger
}

// Follow fetches url and stores the result. The self-link, the requested url
// and alias (when not empty) are attached to the payload's origin.
// Concurrent calls with the same alias, url and options share one request
// and one outcome. If a newer completion for the same alias was applied
// meanwhile, the result is discarded and ErrStaleResponse is returned.
func (h *Hal) Follow(ctx context.Context, url string, opts RequestOptions, alias string) (Payload, error) {
	key := alias
	if key == "" {
		key = url
	}

	v, err, _ := h.group.Do(key+"\x00"+url+"\x00"+opts.Key(), func() (any, error) {
		ticket := h.begin(key)
		data, err := h.request(ctx, http.MethodGet, url, nil, opts)
		if err != nil {
			return nil, err
		}
		applied := h.apply(key, ticket, func() {
			self := data.Self()
			if alias != "" {
				h.storage.Attach(self, alias)
			}
			h.storage.Attach(self, url)
			h.storage.Attach(self, self)
			h.storage.SetItem(self, data)
		})
		return flight{data: data, applied: applied}, nil
	})
	if err != nil {
		return nil, err
	}
	f := v.(flight)
	if !f.applied {
		return f.data, ErrStaleResponse
	}
	return f.data, nil
}

// flight is the shared outcome of one deduplicated Follow.
type flight struct {
	data    Payload
	applied bool
}

// begin issues the next operation ticket for key.
func (h *Hal) begin(key string) uint64 {
	h.ticketsMu.Lock()
	defer h.ticketsMu.Unlock()

	h.issued[key]++
	return h.issued[key]
}

// apply runs fn unless a completion with a newer ticket for key was already
// applied. It reports whether fn ran.
func (h *Hal) apply(key string, ticket uint64, fn func()) bool {
	h.ticketsMu.Lock()
	if ticket < h.applied[key] {
		h.ticketsMu.Unlock()
		if h.cfg.logger != nil {
			h.cfg.logger.Debug("stale completion discarded", "key", key, "ticket", ticket)
		}
		return false
	}
	h.applied[key] = ticket
	h.ticketsMu.Unlock()

	fn()
	return true
}

// RemoveSiblings deletes every origin whose URL without query string equals
// baseURL and returns the number removed.
func (h *Hal) RemoveSiblings(baseURL string) int {
	n := h.storage.RemoveWhere(func(origin string) bool {
		return BaseURL(origin) == baseURL
	})
	if n > 0 && h.cfg.logger != nil {
		h.cfg.logger.Debug("siblings removed", "base_url", baseURL, "count", n)
	}
	return n
}

// Cached returns the handle cached for alias, constructing and caching it
// with ctor on a miss. With the handle cache disabled every call constructs
// a new handle. A cached handle of another type is replaced.
func Cached[T any](h *Hal, alias string, ctor func() T) T {
	if h.handles == nil {
		return ctor()
	}

	h.handlesMu.Lock()
	defer h.handlesMu.Unlock()

	if v, ok := h.handles.Get(alias); ok {
		if handle, ok := v.(T); ok {
			return handle
		}
	}
	handle := ctor()
	h.handles.Add(alias, handle)
	return handle
}

// HandleCacheEnabled reports whether handles are cached.
func (h *Hal) HandleCacheEnabled() bool {
	return h.handles != nil
}

// ClearCache empties the handle cache.
func (h *Hal) ClearCache() {
	if h.handles == nil {
		return
	}
	h.handlesMu.Lock()
	defer h.handlesMu.Unlock()
	h.handles.Purge()
}

// Clear drops a pending dump, empties both maps and removes their persisted
// keys. Calling it repeatedly is safe.
func (h *Hal) Clear(ctx context.Context) error {
	if err := h.storage.Clear(ctx); err != nil {
		return err
	}
	if h.cfg.logger != nil {
		h.cfg.logger.Info("cache cleared")
	}
	return nil
}

// Close writes a final snapshot and stops all timers. Requests made after
// Close fail with ErrClosed.
func (h *Hal) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.storage.Close(ctx)
}

// Storage proxies.

// Origin returns the origin alias resolves to.
func (h *Hal) Origin(alias string) (string, bool) { return h.storage.Origin(alias) }

// Item returns the payload stored for origin.
func (h *Hal) Item(origin string) (Payload, bool) { return h.storage.Item(origin) }

// Resolve returns the payload alias resolves to.
func (h *Hal) Resolve(alias string) (Payload, bool) { return h.storage.Resolve(alias) }

// SetItem stores data under origin.
func (h *Hal) SetItem(origin string, data Payload) { h.storage.SetItem(origin, data) }

// RemoveItem deletes the payload of origin.
func (h *Hal) RemoveItem(origin string) { h.storage.RemoveItem(origin) }

// Attach points alias at origin.
func (h *Hal) Attach(origin, alias string) { h.storage.Attach(origin, alias) }

// Detach removes alias.
func (h *Hal) Detach(alias string) { h.storage.Detach(alias) }

// AliasesFor returns the sorted aliases of origin.
func (h *Hal) AliasesFor(origin string) []string { return h.storage.AliasesFor(origin) }

// Aliases returns a copy of the alias map.
func (h *Hal) Aliases() map[string]string { return h.storage.Aliases() }

// Origins returns a copy of the origin map.
func (h *Hal) Origins() map[string]Payload { return h.storage.Origins() }

// Subscribe registers handler for payloads of alias.
func (h *Hal) Subscribe(alias string, handler Handler[Payload]) (cancel func()) {
	return h.storage.Subscribe(alias, handler)
}

// SubscribeChanges registers handler for every origin write.
func (h *Hal) SubscribeChanges(handler Handler[StorageEvent]) (cancel func()) {
	return h.storage.SubscribeChanges(handler)
}

// Dump writes both maps immediately.
func (h *Hal) Dump(ctx context.Context) error { return h.storage.Dump(ctx) }

// SetAutoDump enables or disables dumping after mutations.
func (h *Hal) SetAutoDump(enabled bool) { h.storage.SetAutoDump(enabled) }

// Reload replaces both maps with the persisted blobs.
func (h *Hal) Reload(ctx context.Context) error { return h.storage.Reload(ctx) }
