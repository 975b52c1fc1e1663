package hal

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/knaydenov/hal/query"
)

// RelItems is the embedded relation holding the members of a collection.
const RelItems = "items"

// Collection is a Resource whose payload embeds a list of items. Its query
// options are decoded from the self-link and re-encoded, merged with the
// change-set, by ResolveURL.
type Collection[T Handle] struct {
	*Resource

	codec query.Codec

	mu      sync.RWMutex
	ctor    Constructor[T]
	options query.Options
	raw     []Payload
	items   []T

	// owned holds the item handles built by this collection while the
	// handle cache is disabled, keyed by self-link.
	rebuildMu sync.Mutex
	owned     map[string]T

	itemsCh    *Channel[[]T]
	optionsCh  *Channel[query.Options]
	cancelData func()
}

// NewCollection creates a collection handle for alias. Only filters are
// recognized in its query string.
func NewCollection[T Handle](h *Hal, alias string) *Collection[T] {
	return newCollection[T](h, alias, query.FilterOnly)
}

func newCollection[T Handle](h *Hal, alias string, codec query.Codec) *Collection[T] {
	c := &Collection[T]{
		Resource:  NewResource(h, alias),
		codec:     codec,
		options:   codec.Decode(alias),
		itemsCh:   NewChannel[[]T](ReplayLast),
		optionsCh: NewChannel[query.Options](FanOut),
	}
	c.cancelData = c.Resource.OnData(c.update)
	return c
}

func (c *Collection[T]) update(data Payload) {
	opts := c.codec.Decode(data.Self())
	raw := embeddedItems(data)

	c.mu.Lock()
	c.options = opts
	c.raw = raw
	c.mu.Unlock()

	c.optionsCh.Publish(opts)
	c.rebuildItems()
}

func (c *Collection[T]) rebuildItems() {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	c.mu.RLock()
	ctor := c.ctor
	raw := c.raw
	c.mu.RUnlock()

	if ctor == nil {
		return
	}

	items := make([]T, 0, len(raw))
	if c.hal.HandleCacheEnabled() {
		for _, item := range raw {
			self := item.Self()
			items = append(items, Cached(c.hal, self, func() T { return ctor(c.hal, self) }))
		}
	} else {
		owned := make(map[string]T, len(raw))
		for _, item := range raw {
			self := item.Self()
			handle, ok := owned[self]
			if !ok {
				handle, ok = c.owned[self]
			}
			if !ok {
				handle = ctor(c.hal, self)
			}
			owned[self] = handle
			items = append(items, handle)
		}
		for self, handle := range c.owned {
			if _, ok := owned[self]; !ok {
				handle.Base().Close()
			}
		}
		c.owned = owned
	}

	c.mu.Lock()
	c.items = items
	c.mu.Unlock()

	c.itemsCh.Publish(items)
}

// closeOwned closes every item handle built by the collection itself.
func (c *Collection[T]) closeOwned() {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	for _, handle := range c.owned {
		handle.Base().Close()
	}
	c.owned = nil
}

func embeddedItems(data Payload) []Payload {
	var out []Payload
	switch v := data.Embedded(RelItems, nil).(type) {
	case []any:
		for _, item := range v {
			if p, ok := AsResource(item); ok {
				out = append(out, p)
			}
		}
	case []Payload:
		for _, item := range v {
			if p, ok := AsResource(item); ok {
				out = append(out, p)
			}
		}
	}
	return out
}

// SetItemConstructor registers how item handles are built and rebuilds the
// current items with it.
func (c *Collection[T]) SetItemConstructor(ctor Constructor[T]) *Collection[T] {
	c.closeOwned()

	c.mu.Lock()
	c.ctor = ctor
	c.mu.Unlock()

	c.rebuildItems()
	return c
}

// ItemInstance returns the item handle for alias. It fails with
// ErrConstructorNotConfigured when no item constructor was registered.
func (c *Collection[T]) ItemInstance(alias string) (T, error) {
	c.mu.RLock()
	ctor := c.ctor
	c.mu.RUnlock()

	if ctor == nil {
		var zero T
		return zero, ErrConstructorNotConfigured
	}
	return Cached(c.hal, alias, func() T { return ctor(c.hal, alias) }), nil
}

// Items returns the item handles of the current payload. It is empty until
// an item constructor is registered.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

// RawItems returns the embedded item payloads of the current payload.
func (c *Collection[T]) RawItems() []Payload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Payload(nil), c.raw...)
}

// OnItems registers handler for every rebuilt item list. The current list,
// if any, is delivered before OnItems returns.
func (c *Collection[T]) OnItems(handler Handler[[]T], opts ...SubscribeOption) (cancel func()) {
	return c.itemsCh.Subscribe(handler, opts...)
}

// Options returns the query options of the current payload.
func (c *Collection[T]) Options() query.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyOptions(c.options)
}

// SetOptions replaces the current options and always republishes them, so
// observers can show provisional state before a commit.
func (c *Collection[T]) SetOptions(opts query.Options) {
	c.mu.Lock()
	c.options = copyOptions(opts)
	c.mu.Unlock()

	c.optionsCh.Publish(opts)
}

// OnOptions registers handler for options updates.
func (c *Collection[T]) OnOptions(handler Handler[query.Options], opts ...SubscribeOption) (cancel func()) {
	return c.optionsCh.Subscribe(handler, opts...)
}

// Filters returns the filters of the current options.
func (c *Collection[T]) Filters() []query.Filter {
	return c.Options().Filters
}

// SetFilters records new filters in the change-set.
func (c *Collection[T]) SetFilters(filters []query.Filter) {
	c.Set("filters", append([]query.Filter{}, filters...))
}

// ResolveURL returns the base URL with the current options, overridden by
// the change-set, encoded as query string. Before the first payload the
// alias serves as URL.
func (c *Collection[T]) ResolveURL() string {
	base, err := c.BaseURL()
	if err != nil {
		base = BaseURL(c.alias)
	}
	qs := c.codec.Encode(c.mergedOptions())
	if qs == "" {
		return base
	}
	return base + "?" + qs
}

func (c *Collection[T]) mergedOptions() query.Options {
	opts := c.Options()
	cs := c.ChangeSet()

	if v, ok := cs[query.KeyPage]; ok {
		if n, ok := toInt(v); ok {
			opts.Page = n
		}
	}
	if v, ok := cs[query.KeyLimit]; ok {
		if n, ok := toInt(v); ok {
			opts.Limit = n
		}
	}
	if v, ok := cs[query.KeySort].([]query.Sort); ok {
		opts.Sort = v
	}
	if v, ok := cs["filters"].([]query.Filter); ok {
		opts.Filters = v
	}
	return opts
}

// Commit fetches ResolveURL and stores the response under the collection's
// alias, clearing the change-set on success.
func (c *Collection[T]) Commit(ctx context.Context) (Payload, error) {
	return c.load(ctx, c.ResolveURL())
}

func (c *Collection[T]) load(ctx context.Context, url string) (Payload, error) {
	ticket := c.hal.begin(c.alias)

	c.setLoading(true)
	defer c.setLoading(false)

	data, err := c.hal.request(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return nil, err
	}
	c.Revert()
	return data, c.store(ticket, url, data)
}

// AddItem posts body to the base URL of the collection and stores the
// created item.
func (c *Collection[T]) AddItem(ctx context.Context, body any, opts RequestOptions) (Payload, error) {
	base, err := c.BaseURL()
	if err != nil {
		return nil, err
	}

	c.setLoading(true)
	defer c.setLoading(false)

	item, err := c.hal.request(ctx, http.MethodPost, base, body, opts)
	if err != nil {
		return nil, err
	}
	self := item.Self()
	c.hal.Attach(self, self)
	c.hal.SetItem(self, item)
	return item, nil
}

// Close unsubscribes the collection, the item handles it built and its
// underlying resource.
func (c *Collection[T]) Close() {
	if c.cancelData != nil {
		c.cancelData()
	}
	c.closeOwned()
	c.itemsCh.Close()
	c.optionsCh.Close()
	c.Resource.Close()
}

func copyOptions(o query.Options) query.Options {
	return query.Options{
		Page:    o.Page,
		Limit:   o.Limit,
		Sort:    append([]query.Sort{}, o.Sort...),
		Filters: append([]query.Filter{}, o.Filters...),
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
