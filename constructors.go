package hal

import (
	"context"
	"fmt"
)

// Constructor builds a handle of type T observing alias.
type Constructor[T Handle] func(h *Hal, alias string) T

// FromURL returns the handle for url. If the cache already holds a payload
// for url it is republished to every alias of its origin; otherwise url is
// followed and name, when not empty, becomes an additional alias. The handle
// is returned even when the fetch fails.
func FromURL[T Handle](ctx context.Context, h *Hal, ctor Constructor[T], url string, opts RequestOptions, name string) (T, error) {
	handle := Cached(h, url, func() T { return ctor(h, url) })

	origin, ok := h.Origin(url)
	if !ok {
		origin = url
	}
	if data, ok := h.Item(origin); ok {
		if name != "" {
			h.Attach(origin, name)
		}
		h.SetItem(origin, data)
		return handle, nil
	}

	r := handle.Base()
	r.setLoading(true)
	defer r.setLoading(false)

	if _, err := h.Follow(ctx, url, opts, name); err != nil {
		return handle, err
	}
	return handle, nil
}

// FromEmbedded returns the handle for the embedded relation rel of parent,
// bound to the alias parentAlias@name (name defaults to rel). The data is
// whatever the flattener stored under that alias.
func FromEmbedded[T Handle](parent Handle, ctor Constructor[T], rel, name string) T {
	if name == "" {
		name = rel
	}
	p := parent.Base()
	alias := p.EmbeddedName(name)
	return Cached(p.hal, alias, func() T { return ctor(p.hal, alias) })
}

// FromLink returns the handle for the linked relation rel of parent, bound
// to the alias parentAlias#name (name defaults to rel). The link is followed
// in the background once parent has data; use Await on the handle to wait
// for the result.
func FromLink[T Handle](ctx context.Context, parent Handle, ctor Constructor[T], rel string, opts RequestOptions, name string) T {
	if name == "" {
		name = rel
	}
	p := parent.Base()
	h := p.hal
	alias := p.LinkName(name)
	handle := Cached(h, alias, func() T { return ctor(h, alias) })

	ctx = context.WithoutCancel(ctx)
	p.OnData(func(data Payload) {
		url, err := data.Link(rel)
		if err != nil {
			if logger := h.Logger(); logger != nil {
				logger.Error("link not followed", "alias", alias, "rel", rel, "error", err)
			}
			return
		}
		r := handle.Base()
		r.setLoading(true)
		go func() {
			defer r.setLoading(false)
			if _, err := h.Follow(ctx, url, opts, alias); err != nil {
				if logger := h.Logger(); logger != nil {
					logger.Error("link follow failed", "alias", alias, "url", url, "error", err)
				}
			}
		}()
	}, Once())

	return handle
}

// FollowLink is the blocking form of FromLink. It fails with ErrDataNotFound
// when parent has no data yet.
func FollowLink[T Handle](ctx context.Context, parent Handle, ctor Constructor[T], rel string, opts RequestOptions, name string) (T, error) {
	if name == "" {
		name = rel
	}
	p := parent.Base()
	h := p.hal
	alias := p.LinkName(name)
	handle := Cached(h, alias, func() T { return ctor(h, alias) })

	url, err := p.Link(rel)
	if err != nil {
		return handle, err
	}

	r := handle.Base()
	r.setLoading(true)
	defer r.setLoading(false)

	_, err = h.Follow(ctx, url, opts, alias)
	return handle, err
}

// FromData stores data under its self-link and returns the handle for it.
func FromData[T Handle](h *Hal, ctor Constructor[T], data Payload) (T, error) {
	if _, ok := AsResource(data); !ok {
		var zero T
		return zero, fmt.Errorf("hal: from data: %w", ErrInvalidPayload)
	}
	self := data.Self()
	handle := Cached(h, self, func() T { return ctor(h, self) })

	h.Attach(self, self)
	h.SetItem(self, data)
	return handle, nil
}
