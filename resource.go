package hal

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"
	"github.com/tiendc/go-deepcopy"
)

// Resource states.
const (
	StateUnloaded = "unloaded"
	StateLoaded   = "loaded"

	eventLoad   = "load"
	eventUnload = "unload"
)

// Handle is implemented by every resource handle type.
type Handle interface {
	Base() *Resource
}

// Resource is a live view of the payload one alias resolves to. It carries a
// change-set of pending field edits that never touches the cached payload.
type Resource struct {
	hal   *Hal
	alias string

	mu        sync.RWMutex
	data      Payload
	changeSet map[string]any

	state   *fsm.FSM
	loading atomic.Bool

	dataCh      *Channel[Payload]
	loadingCh   *Channel[bool]
	unsubscribe func()
}

// NewResource creates a handle for alias and subscribes it to the alias. A
// payload already cached for alias is available before NewResource returns.
func NewResource(h *Hal, alias string) *Resource {
	r := &Resource{
		hal:       h,
		alias:     alias,
		changeSet: make(map[string]any),
		dataCh:    NewChannel[Payload](ReplayLast),
		loadingCh: NewChannel[bool](FanOut),
	}
	r.state = fsm.NewFSM(
		StateUnloaded,
		fsm.Events{
			{Name: eventLoad, Src: []string{StateUnloaded, StateLoaded}, Dst: StateLoaded},
			{Name: eventUnload, Src: []string{StateLoaded, StateUnloaded}, Dst: StateUnloaded},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if logger := h.Logger(); logger != nil {
					logger.Debug("resource state changed", "alias", alias, "from", e.Src, "to", e.Dst)
				}
			},
		},
	)
	r.unsubscribe = h.Subscribe(alias, r.receive)
	return r
}

func (r *Resource) receive(data Payload) {
	r.mu.Lock()
	r.data = data
	r.mu.Unlock()

	r.transition(eventLoad)
	r.setLoading(false)
	r.dataCh.Publish(data)
}

func (r *Resource) transition(event string) {
	err := r.state.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		if logger := r.hal.Logger(); logger != nil {
			logger.Error("resource transition failed", "alias", r.alias, "event", event, "error", err)
		}
	}
}

func (r *Resource) setLoading(loading bool) {
	if r.loading.Swap(loading) != loading {
		r.loadingCh.Publish(loading)
	}
}

// Base returns r.
func (r *Resource) Base() *Resource {
	return r
}

// Hal returns the cache r belongs to.
func (r *Resource) Hal() *Hal {
	return r.hal
}

// Alias returns the alias r observes.
func (r *Resource) Alias() string {
	return r.alias
}

// State returns StateUnloaded or StateLoaded.
func (r *Resource) State() string {
	return r.state.Current()
}

// Data returns the current payload, or nil before the first one arrived.
func (r *Resource) Data() Payload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data
}

// HasData reports whether a payload is present.
func (r *Resource) HasData() bool {
	return r.Data() != nil
}

// IsLoading reports whether an operation is outstanding.
func (r *Resource) IsLoading() bool {
	return r.loading.Load()
}

// OnData registers handler for every payload update. The current payload,
// if any, is delivered before OnData returns.
func (r *Resource) OnData(handler Handler[Payload], opts ...SubscribeOption) (cancel func()) {
	return r.dataCh.Subscribe(handler, opts...)
}

// OnLoading registers handler for changes of the loading flag.
func (r *Resource) OnLoading(handler Handler[bool], opts ...SubscribeOption) (cancel func()) {
	return r.loadingCh.Subscribe(handler, opts...)
}

// Await blocks until a payload is present or ctx is done.
func (r *Resource) Await(ctx context.Context) (Payload, error) {
	ch := make(chan Payload, 1)
	cancel := r.OnData(func(p Payload) {
		select {
		case ch <- p:
		default:
		}
	}, Once())
	defer cancel()

	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns a field of the payload, or def when there is no payload or
// the field is absent.
func (r *Resource) Get(field string, def any) any {
	data := r.Data()
	if data == nil {
		return def
	}
	return data.Get(field, def)
}

// Field returns a field of the payload. It fails with ErrDataNotFound
// before the first payload arrived.
func (r *Resource) Field(field string) (any, error) {
	data := r.Data()
	if data == nil {
		return nil, ErrDataNotFound
	}
	return data[field], nil
}

// Set records a pending edit.
func (r *Resource) Set(field string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changeSet[field] = value
}

// ChangeSet returns a deep copy of the pending edits.
func (r *Resource) ChangeSet() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]any, len(r.changeSet))
	if err := deepcopy.Copy(&out, r.changeSet); err != nil {
		for k, v := range r.changeSet {
			out[k] = v
		}
	}
	return out
}

// Revert discards every pending edit.
func (r *Resource) Revert() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changeSet = make(map[string]any)
}

// dropChanges removes the edits in sent that were not modified since.
func (r *Resource) dropChanges(sent map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range sent {
		if cur, ok := r.changeSet[k]; ok && reflect.DeepEqual(cur, v) {
			delete(r.changeSet, k)
		}
	}
}

// HasLink reports whether the payload has rel.
func (r *Resource) HasLink(rel string) bool {
	data := r.Data()
	return data != nil && data.HasLink(rel)
}

// Link returns the href of rel. It fails with ErrDataNotFound before the
// first payload and with a *LinkError when rel is absent.
func (r *Resource) Link(rel string) (string, error) {
	data := r.Data()
	if data == nil {
		return "", ErrDataNotFound
	}
	return data.Link(rel)
}

// Embedded returns the raw embedded value under rel, or def.
func (r *Resource) Embedded(rel string, def any) any {
	data := r.Data()
	if data == nil {
		return def
	}
	return data.Embedded(rel, def)
}

// BaseURL returns the self-link without query string.
func (r *Resource) BaseURL() (string, error) {
	self, err := r.Link(RelSelf)
	if err != nil {
		return "", err
	}
	return BaseURL(self), nil
}

// EmbeddedName derives the alias of an embedded relation of r.
func (r *Resource) EmbeddedName(rel string) string {
	return EmbeddedName(r.alias, rel)
}

// LinkName derives the alias of a linked relation of r.
func (r *Resource) LinkName(rel string) string {
	return LinkName(r.alias, rel)
}

// store attaches r's alias, url and the self-link to the payload's origin
// and stores it, unless a newer completion for the alias won.
func (r *Resource) store(ticket uint64, url string, data Payload) error {
	ok := r.hal.apply(r.alias, ticket, func() {
		self := data.Self()
		r.hal.Attach(self, r.alias)
		r.hal.Attach(self, url)
		r.hal.Attach(self, self)
		r.hal.SetItem(self, data)
	})
	if !ok {
		return ErrStaleResponse
	}
	return nil
}

// Commit sends the change-set as a partial update to the self-link and
// stores the response. Edits made while the request was in flight survive.
func (r *Resource) Commit(ctx context.Context) (Payload, error) {
	url, err := r.Link(RelSelf)
	if err != nil {
		return nil, err
	}
	sent := r.ChangeSet()
	ticket := r.hal.begin(r.alias)

	r.setLoading(true)
	defer r.setLoading(false)

	data, err := r.hal.request(ctx, http.MethodPatch, url, sent, nil)
	if err != nil {
		return nil, err
	}
	r.dropChanges(sent)
	return data, r.store(ticket, url, data)
}

// Refresh drops every cached sibling of the resource, then fetches the
// self-link again with the change-set as request options. The change-set
// is cleared whatever the outcome.
func (r *Resource) Refresh(ctx context.Context) (Payload, error) {
	url, err := r.Link(RelSelf)
	if err != nil {
		return nil, err
	}
	opts := RequestOptions(r.ChangeSet())
	r.Revert()

	r.hal.RemoveSiblings(BaseURL(url))

	r.setLoading(true)
	defer r.setLoading(false)

	return r.hal.Follow(ctx, url, opts, r.alias)
}

// Delete deletes the resource remotely, then detaches its alias and
// self-link, removes the origin and returns the handle to StateUnloaded.
// When a newer completion for the alias landed while the request was in
// flight, the local state is kept and ErrStaleResponse is returned.
func (r *Resource) Delete(ctx context.Context) error {
	url, err := r.Link(RelSelf)
	if err != nil {
		return err
	}
	ticket := r.hal.begin(r.alias)

	r.setLoading(true)
	defer r.setLoading(false)

	if _, err := r.hal.request(ctx, http.MethodDelete, url, nil, nil); err != nil {
		return err
	}

	applied := r.hal.apply(r.alias, ticket, func() {
		r.hal.Detach(r.alias)
		r.hal.Detach(url)
		r.hal.RemoveItem(url)
	})
	if !applied {
		return ErrStaleResponse
	}

	r.mu.Lock()
	r.data = nil
	r.changeSet = make(map[string]any)
	r.mu.Unlock()

	r.dataCh.Forget()
	r.transition(eventUnload)
	return nil
}

// Close unsubscribes r from its alias and drops its own subscribers.
func (r *Resource) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.dataCh.Close()
	r.loadingCh.Close()
}
