package hal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

var errNotFound = errors.New("not found")

// resource builds a payload with a self link and the given field pairs.
func resource(self string, fields ...any) Payload {
	p := Payload{
		"_links": map[string]any{
			"self": map[string]any{"href": self},
		},
	}
	for i := 0; i+1 < len(fields); i += 2 {
		p[fields[i].(string)] = fields[i+1]
	}
	return p
}

func withLinks(p Payload, rels ...string) Payload {
	links := p["_links"].(map[string]any)
	for i := 0; i+1 < len(rels); i += 2 {
		links[rels[i]] = map[string]any{"href": rels[i+1]}
	}
	return p
}

func withEmbedded(p Payload, rel string, v any) Payload {
	embedded, ok := p["_embedded"].(map[string]any)
	if !ok {
		embedded = map[string]any{}
		p["_embedded"] = embedded
	}
	embedded[rel] = v
	return p
}

type call struct {
	Method string
	URL    string
	Body   any
	Opts   RequestOptions
}

// fakeTransport serves canned payloads by URL. GET requests for a gated URL
// block until the gate is released.
type fakeTransport struct {
	mu        sync.Mutex
	data      map[string]Payload
	responses map[string]Payload
	errs      map[string]error
	gates     map[string]chan struct{}
	calls     []call
}

func newFakeTransport() *fakeTransport {
	ft := &fakeTransport{
		data:      map[string]Payload{},
		responses: map[string]Payload{},
		errs:      map[string]error{},
		gates:     map[string]chan struct{}{},
	}

	me := resource("/me", "name", "Jon")
	ft.data["/me"] = me
	ft.data["/self"] = me

	ft.data["/pets"] = withEmbedded(resource("/pets"), RelItems, []any{
		map[string]any(resource("/pets/fluffy", "name", "Fluffy", "species", "cat")),
		map[string]any(resource("/pets/spike", "name", "Spike", "species", "dog")),
	})
	ft.data["/species"] = withEmbedded(resource("/species"), RelItems, []any{"cat", "dog", "bird"})

	page1 := make([]any, 0, 10)
	for i := 1; i <= 10; i++ {
		page1 = append(page1, map[string]any(resource(fmt.Sprintf("/users/%d", i))))
	}
	page2 := make([]any, 0, 6)
	for i := 11; i <= 16; i++ {
		page2 = append(page2, map[string]any(resource(fmt.Sprintf("/users/%d", i))))
	}

	users1 := withEmbedded(withLinks(resource("/users?page=1", "page", 1.0, "pages", 2.0, "limit", 10.0, "total", 16.0),
		"first", "/users?page=1",
		"last", "/users?page=2",
		"next", "/users?page=2",
	), RelItems, page1)
	users2 := withEmbedded(withLinks(resource("/users?page=2", "page", 2.0, "pages", 2.0, "limit", 10.0, "total", 16.0),
		"first", "/users?page=1",
		"last", "/users?page=2",
		"previous", "/users?page=1",
	), RelItems, page2)
	ft.data["/users"] = users1
	ft.data["/users?page=1"] = users1
	ft.data["/users?page=2"] = users2

	return ft
}

func (ft *fakeTransport) record(method, url string, body any, opts RequestOptions) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.calls = append(ft.calls, call{Method: method, URL: url, Body: body, Opts: opts})
}

func (ft *fakeTransport) lookup(method, url string) (Payload, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if err, ok := ft.errs[method+" "+url]; ok {
		return nil, err
	}
	if p, ok := ft.responses[method+" "+url]; ok {
		return p, nil
	}
	if p, ok := ft.data[url]; ok {
		return p, nil
	}
	return nil, errNotFound
}

// gate makes GET url block until the returned function is called.
func (ft *fakeTransport) gate(url string) (release func()) {
	ch := make(chan struct{})
	ft.mu.Lock()
	ft.gates[url] = ch
	ft.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// gateDelete makes DELETE url block until the returned function is called.
func (ft *fakeTransport) gateDelete(url string) (release func()) {
	return ft.gate(http.MethodDelete + " " + url)
}

func (ft *fakeTransport) respond(method, url string, p Payload) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.responses[method+" "+url] = p
}

func (ft *fakeTransport) fail(method, url string, err error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.errs[method+" "+url] = err
}

func (ft *fakeTransport) callsFor(method, url string) []call {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var out []call
	for _, c := range ft.calls {
		if c.Method == method && c.URL == url {
			out = append(out, c)
		}
	}
	return out
}

func (ft *fakeTransport) Get(ctx context.Context, url string, opts RequestOptions) (Payload, error) {
	ft.record(http.MethodGet, url, nil, opts)

	ft.mu.Lock()
	ch := ft.gates[url]
	ft.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return ft.lookup(http.MethodGet, url)
}

func (ft *fakeTransport) Post(ctx context.Context, url string, body any, opts RequestOptions) (Payload, error) {
	ft.record(http.MethodPost, url, body, opts)
	return ft.lookup(http.MethodPost, url)
}

func (ft *fakeTransport) Patch(ctx context.Context, url string, body any, opts RequestOptions) (Payload, error) {
	ft.record(http.MethodPatch, url, body, opts)
	return ft.lookup(http.MethodPatch, url)
}

func (ft *fakeTransport) Delete(ctx context.Context, url string, opts RequestOptions) error {
	ft.record(http.MethodDelete, url, nil, opts)

	ft.mu.Lock()
	ch := ft.gates[http.MethodDelete+" "+url]
	ft.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.errs[http.MethodDelete+" "+url]
}

// failingStore is a KeyValueStore whose writes fail on demand.
type failingStore struct {
	*MemoryStore
	mu        sync.Mutex
	failWrite error
	failRead  error
}

func (f *failingStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	err := f.failRead
	f.mu.Unlock()
	if err != nil {
		return "", false, err
	}
	return f.MemoryStore.GetItem(ctx, key)
}

func (f *failingStore) SetItem(ctx context.Context, key, value string) error {
	f.mu.Lock()
	err := f.failWrite
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.SetItem(ctx, key, value)
}

// newTestHal returns a Hal over a fresh fakeTransport and MemoryStore.
// Auto-dump is disabled unless opts enable it again.
func newTestHal(t *testing.T, opts ...Option) (*Hal, *fakeTransport, *MemoryStore) {
	t.Helper()

	ft := newFakeTransport()
	kv := NewMemoryStore()
	opts = append([]Option{WithAutoDump(false)}, opts...)

	h, err := New(context.Background(), ft, kv, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		h.Close(context.Background())
	})
	return h, ft, kv
}

// recorder collects values published to a handler.
type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) handle(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
