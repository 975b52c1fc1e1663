package hal

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"
)

func TestNewResourceReplaysCachedData(t *testing.T) {
	h, _, _ := newTestHal(t)
	h.SetItem("/me", resource("/me", "name", "Jon"))

	r := NewResource(h, "/me")
	defer r.Close()

	if !r.HasData() || r.State() != StateLoaded {
		t.Fatalf("HasData() = %v, State() = %q", r.HasData(), r.State())
	}
	if r.Get("name", "") != "Jon" {
		t.Errorf("Get(name) = %v", r.Get("name", ""))
	}
	if r.Alias() != "/me" || r.Hal() != h || r.Base() != r {
		t.Error("unexpected accessors")
	}
}

func TestResourceWithoutData(t *testing.T) {
	h, _, _ := newTestHal(t)
	r := NewResource(h, "nothing")
	defer r.Close()

	if r.HasData() || r.State() != StateUnloaded {
		t.Errorf("HasData() = %v, State() = %q", r.HasData(), r.State())
	}
	if r.Get("name", "default") != "default" {
		t.Error("Get should return the default")
	}
	if _, err := r.Field("name"); !errors.Is(err, ErrDataNotFound) {
		t.Errorf("Field() error = %v", err)
	}
	if _, err := r.Link("self"); !errors.Is(err, ErrDataNotFound) {
		t.Errorf("Link() error = %v", err)
	}
	if _, err := r.BaseURL(); !errors.Is(err, ErrDataNotFound) {
		t.Errorf("BaseURL() error = %v", err)
	}
	if r.HasLink("self") {
		t.Error("HasLink() without data")
	}
	if r.Embedded("items", "def") != "def" {
		t.Error("Embedded() should return the default")
	}
	if _, err := r.Commit(context.Background()); !errors.Is(err, ErrDataNotFound) {
		t.Errorf("Commit() error = %v", err)
	}
	if _, err := r.Refresh(context.Background()); !errors.Is(err, ErrDataNotFound) {
		t.Errorf("Refresh() error = %v", err)
	}
	if err := r.Delete(context.Background()); !errors.Is(err, ErrDataNotFound) {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestResourceFollowsAliasUpdates(t *testing.T) {
	h, _, _ := newTestHal(t)
	r := NewResource(h, "current")
	defer r.Close()

	var got recorder[Payload]
	r.OnData(got.handle)

	if _, err := h.Follow(context.Background(), "/me", nil, "current"); err != nil {
		t.Fatal(err)
	}
	h.SetItem("/me", resource("/me", "name", "Jonny"))

	values := got.all()
	if len(values) != 2 {
		t.Fatalf("received %d payloads, want 2", len(values))
	}
	if values[1].Get("name", "") != "Jonny" {
		t.Errorf("last payload = %v", values[1])
	}

	link, err := r.Link("missing")
	if link != "" || !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("Link(missing) = %q, %v", link, err)
	}
	if base, _ := r.BaseURL(); base != "/me" {
		t.Errorf("BaseURL() = %q", base)
	}
	if r.EmbeddedName("x") != "current@x" || r.LinkName("x") != "current#x" {
		t.Error("unexpected synthesized names")
	}
}

func TestResourceChangeSet(t *testing.T) {
	h, _, _ := newTestHal(t)
	h.SetItem("/me", resource("/me", "name", "Jon"))
	r := NewResource(h, "/me")
	defer r.Close()

	r.Set("name", "Jonny")
	r.Set("tags", []any{"a"})

	cs := r.ChangeSet()
	if !reflect.DeepEqual(cs, map[string]any{"name": "Jonny", "tags": []any{"a"}}) {
		t.Errorf("ChangeSet() = %v", cs)
	}
	cs["name"] = "changed"
	if r.ChangeSet()["name"] != "Jonny" {
		t.Error("ChangeSet() should return a copy")
	}
	if r.Get("name", "") != "Jon" {
		t.Error("Set must not touch the cached payload")
	}

	r.Revert()
	if len(r.ChangeSet()) != 0 {
		t.Error("Revert should clear the change-set")
	}
}

func TestResourceCommit(t *testing.T) {
	h, ft, _ := newTestHal(t)
	ctx := context.Background()
	if _, err := h.Follow(ctx, "/me", nil, "me"); err != nil {
		t.Fatal(err)
	}
	r := NewResource(h, "me")
	defer r.Close()

	ft.respond(http.MethodPatch, "/me", resource("/me", "name", "Jonny"))
	r.Set("name", "Jonny")

	if _, err := r.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	calls := ft.callsFor(http.MethodPatch, "/me")
	if len(calls) != 1 || !reflect.DeepEqual(calls[0].Body, map[string]any{"name": "Jonny"}) {
		t.Fatalf("PATCH calls = %+v", calls)
	}
	if len(r.ChangeSet()) != 0 {
		t.Error("committed edits should be dropped")
	}
	if r.Get("name", "") != "Jonny" {
		t.Errorf("Get(name) = %v", r.Get("name", ""))
	}
	if cached, _ := h.Resolve("me"); cached.Get("name", "") != "Jonny" {
		t.Error("response should be cached")
	}
}

func TestResourceCommitFailureKeepsChanges(t *testing.T) {
	h, ft, _ := newTestHal(t)
	h.SetItem("/me", resource("/me", "name", "Jon"))
	r := NewResource(h, "/me")
	defer r.Close()

	ft.fail(http.MethodPatch, "/me", errors.New("conflict"))
	r.Set("name", "Jonny")

	if _, err := r.Commit(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("Commit() error = %v", err)
	}
	if r.ChangeSet()["name"] != "Jonny" {
		t.Error("failed commit should keep the change-set")
	}
	if r.Get("name", "") != "Jon" {
		t.Error("failed commit should not change the payload")
	}
	if r.IsLoading() {
		t.Error("loading should be reset")
	}
}

func TestResourceDropChangesKeepsNewerEdits(t *testing.T) {
	h, _, _ := newTestHal(t)
	r := NewResource(h, "x")
	defer r.Close()

	r.Set("a", 1)
	r.Set("b", 2)
	sent := r.ChangeSet()
	r.Set("b", 3)
	r.dropChanges(sent)

	if !reflect.DeepEqual(r.ChangeSet(), map[string]any{"b": 3}) {
		t.Errorf("ChangeSet() = %v", r.ChangeSet())
	}
}

func TestResourceRefresh(t *testing.T) {
	h, ft, _ := newTestHal(t)
	ctx := context.Background()
	if _, err := h.Follow(ctx, "/me", nil, "me"); err != nil {
		t.Fatal(err)
	}
	h.SetItem("/me?expand=1", resource("/me?expand=1"))

	r := NewResource(h, "me")
	defer r.Close()

	var loading recorder[bool]
	r.OnLoading(loading.handle)

	r.Set("expand", "1")
	ft.data["/me"] = resource("/me", "name", "Jon Snow")

	data, err := r.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if data.Get("name", "") != "Jon Snow" || r.Get("name", "") != "Jon Snow" {
		t.Errorf("Refresh() = %v", data)
	}

	calls := ft.callsFor(http.MethodGet, "/me")
	if len(calls) != 2 || !reflect.DeepEqual(calls[1].Opts, RequestOptions{"expand": "1"}) {
		t.Errorf("GET calls = %+v", calls)
	}
	if len(r.ChangeSet()) != 0 {
		t.Error("Refresh should clear the change-set")
	}
	if _, ok := h.Item("/me?expand=1"); ok {
		t.Error("Refresh should drop cached siblings")
	}
	if got := loading.all(); !reflect.DeepEqual(got, []bool{true, false}) {
		t.Errorf("loading events = %v", got)
	}
}

func TestResourceDelete(t *testing.T) {
	h, ft, _ := newTestHal(t)
	ctx := context.Background()
	if _, err := h.Follow(ctx, "/me", nil, "me"); err != nil {
		t.Fatal(err)
	}
	r := NewResource(h, "me")
	defer r.Close()
	r.Set("name", "x")

	if err := r.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(ft.callsFor(http.MethodDelete, "/me")) != 1 {
		t.Error("expected one DELETE request")
	}
	if _, ok := h.Origin("me"); ok {
		t.Error("alias should be detached")
	}
	if _, ok := h.Item("/me"); ok {
		t.Error("origin should be removed")
	}
	if r.HasData() || r.State() != StateUnloaded || len(r.ChangeSet()) != 0 {
		t.Errorf("HasData() = %v, State() = %q", r.HasData(), r.State())
	}

	var late recorder[Payload]
	r.OnData(late.handle)
	if late.len() != 0 {
		t.Error("deleted payload should not be replayed")
	}
}

func TestResourceDeleteFailure(t *testing.T) {
	h, ft, _ := newTestHal(t)
	h.SetItem("/me", resource("/me"))
	r := NewResource(h, "/me")
	defer r.Close()

	ft.fail(http.MethodDelete, "/me", errors.New("forbidden"))
	if err := r.Delete(context.Background()); !errors.Is(err, ErrTransport) {
		t.Fatalf("Delete() error = %v", err)
	}
	if !r.HasData() {
		t.Error("failed delete should keep the data")
	}
	if _, ok := h.Item("/me"); !ok {
		t.Error("failed delete should keep the origin")
	}
}

func TestResourceDeleteOvertaken(t *testing.T) {
	h, ft, _ := newTestHal(t)
	ctx := context.Background()
	if _, err := h.Follow(ctx, "/me", nil, "me"); err != nil {
		t.Fatal(err)
	}
	r := NewResource(h, "me")
	defer r.Close()

	release := ft.gateDelete("/me")
	done := make(chan error, 1)
	go func() { done <- r.Delete(ctx) }()
	waitFor(t, "delete request", func() bool { return len(ft.callsFor(http.MethodDelete, "/me")) == 1 })

	if _, err := h.Follow(ctx, "/me", nil, "me"); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	release()

	if err := <-done; !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := h.Origin("me"); !ok {
		t.Error("alias should survive the overtaken delete")
	}
	if !r.HasData() || r.State() == StateUnloaded {
		t.Errorf("HasData() = %v, State() = %q", r.HasData(), r.State())
	}
}

func TestResourceAwait(t *testing.T) {
	h, _, _ := newTestHal(t)
	r := NewResource(h, "later")
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go h.Follow(context.Background(), "/me", nil, "later")

	data, err := r.Await(ctx)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if data.Self() != "/me" {
		t.Errorf("Await() = %v", data)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	empty := NewResource(h, "never")
	defer empty.Close()
	if _, err := empty.Await(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await() error = %v", err)
	}
}

func TestResourceClose(t *testing.T) {
	h, _, _ := newTestHal(t)
	r := NewResource(h, "/me")

	var got recorder[Payload]
	r.OnData(got.handle)
	r.Close()

	h.SetItem("/me", resource("/me"))
	if r.HasData() || got.len() != 0 {
		t.Error("closed resource should not receive updates")
	}
}

func TestFromURL(t *testing.T) {
	h, ft, _ := newTestHal(t)
	ctx := context.Background()

	r, err := FromURL[*Resource](ctx, h, NewResource, "/self", nil, "alias")
	if err != nil {
		t.Fatalf("FromURL() error = %v", err)
	}
	defer r.Close()

	if r.Get("name", "") != "Jon" || r.IsLoading() {
		t.Errorf("Get(name) = %v, IsLoading() = %v", r.Get("name", ""), r.IsLoading())
	}
	if o, _ := h.Origin("alias"); o != "/me" {
		t.Errorf("Origin(alias) = %q", o)
	}

	again, err := FromURL[*Resource](ctx, h, NewResource, "/self", nil, "other")
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()

	if n := len(ft.callsFor(http.MethodGet, "/self")); n != 1 {
		t.Errorf("GET /self called %d times, want 1", n)
	}
	if o, _ := h.Origin("other"); o != "/me" {
		t.Error("cached FromURL should attach the new name")
	}
	if !again.HasData() {
		t.Error("cached FromURL should deliver data")
	}
}

func TestFromURLFailure(t *testing.T) {
	h, ft, _ := newTestHal(t)
	ft.fail(http.MethodGet, "/me", errors.New("down"))

	r, err := FromURL[*Resource](context.Background(), h, NewResource, "/me", nil, "")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("FromURL() error = %v", err)
	}
	if r == nil {
		t.Fatal("the handle should be returned on failure")
	}
	defer r.Close()
	if r.HasData() || r.IsLoading() {
		t.Error("failed handle should be empty and idle")
	}
}

func TestFromEmbedded(t *testing.T) {
	h, ft, _ := newTestHal(t)
	ft.data["/post"] = withEmbedded(resource("/post"), "author", map[string]any(resource("/users/1", "name", "Arya")))

	post, err := FromURL[*Resource](context.Background(), h, NewResource, "/post", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	defer post.Close()

	author := FromEmbedded[*Resource](post, NewResource, "author", "")
	defer author.Close()

	if author.Alias() != "/post@author" {
		t.Errorf("Alias() = %q", author.Alias())
	}
	if author.Get("name", "") != "Arya" {
		t.Errorf("Get(name) = %v", author.Get("name", ""))
	}

	pets, err := FromURL[*Resource](context.Background(), h, NewResource, "/pets", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	defer pets.Close()

	second := FromEmbedded[*Resource](pets, NewResource, "items[1]", "")
	defer second.Close()
	if second.Get("name", "") != "Spike" {
		t.Errorf("second pet = %v", second.Data())
	}
}

func TestFromLink(t *testing.T) {
	h, ft, _ := newTestHal(t)
	ft.data["/post"] = withLinks(resource("/post"), "author", "/users/1")
	ft.data["/users/1"] = resource("/users/1", "name", "Arya")

	post := NewResource(h, "/post")
	defer post.Close()

	author := FromLink[*Resource](context.Background(), post, NewResource, "author", nil, "")
	defer author.Close()
	if author.Alias() != "/post#author" {
		t.Errorf("Alias() = %q", author.Alias())
	}
	if author.HasData() {
		t.Fatal("link should not be followed before the parent has data")
	}

	if _, err := h.Follow(context.Background(), "/post", nil, ""); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, err := author.Await(ctx)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if data.Get("name", "") != "Arya" {
		t.Errorf("author = %v", data)
	}
	waitFor(t, "loading reset", func() bool { return !author.IsLoading() })
}

func TestFollowLink(t *testing.T) {
	h, ft, _ := newTestHal(t)
	ft.data["/post"] = withLinks(resource("/post"), "author", "/users/1")
	ft.data["/users/1"] = resource("/users/1", "name", "Arya")
	ctx := context.Background()

	post := NewResource(h, "/post")
	defer post.Close()

	if _, err := FollowLink[*Resource](ctx, post, NewResource, "author", nil, "writer"); !errors.Is(err, ErrDataNotFound) {
		t.Errorf("FollowLink() without data error = %v", err)
	}

	if _, err := h.Follow(ctx, "/post", nil, ""); err != nil {
		t.Fatal(err)
	}

	writer, err := FollowLink[*Resource](ctx, post, NewResource, "author", nil, "writer")
	if err != nil {
		t.Fatalf("FollowLink() error = %v", err)
	}
	defer writer.Close()
	if writer.Alias() != "/post#writer" || writer.Get("name", "") != "Arya" {
		t.Errorf("writer = %q %v", writer.Alias(), writer.Data())
	}

	if _, err := FollowLink[*Resource](ctx, post, NewResource, "editor", nil, ""); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("FollowLink(editor) error = %v", err)
	}
}

func TestFromData(t *testing.T) {
	h, _, _ := newTestHal(t)

	r, err := FromData[*Resource](h, NewResource, resource("/created", "id", 7.0))
	if err != nil {
		t.Fatalf("FromData() error = %v", err)
	}
	defer r.Close()
	if r.Alias() != "/created" || r.Get("id", nil) != 7.0 {
		t.Errorf("FromData() handle = %q %v", r.Alias(), r.Data())
	}
	if _, ok := h.Item("/created"); !ok {
		t.Error("FromData should store the payload")
	}

	if _, err := FromData[*Resource](h, NewResource, Payload{"id": 1}); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("FromData(invalid) error = %v", err)
	}
}
