package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/h2non/gock"
	"golang.org/x/time/rate"

	"github.com/knaydenov/hal"
)

const apiURL = "http://api.test"

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := New(apiURL+"/api/", append([]Option{WithRetry(0, time.Millisecond)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(gock.Off)
	return c
}

func TestNew(t *testing.T) {
	if _, err := New("/relative"); err == nil {
		t.Error("expected error for relative base URL")
	}
	if _, err := New("http://[::1"); err == nil {
		t.Error("expected parse error")
	}
}

func TestResolve(t *testing.T) {
	c := newTestClient(t)

	tests := []struct {
		name string
		ref  string
		opts hal.RequestOptions
		want string
	}{
		{"relative", "users", nil, "http://api.test/api/users"},
		{"absolute path", "/users?page=2", nil, "http://api.test/users?page=2"},
		{"absolute URL", "https://other.test/x", nil, "https://other.test/x"},
		{"scalar options", "/users", hal.RequestOptions{"page": 2, "q": "jon", "active": true}, "http://api.test/users?active=true&page=2&q=jon"},
		{"merged with query", "/users?page=1", hal.RequestOptions{"page": 3.0}, "http://api.test/users?page=3"},
		{"array options", "/users", hal.RequestOptions{"tag": []any{"a", "b"}}, "http://api.test/users?tag%5B%5D=a&tag%5B%5D=b"},
		{"nil option", "/users", hal.RequestOptions{"x": nil}, "http://api.test/users"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Resolve(tt.ref, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGet(t *testing.T) {
	c := newTestClient(t, WithHeader("Authorization", "Bearer token"))

	gock.New(apiURL).
		Get("/users/1").
		MatchParam("expand", "pets").
		MatchHeader("Accept", "application/hal\\+json").
		MatchHeader("Authorization", "^Bearer token$").
		MatchHeader(HeaderRequestID, "^[0-9a-f-]{36}$").
		Reply(200).
		SetHeader("Content-Type", ContentTypeHAL).
		JSON(map[string]any{
			"_links": map[string]any{"self": map[string]any{"href": "/users/1"}},
			"name":   "Jon",
		})

	data, err := c.Get(context.Background(), "/users/1", hal.RequestOptions{"expand": "pets"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if data.Self() != "/users/1" || data.Get("name", "") != "Jon" {
		t.Errorf("Get() = %v", data)
	}
	if !gock.IsDone() {
		t.Error("pending mocks")
	}
}

func TestPostAndPatch(t *testing.T) {
	c := newTestClient(t)

	gock.New(apiURL).
		Post("/users").
		MatchType("json").
		JSON(map[string]any{"name": "Arya"}).
		Reply(201).
		JSON(map[string]any{"_links": map[string]any{"self": map[string]any{"href": "/users/2"}}})

	gock.New(apiURL).
		Patch("/users/2").
		JSON(map[string]any{"name": "Arya Stark"}).
		Reply(200).
		JSON(map[string]any{"_links": map[string]any{"self": map[string]any{"href": "/users/2"}}, "name": "Arya Stark"})

	ctx := context.Background()
	created, err := c.Post(ctx, "/users", map[string]any{"name": "Arya"}, nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if created.Self() != "/users/2" {
		t.Errorf("Post() = %v", created)
	}

	updated, err := c.Patch(ctx, created.Self(), map[string]any{"name": "Arya Stark"}, nil)
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if updated.Get("name", "") != "Arya Stark" {
		t.Errorf("Patch() = %v", updated)
	}
	if !gock.IsDone() {
		t.Error("pending mocks")
	}
}

func TestDelete(t *testing.T) {
	c := newTestClient(t)
	gock.New(apiURL).Delete("/users/2").Reply(204)

	if err := c.Delete(context.Background(), "/users/2", nil); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t)
	gock.New(apiURL).Get("/missing").Reply(404).BodyString("no such user\n")

	_, err := c.Get(context.Background(), "/missing", nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if se.StatusCode != 404 || se.Body != "no such user" {
		t.Errorf("StatusError = %+v", se)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound() = false")
	}
	if se.Error() != "httpclient: status 404: no such user" {
		t.Errorf("Error() = %q", se.Error())
	}
}

func TestRetryOnServerError(t *testing.T) {
	c := newTestClient(t, WithRetry(2, time.Millisecond))

	gock.New(apiURL).Get("/flaky").Times(2).Reply(503)
	gock.New(apiURL).Get("/flaky").Reply(200).JSON(map[string]any{
		"_links": map[string]any{"self": map[string]any{"href": "/flaky"}},
	})

	data, err := c.Get(context.Background(), "/flaky", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if data.Self() != "/flaky" {
		t.Errorf("Get() = %v", data)
	}
	if !gock.IsDone() {
		t.Error("expected all three attempts")
	}
}

func TestRetryExhausted(t *testing.T) {
	c := newTestClient(t, WithRetry(1, time.Millisecond))
	gock.New(apiURL).Get("/down").Times(2).Reply(500)

	_, err := c.Get(context.Background(), "/down", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 {
		t.Fatalf("expected final 500 StatusError, got %v", err)
	}
}

func TestNoRetryForWrites(t *testing.T) {
	c := newTestClient(t, WithRetry(2, time.Millisecond))
	ctx := context.Background()
	body := map[string]any{"qty": 1}

	tests := []struct {
		name string
		mock func() *gock.Request
		send func() error
	}{
		{
			name: "post",
			mock: func() *gock.Request { return gock.New(apiURL).Post("/orders") },
			send: func() error { _, err := c.Post(ctx, "/orders", body, nil); return err },
		},
		{
			name: "patch",
			mock: func() *gock.Request { return gock.New(apiURL).Patch("/orders/1") },
			send: func() error { _, err := c.Patch(ctx, "/orders/1", body, nil); return err },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer gock.Off()
			tt.mock().Reply(503)
			tt.mock().Reply(200).JSON(map[string]any{"id": 1})

			var se *StatusError
			if err := tt.send(); !errors.As(err, &se) || se.StatusCode != 503 {
				t.Fatalf("expected 503 StatusError, got %v", err)
			}
			if n := len(gock.Pending()); n != 1 {
				t.Errorf("pending mocks = %d, want the second reply unused", n)
			}
		})
	}
}

func TestNoRetryByDefault(t *testing.T) {
	c, err := New(apiURL + "/api/")
	if err != nil {
		t.Fatal(err)
	}
	defer gock.Off()
	gock.New(apiURL).Get("/down").Reply(502)
	gock.New(apiURL).Get("/down").Reply(200).JSON(map[string]any{})

	if _, err := c.Get(context.Background(), "/down", nil); err == nil {
		t.Fatal("expected the first 502 to be returned")
	}
	if len(gock.Pending()) != 1 {
		t.Errorf("pending mocks = %d, want 1", len(gock.Pending()))
	}
}

func TestEmptyAndInvalidBodies(t *testing.T) {
	c := newTestClient(t)
	gock.New(apiURL).Get("/empty").Reply(200)
	gock.New(apiURL).Get("/garbage").Reply(200).BodyString("<html>")

	data, err := c.Get(context.Background(), "/empty", nil)
	if err != nil || data != nil {
		t.Errorf("Get(/empty) = %v, %v", data, err)
	}
	if _, err := c.Get(context.Background(), "/garbage", nil); err == nil {
		t.Error("expected decode error")
	}
}

func TestRateLimit(t *testing.T) {
	c := newTestClient(t, WithRateLimit(rate.Every(40*time.Millisecond), 1))
	gock.New(apiURL).Get("/limited").Times(3).Reply(200).JSON(map[string]any{
		"_links": map[string]any{"self": map[string]any{"href": "/limited"}},
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), "/limited", nil); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("3 requests took %v, expected the limiter to space them", elapsed)
	}
}

func TestRateLimitContext(t *testing.T) {
	c := newTestClient(t, WithRateLimit(rate.Every(time.Hour), 1))
	gock.New(apiURL).Get("/once").Reply(200).JSON(map[string]any{
		"_links": map[string]any{"self": map[string]any{"href": "/once"}},
	})

	if _, err := c.Get(context.Background(), "/once", nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Get(ctx, "/once", nil); err == nil {
		t.Error("expected the limiter to give up with the context")
	}
}

func TestHalIntegration(t *testing.T) {
	c := newTestClient(t)
	gock.New(apiURL).
		Get("/api/me").
		Reply(200).
		JSON(map[string]any{
			"_links":    map[string]any{"self": map[string]any{"href": "/api/me"}},
			"name":      "Jon",
			"_embedded": map[string]any{"wolf": map[string]any{"_links": map[string]any{"self": map[string]any{"href": "/api/wolves/ghost"}}}},
		})
	gock.New(apiURL).Get("/api/gone").Reply(http.StatusGone)

	ctx := context.Background()
	h, err := hal.New(ctx, c, hal.NewMemoryStore(), hal.WithAutoDump(false))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close(ctx)

	if _, err := h.Follow(ctx, "me", nil, "me"); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if o, _ := h.Origin("me@wolf"); o != "/api/wolves/ghost" {
		t.Errorf("Origin(me@wolf) = %q", o)
	}

	_, err = h.Follow(ctx, "gone", nil, "")
	if !errors.Is(err, hal.ErrTransport) {
		t.Fatalf("expected hal.ErrTransport, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusGone {
		t.Errorf("expected wrapped StatusError, got %v", err)
	}
}
