// Package kvtest holds the behavior every hal.KeyValueStore implementation
// must share. Store packages run it from their own tests.
package kvtest

import (
	"context"
	"testing"

	"github.com/knaydenov/hal"
)

// Run exercises the store returned by newStore. Each subtest gets a fresh
// store.
func Run(t *testing.T, newStore func(t *testing.T) hal.KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		v, ok, err := s.GetItem(ctx, "missing")
		if err != nil {
			t.Fatalf("GetItem() error = %v", err)
		}
		if ok || v != "" {
			t.Errorf("GetItem(missing) = %q, %v", v, ok)
		}
	})

	t.Run("set and get", func(t *testing.T) {
		s := newStore(t)
		if err := s.SetItem(ctx, "hal_aliases", `{"/me":"/me"}`); err != nil {
			t.Fatalf("SetItem() error = %v", err)
		}
		v, ok, err := s.GetItem(ctx, "hal_aliases")
		if err != nil || !ok || v != `{"/me":"/me"}` {
			t.Errorf("GetItem() = %q, %v, %v", v, ok, err)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		s := newStore(t)
		for _, v := range []string{"one", "two"} {
			if err := s.SetItem(ctx, "k", v); err != nil {
				t.Fatalf("SetItem() error = %v", err)
			}
		}
		if v, _, _ := s.GetItem(ctx, "k"); v != "two" {
			t.Errorf("GetItem() = %q, want two", v)
		}
	})

	t.Run("empty value", func(t *testing.T) {
		s := newStore(t)
		if err := s.SetItem(ctx, "k", ""); err != nil {
			t.Fatalf("SetItem() error = %v", err)
		}
		if v, ok, err := s.GetItem(ctx, "k"); err != nil || !ok || v != "" {
			t.Errorf("GetItem() = %q, %v, %v", v, ok, err)
		}
	})

	t.Run("remove", func(t *testing.T) {
		s := newStore(t)
		s.SetItem(ctx, "a", "1")
		s.SetItem(ctx, "b", "2")

		if err := s.RemoveItem(ctx, "a"); err != nil {
			t.Fatalf("RemoveItem() error = %v", err)
		}
		if err := s.RemoveItem(ctx, "a"); err != nil {
			t.Fatalf("RemoveItem() of absent key error = %v", err)
		}
		if _, ok, _ := s.GetItem(ctx, "a"); ok {
			t.Error("removed key still present")
		}
		if _, ok, _ := s.GetItem(ctx, "b"); !ok {
			t.Error("unrelated key removed")
		}
	})

	t.Run("clear", func(t *testing.T) {
		s := newStore(t)
		s.SetItem(ctx, "a", "1")
		s.SetItem(ctx, "b", "2")

		for i := 0; i < 2; i++ {
			if err := s.Clear(ctx); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
		}
		for _, k := range []string{"a", "b"} {
			if _, ok, _ := s.GetItem(ctx, k); ok {
				t.Errorf("key %q survived Clear", k)
			}
		}
	})

	t.Run("hal round trip", func(t *testing.T) {
		s := newStore(t)
		if err := s.SetItem(ctx, "hal_origins", `{"/me":{"_links":{"self":{"href":"/me"}},"name":"Jon"}}`); err != nil {
			t.Fatal(err)
		}
		if err := s.SetItem(ctx, "hal_aliases", `{"/me":"/me","alias":"/me"}`); err != nil {
			t.Fatal(err)
		}

		storage, err := hal.NewStorage(ctx, s, hal.WithPrefix("hal_"), hal.WithAutoDump(false))
		if err != nil {
			t.Fatalf("NewStorage() error = %v", err)
		}
		defer storage.Close(ctx)

		data, ok := storage.Resolve("alias")
		if !ok || data.Get("name", "") != "Jon" {
			t.Errorf("Resolve(alias) = %v, %v", data, ok)
		}
	})
}
