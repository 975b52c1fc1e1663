// Package hal is a client-side cache for HAL+JSON APIs.
//
// Every fetched payload is stored under its origin, the href of its self
// link. Any number of aliases (requested URLs, caller-chosen names, names
// derived for embedded and linked children) resolve to one origin, so two
// views of the same remote resource always observe the same data.
//
// Basic usage:
//
//	h, err := hal.New(ctx, httpclient.New("https://api.example.com"), hal.NewMemoryStore(),
//		hal.WithPrefix("app:"),
//		hal.WithHandleCache(256),
//	)
//	if err != nil {
//		return err
//	}
//	defer h.Close(ctx)
//
//	me, err := hal.FromURL(ctx, h, hal.NewResource, "/me", nil, "")
//	if err != nil {
//		return err
//	}
//	me.OnData(func(p hal.Payload) {
//		fmt.Println(p.Get("name", ""))
//	})
//
//	me.Set("name", "Jon")
//	if _, err := me.Commit(ctx); err != nil {
//		return err
//	}
//
// Embedded resources are flattened into the cache: a payload stored at /me
// that embeds a resource /res under relation "avatar" makes /res reachable
// through the aliases "/res" and "/me@avatar". Links are followed into
// aliases of the form "/me#rel".
//
// Collections and pages decode their query options from the self link:
//
//	users := hal.NewPageable[*hal.Resource](h, "/users?page=1&limit=20")
//	users.SetItemConstructor(hal.NewResource)
//	users.SetPage(2)
//	users.Commit(ctx) // GET /users?page=2&limit=20
//
// Both maps are written to a KeyValueStore under "{prefix}origins" and
// "{prefix}aliases", debounced by a quiet window and optionally on a fixed
// interval. See the kvstore packages for durable stores.
package hal
