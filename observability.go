package hal

import (
	"context"
	"time"
)

// Observability receives tracing and metrics callbacks from the cache.
// Start hooks may return a derived context that is handed back to the
// matching Complete hook.
type Observability interface {
	// OnFetchStart is called before a transport request.
	OnFetchStart(ctx context.Context, method, url string) context.Context

	// OnFetchComplete is called after a transport request finished.
	OnFetchComplete(ctx context.Context, duration time.Duration, err error)

	// OnNotify is called after a payload was published to the aliases of
	// its origin.
	OnNotify(ctx context.Context, origin string, aliases int)

	// OnDumpStart is called before both blobs are written.
	OnDumpStart(ctx context.Context, reason string) context.Context

	// OnDumpComplete is called after a dump, with the number of bytes written.
	OnDumpComplete(ctx context.Context, duration time.Duration, bytes int, err error)
}

type noopObservability struct{}

func (noopObservability) OnFetchStart(ctx context.Context, _, _ string) context.Context {
	return ctx
}

func (noopObservability) OnFetchComplete(context.Context, time.Duration, error) {}

func (noopObservability) OnNotify(context.Context, string, int) {}

func (noopObservability) OnDumpStart(ctx context.Context, _ string) context.Context {
	return ctx
}

func (noopObservability) OnDumpComplete(context.Context, time.Duration, int, error) {}
