package hal

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// RequestOptions are passed to the Transport with every request. The
// httpclient package encodes them as query parameters.
type RequestOptions map[string]any

// Key returns a stable string form of o, used to deduplicate requests.
func (o RequestOptions) Key() string {
	if len(o) == 0 {
		return ""
	}
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := make([]byte, 0, 64)
	for _, k := range keys {
		v, err := json.Marshal(o[k])
		if err != nil {
			continue
		}
		b = append(b, k...)
		b = append(b, '=')
		b = append(b, v...)
		b = append(b, '&')
	}
	return string(b)
}

// Transport is the HTTP capability. Each call returns one resource payload
// or an error; Delete returns no payload.
type Transport interface {
	Get(ctx context.Context, url string, opts RequestOptions) (Payload, error)
	Post(ctx context.Context, url string, body any, opts RequestOptions) (Payload, error)
	Patch(ctx context.Context, url string, body any, opts RequestOptions) (Payload, error)
	Delete(ctx context.Context, url string, opts RequestOptions) error
}

// request performs one transport call, reporting it to the observability
// hooks and validating the returned payload.
func (h *Hal) request(ctx context.Context, method, url string, body any, opts RequestOptions) (Payload, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}

	ctx = h.cfg.observability.OnFetchStart(ctx, method, url)
	start := time.Now()

	var (
		data Payload
		err  error
	)
	switch method {
	case http.MethodGet:
		data, err = h.transport.Get(ctx, url, opts)
	case http.MethodPost:
		data, err = h.transport.Post(ctx, url, body, opts)
	case http.MethodPatch:
		data, err = h.transport.Patch(ctx, url, body, opts)
	case http.MethodDelete:
		err = h.transport.Delete(ctx, url, opts)
	}

	if err != nil {
		err = &TransportError{Method: method, URL: url, Err: err}
	} else if method != http.MethodDelete {
		if _, ok := AsResource(data); !ok {
			err = fmt.Errorf("hal: %s %s: %w", method, url, ErrInvalidPayload)
			data = nil
		}
	}

	h.cfg.observability.OnFetchComplete(ctx, time.Since(start), err)
	if h.cfg.logger != nil {
		if err != nil {
			h.cfg.logger.Error("request failed", "method", method, "url", url, "error", err)
		} else {
			h.cfg.logger.Debug("request completed", "method", method, "url", url)
		}
	}
	return data, err
}
