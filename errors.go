package hal

import (
	"errors"
	"fmt"
)

var (
	// ErrLinkNotFound is returned when a relation is absent from a payload.
	ErrLinkNotFound = errors.New("hal: link not found")

	// ErrDataNotFound is returned when data is read before any payload arrived.
	ErrDataNotFound = errors.New("hal: data not found")

	// ErrConstructorNotConfigured is returned when an item handle is requested
	// from a collection without an item constructor.
	ErrConstructorNotConfigured = errors.New("hal: item constructor not configured")

	// ErrTransport marks failures surfaced by the Transport.
	ErrTransport = errors.New("hal: transport failure")

	// ErrInvalidPayload is returned when a fetched body is not a resource.
	ErrInvalidPayload = errors.New("hal: payload is not a resource")

	// ErrStaleResponse is returned when a completion was superseded by a newer
	// completion for the same alias and was discarded.
	ErrStaleResponse = errors.New("hal: stale response discarded")

	// ErrClosed is returned by operations on a closed Hal.
	ErrClosed = errors.New("hal: closed")
)

// LinkError identifies the missing relation.
type LinkError struct {
	Rel string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("hal: link %q not found", e.Rel)
}

func (e *LinkError) Is(target error) bool {
	return target == ErrLinkNotFound
}

// TransportError wraps an error returned by the Transport.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("hal: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
