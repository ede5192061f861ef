package codesearch

import (
	"errors"
	"fmt"
)

// ErrDecode marks a response body that could not be parsed. It is fatal for
// the stream: the page's contents are unknown.
var ErrDecode = errors.New("codesearch: malformed response body")

// TransportError wraps a network-level failure (timeout, reset, refused).
// The fetcher never retries; callers decide.
type TransportError struct {
	Page int
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("codesearch: page %d: transport: %v", e.Page, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable is always true for transport failures.
func (e *TransportError) Retryable() bool { return true }

// StatusError reports an HTTP status that is neither success nor one of the
// statuses translated into an empty page.
type StatusError struct {
	Page       int
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("codesearch: page %d: unexpected status %d", e.Page, e.StatusCode)
	}
	return fmt.Sprintf("codesearch: page %d: unexpected status %d: %s", e.Page, e.StatusCode, e.Message)
}

// Retryable reports true for server-side failures.
func (e *StatusError) Retryable() bool { return e.StatusCode >= 500 }

// IsRetryable reports whether err, or anything it wraps, is marked retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
