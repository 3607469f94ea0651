package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a request-layer failure.
type Kind string

const (
	// KindConnection means the transport never completed an HTTP exchange
	// (DNS failure, connection refused, reset). Eligible for endpoint failover.
	KindConnection Kind = "connection_failure"
	// KindHTTP means the server responded with an error status. Not eligible
	// for failover; the exchange itself succeeded.
	KindHTTP Kind = "http_error"
	// KindUnauthenticated means a 401 survived the single refresh attempt.
	KindUnauthenticated Kind = "unauthenticated"
	// KindRefreshFailed means the token refresh call itself failed.
	KindRefreshFailed Kind = "refresh_failed"
	// KindEndpointsExhausted means every candidate endpoint was unreachable.
	KindEndpointsExhausted Kind = "all_endpoints_unreachable"
	// KindCandidatesExhausted means every fallback candidate failed.
	KindCandidatesExhausted Kind = "all_candidates_failed"
	// KindTimeout means an attempt exceeded its configured duration. Timeouts
	// do not trigger endpoint failover: a slow endpoint is still alive.
	KindTimeout Kind = "timeout"
	// KindCancelled means the caller aborted the request.
	KindCancelled Kind = "cancelled"
)

// Error is the structured failure surfaced by the request layer. Callers
// switch on Kind; Status and Endpoints are populated where they apply.
type Error struct {
	Kind      Kind
	Message   string
	Status    int
	Endpoints []string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Endpoints) > 0 {
		fmt.Fprintf(&b, " [attempted: %s]", strings.Join(e.Endpoints, ", "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on bare kinds: errors.Is(err, &Error{Kind: KindTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Status == 0 || t.Status == e.Status)
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that records its underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain, or "" if none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// StatusOf extracts the HTTP status from an error chain, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
