package apierr

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// MapNetworkError classifies a transport-level failure. The taxonomy keeps
// timeouts and cancellations distinct from connection failures because only
// connection failures make an endpoint eligible for failover.
func MapNetworkError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "request exceeded its deadline", err)
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(KindCancelled, "request was cancelled", err)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Wrap(KindTimeout, "network timeout: "+err.Error(), err)
	}

	msg := err.Error()
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		msg = ue.Err.Error()
	}

	switch {
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "name resolution"):
		return Wrap(KindConnection, "DNS resolution failed: "+msg, err)
	case strings.Contains(msg, "connection refused"):
		return Wrap(KindConnection, "connection refused: "+msg, err)
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "EOF"):
		return Wrap(KindConnection, "connection dropped: "+msg, err)
	case strings.Contains(msg, "certificate") || strings.Contains(msg, "tls"):
		return Wrap(KindConnection, "TLS handshake failed: "+msg, err)
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return Wrap(KindTimeout, "network timeout: "+msg, err)
	case strings.Contains(msg, "context canceled"):
		return Wrap(KindCancelled, "request was cancelled", err)
	default:
		return Wrap(KindConnection, "network error: "+msg, err)
	}
}
