package apierr

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// MapHTTPError builds a structured error from an HTTP error response. The
// upstream body is probed for the common {"error": {"message": ...}} envelope;
// plain-text bodies are carried through truncated.
func MapHTTPError(status int, body []byte) *Error {
	msg := ExtractMessage(body)
	if msg == "" {
		msg = defaultMessage(status)
	}
	e := New(KindHTTP, msg)
	e.Status = status
	if status == http.StatusUnauthorized {
		e.Kind = KindUnauthenticated
	}
	return e
}

// ExtractMessage pulls a human-readable message out of an error response body.
func ExtractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !gjson.ValidBytes(body) {
		msg := string(body)
		if len(msg) > 200 {
			return msg[:200] + "..."
		}
		return msg
	}
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func defaultMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusUnauthorized:
		return "authentication required"
	case http.StatusForbidden:
		return "permission denied"
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case http.StatusGatewayTimeout:
		return "upstream timeout"
	default:
		return fmt.Sprintf("HTTP %d error", status)
	}
}
