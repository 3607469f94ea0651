package executor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Request is one logical request. It may take several transport attempts, but
// the caller sees a single outcome. Body is raw bytes so every retry resends
// identical content; only the target endpoint or the auth header may differ
// between attempts.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Header http.Header

	// NoAuth skips attaching the Authorization header and disables the
	// 401-refresh path for this request.
	NoAuth bool
	// Timeout overrides the executor's per-attempt timeout when positive.
	Timeout time.Duration
}

// Response is the normalized result: status, headers and raw body, whatever
// shape the server answered with.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// DecodeJSON unmarshals the body into v. An empty body is an error; callers
// that accept empty responses check len(Body) first.
func (r *Response) DecodeJSON(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("response body is empty")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// JSONBody marshals v for use as a request body.
func JSONBody(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return data, nil
}
