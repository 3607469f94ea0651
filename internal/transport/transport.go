package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"wbgate-go/internal/apierr"
)

// Request is one HTTP exchange to perform. Body is held as bytes so a retry
// of the same logical request resends identical content.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is the normalized outcome of a completed exchange. Any status code
// counts as a completed exchange; only transport-level faults are errors.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport performs a single HTTP exchange.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

const maxResponseBody = 32 << 20 // 32 MiB

// HTTPTransport is the net/http-backed Transport.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a transport with sane connection timeouts. The
// overall deadline comes per request; the client itself has none so that
// long generation calls are not cut off by a global ceiling.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 0,
				MaxIdleConns:          32,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// NewHTTPTransportWithClient wraps an existing client (tests).
func NewHTTPTransportWithClient(client *http.Client) *HTTPTransport {
	return &HTTPTransport{client: client}
}

// RoundTrip performs the exchange. Errors are always classified apierr values:
// connection failures, timeouts and cancellations come back distinct so the
// caller can decide on failover.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindConnection, "build request: "+err.Error(), err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		// The request deadline surfaces as a url.Error; prefer the context's
		// own verdict so Timeout and Cancelled stay distinct.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apierr.MapNetworkError(ctxErr)
		}
		return nil, apierr.MapNetworkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apierr.MapNetworkError(ctxErr)
		}
		return nil, apierr.MapNetworkError(err)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}
