package executor

import (
	"context"
	"net/http"

	"wbgate-go/internal/authtoken"
)

// Client is the public request surface: verb helpers over the executor plus
// token management. UI collaborators hold a Client; they never touch the
// store or resolver directly.
type Client struct {
	exec   *Executor
	tokens *authtoken.Store
}

// NewClient pairs an executor with its credential store.
func NewClient(exec *Executor, tokens *authtoken.Store) *Client {
	return &Client{exec: exec, tokens: tokens}
}

// Do forwards to the executor.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	return c.exec.Do(ctx, req)
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.exec.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.doWithBody(ctx, http.MethodPost, path, body)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.doWithBody(ctx, http.MethodPut, path, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.exec.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

func (c *Client) doWithBody(ctx context.Context, method, path string, body any) (*Response, error) {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = JSONBody(body); err != nil {
			return nil, err
		}
	}
	return c.exec.Do(ctx, Request{Method: method, Path: path, Body: raw})
}

// SetAuthToken stores a token; remember selects the durable tier.
func (c *Client) SetAuthToken(ctx context.Context, token string, remember bool) {
	tier := authtoken.TierSession
	if remember {
		tier = authtoken.TierDurable
	}
	c.tokens.Set(ctx, token, tier)
}

// GetAuthToken returns the current token, or ("", false) when absent.
func (c *Client) GetAuthToken(ctx context.Context) (string, bool) {
	return c.tokens.Get(ctx)
}

// ClearAuthToken logs out: both tiers are wiped and the auth-changed
// notification fires.
func (c *Client) ClearAuthToken(ctx context.Context) {
	c.tokens.Clear(ctx)
}
