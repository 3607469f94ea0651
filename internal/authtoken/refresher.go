package authtoken

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"

	"wbgate-go/internal/apierr"
	"wbgate-go/internal/fallback"
)

// Refresher exchanges the current token for a fresh one. Implementations are
// the only collaborators allowed to mint credentials.
type Refresher interface {
	Refresh(ctx context.Context, current string) (string, error)
}

// APIRefresher refreshes against the backend's own refresh endpoint:
// POST {"token": current} -> {"token": fresh}.
type APIRefresher struct {
	client *http.Client
	url    string
}

// NewAPIRefresher builds a refresher for the given absolute refresh URL.
func NewAPIRefresher(client *http.Client, url string) *APIRefresher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &APIRefresher{client: client, url: url}
}

func (r *APIRefresher) Refresh(ctx context.Context, current string) (string, error) {
	return postRefresh(ctx, r.client, r.url, current)
}

// FailoverAPIRefresher refreshes against the same path on each candidate base
// URL in priority order. The candidate list is read at refresh time, so the
// refresher follows both endpoint failover and config hot-reload; a primary
// outage does not break refresh while a fallback endpoint is healthy.
type FailoverAPIRefresher struct {
	client *http.Client
	bases  func() []string
	path   string
}

// NewFailoverAPIRefresher wires the live candidate source, typically
// endpoint.Resolver.Candidates.
func NewFailoverAPIRefresher(client *http.Client, bases func() []string, path string) *FailoverAPIRefresher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &FailoverAPIRefresher{client: client, bases: bases, path: path}
}

func (r *FailoverAPIRefresher) Refresh(ctx context.Context, current string) (string, error) {
	bases := r.bases()
	candidates := make([]fallback.Candidate[struct{}], len(bases))
	for i, base := range bases {
		candidates[i] = fallback.Candidate[struct{}]{ID: base + r.path}
	}

	// Default advance policy: unreachable endpoints advance, an HTTP-level
	// rejection (expired refresh token) aborts since it fails everywhere.
	outcome, err := fallback.Invoke(ctx, candidates,
		func(ctx context.Context, c fallback.Candidate[struct{}]) (string, error) {
			return postRefresh(ctx, r.client, c.ID, current)
		}, fallback.Options{})
	if err != nil {
		return "", err
	}
	return outcome.Value, nil
}

func postRefresh(ctx context.Context, client *http.Client, url, current string) (string, error) {
	payload, err := sjson.SetBytes([]byte(`{}`), "token", current)
	if err != nil {
		return "", fmt.Errorf("refresh: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("refresh: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", apierr.MapNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apierr.MapNetworkError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apierr.MapHTTPError(resp.StatusCode, body)
	}

	fresh := gjson.GetBytes(body, "token").Str
	if fresh == "" {
		fresh = gjson.GetBytes(body, "access_token").Str
	}
	if fresh == "" {
		return "", fmt.Errorf("refresh: response carried no token")
	}
	return fresh, nil
}

// OAuth2Refresher treats the stored token as an OAuth2 refresh token and
// exchanges it at a token endpoint for a fresh access token.
type OAuth2Refresher struct {
	conf *oauth2.Config
}

// NewOAuth2Refresher configures the token-endpoint exchange.
func NewOAuth2Refresher(tokenURL, clientID, clientSecret string) *OAuth2Refresher {
	return &OAuth2Refresher{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
	}
}

func (r *OAuth2Refresher) Refresh(ctx context.Context, current string) (string, error) {
	if current == "" {
		return "", fmt.Errorf("refresh: no refresh token available")
	}
	src := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: current})
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("refresh: token endpoint: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("refresh: token endpoint returned empty access token")
	}
	return tok.AccessToken, nil
}
