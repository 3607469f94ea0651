package executor

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"wbgate-go/internal/apierr"
	"wbgate-go/internal/authtoken"
	"wbgate-go/internal/endpoint"
	"wbgate-go/internal/events"
	"wbgate-go/internal/storage"
	"wbgate-go/internal/transport"
)

// attemptRecord captures what the executor sent on one transport attempt.
type attemptRecord struct {
	URL   string
	Auth  string
	Body  string
	Meth  string
	Extra http.Header
}

// scriptedTransport replays a fixed sequence of outcomes and records every
// attempt it sees.
type scriptedTransport struct {
	script   []func(*transport.Request) (*transport.Response, error)
	attempts []attemptRecord
}

func (s *scriptedTransport) RoundTrip(_ context.Context, req *transport.Request) (*transport.Response, error) {
	s.attempts = append(s.attempts, attemptRecord{
		URL:   req.URL,
		Auth:  req.Header.Get("Authorization"),
		Body:  string(req.Body),
		Meth:  req.Method,
		Extra: req.Header,
	})
	idx := len(s.attempts) - 1
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx](req)
}

func connRefused(*transport.Request) (*transport.Response, error) {
	return nil, apierr.New(apierr.KindConnection, "connection refused")
}

func timedOut(*transport.Request) (*transport.Response, error) {
	return nil, apierr.New(apierr.KindTimeout, "request timed out")
}

func status(code int, body string) func(*transport.Request) (*transport.Response, error) {
	return func(*transport.Request) (*transport.Response, error) {
		return &transport.Response{Status: code, Header: http.Header{}, Body: []byte(body)}, nil
	}
}

type refresherFunc func(ctx context.Context, current string) (string, error)

func (f refresherFunc) Refresh(ctx context.Context, current string) (string, error) {
	return f(ctx, current)
}

type testRig struct {
	exec      *Executor
	transport *scriptedTransport
	store     *authtoken.Store
	refreshes *atomic.Int64
	events    *[]string
}

func newRig(t *testing.T, endpoints []string, script ...func(*transport.Request) (*transport.Response, error)) *testRig {
	t.Helper()

	hub := events.NewHub()
	var published []string
	hub.Subscribe(events.TopicEndpointFailover, func(_ context.Context, ev events.Event) {
		published = append(published, ev.Topic)
	})

	store := authtoken.NewStore(storage.NewMemoryKV(), storage.NewMemoryKV(), hub)

	var refreshes atomic.Int64
	coord := authtoken.NewCoordinator(store, refresherFunc(func(_ context.Context, _ string) (string, error) {
		refreshes.Add(1)
		return "refreshed-token", nil
	}))

	resolver, err := endpoint.NewResolver(endpoints)
	require.NoError(t, err)

	tr := &scriptedTransport{script: script}
	exec := New(tr, store, coord, resolver, hub, Pipeline{}, Config{})

	return &testRig{exec: exec, transport: tr, store: store, refreshes: &refreshes, events: &published}
}

func TestDoSuccessOnPrimary(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000", "http://b:7000"}, status(200, `{"ok":true}`))
	rig.store.Set(ctx, "tok-1", authtoken.TierSession)

	resp, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/api/tags"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	require.Len(t, rig.transport.attempts, 1)
	assert.Equal(t, "http://a:7000/api/tags", rig.transport.attempts[0].URL)
	assert.Equal(t, "Bearer tok-1", rig.transport.attempts[0].Auth)
}

func TestDoFailsOverOnConnectionFailure(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000", "http://b:7000", "http://c:7000"},
		connRefused, connRefused, status(200, "ok"))

	resp, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/ping"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	require.Len(t, rig.transport.attempts, 3)
	assert.Equal(t, "http://a:7000/ping", rig.transport.attempts[0].URL)
	assert.Equal(t, "http://b:7000/ping", rig.transport.attempts[1].URL)
	assert.Equal(t, "http://c:7000/ping", rig.transport.attempts[2].URL)
	assert.Len(t, *rig.events, 2)
}

func TestDoExhaustsAllEndpoints(t *testing.T) {
	ctx := context.Background()
	endpoints := []string{"http://a:7000", "http://b:7000", "http://c:7000"}
	rig := newRig(t, endpoints, connRefused)

	_, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/ping"})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindEndpointsExhausted))

	// Exactly one attempt per candidate, no wraparound.
	assert.Len(t, rig.transport.attempts, len(endpoints))

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, []string{"http://a:7000", "http://b:7000", "http://c:7000"}, apiErr.Endpoints)
}

func TestDoFailoverNotStickyAcrossRequests(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000", "http://b:7000"},
		connRefused, status(200, "ok"), status(200, "ok"))

	_, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/one"})
	require.NoError(t, err)
	assert.Equal(t, "http://b:7000/one", rig.transport.attempts[1].URL)

	// The next logical request starts back at the primary.
	_, err = rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/two"})
	require.NoError(t, err)
	assert.Equal(t, "http://a:7000/two", rig.transport.attempts[2].URL)
}

func TestDoTimeoutDoesNotFailOver(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000", "http://b:7000"}, timedOut)

	_, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/slow"})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindTimeout))

	// A slow endpoint is not an unreachable one: no second attempt.
	assert.Len(t, rig.transport.attempts, 1)
}

func TestDoRefreshesOnceOn401(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000"},
		status(401, `{"error":"expired"}`), status(200, "ok"))
	rig.store.Set(ctx, "stale", authtoken.TierDurable)

	resp, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/me"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	assert.Equal(t, int64(1), rig.refreshes.Load())
	require.Len(t, rig.transport.attempts, 2)
	assert.Equal(t, "Bearer stale", rig.transport.attempts[0].Auth)
	assert.Equal(t, "Bearer refreshed-token", rig.transport.attempts[1].Auth)
	// Retry hits the same endpoint; a 401 is not a connectivity problem.
	assert.Equal(t, rig.transport.attempts[0].URL, rig.transport.attempts[1].URL)

	// Persistence tier survives the refresh.
	assert.Equal(t, authtoken.TierDurable, rig.store.TierOf())
}

func TestDoRefreshDoesNotConsumeFailoverBudget(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000", "http://b:7000"},
		status(401, `{"error":"expired"}`), connRefused, status(200, "ok"))
	rig.store.Set(ctx, "stale", authtoken.TierSession)

	// 401 on the primary, then the primary drops: the fallback must still
	// get its attempt even though a refresh retry already happened.
	resp, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/me"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	require.Len(t, rig.transport.attempts, 3)
	assert.Equal(t, "http://a:7000/me", rig.transport.attempts[0].URL)
	assert.Equal(t, "http://a:7000/me", rig.transport.attempts[1].URL)
	assert.Equal(t, "http://b:7000/me", rig.transport.attempts[2].URL)
	assert.Equal(t, "Bearer refreshed-token", rig.transport.attempts[2].Auth)
}

func TestDoExhaustionReportsOnlyEndpointsSentTo(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000", "http://b:7000"},
		status(401, `{"error":"expired"}`), connRefused, connRefused)
	rig.store.Set(ctx, "stale", authtoken.TierSession)

	_, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/me"})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindEndpointsExhausted))

	// Both endpoints really received a transport attempt.
	require.Len(t, rig.transport.attempts, 3)
	assert.Equal(t, "http://b:7000/me", rig.transport.attempts[2].URL)

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, []string{"http://a:7000", "http://b:7000"}, apiErr.Endpoints)
}

func TestDoSecond401IsTerminal(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000"},
		status(401, `{"error":"expired"}`), status(401, `{"error":"revoked"}`))
	rig.store.Set(ctx, "stale", authtoken.TierSession)

	resp, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/me"})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindUnauthenticated))
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.Status)

	// One refresh per logical request, never a loop.
	assert.Equal(t, int64(1), rig.refreshes.Load())
	assert.Len(t, rig.transport.attempts, 2)

	// Terminal auth failure destroys the credential.
	_, ok := rig.store.Get(ctx)
	assert.False(t, ok)
}

func TestDoNoAuthSkips401Handling(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000"}, status(401, `{"error":"nope"}`))
	rig.store.Set(ctx, "tok", authtoken.TierSession)

	_, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/public", NoAuth: true})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindUnauthenticated))

	assert.Equal(t, int64(0), rig.refreshes.Load())
	assert.Empty(t, rig.transport.attempts[0].Auth)
}

func TestDoAnonymous401DoesNotRefresh(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000"}, status(401, `{"error":"login required"}`))
	// No token stored at all: nothing to refresh from.

	_, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/me"})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindUnauthenticated))
	assert.Equal(t, int64(0), rig.refreshes.Load())
}

func TestDoSurfacesHTTPErrors(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000", "http://b:7000"},
		status(503, `{"error":{"message":"overloaded"}}`))

	resp, err := rig.exec.Do(ctx, Request{Method: http.MethodGet, Path: "/gen"})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindHTTP))
	assert.Equal(t, 503, apierr.StatusOf(err))
	assert.Contains(t, err.Error(), "overloaded")
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.Status)

	// HTTP-level failures never trigger failover.
	assert.Len(t, rig.transport.attempts, 1)
}

func TestDoResendsIdenticalBodyOnFailover(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000", "http://b:7000"},
		connRefused, status(200, "ok"))

	body := []byte(`{"model":"llama3","prompt":"hi"}`)
	_, err := rig.exec.Do(ctx, Request{Method: http.MethodPost, Path: "/api/generate", Body: body})
	require.NoError(t, err)

	require.Len(t, rig.transport.attempts, 2)
	assert.Equal(t, string(body), rig.transport.attempts[0].Body)
	assert.Equal(t, string(body), rig.transport.attempts[1].Body)
	assert.Equal(t, http.MethodPost, rig.transport.attempts[1].Meth)
	assert.Equal(t, "application/json", rig.transport.attempts[1].Extra.Get("Content-Type"))
}

func TestDoMaxAttemptsCapsFailover(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub()
	store := authtoken.NewStore(storage.NewMemoryKV(), storage.NewMemoryKV(), hub)
	coord := authtoken.NewCoordinator(store, refresherFunc(func(_ context.Context, _ string) (string, error) {
		return "", nil
	}))
	resolver, err := endpoint.NewResolver([]string{"http://a:7000", "http://b:7000", "http://c:7000"})
	require.NoError(t, err)

	tr := &scriptedTransport{script: []func(*transport.Request) (*transport.Response, error){connRefused}}
	exec := New(tr, store, coord, resolver, hub, Pipeline{}, Config{MaxAttempts: 2})

	_, err = exec.Do(ctx, Request{Method: http.MethodGet, Path: "/ping"})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindEndpointsExhausted))
	assert.Len(t, tr.attempts, 2)
}

func TestDoRateLimitBoundsAttempts(t *testing.T) {
	hub := events.NewHub()
	store := authtoken.NewStore(storage.NewMemoryKV(), storage.NewMemoryKV(), hub)
	coord := authtoken.NewCoordinator(store, refresherFunc(func(_ context.Context, _ string) (string, error) {
		return "", nil
	}))
	resolver, err := endpoint.NewResolver([]string{"http://a:7000"})
	require.NoError(t, err)

	// One token, refilled hourly: the second request cannot acquire within
	// its deadline and must fail before reaching the transport.
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	tr := &scriptedTransport{script: []func(*transport.Request) (*transport.Response, error){status(200, "ok")}}
	exec := New(tr, store, coord, resolver, hub, Pipeline{}, Config{RateLimit: limiter})

	_, err = exec.Do(context.Background(), Request{Method: http.MethodGet, Path: "/one"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = exec.Do(ctx, Request{Method: http.MethodGet, Path: "/two"})
	require.Error(t, err)
	assert.Len(t, tr.attempts, 1)
}

func TestDoPipelineHooks(t *testing.T) {
	ctx := context.Background()
	hub := events.NewHub()
	store := authtoken.NewStore(storage.NewMemoryKV(), storage.NewMemoryKV(), hub)
	coord := authtoken.NewCoordinator(store, refresherFunc(func(_ context.Context, _ string) (string, error) {
		return "", nil
	}))
	resolver, err := endpoint.NewResolver([]string{"http://a:7000"})
	require.NoError(t, err)

	var sawResponse bool
	pipeline := NewPipeline(
		[]RequestHook{WithHeader("X-Client", "wbgate")},
		[]ResponseHook{func(*Response) { sawResponse = true }},
	)

	tr := &scriptedTransport{script: []func(*transport.Request) (*transport.Response, error){status(200, "ok")}}
	exec := New(tr, store, coord, resolver, hub, pipeline, Config{})

	_, err = exec.Do(ctx, Request{Method: http.MethodGet, Path: "/ping"})
	require.NoError(t, err)
	assert.Equal(t, "wbgate", tr.attempts[0].Extra.Get("X-Client"))
	assert.True(t, sawResponse)
}

func TestClientVerbHelpers(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t, []string{"http://a:7000"}, status(200, `{"n":1}`))
	client := NewClient(rig.exec, rig.store)

	client.SetAuthToken(ctx, "tok-x", false)
	tok, ok := client.GetAuthToken(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok-x", tok)
	assert.Equal(t, authtoken.TierSession, rig.store.TierOf())

	resp, err := client.Post(ctx, "/api/chat", map[string]string{"prompt": "hi"})
	require.NoError(t, err)

	var out struct {
		N int `json:"n"`
	}
	require.NoError(t, resp.DecodeJSON(&out))
	assert.Equal(t, 1, out.N)
	assert.JSONEq(t, `{"prompt":"hi"}`, rig.transport.attempts[0].Body)

	client.ClearAuthToken(ctx)
	_, ok = client.GetAuthToken(ctx)
	assert.False(t, ok)
}
