package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wbgate-go/internal/apierr"
)

func TestRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("X-Server", "test")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	resp, err := tr.RoundTrip(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   []byte(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "test", resp.Header.Get("X-Server"))
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestErrorStatusIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	resp, err := tr.RoundTrip(context.Background(), &Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err, "an HTTP error status is a completed exchange")
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
}

func TestConnectionRefusedClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close() // free the port so the dial is refused

	tr := NewHTTPTransport()
	_, err := tr.RoundTrip(context.Background(), &Request{Method: http.MethodGet, URL: url})
	require.Error(t, err)
	assert.Equal(t, apierr.KindConnection, apierr.KindOf(err))
}

func TestTimeoutClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport()
	_, err := tr.RoundTrip(context.Background(), &Request{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Equal(t, apierr.KindTimeout, apierr.KindOf(err), "slow endpoint must classify as timeout, not connection failure")
}

func TestCancellationClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	tr := NewHTTPTransport()
	_, err := tr.RoundTrip(ctx, &Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, apierr.KindCancelled, apierr.KindOf(err))
}
