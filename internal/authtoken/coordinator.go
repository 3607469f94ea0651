package authtoken

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"wbgate-go/internal/apierr"
)

// Coordinator serializes concurrent refresh attempts. However many requests
// observe an expired token at once, exactly one refresh call goes out; every
// waiter resolves with that call's outcome.
type Coordinator struct {
	store     *Store
	refresher Refresher
	timeout   time.Duration

	mu       sync.Mutex
	inflight *flight
}

// flight is one shared refresh operation. token/err are written once before
// done is closed and read-only afterwards.
type flight struct {
	done  chan struct{}
	token string
	err   error
}

// NewCoordinator wires the store that receives refreshed tokens.
func NewCoordinator(store *Store, refresher Refresher) *Coordinator {
	return &Coordinator{
		store:     store,
		refresher: refresher,
		timeout:   30 * time.Second,
	}
}

// Refresh returns the refreshed token. If a refresh is already in flight the
// caller attaches to it instead of issuing a second network call. A caller's
// cancellation detaches only that caller; the shared flight runs to
// completion so other waiters still get a result.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if f := c.inflight; f != nil {
		c.mu.Unlock()
		return c.wait(ctx, f)
	}
	f := &flight{done: make(chan struct{})}
	c.inflight = f
	c.mu.Unlock()

	go c.run(f)
	return c.wait(ctx, f)
}

func (c *Coordinator) wait(ctx context.Context, f *flight) (string, error) {
	select {
	case <-ctx.Done():
		return "", apierr.MapNetworkError(ctx.Err())
	case <-f.done:
		return f.token, f.err
	}
}

func (c *Coordinator) run(f *flight) {
	// Detached from any single caller's context on purpose.
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	current, _ := c.store.Get(ctx)
	tier := c.store.TierOf()

	token, err := c.refresher.Refresh(ctx, current)
	if err != nil {
		log.Warnf("token refresh failed: %v", err)
		c.store.Clear(ctx)
		f.err = apierr.Wrap(apierr.KindRefreshFailed, "token refresh failed", err)
	} else {
		// Persistence tier survives the refresh unchanged.
		c.store.Set(ctx, token, tier)
		f.token = token
		log.Info("auth token refreshed")
	}

	close(f.done)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
}
