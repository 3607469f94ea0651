package authtoken

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"wbgate-go/internal/events"
	"wbgate-go/internal/storage"
)

type authEvents struct {
	states []events.AuthState
}

func (a *authEvents) record(hub *events.Hub) {
	hub.Subscribe(events.TopicAuthChanged, func(_ context.Context, ev events.Event) {
		if st, ok := ev.Payload.(events.AuthState); ok {
			a.states = append(a.states, st)
		}
	})
}

func newTestStore(t *testing.T) (*Store, *storage.MemoryKV, *storage.MemoryKV, *authEvents) {
	t.Helper()
	durable := storage.NewMemoryKV()
	session := storage.NewMemoryKV()
	hub := events.NewHub()
	recorded := &authEvents{}
	recorded.record(hub)
	return NewStore(durable, session, hub), durable, session, recorded
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, durable, session, recorded := newTestStore(t)

	_, ok := store.Get(ctx)
	assert.False(t, ok)

	store.Set(ctx, "t1", TierDurable)
	got, ok := store.Get(ctx)
	assert.True(t, ok)
	assert.Equal(t, "t1", got)
	assert.Equal(t, TierDurable, store.TierOf())

	// Durable write landed, session tier is clear.
	v, err := durable.Get(ctx, "auth_token")
	assert.NoError(t, err)
	assert.Equal(t, "t1", v)
	_, err = session.Get(ctx, "auth_token")
	assert.True(t, storage.IsNotFound(err))

	store.Clear(ctx)
	_, ok = store.Get(ctx)
	assert.False(t, ok)
	_, err = durable.Get(ctx, "auth_token")
	assert.True(t, storage.IsNotFound(err))

	// One login notification, one logout notification.
	assert.Equal(t, []events.AuthState{{Authenticated: true}, {Authenticated: false}}, recorded.states)
}

func TestSetSessionTierClearsDurable(t *testing.T) {
	ctx := context.Background()
	store, durable, session, _ := newTestStore(t)

	store.Set(ctx, "remembered", TierDurable)
	store.Set(ctx, "ephemeral", TierSession)

	_, err := durable.Get(ctx, "auth_token")
	assert.True(t, storage.IsNotFound(err))
	v, err := session.Get(ctx, "auth_token")
	assert.NoError(t, err)
	assert.Equal(t, "ephemeral", v)
}

func TestLoadPrefersDurableTier(t *testing.T) {
	ctx := context.Background()
	durable := storage.NewMemoryKV()
	session := storage.NewMemoryKV()
	_ = durable.Set(ctx, "auth_token", "from-durable")
	_ = session.Set(ctx, "auth_token", "from-session")

	store := NewStore(durable, session, nil)
	store.Load(ctx)

	got, ok := store.Get(ctx)
	assert.True(t, ok)
	assert.Equal(t, "from-durable", got)
	assert.Equal(t, TierDurable, store.TierOf())
}

func TestLoadFallsBackToSessionTier(t *testing.T) {
	ctx := context.Background()
	session := storage.NewMemoryKV()
	_ = session.Set(ctx, "auth_token", "from-session")

	store := NewStore(storage.NewMemoryKV(), session, nil)
	store.Load(ctx)

	got, ok := store.Get(ctx)
	assert.True(t, ok)
	assert.Equal(t, "from-session", got)
}

func TestTierNoneSkipsStorage(t *testing.T) {
	ctx := context.Background()
	store, durable, session, _ := newTestStore(t)

	store.Set(ctx, "memory-only", TierNone)
	got, ok := store.Get(ctx)
	assert.True(t, ok)
	assert.Equal(t, "memory-only", got)

	_, err := durable.Get(ctx, "auth_token")
	assert.True(t, storage.IsNotFound(err))
	_, err = session.Get(ctx, "auth_token")
	assert.True(t, storage.IsNotFound(err))
}
