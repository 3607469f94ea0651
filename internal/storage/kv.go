package storage

import "context"

// KV is the minimal key-value contract shared by the durable and
// session-scoped tiers of the token store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrNotFound is returned when a key is absent.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "key not found: " + e.Key
}

// IsNotFound reports whether err is an absence, as opposed to a backend fault.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
