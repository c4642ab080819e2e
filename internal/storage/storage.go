package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoKey is returned by Get when the key has no value.
var ErrNoKey = errors.New("key not found")

// Store is the shared key-value store every instance of the application
// reads and writes concurrently. There is no locking and no transaction
// across instances; Subscribe fires when a writer changes the key. A local
// write may echo back to the writer's own subscribers, so handlers must be
// idempotent.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error

	// Subscribe registers h for change notifications on key. The returned
	// function unregisters it and is safe to call more than once.
	Subscribe(key string, h func(key string)) (unsubscribe func())
}

// PersistenceError wraps a store-level failure. It is propagated as-is to
// the caller; the engine never retries internally.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GetDefault reads key and falls back to def when the key is absent.
func GetDefault(ctx context.Context, s Store, key string, def []byte) ([]byte, error) {
	b, err := s.Get(ctx, key)
	if errors.Is(err, ErrNoKey) {
		return def, nil
	}
	return b, err
}
