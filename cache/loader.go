package cache

import (
	"context"
	"fmt"
)

// Loader performs a read-through fetch from the source of truth. Absence
// (ok=false, err=nil) is a legitimate, non-error outcome, distinct from a
// load failure (err != nil).
type Loader[K comparable, V any] interface {
	Load(ctx context.Context, key K) (value V, ok bool, err error)
}

// LoaderFunc adapts a plain function to the Loader interface.
type LoaderFunc[K comparable, V any] func(ctx context.Context, key K) (V, bool, error)

// Load calls f.
func (f LoaderFunc[K, V]) Load(ctx context.Context, key K) (V, bool, error) { return f(ctx, key) }

// DatabaseLoader is a read-through Loader backed by a Store.
type DatabaseLoader[K comparable, V any] struct {
	store Store[K, V]
}

// NewDatabaseLoader builds a Loader that consults store on every miss.
func NewDatabaseLoader[K comparable, V any](store Store[K, V]) *DatabaseLoader[K, V] {
	return &DatabaseLoader[K, V]{store: store}
}

// Load consults the store, wrapping any underlying error in ErrLoadFailed.
func (l *DatabaseLoader[K, V]) Load(ctx context.Context, key K) (V, bool, error) {
	v, ok, err := l.store.Get(ctx, key)
	if err != nil {
		var zero V
		return zero, false, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	return v, ok, nil
}
