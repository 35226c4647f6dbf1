package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/distcache-io/distcache/logging"
	"github.com/distcache-io/distcache/metrics"
)

// Writer persists mutations to the source of truth. Two strategies are
// provided: WriteThrough (synchronous, strongly consistent) and
// SafeWriteBack (asynchronous, eventually consistent with a drain-on-close
// guarantee).
type Writer[K comparable, V any] interface {
	Write(ctx context.Context, key K, value V) error
	Delete(ctx context.Context, key K) error
	// Close releases any background resources. WriteThrough's Close is a
	// no-op; SafeWriteBack's blocks until its worker has drained every
	// order accepted before Close was called.
	Close() error
}

// WriteThrough writes synchronously to the store before Node.Put returns.
// A failed write aborts the in-memory update and propagates to the caller
// of Put — spec.md §8 scenario S6's strong-consistency guarantee.
type WriteThrough[K comparable, V any] struct {
	store Store[K, V]
}

// NewWriteThrough builds a write-through Writer backed by store.
func NewWriteThrough[K comparable, V any](store Store[K, V]) *WriteThrough[K, V] {
	return &WriteThrough[K, V]{store: store}
}

func (w *WriteThrough[K, V]) Write(ctx context.Context, key K, value V) error {
	if err := w.store.Set(ctx, key, value); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

func (w *WriteThrough[K, V]) Delete(ctx context.Context, key K) error {
	if err := w.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Close is a no-op for write-through: there is no background worker to
// drain.
func (w *WriteThrough[K, V]) Close() error { return nil }

var (
	_ Writer[string, string] = (*WriteThrough[string, string])(nil)
	_ Writer[string, string] = (*SafeWriteBack[string, string])(nil)
)

// order is one entry on a SafeWriteBack's FIFO: a write or delete, or the
// distinguished shutdown sentinel that makes shutdown marker be a queue
// item rather than a side flag, so it is naturally ordered after every
// order enqueued before Close was called.
type order[K comparable, V any] struct {
	key      K
	value    V
	isDelete bool
	shutdown bool
}

// SafeWriteBack enqueues mutations on an unbounded FIFO and applies them
// from a single dedicated worker goroutine, so writes for one node reach the
// store in the order they were issued. Write/Delete never block on the
// store and never surface its errors; Close drains the queue and waits for
// the worker to exit.
type SafeWriteBack[K comparable, V any] struct {
	store Store[K, V]
	log   logging.Logger
	mtr   metrics.Metrics

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []order[K, V]
	closed bool // Close has been called; orders enqueued after the sentinel are never applied
	done   chan struct{}
}

// WriteBackOption configures a SafeWriteBack at construction.
type WriteBackOption[K comparable, V any] func(*SafeWriteBack[K, V])

// WithLogger attaches a Logger used to report asynchronous write failures.
func WithLogger[K comparable, V any](l logging.Logger) WriteBackOption[K, V] {
	return func(w *SafeWriteBack[K, V]) {
		if l != nil {
			w.log = l
		}
	}
}

// WithWriteBackMetrics attaches a Metrics used to report queue depth.
func WithWriteBackMetrics[K comparable, V any](m metrics.Metrics) WriteBackOption[K, V] {
	return func(w *SafeWriteBack[K, V]) {
		if m != nil {
			w.mtr = m
		}
	}
}

// NewSafeWriteBack constructs a SafeWriteBack writer and starts its worker.
func NewSafeWriteBack[K comparable, V any](store Store[K, V], opts ...WriteBackOption[K, V]) *SafeWriteBack[K, V] {
	w := &SafeWriteBack[K, V]{
		store: store,
		log:   logging.Nop(),
		mtr:   metrics.Noop{},
		done:  make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	for _, o := range opts {
		o(w)
	}
	go w.run()
	return w
}

// Write enqueues a write order and returns immediately.
func (w *SafeWriteBack[K, V]) Write(_ context.Context, key K, value V) error {
	w.enqueue(order[K, V]{key: key, value: value})
	return nil
}

// Delete enqueues a delete order on the same FIFO as writes, preserving
// per-key ordering between the two.
func (w *SafeWriteBack[K, V]) Delete(_ context.Context, key K) error {
	w.enqueue(order[K, V]{key: key, isDelete: true})
	return nil
}

func (w *SafeWriteBack[K, V]) enqueue(o order[K, V]) {
	w.mu.Lock()
	w.queue = append(w.queue, o)
	w.mtr.QueueDepth(len(w.queue))
	w.cond.Signal()
	w.mu.Unlock()
}

// Close enqueues the shutdown sentinel and blocks until the worker has
// drained every order that was enqueued before this call, then exits.
// Calling Close more than once is safe; later calls simply wait for the
// same shutdown to complete.
func (w *SafeWriteBack[K, V]) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.queue = append(w.queue, order[K, V]{shutdown: true})
		w.cond.Signal()
	}
	w.mu.Unlock()

	<-w.done
	return nil
}

func (w *SafeWriteBack[K, V]) run() {
	ctx := context.Background()
	for {
		w.mu.Lock()
		for len(w.queue) == 0 {
			w.cond.Wait()
		}
		next := w.queue[0]
		w.queue = w.queue[1:]
		w.mtr.QueueDepth(len(w.queue))
		w.mu.Unlock()

		if next.shutdown {
			close(w.done)
			return
		}

		var err error
		if next.isDelete {
			err = w.store.Delete(ctx, next.key)
		} else {
			err = w.store.Set(ctx, next.key, next.value)
		}
		if err != nil {
			// Asynchronous write failures are logged, never propagated, and
			// never stop the worker — spec.md §7's explicit eventual-
			// consistency concession.
			w.log.Error("write-back: store write failed",
				logging.Any("key", next.key), logging.Err(err))
		}
	}
}
