// Package singleflight coalesces concurrent calls keyed by K so that a
// stampede of callers for the same key triggers at most one execution of
// the supplied function (spec.md §4.4's RequestCoalescer).
package singleflight

import (
	"context"
	"sync"
	"sync/atomic"
)

// inflight is the bookkeeping for one in-progress window: a leader runs fn
// and publishes (value, err) by closing ready, which every follower selects
// on. Closing ready happens-after the writes to value/err, so a follower
// observing a closed channel always sees the final values (publish-before-
// release ordering). waiters tracks how many followers are currently
// parked on this window, for callers that want to observe coalescing
// pressure (e.g. a gauge of concurrent waiters per key).
type inflight[V any] struct {
	ready   chan struct{}
	value   V
	err     error
	waiters int32
}

// Group coalesces calls to Do by key. Construct with New to install an
// observer; the zero value is also ready to use and observes nothing.
type Group[K comparable, V any] struct {
	mu      sync.Mutex
	pending map[K]*inflight[V]

	// onJoin, if set, is invoked every time a caller joins an already
	// in-flight window as a follower, with the number of followers
	// currently parked on that window (the leader is not counted). It must
	// not block and must not call back into the Group.
	onJoin func(waiters int)
}

// New constructs a Group that reports follower counts to onJoin whenever a
// caller coalesces onto an in-flight window. onJoin may be nil.
func New[K comparable, V any](onJoin func(waiters int)) *Group[K, V] {
	return &Group[K, V]{onJoin: onJoin}
}

// Do runs fn exactly once for key among all callers that arrive while a call
// for key is in flight; those callers block until the result is published
// and then return it directly, without re-running fn. A caller arriving
// after the in-flight window has closed starts a fresh window: results are
// never cached across windows, only shared within one.
//
// If ctx is cancelled while a caller is waiting as a follower, that caller
// returns ctx.Err() immediately and removes itself from the window's waiter
// count; it does not cancel the leader, which keeps running fn for whoever
// else is waiting.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	g.mu.Lock()
	if g.pending == nil {
		g.pending = make(map[K]*inflight[V])
	}
	if call, ok := g.pending[key]; ok {
		waiters := atomic.AddInt32(&call.waiters, 1)
		g.mu.Unlock()
		if g.onJoin != nil {
			g.onJoin(int(waiters))
		}

		select {
		case <-call.ready:
			return call.value, call.err
		case <-ctx.Done():
			atomic.AddInt32(&call.waiters, -1)
			var zero V
			return zero, ctx.Err()
		}
	}

	call := &inflight[V]{ready: make(chan struct{})}
	g.pending[key] = call
	g.mu.Unlock()

	call.value, call.err = fn()
	close(call.ready)

	g.mu.Lock()
	delete(g.pending, key)
	g.mu.Unlock()

	return call.value, call.err
}
