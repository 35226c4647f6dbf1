// Package router implements the distributed facade: a Router fans Get and
// Put calls out to one of several underlying cache nodes, chosen by a
// consistent-hash ring over the node set.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/distcache-io/distcache/logging"
	"github.com/distcache-io/distcache/metrics"
	"github.com/distcache-io/distcache/ring"
)

// Node is the subset of cache.Node's behavior the Router depends on. Any
// *cache.Node[string, V] satisfies it.
type Node[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool, error)
	Put(ctx context.Context, key K, value V) error
	Close() error
}

// Router routes string keys to one of several Node[string, V] instances by
// consistent hashing. It is safe for concurrent use.
type Router[V any] struct {
	log logging.Logger
	mtr metrics.Metrics

	mu       sync.RWMutex
	nodes    map[string]Node[string, V]
	ring     *ring.Ring
	ringOpts []ring.Option
}

// Option configures a Router at construction.
type Option[V any] func(*Router[V])

// WithLogger attaches a Logger used to report routing events.
func WithLogger[V any](l logging.Logger) Option[V] {
	return func(r *Router[V]) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics attaches a Metrics used to report routing outcomes.
func WithMetrics[V any](m metrics.Metrics) Option[V] {
	return func(r *Router[V]) {
		if m != nil {
			r.mtr = m
		}
	}
}

// WithReplicas sets the number of virtual ring nodes placed per label.
func WithReplicas[V any](replicas int) Option[V] {
	return func(r *Router[V]) {
		r.ringOpts = append(r.ringOpts, ring.WithReplicas(replicas))
	}
}

// New builds a Router over nodes, assigning each the label "node-<i>" in
// slice order.
func New[V any](nodes []Node[string, V], opts ...Option[V]) *Router[V] {
	r := &Router[V]{
		log:   logging.Nop(),
		mtr:   metrics.Noop{},
		nodes: make(map[string]Node[string, V], len(nodes)),
	}
	for _, o := range opts {
		o(r)
	}

	labels := make([]string, 0, len(nodes))
	for i, n := range nodes {
		label := fmt.Sprintf("node-%d", i)
		r.nodes[label] = n
		labels = append(labels, label)
	}
	ringOpts := append([]ring.Option{ring.WithLogger(r.log)}, r.ringOpts...)
	r.ring = ring.New(labels, ringOpts...)
	return r
}

// AddNode adds a new node to the router under label, inserting it into the
// ring.
func (r *Router[V]) AddNode(label string, node Node[string, V]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[label] = node
	r.ring.AddNode(label)
}

// RemoveNode removes label from the router and the ring. It does not close
// the removed node; the caller owns its lifecycle.
func (r *Router[V]) RemoveNode(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, label)
	r.ring.RemoveNode(label)
}

// Get resolves key to a node via the ring and delegates. With no nodes
// registered, Get reports the key absent rather than returning an error —
// the router logs the condition and leaves recovery to the operator, it
// does not surface it as a per-call error.
func (r *Router[V]) Get(ctx context.Context, key string) (V, bool, error) {
	node, ok, err := r.resolve(key)
	if err != nil {
		var zero V
		return zero, false, err
	}
	if !ok {
		var zero V
		return zero, false, nil
	}
	return node.Get(ctx, key)
}

// Put resolves key to a node via the ring and delegates. With no nodes
// registered, Put is a no-op: the write is dropped and the condition is
// logged, matching Get's no-error contract for the same condition.
func (r *Router[V]) Put(ctx context.Context, key string, value V) error {
	node, ok, err := r.resolve(key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return node.Put(ctx, key, value)
}

// resolve looks up the node owning key. ok is false exactly when the ring
// has no nodes (NoNodesAvailable) — a legitimate, non-error condition that
// callers report as absent/no-op, not as an error. A non-nil err indicates
// an internal inconsistency between the ring and the node map, which is
// always a bug, never a runtime condition.
func (r *Router[V]) resolve(key string) (node Node[string, V], ok bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	label, ok := r.ring.GetNode(key)
	if !ok {
		r.mtr.NoNodesAvailable()
		r.log.Warn("router: no nodes available", logging.Str("key", key))
		return nil, false, nil
	}
	node, found := r.nodes[label]
	if !found {
		// The ring and node map are always mutated together under r.mu; this
		// would indicate a bug in AddNode/RemoveNode, not a runtime
		// condition callers can hit.
		return nil, false, fmt.Errorf("router: ring resolved to unknown label %q", label)
	}
	return node, true, nil
}

// Close closes every node, joining individual close errors rather than
// stopping at the first one, so a single misbehaving writer does not
// prevent the rest of the fleet from draining.
func (r *Router[V]) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for label, node := range r.nodes {
		if err := node.Close(); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", label, err))
		}
	}
	return errors.Join(errs...)
}

// Nodes returns the labels currently registered with the router.
func (r *Router[V]) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	labels := make([]string, 0, len(r.nodes))
	for label := range r.nodes {
		labels = append(labels, label)
	}
	return labels
}

// Len reports the number of nodes currently registered with the router.
func (r *Router[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}
