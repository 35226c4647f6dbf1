package cache

import (
	"context"
	"sync"

	"github.com/distcache-io/distcache/internal/singleflight"
	"github.com/distcache-io/distcache/logging"
	"github.com/distcache-io/distcache/metrics"
	"github.com/distcache-io/distcache/policy"
	"github.com/distcache-io/distcache/policy/lru"
)

// loadResult carries a Loader's three-way outcome through the coalescer,
// since singleflight.Group is generic over a single result type.
type loadResult[V any] struct {
	value V
	found bool
}

// Options configures a Node. Capacity is required. Policy defaults to LRU
// when nil; Loader and Writer are both optional; Metrics and Logger default
// to no-ops.
type Options[K comparable, V any] struct {
	Capacity int
	Policy   policy.EvictionPolicy[K]
	Loader   Loader[K, V]
	Writer   Writer[K, V]
	Metrics  metrics.Metrics
	Logger   logging.Logger
}

// Node is a self-contained cache unit: storage, an eviction policy, and
// optional loader/writer collaborators. All methods are safe for concurrent
// use by multiple goroutines.
type Node[K comparable, V any] struct {
	capacity int
	loader   Loader[K, V]
	writer   Writer[K, V]
	mtr      metrics.Metrics
	log      logging.Logger

	mu      sync.Mutex
	storage map[K]V
	pol     policy.EvictionPolicy[K]

	sf *singleflight.Group[K, loadResult[V]]
}

// New constructs a Node. It panics if Capacity is less than 1, matching the
// spec's construction precondition (capacity >= 1).
func New[K comparable, V any](opt Options[K, V]) *Node[K, V] {
	if opt.Capacity < 1 {
		panic("cache: Options.Capacity must be >= 1")
	}
	pol := opt.Policy
	if pol == nil {
		pol = lru.New[K]()
	}
	mtr := opt.Metrics
	if mtr == nil {
		mtr = metrics.Noop{}
	}
	log := opt.Logger
	if log == nil {
		log = logging.Nop()
	}
	n := &Node[K, V]{
		capacity: opt.Capacity,
		storage:  make(map[K]V, opt.Capacity),
		pol:      pol,
		loader:   opt.Loader,
		writer:   opt.Writer,
		mtr:      mtr,
		log:      log,
	}
	n.sf = singleflight.New[K, loadResult[V]](func(waiters int) { n.mtr.Coalesced(waiters) })
	return n
}

// Get returns the value for key, reading through the configured Loader on a
// miss. Concurrent misses on the same key are coalesced: the loader runs at
// most once per in-flight window and every waiter observes its outcome.
//
// ok reports presence; ok=false with err=nil means key is absent both in
// storage and at the source of truth (or no Loader is configured).
func (n *Node[K, V]) Get(ctx context.Context, key K) (value V, ok bool, err error) {
	n.mu.Lock()
	if v, resident := n.storage[key]; resident {
		n.pol.OnAccess(key)
		n.mu.Unlock()
		n.mtr.Hit()
		return v, true, nil
	}
	n.mu.Unlock()
	n.mtr.Miss()

	if n.loader == nil {
		var zero V
		return zero, false, nil
	}

	// The node mutex MUST be released before this call: two followers
	// blocked on the same key's coalescer latch while holding the node
	// mutex would deadlock the node (spec.md §5, non-negotiable).
	res, err := n.sf.Do(ctx, key, func() (loadResult[V], error) {
		// Double-check: a different goroutine may have populated storage
		// for this key between our miss above and becoming the coalescer
		// leader (e.g. via a concurrent Put).
		n.mu.Lock()
		if v, resident := n.storage[key]; resident {
			n.mu.Unlock()
			return loadResult[V]{value: v, found: true}, nil
		}
		n.mu.Unlock()

		v, found, loadErr := n.loader.Load(ctx, key)
		if loadErr != nil {
			return loadResult[V]{}, loadErr
		}
		if found {
			n.insert(key, v)
		}
		return loadResult[V]{value: v, found: found}, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.value, res.found, nil
}

// Put writes key/value through the configured Writer (if any) and then
// updates in-memory storage. Write-through writers may block and may fail,
// in which case storage is left untouched and the error propagates to the
// caller. Write-back writers enqueue and return immediately.
func (n *Node[K, V]) Put(ctx context.Context, key K, value V) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.writer != nil {
		if err := n.writer.Write(ctx, key, value); err != nil {
			return err
		}
	}
	n.insertLocked(key, value)
	return nil
}

// Close releases the node's writer, if one is configured. For write-back
// writers this blocks until the drain completes.
func (n *Node[K, V]) Close() error {
	if n.writer == nil {
		return nil
	}
	return n.writer.Close()
}

// insert acquires the node mutex and performs the internal insert. It must
// only be called while the mutex is NOT already held — the coalescer's
// thunk runs outside the node mutex and re-enters the node through this
// path (spec.md §9's re-entry design note).
func (n *Node[K, V]) insert(key K, value V) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.insertLocked(key, value)
}

// insertLocked performs the eviction-then-assign sequence of spec.md
// §4.5.3. The caller must already hold n.mu.
func (n *Node[K, V]) insertLocked(key K, value V) {
	if _, resident := n.storage[key]; !resident && len(n.storage) >= n.capacity {
		victim, ok := n.pol.Evict()
		if !ok {
			n.mtr.Evict(metrics.EvictCapacityInvariant)
			panic(CapacityInvariantViolation{Key: key})
		}
		delete(n.storage, victim)
		n.mtr.Evict(metrics.EvictPolicy)
	}
	n.storage[key] = value
	n.pol.OnAccess(key)
	n.mtr.Size(len(n.storage))
}
