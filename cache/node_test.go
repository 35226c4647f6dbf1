package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/distcache-io/distcache/policy/lfu"
)

// memStore is an in-memory Store double standing in for the database
// collaborator spec.md keeps out of scope.
type memStore[K comparable, V any] struct {
	mu   sync.Mutex
	data map[K]V

	failNextSet error // if set, the next Set call fails with this error and clears it
}

func newMemStore[K comparable, V any](seed map[K]V) *memStore[K, V] {
	data := make(map[K]V, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &memStore[K, V]{data: data}
}

func (s *memStore[K, V]) Get(_ context.Context, key K) (V, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore[K, V]) Set(_ context.Context, key K, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNextSet != nil {
		err := s.failNextSet
		s.failNextSet = nil
		return err
	}
	s.data[key] = value
	return nil
}

func (s *memStore[K, V]) Delete(_ context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore[K, V]) snapshot() map[K]V {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[K]V, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Put(k,v); Get(k) = v, absent any interleaving.
func TestNode_PutGetRoundTrip(t *testing.T) {
	t.Parallel()

	n := New[string, int](Options[string, int]{Capacity: 4})
	if err := n.Put(context.Background(), "a", 1); err != nil {
		t.Fatal(err)
	}
	v, ok, err := n.Get(context.Background(), "a")
	if err != nil || !ok || v != 1 {
		t.Fatalf("got (%v, %v, %v), want (1, true, nil)", v, ok, err)
	}
}

func TestNode_GetMissWithoutLoader(t *testing.T) {
	t.Parallel()

	n := New[string, int](Options[string, int]{Capacity: 4})
	_, ok, err := n.Get(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("got ok=%v err=%v, want (false, nil)", ok, err)
	}
}

// S1 from spec.md §8: capacity 3, LRU default. put(a,1) put(b,2) put(c,3)
// get(a) put(d,4) -> storage = {a,c,d}, b evicted.
func TestNode_S1_LRUEvictionOrder(t *testing.T) {
	t.Parallel()

	n := New[string, int](Options[string, int]{Capacity: 3})
	ctx := context.Background()

	must(t, n.Put(ctx, "a", 1))
	must(t, n.Put(ctx, "b", 2))
	must(t, n.Put(ctx, "c", 3))
	if _, ok, _ := n.Get(ctx, "a"); !ok {
		t.Fatal("a must be present")
	}
	must(t, n.Put(ctx, "d", 4))

	if _, ok, _ := n.Get(ctx, "b"); ok {
		t.Fatal("b must have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok, _ := n.Get(ctx, k); !ok {
			t.Fatalf("%s must still be resident", k)
		}
	}
}

// S2 from spec.md §8, exercised through Node with the LFU policy.
func TestNode_S2_LFUEvictionOrder(t *testing.T) {
	t.Parallel()

	n := New[string, int](Options[string, int]{Capacity: 3, Policy: lfu.New[string]()})
	ctx := context.Background()

	must(t, n.Put(ctx, "a", 1))
	must(t, n.Put(ctx, "b", 2))
	must(t, n.Put(ctx, "c", 3))
	get(t, n, "a")
	get(t, n, "a")
	get(t, n, "b")
	must(t, n.Put(ctx, "d", 4)) // evicts c (freq 1)

	if _, ok, _ := n.Get(ctx, "c"); ok {
		t.Fatal("c must have been evicted")
	}
	for _, k := range []string{"a", "b", "d"} {
		if _, ok, _ := n.Get(ctx, k); !ok {
			t.Fatalf("%s must still be resident", k)
		}
	}

	get(t, n, "d")
	get(t, n, "b")
	must(t, n.Put(ctx, "e", 5)) // evicts d (freq 3, sole minimum; the residency Gets above also count)

	if _, ok, _ := n.Get(ctx, "d"); ok {
		t.Fatal("d must have been evicted")
	}
	for _, k := range []string{"a", "b", "e"} {
		if _, ok, _ := n.Get(ctx, k); !ok {
			t.Fatalf("%s must still be resident", k)
		}
	}
}

// S3 from spec.md §8: 10 concurrent Get calls on a missing key collapse
// into a single Loader invocation, and every caller sees the same value.
func TestNode_S3_Coalescing(t *testing.T) {
	t.Parallel()

	store := newMemStore[string, string](map[string]string{"x": "v"})
	var calls int64
	n := New[string, string](Options[string, string]{
		Capacity: 8,
		Loader: LoaderFunc[string, string](func(ctx context.Context, key string) (string, bool, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(50 * time.Millisecond)
			return store.Get(ctx, key)
		}),
	})

	const callers = 10
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			v, ok, err := n.Get(context.Background(), "x")
			if err != nil {
				return err
			}
			if !ok || v != "v" {
				return errors.New("unexpected outcome")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("loader must run exactly once, ran %d times", got)
	}
	if _, ok, _ := n.Get(context.Background(), "x"); !ok {
		t.Fatal("x must be resident in storage after the load")
	}
}

// S6 from spec.md §8: write-through failure leaves storage untouched.
func TestNode_S6_WriteThroughFailureIsolation(t *testing.T) {
	t.Parallel()

	store := newMemStore[string, string](map[string]string{"k": "old"})
	n := New[string, string](Options[string, string]{
		Capacity: 4,
		Loader:   NewDatabaseLoader[string, string](store),
		Writer:   NewWriteThrough[string, string](store),
	})
	ctx := context.Background()

	if _, ok, _ := n.Get(ctx, "k"); !ok {
		t.Fatal("k must read through on first access")
	}

	store.failNextSet = errors.New("db unavailable")
	if err := n.Put(ctx, "k", "new"); err == nil {
		t.Fatal("Put must fail when the store rejects the write")
	} else if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("want ErrWriteFailed, got %v", err)
	}

	v, ok, err := n.Get(ctx, "k")
	if err != nil || !ok || v != "old" {
		t.Fatalf("cache must be unchanged after a failed write-through, got (%v, %v, %v)", v, ok, err)
	}
}

// A load failure propagates to the caller and does not populate storage.
func TestNode_LoadFailurePropagates(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("boom")
	n := New[string, string](Options[string, string]{
		Capacity: 4,
		Loader: LoaderFunc[string, string](func(context.Context, string) (string, bool, error) {
			return "", false, wantErr
		}),
	})

	_, ok, err := n.Get(context.Background(), "k")
	if ok || !errors.Is(err, wantErr) {
		t.Fatalf("got ok=%v err=%v, want (false, %v)", ok, err, wantErr)
	}
	if _, ok, _ := n.Get(context.Background(), "k"); ok {
		t.Fatal("a failed load must not populate storage")
	}
}

// Re-inserting an already-resident key never evicts.
func TestNode_ReinsertDoesNotEvict(t *testing.T) {
	t.Parallel()

	n := New[string, int](Options[string, int]{Capacity: 2})
	ctx := context.Background()
	must(t, n.Put(ctx, "a", 1))
	must(t, n.Put(ctx, "b", 2))
	must(t, n.Put(ctx, "a", 11)) // update, not a new key

	if _, ok, _ := n.Get(ctx, "b"); !ok {
		t.Fatal("b must still be resident; updating a must not evict")
	}
	v, _, _ := n.Get(ctx, "a")
	if v != 11 {
		t.Fatalf("a must carry the updated value, got %v", v)
	}
}

// storage size never exceeds capacity across an interleaved sequence.
func TestNode_CapacityNeverExceeded(t *testing.T) {
	t.Parallel()

	const capacity = 16
	n := New[string, int](Options[string, int]{Capacity: capacity})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := string(rune('a' + (i+w)%26))
				_ = n.Put(ctx, key, i)
				n.mu.Lock()
				size := len(n.storage)
				n.mu.Unlock()
				if size > capacity {
					t.Errorf("storage size %d exceeds capacity %d", size, capacity)
				}
			}
		}()
	}
	wg.Wait()
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func get(t *testing.T, n *Node[string, int], key string) {
	t.Helper()
	if _, ok, _ := n.Get(context.Background(), key); !ok {
		t.Fatalf("%s must be resident", key)
	}
}
