// Package cache implements the per-node cache at the heart of distcache: a
// single-capacity, concurrency-safe key/value store with a pluggable
// eviction policy (see policy/lru, policy/lfu), an optional read-through
// Loader, and an optional write strategy (WriteThrough or SafeWriteBack).
//
// Concurrent misses on the same key are coalesced through an internal
// singleflight group, so a stampede of Get calls against a cold key yields
// exactly one Loader invocation.
//
// Basic usage
//
//	n := cache.New[string, string](cache.Options[string, string]{Capacity: 1024})
//	if err := n.Put(ctx, "a", "1"); err != nil { ... }
//	v, ok, err := n.Get(ctx, "a")
//
// With a loader and a write-back writer
//
//	store := myStoreAdapter{db: db}
//	n := cache.New[string, string](cache.Options[string, string]{
//	    Capacity: 1024,
//	    Loader:   cache.NewDatabaseLoader[string, string](store),
//	    Writer:   cache.NewSafeWriteBack[string, string](store),
//	})
//	defer n.Close() // drains the write-back queue
//
// router.Router composes many Nodes behind a consistent-hash ring; see that
// package for the distributed facade.
package cache
