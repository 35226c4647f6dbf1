// Package policy defines the eviction-policy contract shared by cache.Node
// and its pluggable LRU/LFU strategies.
package policy

// EvictionPolicy tracks which resident keys are eligible for eviction and
// chooses a victim on demand. A policy never sees values, only keys: storage
// is owned entirely by the node, and the policy's job is purely to decide
// ordering.
//
// Implementations are not required to be safe for concurrent use; cache.Node
// only calls a policy's methods while holding its own mutex.
type EvictionPolicy[K comparable] interface {
	// OnAccess informs the policy that key is resident and was just touched,
	// either because it was newly inserted or because it was read. Calling
	// OnAccess for a key already known to the policy must not insert a
	// duplicate entry.
	OnAccess(key K)

	// Evict selects and removes the policy's current victim, returning its
	// key. ok is false only when the policy currently holds no keys.
	Evict() (key K, ok bool)
}
