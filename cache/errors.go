package cache

import (
	"errors"
	"fmt"
)

// ErrLoadFailed wraps a Loader's failure to reach or interpret the source
// of truth. It is delivered through the coalescer to every waiter of the
// in-flight window; the node performs no insert and the caller of Get
// observes the error.
var ErrLoadFailed = errors.New("cache: load failed")

// ErrWriteFailed wraps a write-through Writer's failure to persist a
// mutation to the source of truth. The node does not update in-memory
// storage and the caller of Put observes the error.
var ErrWriteFailed = errors.New("cache: write failed")

// CapacityInvariantViolation is panicked when an EvictionPolicy's Evict
// reports no victim while storage is already at capacity — a bug in the
// policy, not a recoverable runtime condition. spec.md §7 marks this fatal:
// silently exceeding capacity would be worse than crashing.
type CapacityInvariantViolation struct {
	Key any
}

func (e CapacityInvariantViolation) Error() string {
	return fmt.Sprintf("cache: capacity invariant violated inserting key %v: "+
		"policy.Evict() returned no victim while storage was full", e.Key)
}
