// Package lfu implements the Least-Frequently-Used eviction policy, with
// strict-LRU tie-breaking between keys that share a frequency.
package lfu

import (
	"container/list"

	"github.com/distcache-io/distcache/policy"
)

// Policy tracks a per-key access frequency and, for each observed frequency,
// an ordered set of keys at that frequency (oldest-touched first). The zero
// value is not usable; build one with New.
type Policy[K comparable] struct {
	freq    map[K]int
	buckets map[int]*bucket[K]
	minFreq int
}

// bucket is an insertion-ordered set of keys sharing one frequency.
type bucket[K comparable] struct {
	order *list.List
	index map[K]*list.Element
}

func newBucket[K comparable]() *bucket[K] {
	return &bucket[K]{order: list.New(), index: make(map[K]*list.Element)}
}

func (b *bucket[K]) add(key K) {
	b.index[key] = b.order.PushBack(key)
}

func (b *bucket[K]) remove(key K) {
	if e, ok := b.index[key]; ok {
		b.order.Remove(e)
		delete(b.index, key)
	}
}

func (b *bucket[K]) popOldest() K {
	front := b.order.Front()
	key := front.Value.(K)
	b.order.Remove(front)
	delete(b.index, key)
	return key
}

func (b *bucket[K]) empty() bool { return b.order.Len() == 0 }

// New constructs an empty LFU policy.
func New[K comparable]() *Policy[K] {
	return &Policy[K]{
		freq:    make(map[K]int),
		buckets: make(map[int]*bucket[K]),
	}
}

var _ policy.EvictionPolicy[string] = (*Policy[string])(nil)

// OnAccess bumps key's frequency by one, or admits it at frequency 1 if it
// is new. A newly admitted key resets minFreq to 1, matching the reference
// semantics: the lazy min-frequency bookkeeping only ever needs to move
// forward while a bucket empties, and backward on fresh admission.
func (p *Policy[K]) OnAccess(key K) {
	old, resident := p.freq[key]
	if resident {
		b := p.buckets[old]
		b.remove(key)
		if b.empty() {
			delete(p.buckets, old)
			if p.minFreq == old {
				p.minFreq++
			}
		}
	}

	next := 1
	if resident {
		next = old + 1
	} else {
		p.minFreq = 1
	}

	p.freq[key] = next
	b, ok := p.buckets[next]
	if !ok {
		b = newBucket[K]()
		p.buckets[next] = b
	}
	b.add(key)
}

// Evict removes and returns the oldest key at the current minimum frequency.
// The bucket is deleted when emptied, but minFreq itself is left untouched
// at that point: it is reset by the next OnAccess of a new key. If Evict runs
// again before that, it first advances minFreq to the lowest populated
// frequency.
func (p *Policy[K]) Evict() (K, bool) {
	var zero K
	if len(p.freq) == 0 {
		return zero, false
	}

	b, ok := p.buckets[p.minFreq]
	if !ok {
		p.minFreq = 0
		for f := range p.buckets {
			if p.minFreq == 0 || f < p.minFreq {
				p.minFreq = f
			}
		}
		b = p.buckets[p.minFreq]
	}
	victim := b.popOldest()
	if b.empty() {
		delete(p.buckets, p.minFreq)
	}
	delete(p.freq, victim)
	return victim, true
}
