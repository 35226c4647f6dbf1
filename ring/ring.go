// Package ring implements consistent hashing with virtual nodes: the
// routing layer router.Router uses to map a key onto one of several
// cache nodes while keeping re-assignment bounded when the node set
// changes.
package ring

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"sort"
	"sync"

	"github.com/distcache-io/distcache/logging"
)

// DefaultReplicas is the number of virtual nodes placed per label when a
// Ring is built without WithReplicas.
const DefaultReplicas = 3

// position is a point on the hash ring: a raw MD5 digest, compared
// byte-wise rather than converted to a big.Int. Ordering is identical and
// there is no bignum allocation on every lookup.
type position [16]byte

func hashPosition(s string) position {
	return position(md5.Sum([]byte(s)))
}

// Ring assigns string keys to string labels by consistent hashing. It is
// safe for concurrent use.
type Ring struct {
	replicas int
	log      logging.Logger

	mu     sync.RWMutex
	ring   map[position]string
	sorted []position
}

// Option configures a Ring at construction.
type Option func(*Ring)

// WithReplicas sets the number of virtual nodes placed per label. It
// panics if r is less than 1.
func WithReplicas(r int) Option {
	if r < 1 {
		panic("ring: replicas must be >= 1")
	}
	return func(rg *Ring) { rg.replicas = r }
}

// WithLogger attaches a Logger used to report ring mutations.
func WithLogger(l logging.Logger) Option {
	return func(rg *Ring) {
		if l != nil {
			rg.log = l
		}
	}
}

// New builds a Ring seeded with labels.
func New(labels []string, opts ...Option) *Ring {
	rg := &Ring{
		replicas: DefaultReplicas,
		log:      logging.Nop(),
		ring:     make(map[position]string),
	}
	for _, o := range opts {
		o(rg)
	}
	for _, label := range labels {
		rg.AddNode(label)
	}
	return rg
}

// AddNode places replicas virtual nodes for label onto the ring. Adding a
// label that is already present is a no-op for any virtual node position
// that already exists (a collision, vanishingly unlikely with MD5).
func (rg *Ring) AddNode(label string) {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	for i := 0; i < rg.replicas; i++ {
		pos := hashPosition(fmt.Sprintf("%s:%d", label, i))
		if _, exists := rg.ring[pos]; exists {
			continue
		}
		rg.ring[pos] = label
		rg.insertSorted(pos)
	}
	rg.log.Debug("ring: node added", logging.Str("label", label), logging.Int("replicas", rg.replicas))
}

// insertSorted inserts pos into rg.sorted, which must already be sorted.
// The caller must hold rg.mu for writing.
func (rg *Ring) insertSorted(pos position) {
	i := sort.Search(len(rg.sorted), func(i int) bool {
		return bytes.Compare(rg.sorted[i][:], pos[:]) >= 0
	})
	rg.sorted = append(rg.sorted, position{})
	copy(rg.sorted[i+1:], rg.sorted[i:])
	rg.sorted[i] = pos
}

// RemoveNode removes every virtual node belonging to label.
func (rg *Ring) RemoveNode(label string) {
	rg.mu.Lock()
	defer rg.mu.Unlock()

	kept := rg.sorted[:0]
	for _, pos := range rg.sorted {
		if rg.ring[pos] == label {
			delete(rg.ring, pos)
			continue
		}
		kept = append(kept, pos)
	}
	rg.sorted = kept
	rg.log.Debug("ring: node removed", logging.Str("label", label))
}

// GetNode returns the label owning key: the first virtual node strictly past
// key's position, wrapping around to the ring's start. ok is false only
// when the ring holds no nodes.
func (rg *Ring) GetNode(key string) (string, bool) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()

	if len(rg.sorted) == 0 {
		return "", false
	}
	pos := hashPosition(key)
	i := sort.Search(len(rg.sorted), func(i int) bool {
		return bytes.Compare(rg.sorted[i][:], pos[:]) > 0
	})
	if i == len(rg.sorted) {
		i = 0
	}
	return rg.ring[rg.sorted[i]], true
}

// Len reports the number of distinct labels currently on the ring.
func (rg *Ring) Len() int {
	rg.mu.RLock()
	defer rg.mu.RUnlock()

	labels := make(map[string]struct{})
	for _, label := range rg.ring {
		labels[label] = struct{}{}
	}
	return len(labels)
}
