// Package cache implements the keyed, liveness-aware store spec §4.A calls
// the Document Cache: a map from identity to weakly-held entry, where
// "liveness" is supplied by the caller rather than baked into the cache
// itself. Keeping the cache generic over its value type (rather than tied to
// tracking.Entry directly) avoids an import cycle — the tracking package's
// Manager imports this package to back its Unchanged store, so this package
// cannot import tracking back.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/devrev/docmap/identity"
)

// reclaimSampleThreshold is the number of observed reclamation events after
// which approximateCount forces a fresh live-scan rather than returning its
// cached value (spec §4.A Concurrency: "a threshold of ≈10 events").
const reclaimSampleThreshold = 10

// Cache is the mapping from identity to Unchanged State Entry (or whatever
// V is instantiated with). isDead decides whether a stored value still
// counts as live.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[identity.ID]V
	isDead  func(V) bool

	reclaimed   atomic.Uint64
	sampledAt   uint64
	approxCount int
	approxFresh bool
}

// New builds an empty Cache. isDead must be safe to call concurrently and
// must not attempt to re-enter the cache.
func New[V any](isDead func(V) bool) *Cache[V] {
	return &Cache[V]{
		entries: make(map[identity.ID]V),
		isDead:  isDead,
	}
}

// NotifyReclaim records that some weakly-held value became unreachable.
// Wrapper reclamation callbacks call this so approximateCount knows its
// cached value may be stale.
func (c *Cache[V]) NotifyReclaim() {
	c.reclaimed.Add(1)
}

// Set inserts or unconditionally overwrites the entry for key.
func (c *Cache[V]) Set(key identity.ID, entry V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	c.approxFresh = false
}

// AddOrGet returns the live entry for key, constructing one with make if
// absent, or replacing a dead one with revive(key, deadEntry).
func (c *Cache[V]) AddOrGet(key identity.ID, make_ func(identity.ID) V, revive func(identity.ID, V) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.entries[key]
	if !ok {
		v := make_(key)
		c.entries[key] = v
		c.approxFresh = false
		return v
	}
	if !c.isDead(existing) {
		return existing
	}
	v := revive(key, existing)
	c.entries[key] = v
	c.approxFresh = false
	return v
}

// TryGet returns the entry for key only if it is live.
func (c *Cache[V]) TryGet(key identity.ID) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	if !ok || c.isDead(v) {
		var zero V
		return zero, false
	}
	return v, true
}

// Peek returns the entry for key regardless of liveness. It exists for
// Manager.addOrGetExisting, which needs to tell "absent" apart from "present
// but dead" in order to decide whether it is creating a new entry or
// reviving one (spec §4.D).
func (c *Cache[V]) Peek(key identity.ID) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Contains reports whether key has a live entry.
func (c *Cache[V]) Contains(key identity.ID) bool {
	_, ok := c.TryGet(key)
	return ok
}

// Remove unconditionally removes key's entry, returning it if present.
func (c *Cache[V]) Remove(key identity.ID) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		c.approxFresh = false
	}
	return v, ok
}

// Flush removes at most maxToRemove dead entries and returns the count
// actually removed. Pass a very large maxToRemove for an unbounded flush.
func (c *Cache[V]) Flush(maxToRemove int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, v := range c.entries {
		if removed >= maxToRemove {
			break
		}
		if c.isDead(v) {
			delete(c.entries, k)
			removed++
		}
	}
	c.approxFresh = false
	return removed
}

// ApproximateCount may return a cached live count, recomputing it only once
// the reclamation-event counter has advanced far enough since the last
// sample (spec §4.A Concurrency).
func (c *Cache[V]) ApproximateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.approxFresh && c.reclaimed.Load()-c.sampledAt < reclaimSampleThreshold {
		return c.approxCount
	}
	c.approxCount = c.countLiveLocked()
	c.approxFresh = true
	c.sampledAt = c.reclaimed.Load()
	return c.approxCount
}

// ExactCount forces a full live-scan.
func (c *Cache[V]) ExactCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.countLiveLocked()
}

func (c *Cache[V]) countLiveLocked() int {
	n := 0
	for _, v := range c.entries {
		if !c.isDead(v) {
			n++
		}
	}
	return n
}

// LiveEntries returns a snapshot of every live entry, in no particular
// order.
func (c *Cache[V]) LiveEntries() []V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]V, 0, len(c.entries))
	for _, v := range c.entries {
		if !c.isDead(v) {
			out = append(out, v)
		}
	}
	return out
}

// Capacity is the total number of slots, live and dead, the quantity
// incremental flush sizes are computed against (spec §4.A Capacity).
func (c *Cache[V]) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
