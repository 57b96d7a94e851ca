package graphics

import (
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/core"
)

type cacheEntry[T any] struct {
	value    T
	lastUsed atomic.Uint64
}

// HashedCache maps content hashes to native objects such as render passes and
// framebuffers. Entries not requested for ringSize frames are recycled once
// the GPU finished the last frame that used them.
type HashedCache[T any] struct {
	mu       sync.RWMutex
	entries  map[uint64]*cacheEntry[T]
	ringSize uint64
	capacity int
	destroy  func(T)

	frame          atomic.Uint64
	completedFrame atomic.Uint64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

func NewHashedCache[T any](ringSize uint32, capacity int, destroy func(T)) *HashedCache[T] {
	if ringSize == 0 {
		ringSize = DEFAULT_FRAMEBUFFER_RING_SIZE
	}
	c := &HashedCache[T]{
		entries:  make(map[uint64]*cacheEntry[T]),
		ringSize: uint64(ringSize),
		capacity: capacity,
		destroy:  destroy,
	}
	c.frame.Store(1)
	return c
}

// Request returns the cached object for hash or builds it with create. A hit
// returns the identical object.
func (c *HashedCache[T]) Request(hash uint64, create func() (T, error)) (T, error) {
	frame := c.frame.Load()

	// Fast path: read lock
	c.mu.RLock()
	if entry, ok := c.entries[hash]; ok {
		entry.lastUsed.Store(frame)
		c.mu.RUnlock()
		c.hits.Add(1)
		return entry.value, nil
	}
	c.mu.RUnlock()

	// Slow path: write lock with double-check
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[hash]; ok {
		entry.lastUsed.Store(frame)
		c.hits.Add(1)
		return entry.value, nil
	}

	value, err := create()
	if err != nil {
		var zero T
		return zero, err
	}

	if c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictOldestLocked(frame)
	}

	entry := &cacheEntry[T]{value: value}
	entry.lastUsed.Store(frame)
	c.entries[hash] = entry
	c.misses.Add(1)
	return value, nil
}

// BeginFrame advances the ring. completedFrame is the last frame the GPU has
// finished executing.
func (c *HashedCache[T]) BeginFrame(frame, completedFrame uint64) {
	c.frame.Store(frame)
	c.completedFrame.Store(completedFrame)

	c.mu.Lock()
	defer c.mu.Unlock()

	for hash, entry := range c.entries {
		lastUsed := entry.lastUsed.Load()
		if lastUsed+c.ringSize <= frame && lastUsed <= completedFrame {
			c.evictLocked(hash, entry)
		}
	}
}

func (c *HashedCache[T]) evictOldestLocked(frame uint64) {
	completed := c.completedFrame.Load()
	var (
		victimHash  uint64
		victim      *cacheEntry[T]
		victimFrame uint64
	)
	for hash, entry := range c.entries {
		lastUsed := entry.lastUsed.Load()
		if lastUsed >= frame || lastUsed > completed {
			continue
		}
		if victim == nil || lastUsed < victimFrame {
			victimHash, victim, victimFrame = hash, entry, lastUsed
		}
	}
	if victim == nil {
		core.LogWarn("hashed cache over capacity (%d) with every entry still in flight", c.capacity)
		return
	}
	c.evictLocked(victimHash, victim)
}

func (c *HashedCache[T]) evictLocked(hash uint64, entry *cacheEntry[T]) {
	delete(c.entries, hash)
	if c.destroy != nil {
		c.destroy(entry.value)
	}
	c.evictions.Add(1)
}

func (c *HashedCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache hits, misses and evictions.
func (c *HashedCache[T]) Stats() (hits, misses, evictions uint64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

// Clear destroys every entry. The caller guarantees the GPU is idle.
func (c *HashedCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for hash, entry := range c.entries {
		delete(c.entries, hash)
		if c.destroy != nil {
			c.destroy(entry.value)
		}
	}
}
