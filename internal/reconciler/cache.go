package reconciler

import (
	"sync"
	"time"

	"quarterwatch/internal/window"
)

// Entry is one resolved price-to-beat. Never mutated after insertion.
type Entry struct {
	WindowID   window.ID
	Price      float64
	Source     Source
	CapturedAt time.Time
}

// PriceCache holds at most `capacity` per-window entries. Insertion is
// write-once per window id; capacity pressure evicts the chronologically
// oldest window.
type PriceCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[window.ID]Entry
	order    []window.ID // insertion order, oldest first
}

func NewPriceCache(capacity int) *PriceCache {
	return &PriceCache{
		capacity: capacity,
		entries:  make(map[window.ID]Entry),
	}
}

// Get returns the cached entry for a window, if present.
func (c *PriceCache) Get(id window.ID) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	return e, ok
}

// Put inserts an entry unless one already exists: first successful
// resolution wins. Returns the entry that ended up in the cache.
func (c *PriceCache) Put(id window.ID, price float64, source Source) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[id]; ok {
		return existing
	}

	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	e := Entry{WindowID: id, Price: price, Source: source, CapturedAt: time.Now()}
	c.entries[id] = e
	c.order = append(c.order, id)
	return e
}

// Len reports the number of cached windows.
func (c *PriceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// pageCache is the short-TTL read-through cache in front of the page-state
// fetch. It only prevents redundant fetches within a single polling tick;
// the long-lived per-window price cache is separate.
type pageCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	windowID  window.ID
	blob      string
	fetchedAt time.Time
}

func newPageCache(ttl time.Duration) *pageCache {
	return &pageCache{ttl: ttl}
}

func (c *pageCache) get(id window.ID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.windowID != id || time.Since(c.fetchedAt) > c.ttl {
		return "", false
	}
	return c.blob, true
}

func (c *pageCache) set(id window.ID, blob string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.windowID = id
	c.blob = blob
	c.fetchedAt = time.Now()
}
