package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vfx/gpucore"
)

// ErrClosed is returned by GetOrCreate after Close.
var ErrClosed = errors.New("cache: closed")

// Spec is the request an entry was created for.
type Spec struct {
	Width  int
	Height int
	Format gputypes.TextureFormat
	Usage  gpucore.TextureUsage
}

func (s Spec) String() string {
	return fmt.Sprintf("%dx%d format=%d usage=%v", s.Width, s.Height, s.Format, s.Usage)
}

// Entry is a snapshot of one cached resource.
type Entry[H comparable] struct {
	Key    string
	Spec   Spec
	Handle H
}

// Stats counts cache traffic.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Recreations uint64
	Destroyed   uint64
}

// Cache is a keyed lazy allocator for device resources of handle type H.
//
// Cache is safe for concurrent use.
// Cache must not be copied after creation (has mutex).
type Cache[H comparable] struct {
	mu      sync.Mutex
	entries map[string]*Entry[H]
	destroy func(H)
	stats   Stats
	closed  bool
}

// New creates an empty cache. destroy is called exactly once for every
// handle the cache drops, either on recreation or on Close.
func New[H comparable](destroy func(H)) *Cache[H] {
	return &Cache[H]{
		entries: make(map[string]*Entry[H]),
		destroy: destroy,
	}
}

// GetOrCreate returns the handle stored under key if it was created for an
// identical spec. Otherwise the stale handle, if any, is destroyed and
// create is called to produce a new one.
//
// create is called under the cache lock. If it fails, key has no entry
// afterwards and the error is returned unchanged.
func (c *Cache[H]) GetOrCreate(key string, spec Spec, create func(Spec) (H, error)) (H, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero H
	if c.closed {
		return zero, ErrClosed
	}

	if e, ok := c.entries[key]; ok {
		if e.Spec == spec {
			c.stats.Hits++
			return e.Handle, nil
		}
		// Stale: dimensions, format or usage changed.
		delete(c.entries, key)
		c.destroyLocked(e.Handle)
		c.stats.Recreations++
	} else {
		c.stats.Misses++
	}

	h, err := create(spec)
	if err != nil {
		return zero, err
	}
	c.entries[key] = &Entry[H]{Key: key, Spec: spec, Handle: h}
	return h, nil
}

// Lookup returns the entry for key without creating one.
func (c *Cache[H]) Lookup(key string) (Entry[H], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry[H]{}, false
	}
	return *e, true
}

// Len returns the number of live entries.
func (c *Cache[H]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a snapshot of the live entries sorted by key.
func (c *Cache[H]) Entries() []Entry[H] {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry[H], 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stats returns a copy of the traffic counters.
func (c *Cache[H]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close destroys every live entry exactly once. Later calls are no-ops,
// and GetOrCreate fails with ErrClosed.
func (c *Cache[H]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	// Deterministic order keeps destruction logs readable.
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.destroyLocked(c.entries[k].Handle)
	}
	clear(c.entries)
}

func (c *Cache[H]) destroyLocked(h H) {
	c.stats.Destroyed++
	if c.destroy != nil {
		c.destroy(h)
	}
}
