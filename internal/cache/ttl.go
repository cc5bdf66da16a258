// Package cache provides a small string-keyed TTL map.
//
// The resolver's cardinality is bounded by configured peers and contexts, so
// a plain locked map with per-entry expiry beats a general-purpose LRU here.
package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry struct {
	value   string
	expires time.Time
}

// TTL is a string-to-string map whose entries expire after a fixed duration.
type TTL struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	clock   clockwork.Clock
}

// New creates a TTL cache. A nil clock uses the real one.
func New(ttl time.Duration, clock clockwork.Clock) *TTL {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TTL{entries: make(map[string]entry), ttl: ttl, clock: clock}
}

// Get returns the cached value if present and unexpired.
func (c *TTL) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.clock.Now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

// Put stores a value with a fresh expiry.
func (c *TTL) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expires: c.clock.Now().Add(c.ttl)}
}

// Delete removes a key.
func (c *TTL) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep drops every expired entry; the background sweeper calls this
// periodically so abandoned keys do not accumulate.
func (c *TTL) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
}

// Len returns the live entry count.
func (c *TTL) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
