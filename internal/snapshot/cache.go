// Package snapshot implements the versioned, single-writer/multi-reader
// cache of spec §4.E: the dispatcher publishes a new Snapshot after every
// commit that produced port operations, and any number of xDS streams
// observe changes via a broadcast channel.
package snapshot

import (
	"sync"

	"github.com/meshcore/meshd/internal/rib"
)

// Cache holds the latest published Snapshot behind a pointer swap, the
// same guarded-boolean-swap idiom the teacher uses for readiness state in
// internal/observability, generalized to a versioned value.
type Cache struct {
	mu      sync.RWMutex
	current rib.Snapshot
	notify  chan struct{}
}

// New returns an empty cache (version "0", no listeners/clusters).
func New() *Cache {
	return &Cache{
		current: rib.Snapshot{Version: "0"},
		notify:  make(chan struct{}),
	}
}

// Set installs s as the latest snapshot and wakes every watcher blocked in
// Watch. The cache retains only the latest snapshot, per §4.E.
func (c *Cache) Set(s rib.Snapshot) {
	c.mu.Lock()
	c.current = s
	old := c.notify
	c.notify = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

// Get returns the latest snapshot.
func (c *Cache) Get() rib.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Watch returns the current snapshot and a channel that is closed the next
// time Set is called, so callers can loop: read, act, <-changed, repeat.
func (c *Cache) Watch() (rib.Snapshot, <-chan struct{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, c.notify
}
