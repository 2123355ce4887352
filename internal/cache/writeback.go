package cache

import (
	"sync"

	"github.com/stone-miner/internal/domain"
)

// WriteBack holds the authoritative in-memory snapshot of each active
// player until it is flushed to durable storage. It is a single-process
// cache; nothing here is shared across instances.
type WriteBack struct {
	mu    sync.RWMutex
	items map[string]domain.Snapshot
}

// NewWriteBack creates an empty cache
func NewWriteBack() *WriteBack {
	return &WriteBack{items: make(map[string]domain.Snapshot)}
}

// Get returns the cached snapshot for playerID.
func (c *WriteBack) Get(playerID string) (domain.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.items[playerID]
	return s, ok
}

// Upsert stores the snapshot; a following Get observes it.
func (c *WriteBack) Upsert(playerID string, s domain.Snapshot) {
	c.mu.Lock()
	c.items[playerID] = s
	c.mu.Unlock()
}

// Remove drops the snapshot for playerID.
func (c *WriteBack) Remove(playerID string) {
	c.mu.Lock()
	delete(c.items, playerID)
	c.mu.Unlock()
}

// All returns a copy of every cached snapshot keyed by player id.
func (c *WriteBack) All() map[string]domain.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.Snapshot, len(c.items))
	for id, s := range c.items {
		out[id] = s
	}
	return out
}

// Len returns the number of cached players.
func (c *WriteBack) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
