package cache

import (
	"sync"

	"parley/pkg/types"
)

// DefaultCapacity is the per-room entry limit used when no capacity is
// configured.
const DefaultCapacity = 100

// MessageCache holds a bounded, per-room sequence of recently delivered
// messages. Insertion order is chronological; once a room's sequence reaches
// capacity the oldest entry is evicted first (FIFO, never access recency).
//
// The cache is a pure optimization: dropping it entirely only forces a
// fallback read from the durable store.
type MessageCache struct {
	mu       sync.RWMutex
	capacity int
	rooms    map[string][]*types.MessageRecord
}

// New creates a message cache with the given per-room capacity. A
// non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *MessageCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MessageCache{
		capacity: capacity,
		rooms:    make(map[string][]*types.MessageRecord),
	}
}

// Append inserts a record at the tail of a room's sequence, creating the
// sequence lazily and evicting the head once capacity is exceeded.
func (c *MessageCache) Append(roomID string, record *types.MessageRecord) {
	if record == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq := append(c.rooms[roomID], record)
	if len(seq) > c.capacity {
		seq = seq[1:]
	}
	c.rooms[roomID] = seq
}

// Recent returns up to limit of the most recent records for a room in
// chronological order. A room with no cached entries yields an empty slice,
// not an error.
func (c *MessageCache) Recent(roomID string, limit int) []*types.MessageRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seq := c.rooms[roomID]
	if limit > 0 && len(seq) > limit {
		seq = seq[len(seq)-limit:]
	}

	out := make([]*types.MessageRecord, len(seq))
	copy(out, seq)
	return out
}

// Len reports the number of cached entries for a room.
func (c *MessageCache) Len(roomID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms[roomID])
}

// Remove drops one entry matching messageID from a room's sequence,
// preserving the relative order of the rest. No-op if absent. Used when a
// message is deleted upstream.
func (c *MessageCache) Remove(roomID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq, ok := c.rooms[roomID]
	if !ok {
		return
	}

	for i, rec := range seq {
		if rec.ID == messageID {
			c.rooms[roomID] = append(seq[:i:i], seq[i+1:]...)
			return
		}
	}
}

// Clear drops all cached entries for a room. Used on room deletion.
func (c *MessageCache) Clear(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

// Stats returns cache statistics for monitoring.
func (c *MessageCache) Stats() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, seq := range c.rooms {
		total += len(seq)
	}
	return map[string]int{
		"cached_rooms":   len(c.rooms),
		"cached_entries": total,
	}
}
