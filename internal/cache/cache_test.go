package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/pkg/types"
)

func record(id string) *types.MessageRecord {
	return &types.MessageRecord{ID: id, Content: "msg " + id}
}

func TestAppendAndRecent(t *testing.T) {
	c := New(10)

	c.Append("room1", record("a"))
	c.Append("room1", record("b"))
	c.Append("room2", record("c"))

	got := c.Recent("room1", 10)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	assert.Len(t, c.Recent("room2", 10), 1)
	assert.Empty(t, c.Recent("unknown", 10))
}

func TestEvictionIsFIFO(t *testing.T) {
	c := New(3)

	for i := 0; i < 5; i++ {
		c.Append("room", record(fmt.Sprintf("m%d", i)))
	}

	got := c.Recent("room", 10)
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m3", got[1].ID)
	assert.Equal(t, "m4", got[2].ID)
}

func TestCapacityIsPerRoom(t *testing.T) {
	c := New(2)

	c.Append("a", record("a1"))
	c.Append("a", record("a2"))
	c.Append("b", record("b1"))

	assert.Equal(t, 2, c.Len("a"))
	assert.Equal(t, 1, c.Len("b"))

	c.Append("a", record("a3"))
	assert.Equal(t, 2, c.Len("a"))
	assert.Equal(t, 1, c.Len("b"))
}

func TestRecentHonorsLimit(t *testing.T) {
	c := New(10)
	for i := 0; i < 6; i++ {
		c.Append("room", record(fmt.Sprintf("m%d", i)))
	}

	got := c.Recent("room", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "m4", got[0].ID)
	assert.Equal(t, "m5", got[1].ID)
}

func TestRecentReturnsCopy(t *testing.T) {
	c := New(10)
	c.Append("room", record("a"))
	c.Append("room", record("b"))

	got := c.Recent("room", 10)
	got[0] = record("mutated")

	again := c.Recent("room", 10)
	assert.Equal(t, "a", again[0].ID)
}

func TestRemove(t *testing.T) {
	c := New(10)
	c.Append("room", record("a"))
	c.Append("room", record("b"))
	c.Append("room", record("c"))

	c.Remove("room", "b")

	got := c.Recent("room", 10)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	// Absent ID and unknown room are no-ops.
	c.Remove("room", "zzz")
	c.Remove("nope", "a")
	assert.Equal(t, 2, c.Len("room"))
}

func TestClear(t *testing.T) {
	c := New(10)
	c.Append("room", record("a"))
	c.Clear("room")
	assert.Zero(t, c.Len("room"))
}

func TestStats(t *testing.T) {
	c := New(10)
	c.Append("a", record("1"))
	c.Append("a", record("2"))
	c.Append("b", record("3"))

	stats := c.Stats()
	assert.Equal(t, 2, stats["cached_rooms"])
	assert.Equal(t, 3, stats["cached_entries"])
}
