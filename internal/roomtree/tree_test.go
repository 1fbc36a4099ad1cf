package roomtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreate(t *testing.T) {
	tree := New()

	n1 := tree.FindOrCreate("lobby")
	require.NotNil(t, n1)
	assert.Equal(t, "lobby", n1.Name)

	// Second call returns the same node.
	n2 := tree.FindOrCreate("lobby")
	assert.Same(t, n1, n2)
	assert.Equal(t, 1, tree.RoomCount())
}

func TestFind(t *testing.T) {
	tree := New()
	tree.FindOrCreate("alpha")
	tree.FindOrCreate("beta")

	node, ok := tree.Find("beta")
	require.True(t, ok)
	assert.Equal(t, "beta", node.Name)

	root, ok := tree.Find(RootName)
	require.True(t, ok)
	assert.Nil(t, root.Parent())

	_, ok = tree.Find("missing")
	assert.False(t, ok)
}

func TestChildParentLink(t *testing.T) {
	tree := New()
	node := tree.FindOrCreate("room")

	require.NotNil(t, node.Parent())
	assert.Equal(t, RootName, node.Parent().Name)
}

func TestPresence(t *testing.T) {
	tree := New()
	tree.FindOrCreate("room")

	tree.AddUser("room", "u1")
	tree.AddUser("room", "u2")
	assert.ElementsMatch(t, []string{"u1", "u2"}, tree.Occupants("room"))

	tree.RemoveUser("room", "u1")
	assert.ElementsMatch(t, []string{"u2"}, tree.Occupants("room"))

	// Removing an absent user or touching an unknown room is harmless.
	tree.RemoveUser("room", "ghost")
	tree.AddUser("nowhere", "u3")
	tree.RemoveUser("nowhere", "u3")
	assert.ElementsMatch(t, []string{"u2"}, tree.Occupants("room"))
}

func TestOccupantsUnknownRoom(t *testing.T) {
	tree := New()
	assert.Nil(t, tree.Occupants("missing"))
}

func TestNodesPersistWhenEmpty(t *testing.T) {
	tree := New()
	tree.FindOrCreate("room")
	tree.AddUser("room", "u1")
	tree.RemoveUser("room", "u1")

	node, ok := tree.Find("room")
	require.True(t, ok)
	assert.Empty(t, tree.Occupants(node.Name))
	assert.Equal(t, 1, tree.RoomCount())
}
