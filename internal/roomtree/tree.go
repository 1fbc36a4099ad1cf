package roomtree

import (
	"sync"
)

// Node is one entry in the room hierarchy. The root ("Global") has no parent
// and always exists; every durable room hangs directly under it today, with
// deeper nesting reserved for future sub-room features.
//
// The parent link is a navigation aid only; ownership flows strictly from
// root to children. Presence sets are best-effort bookkeeping, not
// authoritative membership.
type Node struct {
	Name     string
	parent   *Node
	children []*Node
	users    map[string]struct{}
}

func newNode(name string, parent *Node) *Node {
	return &Node{
		Name:   name,
		parent: parent,
		users:  make(map[string]struct{}),
	}
}

// Parent returns the node's parent, nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// Tree is the in-memory registry of rooms and who currently occupies them.
// Nodes are created lazily on first join (or eagerly on room creation) and
// never removed; an empty node simply reports no occupants. The durable Room
// table remains the name and identity authority.
type Tree struct {
	mu   sync.RWMutex
	root *Node
}

// RootName is the name of the implicit root node.
const RootName = "Global"

// New creates a tree holding only the root node.
func New() *Tree {
	return &Tree{root: newNode(RootName, nil)}
}

// FindOrCreate locates the child of root with the given name, creating and
// attaching it when absent. The root's own name is never passed here.
func (t *Tree) FindOrCreate(roomName string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, child := range t.root.children {
		if child.Name == roomName {
			return child
		}
	}

	node := newNode(roomName, t.root)
	t.root.children = append(t.root.children, node)
	return node
}

// Find searches the full tree for a node by name using an iterative
// depth-first traversal; first match wins. Searching beyond root's direct
// children keeps lookups correct if nested rooms are introduced.
func (t *Tree) Find(roomName string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.find(roomName)
	return node, node != nil
}

// find runs the DFS under the read lock held by callers.
func (t *Tree) find(roomName string) *Node {
	stack := []*Node{t.root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if node.Name == roomName {
			return node
		}
		// Push in reverse so children are visited in insertion order.
		for i := len(node.children) - 1; i >= 0; i-- {
			stack = append(stack, node.children[i])
		}
	}
	return nil
}

// AddUser records a user as present in a room. No-op if the room is not in
// the tree.
func (t *Tree) AddUser(roomName, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node := t.find(roomName); node != nil {
		node.users[userID] = struct{}{}
	}
}

// RemoveUser clears a user's presence in a room. Tolerates both an unknown
// room and a user that was never present.
func (t *Tree) RemoveUser(roomName, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node := t.find(roomName); node != nil {
		delete(node.users, userID)
	}
}

// Occupants returns the user IDs currently present in a room; nil if the
// room is not in the tree.
func (t *Tree) Occupants(roomName string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.find(roomName)
	if node == nil {
		return nil
	}

	users := make([]string, 0, len(node.users))
	for id := range node.users {
		users = append(users, id)
	}
	return users
}

// RoomCount reports the number of rooms registered under root.
func (t *Tree) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.root.children)
}
