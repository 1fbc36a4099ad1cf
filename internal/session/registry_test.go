package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	sess, err := r.Register("conn1", "user1")
	require.NoError(t, err)
	assert.Equal(t, "conn1", sess.ConnID)
	assert.Equal(t, "user1", sess.UserID)
	assert.Empty(t, sess.Room())

	got, err := r.Lookup("conn1")
	require.NoError(t, err)
	assert.Same(t, sess, got)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register("conn1", "user1")
	require.NoError(t, err)

	_, err = r.Register("conn1", "user2")
	assert.ErrorIs(t, err, ErrDuplicateConnection)
}

func TestLookupUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestSetCurrentRoom(t *testing.T) {
	r := NewRegistry()
	sess, err := r.Register("conn1", "user1")
	require.NoError(t, err)

	require.NoError(t, r.SetCurrentRoom("conn1", "room1"))
	assert.Equal(t, "room1", sess.Room())

	// Moving to another room replaces the binding.
	require.NoError(t, r.SetCurrentRoom("conn1", "room2"))
	assert.Equal(t, "room2", sess.Room())

	// Empty clears it.
	require.NoError(t, r.SetCurrentRoom("conn1", ""))
	assert.Empty(t, sess.Room())

	assert.ErrorIs(t, r.SetCurrentRoom("ghost", "room1"), ErrUnknownConnection)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("conn1", "user1")
	require.NoError(t, err)
	require.NoError(t, r.SetCurrentRoom("conn1", "room1"))

	sess, err := r.Unregister("conn1")
	require.NoError(t, err)
	assert.Equal(t, "room1", sess.Room())
	assert.Zero(t, r.Count())

	// Second unregister reports unknown, making disconnects idempotent.
	_, err = r.Unregister("conn1")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestMultipleConnectionsPerUser(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register("conn1", "user1")
	require.NoError(t, err)
	_, err = r.Register("conn2", "user1")
	require.NoError(t, err)

	assert.Equal(t, 2, r.Count())
}
