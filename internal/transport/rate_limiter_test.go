package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3)

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))
}

func TestRateLimiterIsPerUser(t *testing.T) {
	rl := NewRateLimiter(1)

	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u2"))
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter(1)

	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))

	// Age the window past a minute instead of sleeping.
	rl.mu.Lock()
	rl.clients["u1"].windowStart = time.Now().Add(-2 * time.Minute)
	rl.mu.Unlock()

	assert.True(t, rl.Allow("u1"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10)
	rl.Allow("fresh")
	rl.Allow("stale")

	rl.mu.Lock()
	rl.clients["stale"].windowStart = time.Now().Add(-10 * time.Minute)
	rl.mu.Unlock()

	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Contains(t, rl.clients, "fresh")
	assert.NotContains(t, rl.clients, "stale")
}

func TestRateLimiterDefaultLimit(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < DefaultMessageLimit; i++ {
		assert.True(t, rl.Allow("u1"))
	}
	assert.False(t, rl.Allow("u1"))
}
