package transport

import (
	"sync"
	"time"
)

// DefaultMessageLimit is the number of inbound events allowed per minute
// per user.
const DefaultMessageLimit = 100

// RateLimiter enforces a per-user fixed window of events per minute.
type RateLimiter struct {
	mu    sync.Mutex
	limit int

	clients map[string]*clientWindow
}

type clientWindow struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	return &RateLimiter{
		limit:   limit,
		clients: make(map[string]*clientWindow),
	}
}

// Allow reports whether the user may send another event in the current
// minute window.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	window, exists := rl.clients[userID]
	if !exists {
		rl.clients[userID] = &clientWindow{count: 1, windowStart: now}
		return true
	}

	if now.Sub(window.windowStart) >= time.Minute {
		window.count = 1
		window.windowStart = now
		return true
	}

	if window.count >= rl.limit {
		return false
	}
	window.count++
	return true
}

// Cleanup drops users whose window went stale. Call periodically to bound
// memory for churned users.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for userID, window := range rl.clients {
		if now.Sub(window.windowStart) > 5*time.Minute {
			delete(rl.clients, userID)
		}
	}
}
