package api

import (
	"sync"
	"time"
)

// RateLimiter implements per-user fixed-window rate limiting
// ARCHITECTURAL DISCOVERY: Per-user state tracking with periodic cleanup
// prevents memory leaks from users who stop sending requests
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientLimit
	now     func() time.Time
}

type clientLimit struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter allows limit requests per user per window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow records one request for userID and reports whether it is allowed
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	client, exists := rl.clients[userID]
	if !exists || now.Sub(client.windowStart) >= rl.window {
		rl.clients[userID] = &clientLimit{count: 1, windowStart: now}
		return true
	}

	if client.count >= rl.limit {
		return false
	}
	client.count++
	return true
}

// Cleanup removes users idle for more than five windows
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, client := range rl.clients {
		if now.Sub(client.windowStart) > 5*rl.window {
			delete(rl.clients, userID)
		}
	}
}

// Len returns the number of tracked users
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
