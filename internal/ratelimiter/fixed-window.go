package ratelimiter

import (
	"sync"
	"time"
)

type window struct {
	count int
	reset time.Time
}

// FixedWindowRateLimiter counts requests per key in process memory.
type FixedWindowRateLimiter struct {
	sync.Mutex
	clients map[string]*window
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewFixedWindowLimiter(limit int, w time.Duration) *FixedWindowRateLimiter {
	rl := &FixedWindowRateLimiter{
		clients: make(map[string]*window),
		limit:   limit,
		window:  w,
		now:     time.Now,
	}
	go rl.cleanup()
	return rl
}

func (rl *FixedWindowRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	for range ticker.C {
		now := rl.now()
		rl.Lock()
		for k, w := range rl.clients {
			if !now.Before(w.reset) {
				delete(rl.clients, k)
			}
		}
		rl.Unlock()
	}
}

func (rl *FixedWindowRateLimiter) Allow(key string) (bool, time.Duration) {
	now := rl.now()

	rl.Lock()
	defer rl.Unlock()

	w, ok := rl.clients[key]
	if !ok || !now.Before(w.reset) {
		rl.clients[key] = &window{count: 1, reset: now.Add(rl.window)}
		return true, 0
	}
	if w.count < rl.limit {
		w.count++
		return true, 0
	}
	return false, w.reset.Sub(now)
}

func (rl *FixedWindowRateLimiter) Limit() int { return rl.limit }
