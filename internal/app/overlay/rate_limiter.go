package overlay

import (
	"time"

	"github.com/dkeye/LiveStudio/internal/domain"
)

// RateLimiter is a sliding-window limit per sender.
type RateLimiter struct {
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
}

func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

// Allow records an attempt at now and reports whether it fits the window.
func (rl *RateLimiter) Allow(uid domain.UserID, now time.Time) bool {
	if rl.limit <= 0 {
		return true
	}
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}
	rl.history[uid] = append(fresh, now)
	return true
}

// Forget drops the history of senders idle for a whole window.
func (rl *RateLimiter) Forget(now time.Time) {
	windowStart := now.Add(-rl.interval)
	for uid, attempts := range rl.history {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(windowStart) {
			delete(rl.history, uid)
		}
	}
}
