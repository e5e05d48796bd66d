package ws

import (
	"sync"
	"time"
)

// FailureLimiter counts failed handshakes per remote address over a sliding
// window and blocks a remote once it has failed more than limit times.
// A zero limit disables it.
type FailureLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewFailureLimiter(limit int, interval time.Duration) *FailureLimiter {
	return &FailureLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether remote may attempt another handshake.
func (rl *FailureLimiter) Allow(remote string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.prune(remote, rl.now())) <= rl.limit
}

// Fail records one failed handshake for remote and sweeps expired entries of
// every other remote.
func (rl *FailureLimiter) Fail(remote string) {
	if rl == nil || rl.limit <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for r := range rl.history {
		if r != remote {
			rl.prune(r, now)
		}
	}
	rl.history[remote] = append(rl.prune(remote, now), now)
}

// prune drops attempts older than the window. Caller holds mu.
func (rl *FailureLimiter) prune(remote string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.interval)
	attempts := rl.history[remote]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		delete(rl.history, remote)
		return nil
	}
	rl.history[remote] = fresh
	return fresh
}
