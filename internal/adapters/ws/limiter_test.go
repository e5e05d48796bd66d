package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func tracked(rl *FailureLimiter) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.history)
}

func TestFailureLimiterWindow(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewFailureLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	rl.Fail("a")
	rl.Fail("a")
	assert.True(t, rl.Allow("a"), "exactly limit failures is still allowed")
	rl.Fail("a")
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestFailureLimiterSweepsStaleRemotes(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewFailureLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Fail("a")
	rl.Fail("b")
	assert.Equal(t, 2, tracked(rl))

	now = now.Add(2 * time.Minute)
	rl.Fail("c")
	assert.Equal(t, 1, tracked(rl))
}

func TestFailureLimiterDisabled(t *testing.T) {
	var nilLimiter *FailureLimiter
	assert.True(t, nilLimiter.Allow("a"))
	nilLimiter.Fail("a")

	rl := NewFailureLimiter(0, time.Minute)
	rl.Fail("a")
	assert.True(t, rl.Allow("a"))
}
