package exchange

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterDefaultsToFloor(t *testing.T) {
	rl := newRateLimiter()
	assert.Equal(t, minRequestInterval, rl.currentInterval())
}

func TestRateLimiterUpdate(t *testing.T) {
	rl := newRateLimiter()

	// Plenty of budget: stay at the floor.
	rl.Update(100, 10*time.Second)
	assert.Equal(t, minRequestInterval, rl.currentInterval())

	// Scarce budget: spread the remaining requests across the window.
	rl.Update(10, 10*time.Second)
	assert.Equal(t, time.Second, rl.currentInterval())

	// Exhausted budget: sit out the rest of the window.
	rl.Update(0, 3*time.Second)
	assert.Equal(t, 3*time.Second, rl.currentInterval())

	// A zero window is ignored.
	rl.Update(0, 0)
	assert.Equal(t, 3*time.Second, rl.currentInterval())
}

func TestRateLimiterUpdateFromHeaders(t *testing.T) {
	rl := newRateLimiter()

	h := http.Header{}
	h.Set("x-ratelimit-remaining", "5")
	h.Set("x-ratelimit-reset", "10")
	rl.UpdateFromHeaders(h)
	assert.Equal(t, 2*time.Second, rl.currentInterval())

	// Responses without the headers leave pacing untouched.
	rl.UpdateFromHeaders(http.Header{})
	assert.Equal(t, 2*time.Second, rl.currentInterval())

	// Garbage values are ignored too.
	h = http.Header{}
	h.Set("x-ratelimit-remaining", "lots")
	h.Set("x-ratelimit-reset", "soon")
	rl.UpdateFromHeaders(h)
	assert.Equal(t, 2*time.Second, rl.currentInterval())
}

func TestRateLimiterWaitPacesCalls(t *testing.T) {
	rl := newRateLimiter()

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), minRequestInterval)
}

func TestRateLimiterWaitHonorsContext(t *testing.T) {
	rl := newRateLimiter()
	rl.Update(0, time.Hour)

	// First slot is immediate, the second is an hour out.
	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}
