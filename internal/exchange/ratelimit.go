package exchange

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// minRequestInterval is the floor between REST calls regardless of what
// the rate-limit headers allow.
const minRequestInterval = 200 * time.Millisecond

// rateLimiter paces REST calls to the exchange. It starts at the floor
// interval and stretches out when the remaining-request budget reported
// by the API runs low.
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{interval: minRequestInterval}
}

// Wait blocks until the caller may issue the next request. The slot is
// reserved before sleeping so concurrent callers queue instead of
// stampeding when the timer fires.
func (r *rateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	at := r.next
	if at.Before(now) {
		at = now
	}
	r.next = at.Add(r.interval)
	r.mu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Update recomputes the pacing interval from the API's remaining-request
// budget and the time left in the current window.
func (r *rateLimiter) Update(remaining int, reset time.Duration) {
	if reset <= 0 {
		return
	}
	interval := minRequestInterval
	if remaining <= 0 {
		// Budget exhausted: sit out the rest of the window.
		interval = reset
	} else if spread := reset / time.Duration(remaining); spread > interval {
		interval = spread
	}
	r.mu.Lock()
	r.interval = interval
	r.mu.Unlock()
}

// UpdateFromHeaders feeds Update from the standard rate-limit response
// headers, ignoring responses that omit them.
func (r *rateLimiter) UpdateFromHeaders(h http.Header) {
	remainingRaw := h.Get("x-ratelimit-remaining")
	resetRaw := h.Get("x-ratelimit-reset")
	if remainingRaw == "" || resetRaw == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingRaw)
	if err != nil {
		return
	}
	resetSec, err := strconv.ParseFloat(resetRaw, 64)
	if err != nil || resetSec <= 0 {
		return
	}
	r.Update(remaining, time.Duration(resetSec*float64(time.Second)))
}

func (r *rateLimiter) currentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}
