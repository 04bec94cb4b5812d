package registry

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces register requests at least interval apart, across
// every goroutine sharing it.
type RateLimiter struct {
	mu       sync.Mutex
	next     time.Time
	interval time.Duration
}

func NewRateLimiter(requestsPerSecond int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	return &RateLimiter{interval: time.Second / time.Duration(requestsPerSecond)}
}

// Wait blocks until the caller's slot comes up or ctx is done. A cancelled
// caller keeps its reserved slot.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	slot := time.Now()
	if r.next.After(slot) {
		slot = r.next
	}
	r.next = slot.Add(r.interval)
	r.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
