package provider

import (
	"sync"
	"time"
)

// TokenBucket is a simple capacity/refill rate limiter.
type TokenBucket struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	refillPer float64 // tokens per second
	last      time.Time
	now       func() time.Time
}

func NewTokenBucket(capacity, refillPerSec float64) *TokenBucket {
	tb := &TokenBucket{
		tokens:    capacity,
		capacity:  capacity,
		refillPer: refillPerSec,
		now:       time.Now,
	}
	tb.last = tb.now()
	return tb
}

// Reserve takes one token, returning how long the caller must wait before
// proceeding. Zero means the token was available immediately.
func (tb *TokenBucket) Reserve() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	// No refill rate means no limiting.
	if tb.refillPer <= 0 {
		return 0
	}

	now := tb.now()
	tb.tokens += now.Sub(tb.last).Seconds() * tb.refillPer
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.last = now

	tb.tokens--
	if tb.tokens >= 0 {
		return 0
	}
	return time.Duration(-tb.tokens / tb.refillPer * float64(time.Second))
}
