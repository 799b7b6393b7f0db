package provider

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

const (
	breakerTripCount = 5
	breakerWindow    = 30 * time.Second
	breakerCooldown  = 30 * time.Second
)

// Breaker is a per-provider circuit breaker. It trips open after
// breakerTripCount consecutive failures within breakerWindow, stays open
// for breakerCooldown, then admits exactly one half-open probe whose
// outcome closes or re-opens the circuit.
type Breaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	firstFailure time.Time
	openedAt     time.Time
	probing      bool
	now          func() time.Time
}

func NewBreaker() *Breaker {
	return &Breaker{now: time.Now}
}

// Allow reports whether a call may proceed. While open it returns false
// without any provider interaction, so callers fail fast.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) < breakerCooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.probing = true
		return true
	default: // half-open
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// abort releases a call admitted by Allow that never reached the
// provider, so an abandoned half-open probe does not wedge the breaker.
func (b *Breaker) abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.probing = false
	}
}

// Record reports the outcome of a call previously admitted by Allow.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.probing = false
		if success {
			b.state = breakerClosed
			b.failures = 0
		} else {
			b.state = breakerOpen
			b.openedAt = b.now()
		}
		return
	}

	if success {
		b.failures = 0
		return
	}

	now := b.now()
	if b.failures == 0 || now.Sub(b.firstFailure) > breakerWindow {
		b.failures = 0
		b.firstFailure = now
	}
	b.failures++
	if b.failures >= breakerTripCount {
		b.state = breakerOpen
		b.openedAt = now
		b.failures = 0
	}
}
