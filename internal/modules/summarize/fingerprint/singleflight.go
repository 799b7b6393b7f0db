package fingerprint

import (
	"context"
	"sync"

	"github.com/tldrify/core/internal/models"
)

// Outcome is what a flight leader hands to its followers.
type Outcome struct {
	Result *models.SummaryResult
	Err    error
}

type flight struct {
	done    chan struct{}
	outcome Outcome
}

// Flights joins concurrent requests that share a fingerprint onto one
// execution. The first caller becomes the leader and must Resolve; the
// rest block on the leader's outcome and pay nothing.
type Flights struct {
	mu      sync.Mutex
	pending map[string]*flight
}

func NewFlights() *Flights {
	return &Flights{pending: make(map[string]*flight)}
}

// Join registers intent on a fingerprint. leader=true means the caller must
// produce the result and call Resolve exactly once.
func (f *Flights) Join(hash string) (leader bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pending[hash]; ok {
		return false
	}
	f.pending[hash] = &flight{done: make(chan struct{})}
	return true
}

// Wait blocks until the leader resolves the fingerprint or ctx ends.
func (f *Flights) Wait(ctx context.Context, hash string) (Outcome, error) {
	f.mu.Lock()
	fl, ok := f.pending[hash]
	f.mu.Unlock()
	if !ok {
		// Leader resolved between Join and Wait; treat as a plain miss.
		return Outcome{}, ErrNoFlight
	}

	select {
	case <-fl.done:
		return fl.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Resolve publishes the leader's outcome and releases all waiters.
func (f *Flights) Resolve(hash string, result *models.SummaryResult, err error) {
	f.mu.Lock()
	fl, ok := f.pending[hash]
	if ok {
		delete(f.pending, hash)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	fl.outcome = Outcome{Result: result, Err: err}
	close(fl.done)
}

// ErrNoFlight signals that the flight resolved before Wait was entered.
var ErrNoFlight = errNoFlight{}

type errNoFlight struct{}

func (errNoFlight) Error() string { return "no in-flight execution for fingerprint" }
