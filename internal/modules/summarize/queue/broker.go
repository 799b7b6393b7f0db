// Package queue implements the async job side of the pipeline: a
// priority broker ordering job ids, the durable job store, and the
// worker pool that drains them.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/tldrify/core/internal/pkg/errkind"
)

// Broker orders queued job ids by priority and readiness. It carries no
// job state; the store is the source of truth.
type Broker interface {
	// Enqueue schedules a job id, optionally delayed. Returns Overloaded
	// when the queue is at capacity.
	Enqueue(ctx context.Context, requestID string, priority int, delay time.Duration) error
	// Dequeue pops the most urgent ready job id, non-blocking.
	Dequeue(ctx context.Context) (requestID string, ok bool, err error)
	// Promote moves due delayed jobs into the ready set.
	Promote(ctx context.Context) (int, error)
	// Len counts ready plus delayed jobs.
	Len(ctx context.Context) (int64, error)
	// MarkCancelled flags a job id so a later Dequeue discards it.
	MarkCancelled(ctx context.Context, requestID string) error
	// Cancelled reports and clears the cancel flag for a job id.
	Cancelled(ctx context.Context, requestID string) (bool, error)
}

// Priority bounds. Lower value is more urgent; PriorityDefault applies
// when a request does not set one.
const (
	PriorityHighest = 1
	PriorityDefault = 5
	PriorityLowest  = 10
)

// ClampPriority forces p into the valid range, mapping 0 to the default.
func ClampPriority(p int) int {
	if p == 0 {
		return PriorityDefault
	}
	if p < PriorityHighest {
		return PriorityHighest
	}
	if p > PriorityLowest {
		return PriorityLowest
	}
	return p
}

type memItem struct {
	requestID string
	priority  int
	readyAt   time.Time
	seq       int64
	index     int
}

type memHeap []*memItem

func (h memHeap) Len() int { return len(h) }
func (h memHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h memHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *memHeap) Push(x any) {
	item := x.(*memItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *memHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MemoryBroker is a process-local broker for tests and redis-less runs.
// Delayed jobs sit in a slice until Promote moves them into the heap.
type MemoryBroker struct {
	mu        sync.Mutex
	ready     memHeap
	delayed   []*memItem
	cancelled map[string]bool
	limit     int
	seq       int64
	now       func() time.Time
}

func NewMemoryBroker(limit int) *MemoryBroker {
	return &MemoryBroker{cancelled: make(map[string]bool), limit: limit, now: time.Now}
}

// SetNow swaps the broker clock so tests can fast-forward delays.
func (b *MemoryBroker) SetNow(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

func (b *MemoryBroker) Enqueue(_ context.Context, requestID string, priority int, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 && len(b.ready)+len(b.delayed) >= b.limit {
		return errkind.Newf(errkind.Overloaded, "job queue full (%d)", b.limit)
	}

	b.seq++
	item := &memItem{
		requestID: requestID,
		priority:  ClampPriority(priority),
		seq:       b.seq,
	}
	if delay > 0 {
		item.readyAt = b.now().Add(delay)
		b.delayed = append(b.delayed, item)
		return nil
	}
	heap.Push(&b.ready, item)
	return nil
}

func (b *MemoryBroker) Dequeue(_ context.Context) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.promoteLocked()
	for b.ready.Len() > 0 {
		item := heap.Pop(&b.ready).(*memItem)
		if b.cancelled[item.requestID] {
			delete(b.cancelled, item.requestID)
			continue
		}
		return item.requestID, true, nil
	}
	return "", false, nil
}

func (b *MemoryBroker) Promote(_ context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.promoteLocked(), nil
}

func (b *MemoryBroker) promoteLocked() int {
	now := b.now()
	moved := 0
	remaining := b.delayed[:0]
	for _, item := range b.delayed {
		if item.readyAt.After(now) {
			remaining = append(remaining, item)
			continue
		}
		heap.Push(&b.ready, item)
		moved++
	}
	b.delayed = remaining
	return moved
}

func (b *MemoryBroker) Len(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.ready) + len(b.delayed)), nil
}

func (b *MemoryBroker) MarkCancelled(_ context.Context, requestID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled[requestID] = true
	return nil
}

func (b *MemoryBroker) Cancelled(_ context.Context, requestID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled[requestID] {
		delete(b.cancelled, requestID)
		return true, nil
	}
	return false, nil
}
