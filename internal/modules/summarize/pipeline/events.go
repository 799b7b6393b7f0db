package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tldrify/core/internal/pkg/bark"
	pkgredis "github.com/tldrify/core/internal/pkg/redis"
	"go.uber.org/zap"
)

// EventType names a pipeline lifecycle transition.
type EventType string

const (
	EventSubmitted EventType = "submitted"
	EventCached    EventType = "cached"
	EventReserved  EventType = "reserved"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event is an immutable record of a pipeline transition.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id,omitempty"`
	Method    string    `json:"method,omitempty"`
	Credits   int64     `json:"credits,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

const eventBufferSize = 256

// Bus broadcasts events to subscribers over a bounded channel. A full
// buffer drops the event rather than back-pressuring the pipeline.
type Bus struct {
	mu      sync.Mutex
	subs    []func(Event)
	ch      chan Event
	dropped atomic.Int64
	started atomic.Bool
}

func NewBus() *Bus {
	return &Bus{ch: make(chan Event, eventBufferSize)}
}

// Subscribe registers fn. Call before Start; subscribers run on the
// dispatch goroutine and must not block.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Publish enqueues an event, dropping it when the buffer is full.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	select {
	case b.ch <- evt:
	default:
		b.dropped.Add(1)
	}
}

// Dropped counts events lost to a full buffer.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Start launches the dispatch loop. It returns immediately; the loop
// stops when ctx ends.
func (b *Bus) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-b.ch:
				b.mu.Lock()
				subs := b.subs
				b.mu.Unlock()
				for _, fn := range subs {
					fn(evt)
				}
			}
		}
	}()
}

// Drain synchronously dispatches everything currently buffered. Tests
// use it instead of Start.
func (b *Bus) Drain() {
	for {
		select {
		case evt := <-b.ch:
			b.mu.Lock()
			subs := b.subs
			b.mu.Unlock()
			for _, fn := range subs {
				fn(evt)
			}
		default:
			return
		}
	}
}

// ZapSubscriber logs every event.
func ZapSubscriber(logger *zap.Logger) func(Event) {
	logger = logger.Named("Events")
	return func(evt Event) {
		logger.Info("pipeline event",
			zap.String("type", string(evt.Type)),
			zap.String("request_id", evt.RequestID),
			zap.String("user_id", evt.UserID),
			zap.String("method", evt.Method),
			zap.Int64("credits", evt.Credits),
			zap.String("error", evt.Error),
		)
	}
}

// BarkSubscriber pushes an operator alert when a job fails terminally.
// Alerts are throttled per user so a burst of failures produces one push.
func BarkSubscriber(svc *bark.Service) func(Event) {
	return func(evt Event) {
		if evt.Type != EventFailed {
			return
		}
		svc.ThrottledPush(
			"failed|"+evt.UserID,
			"summarization failed",
			"request "+evt.RequestID+" ("+evt.Method+"): "+evt.Error,
		)
	}
}

const eventsChannel = "tldr:events"

// RedisSubscriber bridges events onto redis pub/sub so other processes
// can observe the pipeline.
func RedisSubscriber(rc *pkgredis.Client, logger *zap.Logger) func(Event) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(evt Event) {
		payload, err := json.Marshal(evt)
		if err != nil {
			return
		}
		if err := rc.Publish(context.Background(), eventsChannel, payload); err != nil {
			logger.Warn("publish event failed", zap.Error(err))
		}
	}
}
