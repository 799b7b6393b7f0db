package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tldrify/core/internal/pkg/errkind"
)

func TestBreakerTripsAfterWindowedFailures(t *testing.T) {
	base := time.Now()
	b := NewBreaker()
	b.now = func() time.Time { return base }

	for i := 0; i < breakerTripCount-1; i++ {
		if !b.Allow() {
			t.Fatalf("closed breaker denied call %d", i)
		}
		b.Record(false)
	}
	if !b.Allow() {
		t.Fatal("breaker tripped one failure early")
	}
	b.Record(false)

	if b.Allow() {
		t.Fatal("open breaker admitted a call")
	}
}

func TestBreakerWindowResetsFailureCount(t *testing.T) {
	base := time.Now()
	b := NewBreaker()
	b.now = func() time.Time { return base }

	for i := 0; i < breakerTripCount-1; i++ {
		b.Allow()
		b.Record(false)
	}

	// Old failures age out; the next failure starts a fresh window.
	base = base.Add(breakerWindow + time.Second)
	b.Allow()
	b.Record(false)
	if !b.Allow() {
		t.Fatal("stale failures counted toward the trip threshold")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	base := time.Now()
	b := NewBreaker()
	b.now = func() time.Time { return base }

	for i := 0; i < breakerTripCount; i++ {
		b.Allow()
		b.Record(false)
	}
	if b.Allow() {
		t.Fatal("breaker did not open")
	}

	base = base.Add(breakerCooldown)
	if !b.Allow() {
		t.Fatal("cooldown elapsed but probe was denied")
	}
	if b.Allow() {
		t.Fatal("second concurrent probe admitted while half-open")
	}

	// Failed probe re-opens for another full cooldown.
	b.Record(false)
	if b.Allow() {
		t.Fatal("breaker admitted a call right after a failed probe")
	}
	base = base.Add(breakerCooldown)
	if !b.Allow() {
		t.Fatal("second probe denied after cooldown")
	}
	b.Record(true)
	if !b.Allow() {
		t.Fatal("successful probe did not close the breaker")
	}
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b := NewBreaker()
	for i := 0; i < breakerTripCount-1; i++ {
		b.Allow()
		b.Record(false)
	}
	b.Allow()
	b.Record(true)
	for i := 0; i < breakerTripCount-1; i++ {
		b.Allow()
		b.Record(false)
	}
	if !b.Allow() {
		t.Fatal("success did not reset the failure streak")
	}
}

func TestTokenBucketBurstThenWait(t *testing.T) {
	base := time.Now()
	tb := NewTokenBucket(2, 1)
	tb.now = func() time.Time { return base }
	tb.last = base

	if w := tb.Reserve(); w != 0 {
		t.Fatalf("first reserve waited %v", w)
	}
	if w := tb.Reserve(); w != 0 {
		t.Fatalf("second reserve waited %v", w)
	}
	if w := tb.Reserve(); w != time.Second {
		t.Fatalf("drained reserve = %v, want 1s", w)
	}

	// Two seconds of refill replenishes the overdraft and one more token.
	base = base.Add(2 * time.Second)
	if w := tb.Reserve(); w != 0 {
		t.Fatalf("post-refill reserve waited %v", w)
	}
}

func TestTokenBucketNeverExceedsCapacity(t *testing.T) {
	base := time.Now()
	tb := NewTokenBucket(1, 1)
	tb.now = func() time.Time { return base }
	tb.last = base

	base = base.Add(time.Hour)
	if w := tb.Reserve(); w != 0 {
		t.Fatalf("reserve waited %v", w)
	}
	if w := tb.Reserve(); w == 0 {
		t.Fatal("capacity-1 bucket granted a burst of 2")
	}
}

func TestTokenBucketZeroRefillIsUnlimited(t *testing.T) {
	tb := NewTokenBucket(0, 0)
	for i := 0; i < 100; i++ {
		if w := tb.Reserve(); w != 0 {
			t.Fatalf("unlimited bucket waited %v on call %d", w, i)
		}
	}
}

func poolWith(t *testing.T, client Client, sink UsageSink) *Pool {
	t.Helper()
	p, err := NewPool(nil, sink, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p.AddClient(client, 4, 100, 100, time.Second)
	return p
}

type captureSink struct {
	records []UsageRecord
}

func (s *captureSink) Record(_ context.Context, usage UsageRecord) {
	s.records = append(s.records, usage)
}

func TestPoolRecordsUsage(t *testing.T) {
	sink := &captureSink{}
	mock := NewMockClient("mock", MockStep{Reply: &Reply{Text: "done", InputTokens: 10, OutputTokens: 5}})
	p := poolWith(t, mock, sink)

	reply, err := p.Summarize(context.Background(), Prompt{User: "text", RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if reply.Text != "done" {
		t.Fatalf("reply = %q", reply.Text)
	}

	if len(sink.records) != 1 {
		t.Fatalf("usage records = %d, want 1", len(sink.records))
	}
	rec := sink.records[0]
	if rec.Provider != "mock" || rec.Model != "mock-model" || rec.RequestID != "req-1" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.InputTokens != 10 || rec.OutputTokens != 5 {
		t.Fatalf("tokens = %d/%d", rec.InputTokens, rec.OutputTokens)
	}
}

func TestPoolClassifiesCallErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limited", &CallError{Kind: FailRateLimited, Message: "429"}, true},
		{"timeout", &CallError{Kind: FailTimeout, Message: "deadline"}, true},
		{"upstream", &CallError{Kind: FailUpstream, Message: "500"}, true},
		{"invalid input", &CallError{Kind: FailInvalidInput, Message: "too long"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := poolWith(t, NewMockClient("mock", MockStep{Err: tc.err}), nil)
			_, err := p.Summarize(context.Background(), Prompt{User: "text"})
			if errkind.KindOf(err) != errkind.ProviderError {
				t.Fatalf("kind = %v, want ProviderError", errkind.KindOf(err))
			}
			if errkind.IsRetryable(err) != tc.retryable {
				t.Fatalf("retryable = %v, want %v", errkind.IsRetryable(err), tc.retryable)
			}
		})
	}
}

func TestPoolFailsFastWhenCircuitOpen(t *testing.T) {
	mock := NewMockClient("mock", MockStep{Err: &CallError{Kind: FailUpstream, Message: "down"}})
	p := poolWith(t, mock, nil)

	ctx := context.Background()
	for i := 0; i < breakerTripCount; i++ {
		if _, err := p.Summarize(ctx, Prompt{User: "text"}); err == nil {
			t.Fatalf("call %d unexpectedly succeeded", i)
		}
	}

	start := time.Now()
	_, err := p.Summarize(ctx, Prompt{User: "text"})
	if errkind.KindOf(err) != errkind.CircuitOpen {
		t.Fatalf("kind = %v, want CircuitOpen", errkind.KindOf(err))
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("open-circuit rejection took %v", elapsed)
	}
	if mock.Calls() != breakerTripCount {
		t.Fatalf("provider saw %d calls after the circuit opened", mock.Calls())
	}
}

func TestPoolUnknownProvider(t *testing.T) {
	p := poolWith(t, NewMockClient("mock"), nil)
	_, err := p.SummarizeWith(context.Background(), "nope", Prompt{User: "text"})
	if errkind.KindOf(err) != errkind.ProviderError {
		t.Fatalf("kind = %v, want ProviderError", errkind.KindOf(err))
	}
}

func TestPoolWithoutProviders(t *testing.T) {
	p, err := NewPool(nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if p.HasProviders() {
		t.Fatal("empty pool claims providers")
	}
	_, err = p.Summarize(context.Background(), Prompt{User: "text"})
	if errkind.KindOf(err) != errkind.ProviderError {
		t.Fatalf("kind = %v, want ProviderError", errkind.KindOf(err))
	}
}

func TestMockClientScriptRepeatsLastStep(t *testing.T) {
	mock := NewMockClient("mock",
		MockStep{Err: &CallError{Kind: FailTimeout, Message: "slow"}},
		MockStep{Reply: &Reply{Text: "ok"}},
	)
	ctx := context.Background()

	if _, err := mock.Summarize(ctx, Prompt{User: "x"}); err == nil {
		t.Fatal("scripted failure did not fail")
	}
	for i := 0; i < 3; i++ {
		reply, err := mock.Summarize(ctx, Prompt{User: "x"})
		if err != nil || reply.Text != "ok" {
			t.Fatalf("replayed step = %v, %v", reply, err)
		}
	}
	if mock.Calls() != 4 {
		t.Fatalf("calls = %d, want 4", mock.Calls())
	}
}

func TestMockClientHonoursContext(t *testing.T) {
	mock := NewMockClient("mock", MockStep{Reply: &Reply{Text: "late"}, Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := mock.Summarize(ctx, Prompt{User: "x"})
	var ce *CallError
	if !errors.As(err, &ce) || ce.Kind != FailTimeout {
		t.Fatalf("err = %v, want timeout CallError", err)
	}
}

func TestBreakerAbortReleasesProbe(t *testing.T) {
	base := time.Now()
	b := NewBreaker()
	b.now = func() time.Time { return base }

	for i := 0; i < breakerTripCount; i++ {
		b.Record(false)
	}
	b.now = func() time.Time { return base.Add(breakerCooldown + time.Second) }
	if !b.Allow() {
		t.Fatal("cooldown elapsed, probe denied")
	}

	// The probe never reached the provider; its slot must come back.
	b.abort()
	if !b.Allow() {
		t.Fatal("aborted probe still holds the half-open slot")
	}
	b.Record(true)
	if !b.Allow() {
		t.Fatal("breaker did not close after the successful probe")
	}
}

func TestPoolCancelledWaitLeavesBreakerClosed(t *testing.T) {
	client := NewMockClient("mock", MockStep{Reply: &Reply{Text: "ok"}, Delay: 100 * time.Millisecond})
	pool, err := NewPool(nil, nil, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	pool.AddClient(client, 1, 100, 100, time.Second)

	holder := make(chan error, 1)
	go func() {
		_, err := pool.Summarize(context.Background(), Prompt{User: "hold the slot"})
		holder <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < breakerTripCount+1; i++ {
		_, err := pool.Summarize(cancelled, Prompt{User: "impatient caller"})
		if errkind.KindOf(err) != errkind.Cancelled {
			t.Fatalf("wait %d: kind = %v, want Cancelled", i, errkind.KindOf(err))
		}
	}
	if err := <-holder; err != nil {
		t.Fatalf("holder: %v", err)
	}

	// Caller impatience is not provider failure: the circuit stays closed.
	if _, err := pool.Summarize(context.Background(), Prompt{User: "after the rush"}); err != nil {
		t.Fatalf("call after cancelled waits: %v", err)
	}
}
