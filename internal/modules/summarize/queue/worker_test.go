package queue

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/modules/summarize/fingerprint"
	"github.com/tldrify/core/internal/modules/summarize/ledger"
	"github.com/tldrify/core/internal/modules/summarize/provider"
	"github.com/tldrify/core/internal/modules/summarize/strategy"
	"github.com/tldrify/core/internal/pkg/errkind"
)

const workerText = `The migration finished ahead of schedule. Throughput improved by forty percent after the index rebuild.
Latency dropped across every region. The team documented the rollout steps for future migrations.
Customer reports confirmed the improvement within a week.`

type scriptedInvoker struct {
	replies []func() (*provider.Reply, error)
	calls   int
}

func (s *scriptedInvoker) Summarize(ctx context.Context, prompt provider.Prompt) (*provider.Reply, error) {
	step := s.calls
	if step >= len(s.replies) {
		step = len(s.replies) - 1
	}
	s.calls++
	return s.replies[step]()
}

type workerHarness struct {
	broker  *MemoryBroker
	store   *MemoryStore
	ledger  *ledger.MemoryLedger
	cache   *fingerprint.MemoryCache
	workers *Workers
	done    []Completion
}

func newWorkerHarness(t *testing.T, invoker strategy.Invoker) *workerHarness {
	t.Helper()
	h := &workerHarness{
		broker: NewMemoryBroker(0),
		store:  NewMemoryStore(),
		ledger: ledger.NewMemoryLedger(),
		cache:  fingerprint.NewMemoryCache(),
	}
	h.workers = NewWorkers(h.broker, h.store, strategy.NewRegistry(invoker, nil), h.ledger, h.cache,
		WorkersConfig{Count: 1, JobTimeout: 5 * time.Second, CacheTTL: time.Hour, MaxAttempts: 3},
		func(c Completion) { h.done = append(h.done, c) }, nil)
	return h
}

// submit reserves credits and enqueues a queued job, as the pipeline does.
func (h *workerHarness) submit(t *testing.T, requestID string, method models.SummarizeMethod, credits int64) *models.JobModel {
	t.Helper()
	ctx := context.Background()
	h.ledger.Grant(ctx, "u1", credits, "")
	reservationID, err := h.ledger.Reserve(ctx, "u1", credits, requestID)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	job := &models.JobModel{
		RequestID:       requestID,
		UserID:          "u1",
		State:           models.JobQueued,
		Priority:        PriorityDefault,
		ReservationID:   reservationID,
		ReservedCredits: credits,
		MaxAttempts:     3,
		Request: models.SummarizeRequest{
			RequestID: requestID,
			UserID:    "u1",
			Payload:   workerText,
			Method:    method,
			Options:   models.SummaryOptions{MaxLength: 200},
		},
	}
	if err := h.store.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.broker.Enqueue(ctx, requestID, job.Priority, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

// drainOne pops and processes a single job synchronously.
func (h *workerHarness) drainOne(t *testing.T) bool {
	t.Helper()
	ctx := context.Background()
	requestID, ok, err := h.broker.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if !ok {
		return false
	}
	h.workers.process(ctx, requestID, "test-worker")
	return true
}

func TestWorkerCompletesAndCommits(t *testing.T) {
	ctx := context.Background()
	h := newWorkerHarness(t, nil)
	h.submit(t, "r1", models.MethodExtractive, 10)

	if !h.drainOne(t) {
		t.Fatal("no job to drain")
	}

	job, _ := h.store.Get(ctx, "r1")
	if job.State != models.JobCompleted || job.Result == nil {
		t.Fatalf("job = state %s, result nil=%v", job.State, job.Result == nil)
	}

	// The reservation committed: credits dropped by the reserved amount.
	credits, available, _ := h.ledger.Balance(ctx, "u1")
	if credits != 0 || available != 0 {
		t.Fatalf("balance = %d/%d, want 0/0 after commit", credits, available)
	}

	// The result landed in the cache under the request fingerprint.
	hash := fingerprint.Fingerprint(&job.Request)
	entry, err := h.cache.Lookup(ctx, hash)
	if err != nil || entry == nil {
		t.Fatalf("cache lookup after completion: entry=%v err=%v", entry, err)
	}

	if len(h.done) != 1 || h.done[0].Err != nil || h.done[0].Result == nil {
		t.Fatalf("completions = %+v", h.done)
	}
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	invoker := &scriptedInvoker{replies: []func() (*provider.Reply, error){
		func() (*provider.Reply, error) {
			return nil, errkind.New(errkind.ProviderError, "upstream 503").WithRetryable(true)
		},
		func() (*provider.Reply, error) {
			return &provider.Reply{Text: "A clean summary of the migration.", InputTokens: 50, OutputTokens: 10}, nil
		},
	}}
	h := newWorkerHarness(t, invoker)
	h.submit(t, "r1", models.MethodGenerative, 10)

	// First attempt fails retryably and re-enqueues with a delay.
	h.drainOne(t)
	job, _ := h.store.Get(ctx, "r1")
	if job.State != models.JobQueued || job.Attempts != 1 {
		t.Fatalf("after attempt 1: state=%s attempts=%d", job.State, job.Attempts)
	}

	// The reservation survives across retries.
	_, available, _ := h.ledger.Balance(ctx, "u1")
	if available != 0 {
		t.Fatalf("available = %d, want 0 (hold kept across retry)", available)
	}

	// Fast-forward past the backoff and run the retry.
	base := time.Now()
	h.broker.now = func() time.Time { return base.Add(time.Minute) }
	if !h.drainOne(t) {
		t.Fatal("retry not visible after backoff")
	}

	job, _ = h.store.Get(ctx, "r1")
	if job.State != models.JobCompleted {
		t.Fatalf("after retry: state=%s lastErr=%q", job.State, job.LastError)
	}
	credits, _, _ := h.ledger.Balance(ctx, "u1")
	if credits != 0 {
		t.Fatalf("credits = %d, want 0 after commit", credits)
	}
	if invoker.calls != 2 {
		t.Fatalf("provider calls = %d, want 2", invoker.calls)
	}
}

func TestWorkerTerminalFailureRefunds(t *testing.T) {
	ctx := context.Background()
	invoker := &scriptedInvoker{replies: []func() (*provider.Reply, error){
		func() (*provider.Reply, error) {
			return nil, errkind.New(errkind.ProviderError, "model rejected input")
		},
	}}
	h := newWorkerHarness(t, invoker)
	h.submit(t, "r1", models.MethodGenerative, 10)

	h.drainOne(t)

	job, _ := h.store.Get(ctx, "r1")
	if job.State != models.JobFailed {
		t.Fatalf("state = %s, want failed (non-retryable error)", job.State)
	}

	credits, available, _ := h.ledger.Balance(ctx, "u1")
	if credits != 10 || available != 10 {
		t.Fatalf("balance = %d/%d, want 10/10 after refund", credits, available)
	}

	if len(h.done) != 1 || h.done[0].Err == nil {
		t.Fatalf("completions = %+v", h.done)
	}
}

func TestWorkerExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	invoker := &scriptedInvoker{replies: []func() (*provider.Reply, error){
		func() (*provider.Reply, error) {
			return nil, errkind.New(errkind.ProviderError, "always down").WithRetryable(true)
		},
	}}
	h := newWorkerHarness(t, invoker)
	h.submit(t, "r1", models.MethodGenerative, 10)

	base := time.Now()
	for i := 0; i < 5; i++ {
		h.broker.now = func() time.Time { return base.Add(time.Duration(i+1) * time.Minute) }
		if !h.drainOne(t) {
			break
		}
	}

	job, _ := h.store.Get(ctx, "r1")
	if job.State != models.JobFailed || job.Attempts != 3 {
		t.Fatalf("state=%s attempts=%d, want failed/3", job.State, job.Attempts)
	}
	if !strings.Contains(job.LastError, "always down") {
		t.Fatalf("last error = %q", job.LastError)
	}

	credits, _, _ := h.ledger.Balance(ctx, "u1")
	if credits != 10 {
		t.Fatalf("credits = %d, want 10 (refunded after exhaustion)", credits)
	}
}

func TestReaperRequeuesStalledJob(t *testing.T) {
	ctx := context.Background()
	h := newWorkerHarness(t, nil)
	h.submit(t, "r1", models.MethodExtractive, 10)

	// Claim the job with a start time in the past, as if the worker died.
	requestID, _, _ := h.broker.Dequeue(ctx)
	past := time.Now().Add(-time.Hour)
	h.store.now = func() time.Time { return past }
	h.store.MarkActive(ctx, requestID, "dead-worker")
	h.store.now = time.Now

	reaper := NewReaper(h.store, h.broker, h.ledger, time.Minute, nil, nil)
	reaped, err := reaper.Run(ctx)
	if err != nil || reaped != 1 {
		t.Fatalf("Run: reaped=%d err=%v", reaped, err)
	}

	job, _ := h.store.Get(ctx, "r1")
	if job.State != models.JobQueued {
		t.Fatalf("state = %s, want queued", job.State)
	}

	// The requeued job is claimable and completes normally.
	if !h.drainOne(t) {
		t.Fatal("requeued job not visible")
	}
	job, _ = h.store.Get(ctx, "r1")
	if job.State != models.JobCompleted {
		t.Fatalf("state = %s, want completed", job.State)
	}
}
