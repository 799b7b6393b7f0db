package queue

import (
	"context"
	"testing"
	"time"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/modules/summarize/ledger"
	"github.com/tldrify/core/internal/pkg/errkind"
)

func TestReaperThresholdIsJobTimeout(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	b := NewMemoryBroker(10)
	base := time.Now()
	jobTimeout := time.Minute

	s.Create(ctx, queuedJob("over"))
	s.Create(ctx, queuedJob("under"))

	s.now = func() time.Time { return base.Add(-jobTimeout - time.Second) }
	s.MarkActive(ctx, "over", "w1")
	s.now = func() time.Time { return base.Add(-jobTimeout + time.Second) }
	s.MarkActive(ctx, "under", "w2")
	s.now = func() time.Time { return base }

	r := NewReaper(s, b, ledger.NewMemoryLedger(), jobTimeout, nil, nil)
	reaped, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want only the job active past job_timeout", reaped)
	}

	over, _ := s.Get(ctx, "over")
	if over.State != models.JobQueued {
		t.Fatalf("over = %v, want requeued", over.State)
	}
	under, _ := s.Get(ctx, "under")
	if under.State != models.JobActive {
		t.Fatalf("under = %v, want left with its worker", under.State)
	}
}

func TestReaperSettlesExhaustedJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	b := NewMemoryBroker(10)
	lg := ledger.NewMemoryLedger()
	lg.Grant(ctx, "u1", 20, "")
	reservationID, err := lg.Reserve(ctx, "u1", 5, "r1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	job := queuedJob("r1")
	job.MaxAttempts = 1
	job.ReservationID = reservationID
	job.ReservedCredits = 5
	s.Create(ctx, job)

	base := time.Now()
	s.now = func() time.Time { return base.Add(-2 * time.Minute) }
	s.MarkActive(ctx, "r1", "w1")
	s.now = func() time.Time { return base }

	var settled []Completion
	r := NewReaper(s, b, lg, time.Minute, func(c Completion) { settled = append(settled, c) }, nil)
	if _, err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final, _ := s.Get(ctx, "r1")
	if final.State != models.JobFailed {
		t.Fatalf("final = %v, want failed", final.State)
	}
	if len(settled) != 1 || settled[0].RequestID != "r1" {
		t.Fatalf("completions = %+v, want one for r1", settled)
	}
	if errkind.KindOf(settled[0].Err) != errkind.Timeout {
		t.Fatalf("kind = %v, want Timeout", errkind.KindOf(settled[0].Err))
	}

	_, available, _ := lg.Balance(ctx, "u1")
	if available != 20 {
		t.Fatalf("available = %d, want the stalled hold refunded", available)
	}
}
