package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tldrify/core/internal/config"
	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/pkg/errkind"
)

func defaultCosts() config.CostConfig {
	return config.CostConfig{Extractive: 1, Ranked: 3, Generative: 10, Composite: 6}
}

func TestCost(t *testing.T) {
	costs := defaultCosts()

	cases := []struct {
		method models.SummarizeMethod
		length int
		want   int64
	}{
		{models.MethodExtractive, 500, 1},
		{models.MethodExtractive, 1000, 1},
		{models.MethodExtractive, 1001, 2},
		{models.MethodRanked, 2500, 9},
		{models.MethodGenerative, 1, 10},
		{models.MethodComposite, 3000, 18},
	}
	for _, tc := range cases {
		if got := Cost(costs, tc.method, tc.length); got != tc.want {
			t.Errorf("Cost(%s, %d) = %d, want %d", tc.method, tc.length, got, tc.want)
		}
	}
}

func TestReserveCommitLifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if err := l.Grant(ctx, "u1", 100, "signup"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	id, err := l.Reserve(ctx, "u1", 30, "req-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	credits, available, err := l.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if credits != 100 || available != 70 {
		t.Fatalf("after reserve: credits=%d available=%d, want 100/70", credits, available)
	}

	if err := l.Commit(ctx, id); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	credits, available, _ = l.Balance(ctx, "u1")
	if credits != 70 || available != 70 {
		t.Fatalf("after commit: credits=%d available=%d, want 70/70", credits, available)
	}

	// Repeating the same resolution is a no-op.
	if err := l.Commit(ctx, id); err != nil {
		t.Fatalf("repeat Commit: %v", err)
	}
	// The opposite resolution is rejected.
	if err := l.Refund(ctx, id, "late"); err == nil {
		t.Fatal("Refund after Commit succeeded, want error")
	}
}

func TestRefundRestoresAvailable(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Grant(ctx, "u1", 50, "")

	id, err := l.Reserve(ctx, "u1", 50, "req-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := l.Reserve(ctx, "u1", 1, "req-2"); errkind.KindOf(err) != errkind.InsufficientCredits {
		t.Fatalf("Reserve over budget: kind = %v, want InsufficientCredits", errkind.KindOf(err))
	}

	if err := l.Refund(ctx, id, "provider failed"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	credits, available, _ := l.Balance(ctx, "u1")
	if credits != 50 || available != 50 {
		t.Fatalf("after refund: credits=%d available=%d, want 50/50", credits, available)
	}
}

func TestReserveIdempotentByCorrelation(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Grant(ctx, "u1", 10, "")

	first, err := l.Reserve(ctx, "u1", 10, "req-1")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	second, err := l.Reserve(ctx, "u1", 10, "req-1")
	if err != nil {
		t.Fatalf("repeat Reserve: %v", err)
	}
	if first != second {
		t.Fatalf("repeat Reserve returned %s, want original %s", second, first)
	}

	// Only one hold exists; available reflects a single reservation.
	_, available, _ := l.Balance(ctx, "u1")
	if available != 0 {
		t.Fatalf("available = %d, want 0", available)
	}
}

func TestReserveInsufficientWritesNothing(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Grant(ctx, "u1", 5, "")

	_, err := l.Reserve(ctx, "u1", 6, "req-1")
	if errkind.KindOf(err) != errkind.InsufficientCredits {
		t.Fatalf("kind = %v, want InsufficientCredits", errkind.KindOf(err))
	}

	for _, e := range l.Entries("u1") {
		if e.Kind == models.LedgerReserve {
			t.Fatal("failed reserve wrote a ledger entry")
		}
	}
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.Grant(ctx, "u1", 10, "")

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := l.Reserve(ctx, "u1", 3, fmt.Sprintf("req-%d", n))
			if err != nil {
				return
			}
			mu.Lock()
			granted++
			mu.Unlock()
			l.Commit(ctx, id)
		}(i)
	}
	wg.Wait()

	if granted > 3 {
		t.Fatalf("granted %d reservations of 3 from 10 credits", granted)
	}
	credits, _, _ := l.Balance(ctx, "u1")
	if credits < 0 {
		t.Fatalf("balance went negative: %d", credits)
	}
	if want := int64(10 - granted*3); credits != want {
		t.Fatalf("credits = %d, want %d", credits, want)
	}
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	base := time.Now()
	l.now = func() time.Time { return base }
	l.Grant(ctx, "u1", 100, "")

	stale, err := l.Reserve(ctx, "u1", 40, "req-old")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	l.now = func() time.Time { return base.Add(10 * time.Minute) }
	fresh, err := l.Reserve(ctx, "u1", 20, "req-new")
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	swept, err := l.SweepExpired(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	_, available, _ := l.Balance(ctx, "u1")
	if available != 80 {
		t.Fatalf("available = %d, want 80 (stale refunded, fresh held)", available)
	}

	// The swept reservation resolved to refunded; committing it now fails.
	if err := l.Commit(ctx, stale); err == nil {
		t.Fatal("Commit of swept reservation succeeded")
	}
	if err := l.Commit(ctx, fresh); err != nil {
		t.Fatalf("Commit of fresh reservation: %v", err)
	}
}

func TestEntryLogMaterialization(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	l.Grant(ctx, "u1", 20, "signup")
	id, _ := l.Reserve(ctx, "u1", 5, "req-1")
	l.Commit(ctx, id)
	id2, _ := l.Reserve(ctx, "u1", 7, "req-2")
	l.Refund(ctx, id2, "cancelled")

	var sum int64
	for _, e := range l.Entries("u1") {
		sum += e.Delta
	}
	credits, _, _ := l.Balance(ctx, "u1")
	if sum != credits {
		t.Fatalf("entry deltas sum to %d, materialized credits %d", sum, credits)
	}
	if credits != 15 {
		t.Fatalf("credits = %d, want 15", credits)
	}
}
