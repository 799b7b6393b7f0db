package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/pkg/errkind"
)

type memReservation struct {
	id            string
	userID        string
	amount        int64
	correlationID string
	state         models.ReservationState
	reason        string
	createdAt     time.Time
}

// MemoryLedger keeps the full ledger in process memory. It backs tests
// and single-node deployments that run without MySQL.
type MemoryLedger struct {
	mu            sync.Mutex
	credits       map[string]int64
	reservations  map[string]*memReservation
	byCorrelation map[string]string
	entries       []models.LedgerEntryModel

	now func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		credits:       make(map[string]int64),
		reservations:  make(map[string]*memReservation),
		byCorrelation: make(map[string]string),
		now:           time.Now,
	}
}

func (l *MemoryLedger) Reserve(ctx context.Context, userID string, amount int64, correlation string) (string, error) {
	if amount <= 0 {
		return "", errkind.New(errkind.Validation, "reservation amount must be positive")
	}
	if correlation == "" {
		return "", errkind.New(errkind.Validation, "correlation id required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.byCorrelation[correlation]; ok {
		return id, nil
	}

	available := l.credits[userID] - l.heldLocked(userID)
	if available < amount {
		return "", errkind.Newf(errkind.InsufficientCredits,
			"need %d credits, %d available", amount, available)
	}

	reservation := &memReservation{
		id:            uuid.NewString(),
		userID:        userID,
		amount:        amount,
		correlationID: correlation,
		state:         models.ReservationOpen,
		createdAt:     l.now(),
	}
	l.reservations[reservation.id] = reservation
	l.byCorrelation[correlation] = reservation.id
	l.appendLocked(userID, 0, models.LedgerReserve, reservation.id, "")
	return reservation.id, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolveLocked(reservationID, models.ReservationCommitted, "")
}

func (l *MemoryLedger) Refund(ctx context.Context, reservationID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resolveLocked(reservationID, models.ReservationRefunded, reason)
}

func (l *MemoryLedger) resolveLocked(reservationID string, target models.ReservationState, reason string) error {
	reservation, ok := l.reservations[reservationID]
	if !ok {
		return errkind.Newf(errkind.Internal, "reservation %s not found", reservationID)
	}
	if reservation.state == target {
		return nil
	}
	if reservation.state != models.ReservationOpen {
		return errkind.Newf(errkind.Internal,
			"reservation %s already %s", reservationID, reservation.state)
	}

	reservation.state = target
	reservation.reason = reason
	if target == models.ReservationCommitted {
		l.credits[reservation.userID] -= reservation.amount
		l.appendLocked(reservation.userID, -reservation.amount, models.LedgerCommit, reservationID, "")
	} else {
		l.appendLocked(reservation.userID, 0, models.LedgerRefund, reservationID, reason)
	}
	return nil
}

func (l *MemoryLedger) Grant(ctx context.Context, userID string, amount int64, reason string) error {
	if amount <= 0 {
		return errkind.New(errkind.Validation, "grant amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credits[userID] += amount
	l.appendLocked(userID, amount, models.LedgerGrant, "", reason)
	return nil
}

func (l *MemoryLedger) Balance(ctx context.Context, userID string) (int64, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	credits := l.credits[userID]
	return credits, credits - l.heldLocked(userID), nil
}

func (l *MemoryLedger) SweepExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)
	swept := 0
	for id, reservation := range l.reservations {
		if reservation.state != models.ReservationOpen || !reservation.createdAt.Before(cutoff) {
			continue
		}
		if err := l.resolveLocked(id, models.ReservationRefunded, "expired"); err == nil {
			swept++
		}
	}
	return swept, nil
}

// Entries returns a copy of the entry log for userID, oldest first.
func (l *MemoryLedger) Entries(userID string) []models.LedgerEntryModel {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.LedgerEntryModel
	for _, e := range l.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (l *MemoryLedger) heldLocked(userID string) int64 {
	var held int64
	for _, r := range l.reservations {
		if r.userID == userID && r.state == models.ReservationOpen {
			held += r.amount
		}
	}
	return held
}

func (l *MemoryLedger) appendLocked(userID string, delta int64, kind models.LedgerKind, correlatesTo, reason string) {
	l.entries = append(l.entries, models.LedgerEntryModel{
		UserID:       userID,
		Delta:        delta,
		Kind:         kind,
		CorrelatesTo: correlatesTo,
		Reason:       reason,
	})
}
