// Package ledger implements transactional credit accounting: reservations
// that must be committed or refunded exactly once, over an append-only
// entry log.
package ledger

import (
	"context"
	"time"

	"github.com/tldrify/core/internal/config"
	"github.com/tldrify/core/internal/models"
)

// Ledger is the credit accounting surface the pipeline depends on.
// All operations are atomic with respect to user_id.
type Ledger interface {
	// Reserve opens a credit hold. The same correlation id always returns
	// the original reservation (at-most-one-charge).
	Reserve(ctx context.Context, userID string, amount int64, correlation string) (reservationID string, err error)
	// Commit charges a reservation: a −amount entry is appended and the
	// materialized balance drops.
	Commit(ctx context.Context, reservationID string) error
	// Refund releases a reservation without a balance delta.
	Refund(ctx context.Context, reservationID, reason string) error
	// Grant adds credits to a user.
	Grant(ctx context.Context, userID string, amount int64, reason string) error
	// Balance returns the materialized credits and the available balance
	// (credits minus open reservations).
	Balance(ctx context.Context, userID string) (credits, available int64, err error)
	// SweepExpired refunds reservations older than olderThan. It heals
	// leaks from workers that crashed between reserve and resolve.
	SweepExpired(ctx context.Context, olderThan time.Duration) (int, error)
}

// Cost computes the credit cost for a request: base cost per method times
// ceil(text_length / 1000).
func Cost(costs config.CostConfig, method models.SummarizeMethod, textLength int) int64 {
	var base int64
	switch method {
	case models.MethodExtractive:
		base = costs.Extractive
	case models.MethodRanked:
		base = costs.Ranked
	case models.MethodGenerative:
		base = costs.Generative
	case models.MethodComposite:
		base = costs.Composite
	}
	units := int64((textLength + 999) / 1000)
	if units < 1 {
		units = 1
	}
	return base * units
}
