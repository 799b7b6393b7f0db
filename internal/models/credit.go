package models

import "time"

// LedgerKind classifies an append-only ledger entry.
type LedgerKind string

const (
	LedgerReserve LedgerKind = "reserve"
	LedgerCommit  LedgerKind = "commit"
	LedgerRefund  LedgerKind = "refund"
	LedgerGrant   LedgerKind = "grant"
)

// ReservationState tracks the lifecycle of a credit hold.
type ReservationState string

const (
	ReservationOpen      ReservationState = "open"
	ReservationCommitted ReservationState = "committed"
	ReservationRefunded  ReservationState = "refunded"
)

// UserBalanceModel materializes a user's committed credit balance.
// Version bumps on every mutation so writers can CAS instead of locking.
type UserBalanceModel struct {
	Base
	UserID  string `json:"user_id" gorm:"uniqueIndex;not null"`
	Credits int64  `json:"credits" gorm:"not null;default:0"`
	Version int64  `json:"version" gorm:"not null;default:0"`
}

func (UserBalanceModel) TableName() string { return "user_balances" }

// LedgerEntryModel is an append-only record of a credit mutation.
// The ledger table is the source of truth; Credits above is a materialization.
type LedgerEntryModel struct {
	Base
	UserID       string     `json:"user_id"       gorm:"index;not null"`
	Delta        int64      `json:"delta"`
	Kind         LedgerKind `json:"kind"          gorm:"index;not null"`
	CorrelatesTo string     `json:"correlates_to" gorm:"index"`
	Reason       string     `json:"reason,omitempty"`
}

func (LedgerEntryModel) TableName() string { return "ledger_entries" }

// ReservationModel is an open credit hold that must be resolved exactly once.
type ReservationModel struct {
	Base
	UserID        string           `json:"user_id"        gorm:"index;not null"`
	Amount        int64            `json:"amount"         gorm:"not null"`
	CorrelationID string           `json:"correlation_id" gorm:"uniqueIndex;not null"`
	State         ReservationState `json:"state"          gorm:"index;not null;default:'open'"`
	Reason        string           `json:"reason,omitempty"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}

func (ReservationModel) TableName() string { return "reservations" }
