package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/pkg/errkind"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// casAttempts bounds optimistic retry on version conflicts.
const casAttempts = 5

var errVersionConflict = errors.New("balance version conflict")

// GormLedger persists balances, reservations and the entry log in MySQL.
// Concurrent writers are serialized per user by a version CAS on the
// balance row.
type GormLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormLedger(db *gorm.DB, logger *zap.Logger) *GormLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormLedger{db: db, logger: logger.Named("Ledger")}
}

func (l *GormLedger) Reserve(ctx context.Context, userID string, amount int64, correlation string) (string, error) {
	if amount <= 0 {
		return "", errkind.New(errkind.Validation, "reservation amount must be positive")
	}
	if correlation == "" {
		return "", errkind.New(errkind.Validation, "correlation id required")
	}

	// Idempotency: a repeated correlation id returns the original hold.
	var existing models.ReservationModel
	err := l.db.WithContext(ctx).Where("correlation_id = ?", correlation).First(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", errkind.Wrap(errkind.Internal, err, "lookup reservation")
	}

	var reservationID string
	for attempt := 0; attempt < casAttempts; attempt++ {
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := l.balanceRow(tx, userID)
			if err != nil {
				return err
			}

			var held int64
			err = tx.Model(&models.ReservationModel{}).
				Where("user_id = ? AND state = ?", userID, models.ReservationOpen).
				Select("COALESCE(SUM(amount), 0)").
				Scan(&held).Error
			if err != nil {
				return errkind.Wrap(errkind.Internal, err, "sum open reservations")
			}

			if balance.Credits-held < amount {
				return errkind.Newf(errkind.InsufficientCredits,
					"need %d credits, %d available", amount, balance.Credits-held)
			}

			// The version bump serializes the availability check against
			// concurrent reserves and commits for the same user.
			if err := l.bumpVersion(tx, balance); err != nil {
				return err
			}

			reservation := models.ReservationModel{
				UserID:        userID,
				Amount:        amount,
				CorrelationID: correlation,
				State:         models.ReservationOpen,
			}
			if err := tx.Create(&reservation).Error; err != nil {
				return errkind.Wrap(errkind.Internal, err, "create reservation")
			}
			reservationID = reservation.ID

			return tx.Create(&models.LedgerEntryModel{
				UserID:       userID,
				Delta:        0,
				Kind:         models.LedgerReserve,
				CorrelatesTo: reservation.ID,
			}).Error
		})
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return "", err
		}
		return reservationID, nil
	}
	return "", errkind.New(errkind.Internal, "reserve: too many version conflicts")
}

func (l *GormLedger) Commit(ctx context.Context, reservationID string) error {
	return l.resolve(ctx, reservationID, models.ReservationCommitted, "")
}

func (l *GormLedger) Refund(ctx context.Context, reservationID, reason string) error {
	return l.resolve(ctx, reservationID, models.ReservationRefunded, reason)
}

// resolve moves an open reservation to a terminal state. Repeating the
// same resolution is a no-op; the opposite resolution is an error.
func (l *GormLedger) resolve(ctx context.Context, reservationID string, target models.ReservationState, reason string) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var reservation models.ReservationModel
			if err := tx.Where("id = ?", reservationID).First(&reservation).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return errkind.Newf(errkind.Internal, "reservation %s not found", reservationID)
				}
				return errkind.Wrap(errkind.Internal, err, "lookup reservation")
			}
			if reservation.State == target {
				return nil
			}
			if reservation.State != models.ReservationOpen {
				return errkind.Newf(errkind.Internal,
					"reservation %s already %s", reservationID, reservation.State)
			}

			balance, err := l.balanceRow(tx, reservation.UserID)
			if err != nil {
				return err
			}
			if err := l.bumpVersion(tx, balance); err != nil {
				return err
			}

			now := time.Now()
			res := tx.Model(&models.ReservationModel{}).
				Where("id = ? AND state = ?", reservationID, models.ReservationOpen).
				Updates(map[string]any{
					"state":       target,
					"reason":      reason,
					"resolved_at": now,
				})
			if res.Error != nil {
				return errkind.Wrap(errkind.Internal, res.Error, "resolve reservation")
			}
			if res.RowsAffected == 0 {
				return errVersionConflict
			}

			entry := models.LedgerEntryModel{
				UserID:       reservation.UserID,
				Kind:         models.LedgerRefund,
				CorrelatesTo: reservationID,
				Reason:       reason,
			}
			if target == models.ReservationCommitted {
				entry.Kind = models.LedgerCommit
				entry.Delta = -reservation.Amount
				err := tx.Model(&models.UserBalanceModel{}).
					Where("user_id = ?", reservation.UserID).
					Update("credits", gorm.Expr("credits - ?", reservation.Amount)).Error
				if err != nil {
					return errkind.Wrap(errkind.Internal, err, "debit balance")
				}
			}
			return tx.Create(&entry).Error
		})
		if errors.Is(err, errVersionConflict) {
			continue
		}
		return err
	}
	return errkind.New(errkind.Internal, "resolve: too many version conflicts")
}

func (l *GormLedger) Grant(ctx context.Context, userID string, amount int64, reason string) error {
	if amount <= 0 {
		return errkind.New(errkind.Validation, "grant amount must be positive")
	}
	for attempt := 0; attempt < casAttempts; attempt++ {
		err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := l.balanceRow(tx, userID)
			if err != nil {
				return err
			}
			if err := l.bumpVersion(tx, balance); err != nil {
				return err
			}
			err = tx.Model(&models.UserBalanceModel{}).
				Where("user_id = ?", userID).
				Update("credits", gorm.Expr("credits + ?", amount)).Error
			if err != nil {
				return errkind.Wrap(errkind.Internal, err, "credit balance")
			}
			return tx.Create(&models.LedgerEntryModel{
				UserID: userID,
				Delta:  amount,
				Kind:   models.LedgerGrant,
				Reason: reason,
			}).Error
		})
		if errors.Is(err, errVersionConflict) {
			continue
		}
		return err
	}
	return errkind.New(errkind.Internal, "grant: too many version conflicts")
}

func (l *GormLedger) Balance(ctx context.Context, userID string) (int64, int64, error) {
	var balance models.UserBalanceModel
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, nil
		}
		return 0, 0, errkind.Wrap(errkind.Internal, err, "lookup balance")
	}

	var held int64
	err = l.db.WithContext(ctx).Model(&models.ReservationModel{}).
		Where("user_id = ? AND state = ?", userID, models.ReservationOpen).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&held).Error
	if err != nil {
		return 0, 0, errkind.Wrap(errkind.Internal, err, "sum open reservations")
	}
	return balance.Credits, balance.Credits - held, nil
}

func (l *GormLedger) SweepExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	var stale []models.ReservationModel
	err := l.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", models.ReservationOpen, cutoff).
		Limit(200).
		Find(&stale).Error
	if err != nil {
		return 0, errkind.Wrap(errkind.Internal, err, "find expired reservations")
	}

	swept := 0
	for _, reservation := range stale {
		if err := l.Refund(ctx, reservation.ID, "expired"); err != nil {
			l.logger.Warn("refund expired reservation failed",
				zap.String("reservation_id", reservation.ID),
				zap.Error(err),
			)
			continue
		}
		l.logger.Info("refunded expired reservation",
			zap.String("reservation_id", reservation.ID),
			zap.String("user_id", reservation.UserID),
			zap.Int64("amount", reservation.Amount),
		)
		swept++
	}
	return swept, nil
}

// balanceRow loads (creating if absent) the balance row for userID.
func (l *GormLedger) balanceRow(tx *gorm.DB, userID string) (*models.UserBalanceModel, error) {
	var balance models.UserBalanceModel
	err := tx.Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		balance = models.UserBalanceModel{UserID: userID}
		if err := tx.Create(&balance).Error; err != nil {
			return nil, errkind.Wrap(errkind.Internal, err, "create balance row")
		}
		return &balance, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "lookup balance")
	}
	return &balance, nil
}

// bumpVersion CASes the balance row's version, failing the transaction
// with errVersionConflict when another writer got there first.
func (l *GormLedger) bumpVersion(tx *gorm.DB, balance *models.UserBalanceModel) error {
	res := tx.Model(&models.UserBalanceModel{}).
		Where("user_id = ? AND version = ?", balance.UserID, balance.Version).
		Update("version", balance.Version+1)
	if res.Error != nil {
		return errkind.Wrap(errkind.Internal, res.Error, "bump balance version")
	}
	if res.RowsAffected == 0 {
		return errVersionConflict
	}
	return nil
}
