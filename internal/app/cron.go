package app

import (
	"context"
	"time"

	"github.com/tldrify/core/internal/config"
	"github.com/tldrify/core/internal/modules/summarize/ledger"
	"github.com/tldrify/core/internal/modules/summarize/pipeline"
	"github.com/tldrify/core/internal/modules/summarize/queue"
	pkgcron "github.com/tldrify/core/internal/pkg/cron"
	"go.uber.org/zap"
)

// registerCronJobs wires the pipeline's background maintenance: refund
// leaked reservations, replay stalled jobs, promote delayed retries.
func registerCronJobs(sched *pkgcron.Scheduler, cfg *config.AppConfig, creditLedger ledger.Ledger, broker queue.Broker, coordinator *pipeline.Coordinator, logger *zap.Logger) {
	reservationTTL := time.Duration(cfg.Summarize.ReservationTTL) * time.Second

	sched.Register(pkgcron.Job{
		Name:     "reservation-sweeper",
		Interval: time.Minute,
		Fn: func(ctx context.Context) error {
			swept, err := creditLedger.SweepExpired(ctx, reservationTTL)
			if swept > 0 {
				logger.Info("swept expired reservations", zap.Int("count", swept))
			}
			return err
		},
	})

	// The coordinator owns the reaper so reaped jobs settle through the
	// same completion path as worker-settled ones.
	sched.Register(pkgcron.Job{
		Name:     "stall-reaper",
		Interval: 30 * time.Second,
		Fn: func(ctx context.Context) error {
			_, err := coordinator.Reaper().Run(ctx)
			return err
		},
	})

	sched.Register(pkgcron.Job{
		Name:     "delayed-promoter",
		Interval: time.Second,
		Fn: func(ctx context.Context) error {
			_, err := broker.Promote(ctx)
			return err
		},
	})
}
