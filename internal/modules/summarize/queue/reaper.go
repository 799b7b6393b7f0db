package queue

import (
	"context"
	"time"

	"github.com/tldrify/core/internal/modules/summarize/ledger"
	"github.com/tldrify/core/internal/pkg/errkind"
	"go.uber.org/zap"
)

// Reaper recovers jobs stuck in active after a worker crash: retryable
// ones go back to the queue, exhausted ones fail and refund.
type Reaper struct {
	store      Store
	broker     Broker
	ledger     ledger.Ledger
	logger     *zap.Logger
	jobTimeout time.Duration
	notify     func(Completion)
}

func NewReaper(store Store, broker Broker, lg ledger.Ledger, jobTimeout time.Duration, notify func(Completion), logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notify == nil {
		notify = func(Completion) {}
	}
	return &Reaper{
		store:      store,
		broker:     broker,
		ledger:     lg,
		logger:     logger.Named("Reaper"),
		jobTimeout: jobTimeout,
		notify:     notify,
	}
}

// Run reaps one batch. A job is stalled once active longer than the run
// timeout: live workers give up at that same deadline, so anything past
// it belongs to a dead worker.
func (r *Reaper) Run(ctx context.Context) (int, error) {
	stalled, err := r.store.StalledActive(ctx, r.jobTimeout, 50)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for i := range stalled {
		job := &stalled[i]
		if job.Attempts < job.MaxAttempts {
			r.logger.Warn("requeueing stalled job",
				zap.String("request_id", job.RequestID),
				zap.String("worker_id", job.WorkerID),
				zap.Int("attempt", job.Attempts),
			)
			if err := r.store.Requeue(ctx, job.RequestID, "worker stalled", time.Now()); err != nil {
				r.logger.Error("requeue stalled job failed", zap.String("request_id", job.RequestID), zap.Error(err))
				continue
			}
			if err := r.broker.Enqueue(ctx, job.RequestID, job.Priority, 0); err != nil {
				r.logger.Error("re-enqueue stalled job failed", zap.String("request_id", job.RequestID), zap.Error(err))
			}
			reaped++
			continue
		}

		r.logger.Warn("failing stalled job, attempts exhausted",
			zap.String("request_id", job.RequestID),
			zap.Int("attempts", job.Attempts),
		)
		failed, err := r.store.Fail(ctx, job.RequestID, "worker stalled, attempts exhausted")
		if err != nil {
			r.logger.Error("fail stalled job failed", zap.String("request_id", job.RequestID), zap.Error(err))
			continue
		}
		if failed && job.ReservationID != "" {
			if err := r.ledger.Refund(ctx, job.ReservationID, "worker stalled"); err != nil {
				r.logger.Error("refund stalled job failed", zap.String("request_id", job.RequestID), zap.Error(err))
			}
		}
		if failed {
			r.notify(Completion{RequestID: job.RequestID, Job: job,
				Err: errkind.New(errkind.Timeout, "job stalled, attempts exhausted")})
		}
		reaped++
	}
	return reaped, nil
}
