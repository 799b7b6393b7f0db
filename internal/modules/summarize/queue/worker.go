package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/modules/summarize/fingerprint"
	"github.com/tldrify/core/internal/modules/summarize/ledger"
	"github.com/tldrify/core/internal/modules/summarize/strategy"
	"github.com/tldrify/core/internal/pkg/errkind"
	"go.uber.org/zap"
)

const idlePoll = 100 * time.Millisecond

// Completion reports a job reaching a terminal state.
type Completion struct {
	RequestID string
	Job       *models.JobModel
	Result    *models.SummaryResult
	Err       error
}

// WorkersConfig sizes the pool and its timeouts.
type WorkersConfig struct {
	Count       int
	JobTimeout  time.Duration
	CacheTTL    time.Duration
	MaxAttempts int
}

type activeJob struct {
	cancel        context.CancelFunc
	userCancelled atomic.Bool
}

// Workers drains the broker: each worker claims a job, runs its
// strategy, then settles the reservation (commit on success, refund on
// terminal failure, untouched across retries).
type Workers struct {
	broker   Broker
	store    Store
	registry *strategy.Registry
	ledger   ledger.Ledger
	cache    fingerprint.Cache
	logger   *zap.Logger
	cfg      WorkersConfig
	notify   func(Completion)

	active sync.Map // requestID → *activeJob
	wg     sync.WaitGroup
}

func NewWorkers(broker Broker, store Store, registry *strategy.Registry, lg ledger.Ledger, cache fingerprint.Cache, cfg WorkersConfig, notify func(Completion), logger *zap.Logger) *Workers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Count < 1 {
		cfg.Count = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if notify == nil {
		notify = func(Completion) {}
	}
	return &Workers{
		broker:   broker,
		store:    store,
		registry: registry,
		ledger:   lg,
		cache:    cache,
		logger:   logger.Named("Workers"),
		cfg:      cfg,
		notify:   notify,
	}
}

// Start launches the pool. Workers exit when ctx is done.
func (w *Workers) Start(ctx context.Context) {
	for i := 0; i < w.cfg.Count; i++ {
		w.wg.Add(1)
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		go w.loop(ctx, workerID)
	}
	w.logger.Info("worker pool started", zap.Int("workers", w.cfg.Count))
}

// Wait blocks until all workers have exited.
func (w *Workers) Wait() { w.wg.Wait() }

// CancelActive interrupts a job this process is running. Returns false
// when the job is not active here.
func (w *Workers) CancelActive(requestID string) bool {
	v, ok := w.active.Load(requestID)
	if !ok {
		return false
	}
	aj := v.(*activeJob)
	aj.userCancelled.Store(true)
	aj.cancel()
	return true
}

func (w *Workers) loop(ctx context.Context, workerID string) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ok, err := w.RunOnce(ctx, workerID)
		if err != nil {
			w.logger.Warn("dequeue failed", zap.Error(err))
			ok = false
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePoll):
			}
		}
	}
}

// RunOnce claims and processes a single ready job. ok is false when the
// queue was empty.
func (w *Workers) RunOnce(ctx context.Context, workerID string) (bool, error) {
	requestID, ok, err := w.broker.Dequeue(ctx)
	if err != nil || !ok {
		return false, err
	}
	w.process(ctx, requestID, workerID)
	return true, nil
}

func (w *Workers) process(ctx context.Context, requestID, workerID string) {
	job, ok, err := w.store.MarkActive(ctx, requestID, workerID)
	if err != nil {
		w.logger.Error("claim job failed", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	if !ok {
		// Cancelled or claimed elsewhere between pop and claim.
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	aj := &activeJob{cancel: cancel}
	w.active.Store(requestID, aj)
	defer func() {
		w.active.Delete(requestID)
		cancel()
	}()

	w.logger.Info("job started",
		zap.String("request_id", requestID),
		zap.String("worker_id", workerID),
		zap.String("method", string(job.Request.Method)),
		zap.Int("attempt", job.Attempts),
	)

	runCtx = strategy.WithRequestID(runCtx, requestID)
	result, err := w.registry.Run(runCtx, job.Request.Method, job.Request.Payload, job.Request.Options)
	if err != nil {
		w.settleFailure(ctx, job, aj, err)
		return
	}
	w.settleSuccess(ctx, job, result)
}

func (w *Workers) settleSuccess(ctx context.Context, job *models.JobModel, result *models.SummaryResult) {
	completed, err := w.store.Complete(ctx, job.RequestID, result)
	if err != nil {
		w.logger.Error("persist result failed", zap.String("request_id", job.RequestID), zap.Error(err))
		return
	}
	if !completed {
		// Cancelled while we were finishing; the work is discarded and
		// the hold released.
		w.refund(ctx, job, "cancelled")
		w.notify(Completion{RequestID: job.RequestID, Job: job,
			Err: errkind.New(errkind.Cancelled, "job cancelled")})
		return
	}

	if err := w.ledger.Commit(ctx, job.ReservationID); err != nil {
		w.logger.Error("commit reservation failed",
			zap.String("request_id", job.RequestID),
			zap.String("reservation_id", job.ReservationID),
			zap.Error(err),
		)
	}

	if w.cache != nil {
		hash := fingerprint.Fingerprint(&job.Request)
		if err := w.cache.Store(ctx, hash, *result, w.cfg.CacheTTL); err != nil {
			w.logger.Warn("cache store failed", zap.String("request_id", job.RequestID), zap.Error(err))
		}
	}

	w.logger.Info("job completed",
		zap.String("request_id", job.RequestID),
		zap.Int64("processing_ms", result.ProcessingMS),
		zap.Int("tokens_used", result.TokensUsed),
	)
	w.notify(Completion{RequestID: job.RequestID, Job: job, Result: result})
}

func (w *Workers) settleFailure(ctx context.Context, job *models.JobModel, aj *activeJob, runErr error) {
	// A user cancel looks like context.Canceled from inside the strategy.
	if aj.userCancelled.Load() || errkind.KindOf(runErr) == errkind.Cancelled {
		if _, _, err := w.store.Cancel(ctx, job.RequestID); err != nil {
			w.logger.Error("cancel job failed", zap.String("request_id", job.RequestID), zap.Error(err))
		}
		w.refund(ctx, job, "cancelled")
		w.notify(Completion{RequestID: job.RequestID, Job: job,
			Err: errkind.New(errkind.Cancelled, "job cancelled")})
		return
	}

	retryable := errkind.IsRetryable(runErr) || errkind.KindOf(runErr) == errkind.Timeout
	if retryable && job.Attempts < job.MaxAttempts {
		delay := retryBackoff(job.Attempts)
		w.logger.Warn("job attempt failed, retrying",
			zap.String("request_id", job.RequestID),
			zap.Int("attempt", job.Attempts),
			zap.Duration("backoff", delay),
			zap.Error(runErr),
		)
		if err := w.store.Requeue(ctx, job.RequestID, runErr.Error(), time.Now().Add(delay)); err != nil {
			w.logger.Error("requeue failed", zap.String("request_id", job.RequestID), zap.Error(err))
			return
		}
		if err := w.broker.Enqueue(ctx, job.RequestID, job.Priority, delay); err != nil {
			// The reaper will pick the job back up if re-enqueue drops it.
			w.logger.Error("re-enqueue failed", zap.String("request_id", job.RequestID), zap.Error(err))
		}
		return
	}

	w.logger.Warn("job failed terminally",
		zap.String("request_id", job.RequestID),
		zap.Int("attempts", job.Attempts),
		zap.Error(runErr),
	)
	if _, err := w.store.Fail(ctx, job.RequestID, runErr.Error()); err != nil {
		w.logger.Error("fail job failed", zap.String("request_id", job.RequestID), zap.Error(err))
	}
	w.refund(ctx, job, runErr.Error())
	w.notify(Completion{RequestID: job.RequestID, Job: job, Err: runErr})
}

func (w *Workers) refund(ctx context.Context, job *models.JobModel, reason string) {
	if job.ReservationID == "" {
		return
	}
	if err := w.ledger.Refund(ctx, job.ReservationID, reason); err != nil {
		w.logger.Error("refund reservation failed",
			zap.String("request_id", job.RequestID),
			zap.String("reservation_id", job.ReservationID),
			zap.Error(err),
		)
	}
}

// retryBackoff doubles per attempt starting at 2s, capped at 30s.
func retryBackoff(attempt int) time.Duration {
	delay := 2 * time.Second
	for i := 1; i < attempt && delay < 30*time.Second; i++ {
		delay *= 2
	}
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}
