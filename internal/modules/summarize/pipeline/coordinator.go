// Package pipeline coordinates a summarization request end to end:
// validation, fingerprint cache, single-flight, credit reservation, and
// sync-or-async dispatch.
package pipeline

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/tldrify/core/internal/config"
	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/modules/summarize/fingerprint"
	"github.com/tldrify/core/internal/modules/summarize/ledger"
	"github.com/tldrify/core/internal/modules/summarize/queue"
	"github.com/tldrify/core/internal/modules/summarize/strategy"
	"github.com/tldrify/core/internal/pkg/errkind"
	"github.com/tldrify/core/internal/pkg/pagination"
	"github.com/tldrify/core/internal/pkg/response"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Coordinator owns the request lifecycle. One instance serves all HTTP
// handlers and the worker pool.
type Coordinator struct {
	cfg      config.SummarizeConfig
	registry *strategy.Registry
	ledger   ledger.Ledger
	cache    fingerprint.Cache
	flights  *fingerprint.Flights
	broker   queue.Broker
	store    queue.Store
	workers  *queue.Workers
	reaper   *queue.Reaper
	bus      *Bus
	logger   *zap.Logger

	syncSlots *semaphore.Weighted
}

func NewCoordinator(cfg config.SummarizeConfig, registry *strategy.Registry, lg ledger.Ledger, cache fingerprint.Cache, broker queue.Broker, store queue.Store, bus *Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = NewBus()
	}
	slots := cfg.SyncSlots
	if slots < 1 {
		slots = 4
	}

	c := &Coordinator{
		cfg:       cfg,
		registry:  registry,
		ledger:    lg,
		cache:     cache,
		flights:   fingerprint.NewFlights(),
		broker:    broker,
		store:     store,
		bus:       bus,
		logger:    logger.Named("Pipeline"),
		syncSlots: semaphore.NewWeighted(int64(slots)),
	}
	c.workers = queue.NewWorkers(broker, store, registry, lg, cache,
		queue.WorkersConfig{
			Count:       cfg.Workers,
			JobTimeout:  time.Duration(cfg.JobTimeoutSeconds) * time.Second,
			CacheTTL:    time.Duration(cfg.CacheTTLSeconds) * time.Second,
			MaxAttempts: cfg.MaxAttempts,
		},
		c.onCompletion, logger)
	c.reaper = queue.NewReaper(store, broker, lg,
		time.Duration(cfg.JobTimeoutSeconds)*time.Second, c.onCompletion, logger)
	return c
}

// Workers exposes the pool so the app can start and drain it.
func (c *Coordinator) Workers() *queue.Workers { return c.workers }

// Reaper exposes the stall reaper for the cron scheduler. It settles
// through the same completion path as the workers, so a reaped job also
// resolves its in-flight fingerprint and reaches the event bus.
func (c *Coordinator) Reaper() *queue.Reaper { return c.reaper }

// Bus exposes the event bus for subscriber wiring.
func (c *Coordinator) Bus() *Bus { return c.bus }

// Submit runs the full request lifecycle and returns either a finished
// result or a job reference.
func (c *Coordinator) Submit(ctx context.Context, submit *SubmitRequest) (*Response, error) {
	req, err := submit.Normalize()
	if err != nil {
		return nil, err
	}

	// A repeated request id returns the recorded outcome, never a second
	// charge.
	if resp, found, err := c.resubmit(ctx, req.RequestID); err != nil || found {
		return resp, err
	}

	hash := fingerprint.Fingerprint(req)
	c.publish(EventSubmitted, req, 0, nil)

	if resp := c.probeCache(ctx, req, hash); resp != nil {
		return resp, nil
	}

	// Single-flight: one leader executes per fingerprint, followers ride
	// its reservation and share its outcome.
	for !c.flights.Join(hash) {
		outcome, err := c.flights.Wait(ctx, hash)
		if err == fingerprint.ErrNoFlight {
			if resp := c.probeCache(ctx, req, hash); resp != nil {
				return resp, nil
			}
			continue
		}
		if err != nil {
			return nil, errkind.Wrap(errkind.Cancelled, err, "gave up waiting for in-flight result")
		}
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return &Response{RequestID: req.RequestID, Result: outcome.Result}, nil
	}

	return c.lead(ctx, req, hash)
}

// lead is the leader's path: reserve, then run inline or enqueue. Every
// exit resolves the flight, directly or through job completion.
func (c *Coordinator) lead(ctx context.Context, req *models.SummarizeRequest, hash string) (*Response, error) {
	cost := ledger.Cost(c.cfg.Costs, req.Method, utf8.RuneCountInString(req.Payload))
	reservationID, err := c.ledger.Reserve(ctx, req.UserID, cost, req.RequestID)
	if err != nil {
		c.flights.Resolve(hash, nil, err)
		c.publish(EventFailed, req, 0, err)
		return nil, err
	}
	c.publish(EventReserved, req, cost, nil)

	if c.runsInline(req) {
		return c.runInline(ctx, req, hash, reservationID, cost)
	}
	return c.enqueue(ctx, req, hash, reservationID, cost)
}

// runsInline decides sync vs async. Deterministic methods always run
// inline; provider-backed ones only when the caller asked, the payload
// is small, and a sync slot is free.
func (c *Coordinator) runsInline(req *models.SummarizeRequest) bool {
	if strategy.Synchronous(req.Method) {
		return true
	}
	if !req.Options.SyncPreferred || len(req.Payload) >= c.cfg.SyncThresholdBytes {
		return false
	}
	if !c.syncSlots.TryAcquire(1) {
		return false
	}
	c.syncSlots.Release(1)
	return true
}

func (c *Coordinator) runInline(ctx context.Context, req *models.SummarizeRequest, hash, reservationID string, cost int64) (*Response, error) {
	if !strategy.Synchronous(req.Method) {
		// Re-acquire for the duration of the provider call; fall back to
		// the queue when the slot vanished since the check.
		if !c.syncSlots.TryAcquire(1) {
			return c.enqueue(ctx, req, hash, reservationID, cost)
		}
		defer c.syncSlots.Release(1)
	}

	result, err := c.runStrategy(ctx, req)
	if err != nil {
		if refundErr := c.ledger.Refund(ctx, reservationID, err.Error()); refundErr != nil {
			c.logger.Error("inline refund failed",
				zap.String("request_id", req.RequestID), zap.Error(refundErr))
		}
		c.flights.Resolve(hash, nil, err)
		c.publish(EventFailed, req, cost, err)
		return nil, err
	}

	if err := c.ledger.Commit(ctx, reservationID); err != nil {
		c.logger.Error("inline commit failed",
			zap.String("request_id", req.RequestID), zap.Error(err))
	}
	ttl := time.Duration(c.cfg.CacheTTLSeconds) * time.Second
	if err := c.cache.Store(ctx, hash, *result, ttl); err != nil {
		c.logger.Warn("cache store failed", zap.String("request_id", req.RequestID), zap.Error(err))
	}
	c.flights.Resolve(hash, result, nil)
	c.publish(EventCompleted, req, cost, nil)
	return &Response{RequestID: req.RequestID, Result: result}, nil
}

// Inline provider failures get a short retry ladder before surfacing;
// there is never a silent fallback to another method.
var inlineRetryDelays = []time.Duration{250 * time.Millisecond, time.Second}

func (c *Coordinator) runStrategy(ctx context.Context, req *models.SummarizeRequest) (*models.SummaryResult, error) {
	runCtx := strategy.WithRequestID(ctx, req.RequestID)
	result, err := c.registry.Run(runCtx, req.Method, req.Payload, req.Options)
	if err == nil || strategy.Synchronous(req.Method) {
		return result, err
	}

	for _, delay := range inlineRetryDelays {
		if !errkind.IsRetryable(err) {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errkind.Wrap(errkind.Cancelled, ctx.Err(), "cancelled while retrying provider")
		}
		c.logger.Info("retrying inline provider call",
			zap.String("request_id", req.RequestID), zap.Duration("delay", delay))
		result, err = c.registry.Run(runCtx, req.Method, req.Payload, req.Options)
		if err == nil {
			return result, nil
		}
	}
	return nil, err
}

func (c *Coordinator) enqueue(ctx context.Context, req *models.SummarizeRequest, hash, reservationID string, cost int64) (*Response, error) {
	job := &models.JobModel{
		RequestID:       req.RequestID,
		UserID:          req.UserID,
		Request:         *req,
		State:           models.JobQueued,
		Priority:        req.Priority,
		ReservationID:   reservationID,
		ReservedCredits: cost,
		MaxAttempts:     c.cfg.MaxAttempts,
		ScheduledAt:     time.Now(),
	}
	if err := c.store.Create(ctx, job); err != nil {
		c.abortEnqueue(ctx, req, hash, reservationID, cost, err)
		return nil, err
	}

	if err := c.broker.Enqueue(ctx, req.RequestID, req.Priority, 0); err != nil {
		if _, _, cancelErr := c.store.Cancel(ctx, req.RequestID); cancelErr != nil {
			c.logger.Error("cancel unenqueued job failed",
				zap.String("request_id", req.RequestID), zap.Error(cancelErr))
		}
		c.abortEnqueue(ctx, req, hash, reservationID, cost, err)
		return nil, err
	}

	depth, err := c.broker.Len(ctx)
	if err != nil {
		depth = 1
	}
	estimated := int(depth) * c.cfg.EstimatedJobSeconds

	c.logger.Info("job enqueued",
		zap.String("request_id", req.RequestID),
		zap.String("method", string(req.Method)),
		zap.Int("priority", req.Priority),
		zap.Int64("queue_depth", depth),
	)
	return &Response{
		RequestID:        req.RequestID,
		JobID:            req.RequestID,
		State:            models.JobQueued,
		EstimatedSeconds: estimated,
	}, nil
}

func (c *Coordinator) abortEnqueue(ctx context.Context, req *models.SummarizeRequest, hash, reservationID string, cost int64, cause error) {
	if err := c.ledger.Refund(ctx, reservationID, cause.Error()); err != nil {
		c.logger.Error("refund after enqueue failure failed",
			zap.String("request_id", req.RequestID), zap.Error(err))
	}
	c.flights.Resolve(hash, nil, cause)
	c.publish(EventFailed, req, cost, cause)
}

// probeCache returns a response for a fresh cache hit, or nil on miss.
func (c *Coordinator) probeCache(ctx context.Context, req *models.SummarizeRequest, hash string) *Response {
	entry, err := c.cache.Lookup(ctx, hash)
	if err != nil {
		c.logger.Warn("cache lookup failed", zap.String("request_id", req.RequestID), zap.Error(err))
		return nil
	}
	if entry == nil {
		return nil
	}
	result := entry.Result
	result.Cached = true
	c.publish(EventCached, req, 0, nil)
	return &Response{RequestID: req.RequestID, Result: &result}
}

// resubmit serves the recorded outcome for a known request id.
func (c *Coordinator) resubmit(ctx context.Context, requestID string) (*Response, bool, error) {
	job, err := c.store.Get(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, nil
	}
	if job.State == models.JobCompleted {
		return &Response{RequestID: requestID, Result: job.Result}, true, nil
	}
	return &Response{
		RequestID: requestID,
		JobID:     requestID,
		State:     job.State,
	}, true, nil
}

// Status reports the lifecycle of an async request.
func (c *Coordinator) Status(ctx context.Context, requestID string) (*StatusResponse, error) {
	job, err := c.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errkind.Newf(errkind.Validation, "unknown request %s", requestID).
			WithDetail("request_id", requestID)
	}
	return &StatusResponse{
		RequestID: requestID,
		State:     job.State,
		Attempts:  job.Attempts,
		LastError: job.LastError,
		Result:    job.Result,
	}, nil
}

// Cancel stops a queued or active job and refunds its hold. Cancelling
// a terminal job is a no-op reporting the final state.
func (c *Coordinator) Cancel(ctx context.Context, requestID string) (*StatusResponse, error) {
	job, err := c.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errkind.Newf(errkind.Validation, "unknown request %s", requestID)
	}

	prev, changed, err := c.store.Cancel(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := c.broker.MarkCancelled(ctx, requestID); err != nil {
			c.logger.Warn("mark cancelled failed", zap.String("request_id", requestID), zap.Error(err))
		}
		if prev == models.JobActive {
			c.workers.CancelActive(requestID)
		}
		// Refund is idempotent, so racing the worker's own settlement is
		// harmless.
		if job.ReservationID != "" {
			if err := c.ledger.Refund(ctx, job.ReservationID, "cancelled"); err != nil {
				c.logger.Error("cancel refund failed", zap.String("request_id", requestID), zap.Error(err))
			}
		}
		cancelErr := errkind.New(errkind.Cancelled, "cancelled by caller")
		c.flights.Resolve(fingerprint.Fingerprint(&job.Request), nil, cancelErr)
		c.publish(EventCancelled, &job.Request, job.ReservedCredits, nil)
	}

	current, err := c.store.Get(ctx, requestID)
	if err != nil || current == nil {
		return nil, err
	}
	return &StatusResponse{
		RequestID: requestID,
		State:     current.State,
		Attempts:  current.Attempts,
		LastError: current.LastError,
		Result:    current.Result,
	}, nil
}

// Jobs pages through a user's job history, newest first.
func (c *Coordinator) Jobs(ctx context.Context, userID string, q pagination.Query) ([]JobListItem, response.Pagination, error) {
	jobs, page, err := c.store.ListByUser(ctx, userID, q)
	if err != nil {
		return nil, response.Pagination{}, err
	}
	items := make([]JobListItem, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, JobListItem{
			RequestID: job.RequestID,
			Method:    job.Request.Method,
			State:     job.State,
			Priority:  job.Priority,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			CreatedAt: job.CreatedAt,
		})
	}
	return items, page, nil
}

// Balance reports a user's credit position.
func (c *Coordinator) Balance(ctx context.Context, userID string) (*BalanceResponse, error) {
	credits, available, err := c.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{UserID: userID, Credits: credits, Available: available}, nil
}

// onCompletion bridges worker settlements back into the flight table and
// the event bus.
func (c *Coordinator) onCompletion(done queue.Completion) {
	if done.Job != nil {
		hash := fingerprint.Fingerprint(&done.Job.Request)
		c.flights.Resolve(hash, done.Result, done.Err)
	}
	req := &models.SummarizeRequest{RequestID: done.RequestID}
	var credits int64
	if done.Job != nil {
		req = &done.Job.Request
		credits = done.Job.ReservedCredits
	}
	switch {
	case done.Err == nil:
		c.publish(EventCompleted, req, credits, nil)
	case errkind.KindOf(done.Err) == errkind.Cancelled:
		c.publish(EventCancelled, req, credits, nil)
	default:
		c.publish(EventFailed, req, credits, done.Err)
	}
}

func (c *Coordinator) publish(t EventType, req *models.SummarizeRequest, credits int64, err error) {
	evt := Event{
		Type:      t,
		RequestID: req.RequestID,
		UserID:    req.UserID,
		Method:    string(req.Method),
		Credits:   credits,
	}
	if err != nil {
		evt.Error = err.Error()
	}
	c.bus.Publish(evt)
}
