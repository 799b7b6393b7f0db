package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tldrify/core/internal/config"
	"github.com/tldrify/core/internal/pkg/errkind"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// slot bundles one provider with its concurrency bound, rate limiter and
// circuit breaker.
type slot struct {
	client  Client
	sem     *semaphore.Weighted
	bucket  *TokenBucket
	breaker *Breaker
	timeout time.Duration
}

// Pool routes calls to configured providers. Provider selection is pool
// configuration: the first enabled provider is the default, independent of
// the requested summarization method.
type Pool struct {
	slots  []*slot
	byID   map[string]*slot
	sink   UsageSink
	logger *zap.Logger
}

// NewPool builds clients for every enabled provider in cfg.
func NewPool(cfgs []config.ProviderConfig, sink UsageSink, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{byID: make(map[string]*slot), sink: sink, logger: logger.Named("ProviderPool")}

	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		client, err := newClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.ID, err)
		}
		p.AddClient(client, cfg.Concurrency, cfg.RateCapacity, cfg.RateRefillPerSec,
			time.Duration(cfg.CallTimeoutSeconds)*time.Second)
	}
	return p, nil
}

// AddClient registers an already-constructed client. Exposed for tests and
// for deployments that wire a mock provider.
func (p *Pool) AddClient(client Client, concurrency int, capacity, refillPerSec float64, timeout time.Duration) {
	if concurrency <= 0 {
		concurrency = 8
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &slot{
		client:  client,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		bucket:  NewTokenBucket(capacity, refillPerSec),
		breaker: NewBreaker(),
		timeout: timeout,
	}
	p.slots = append(p.slots, s)
	p.byID[client.Name()] = s
}

// HasProviders reports whether any provider is configured.
func (p *Pool) HasProviders() bool { return len(p.slots) > 0 }

// Summarize calls the default provider.
func (p *Pool) Summarize(ctx context.Context, prompt Prompt) (*Reply, error) {
	return p.SummarizeWith(ctx, "", prompt)
}

// SummarizeWith calls a specific provider by id ("" = default). Breaker
// checks run before any resource acquisition so an open circuit fails in
// O(ms) without touching the provider.
func (p *Pool) SummarizeWith(ctx context.Context, providerID string, prompt Prompt) (*Reply, error) {
	s, err := p.pick(providerID)
	if err != nil {
		return nil, err
	}

	if !s.breaker.Allow() {
		return nil, errkind.Newf(errkind.CircuitOpen, "provider %s circuit is open", s.client.Name())
	}

	// A caller giving up while queued says nothing about provider health,
	// so these paths release the breaker admission without recording.
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.breaker.abort()
		return nil, errkind.Wrap(errkind.Cancelled, err, "cancelled while waiting for provider slot")
	}
	defer s.sem.Release(1)

	if wait := s.bucket.Reserve(); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			s.breaker.abort()
			return nil, errkind.Wrap(errkind.Cancelled, ctx.Err(), "cancelled while rate limited")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.client.Summarize(callCtx, prompt)
	if err != nil {
		s.breaker.Record(false)
		return nil, p.classify(s, err)
	}
	s.breaker.Record(true)

	if p.sink != nil {
		p.sink.Record(ctx, UsageRecord{
			Provider:     s.client.Name(),
			Model:        s.client.Model(),
			InputTokens:  reply.InputTokens,
			OutputTokens: reply.OutputTokens,
			RequestID:    prompt.RequestID,
		})
	}
	return reply, nil
}

func (p *Pool) pick(providerID string) (*slot, error) {
	if providerID != "" {
		if s, ok := p.byID[providerID]; ok {
			return s, nil
		}
		return nil, errkind.Newf(errkind.ProviderError, "unknown provider %q", providerID)
	}
	if len(p.slots) == 0 {
		return nil, errkind.New(errkind.ProviderError, "no enabled provider")
	}
	return p.slots[0], nil
}

// classify converts client errors into the typed pipeline error surface.
func (p *Pool) classify(s *slot, err error) error {
	var ce *CallError
	if errors.As(err, &ce) {
		p.logger.Warn("provider call failed",
			zap.String("provider", s.client.Name()),
			zap.String("kind", string(ce.Kind)),
			zap.Error(err),
		)
		return errkind.Wrap(errkind.ProviderError, err, ce.Message).WithRetryable(ce.Retryable())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.Wrap(errkind.ProviderError, err, "provider call timed out").WithRetryable(true)
	}
	if errors.Is(err, context.Canceled) {
		return errkind.Wrap(errkind.Cancelled, err, "provider call cancelled")
	}
	p.logger.Warn("provider call failed", zap.String("provider", s.client.Name()), zap.Error(err))
	return errkind.Wrap(errkind.ProviderError, err, "provider call failed").WithRetryable(true)
}
