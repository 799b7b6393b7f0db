package cron

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job defines a recurring background task.
type Job struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
}

type jobState struct {
	Job
	mu      sync.Mutex
	running bool
}

// Scheduler runs a collection of named interval jobs.
type Scheduler struct {
	mu     sync.RWMutex
	jobs   map[string]*jobState
	logger *zap.Logger
}

// New creates an empty Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:   make(map[string]*jobState),
		logger: logger.Named("Cron"),
	}
}

// Register adds a job to the scheduler. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &jobState{Job: job}
}

// Start launches all registered jobs in background goroutines. Each job
// first fires after its interval, then repeats until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, js := range s.jobs {
		go s.runLoop(ctx, js)
	}
}

func (s *Scheduler) runLoop(ctx context.Context, js *jobState) {
	ticker := time.NewTicker(js.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, js)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, js *jobState) {
	js.mu.Lock()
	if js.running {
		js.mu.Unlock()
		return
	}
	js.running = true
	js.mu.Unlock()

	if err := js.Fn(ctx); err != nil {
		s.logger.Warn("job failed", zap.String("job", js.Name), zap.Error(err))
	}

	js.mu.Lock()
	js.running = false
	js.mu.Unlock()
}

// RunNow triggers a job once, synchronously. Used by tests and startup
// replay paths that cannot wait for the first tick.
func (s *Scheduler) RunNow(ctx context.Context, name string) {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if ok {
		s.execute(ctx, js)
	}
}
