package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/pkg/errkind"
	"github.com/tldrify/core/internal/pkg/pagination"
	"github.com/tldrify/core/internal/pkg/response"
)

// MemoryStore holds jobs in process memory, mirroring GormStore's
// guarded transitions.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.JobModel
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.JobModel), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, job *models.JobModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.RequestID]; exists {
		return errkind.Newf(errkind.Internal, "duplicate job %s", job.RequestID)
	}
	clone := *job
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = s.now()
	}
	s.jobs[job.RequestID] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, requestID string) (*models.JobModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[requestID]
	if !ok {
		return nil, nil
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryStore) MarkActive(_ context.Context, requestID, workerID string) (*models.JobModel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[requestID]
	if !ok || job.State != models.JobQueued {
		return nil, false, nil
	}
	now := s.now()
	job.State = models.JobActive
	job.WorkerID = workerID
	job.StartedAt = &now
	job.Attempts++
	clone := *job
	return &clone, true, nil
}

func (s *MemoryStore) Requeue(_ context.Context, requestID, lastError string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[requestID]
	if !ok || job.State != models.JobActive {
		return nil
	}
	job.State = models.JobQueued
	job.LastError = lastError
	job.ScheduledAt = at
	job.WorkerID = ""
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, requestID string, result *models.SummaryResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[requestID]
	if !ok || job.State != models.JobActive {
		return false, nil
	}
	job.State = models.JobCompleted
	job.Result = result
	return true, nil
}

func (s *MemoryStore) Fail(_ context.Context, requestID, lastError string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[requestID]
	if !ok || job.State != models.JobActive {
		return false, nil
	}
	job.State = models.JobFailed
	job.LastError = lastError
	return true, nil
}

func (s *MemoryStore) Cancel(_ context.Context, requestID string) (models.JobState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[requestID]
	if !ok {
		return "", false, errkind.Newf(errkind.Validation, "unknown request %s", requestID)
	}
	if job.State.Terminal() {
		return job.State, false, nil
	}
	prev := job.State
	job.State = models.JobCancelled
	return prev, true, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string, q pagination.Query) ([]models.JobModel, response.Pagination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []models.JobModel
	for _, job := range s.jobs {
		if job.UserID == userID {
			all = append(all, *job)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	totalPage := int((total + int64(q.Size) - 1) / int64(q.Size))
	offset := (q.Page - 1) * q.Size
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + q.Size
	if end > len(all) {
		end = len(all)
	}

	return all[offset:end], response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	}, nil
}

func (s *MemoryStore) StalledActive(_ context.Context, olderThan time.Duration, limit int) ([]models.JobModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	var out []models.JobModel
	for _, job := range s.jobs {
		if job.State != models.JobActive || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}
		out = append(out, *job)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
