package queue

import (
	"context"
	"time"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/pkg/pagination"
	"github.com/tldrify/core/internal/pkg/response"
)

// Store persists jobs and guards their state machine. Transitions only
// succeed from the expected prior state, so a worker and a canceller
// racing on the same job cannot both win.
type Store interface {
	// Create persists a new queued job. The request id is unique.
	Create(ctx context.Context, job *models.JobModel) error
	// Get returns the job for requestID, or nil when unknown.
	Get(ctx context.Context, requestID string) (*models.JobModel, error)
	// MarkActive transitions queued → active, stamping worker and attempt.
	// ok is false when the job was not queued (already cancelled or taken).
	MarkActive(ctx context.Context, requestID, workerID string) (job *models.JobModel, ok bool, err error)
	// Requeue transitions active → queued after a retryable failure.
	Requeue(ctx context.Context, requestID, lastError string, at time.Time) error
	// Complete transitions active → completed with the result.
	Complete(ctx context.Context, requestID string, result *models.SummaryResult) (bool, error)
	// Fail transitions active → failed terminally.
	Fail(ctx context.Context, requestID, lastError string) (bool, error)
	// Cancel transitions queued or active → cancelled. prev is the state
	// before the call; changed is false when it was already terminal.
	Cancel(ctx context.Context, requestID string) (prev models.JobState, changed bool, err error)
	// StalledActive lists active jobs whose last start is older than
	// olderThan, for the reaper.
	StalledActive(ctx context.Context, olderThan time.Duration, limit int) ([]models.JobModel, error)
	// ListByUser pages through a user's jobs, newest first.
	ListByUser(ctx context.Context, userID string, q pagination.Query) ([]models.JobModel, response.Pagination, error)
}
