package queue

import (
	"context"
	"errors"
	"time"

	"github.com/tldrify/core/internal/models"
	"github.com/tldrify/core/internal/pkg/errkind"
	"github.com/tldrify/core/internal/pkg/pagination"
	"github.com/tldrify/core/internal/pkg/response"
	"gorm.io/gorm"
)

// GormStore keeps jobs in MySQL. All transitions are single guarded
// UPDATEs, so concurrent writers resolve on RowsAffected.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, job *models.JobModel) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return errkind.Wrap(errkind.Internal, err, "create job")
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, requestID string) (*models.JobModel, error) {
	var job models.JobModel
	err := s.db.WithContext(ctx).Where("request_id = ?", requestID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "lookup job")
	}
	return &job, nil
}

func (s *GormStore) MarkActive(ctx context.Context, requestID, workerID string) (*models.JobModel, bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.JobModel{}).
		Where("request_id = ? AND state = ?", requestID, models.JobQueued).
		Updates(map[string]any{
			"state":      models.JobActive,
			"worker_id":  workerID,
			"started_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return nil, false, errkind.Wrap(errkind.Internal, res.Error, "mark job active")
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	job, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *GormStore) Requeue(ctx context.Context, requestID, lastError string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.JobModel{}).
		Where("request_id = ? AND state = ?", requestID, models.JobActive).
		Updates(map[string]any{
			"state":        models.JobQueued,
			"last_error":   lastError,
			"scheduled_at": at,
			"worker_id":    "",
		})
	if res.Error != nil {
		return errkind.Wrap(errkind.Internal, res.Error, "requeue job")
	}
	return nil
}

func (s *GormStore) Complete(ctx context.Context, requestID string, result *models.SummaryResult) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.JobModel{}).
		Where("request_id = ? AND state = ?", requestID, models.JobActive).
		Updates(map[string]any{
			"state":  models.JobCompleted,
			"result": result,
		})
	if res.Error != nil {
		return false, errkind.Wrap(errkind.Internal, res.Error, "complete job")
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) Fail(ctx context.Context, requestID, lastError string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.JobModel{}).
		Where("request_id = ? AND state = ?", requestID, models.JobActive).
		Updates(map[string]any{
			"state":      models.JobFailed,
			"last_error": lastError,
		})
	if res.Error != nil {
		return false, errkind.Wrap(errkind.Internal, res.Error, "fail job")
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) Cancel(ctx context.Context, requestID string) (models.JobState, bool, error) {
	job, err := s.Get(ctx, requestID)
	if err != nil {
		return "", false, err
	}
	if job == nil {
		return "", false, errkind.Newf(errkind.Validation, "unknown request %s", requestID)
	}
	if job.State.Terminal() {
		return job.State, false, nil
	}

	res := s.db.WithContext(ctx).Model(&models.JobModel{}).
		Where("request_id = ? AND state IN ?", requestID,
			[]models.JobState{models.JobQueued, models.JobActive}).
		Update("state", models.JobCancelled)
	if res.Error != nil {
		return job.State, false, errkind.Wrap(errkind.Internal, res.Error, "cancel job")
	}
	if res.RowsAffected == 0 {
		// Lost the race to a terminal transition.
		current, err := s.Get(ctx, requestID)
		if err != nil || current == nil {
			return job.State, false, err
		}
		return current.State, false, nil
	}
	return job.State, true, nil
}

func (s *GormStore) ListByUser(ctx context.Context, userID string, q pagination.Query) ([]models.JobModel, response.Pagination, error) {
	query := s.db.WithContext(ctx).Model(&models.JobModel{}).
		Where("user_id = ?", userID).
		Order("created_at DESC")

	var jobs []models.JobModel
	page, err := pagination.Paginate(query, q, &jobs)
	if err != nil {
		return nil, response.Pagination{}, errkind.Wrap(errkind.Internal, err, "list jobs")
	}
	return jobs, page, nil
}

func (s *GormStore) StalledActive(ctx context.Context, olderThan time.Duration, limit int) ([]models.JobModel, error) {
	cutoff := time.Now().Add(-olderThan)
	var jobs []models.JobModel
	err := s.db.WithContext(ctx).
		Where("state = ? AND started_at < ?", models.JobActive, cutoff).
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "find stalled jobs")
	}
	return jobs, nil
}
