package mayasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrStaleJobStatus means a transition was attempted from a status the job
// no longer has (concurrent update or an illegal state-machine move).
var ErrStaleJobStatus = errors.New("job status transition conflict")

// JobStore persists every orchestrated operation's lifecycle. All mutations
// are single-row compare-and-set guarded by the current status, so no
// multi-row transaction is ever needed.
type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, sellerId string, connectionId uint, jobType models.JobType, triggeredBy string, params json.RawMessage) (*models.SyncJob, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("unknown job type %q", jobType)
	}
	job := models.SyncJob{
		ID:           uuid.NewString(),
		SellerId:     sellerId,
		ConnectionId: connectionId,
		Type:         jobType,
		Status:       models.JobStatusQueued,
		TriggeredBy:  triggeredBy,
		ParamsJSON:   params,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, jobId string) (*models.SyncJob, error) {
	var job models.SyncJob
	err := s.db.WithContext(ctx).Where("id = ?", jobId).Take(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// MarkRunning transitions queued|retrying -> running and bumps the attempt
// counter. started_at is written only on the first attempt.
func (s *JobStore) MarkRunning(ctx context.Context, jobId string, firstAttempt bool) error {
	updates := map[string]interface{}{
		"status":   models.JobStatusRunning,
		"attempts": gorm.Expr("attempts + 1"),
	}
	if firstAttempt {
		updates["started_at"] = time.Now()
	}
	return s.transition(ctx, jobId, []models.JobStatus{models.JobStatusQueued, models.JobStatusRetrying}, updates)
}

func (s *JobStore) MarkSuccess(ctx context.Context, jobId string, summary json.RawMessage) error {
	return s.transition(ctx, jobId, []models.JobStatus{models.JobStatusRunning}, map[string]interface{}{
		"status":       models.JobStatusSuccess,
		"summary_json": []byte(summary),
		"error":        "",
		"finished_at":  time.Now(),
	})
}

func (s *JobStore) MarkRetrying(ctx context.Context, jobId string, errMsg string) error {
	return s.transition(ctx, jobId, []models.JobStatus{models.JobStatusRunning}, map[string]interface{}{
		"status": models.JobStatusRetrying,
		"error":  errMsg,
	})
}

func (s *JobStore) MarkFailed(ctx context.Context, jobId string, errMsg string) error {
	return s.transition(ctx, jobId, []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}, map[string]interface{}{
		"status":      models.JobStatusFailed,
		"error":       errMsg,
		"finished_at": time.Now(),
	})
}

// transition performs the guarded single-row update. The WHERE on the
// current status makes concurrent double-transitions lose cleanly; terminal
// states can never be a "from" here, so success/failed rows are immutable.
func (s *JobStore) transition(ctx context.Context, jobId string, from []models.JobStatus, updates map[string]interface{}) error {
	next := updates["status"].(models.JobStatus)
	for _, f := range from {
		if !f.CanTransitionTo(next) {
			return fmt.Errorf("illegal job transition %s -> %s", f, next)
		}
	}
	res := s.db.WithContext(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status IN ?", jobId, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleJobStatus
	}
	return nil
}

// FindActive returns the non-terminal jobs for a connection, optionally
// narrowed to specific operation kinds. Served by the
// (connection_id, status) index.
func (s *JobStore) FindActive(ctx context.Context, connectionId uint, types []models.JobType) ([]models.SyncJob, error) {
	q := s.db.WithContext(ctx).
		Where("connection_id = ? AND status IN ?", connectionId,
			[]models.JobStatus{models.JobStatusQueued, models.JobStatusRunning, models.JobStatusRetrying})
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	var jobs []models.SyncJob
	if err := q.Order("created_at").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// History lists recent jobs for a connection, newest first.
func (s *JobStore) History(ctx context.Context, connectionId uint, limit int) ([]models.SyncJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var jobs []models.SyncJob
	err := s.db.WithContext(ctx).
		Where("connection_id = ?", connectionId).
		Order("created_at desc").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}
