package mayasync

import (
	"context"
	"encoding/json"
	"errors"

	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// EnsureResult tells the caller whether this was the first time the intent
// was seen.
type EnsureResult struct {
	Created bool
	Record  *models.CommandRecord
}

// IdempotencyGuard collapses duplicate write intents onto one record. It is
// insert-first: the unique index on (seller_id, connection_id,
// idempotency_key) arbitrates concurrent callers, never a read-then-write.
type IdempotencyGuard struct {
	db *gorm.DB
}

func NewIdempotencyGuard(db *gorm.DB) *IdempotencyGuard {
	return &IdempotencyGuard{db: db}
}

// Ensure inserts a new command record, or on a uniqueness conflict fetches
// and returns the existing one. Late duplicates observe the first intent's
// request snapshot unchanged.
func (g *IdempotencyGuard) Ensure(ctx context.Context, sellerId string, connectionId uint, idempotencyKey string, jobType models.JobType, request json.RawMessage) (EnsureResult, error) {
	rec := models.CommandRecord{
		ID:             uuid.NewString(),
		SellerId:       sellerId,
		ConnectionId:   connectionId,
		IdempotencyKey: idempotencyKey,
		Type:           jobType,
		Status:         models.CommandStatusQueued,
		RequestJSON:    request,
	}
	err := g.db.WithContext(ctx).Create(&rec).Error
	if err == nil {
		return EnsureResult{Created: true, Record: &rec}, nil
	}
	if !isDuplicateKeyErr(err) {
		return EnsureResult{}, err
	}

	var existing models.CommandRecord
	if err := g.db.WithContext(ctx).
		Where("seller_id = ? AND connection_id = ? AND idempotency_key = ?", sellerId, connectionId, idempotencyKey).
		Take(&existing).Error; err != nil {
		return EnsureResult{}, err
	}
	return EnsureResult{Created: false, Record: &existing}, nil
}

// AttachJob links the command to the job the orchestrator created for it.
func (g *IdempotencyGuard) AttachJob(ctx context.Context, commandId string, jobId string) error {
	return g.db.WithContext(ctx).
		Model(&models.CommandRecord{}).
		Where("id = ? AND job_id IS NULL", commandId).
		Update("job_id", jobId).Error
}

// MarkSucceeded records the outcome. The response snapshot is written only
// once: a second success for the same command leaves the first response.
func (g *IdempotencyGuard) MarkSucceeded(ctx context.Context, commandId string, response json.RawMessage) error {
	return g.db.WithContext(ctx).
		Model(&models.CommandRecord{}).
		Where("id = ? AND response_json IS NULL", commandId).
		Updates(map[string]interface{}{
			"status":        models.CommandStatusSucceeded,
			"response_json": []byte(response),
			"last_error":    nil,
		}).Error
}

func (g *IdempotencyGuard) MarkFailed(ctx context.Context, commandId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return g.db.WithContext(ctx).
		Model(&models.CommandRecord{}).
		Where("id = ?", commandId).
		Updates(map[string]interface{}{
			"status":     models.CommandStatusFailed,
			"last_error": &msg,
		}).Error
}

// GetByJob finds the command record a job was created for, if any.
func (g *IdempotencyGuard) GetByJob(ctx context.Context, jobId string) (*models.CommandRecord, error) {
	var rec models.CommandRecord
	err := g.db.WithContext(ctx).Where("job_id = ?", jobId).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}
