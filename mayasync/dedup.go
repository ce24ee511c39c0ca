package mayasync

import (
	"context"

	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	"gorm.io/gorm"
)

// DedupResult is the acknowledgement shape for one inbound delivery.
type DedupResult struct {
	Accepted bool
	Dedup    bool
	Record   *models.WebhookEvent
}

// DedupStore suppresses repeated side effects from at-least-once webhook
// delivery, keyed on the provider event id (or a content hash when the
// provider sends none).
type DedupStore struct {
	db *gorm.DB
}

func NewDedupStore(db *gorm.DB) *DedupStore {
	return &DedupStore{db: db}
}

// Record inserts the event on first delivery. A repeat delivery trips the
// event_key unique index; the existing row is flagged and returned with
// Dedup=true so the caller fires no side effects.
func (d *DedupStore) Record(ctx context.Context, event *models.WebhookEvent) (DedupResult, error) {
	err := d.db.WithContext(ctx).Create(event).Error
	if err == nil {
		return DedupResult{Accepted: true, Record: event}, nil
	}
	if !isDuplicateKeyErr(err) {
		return DedupResult{}, err
	}

	if uerr := d.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_key = ?", event.EventKey).
		Updates(map[string]interface{}{
			"dedup_hit":      true,
			"delivery_count": gorm.Expr("delivery_count + 1"),
		}).Error; uerr != nil {
		return DedupResult{}, uerr
	}

	var existing models.WebhookEvent
	if err := d.db.WithContext(ctx).Where("event_key = ?", event.EventKey).Take(&existing).Error; err != nil {
		return DedupResult{}, err
	}
	return DedupResult{Accepted: true, Dedup: true, Record: &existing}, nil
}

// AttachJob links the first delivery's event to the sync job it triggered.
func (d *DedupStore) AttachJob(ctx context.Context, eventKey string, jobId string) error {
	return d.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("event_key = ? AND job_id IS NULL", eventKey).
		Update("job_id", jobId).Error
}
