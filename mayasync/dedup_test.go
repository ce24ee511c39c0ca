package mayasync

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/marketsync_backend/models"
)

func webhookEvent(key string) *models.WebhookEvent {
	return &models.WebhookEvent{
		EventKey:     key,
		SellerId:     "seller-1",
		ConnectionId: 42,
		EventType:    "order.created",
		PayloadJSON:  []byte(`{"orderId":"o-1"}`),
	}
}

func TestRecord_FirstDeliveryCreates(t *testing.T) {
	dedup := NewDedupStore(newTestDB(t))

	res, err := dedup.Record(context.Background(), webhookEvent("evt-1"))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !res.Accepted || res.Dedup {
		t.Fatalf("first delivery = %+v, want accepted and not dedup", res)
	}

	var rec models.WebhookEvent
	if err := dedup.db.Take(&rec, "event_key = ?", "evt-1").Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if rec.DedupHit || rec.DeliveryCount != 1 {
		t.Fatalf("row = dedup_hit=%v count=%d, want false/1", rec.DedupHit, rec.DeliveryCount)
	}
}

func TestRecord_RepeatDeliverySetsDedupFlag(t *testing.T) {
	dedup := NewDedupStore(newTestDB(t))
	ctx := context.Background()

	if _, err := dedup.Record(ctx, webhookEvent("evt-1")); err != nil {
		t.Fatalf("first Record: %v", err)
	}

	second, err := dedup.Record(ctx, webhookEvent("evt-1"))
	if err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if !second.Accepted || !second.Dedup {
		t.Fatalf("repeat delivery = %+v, want accepted with dedup", second)
	}
	if !second.Record.DedupHit || second.Record.DeliveryCount != 2 {
		t.Fatalf("record = dedup_hit=%v count=%d, want true/2", second.Record.DedupHit, second.Record.DeliveryCount)
	}

	third, err := dedup.Record(ctx, webhookEvent("evt-1"))
	if err != nil {
		t.Fatalf("third Record: %v", err)
	}
	if third.Record.DeliveryCount != 3 {
		t.Fatalf("delivery count = %d, want 3", third.Record.DeliveryCount)
	}

	var count int64
	if err := dedup.db.Model(&models.WebhookEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rows = %d, want 1", count)
	}
}

func TestRecord_DistinctEventsBothAccepted(t *testing.T) {
	dedup := NewDedupStore(newTestDB(t))
	ctx := context.Background()

	a, err := dedup.Record(ctx, webhookEvent("evt-1"))
	if err != nil {
		t.Fatalf("Record a: %v", err)
	}
	b, err := dedup.Record(ctx, webhookEvent("evt-2"))
	if err != nil {
		t.Fatalf("Record b: %v", err)
	}
	if a.Dedup || b.Dedup {
		t.Fatal("distinct event keys must not dedup against each other")
	}
}

func TestAttachJob_OnlyFirstJobSticks(t *testing.T) {
	dedup := NewDedupStore(newTestDB(t))
	ctx := context.Background()

	if _, err := dedup.Record(ctx, webhookEvent("evt-1")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := dedup.AttachJob(ctx, "evt-1", "job-1"); err != nil {
		t.Fatalf("first AttachJob: %v", err)
	}
	if err := dedup.AttachJob(ctx, "evt-1", "job-2"); err != nil {
		t.Fatalf("second AttachJob: %v", err)
	}

	var rec models.WebhookEvent
	if err := dedup.db.Take(&rec, "event_key = ?", "evt-1").Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if rec.JobId == nil || *rec.JobId != "job-1" {
		t.Fatalf("job_id = %v, want job-1", rec.JobId)
	}
}
