package mayasync

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB opens a file-backed sqlite database so the unique indexes on
// command_records and webhook_events arbitrate inserts exactly like the
// production schema does. TranslateError maps the constraint violation onto
// gorm.ErrDuplicatedKey, the branch isDuplicateKeyErr already takes.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "mayasync.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.CommandRecord{}, &models.WebhookEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestEnsure_FirstSubmissionCreates(t *testing.T) {
	guard := NewIdempotencyGuard(newTestDB(t))

	res, err := guard.Ensure(context.Background(), "seller-1", 42, "key-1", models.JobTypeAnswerQuestion, []byte(`{"answer":"yes"}`))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !res.Created {
		t.Fatal("first submission must create the record")
	}
	if res.Record.Status != models.CommandStatusQueued {
		t.Fatalf("status = %s, want queued", res.Record.Status)
	}
}

func TestEnsure_DuplicateKeepsFirstSnapshot(t *testing.T) {
	guard := NewIdempotencyGuard(newTestDB(t))
	ctx := context.Background()

	first, err := guard.Ensure(ctx, "seller-1", 42, "key-1", models.JobTypeAnswerQuestion, []byte(`{"answer":"yes"}`))
	if err != nil {
		t.Fatalf("first Ensure: %v", err)
	}

	// The duplicate carries a different snapshot; the stored intent must
	// not change.
	second, err := guard.Ensure(ctx, "seller-1", 42, "key-1", models.JobTypeAnswerQuestion, []byte(`{"answer":"no"}`))
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if second.Created {
		t.Fatal("duplicate submission must not create")
	}
	if second.Record.ID != first.Record.ID {
		t.Fatalf("record id = %s, want %s", second.Record.ID, first.Record.ID)
	}
	if !bytes.Equal(second.Record.RequestJSON, []byte(`{"answer":"yes"}`)) {
		t.Fatalf("request snapshot changed: %s", second.Record.RequestJSON)
	}

	var count int64
	if err := guard.db.Model(&models.CommandRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rows = %d, want 1", count)
	}
}

func TestEnsure_DistinctKeysStayIndependent(t *testing.T) {
	guard := NewIdempotencyGuard(newTestDB(t))
	ctx := context.Background()

	a, err := guard.Ensure(ctx, "seller-1", 42, "key-a", models.JobTypePushInventory, []byte(`{}`))
	if err != nil {
		t.Fatalf("Ensure a: %v", err)
	}
	b, err := guard.Ensure(ctx, "seller-1", 42, "key-b", models.JobTypePushInventory, []byte(`{}`))
	if err != nil {
		t.Fatalf("Ensure b: %v", err)
	}
	if !a.Created || !b.Created || a.Record.ID == b.Record.ID {
		t.Fatalf("distinct keys must create distinct records: %+v %+v", a, b)
	}
}

func TestEnsure_ConcurrentDoubleInsertHasOneWinner(t *testing.T) {
	guard := NewIdempotencyGuard(newTestDB(t))
	ctx := context.Background()

	const callers = 8
	results := make([]EnsureResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = guard.Ensure(ctx, "seller-1", 42, "key-1", models.JobTypeAnswerQuestion, []byte(`{"answer":"yes"}`))
		}(i)
	}
	wg.Wait()

	created := 0
	winnerId := ""
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Created {
			created++
			winnerId = results[i].Record.ID
		}
	}
	if created != 1 {
		t.Fatalf("created = %d, want exactly 1", created)
	}
	for i := 0; i < callers; i++ {
		if results[i].Record.ID != winnerId {
			t.Fatalf("caller %d got record %s, want %s", i, results[i].Record.ID, winnerId)
		}
	}
}

func TestMarkSucceeded_ResponseIsWrittenOnce(t *testing.T) {
	guard := NewIdempotencyGuard(newTestDB(t))
	ctx := context.Background()

	res, err := guard.Ensure(ctx, "seller-1", 42, "key-1", models.JobTypeAnswerQuestion, []byte(`{}`))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := guard.MarkSucceeded(ctx, res.Record.ID, []byte(`{"applied":1}`)); err != nil {
		t.Fatalf("first MarkSucceeded: %v", err)
	}
	if err := guard.MarkSucceeded(ctx, res.Record.ID, []byte(`{"applied":99}`)); err != nil {
		t.Fatalf("second MarkSucceeded: %v", err)
	}

	var rec models.CommandRecord
	if err := guard.db.Take(&rec, "id = ?", res.Record.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if rec.Status != models.CommandStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", rec.Status)
	}
	if !bytes.Equal(rec.ResponseJSON, []byte(`{"applied":1}`)) {
		t.Fatalf("response snapshot changed: %s", rec.ResponseJSON)
	}
}

func TestAttachJob_FirstJobSticks(t *testing.T) {
	guard := NewIdempotencyGuard(newTestDB(t))
	ctx := context.Background()

	res, err := guard.Ensure(ctx, "seller-1", 42, "key-1", models.JobTypeAnswerQuestion, []byte(`{}`))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := guard.AttachJob(ctx, res.Record.ID, "job-1"); err != nil {
		t.Fatalf("first AttachJob: %v", err)
	}
	if err := guard.AttachJob(ctx, res.Record.ID, "job-2"); err != nil {
		t.Fatalf("second AttachJob: %v", err)
	}

	var rec models.CommandRecord
	if err := guard.db.Take(&rec, "id = ?", res.Record.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if rec.JobId == nil || *rec.JobId != "job-1" {
		t.Fatalf("job_id = %v, want job-1", rec.JobId)
	}
}
