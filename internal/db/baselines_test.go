package db

import (
	"testing"
	"time"

	"github.com/ember/heatsync/internal/models"
)

func TestSaveBaselineEnqueuesUpsert(t *testing.T) {
	database := setupTestDB(t)

	b := &models.Baseline{Bucket: models.BucketHot90, AvgHR: 146.5, SessionCount: 4}
	if err := database.SaveBaseline(b); err != nil {
		t.Fatalf("SaveBaseline: %v", err)
	}

	got, err := database.GetBaseline(models.BucketHot90)
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if got == nil {
		t.Fatal("expected baseline, got nil")
	}
	if got.AvgHR != 146.5 || got.SessionCount != 4 {
		t.Errorf("baseline = %.1f over %d, want 146.5 over 4", got.AvgHR, got.SessionCount)
	}
	if got.SyncState != models.SyncPending {
		t.Errorf("sync state = %s, want pending", got.SyncState)
	}

	items, err := database.DrainOutbox(10)
	if err != nil {
		t.Fatalf("DrainOutbox: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("outbox has %d items, want 1", len(items))
	}
	item := items[0]
	if item.RecordType != models.RecordBaseline || item.RecordID != string(models.BucketHot90) || item.Op != models.OpUpsert {
		t.Errorf("outbox item = %s/%s/%s, want baseline upsert for bucket", item.RecordType, item.RecordID, item.Op)
	}

	// Repeated saves coalesce onto the same queued item.
	b.AvgHR = 148
	if err := database.SaveBaseline(b); err != nil {
		t.Fatalf("SaveBaseline repeat: %v", err)
	}
	items, err = database.DrainOutbox(10)
	if err != nil {
		t.Fatalf("DrainOutbox: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("outbox has %d items after repeat save, want 1", len(items))
	}
}

func TestGetBaselineEmptyBucket(t *testing.T) {
	database := setupTestDB(t)

	got, err := database.GetBaseline(models.BucketUnheated)
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for untouched bucket, got %+v", got)
	}
}

func TestApplyRemoteBaselineLastWriterWins(t *testing.T) {
	database := setupTestDB(t)

	local := &models.Baseline{Bucket: models.BucketWarm, AvgHR: 130, SessionCount: 3}
	if err := database.SaveBaseline(local); err != nil {
		t.Fatalf("SaveBaseline: %v", err)
	}
	saved, err := database.GetBaseline(models.BucketWarm)
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}

	stale := &models.Baseline{
		Bucket: models.BucketWarm, AvgHR: 99, SessionCount: 1,
		UpdatedAt: saved.UpdatedAt.Add(-time.Hour),
	}
	applied, err := database.ApplyRemoteBaseline(stale)
	if err != nil {
		t.Fatalf("ApplyRemoteBaseline stale: %v", err)
	}
	if applied {
		t.Error("stale remote baseline should be ignored")
	}
	got, _ := database.GetBaseline(models.BucketWarm)
	if got.AvgHR != 130 {
		t.Errorf("avg_hr = %.1f after stale apply, want 130", got.AvgHR)
	}

	newer := &models.Baseline{
		Bucket: models.BucketWarm, AvgHR: 135, SessionCount: 5,
		UpdatedAt: saved.UpdatedAt.Add(time.Hour),
	}
	applied, err = database.ApplyRemoteBaseline(newer)
	if err != nil {
		t.Fatalf("ApplyRemoteBaseline newer: %v", err)
	}
	if !applied {
		t.Error("newer remote baseline should apply")
	}
	got, _ = database.GetBaseline(models.BucketWarm)
	if got.AvgHR != 135 || got.SessionCount != 5 {
		t.Errorf("baseline = %.1f over %d, want 135 over 5", got.AvgHR, got.SessionCount)
	}
	if got.SyncState != models.SyncSynced {
		t.Errorf("remote apply left state %s, want synced", got.SyncState)
	}
}

func TestApplyRemoteBaselineDoesNotEnqueue(t *testing.T) {
	database := setupTestDB(t)

	remote := &models.Baseline{
		Bucket: models.BucketHot100, AvgHR: 152, SessionCount: 6,
		UpdatedAt: time.Now().UTC(),
	}
	applied, err := database.ApplyRemoteBaseline(remote)
	if err != nil {
		t.Fatalf("ApplyRemoteBaseline: %v", err)
	}
	if !applied {
		t.Fatal("fresh remote baseline should apply")
	}

	pending, err := database.CountPendingOutbox()
	if err != nil {
		t.Fatalf("CountPendingOutbox: %v", err)
	}
	if pending != 0 {
		t.Errorf("remote apply enqueued %d outbox items, want 0", pending)
	}
}

func TestBaselineSyncedPromotionOnlyFromUploading(t *testing.T) {
	database := setupTestDB(t)

	b := &models.Baseline{Bucket: models.BucketHot105, AvgHR: 158, SessionCount: 3}
	if err := database.SaveBaseline(b); err != nil {
		t.Fatalf("SaveBaseline: %v", err)
	}

	// Pending rows must not jump straight to synced.
	if err := database.MarkBaselineSynced(string(models.BucketHot105)); err != nil {
		t.Fatalf("MarkBaselineSynced: %v", err)
	}
	got, _ := database.GetBaseline(models.BucketHot105)
	if got.SyncState != models.SyncPending {
		t.Errorf("state = %s after premature synced mark, want pending", got.SyncState)
	}

	if err := database.MarkBaselineUploading(string(models.BucketHot105)); err != nil {
		t.Fatalf("MarkBaselineUploading: %v", err)
	}
	if err := database.MarkBaselineSynced(string(models.BucketHot105)); err != nil {
		t.Fatalf("MarkBaselineSynced: %v", err)
	}
	got, _ = database.GetBaseline(models.BucketHot105)
	if got.SyncState != models.SyncSynced {
		t.Errorf("state = %s, want synced", got.SyncState)
	}
}
