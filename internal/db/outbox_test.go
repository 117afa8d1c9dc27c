package db

import (
	"testing"
	"time"

	"github.com/ember/heatsync/internal/models"
)

func TestOutboxCoalescing(t *testing.T) {
	db := setupTestDB(t)

	saved, err := db.UpsertSession(testSession(time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	// Three successive edits to the same record coalesce onto one queue row.
	for i := 0; i < 3; i++ {
		patch := &models.Session{ID: saved.ID, Notes: "edit"}
		if _, err := db.UpsertSession(patch); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}

	items, err := db.DrainOutbox(10)
	if err != nil {
		t.Fatalf("DrainOutbox failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 coalesced item, got %d", len(items))
	}
}

func TestOutboxDrainOrder(t *testing.T) {
	db := setupTestDB(t)

	first, err := db.UpsertSession(testSession(time.Now().Add(-3 * time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.UpsertSession(testSession(time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatal(err)
	}

	items, err := db.DrainOutbox(10)
	if err != nil {
		t.Fatalf("DrainOutbox failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].RecordID != first.ID || items[1].RecordID != second.ID {
		t.Error("items not drained oldest first")
	}

	// Re-enqueueing the first record keeps its original queue position.
	if _, err := db.UpsertSession(&models.Session{ID: first.ID, Notes: "again"}); err != nil {
		t.Fatal(err)
	}
	items, _ = db.DrainOutbox(10)
	if len(items) != 2 || items[0].RecordID != first.ID {
		t.Error("coalesced item lost its queue position")
	}
}

func TestRequeueOutbox(t *testing.T) {
	db := setupTestDB(t)

	saved, err := db.UpsertSession(testSession(time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	items, _ := db.DrainOutbox(1)
	if len(items) != 1 {
		t.Fatal("expected 1 item")
	}

	if err := db.RequeueOutbox(items[0], "connection refused"); err != nil {
		t.Fatalf("RequeueOutbox failed: %v", err)
	}

	items, _ = db.DrainOutbox(1)
	if len(items) != 1 {
		t.Fatal("requeued item gone")
	}
	if items[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", items[0].Attempts)
	}
	if items[0].LastError != "connection refused" {
		t.Errorf("last error = %q", items[0].LastError)
	}

	got, _ := db.GetSession(saved.ID)
	if got.SyncState != models.SyncFailed {
		t.Errorf("record should be failed, got %s", got.SyncState)
	}
	if got.LastSyncError != "connection refused" {
		t.Errorf("record error = %q", got.LastSyncError)
	}
}

func TestDropOutbox(t *testing.T) {
	db := setupTestDB(t)

	saved, err := db.UpsertSession(testSession(time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	items, _ := db.DrainOutbox(1)

	if err := db.DropOutbox(items[0], "missing start time"); err != nil {
		t.Fatalf("DropOutbox failed: %v", err)
	}

	count, _ := db.CountPendingOutbox()
	if count != 0 {
		t.Errorf("dropped item still queued")
	}

	got, _ := db.GetSession(saved.ID)
	if got.SyncState != models.SyncPending {
		t.Errorf("record should stay pending, got %s", got.SyncState)
	}
	if got.LastSyncError != "missing start time" {
		t.Errorf("record error = %q", got.LastSyncError)
	}
}
