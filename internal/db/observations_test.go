package db

import (
	"testing"
	"time"

	"github.com/ember/heatsync/internal/models"
)

func testObservation(externalID string, start time.Time) *models.Observation {
	return &models.Observation{
		ExternalID: externalID,
		StartTime:  start,
		EndTime:    start.Add(45 * time.Minute),
		Source:     models.SourceAggregator,
		AvgHR:      138,
		MaxHR:      165,
		Calories:   410,
	}
}

func TestRecordObservationFirstSightingStands(t *testing.T) {
	database := setupTestDB(t)

	start := time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC)
	obs := testObservation("hk-obs-1", start)
	if err := database.RecordObservation(obs); err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}

	// Re-recording the same external id with different values must not
	// overwrite the original row.
	changed := testObservation("hk-obs-1", start.Add(2*time.Hour))
	changed.AvgHR = 999
	if err := database.RecordObservation(changed); err != nil {
		t.Fatalf("RecordObservation repeat: %v", err)
	}

	got, err := database.GetObservation("hk-obs-1")
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if got == nil {
		t.Fatal("expected observation, got nil")
	}
	if !got.StartTime.Equal(start) {
		t.Errorf("start_time = %v, want original %v", got.StartTime, start)
	}
	if got.AvgHR != 138 {
		t.Errorf("avg_hr = %v, want original 138", got.AvgHR)
	}
	if got.ObservedAt.IsZero() {
		t.Error("observed_at should default to now when unset")
	}
}

func TestGetObservationUnseen(t *testing.T) {
	database := setupTestDB(t)

	got, err := database.GetObservation("never-seen")
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unseen id, got %+v", got)
	}
}

func TestListUnclaimedOverlapping(t *testing.T) {
	database := setupTestDB(t)

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	// Overlaps the query window directly.
	inside := testObservation("obs-inside", base.Add(10*time.Minute))
	// Ends 3 minutes before the window starts; only reachable via slack.
	fringe := testObservation("obs-fringe", base.Add(-48*time.Minute))
	// Hours away; never overlaps.
	far := testObservation("obs-far", base.Add(6*time.Hour))

	for _, o := range []*models.Observation{inside, fringe, far} {
		if err := database.RecordObservation(o); err != nil {
			t.Fatalf("RecordObservation %s: %v", o.ExternalID, err)
		}
	}

	got, err := database.ListUnclaimedOverlapping(base, base.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("ListUnclaimedOverlapping: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "obs-inside" {
		t.Fatalf("no slack: got %d observations, want only obs-inside", len(got))
	}

	got, err = database.ListUnclaimedOverlapping(base, base.Add(time.Hour), 5*time.Minute)
	if err != nil {
		t.Fatalf("ListUnclaimedOverlapping with slack: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("with slack: got %d observations, want 2", len(got))
	}
	if got[0].ExternalID != "obs-fringe" || got[1].ExternalID != "obs-inside" {
		t.Errorf("order = [%s, %s], want earliest start first", got[0].ExternalID, got[1].ExternalID)
	}
}

func TestListUnclaimedOverlappingTieBreaksOnExternalID(t *testing.T) {
	database := setupTestDB(t)

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"obs-b", "obs-a"} {
		if err := database.RecordObservation(testObservation(id, start)); err != nil {
			t.Fatalf("RecordObservation %s: %v", id, err)
		}
	}

	got, err := database.ListUnclaimedOverlapping(start, start.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("ListUnclaimedOverlapping: %v", err)
	}
	if len(got) != 2 || got[0].ExternalID != "obs-a" || got[1].ExternalID != "obs-b" {
		t.Fatalf("equal starts should order by external id, got %+v", got)
	}
}

func TestClaimAndDismissExcludeFromListing(t *testing.T) {
	database := setupTestDB(t)

	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"obs-claimed", "obs-dismissed", "obs-open"} {
		if err := database.RecordObservation(testObservation(id, start)); err != nil {
			t.Fatalf("RecordObservation %s: %v", id, err)
		}
	}

	if err := database.ClaimObservation("obs-claimed", "ses-abc"); err != nil {
		t.Fatalf("ClaimObservation: %v", err)
	}
	if err := database.DismissObservation("obs-dismissed", "ses-abc"); err != nil {
		t.Fatalf("DismissObservation: %v", err)
	}

	got, err := database.ListUnclaimedOverlapping(start, start.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("ListUnclaimedOverlapping: %v", err)
	}
	if len(got) != 1 || got[0].ExternalID != "obs-open" {
		t.Fatalf("claimed/dismissed rows must not surface, got %+v", got)
	}

	claimed, err := database.GetObservation("obs-claimed")
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if claimed.ClaimedBy != "ses-abc" || claimed.Dismissed {
		t.Errorf("claimed row = claimed_by %q dismissed %v, want ses-abc/false", claimed.ClaimedBy, claimed.Dismissed)
	}

	dismissed, err := database.GetObservation("obs-dismissed")
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if !dismissed.Dismissed || dismissed.ClaimedBy != "ses-abc" {
		t.Errorf("dismissed row = claimed_by %q dismissed %v, want ses-abc/true", dismissed.ClaimedBy, dismissed.Dismissed)
	}
}
