package resolver

import (
	"testing"
	"time"

	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/models"
)

func setupResolver(t *testing.T) (*Resolver, *db.DB) {
	t.Helper()
	database, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("initialize database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database, nil), database
}

func obs(externalID string, source models.Source, start time.Time, minutes int) models.Observation {
	return models.Observation{
		ExternalID: externalID,
		StartTime:  start,
		EndTime:    start.Add(time.Duration(minutes) * time.Minute),
		Source:     source,
		AvgHR:      140,
		MaxHR:      168,
		Calories:   400,
	}
}

func TestIngestCreatesCanonicalSession(t *testing.T) {
	r, database := setupResolver(t)

	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	s, err := r.Ingest(obs("hk-1", models.SourceCompanion, start, 60))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if s == nil {
		t.Fatal("expected canonical session")
	}
	if s.ExternalWorkoutID != "hk-1" {
		t.Errorf("external id = %q, want hk-1", s.ExternalWorkoutID)
	}
	if s.Source != models.SourceCompanion {
		t.Errorf("source = %v, want companion", s.Source)
	}

	claimed, err := database.GetObservation("hk-1")
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if claimed.ClaimedBy != s.ID {
		t.Errorf("observation claimed by %q, want %q", claimed.ClaimedBy, s.ID)
	}
}

func TestIngestDeduplicatesOverlappingObservations(t *testing.T) {
	r, database := setupResolver(t)

	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

	// The companion recording and a platform copy of the same workout, offset
	// by two minutes.
	first, err := r.Ingest(obs("hk-companion", models.SourceCompanion, start, 60))
	if err != nil {
		t.Fatalf("Ingest companion: %v", err)
	}
	second, err := r.Ingest(obs("hk-platform", models.SourcePlatform, start.Add(2*time.Minute), 58))
	if err != nil {
		t.Fatalf("Ingest platform: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("duplicate produced session %s, want fold into %s", second.ID, first.ID)
	}

	sessions, err := database.ListActiveSessions()
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("have %d sessions, want 1", len(sessions))
	}

	loser, err := database.GetObservation("hk-platform")
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if !loser.Dismissed || loser.ClaimedBy != first.ID {
		t.Errorf("loser = dismissed %v claimed_by %q, want suppressed into %s", loser.Dismissed, loser.ClaimedBy, first.ID)
	}

	canonical, err := database.GetSession(first.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(canonical.RelatedIDs) != 1 || canonical.RelatedIDs[0] != "hk-platform" {
		t.Errorf("related ids = %v, want [hk-platform]", canonical.RelatedIDs)
	}
}

func TestIngestOutcomeIndependentOfArrivalOrder(t *testing.T) {
	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	a := obs("hk-companion", models.SourceCompanion, start, 60)
	b := obs("hk-aggregator", models.SourceAggregator, start.Add(time.Minute), 59)

	for name, order := range map[string][]models.Observation{
		"high trust first": {a, b},
		"low trust first":  {b, a},
	} {
		t.Run(name, func(t *testing.T) {
			r, database := setupResolver(t)
			var last *models.Session
			for _, o := range order {
				s, err := r.Ingest(o)
				if err != nil {
					t.Fatalf("Ingest %s: %v", o.ExternalID, err)
				}
				last = s
			}

			if last.ExternalWorkoutID != "hk-companion" {
				t.Errorf("canonical external id = %q, want the companion recording regardless of order", last.ExternalWorkoutID)
			}
			if last.Source != models.SourceCompanion {
				t.Errorf("canonical source = %v, want companion", last.Source)
			}
			sessions, err := database.ListActiveSessions()
			if err != nil {
				t.Fatalf("ListActiveSessions: %v", err)
			}
			if len(sessions) != 1 {
				t.Errorf("have %d sessions, want 1", len(sessions))
			}
		})
	}
}

func TestHigherTrustLateArrivalTakesOverSession(t *testing.T) {
	r, database := setupResolver(t)

	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

	low := obs("hk-agg", models.SourceAggregator, start, 60)
	low.AvgHR = 120
	first, err := r.Ingest(low)
	if err != nil {
		t.Fatalf("Ingest aggregator: %v", err)
	}

	high := obs("hk-watch", models.SourceCompanion, start.Add(time.Minute), 58)
	high.AvgHR = 144
	second, err := r.Ingest(high)
	if err != nil {
		t.Fatalf("Ingest companion: %v", err)
	}

	// The companion supersedes the aggregator but keeps the same session row.
	if second.ID != first.ID {
		t.Fatalf("takeover created session %s, want reuse of %s", second.ID, first.ID)
	}
	if second.ExternalWorkoutID != "hk-watch" {
		t.Errorf("canonical external id = %q, want hk-watch", second.ExternalWorkoutID)
	}
	if second.AvgHR != 144 {
		t.Errorf("avg_hr = %v, want the companion's 144", second.AvgHR)
	}

	superseded, err := database.GetObservation("hk-agg")
	if err != nil {
		t.Fatalf("GetObservation: %v", err)
	}
	if !superseded.Dismissed {
		t.Error("superseded observation should be dismissed")
	}
}

func TestIngestIdempotentUnderRedelivery(t *testing.T) {
	r, database := setupResolver(t)

	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	o := obs("hk-1", models.SourceCompanion, start, 60)

	first, err := r.Ingest(o)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	// Redelivery with drifted values still returns the prior decision.
	o.AvgHR = 999
	again, err := r.Ingest(o)
	if err != nil {
		t.Fatalf("Ingest redelivery: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("redelivery resolved to %s, want %s", again.ID, first.ID)
	}
	if again.AvgHR != first.AvgHR {
		t.Errorf("redelivery changed avg_hr to %v", again.AvgHR)
	}

	sessions, err := database.ListActiveSessions()
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("have %d sessions, want 1", len(sessions))
	}
}

func TestTieBreaksDeterministic(t *testing.T) {
	r, _ := setupResolver(t)

	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

	// Same source, same window: the earlier start wins; equal starts fall back
	// to the smaller external id.
	later := obs("hk-b", models.SourcePlatform, start.Add(3*time.Minute), 55)
	earlier := obs("hk-z", models.SourcePlatform, start, 60)

	if _, err := r.Ingest(later); err != nil {
		t.Fatalf("Ingest later: %v", err)
	}
	s, err := r.Ingest(earlier)
	if err != nil {
		t.Fatalf("Ingest earlier: %v", err)
	}
	if s.ExternalWorkoutID != "hk-z" {
		t.Errorf("canonical = %q, want the earlier-starting hk-z", s.ExternalWorkoutID)
	}

	r2, _ := setupResolver(t)
	x := obs("hk-x", models.SourcePlatform, start, 60)
	y := obs("hk-y", models.SourcePlatform, start, 60)
	if _, err := r2.Ingest(y); err != nil {
		t.Fatalf("Ingest hk-y: %v", err)
	}
	s, err = r2.Ingest(x)
	if err != nil {
		t.Fatalf("Ingest hk-x: %v", err)
	}
	if s.ExternalWorkoutID != "hk-x" {
		t.Errorf("canonical = %q, want the smaller id hk-x on equal starts", s.ExternalWorkoutID)
	}
}

func TestNonOverlappingObservationsStaySeparate(t *testing.T) {
	r, database := setupResolver(t)

	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	if _, err := r.Ingest(obs("hk-morning", models.SourceCompanion, start, 60)); err != nil {
		t.Fatalf("Ingest morning: %v", err)
	}
	if _, err := r.Ingest(obs("hk-evening", models.SourceCompanion, start.Add(4*time.Hour), 60)); err != nil {
		t.Fatalf("Ingest evening: %v", err)
	}

	sessions, err := database.ListActiveSessions()
	if err != nil {
		t.Fatalf("ListActiveSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("have %d sessions, want 2 distinct workouts", len(sessions))
	}
}

func TestIngestRejectsMissingExternalID(t *testing.T) {
	r, _ := setupResolver(t)

	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	if _, err := r.Ingest(obs("", models.SourceCompanion, start, 60)); err == nil {
		t.Fatal("expected error for missing external id")
	}
}
