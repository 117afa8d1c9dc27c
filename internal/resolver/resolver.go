// Package resolver decides which externally-observed workout record is
// canonical. The biometric subsystem surfaces workouts written by any app or
// device, so several raw observations may describe the same physical session;
// the resolver claims exactly one and suppresses the rest before the session
// store ever sees them.
package resolver

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ember/heatsync/internal/baseline"
	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/models"
)

// DefaultSlack is the leading/trailing tolerance when matching overlapping
// time ranges.
const DefaultSlack = 5 * time.Minute

// Resolver ingests raw workout observations and maintains the one-canonical-
// session-per-physical-workout invariant.
type Resolver struct {
	store     *db.DB
	baselines *baseline.Engine
	slack     time.Duration
}

// New creates a resolver. baselines may be nil when derived aggregates are
// not wanted (tests, rebuild tooling).
func New(store *db.DB, baselines *baseline.Engine) *Resolver {
	return &Resolver{store: store, baselines: baselines, slack: DefaultSlack}
}

// SetSlack overrides the overlap tolerance window.
func (r *Resolver) SetSlack(d time.Duration) {
	r.slack = d
}

// Ingest records a raw observation and resolves it against everything seen
// so far. It returns the canonical session the observation ended up in,
// whether it claimed it or was folded into an existing one. Re-ingesting an
// already-decided external id is a no-op returning the prior outcome, which
// makes the whole path safe under redelivery.
func (r *Resolver) Ingest(obs models.Observation) (*models.Session, error) {
	if obs.ExternalID == "" {
		return nil, fmt.Errorf("ingest: observation has no external id")
	}

	// Already decided? Honor the earlier outcome.
	prior, err := r.store.GetObservation(obs.ExternalID)
	if err != nil {
		return nil, err
	}
	if prior != nil && prior.ClaimedBy != "" {
		return r.store.GetSession(prior.ClaimedBy)
	}

	if err := r.store.RecordObservation(&obs); err != nil {
		return nil, err
	}

	// Everything overlapping the observation's window, including itself and
	// any previously claimed canonical, competes on source priority.
	group, err := r.overlapGroup(obs)
	if err != nil {
		return nil, err
	}

	winner := group[0]
	canonical, created, err := r.claimCanonical(winner, group)
	if err != nil {
		return nil, err
	}

	// Suppress the losers into the canonical record.
	var dismissed []string
	for _, o := range group[1:] {
		if o.ExternalID == winner.ExternalID {
			continue
		}
		if err := r.store.DismissObservation(o.ExternalID, canonical.ID); err != nil {
			return nil, err
		}
		dismissed = append(dismissed, o.ExternalID)
	}
	if len(dismissed) > 0 {
		if err := r.store.AddRelatedIDs(canonical.ID, dismissed...); err != nil {
			return nil, err
		}
		slog.Debug("observations dismissed", "canonical", winner.ExternalID, "dismissed", dismissed)
	}

	// Derived aggregates see each physical workout exactly once, at claim time.
	if created && r.baselines != nil {
		if err := r.baselines.RecordSession(canonical); err != nil {
			slog.Warn("baseline update", "session", canonical.ID, "err", err)
		}
	}

	return r.store.GetSession(canonical.ID)
}

// overlapGroup returns the competing observations for obs in priority order:
// ascending source rank, then earliest start time, then smallest external id.
// The tie-break makes the outcome deterministic across arrival orders and
// across devices.
func (r *Resolver) overlapGroup(obs models.Observation) ([]models.Observation, error) {
	unclaimed, err := r.store.ListUnclaimedOverlapping(obs.StartTime, obs.EndTime, r.slack)
	if err != nil {
		return nil, err
	}

	group := unclaimed
	seen := make(map[string]bool, len(group)+1)
	for _, o := range group {
		seen[o.ExternalID] = true
	}
	if !seen[obs.ExternalID] {
		group = append(group, obs)
	}

	// A previously claimed canonical in the same window competes too, so a
	// higher-trust late arrival can supersede it.
	claimed, err := r.claimedOverlapping(obs)
	if err != nil {
		return nil, err
	}
	for _, o := range claimed {
		if !seen[o.ExternalID] {
			seen[o.ExternalID] = true
			group = append(group, o)
		}
	}

	sort.Slice(group, func(i, j int) bool {
		if group[i].Source != group[j].Source {
			return group[i].Source < group[j].Source
		}
		if !group[i].StartTime.Equal(group[j].StartTime) {
			return group[i].StartTime.Before(group[j].StartTime)
		}
		return group[i].ExternalID < group[j].ExternalID
	})
	return group, nil
}

// claimedOverlapping finds observations already claimed by a live session
// whose window overlaps obs.
func (r *Resolver) claimedOverlapping(obs models.Observation) ([]models.Observation, error) {
	sessions, err := r.store.ListActiveSessions()
	if err != nil {
		return nil, err
	}

	var out []models.Observation
	for i := range sessions {
		s := &sessions[i]
		if s.ExternalWorkoutID == "" || s.ExternalWorkoutID == obs.ExternalID {
			continue
		}
		claimed, err := r.store.GetObservation(s.ExternalWorkoutID)
		if err != nil {
			return nil, err
		}
		if claimed == nil || claimed.Dismissed {
			continue
		}
		if overlaps(claimed.StartTime, claimed.EndTime, obs.StartTime, obs.EndTime, r.slack) {
			out = append(out, *claimed)
		}
	}
	return out, nil
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time, slack time.Duration) bool {
	return !aStart.After(bEnd.Add(slack)) && !aEnd.Before(bStart.Add(-slack))
}

// claimCanonical upserts the session for the winning observation. When a
// lower-priority observation had already claimed a session in this window,
// the winner takes that session over (same row, updated identity and stats)
// instead of creating a sibling. Returns the session and whether it is new.
func (r *Resolver) claimCanonical(winner models.Observation, group []models.Observation) (*models.Session, bool, error) {
	payload := sessionFromObservation(winner)

	// Reuse the session of any previously claimed competitor.
	for _, o := range group {
		if o.ClaimedBy != "" {
			payload.ID = o.ClaimedBy
			break
		}
	}

	existing, err := r.store.GetSessionByExternalID(winner.ExternalID)
	if err != nil {
		return nil, false, err
	}
	created := existing == nil && payload.ID == ""

	session, err := r.store.UpsertSession(payload)
	if err != nil {
		return nil, false, err
	}

	if err := r.store.ClaimObservation(winner.ExternalID, session.ID); err != nil {
		return nil, false, err
	}
	slog.Info("workout claimed", "external_id", winner.ExternalID,
		"source", winner.Source, "session", session.ID, "created", created)
	return session, created, nil
}

// sessionFromObservation builds the session payload the canonical
// observation contributes. The observation's source is the session's dedup
// priority; user-authored context (notes, effort) is never taken from it.
func sessionFromObservation(o models.Observation) *models.Session {
	end := o.EndTime
	return &models.Session{
		ExternalWorkoutID: o.ExternalID,
		StartTime:         o.StartTime,
		EndTime:           &end,
		RoomTemp:          o.RoomTemp,
		Source:            o.Source,
		AvgHR:             o.AvgHR,
		MaxHR:             o.MaxHR,
		Calories:          o.Calories,
		EffortRating:      models.EffortNone,
	}
}
