package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ember/heatsync/internal/db"
	"github.com/ember/heatsync/internal/models"
)

// ApplyRemoteChange applies one incoming payload to the local store. The
// pull loop and the peer relay receiver both funnel through here, so
// last-writer-wins, tombstone precedence and the external-id dedup invariant
// hold no matter which path delivered the record. Safe under redelivery.
// Returns true when the local store changed.
func ApplyRemoteChange(store *db.DB, change *ChangePayload) (bool, error) {
	switch change.RecordType {
	case string(models.RecordSession):
		return applyRemoteSession(store, change)
	case string(models.RecordBaseline):
		return applyRemoteBaseline(store, change)
	default:
		return false, fmt.Errorf("apply remote change: unknown record type %q", change.RecordType)
	}
}

func applyRemoteSession(store *db.DB, change *ChangePayload) (bool, error) {
	if change.ID == "" {
		return false, fmt.Errorf("apply remote session: missing id")
	}

	var s models.Session
	if len(change.Fields) > 0 {
		if err := json.Unmarshal(change.Fields, &s); err != nil {
			return false, fmt.Errorf("apply remote session %s: decode fields: %w", change.ID, err)
		}
		s.ID = change.ID
	} else if change.Tombstone() {
		s = models.Session{ID: change.ID}
	} else {
		return false, fmt.Errorf("apply remote session %s: upsert without fields", change.ID)
	}
	s.UpdatedAt = change.UpdatedAt
	if change.Tombstone() {
		s.DeletedAt = change.DeletedAt
		if s.StartTime.IsZero() {
			s.StartTime = change.UpdatedAt // placeholder, a tombstone's body is meaningless
		}
	}

	applied, err := store.ApplyRemoteSession(&s)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	// The remote resolver already suppressed these duplicates; record that
	// locally so our own resolver never resurfaces them.
	for _, ext := range s.RelatedIDs {
		obs, err := store.GetObservation(ext)
		if err != nil {
			return true, err
		}
		if obs != nil && !obs.Dismissed && obs.ClaimedBy == "" {
			if err := store.DismissObservation(ext, s.ID); err != nil {
				return true, err
			}
		}
	}
	if s.ExternalWorkoutID != "" && !s.Deleted() {
		obs, err := store.GetObservation(s.ExternalWorkoutID)
		if err != nil {
			return true, err
		}
		if obs != nil && obs.ClaimedBy == "" {
			// Claim under the local row, which may carry a different id than
			// the remote one when the external id matched an existing session.
			local, err := store.GetSessionByExternalID(s.ExternalWorkoutID)
			if err != nil {
				return true, err
			}
			if local != nil {
				if err := store.ClaimObservation(s.ExternalWorkoutID, local.ID); err != nil {
					return true, err
				}
			}
		}
	}

	slog.Debug("remote session applied", "id", change.ID, "tombstone", change.Tombstone())
	return true, nil
}

func applyRemoteBaseline(store *db.DB, change *ChangePayload) (bool, error) {
	var b models.Baseline
	if err := json.Unmarshal(change.Fields, &b); err != nil {
		return false, fmt.Errorf("apply remote baseline %s: decode fields: %w", change.ID, err)
	}
	b.Bucket = models.Bucket(change.ID)
	b.UpdatedAt = change.UpdatedAt
	if !models.IsValidBucket(b.Bucket) {
		return false, fmt.Errorf("apply remote baseline: invalid bucket %q", change.ID)
	}
	return store.ApplyRemoteBaseline(&b)
}

// BuildSessionChange encodes a session into its wire payload. Tombstoned
// sessions carry only id, updated_at, deleted_at and the external workout id;
// the external id travels so a device that created its own row for the same
// workout resolves the delete onto that row instead of filing an orphan
// tombstone under a foreign id.
func BuildSessionChange(s *models.Session, deviceID string) (*ChangePayload, error) {
	change := &ChangePayload{
		RecordType: string(models.RecordSession),
		ID:         s.ID,
		UpdatedAt:  s.UpdatedAt,
		DeviceID:   deviceID,
	}
	if s.Deleted() {
		change.DeletedAt = s.DeletedAt
		if s.ExternalWorkoutID != "" {
			fields, err := json.Marshal(map[string]string{
				"external_workout_id": s.ExternalWorkoutID,
			})
			if err != nil {
				return nil, fmt.Errorf("encode tombstone %s: %w", s.ID, err)
			}
			change.Fields = fields
		}
		return change, nil
	}

	fields, err := json.Marshal(wireSession(s))
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	change.Fields = fields
	return change, nil
}

// BuildBaselineChange encodes a baseline into its wire payload.
func BuildBaselineChange(b *models.Baseline, deviceID string) (*ChangePayload, error) {
	fields, err := json.Marshal(wireBaseline(b))
	if err != nil {
		return nil, fmt.Errorf("encode baseline %s: %w", b.Bucket, err)
	}
	return &ChangePayload{
		RecordType: string(models.RecordBaseline),
		ID:         string(b.Bucket),
		UpdatedAt:  b.UpdatedAt,
		DeviceID:   deviceID,
		Fields:     fields,
	}, nil
}

// wireSession strips device-local state (sync bookkeeping) from the payload;
// updated_at travels in the envelope.
func wireSession(s *models.Session) *models.Session {
	w := *s
	w.SyncState = ""
	w.LastSyncError = ""
	w.UpdatedAt = time.Time{}
	return &w
}

func wireBaseline(b *models.Baseline) *models.Baseline {
	w := *b
	w.SyncState = ""
	w.LastSyncError = ""
	w.UpdatedAt = time.Time{}
	return &w
}
