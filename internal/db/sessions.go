package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ember/heatsync/internal/models"
)

// NewSessionID generates a new session identifier.
func NewSessionID() string {
	return sessionIDPrefix + uuid.NewString()
}

const sessionCols = `id, external_workout_id, start_time, end_time, duration_override,
	room_temp, session_type, notes, narrative, effort_rating, source,
	avg_hr, max_hr, calories, related_ids, created_at, updated_at,
	sync_state, last_sync_error, deleted_at`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*models.Session, error) {
	var (
		s                              models.Session
		endTime, deletedAt             sql.NullString
		durationOverride, roomTemp     sql.NullInt64
		relatedJSON, startStr          string
		createdStr, updatedStr         string
		sourceRank                     int
		lastErr                        sql.NullString
	)
	err := r.Scan(&s.ID, &s.ExternalWorkoutID, &startStr, &endTime, &durationOverride,
		&roomTemp, &s.SessionType, &s.Notes, &s.Narrative, &s.EffortRating, &sourceRank,
		&s.AvgHR, &s.MaxHR, &s.Calories, &relatedJSON, &createdStr, &updatedStr,
		&s.SyncState, &lastErr, &deletedAt)
	if err != nil {
		return nil, err
	}

	if s.StartTime, err = parseTime(startStr); err != nil {
		return nil, fmt.Errorf("session %s start_time: %w", s.ID, err)
	}
	if s.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, fmt.Errorf("session %s created_at: %w", s.ID, err)
	}
	if s.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, fmt.Errorf("session %s updated_at: %w", s.ID, err)
	}
	if s.EndTime, err = parseTimePtr(endTime); err != nil {
		return nil, fmt.Errorf("session %s end_time: %w", s.ID, err)
	}
	if s.DeletedAt, err = parseTimePtr(deletedAt); err != nil {
		return nil, fmt.Errorf("session %s deleted_at: %w", s.ID, err)
	}
	if durationOverride.Valid {
		v := int(durationOverride.Int64)
		s.DurationOverride = &v
	}
	if roomTemp.Valid {
		v := int(roomTemp.Int64)
		s.RoomTemp = &v
	}
	s.Source = models.ParseSource(sourceRank)
	if lastErr.Valid {
		s.LastSyncError = lastErr.String
	}
	if err := json.Unmarshal([]byte(relatedJSON), &s.RelatedIDs); err != nil {
		return nil, fmt.Errorf("session %s related_ids: %w", s.ID, err)
	}
	return &s, nil
}

func encodeRelated(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(ids)
	return string(data)
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// GetSession returns a session by id, nil when absent.
func (db *DB) GetSession(id string) (*models.Session, error) {
	row := db.conn.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}

// GetSessionByExternalID returns the live (non-deleted) session claiming the
// given external workout id, nil when none exists.
func (db *DB) GetSessionByExternalID(externalID string) (*models.Session, error) {
	if externalID == "" {
		return nil, nil
	}
	row := db.conn.QueryRow(
		`SELECT `+sessionCols+` FROM sessions WHERE external_workout_id = ? AND deleted_at IS NULL`,
		externalID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by external id %s: %w", externalID, err)
	}
	return s, nil
}

// ListActiveSessions returns all non-tombstoned sessions, newest start first.
func (db *DB) ListActiveSessions() ([]models.Session, error) {
	return db.listSessions(`WHERE deleted_at IS NULL ORDER BY start_time DESC`)
}

// ListAllSessions returns every session including tombstones, in created order.
// Used by baseline rebuild and diagnostics.
func (db *DB) ListAllSessions() ([]models.Session, error) {
	return db.listSessions(`ORDER BY created_at ASC`)
}

func (db *DB) listSessions(tail string) ([]models.Session, error) {
	rows, err := db.conn.Query(`SELECT ` + sessionCols + ` FROM sessions ` + tail)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// UpsertSession records a local-origin mutation. When the incoming record
// resolves to an existing live row (by id, or by external workout id), the
// caller-supplied fields are merged into that row; zero-valued fields leave
// the stored value untouched and source only upgrades in trust. Otherwise a new
// row is inserted. Either way updated_at is bumped, a previously synced row is
// demoted to pending, and an upsert outbox item is enqueued in the same
// transaction. Returns the stored session.
func (db *DB) UpsertSession(s *models.Session) (*models.Session, error) {
	var stored *models.Session
	err := db.inTx(func(tx *sql.Tx) error {
		existing, err := findSessionTx(tx, s.ID, s.ExternalWorkoutID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if existing == nil {
			ins := *s
			if ins.ID == "" {
				ins.ID = NewSessionID()
			}
			if ins.EffortRating == "" {
				ins.EffortRating = models.EffortNone
			}
			ins.CreatedAt = now
			ins.UpdatedAt = now
			ins.SyncState = models.SyncPending
			ins.LastSyncError = ""
			if err := insertSessionTx(tx, &ins); err != nil {
				return err
			}
			stored = &ins
		} else {
			merged := mergeSession(existing, s)
			merged.UpdatedAt = now
			merged.SyncState = models.SyncPending
			merged.LastSyncError = ""
			if err := updateSessionTx(tx, merged); err != nil {
				return err
			}
			stored = merged
		}

		return enqueueOutboxTx(tx, models.RecordSession, stored.ID, models.OpUpsert)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// SoftDeleteSession tombstones a session and enqueues the delete for
// propagation. The row is never erased here; physical removal waits until the
// replica has acknowledged the tombstone. Deleting an already-deleted or
// unknown session is a no-op.
func (db *DB) SoftDeleteSession(id string) error {
	return db.inTx(func(tx *sql.Tx) error {
		existing, err := findSessionTx(tx, id, "")
		if err != nil {
			return err
		}
		if existing == nil || existing.Deleted() {
			return nil
		}

		now := time.Now().UTC()
		_, err = tx.Exec(
			`UPDATE sessions SET deleted_at = ?, updated_at = ?, sync_state = ?, last_sync_error = '' WHERE id = ?`,
			fmtTime(now), fmtTime(now), string(models.SyncPending), id)
		if err != nil {
			return fmt.Errorf("soft delete session %s: %w", id, err)
		}
		return enqueueOutboxTx(tx, models.RecordSession, id, models.OpDelete)
	})
}

// AddRelatedIDs merges the given external ids into a session's suppressed
// duplicate set. Counts as a mutation: bumps updated_at and re-enqueues.
func (db *DB) AddRelatedIDs(sessionID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return db.inTx(func(tx *sql.Tx) error {
		existing, err := findSessionTx(tx, sessionID, "")
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("add related ids: session %s not found", sessionID)
		}

		merged := unionIDs(existing.RelatedIDs, ids)
		if len(merged) == len(existing.RelatedIDs) {
			return nil
		}

		now := time.Now().UTC()
		_, err = tx.Exec(
			`UPDATE sessions SET related_ids = ?, updated_at = ?, sync_state = ?, last_sync_error = '' WHERE id = ?`,
			encodeRelated(merged), fmtTime(now), string(models.SyncPending), sessionID)
		if err != nil {
			return fmt.Errorf("update related ids %s: %w", sessionID, err)
		}
		return enqueueOutboxTx(tx, models.RecordSession, sessionID, models.OpUpsert)
	})
}

// ApplyRemoteSession applies a session received from the replica or the peer
// relay. Record-level last-writer-wins: the remote version replaces the local
// row wholesale when its updated_at is newer, except a local tombstone always
// survives. The applied row is marked synced and nothing is re-enqueued.
// Returns true when the remote version was applied.
func (db *DB) ApplyRemoteSession(remote *models.Session) (bool, error) {
	applied := false
	err := db.inTx(func(tx *sql.Tx) error {
		existing, err := findSessionAnyTx(tx, remote.ID, remote.ExternalWorkoutID)
		if err != nil {
			return err
		}

		if existing == nil {
			// Unknown records are stored as-is. A tombstone for a record we
			// never had is kept too, so the delete cannot resurrect through
			// a later stale upsert.
			ins := *remote
			if ins.ID == "" {
				ins.ID = NewSessionID()
			}
			ins.SyncState = models.SyncSynced
			ins.LastSyncError = ""
			if ins.CreatedAt.IsZero() {
				ins.CreatedAt = ins.UpdatedAt
			}
			if err := insertSessionTx(tx, &ins); err != nil {
				return err
			}
			applied = true
			return nil
		}

		// Tombstone wins regardless of timestamps, in both directions.
		if existing.Deleted() && !remote.Deleted() {
			return nil
		}
		if !remote.Deleted() && !remote.UpdatedAt.After(existing.UpdatedAt) {
			return nil // local copy is as new or newer
		}

		upd := *remote
		upd.ID = existing.ID // external id is the cross-device key; keep local identity
		upd.CreatedAt = existing.CreatedAt
		if remote.Deleted() && existing.Deleted() {
			upd.DeletedAt = existing.DeletedAt
		}
		upd.SyncState = models.SyncSynced
		upd.LastSyncError = ""
		if err := updateSessionTx(tx, &upd); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// findSessionTx resolves a session by id first, then by live external id.
func findSessionTx(tx *sql.Tx, id, externalID string) (*models.Session, error) {
	if s, err := sessionByIDTx(tx, id); s != nil || err != nil {
		return s, err
	}
	if externalID != "" {
		row := tx.QueryRow(
			`SELECT `+sessionCols+` FROM sessions WHERE external_workout_id = ? AND deleted_at IS NULL`,
			externalID)
		s, err := scanSession(row)
		if err == nil {
			return s, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("find session by external id %s: %w", externalID, err)
		}
	}
	return nil, nil
}

// findSessionAnyTx resolves like findSessionTx but matches tombstoned rows by
// external id too, live row first. Remote applies resolve through here: two
// devices that independently created a row for the same external workout hold
// it under different ids, so a tombstone filed under the peer's id must land
// on the local row, and once a workout is tombstoned a peer's surviving live
// copy must not reinsert it.
func findSessionAnyTx(tx *sql.Tx, id, externalID string) (*models.Session, error) {
	if s, err := sessionByIDTx(tx, id); s != nil || err != nil {
		return s, err
	}
	if externalID != "" {
		row := tx.QueryRow(
			`SELECT `+sessionCols+` FROM sessions WHERE external_workout_id = ?
			 ORDER BY (deleted_at IS NULL) DESC, updated_at DESC LIMIT 1`,
			externalID)
		s, err := scanSession(row)
		if err == nil {
			return s, nil
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("find session by external id %s: %w", externalID, err)
		}
	}
	return nil, nil
}

func sessionByIDTx(tx *sql.Tx, id string) (*models.Session, error) {
	if id == "" {
		return nil, nil
	}
	row := tx.QueryRow(`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err == nil {
		return s, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("find session %s: %w", id, err)
	}
	return nil, nil
}

func insertSessionTx(tx *sql.Tx, s *models.Session) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (`+sessionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ExternalWorkoutID, fmtTime(s.StartTime), fmtTimePtr(s.EndTime),
		nullInt(s.DurationOverride), nullInt(s.RoomTemp), s.SessionType, s.Notes,
		s.Narrative, string(s.EffortRating), int(s.Source), s.AvgHR, s.MaxHR,
		s.Calories, encodeRelated(s.RelatedIDs), fmtTime(s.CreatedAt),
		fmtTime(s.UpdatedAt), string(s.SyncState), s.LastSyncError,
		fmtTimePtr(s.DeletedAt))
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

func updateSessionTx(tx *sql.Tx, s *models.Session) error {
	_, err := tx.Exec(`
		UPDATE sessions SET external_workout_id = ?, start_time = ?, end_time = ?,
			duration_override = ?, room_temp = ?, session_type = ?, notes = ?,
			narrative = ?, effort_rating = ?, source = ?, avg_hr = ?, max_hr = ?,
			calories = ?, related_ids = ?, updated_at = ?, sync_state = ?,
			last_sync_error = ?, deleted_at = ?
		WHERE id = ?`,
		s.ExternalWorkoutID, fmtTime(s.StartTime), fmtTimePtr(s.EndTime),
		nullInt(s.DurationOverride), nullInt(s.RoomTemp), s.SessionType, s.Notes,
		s.Narrative, string(s.EffortRating), int(s.Source), s.AvgHR, s.MaxHR,
		s.Calories, encodeRelated(s.RelatedIDs), fmtTime(s.UpdatedAt),
		string(s.SyncState), s.LastSyncError, fmtTimePtr(s.DeletedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	return nil
}

// mergeSession overlays the caller-supplied fields of in onto base.
func mergeSession(base, in *models.Session) *models.Session {
	m := *base
	if in.ExternalWorkoutID != "" {
		m.ExternalWorkoutID = in.ExternalWorkoutID
	}
	if !in.StartTime.IsZero() {
		m.StartTime = in.StartTime
	}
	if in.EndTime != nil {
		m.EndTime = in.EndTime
	}
	if in.DurationOverride != nil {
		m.DurationOverride = in.DurationOverride
	}
	if in.RoomTemp != nil {
		m.RoomTemp = in.RoomTemp
	}
	if in.SessionType != "" {
		m.SessionType = in.SessionType
	}
	if in.Notes != "" {
		m.Notes = in.Notes
	}
	if in.Narrative != "" {
		m.Narrative = in.Narrative
	}
	if in.EffortRating != "" && in.EffortRating != models.EffortNone {
		m.EffortRating = in.EffortRating
	}
	if in.AvgHR > 0 {
		m.AvgHR = in.AvgHR
	}
	if in.MaxHR > 0 {
		m.MaxHR = in.MaxHR
	}
	if in.Calories > 0 {
		m.Calories = in.Calories
	}
	// Source only ever upgrades toward higher trust (lower rank).
	if in.Source < m.Source {
		m.Source = in.Source
	}
	m.RelatedIDs = unionIDs(base.RelatedIDs, in.RelatedIDs)
	return &m
}

func unionIDs(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	for _, id := range a {
		seen[id] = true
	}
	out := append([]string(nil), a...)
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// --- sync state transitions (never touch updated_at) ---

// MarkSessionUploading moves pending/failed sessions into uploading before a
// push attempt.
func (db *DB) MarkSessionUploading(id string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE sessions SET sync_state = ? WHERE id = ? AND sync_state IN (?, ?)`,
			string(models.SyncUploading), id, string(models.SyncPending), string(models.SyncFailed))
		return err
	})
}

// MarkSessionSynced completes a push. Only an uploading session is promoted,
// so a mutation that raced the upload (and demoted the row to pending) keeps
// its pending state and will be pushed again.
func (db *DB) MarkSessionSynced(id string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE sessions SET sync_state = ?, last_sync_error = '' WHERE id = ? AND sync_state = ?`,
			string(models.SyncSynced), id, string(models.SyncUploading))
		return err
	})
}

// MarkSessionFailed records a transient delivery failure.
func (db *DB) MarkSessionFailed(id, cause string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE sessions SET sync_state = ?, last_sync_error = ? WHERE id = ?`,
			string(models.SyncFailed), cause, id)
		return err
	})
}

// MarkSessionPending returns a session to pending, keeping the diagnostic.
// Used when a validation rejection drops the outbox item and the record is
// left for manual resolution.
func (db *DB) MarkSessionPending(id, cause string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE sessions SET sync_state = ?, last_sync_error = ? WHERE id = ?`,
			string(models.SyncPending), cause, id)
		return err
	})
}

// PurgeSyncedTombstones physically removes tombstoned sessions whose delete
// the replica has acknowledged (synced, nothing left in the outbox).
func (db *DB) PurgeSyncedTombstones() (int64, error) {
	var n int64
	err := db.withWriteLock(func() error {
		res, err := db.conn.Exec(`
			DELETE FROM sessions
			WHERE deleted_at IS NOT NULL AND sync_state = ?
			  AND id NOT IN (SELECT record_id FROM outbox WHERE record_type = ?)`,
			string(models.SyncSynced), string(models.RecordSession))
		if err != nil {
			return fmt.Errorf("purge tombstones: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
