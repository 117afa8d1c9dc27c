package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ember/heatsync/internal/models"
)

const observationCols = `external_id, start_time, end_time, source, avg_hr, max_hr,
	calories, room_temp, observed_at, claimed_by, dismissed`

func scanObservation(r rowScanner) (*models.Observation, error) {
	var (
		o                      models.Observation
		startStr, endStr, obs  string
		roomTemp               sql.NullInt64
		sourceRank, dismissed  int
	)
	err := r.Scan(&o.ExternalID, &startStr, &endStr, &sourceRank, &o.AvgHR, &o.MaxHR,
		&o.Calories, &roomTemp, &obs, &o.ClaimedBy, &dismissed)
	if err != nil {
		return nil, err
	}
	if o.StartTime, err = parseTime(startStr); err != nil {
		return nil, fmt.Errorf("observation %s start_time: %w", o.ExternalID, err)
	}
	if o.EndTime, err = parseTime(endStr); err != nil {
		return nil, fmt.Errorf("observation %s end_time: %w", o.ExternalID, err)
	}
	if o.ObservedAt, err = parseTime(obs); err != nil {
		return nil, fmt.Errorf("observation %s observed_at: %w", o.ExternalID, err)
	}
	if roomTemp.Valid {
		v := int(roomTemp.Int64)
		o.RoomTemp = &v
	}
	o.Source = models.ParseSource(sourceRank)
	o.Dismissed = dismissed != 0
	return &o, nil
}

// RecordObservation stores a raw external workout in the ledger. Recording an
// already-seen external id is a no-op; the first sighting's decision stands.
func (db *DB) RecordObservation(o *models.Observation) error {
	return db.withWriteLock(func() error {
		observedAt := o.ObservedAt
		if observedAt.IsZero() {
			observedAt = time.Now().UTC()
		}
		_, err := db.conn.Exec(`
			INSERT OR IGNORE INTO observations
				(external_id, start_time, end_time, source, avg_hr, max_hr, calories, room_temp, observed_at, claimed_by, dismissed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0)`,
			o.ExternalID, fmtTime(o.StartTime), fmtTime(o.EndTime), int(o.Source),
			o.AvgHR, o.MaxHR, o.Calories, nullInt(o.RoomTemp), fmtTime(observedAt))
		if err != nil {
			return fmt.Errorf("record observation %s: %w", o.ExternalID, err)
		}
		return nil
	})
}

// GetObservation returns an observation by external id, nil when unseen.
func (db *DB) GetObservation(externalID string) (*models.Observation, error) {
	row := db.conn.QueryRow(`SELECT `+observationCols+` FROM observations WHERE external_id = ?`, externalID)
	o, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get observation %s: %w", externalID, err)
	}
	return o, nil
}

// ListUnclaimedOverlapping returns unclaimed, undismissed observations whose
// time range overlaps [start-slack, end+slack], earliest start first.
func (db *DB) ListUnclaimedOverlapping(start, end time.Time, slack time.Duration) ([]models.Observation, error) {
	lo := start.Add(-slack)
	hi := end.Add(slack)
	rows, err := db.conn.Query(`
		SELECT `+observationCols+` FROM observations
		WHERE claimed_by = '' AND dismissed = 0
		  AND start_time <= ? AND end_time >= ?
		ORDER BY start_time ASC, external_id ASC`,
		fmtTime(hi), fmtTime(lo))
	if err != nil {
		return nil, fmt.Errorf("list overlapping observations: %w", err)
	}
	defer rows.Close()

	var out []models.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ClaimObservation marks an observation canonical for the given session.
func (db *DB) ClaimObservation(externalID, sessionID string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE observations SET claimed_by = ?, dismissed = 0 WHERE external_id = ?`,
			sessionID, externalID)
		if err != nil {
			return fmt.Errorf("claim observation %s: %w", externalID, err)
		}
		return nil
	})
}

// DismissObservation suppresses a duplicate observation; it will never be
// surfaced again. claimedBy records the canonical session that absorbed it.
func (db *DB) DismissObservation(externalID, claimedBy string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE observations SET dismissed = 1, claimed_by = ? WHERE external_id = ?`,
			claimedBy, externalID)
		if err != nil {
			return fmt.Errorf("dismiss observation %s: %w", externalID, err)
		}
		return nil
	})
}
