package serverdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ember/heatsync/internal/sync"
)

// ApplyChange folds one pushed change into the record table. The operation is
// idempotent: replaying a change the replica already holds is accepted
// without effect, so at-least-once delivery never duplicates state.
//
// Conflict policy mirrors the devices: last writer wins on updated_at, and a
// stored tombstone survives any later upsert for the same record.
func (s *Store) ApplyChange(change *sync.ChangePayload) (sync.PushResult, error) {
	res := sync.PushResult{}
	if change.ID == "" {
		res.Reason = "missing record id"
		return res, nil
	}
	if change.RecordType != "session" && change.RecordType != "baseline" {
		res.Reason = fmt.Sprintf("unknown record type %q", change.RecordType)
		return res, nil
	}
	if change.UpdatedAt.IsZero() {
		res.Reason = "missing updated_at"
		return res, nil
	}
	if !change.Tombstone() && len(change.Fields) == 0 {
		res.Reason = "upsert without fields"
		return res, nil
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		curUpdated time.Time
		curDeleted sql.NullTime
		curSeq     int64
	)
	err = tx.QueryRow(`
		SELECT updated_at, deleted_at, server_seq FROM records
		WHERE record_type = $1 AND record_id = $2
		FOR UPDATE`,
		change.RecordType, change.ID).Scan(&curUpdated, &curDeleted, &curSeq)

	switch {
	case err == sql.ErrNoRows:
		err = tx.QueryRow(`
			INSERT INTO records (record_type, record_id, device_id, updated_at, deleted_at, fields)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING server_seq`,
			change.RecordType, change.ID, change.DeviceID,
			change.UpdatedAt, change.DeletedAt, fieldsArg(change)).Scan(&res.Seq)
		if err != nil {
			return res, fmt.Errorf("insert record: %w", err)
		}
	case err != nil:
		return res, fmt.Errorf("load record: %w", err)
	default:
		if curDeleted.Valid && !change.Tombstone() {
			// Tombstone wins regardless of timestamps.
			res.Accepted = true
			res.Seq = curSeq
			return res, tx.Commit()
		}
		if !change.UpdatedAt.After(curUpdated) {
			// Stale or duplicate; ack without applying.
			res.Accepted = true
			res.Seq = curSeq
			return res, tx.Commit()
		}
		err = tx.QueryRow(`
			UPDATE records
			SET device_id = $3, updated_at = $4, deleted_at = $5, fields = $6,
			    server_seq = nextval('record_seq'), received_at = now()
			WHERE record_type = $1 AND record_id = $2
			RETURNING server_seq`,
			change.RecordType, change.ID, change.DeviceID,
			change.UpdatedAt, change.DeletedAt, fieldsArg(change)).Scan(&res.Seq)
		if err != nil {
			return res, fmt.Errorf("update record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	res.Accepted = true
	return res, nil
}

// fieldsArg passes NULL rather than an empty JSON document for tombstones.
func fieldsArg(change *sync.ChangePayload) any {
	if len(change.Fields) == 0 {
		return nil
	}
	return []byte(change.Fields)
}

// ChangesSince returns up to limit records with server_seq > afterSeq,
// oldest first. Records last written by excludeDevice are skipped so a
// device never pulls back its own pushes.
func (s *Store) ChangesSince(afterSeq int64, limit int, excludeDevice string) (*sync.PullResponse, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	// Fetch one extra row to detect a further page.
	rows, err := s.conn.Query(`
		SELECT record_type, record_id, device_id, updated_at, deleted_at, fields, server_seq
		FROM records
		WHERE server_seq > $1 AND ($2 = '' OR device_id != $2)
		ORDER BY server_seq
		LIMIT $3`,
		afterSeq, excludeDevice, limit+1)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	resp := &sync.PullResponse{LastSeq: afterSeq}
	for rows.Next() {
		var (
			c       sync.ChangePayload
			deleted sql.NullTime
			fields  []byte
		)
		if err := rows.Scan(&c.RecordType, &c.ID, &c.DeviceID, &c.UpdatedAt,
			&deleted, &fields, &c.Seq); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if deleted.Valid {
			t := deleted.Time
			c.DeletedAt = &t
		}
		if len(fields) > 0 {
			c.Fields = fields
		}
		resp.Changes = append(resp.Changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}

	if len(resp.Changes) > limit {
		resp.Changes = resp.Changes[:limit]
		resp.HasMore = true
	}
	if n := len(resp.Changes); n > 0 {
		resp.LastSeq = resp.Changes[n-1].Seq
	}
	return resp, nil
}

// Stats summarizes the change feed for the status endpoint.
func (s *Store) Stats() (count int64, lastSeq int64, lastChange *time.Time, err error) {
	var last sql.NullTime
	var maxSeq sql.NullInt64
	err = s.conn.QueryRow(`
		SELECT COUNT(*), MAX(server_seq), MAX(received_at) FROM records`).
		Scan(&count, &maxSeq, &last)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("record stats: %w", err)
	}
	if maxSeq.Valid {
		lastSeq = maxSeq.Int64
	}
	if last.Valid {
		t := last.Time
		lastChange = &t
	}
	return count, lastSeq, lastChange, nil
}
