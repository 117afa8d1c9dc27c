package db

import (
	"database/sql"
	"fmt"
	"time"
)

// SyncCursor is the device's position in the replica change feed.
type SyncCursor struct {
	DeviceID      string
	LastPulledSeq int64
	LastSyncAt    *time.Time
	SyncDisabled  bool
}

// GetSyncCursor returns the cursor, or nil when the device was never linked.
func (db *DB) GetSyncCursor() (*SyncCursor, error) {
	var (
		c        SyncCursor
		lastSync sql.NullString
		disabled int
	)
	err := db.conn.QueryRow(`
		SELECT device_id, last_pulled_seq, last_sync_at, sync_disabled
		FROM sync_state LIMIT 1`).Scan(&c.DeviceID, &c.LastPulledSeq, &lastSync, &disabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync cursor: %w", err)
	}
	if c.LastSyncAt, err = parseTimePtr(lastSync); err != nil {
		return nil, fmt.Errorf("sync cursor last_sync_at: %w", err)
	}
	c.SyncDisabled = disabled != 0
	return &c, nil
}

// InitSyncCursor creates or replaces the cursor for a freshly linked device.
func (db *DB) InitSyncCursor(deviceID string) error {
	return db.withWriteLock(func() error {
		if _, err := db.conn.Exec(`DELETE FROM sync_state`); err != nil {
			return err
		}
		_, err := db.conn.Exec(
			`INSERT INTO sync_state (device_id, last_pulled_seq, sync_disabled) VALUES (?, 0, 0)`,
			deviceID)
		return err
	})
}

// UpdatePulledSeq advances the pull cursor after a change batch was applied.
func (db *DB) UpdatePulledSeq(seq int64) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(
			`UPDATE sync_state SET last_pulled_seq = ?, last_sync_at = ?`,
			seq, fmtTime(time.Now().UTC()))
		return err
	})
}

// TouchSyncTime records a successful connectivity window without moving the
// cursor (push-only cycles).
func (db *DB) TouchSyncTime() error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE sync_state SET last_sync_at = ?`, fmtTime(time.Now().UTC()))
		return err
	})
}

// SetSyncDisabled toggles background propagation for the device.
func (db *DB) SetSyncDisabled(disabled bool) error {
	return db.withWriteLock(func() error {
		v := 0
		if disabled {
			v = 1
		}
		_, err := db.conn.Exec(`UPDATE sync_state SET sync_disabled = ?`, v)
		return err
	})
}
