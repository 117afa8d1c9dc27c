package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ember/heatsync/internal/models"
)

// enqueueOutboxTx adds a pending mutation inside the caller's transaction.
// Re-enqueueing the same logical mutation coalesces onto the existing row,
// keeping its original queue position so per-record ordering holds.
func enqueueOutboxTx(tx *sql.Tx, recordType models.RecordType, recordID string, op models.MutationOp) error {
	_, err := tx.Exec(`
		INSERT INTO outbox (record_type, record_id, op, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(record_type, record_id, op) DO NOTHING`,
		string(recordType), recordID, string(op), fmtTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("enqueue outbox %s/%s: %w", recordType, recordID, err)
	}
	return nil
}

// EnqueueOutbox enqueues a pending mutation in its own transaction. Most
// writers never call this directly: session and baseline mutations enqueue as
// part of their own write transaction.
func (db *DB) EnqueueOutbox(recordType models.RecordType, recordID string, op models.MutationOp) error {
	return db.inTx(func(tx *sql.Tx) error {
		return enqueueOutboxTx(tx, recordType, recordID, op)
	})
}

// DrainOutbox returns up to limit pending items, oldest first. Items are not
// removed; delivery confirmation does that via AckOutbox.
func (db *DB) DrainOutbox(limit int) ([]models.OutboxItem, error) {
	rows, err := db.conn.Query(`
		SELECT id, record_type, record_id, op, created_at, attempts, COALESCE(last_error, '')
		FROM outbox ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("drain outbox: %w", err)
	}
	defer rows.Close()

	var items []models.OutboxItem
	for rows.Next() {
		var (
			item       models.OutboxItem
			rt, op, ts string
		)
		if err := rows.Scan(&item.ID, &rt, &item.RecordID, &op, &ts, &item.Attempts, &item.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox item: %w", err)
		}
		item.RecordType = models.RecordType(rt)
		item.Op = models.MutationOp(op)
		if item.CreatedAt, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("outbox item %d created_at: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// AckOutbox removes an item after the replica durably accepted it.
func (db *DB) AckOutbox(itemID int64) error {
	return db.withWriteLock(func() error {
		if _, err := db.conn.Exec(`DELETE FROM outbox WHERE id = ?`, itemID); err != nil {
			return fmt.Errorf("ack outbox %d: %w", itemID, err)
		}
		return nil
	})
}

// RequeueOutbox records a transient delivery failure: the item stays queued
// with the error and bumped attempt count, and the originating record is
// marked failed.
func (db *DB) RequeueOutbox(item models.OutboxItem, cause string) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
			cause, item.ID); err != nil {
			return fmt.Errorf("requeue outbox %d: %w", item.ID, err)
		}
		return markRecordTx(tx, item, models.SyncFailed, cause)
	})
}

// DropOutbox removes an item that can never succeed (validation rejection)
// and leaves the originating record pending with the diagnostic, for manual
// resolution.
func (db *DB) DropOutbox(item models.OutboxItem, cause string) error {
	return db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM outbox WHERE id = ?`, item.ID); err != nil {
			return fmt.Errorf("drop outbox %d: %w", item.ID, err)
		}
		return markRecordTx(tx, item, models.SyncPending, cause)
	})
}

func markRecordTx(tx *sql.Tx, item models.OutboxItem, state models.SyncState, cause string) error {
	var err error
	switch item.RecordType {
	case models.RecordSession:
		_, err = tx.Exec(`UPDATE sessions SET sync_state = ?, last_sync_error = ? WHERE id = ?`,
			string(state), cause, item.RecordID)
	case models.RecordBaseline:
		_, err = tx.Exec(`UPDATE baselines SET sync_state = ?, last_sync_error = ? WHERE bucket = ?`,
			string(state), cause, item.RecordID)
	default:
		return fmt.Errorf("unknown record type %q", item.RecordType)
	}
	if err != nil {
		return fmt.Errorf("mark %s/%s %s: %w", item.RecordType, item.RecordID, state, err)
	}
	return nil
}

// CountPendingOutbox returns the number of mutations awaiting propagation.
func (db *DB) CountPendingOutbox() (int64, error) {
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&count)
	return count, err
}
